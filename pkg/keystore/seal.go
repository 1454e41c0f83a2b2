package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32 // AES-256

	// argon2id parameters for deriving the sealing key from the passphrase
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
)

// sealer encrypts key material with AES-256-GCM under a passphrase-derived key
type sealer struct {
	key []byte
}

// newSealer derives the sealing key. The passphrase is read, never retained.
func newSealer(passphrase, salt []byte) (*sealer, error) {
	if len(passphrase) == 0 {
		return nil, fmt.Errorf("passphrase cannot be empty")
	}
	if len(salt) != saltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", saltSize, len(salt))
	}
	return &sealer{
		key: argon2.IDKey(passphrase, salt, kdfTime, kdfMemory, kdfThreads, keySize),
	}, nil
}

// seal returns nonce || ciphertext
func (s *sealer) seal(plaintext, aad []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, aad), nil
}

func (s *sealer) open(sealed, aad []byte) ([]byte, error) {
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt: %w", err)
	}
	return plaintext, nil
}

func (s *sealer) gcm() (cipher.AEAD, error) {
	if s.key == nil {
		return nil, fmt.Errorf("sealer is closed")
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

func (s *sealer) close() {
	Zero(s.key)
	s.key = nil
}
