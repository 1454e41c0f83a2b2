package zomecall

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"golang.org/x/crypto/blake2b"
)

const (
	// DefaultExpiryWindow bounds how long a signed call stays valid
	DefaultExpiryWindow = 5 * time.Minute

	// NonceSize is the length of the per-call random nonce
	NonceSize = 32
)

// SignerConfig wires a Signer. Zero values use the system clock, crypto/rand
// and DefaultExpiryWindow.
type SignerConfig struct {
	Keystore keystore.Signer
	Now      func() time.Time
	Rand     io.Reader
	Window   time.Duration
}

// Signer builds signed, replay-protected zome call envelopes
type Signer struct {
	keystore keystore.Signer
	now      func() time.Time
	rand     io.Reader
	window   time.Duration
}

// NewSigner creates a signer
func NewSigner(cfg SignerConfig) *Signer {
	s := &Signer{
		keystore: cfg.Keystore,
		now:      cfg.Now,
		rand:     cfg.Rand,
		window:   cfg.Window,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rand == nil {
		s.rand = rand.Reader
	}
	if s.window <= 0 || s.window > DefaultExpiryWindow {
		s.window = DefaultExpiryWindow
	}
	return s
}

// Sign encodes payload with the host encoding and returns an envelope with a
// fresh nonce, an expiry one window from now, and an ed25519 signature by
// provenance over the unsigned envelope.
func (s *Signer) Sign(ctx context.Context, cell types.CellID, zome, fn string, payload interface{}, provenance types.AgentPubKey) (*types.ZomeCall, error) {
	if s.keystore == nil {
		return nil, types.Errorf(types.KindSigningFailed, "sign call", "no keystore configured")
	}

	encoded, err := wire.Encode(payload)
	if err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign call", err)
	}

	nonce := make([]byte, NonceSize)
	if _, err := io.ReadFull(s.rand, nonce); err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign call", fmt.Errorf("failed to generate nonce: %w", err))
	}

	call := &types.ZomeCall{
		ZomeCallUnsigned: types.ZomeCallUnsigned{
			CellID:     cell,
			ZomeName:   zome,
			FnName:     fn,
			Payload:    encoded,
			Provenance: provenance,
			Nonce:      nonce,
			ExpiresAt:  s.now().Add(s.window).UnixMicro(),
		},
	}

	digest, err := SigningDigest(&call.ZomeCallUnsigned)
	if err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign call", err)
	}
	sig, err := s.keystore.Sign(ctx, provenance, digest)
	if err != nil {
		if types.KindOf(err) == types.KindSigningFailed {
			return nil, err
		}
		return nil, types.Wrap(types.KindSigningFailed, "sign call", err)
	}
	call.Signature = sig
	return call, nil
}

// SigningDigest is the blake2b-256 hash of the msgpack-encoded unsigned call
func SigningDigest(unsigned *types.ZomeCallUnsigned) ([]byte, error) {
	data, err := wire.Marshal(unsigned)
	if err != nil {
		return nil, fmt.Errorf("failed to encode unsigned call: %w", err)
	}
	sum := blake2b.Sum256(data)
	return sum[:], nil
}

// Verify checks the envelope's signature against its provenance
func Verify(call *types.ZomeCall) error {
	if len(call.Provenance) != ed25519.PublicKeySize {
		return errors.New("provenance is not an ed25519 public key")
	}
	if len(call.Signature) != ed25519.SignatureSize {
		return errors.New("malformed signature")
	}
	digest, err := SigningDigest(&call.ZomeCallUnsigned)
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(call.Provenance), digest, call.Signature) {
		return errors.New("signature does not match provenance")
	}
	return nil
}
