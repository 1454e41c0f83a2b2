package keystore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
)

const (
	saltFile   = "keystore.salt"
	checkFile  = "keystore.check"
	keySuffix  = ".key"
	checkPlain = "holonode-keystore-v1"
)

// Signer signs data with the private key behind an agent public key
type Signer interface {
	Sign(ctx context.Context, agent types.AgentPubKey, data []byte) ([]byte, error)
}

// Keystore is a Signer that can also mint new agent keys
type Keystore interface {
	Signer
	Generate(ctx context.Context) (types.AgentPubKey, error)
	Close() error
}

// sealedKey is the on-disk form of one agent key
type sealedKey struct {
	Version int    `codec:"version"`
	PubKey  []byte `codec:"pub_key"`
	Sealed  []byte `codec:"sealed"`
}

// Local is a directory-backed keystore holding one sealed file per agent key.
// Several processes sharing the passphrase may open the same directory; keys
// written by one become visible to the others on the next lookup.
type Local struct {
	root string

	mu     sync.RWMutex
	sealer *sealer
	keys   map[string]ed25519.PrivateKey
}

// Open unlocks the keystore at root. With create set, a missing keystore is
// initialized; otherwise a missing keystore is an error. The passphrase is
// not retained; callers zero it (see WithPassphrase).
func Open(root string, passphrase []byte, create bool) (*Local, error) {
	salt, err := os.ReadFile(filepath.Join(root, saltFile))
	switch {
	case errors.Is(err, fs.ErrNotExist) && create:
		return initialize(root, passphrase)
	case err != nil:
		return nil, fmt.Errorf("failed to read keystore at %s: %w", root, err)
	}

	s, err := newSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}

	check, err := os.ReadFile(filepath.Join(root, checkFile))
	if err != nil {
		s.close()
		return nil, fmt.Errorf("failed to read keystore check: %w", err)
	}
	plain, err := s.open(check, []byte(checkFile))
	if err != nil || string(plain) != checkPlain {
		s.close()
		return nil, fmt.Errorf("keystore at %s: wrong passphrase", root)
	}

	return &Local{root: root, sealer: s, keys: make(map[string]ed25519.PrivateKey)}, nil
}

func initialize(root string, passphrase []byte) (*Local, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	s, err := newSealer(passphrase, salt)
	if err != nil {
		return nil, err
	}

	check, err := s.seal([]byte(checkPlain), []byte(checkFile))
	if err != nil {
		s.close()
		return nil, err
	}
	// check first, salt last: the salt file marks the keystore as initialized
	if err := writeFile(filepath.Join(root, checkFile), check); err != nil {
		s.close()
		return nil, err
	}
	if err := writeFile(filepath.Join(root, saltFile), salt); err != nil {
		s.close()
		return nil, err
	}

	return &Local{root: root, sealer: s, keys: make(map[string]ed25519.PrivateKey)}, nil
}

// Root returns the keystore directory
func (l *Local) Root() string {
	return l.root
}

// Generate creates and persists a new agent key
func (l *Local) Generate(ctx context.Context) (types.AgentPubKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate agent key: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealer == nil {
		return nil, types.Errorf(types.KindSigningFailed, "generate key", "keystore is closed")
	}

	agent := types.AgentPubKey(pub)
	sealed, err := l.sealer.seal(priv.Seed(), pub)
	if err != nil {
		return nil, err
	}
	data, err := wire.Marshal(&sealedKey{Version: 1, PubKey: pub, Sealed: sealed})
	if err != nil {
		return nil, err
	}
	if err := writeFile(l.keyPath(agent), data); err != nil {
		return nil, err
	}

	l.keys[agent.String()] = priv
	return agent, nil
}

// Sign signs data with the agent's private key.
// Unknown keys and a closed keystore fail with SigningFailed.
func (l *Local) Sign(ctx context.Context, agent types.AgentPubKey, data []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign", err)
	}

	priv, err := l.privateKey(agent)
	if err != nil {
		return nil, err
	}
	return ed25519.Sign(priv, data), nil
}

// Agents lists the public keys held by the keystore
func (l *Local) Agents() ([]types.AgentPubKey, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return nil, fmt.Errorf("failed to list keystore: %w", err)
	}
	var agents []types.AgentPubKey
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, keySuffix) {
			continue
		}
		agent, err := types.ParseAgentPubKey(strings.TrimSuffix(name, keySuffix))
		if err != nil {
			continue
		}
		agents = append(agents, agent)
	}
	return agents, nil
}

// Close forgets all unlocked key material
func (l *Local) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealer != nil {
		l.sealer.close()
		l.sealer = nil
	}
	for k, priv := range l.keys {
		Zero(priv)
		delete(l.keys, k)
	}
	return nil
}

func (l *Local) privateKey(agent types.AgentPubKey) (ed25519.PrivateKey, error) {
	id := agent.String()

	l.mu.RLock()
	priv, ok := l.keys[id]
	closed := l.sealer == nil
	l.mu.RUnlock()

	if closed {
		return nil, types.Errorf(types.KindSigningFailed, "sign", "keystore is closed")
	}
	if ok {
		return priv, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.sealer == nil {
		return nil, types.Errorf(types.KindSigningFailed, "sign", "keystore is closed")
	}
	if priv, ok := l.keys[id]; ok {
		return priv, nil
	}

	data, err := os.ReadFile(l.keyPath(agent))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, types.Errorf(types.KindSigningFailed, "sign", "unknown agent key %s", id)
	}
	if err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign", err)
	}

	var sk sealedKey
	if err := wire.Unmarshal(data, &sk); err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign", fmt.Errorf("malformed key file: %w", err))
	}
	seed, err := l.sealer.open(sk.Sealed, sk.PubKey)
	if err != nil {
		return nil, types.Wrap(types.KindSigningFailed, "sign", err)
	}
	defer Zero(seed)
	if len(seed) != ed25519.SeedSize {
		return nil, types.Errorf(types.KindSigningFailed, "sign", "key file for %s is corrupt", id)
	}

	priv = ed25519.NewKeyFromSeed(seed)
	if !agent.Equal(types.AgentPubKey(priv.Public().(ed25519.PublicKey))) {
		Zero(priv)
		return nil, types.Errorf(types.KindSigningFailed, "sign", "key file for %s holds a different key", id)
	}
	l.keys[id] = priv
	return priv, nil
}

func (l *Local) keyPath(agent types.AgentPubKey) string {
	return filepath.Join(l.root, agent.String()+keySuffix)
}

func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// Unavailable is a Keystore that refuses every operation
type Unavailable struct {
	Reason string
}

func (u Unavailable) Sign(ctx context.Context, agent types.AgentPubKey, data []byte) ([]byte, error) {
	return nil, types.Errorf(types.KindSigningFailed, "sign", "keystore unavailable: %s", u.Reason)
}

func (u Unavailable) Generate(ctx context.Context) (types.AgentPubKey, error) {
	return nil, types.Errorf(types.KindSigningFailed, "generate key", "keystore unavailable: %s", u.Reason)
}

func (u Unavailable) Close() error {
	return nil
}

// OpenConfigured opens the keystore a node config points at. An in-process
// keystore is created on first use and failures are returned. An external
// keystore that cannot be opened yields Unavailable, so the node still starts
// and every signature fails with SigningFailed.
func OpenConfigured(cfg types.KeystoreConfig, passphrase []byte) (Keystore, error) {
	switch cfg.Mode {
	case types.KeystoreInProcess:
		return Open(cfg.Root, passphrase, true)
	case types.KeystoreExternal:
		ks, err := Open(cfg.Root, passphrase, false)
		if err != nil {
			return Unavailable{Reason: err.Error()}, nil
		}
		return ks, nil
	default:
		return nil, fmt.Errorf("unknown keystore mode %q", cfg.Mode)
	}
}
