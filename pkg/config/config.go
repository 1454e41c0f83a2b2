package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/ports"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config document written under every storage root
	FileName = "holonode.yaml"

	// DefaultBootstrapURL is the bootstrap service handed to new nodes
	DefaultBootstrapURL = "https://bootstrap.holo.host"

	// DefaultRelayURL is the signal/relay endpoint handed to new nodes
	DefaultRelayURL = "wss://signal.holo.host"

	environmentDir = "conductor"
	keystoreDir    = "keystore"
)

// Options tune how new configurations are synthesized
type Options struct {
	// Host is the address probed for a free admin port
	Host string
	// PortRange bounds the admin port search. Nil selects ports.DefaultRange;
	// a non-nil empty range is kept and fails with ResourceExhausted.
	PortRange *ports.Range
	// KeystoreMode defaults to in_process
	KeystoreMode types.KeystoreMode
	// ExternalKeystoreRoot is required when KeystoreMode is external
	ExternalKeystoreRoot string
	// Network overrides the default endpoints when non-empty
	Network types.NetworkConfig
}

// Store loads and creates node configuration documents
type Store struct {
	opts      Options
	portRange ports.Range
	allocator *ports.Allocator
	logger    zerolog.Logger
}

// NewStore creates a config store
func NewStore(opts Options, allocator *ports.Allocator) *Store {
	portRange := ports.DefaultRange
	if opts.PortRange != nil {
		portRange = *opts.PortRange
	}
	if opts.KeystoreMode == "" {
		opts.KeystoreMode = types.KeystoreInProcess
	}
	if opts.Network.BootstrapURL == "" {
		opts.Network.BootstrapURL = DefaultBootstrapURL
	}
	if opts.Network.RelayURL == "" {
		opts.Network.RelayURL = DefaultRelayURL
	}
	if allocator == nil {
		allocator = ports.NewAllocator()
	}
	return &Store{
		opts:      opts,
		portRange: portRange,
		allocator: allocator,
		logger:    log.WithComponent("config"),
	}
}

// Path returns the config file location for a storage root
func Path(storageRoot string) string {
	return filepath.Join(storageRoot, FileName)
}

// LoadOrInit returns the configuration persisted under storageRoot,
// creating and persisting a new one if none exists yet.
func (s *Store) LoadOrInit(storageRoot string) (*types.NodeConfig, error) {
	path := Path(storageRoot)

	cfg, err := Load(path)
	if err == nil {
		s.logger.Debug().Str("path", path).Uint16("admin_port", cfg.AdminPort).Msg("Loaded node config")
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	return s.initialize(storageRoot)
}

// Load parses and validates a config file
func Load(path string) (*types.NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg types.NodeConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, types.Wrap(types.KindConfigCorrupt, "load "+path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, types.Wrap(types.KindConfigCorrupt, "load "+path, err)
	}
	return &cfg, nil
}

// Validate checks the fields every persisted config must carry
func Validate(cfg *types.NodeConfig) error {
	switch {
	case cfg.StorageRoot == "":
		return fmt.Errorf("storage_root is empty")
	case cfg.EnvironmentPath == "":
		return fmt.Errorf("environment_path is empty")
	case !cfg.Keystore.Mode.Valid():
		return fmt.Errorf("unknown keystore mode %q", cfg.Keystore.Mode)
	case cfg.Keystore.Root == "":
		return fmt.Errorf("keystore root is empty")
	case cfg.AdminPort == 0:
		return fmt.Errorf("admin_port is not set")
	}
	return nil
}

// Marshal renders the config document exactly as it is persisted
func Marshal(cfg *types.NodeConfig) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (s *Store) initialize(storageRoot string) (*types.NodeConfig, error) {
	root, err := filepath.Abs(storageRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage root: %w", err)
	}

	// Pick the port before touching disk so an exhausted range leaves nothing behind
	adminPort, err := s.allocator.Find(s.opts.Host, s.portRange)
	if err != nil {
		return nil, err
	}

	cfg := &types.NodeConfig{
		StorageRoot:     root,
		EnvironmentPath: filepath.Join(root, environmentDir),
		Keystore: types.KeystoreConfig{
			Mode: s.opts.KeystoreMode,
			Root: filepath.Join(root, keystoreDir),
		},
		AdminPort: adminPort,
		Network:   s.opts.Network,
	}
	if cfg.Keystore.Mode == types.KeystoreExternal {
		if s.opts.ExternalKeystoreRoot == "" {
			return nil, fmt.Errorf("external keystore mode requires a keystore root")
		}
		cfg.Keystore.Root = s.opts.ExternalKeystoreRoot
	}

	dirs := []string{root, cfg.EnvironmentPath}
	if cfg.Keystore.Mode == types.KeystoreInProcess {
		dirs = append(dirs, cfg.Keystore.Root)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	data, err := Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := writeAtomic(Path(root), data); err != nil {
		return nil, fmt.Errorf("failed to write config: %w", err)
	}

	s.logger.Info().
		Str("storage_root", root).
		Uint16("admin_port", adminPort).
		Str("keystore_mode", string(cfg.Keystore.Mode)).
		Msg("Created node config")

	return cfg, nil
}

// writeAtomic writes data to a temp file in the target directory and renames it into place
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
