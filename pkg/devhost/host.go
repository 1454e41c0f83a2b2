package devhost

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/storage"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/rs/zerolog"
)

const (
	// MaxCallWindow is the furthest ahead an accepted call may expire
	MaxCallWindow = 5 * time.Minute
	// DefaultClockSkew is tolerated on top of MaxCallWindow
	DefaultClockSkew = 30 * time.Second
)

// Config wires a Host
type Config struct {
	Zomes Registry
	// Now defaults to time.Now
	Now func() time.Time
	// ClockSkew defaults to DefaultClockSkew
	ClockSkew time.Duration
}

// Host is the reference host runtime: an admin endpoint, any number of app
// endpoints, a BoltDB store and a keystore, all inside this process.
type Host struct {
	zomes  Registry
	now    func() time.Time
	skew   time.Duration
	logger zerolog.Logger

	mu         sync.Mutex
	started    bool
	store      storage.Store
	keystore   keystore.Keystore
	admin      *hostrpc.Listener
	interfaces map[uint16]*hostrpc.Listener
	done       chan struct{}
	stopOnce   sync.Once
}

// New creates a host that runs the given zomes
func New(cfg Config) *Host {
	h := &Host{
		zomes:      cfg.Zomes,
		now:        cfg.Now,
		skew:       cfg.ClockSkew,
		logger:     log.WithComponent("devhost"),
		interfaces: make(map[uint16]*hostrpc.Listener),
		done:       make(chan struct{}),
	}
	if h.zomes == nil {
		h.zomes = Registry{}
	}
	if h.now == nil {
		h.now = time.Now
	}
	if h.skew <= 0 {
		h.skew = DefaultClockSkew
	}
	return h
}

// Start unlocks the keystore, opens the store under the environment path,
// binds the admin endpoint and rebinds the app interfaces persisted by a
// previous run. The admin port is the configured one when free, otherwise
// any free port.
func (h *Host) Start(ctx context.Context, cfg *types.NodeConfig, passphrase []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return fmt.Errorf("host already started")
	}
	if cfg.EnvironmentPath == "" {
		return fmt.Errorf("environment path is not set")
	}

	ks, err := keystore.OpenConfigured(cfg.Keystore, passphrase)
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.EnvironmentPath)
	if err != nil {
		ks.Close()
		return err
	}

	admin, err := hostrpc.Listen("admin", cfg.AdminPort, h.handleAdmin)
	if err != nil && cfg.AdminPort != 0 {
		h.logger.Warn().Err(err).Uint16("port", cfg.AdminPort).Msg("Configured admin port unavailable, picking another")
		admin, err = hostrpc.Listen("admin", 0, h.handleAdmin)
	}
	if err != nil {
		store.Close()
		ks.Close()
		return err
	}

	h.keystore = ks
	h.store = store
	h.admin = admin
	h.started = true

	h.restoreInterfaces()

	h.logger.Info().
		Uint16("admin_port", admin.Port()).
		Str("environment", cfg.EnvironmentPath).
		Msg("Host started")
	return nil
}

// restoreInterfaces rebinds persisted app interfaces; caller holds h.mu
func (h *Host) restoreInterfaces() {
	ports, err := h.store.ListInterfaces()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list persisted app interfaces")
		return
	}
	for _, port := range ports {
		l, err := hostrpc.Listen("app", port, h.handleApp)
		if err != nil {
			h.logger.Warn().Err(err).Uint16("port", port).Msg("Dropping app interface that cannot be rebound")
			if err := h.store.DeleteInterface(port); err != nil {
				h.logger.Error().Err(err).Msg("Failed to forget app interface")
			}
			continue
		}
		h.interfaces[port] = l
	}
}

// AdminPort returns the bound admin port, or 0 before Start
func (h *Host) AdminPort() uint16 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.admin == nil {
		return 0
	}
	return h.admin.Port()
}

// Keystore returns the keystore unlocked by Start
func (h *Host) Keystore() keystore.Keystore {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.keystore == nil {
		return keystore.Unavailable{Reason: "host not started"}
	}
	return h.keystore
}

// Done is closed by Stop
func (h *Host) Done() <-chan struct{} {
	return h.done
}

// Stop closes every endpoint, the store and the keystore
func (h *Host) Stop() error {
	var errs []error
	h.stopOnce.Do(func() {
		h.mu.Lock()
		admin := h.admin
		interfaces := h.interfaces
		h.interfaces = make(map[uint16]*hostrpc.Listener)
		store := h.store
		ks := h.keystore
		h.mu.Unlock()

		if admin != nil {
			errs = append(errs, admin.Close())
		}
		for _, l := range interfaces {
			errs = append(errs, l.Close())
		}
		if store != nil {
			errs = append(errs, store.Close())
		}
		if ks != nil {
			errs = append(errs, ks.Close())
		}
		close(h.done)
		h.logger.Info().Msg("Host stopped")
	})
	return errors.Join(errs...)
}

func (h *Host) appInterfacePorts() []uint16 {
	ports := make([]uint16, 0, len(h.interfaces))
	for p := range h.interfaces {
		ports = append(ports, p)
	}
	sort.Slice(ports, func(i, j int) bool { return ports[i] < ports[j] })
	return ports
}
