package embedded

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/cuemby/holonode/pkg/events"
	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/metrics"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/rs/zerolog"
)

// State is the lifecycle state of the host runtime
type State int

const (
	StateUnconfigured State = iota
	StateBuilding
	StateAwaitingAdminReady
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnconfigured:
		return "unconfigured"
	case StateBuilding:
		return "building"
	case StateAwaitingAdminReady:
		return "awaiting_admin_ready"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrAlreadyStarted is returned by Start on a manager that has left Unconfigured
var ErrAlreadyStarted = errors.New("host runtime already started")

// Host builds and runs one host runtime instance
type Host interface {
	// Start builds the runtime for cfg and returns once its admin endpoint
	// accepts connections. The passphrase must not be retained.
	Start(ctx context.Context, cfg *types.NodeConfig, passphrase []byte) error
	// AdminPort is the port actually bound, which may differ from cfg.AdminPort
	AdminPort() uint16
	// Keystore is the keystore unlocked during Start
	Keystore() keystore.Keystore
	// Done is closed when the runtime exits
	Done() <-chan struct{}
	Stop() error
}

// AdminDialer connects to the admin endpoint on a local port
type AdminDialer func(ctx context.Context, port uint16) (hostrpc.AdminClient, error)

// DialAdmin dials the admin websocket
func DialAdmin(ctx context.Context, port uint16) (hostrpc.AdminClient, error) {
	return hostrpc.ConnectAdmin(ctx, port)
}

// ManagerConfig wires a Manager
type ManagerConfig struct {
	Host Host
	// Dial defaults to DialAdmin
	Dial AdminDialer
	// Events receives lifecycle transitions; may be nil
	Events events.Publisher
}

// Manager drives a host runtime from configuration to a connected admin endpoint
type Manager struct {
	host   Host
	dial   AdminDialer
	events events.Publisher
	logger zerolog.Logger

	mu        sync.RWMutex
	state     State
	admin     hostrpc.AdminClient
	adminPort uint16
	stopCh    chan struct{}
}

// NewManager creates a manager in the Unconfigured state
func NewManager(cfg ManagerConfig) *Manager {
	dial := cfg.Dial
	if dial == nil {
		dial = DialAdmin
	}
	metrics.NodeState.Set(float64(StateUnconfigured))
	return &Manager{
		host:   cfg.Host,
		dial:   dial,
		events: cfg.Events,
		logger: log.WithComponent("embedded"),
		state:  StateUnconfigured,
		stopCh: make(chan struct{}),
	}
}

// Start builds the runtime and connects to its admin endpoint. The passphrase
// is zeroed before Start returns, whatever the outcome. A manager starts at
// most once; failures leave it in StateFailed.
func (m *Manager) Start(ctx context.Context, cfg *types.NodeConfig, passphrase []byte) error {
	return keystore.WithPassphrase(passphrase, func(p []byte) error {
		m.mu.Lock()
		if m.state != StateUnconfigured {
			state := m.state
			m.mu.Unlock()
			return fmt.Errorf("%w (state %s)", ErrAlreadyStarted, state)
		}
		m.mu.Unlock()

		m.transition(StateBuilding, events.EventNodeBuilding, "building host runtime", nil)
		m.logger.Info().
			Str("storage_root", cfg.StorageRoot).
			Uint16("admin_port_hint", cfg.AdminPort).
			Msg("Starting host runtime")

		if err := m.host.Start(ctx, cfg, p); err != nil {
			return m.fail(types.Wrap(types.KindProcessBuildFailed, "start host", err))
		}
		metrics.UpdateComponent(metrics.ComponentHost, true, "")

		port := m.host.AdminPort()
		if port != cfg.AdminPort {
			m.logger.Warn().
				Uint16("hint", cfg.AdminPort).
				Uint16("admin_port", port).
				Msg("Host bound a different admin port than configured")
		}
		m.transition(StateAwaitingAdminReady, events.EventNodeAwaitingAdmin, "waiting for admin endpoint",
			map[string]string{"admin_port": strconv.Itoa(int(port))})

		admin, err := m.dial(ctx, port)
		if err != nil {
			m.host.Stop()
			return m.fail(types.Wrap(types.KindConnectFailed, "connect admin", err))
		}

		m.mu.Lock()
		m.admin = admin
		m.adminPort = port
		m.mu.Unlock()

		m.transition(StateReady, events.EventNodeReady, "admin endpoint ready",
			map[string]string{"admin_port": strconv.Itoa(int(port))})
		metrics.UpdateComponent(metrics.ComponentAdmin, true, "")

		go m.watch()

		m.logger.Info().Uint16("admin_port", port).Msg("Host runtime ready")
		return nil
	})
}

// watch moves a ready manager to Failed when the runtime exits on its own
func (m *Manager) watch() {
	select {
	case <-m.host.Done():
	case <-m.stopCh:
		return
	}

	select {
	case <-m.stopCh:
		return
	default:
	}

	m.logger.Error().Msg("Host runtime exited unexpectedly")
	metrics.UpdateComponent(metrics.ComponentHost, false, "exited")
	events.Emit(m.events, events.EventHostExited, "host runtime exited unexpectedly", nil)
	m.transition(StateFailed, events.EventNodeFailed, "host runtime exited", nil)
}

func (m *Manager) transition(state State, typ events.EventType, message string, metadata map[string]string) {
	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	metrics.NodeState.Set(float64(state))
	events.Emit(m.events, typ, message, metadata)
	m.logger.Debug().Str("state", state.String()).Msg(message)
}

func (m *Manager) fail(err error) error {
	m.logger.Error().Err(err).Msg("Host runtime failed to start")
	metrics.UpdateComponent(metrics.ComponentHost, false, err.Error())
	m.transition(StateFailed, events.EventNodeFailed, err.Error(), map[string]string{
		"kind": string(types.KindOf(err)),
	})
	return err
}

// State returns the current lifecycle state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Admin returns the shared admin client, or nil unless Ready
func (m *Manager) Admin() hostrpc.AdminClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateReady {
		return nil
	}
	return m.admin
}

// AdminPort returns the bound admin port once Ready
func (m *Manager) AdminPort() uint16 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.adminPort
}

// Keystore returns the keystore unlocked by the host
func (m *Manager) Keystore() keystore.Keystore {
	return m.host.Keystore()
}

// Stop closes the admin connection and tears down the runtime
func (m *Manager) Stop() error {
	m.mu.Lock()
	select {
	case <-m.stopCh:
		m.mu.Unlock()
		return nil
	default:
		close(m.stopCh)
	}
	admin := m.admin
	m.admin = nil
	started := m.state != StateUnconfigured
	m.mu.Unlock()

	if !started {
		return nil
	}

	m.logger.Info().Msg("Stopping host runtime")

	if admin != nil {
		if err := admin.Close(); err != nil {
			m.logger.Debug().Err(err).Msg("Admin connection close")
		}
	}
	err := m.host.Stop()

	metrics.UpdateComponent(metrics.ComponentHost, false, "stopped")
	metrics.UpdateComponent(metrics.ComponentAdmin, false, "stopped")
	events.Emit(m.events, events.EventNodeStopped, "host runtime stopped", nil)
	return err
}
