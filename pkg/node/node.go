package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/holonode/pkg/config"
	"github.com/cuemby/holonode/pkg/embedded"
	"github.com/cuemby/holonode/pkg/events"
	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/installer"
	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/metrics"
	"github.com/cuemby/holonode/pkg/ports"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/zomecall"
	"github.com/rs/zerolog"
)

// StorageMode selects where a node keeps its state
type StorageMode int

const (
	// Persisted keeps state under Options.StorageRoot across runs
	Persisted StorageMode = iota
	// Fresh uses a temporary storage root that Close removes
	Fresh
)

func (m StorageMode) String() string {
	if m == Fresh {
		return "fresh"
	}
	return "persisted"
}

// Options configures a node
type Options struct {
	Mode StorageMode
	// StorageRoot is required in Persisted mode
	StorageRoot string
	// Passphrase unlocks the keystore; it is zeroed by Start
	Passphrase []byte

	BundlePath  string
	AppID       string
	RoleName    string
	NetworkSeed string

	// Config tunes first-run configuration (port range, keystore mode, network)
	Config config.Options
	// Allocator defaults to ports.NewAllocator()
	Allocator *ports.Allocator

	// Host defaults to a ProcessHost running HostBinary
	Host       embedded.Host
	HostBinary string

	// Events receives node.* and app.* events; may be nil
	Events events.Publisher
	// CollectInterval enables the installed-apps collector when positive
	CollectInterval time.Duration
}

// Node owns a running host runtime, its installed app and the caller used
// for zome calls against the app's cell
type Node struct {
	cfg       *types.NodeConfig
	mode      StorageMode
	manager   *embedded.Manager
	install   *installer.Result
	caller    *zomecall.Caller
	collector *metrics.Collector
	logger    zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

// Start loads or creates the node configuration, starts the host runtime,
// makes sure the app is installed and running and prepares a signer for its
// cell. Any failure tears down what was started and returns the typed error.
func Start(ctx context.Context, opts Options) (*Node, error) {
	defer keystore.Zero(opts.Passphrase)
	logger := log.WithComponent("node")

	if opts.AppID == "" || opts.RoleName == "" || opts.BundlePath == "" {
		return nil, fmt.Errorf("bundle path, app id and role name are required")
	}

	root, err := storageRoot(opts)
	if err != nil {
		return nil, err
	}
	n := &Node{mode: opts.Mode, logger: logger}
	ok := false
	defer func() {
		if !ok {
			n.teardown()
			if opts.Mode == Fresh {
				os.RemoveAll(root)
			}
		}
	}()

	store := config.NewStore(opts.Config, opts.Allocator)
	cfg, err := store.LoadOrInit(root)
	if err != nil {
		return nil, err
	}
	n.cfg = cfg

	host := opts.Host
	if host == nil {
		host = embedded.NewProcessHost(opts.HostBinary)
	}
	n.manager = embedded.NewManager(embedded.ManagerConfig{Host: host, Events: opts.Events})

	passphrase := append([]byte(nil), opts.Passphrase...)
	if err := n.manager.Start(ctx, cfg.Clone(), passphrase); err != nil {
		return nil, err
	}
	admin := n.manager.Admin()

	inst := installer.New(installer.Config{Events: opts.Events})
	res, err := inst.EnsureInstalled(ctx, admin, installer.Request{
		BundlePath:  opts.BundlePath,
		AppID:       opts.AppID,
		RoleName:    opts.RoleName,
		NetworkSeed: opts.NetworkSeed,
	})
	if err != nil {
		return nil, err
	}
	n.install = res

	signer := zomecall.NewSigner(zomecall.SignerConfig{Keystore: n.manager.Keystore()})
	n.caller = zomecall.NewCaller(signer, res.Client, res.Cell)

	if opts.CollectInterval > 0 {
		n.collector = metrics.NewCollector(admin, opts.CollectInterval)
		n.collector.Start()
	}

	ok = true
	logger.Info().
		Str("storage_root", cfg.StorageRoot).
		Str("mode", opts.Mode.String()).
		Uint16("admin_port", n.manager.AdminPort()).
		Uint16("app_port", res.AppPort).
		Str("app_id", opts.AppID).
		Str("agent", res.Agent().String()).
		Str("install_path", res.Path).
		Msg("Node ready")
	return n, nil
}

func storageRoot(opts Options) (string, error) {
	switch opts.Mode {
	case Persisted:
		if opts.StorageRoot == "" {
			return "", fmt.Errorf("persisted mode requires a storage root")
		}
		return opts.StorageRoot, nil
	case Fresh:
		dir, err := os.MkdirTemp("", "holonode-")
		if err != nil {
			return "", fmt.Errorf("failed to create temporary storage root: %w", err)
		}
		return dir, nil
	default:
		return "", fmt.Errorf("unknown storage mode %d", opts.Mode)
	}
}

// Config returns a copy of the node configuration
func (n *Node) Config() *types.NodeConfig {
	return n.cfg.Clone()
}

// Caller signs and invokes zome calls against the app's cell
func (n *Node) Caller() *zomecall.Caller {
	return n.caller
}

// Cell is the cell zome calls target
func (n *Node) Cell() types.CellID {
	return n.install.Cell
}

// Admin is the shared admin client
func (n *Node) Admin() hostrpc.AdminClient {
	return n.manager.Admin()
}

// App describes the installed app as of Start
func (n *Node) App() *types.AppInfo {
	return n.install.App
}

// InstallPath reports whether Start installed, resumed or found the app running
func (n *Node) InstallPath() string {
	return n.install.Path
}

// AppPort is the app interface zome calls go through
func (n *Node) AppPort() uint16 {
	return n.install.AppPort
}

// Close stops the collector, closes the app connection and stops the host
// runtime. A Fresh node's storage root is removed.
func (n *Node) Close() error {
	n.closeOnce.Do(func() {
		n.closeErr = n.teardown()
		if n.mode == Fresh && n.cfg != nil {
			if err := os.RemoveAll(n.cfg.StorageRoot); err != nil {
				n.closeErr = errors.Join(n.closeErr, err)
			}
		}
		n.logger.Info().Msg("Node closed")
	})
	return n.closeErr
}

func (n *Node) teardown() error {
	var errs []error
	if n.collector != nil {
		n.collector.Stop()
	}
	if n.install != nil && n.install.Client != nil {
		if err := n.install.Client.Close(); err != nil {
			n.logger.Debug().Err(err).Msg("App connection close")
		}
	}
	if n.manager != nil {
		errs = append(errs, n.manager.Stop())
	}
	return errors.Join(errs...)
}
