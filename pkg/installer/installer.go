package installer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/cuemby/holonode/pkg/events"
	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/metrics"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"github.com/rs/zerolog"
)

// Request names the app to ensure and where its bundle lives
type Request struct {
	BundlePath string
	AppID      string
	// RoleName is the role whose cell calls are made against
	RoleName string
	// NetworkSeed optionally overrides the bundle's seed on first install
	NetworkSeed string
}

// Result is the resolved handle for an installed, running app
type Result struct {
	App     *types.AppInfo
	Cell    types.CellID
	AppPort uint16
	// Client is the app endpoint; the Result's owner closes it
	Client hostrpc.AppClient
	// Path is the branch taken: first_run, resume or noop
	Path string
}

// Agent returns the agent the cell runs as
func (r *Result) Agent() types.AgentPubKey {
	return r.Cell.AgentPubKey
}

// AppDialer connects to an app interface on a local port
type AppDialer func(ctx context.Context, port uint16) (hostrpc.AppClient, error)

// DialApp dials the app websocket
func DialApp(ctx context.Context, port uint16) (hostrpc.AppClient, error) {
	return hostrpc.ConnectApp(ctx, port)
}

// Config wires an Installer
type Config struct {
	// Dial defaults to DialApp
	Dial AppDialer
	// Events receives app.* events; may be nil
	Events events.Publisher
}

// Installer makes sure an app is installed, enabled and reachable
type Installer struct {
	dial   AppDialer
	events events.Publisher
	logger zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an installer
func New(cfg Config) *Installer {
	dial := cfg.Dial
	if dial == nil {
		dial = DialApp
	}
	return &Installer{
		dial:   dial,
		events: cfg.Events,
		logger: log.WithComponent("installer"),
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock serializes EnsureInstalled per app id within this process
func (i *Installer) lock(appID string) func() {
	i.mu.Lock()
	l, ok := i.locks[appID]
	if !ok {
		l = &sync.Mutex{}
		i.locks[appID] = l
	}
	i.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// EnsureInstalled installs and enables the app on first run, enables it again
// when it is present but not running, and does nothing when it is running.
// It then resolves the role's cell and reuses the first app interface the
// host reports, attaching one only when there is none.
func (i *Installer) EnsureInstalled(ctx context.Context, admin hostrpc.AdminClient, req Request) (*Result, error) {
	if req.AppID == "" || req.RoleName == "" {
		return nil, fmt.Errorf("app id and role name are required")
	}
	defer i.lock(req.AppID)()

	logger := log.WithApp(i.logger, req.AppID)

	apps, err := admin.ListApps(ctx)
	if err != nil {
		return nil, hostFailure(types.KindInstallRejected, "list apps", err)
	}

	var app *types.AppInfo
	path := metrics.InstallPathNoop
	if existing := findApp(apps, req.AppID); existing == nil {
		app, err = i.install(ctx, admin, apps, req, logger)
		path = metrics.InstallPathFirstRun
	} else if existing.Status != types.AppStatusRunning {
		logger.Info().Str("status", string(existing.Status)).Msg("Resuming installed app")
		app, err = admin.EnableApp(ctx, req.AppID)
		if err != nil {
			err = hostFailure(types.KindEnableFailed, "enable app", err)
		} else {
			events.Emit(i.events, events.EventAppResumed, "app resumed", map[string]string{"app_id": req.AppID})
		}
		path = metrics.InstallPathResume
	} else {
		logger.Debug().Msg("App already installed and running")
		app = existing
	}
	if err != nil {
		return nil, err
	}
	metrics.AppInstallsTotal.WithLabelValues(path).Inc()

	cell, ok := app.Cell(req.RoleName)
	if !ok {
		return nil, types.Errorf(types.KindCellNotFound, "resolve cell",
			"app %s has no cell for role %q", req.AppID, req.RoleName)
	}

	port, err := i.appInterface(ctx, admin, logger)
	if err != nil {
		return nil, err
	}

	client, err := i.dial(ctx, port)
	if err != nil {
		return nil, types.Wrap(types.KindInterfaceAttachFailed, "connect app interface", err)
	}
	metrics.UpdateComponent(metrics.ComponentApp, true, "")

	logger.Info().
		Str("path", path).
		Str("cell", cell.String()).
		Uint16("app_port", port).
		Msg("App ready")

	return &Result{
		App:     app,
		Cell:    cell,
		AppPort: port,
		Client:  client,
		Path:    path,
	}, nil
}

func (i *Installer) install(ctx context.Context, admin hostrpc.AdminClient, apps []*types.AppInfo, req Request, logger zerolog.Logger) (*types.AppInfo, error) {
	bundlePath, err := filepath.Abs(req.BundlePath)
	if err != nil {
		return nil, types.Wrap(types.KindBundleNotFound, "install app", err)
	}
	if _, err := os.Stat(bundlePath); errors.Is(err, fs.ErrNotExist) {
		return nil, types.Errorf(types.KindBundleNotFound, "install app", "no bundle at %s", bundlePath)
	}

	agent, err := i.agent(ctx, admin, apps, logger)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("bundle", bundlePath).
		Str("agent", agent.String()).
		Msg("Installing app")

	_, err = admin.InstallApp(ctx, &types.InstallAppRequest{
		BundlePath:     bundlePath,
		AgentPubKey:    agent,
		InstalledAppID: req.AppID,
		NetworkSeed:    req.NetworkSeed,
	})
	if err != nil {
		return nil, hostFailure(types.KindInstallRejected, "install app", err)
	}
	events.Emit(i.events, events.EventAppInstalled, "app installed", map[string]string{"app_id": req.AppID})

	app, err := admin.EnableApp(ctx, req.AppID)
	if err != nil {
		return nil, hostFailure(types.KindEnableFailed, "enable app", err)
	}
	events.Emit(i.events, events.EventAppEnabled, "app enabled", map[string]string{"app_id": req.AppID})
	return app, nil
}

// agent reuses the node's identity from any installed app, minting one only
// when the host has none
func (i *Installer) agent(ctx context.Context, admin hostrpc.AdminClient, apps []*types.AppInfo, logger zerolog.Logger) (types.AgentPubKey, error) {
	for _, app := range apps {
		if len(app.AgentPubKey) == types.AgentPubKeySize {
			logger.Debug().Str("agent", app.AgentPubKey.String()).Msg("Reusing agent key")
			return app.AgentPubKey, nil
		}
	}
	agent, err := admin.GenerateAgentPubKey(ctx)
	if err != nil {
		return nil, hostFailure(types.KindInstallRejected, "generate agent key", err)
	}
	logger.Info().Str("agent", agent.String()).Msg("Generated agent key")
	return agent, nil
}

func (i *Installer) appInterface(ctx context.Context, admin hostrpc.AdminClient, logger zerolog.Logger) (uint16, error) {
	ports, err := admin.ListAppInterfaces(ctx)
	if err != nil {
		return 0, hostFailure(types.KindInterfaceAttachFailed, "list app interfaces", err)
	}
	if len(ports) > 0 {
		logger.Debug().Uint16("app_port", ports[0]).Msg("Reusing app interface")
		return ports[0], nil
	}

	port, err := admin.AttachAppInterface(ctx, 0)
	if err != nil {
		return 0, hostFailure(types.KindInterfaceAttachFailed, "attach app interface", err)
	}
	events.Emit(i.events, events.EventInterfaceAttached, "app interface attached",
		map[string]string{"app_port": strconv.Itoa(int(port))})
	return port, nil
}

func findApp(apps []*types.AppInfo, appID string) *types.AppInfo {
	for _, app := range apps {
		if app.InstalledAppID == appID {
			return app
		}
	}
	return nil
}

// hostFailure maps an admin call failure to kind, keeping a host-provided
// reason verbatim
func hostFailure(kind types.Kind, op string, err error) error {
	var he *wire.HostError
	if errors.As(err, &he) {
		return &types.Error{Kind: kind, Op: op, Reason: he.Reason}
	}
	return types.Wrap(kind, op, err)
}
