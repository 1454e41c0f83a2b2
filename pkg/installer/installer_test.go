package installer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdmin is an in-memory admin endpoint with one role ("holomess")
type fakeAdmin struct {
	mu sync.Mutex

	apps       map[string]*types.AppInfo
	interfaces []uint16
	roles      []string

	installErr error
	enableErr  error
	attachErr  error

	generated int
	installs  int
	enables   int
	attaches  int
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		apps:  make(map[string]*types.AppInfo),
		roles: []string{"holomess"},
	}
}

func (f *fakeAdmin) GenerateAgentPubKey(ctx context.Context) (types.AgentPubKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generated++
	key := make(types.AgentPubKey, types.AgentPubKeySize)
	key[0] = byte(f.generated)
	return key, nil
}

func (f *fakeAdmin) InstallApp(ctx context.Context, req *types.InstallAppRequest) (*types.AppInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.installErr != nil {
		return nil, f.installErr
	}
	if _, ok := f.apps[req.InstalledAppID]; ok {
		return nil, &wire.HostError{Type: "app_already_installed", Reason: req.InstalledAppID}
	}
	f.installs++
	cells := make(map[string][]types.CellID)
	for _, role := range f.roles {
		cells[role] = []types.CellID{{DnaHash: types.DnaHash{0xd}, AgentPubKey: req.AgentPubKey}}
	}
	app := &types.AppInfo{
		InstalledAppID: req.InstalledAppID,
		AgentPubKey:    req.AgentPubKey,
		CellInfo:       cells,
		Status:         types.AppStatusDisabled,
	}
	f.apps[req.InstalledAppID] = app
	cp := *app
	return &cp, nil
}

func (f *fakeAdmin) EnableApp(ctx context.Context, appID string) (*types.AppInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enableErr != nil {
		return nil, f.enableErr
	}
	app, ok := f.apps[appID]
	if !ok {
		return nil, &wire.HostError{Type: "app_not_installed", Reason: appID}
	}
	f.enables++
	app.Status = types.AppStatusRunning
	cp := *app
	return &cp, nil
}

func (f *fakeAdmin) DisableApp(ctx context.Context, appID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if app, ok := f.apps[appID]; ok {
		app.Status = types.AppStatusDisabled
	}
	return nil
}

func (f *fakeAdmin) ListApps(ctx context.Context) ([]*types.AppInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var apps []*types.AppInfo
	for _, app := range f.apps {
		cp := *app
		apps = append(apps, &cp)
	}
	return apps, nil
}

func (f *fakeAdmin) AttachAppInterface(ctx context.Context, port uint16) (uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attachErr != nil {
		return 0, f.attachErr
	}
	f.attaches++
	p := uint16(56000 + len(f.interfaces))
	f.interfaces = append(f.interfaces, p)
	return p, nil
}

func (f *fakeAdmin) ListAppInterfaces(ctx context.Context) ([]uint16, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.interfaces...), nil
}

func (f *fakeAdmin) Close() error { return nil }

type fakeApp struct {
	hostrpc.AppClient
	port uint16
}

func newTestInstaller() *Installer {
	return New(Config{
		Dial: func(ctx context.Context, port uint16) (hostrpc.AppClient, error) {
			return &fakeApp{port: port}, nil
		},
	})
}

func writeBundle(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "msgboard.happ")
	require.NoError(t, os.WriteFile(path, []byte("manifest_version: \"1\"\n"), 0644))
	return path
}

func TestEnsureInstalledFirstRunThenNoop(t *testing.T) {
	ctx := context.Background()
	admin := newFakeAdmin()
	inst := newTestInstaller()
	req := Request{BundlePath: writeBundle(t), AppID: "msgboard", RoleName: "holomess"}

	first, err := inst.EnsureInstalled(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, "first_run", first.Path)
	assert.Equal(t, types.AppStatusRunning, first.App.Status)
	assert.Equal(t, uint16(56000), first.AppPort)
	assert.Equal(t, uint16(56000), first.Client.(*fakeApp).port)
	assert.True(t, first.Agent().Equal(first.App.AgentPubKey))

	second, err := inst.EnsureInstalled(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, "noop", second.Path)
	assert.True(t, first.Cell.Equal(second.Cell))
	assert.Equal(t, first.AppPort, second.AppPort)

	assert.Equal(t, 1, admin.installs, "never installs twice")
	assert.Equal(t, 1, admin.attaches, "never attaches a second interface")
	assert.Equal(t, 1, admin.generated)
}

func TestEnsureInstalledResume(t *testing.T) {
	ctx := context.Background()
	admin := newFakeAdmin()
	inst := newTestInstaller()
	req := Request{BundlePath: writeBundle(t), AppID: "msgboard", RoleName: "holomess"}

	_, err := inst.EnsureInstalled(ctx, admin, req)
	require.NoError(t, err)
	require.NoError(t, admin.DisableApp(ctx, "msgboard"))

	res, err := inst.EnsureInstalled(ctx, admin, req)
	require.NoError(t, err)
	assert.Equal(t, "resume", res.Path)
	assert.Equal(t, types.AppStatusRunning, res.App.Status)
	assert.Equal(t, 1, admin.installs)
	assert.Equal(t, 2, admin.enables)
}

func TestEnsureInstalledReusesAgent(t *testing.T) {
	ctx := context.Background()
	admin := newFakeAdmin()
	inst := newTestInstaller()
	bundle := writeBundle(t)

	a, err := inst.EnsureInstalled(ctx, admin, Request{BundlePath: bundle, AppID: "one", RoleName: "holomess"})
	require.NoError(t, err)
	b, err := inst.EnsureInstalled(ctx, admin, Request{BundlePath: bundle, AppID: "two", RoleName: "holomess"})
	require.NoError(t, err)

	assert.True(t, a.Agent().Equal(b.Agent()))
	assert.Equal(t, 1, admin.generated)
}

func TestEnsureInstalledFailures(t *testing.T) {
	hostErr := &wire.HostError{Type: "invalid_bundle", Reason: "dna holomess: unknown zome \"chat\""}

	tests := []struct {
		name       string
		setup      func(f *fakeAdmin)
		bundle     string
		role       string
		want       *types.Error
		wantReason string
	}{
		{
			name:   "bundle missing",
			bundle: "/nonexistent/msgboard.happ",
			want:   types.ErrBundleNotFound,
		},
		{
			name:       "install rejected",
			setup:      func(f *fakeAdmin) { f.installErr = hostErr },
			want:       types.ErrInstallRejected,
			wantReason: hostErr.Reason,
		},
		{
			name:  "enable failed",
			setup: func(f *fakeAdmin) { f.enableErr = errors.New("cell failed to start") },
			want:  types.ErrEnableFailed,
		},
		{
			name: "role absent",
			role: "chat",
			want: types.ErrCellNotFound,
		},
		{
			name:  "attach failed",
			setup: func(f *fakeAdmin) { f.attachErr = &wire.HostError{Type: "bind_failed", Reason: "address in use"} },
			want:  types.ErrInterfaceAttachFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admin := newFakeAdmin()
			if tt.setup != nil {
				tt.setup(admin)
			}
			bundle := tt.bundle
			if bundle == "" {
				bundle = writeBundle(t)
			}
			role := tt.role
			if role == "" {
				role = "holomess"
			}

			_, err := newTestInstaller().EnsureInstalled(context.Background(), admin,
				Request{BundlePath: bundle, AppID: "msgboard", RoleName: role})
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			if tt.wantReason != "" {
				var e *types.Error
				require.True(t, errors.As(err, &e))
				assert.Equal(t, tt.wantReason, e.Reason)
			}
		})
	}
}

func TestEnsureInstalledSerializesPerAppID(t *testing.T) {
	ctx := context.Background()
	admin := newFakeAdmin()
	inst := newTestInstaller()
	req := Request{BundlePath: writeBundle(t), AppID: "msgboard", RoleName: "holomess"}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := inst.EnsureInstalled(ctx, admin, req)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, admin.installs)
	assert.Equal(t, 1, admin.attaches)
}
