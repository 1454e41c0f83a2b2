package embedded

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/holonode/pkg/events"
	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/keystore"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHost struct {
	startErr error
	port     uint16
	seen     string
	stopped  int
	done     chan struct{}
}

func newFakeHost(port uint16) *fakeHost {
	return &fakeHost{port: port, done: make(chan struct{})}
}

func (h *fakeHost) Start(ctx context.Context, cfg *types.NodeConfig, passphrase []byte) error {
	h.seen = string(passphrase)
	return h.startErr
}

func (h *fakeHost) AdminPort() uint16 { return h.port }

func (h *fakeHost) Keystore() keystore.Keystore { return keystore.Unavailable{Reason: "fake"} }

func (h *fakeHost) Done() <-chan struct{} { return h.done }

func (h *fakeHost) Stop() error {
	h.stopped++
	return nil
}

type fakeAdmin struct {
	hostrpc.AdminClient
	closed bool
}

func (a *fakeAdmin) Close() error {
	a.closed = true
	return nil
}

type recorder struct {
	mu    sync.Mutex
	types []events.EventType
}

func (r *recorder) Publish(ev *events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, ev.Type)
}

func (r *recorder) seen() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.EventType(nil), r.types...)
}

func testConfig() *types.NodeConfig {
	return &types.NodeConfig{StorageRoot: "/tmp/node", AdminPort: 55000}
}

func TestManagerStart(t *testing.T) {
	host := newFakeHost(55001)
	admin := &fakeAdmin{}
	var dialed uint16
	rec := &recorder{}

	m := NewManager(ManagerConfig{
		Host: host,
		Dial: func(ctx context.Context, port uint16) (hostrpc.AdminClient, error) {
			dialed = port
			return admin, nil
		},
		Events: rec,
	})
	assert.Equal(t, StateUnconfigured, m.State())
	assert.Nil(t, m.Admin())

	pass := []byte("correct horse")
	require.NoError(t, m.Start(context.Background(), testConfig(), pass))

	assert.Equal(t, StateReady, m.State())
	assert.Equal(t, "correct horse", host.seen)
	assert.Equal(t, make([]byte, len(pass)), pass, "passphrase must be zeroed")
	assert.Equal(t, uint16(55001), dialed, "dials the bound port, not the hint")
	assert.Equal(t, uint16(55001), m.AdminPort())
	assert.Same(t, admin, m.Admin())
	assert.Equal(t, []events.EventType{
		events.EventNodeBuilding,
		events.EventNodeAwaitingAdmin,
		events.EventNodeReady,
	}, rec.seen())

	require.NoError(t, m.Stop())
	assert.True(t, admin.closed)
	assert.Equal(t, 1, host.stopped)
	assert.Nil(t, m.Admin())
	require.NoError(t, m.Stop())
	assert.Equal(t, 1, host.stopped)
}

func TestManagerStartFailures(t *testing.T) {
	tests := []struct {
		name      string
		startErr  error
		dialErr   error
		wantKind  *types.Error
		wantStops int
	}{
		{
			name:     "build failure",
			startErr: errors.New("invalid environment path"),
			wantKind: types.ErrProcessBuildFailed,
		},
		{
			name:      "admin unreachable",
			dialErr:   errors.New("connection refused"),
			wantKind:  types.ErrConnectFailed,
			wantStops: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost(55000)
			host.startErr = tt.startErr
			m := NewManager(ManagerConfig{
				Host: host,
				Dial: func(ctx context.Context, port uint16) (hostrpc.AdminClient, error) {
					return &fakeAdmin{}, tt.dialErr
				},
			})

			pass := []byte("secret")
			err := m.Start(context.Background(), testConfig(), pass)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.wantKind), "got %v", err)
			assert.Equal(t, StateFailed, m.State())
			assert.Equal(t, make([]byte, len(pass)), pass)
			assert.Equal(t, tt.wantStops, host.stopped)
			assert.Nil(t, m.Admin())
		})
	}
}

func TestManagerStartsOnce(t *testing.T) {
	m := NewManager(ManagerConfig{
		Host: newFakeHost(55000),
		Dial: func(ctx context.Context, port uint16) (hostrpc.AdminClient, error) {
			return &fakeAdmin{}, nil
		},
	})
	require.NoError(t, m.Start(context.Background(), testConfig(), []byte("a")))

	pass := []byte("again")
	err := m.Start(context.Background(), testConfig(), pass)
	assert.True(t, errors.Is(err, ErrAlreadyStarted))
	assert.Equal(t, make([]byte, len(pass)), pass)
	assert.Equal(t, StateReady, m.State())
}

func TestManagerHostExit(t *testing.T) {
	host := newFakeHost(55000)
	rec := &recorder{}
	m := NewManager(ManagerConfig{
		Host: host,
		Dial: func(ctx context.Context, port uint16) (hostrpc.AdminClient, error) {
			return &fakeAdmin{}, nil
		},
		Events: rec,
	})
	require.NoError(t, m.Start(context.Background(), testConfig(), []byte("a")))

	close(host.done)
	assert.Eventually(t, func() bool { return m.State() == StateFailed }, time.Second, 5*time.Millisecond)
	assert.Contains(t, rec.seen(), events.EventHostExited)
}

func TestParseAdminPortMarker(t *testing.T) {
	tests := []struct {
		line string
		port uint16
		ok   bool
	}{
		{line: "###ADMIN_PORT:55000###", port: 55000, ok: true},
		{line: "  ###ADMIN_PORT:1###\r", port: 1, ok: true},
		{line: AdminPortMarker(4242), port: 4242, ok: true},
		{line: "###ADMIN_PORT:0###"},
		{line: "###ADMIN_PORT:70000###"},
		{line: "###ADMIN_PORT:abc###"},
		{line: "admin listening on 55000"},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			port, ok := ParseAdminPortMarker(tt.line)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.port, port)
		})
	}
}

func TestLogWriterSplitsLinesAndFindsMarker(t *testing.T) {
	ports := make(chan uint16, 1)
	lw := &logWriter{logger: zerolog.Nop(), level: zerolog.InfoLevel, ports: ports}

	for _, chunk := range []string{"booting\n###ADMIN_", "PORT:55123###", "\nready\n"} {
		n, err := lw.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	select {
	case port := <-ports:
		assert.Equal(t, uint16(55123), port)
	default:
		t.Fatal("marker not detected across writes")
	}
	assert.Equal(t, 0, lw.buf.Len())
}

func TestProcessHostMissingBinary(t *testing.T) {
	host := NewProcessHost("/nonexistent/holonode-devhost")
	err := host.Start(context.Background(), testConfig(), []byte("x"))
	assert.Error(t, err)
	assert.NoError(t, host.Stop())
	_, err = host.Keystore().Sign(context.Background(), nil, nil)
	assert.True(t, errors.Is(err, types.ErrSigningFailed))
}
