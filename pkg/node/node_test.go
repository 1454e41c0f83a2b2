package node

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/holonode/pkg/config"
	"github.com/cuemby/holonode/pkg/devhost"
	"github.com/cuemby/holonode/pkg/embedded"
	"github.com/cuemby/holonode/pkg/events"
	"github.com/cuemby/holonode/pkg/holomess"
	"github.com/cuemby/holonode/pkg/ports"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bundlePath = "../../happ/msgboard.happ"

func testOptions(root string, mode StorageMode) Options {
	return Options{
		Mode:        mode,
		StorageRoot: root,
		Passphrase:  []byte("pass"),
		BundlePath:  bundlePath,
		AppID:       "msgboard",
		RoleName:    holomess.RoleName,
		Host:        devhost.New(devhost.Config{Zomes: holomess.Registry()}),
	}
}

func TestPersistedNodeSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "node")

	n, err := Start(ctx, testOptions(root, Persisted))
	require.NoError(t, err)
	assert.Equal(t, "first_run", n.InstallPath())

	board := holomess.NewClient(n.Caller())
	msgs, err := board.GetMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = board.CreateMessage(ctx, "hello")
	require.NoError(t, err)
	msgs, err = board.GetMessages(ctx)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	firstCell := n.Cell()
	firstPort := n.AppPort()
	require.NoError(t, n.Close())
	assert.DirExists(t, root)

	n, err = Start(ctx, testOptions(root, Persisted))
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, "noop", n.InstallPath())
	assert.True(t, firstCell.Equal(n.Cell()), "agent and dna are stable across restarts")
	assert.Equal(t, firstPort, n.AppPort())

	msgs, err = holomess.NewClient(n.Caller()).GetMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []holomess.Message{{Text: "hello"}}, msgs)
}

func TestFreshNodeRemovesStorageOnClose(t *testing.T) {
	ctx := context.Background()

	n, err := Start(ctx, testOptions("", Fresh))
	require.NoError(t, err)
	root := n.Config().StorageRoot
	assert.DirExists(t, root)
	assert.FileExists(t, config.Path(root))

	_, err = holomess.NewClient(n.Caller()).CreateMessage(ctx, "ephemeral")
	require.NoError(t, err)

	require.NoError(t, n.Close())
	assert.NoDirExists(t, root)
	assert.NoError(t, n.Close(), "close is idempotent")
}

func TestExhaustedPortRangeLeavesNoStorageRoot(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer busy.Close()
	port := uint16(busy.Addr().(*net.TCPAddr).Port)

	root := filepath.Join(t.TempDir(), "node")
	opts := testOptions(root, Persisted)
	opts.Config = config.Options{PortRange: &ports.Range{Min: port, Max: port}}

	_, err = Start(context.Background(), opts)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrResourceExhausted), "got %v", err)

	_, statErr := os.Stat(root)
	assert.True(t, os.IsNotExist(statErr))
}

func TestStartFailures(t *testing.T) {
	tests := []struct {
		name   string
		modify func(o *Options)
		want   *types.Error
	}{
		{
			name:   "missing bundle",
			modify: func(o *Options) { o.BundlePath = "/nonexistent/msgboard.happ" },
			want:   types.ErrBundleNotFound,
		},
		{
			name:   "unknown role",
			modify: func(o *Options) { o.RoleName = "chat" },
			want:   types.ErrCellNotFound,
		},
		{
			name:   "host binary missing",
			modify: func(o *Options) { o.Host = embedded.NewProcessHost("/nonexistent/holonode-devhost") },
			want:   types.ErrProcessBuildFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions(filepath.Join(t.TempDir(), "node"), Persisted)
			tt.modify(&opts)
			_, err := Start(context.Background(), opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestStartZeroesPassphrase(t *testing.T) {
	opts := testOptions("", Fresh)
	pass := opts.Passphrase

	n, err := Start(context.Background(), opts)
	require.NoError(t, err)
	defer n.Close()
	assert.Equal(t, make([]byte, len(pass)), pass)
}

func TestStartPublishesLifecycleEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	opts := testOptions("", Fresh)
	opts.Events = broker
	n, err := Start(context.Background(), opts)
	require.NoError(t, err)
	defer n.Close()

	want := []events.EventType{
		events.EventNodeBuilding,
		events.EventNodeAwaitingAdmin,
		events.EventNodeReady,
		events.EventAppInstalled,
		events.EventAppEnabled,
		events.EventInterfaceAttached,
	}
	var got []events.EventType
	timeout := time.After(5 * time.Second)
	for len(got) < len(want) {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
		case <-timeout:
			t.Fatalf("timed out after events %v", got)
		}
	}
	assert.Equal(t, want, got)
}
