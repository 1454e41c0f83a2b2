package node

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/cuemby/holonode/pkg/embedded"
	"github.com/cuemby/holonode/pkg/holomess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildDevhost compiles the host binary the CLI runs by default
func buildDevhost(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the host binary")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not on PATH")
	}

	bin := filepath.Join(t.TempDir(), "holonode-devhost")
	out, err := exec.Command(goBin, "build", "-o", bin, "github.com/cuemby/holonode/cmd/holonode-devhost").CombinedOutput()
	require.NoError(t, err, "build host binary: %s", out)
	return bin
}

func TestProcessHostNodeSurvivesRestart(t *testing.T) {
	bin := buildDevhost(t)
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "node")

	opts := testOptions(root, Persisted)
	opts.Host = embedded.NewProcessHost(bin)
	n, err := Start(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, "first_run", n.InstallPath())
	assert.NotZero(t, n.Config().AdminPort)

	_, err = holomess.NewClient(n.Caller()).CreateMessage(ctx, "hello")
	require.NoError(t, err)
	firstCell := n.Cell()
	require.NoError(t, n.Close())

	opts = testOptions(root, Persisted)
	opts.Host = embedded.NewProcessHost(bin)
	n, err = Start(ctx, opts)
	require.NoError(t, err)
	defer n.Close()

	assert.Equal(t, "noop", n.InstallPath())
	assert.True(t, firstCell.Equal(n.Cell()))

	msgs, err := holomess.NewClient(n.Caller()).GetMessages(ctx)
	require.NoError(t, err)
	assert.Equal(t, []holomess.Message{{Text: "hello"}}, msgs)

	apps, err := n.Admin().ListApps(ctx)
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	ifaces, err := n.Admin().ListAppInterfaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{n.AppPort()}, ifaces)
}
