package hostrpc

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoHandler(ctx context.Context, req *wire.Payload) *wire.Payload {
	switch req.Type {
	case ReqListAppInterfaces:
		p, _ := wire.NewPayload(RespAppInterfacesListed, []uint16{40123})
		return p
	case ReqEnableApp:
		var in AppIDRequest
		if err := req.Into(&in); err != nil {
			return wire.ErrorPayload("deserialization", err.Error())
		}
		return wire.ErrorPayload("app_not_installed", in.InstalledAppID+" is not installed")
	case ReqCallZome:
		var call types.ZomeCall
		if err := req.Into(&call); err != nil {
			return wire.ErrorPayload("deserialization", err.Error())
		}
		p, _ := wire.NewPayload(RespZomeCalled, call.Payload)
		return p
	case "slow":
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
		}
		return wire.ErrorPayload("timeout", "slow")
	}
	return wire.ErrorPayload("unknown_request", req.Type)
}

func startListener(t *testing.T) *Listener {
	l, err := Listen("test", 0, echoHandler)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestAdminRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := startListener(t)

	admin, err := ConnectAdmin(ctx, l.Port())
	require.NoError(t, err)
	defer admin.Close()

	ports, err := admin.ListAppInterfaces(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint16{40123}, ports)
}

func TestHostErrorsPropagateVerbatim(t *testing.T) {
	ctx := context.Background()
	l := startListener(t)

	admin, err := ConnectAdmin(ctx, l.Port())
	require.NoError(t, err)
	defer admin.Close()

	_, err = admin.EnableApp(ctx, "msgboard")
	require.Error(t, err)
	var he *wire.HostError
	require.True(t, errors.As(err, &he))
	assert.Equal(t, "app_not_installed", he.Type)
	assert.Equal(t, "msgboard is not installed", he.Reason)
}

func TestConcurrentCallsShareConnection(t *testing.T) {
	ctx := context.Background()
	l := startListener(t)

	app, err := ConnectApp(ctx, l.Port())
	require.NoError(t, err)
	defer app.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := []byte{byte(i)}
			out, err := app.CallZome(ctx, &types.ZomeCall{ZomeCallUnsigned: types.ZomeCallUnsigned{Payload: payload}})
			assert.NoError(t, err)
			assert.Equal(t, payload, out)
		}(i)
	}
	wg.Wait()
}

func TestRequestHonoursContext(t *testing.T) {
	l := startListener(t)

	conn, err := Dial(context.Background(), LocalURL(l.Port()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = conn.Request(ctx, &wire.Payload{Type: "slow"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRequestAfterCloseFails(t *testing.T) {
	l := startListener(t)

	conn, err := Dial(context.Background(), LocalURL(l.Port()))
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	_, err = conn.Request(context.Background(), &wire.Payload{Type: ReqListApps})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialUnreachable(t *testing.T) {
	l := startListener(t)
	port := l.Port()
	require.NoError(t, l.Close())

	_, err := ConnectAdmin(context.Background(), port)
	assert.Error(t, err)
}
