package hostrpc

import (
	"context"
	"fmt"

	"github.com/cuemby/holonode/pkg/types"
)

// AdminWebsocket is an AdminClient over a host admin websocket
type AdminWebsocket struct {
	conn *Conn
}

// ConnectAdmin dials the admin endpoint on the local host
func ConnectAdmin(ctx context.Context, port uint16) (*AdminWebsocket, error) {
	conn, err := Dial(ctx, LocalURL(port))
	if err != nil {
		return nil, err
	}
	return &AdminWebsocket{conn: conn}, nil
}

// LocalURL returns the websocket url for a loopback port
func LocalURL(port uint16) string {
	return fmt.Sprintf("ws://127.0.0.1:%d", port)
}

func (a *AdminWebsocket) GenerateAgentPubKey(ctx context.Context) (types.AgentPubKey, error) {
	var key types.AgentPubKey
	if err := a.conn.call(ctx, ReqGenerateAgentPubKey, nil, RespAgentPubKey, &key); err != nil {
		return nil, err
	}
	return key, nil
}

func (a *AdminWebsocket) InstallApp(ctx context.Context, req *types.InstallAppRequest) (*types.AppInfo, error) {
	var info types.AppInfo
	if err := a.conn.call(ctx, ReqInstallApp, req, RespAppInstalled, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *AdminWebsocket) EnableApp(ctx context.Context, appID string) (*types.AppInfo, error) {
	var info types.AppInfo
	if err := a.conn.call(ctx, ReqEnableApp, &AppIDRequest{InstalledAppID: appID}, RespAppEnabled, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *AdminWebsocket) DisableApp(ctx context.Context, appID string) error {
	return a.conn.call(ctx, ReqDisableApp, &AppIDRequest{InstalledAppID: appID}, RespAppDisabled, nil)
}

func (a *AdminWebsocket) ListApps(ctx context.Context) ([]*types.AppInfo, error) {
	var apps []*types.AppInfo
	if err := a.conn.call(ctx, ReqListApps, nil, RespAppsListed, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func (a *AdminWebsocket) AttachAppInterface(ctx context.Context, port uint16) (uint16, error) {
	var resp AttachAppInterfaceResponse
	if err := a.conn.call(ctx, ReqAttachAppInterface, &AttachAppInterfaceRequest{Port: port}, RespAppInterfaceAttach, &resp); err != nil {
		return 0, err
	}
	return resp.Port, nil
}

func (a *AdminWebsocket) ListAppInterfaces(ctx context.Context) ([]uint16, error) {
	var ports []uint16
	if err := a.conn.call(ctx, ReqListAppInterfaces, nil, RespAppInterfacesListed, &ports); err != nil {
		return nil, err
	}
	return ports, nil
}

func (a *AdminWebsocket) Close() error {
	return a.conn.Close()
}

// AppWebsocket is an AppClient over a host app websocket.
// One AppWebsocket may serve any number of concurrent calls.
type AppWebsocket struct {
	conn *Conn
}

// ConnectApp dials an app interface on the local host
func ConnectApp(ctx context.Context, port uint16) (*AppWebsocket, error) {
	conn, err := Dial(ctx, LocalURL(port))
	if err != nil {
		return nil, err
	}
	return &AppWebsocket{conn: conn}, nil
}

func (a *AppWebsocket) CallZome(ctx context.Context, call *types.ZomeCall) ([]byte, error) {
	var result []byte
	if err := a.conn.call(ctx, ReqCallZome, call, RespZomeCalled, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (a *AppWebsocket) Close() error {
	return a.conn.Close()
}
