package hostrpc

import (
	"context"

	"github.com/cuemby/holonode/pkg/types"
)

// Admin request and response tags
const (
	ReqGenerateAgentPubKey  = "generate_agent_pub_key"
	RespAgentPubKey         = "agent_pub_key_generated"
	ReqInstallApp           = "install_app"
	RespAppInstalled        = "app_installed"
	ReqEnableApp            = "enable_app"
	RespAppEnabled          = "app_enabled"
	ReqDisableApp           = "disable_app"
	RespAppDisabled         = "app_disabled"
	ReqListApps             = "list_apps"
	RespAppsListed          = "apps_listed"
	ReqAttachAppInterface   = "attach_app_interface"
	RespAppInterfaceAttach  = "app_interface_attached"
	ReqListAppInterfaces    = "list_app_interfaces"
	RespAppInterfacesListed = "app_interfaces_listed"
)

// App request and response tags
const (
	ReqCallZome    = "call_zome"
	RespZomeCalled = "zome_called"
)

// AppIDRequest names an installed app
type AppIDRequest struct {
	InstalledAppID string `codec:"installed_app_id"`
}

// AttachAppInterfaceRequest asks for an app listener; port 0 lets the host choose
type AttachAppInterfaceRequest struct {
	Port uint16 `codec:"port"`
}

// AttachAppInterfaceResponse reports the bound port
type AttachAppInterfaceResponse struct {
	Port uint16 `codec:"port"`
}

// AdminClient is the host's administrative surface
type AdminClient interface {
	GenerateAgentPubKey(ctx context.Context) (types.AgentPubKey, error)
	InstallApp(ctx context.Context, req *types.InstallAppRequest) (*types.AppInfo, error)
	EnableApp(ctx context.Context, appID string) (*types.AppInfo, error)
	DisableApp(ctx context.Context, appID string) error
	ListApps(ctx context.Context) ([]*types.AppInfo, error)
	AttachAppInterface(ctx context.Context, port uint16) (uint16, error)
	ListAppInterfaces(ctx context.Context) ([]uint16, error)
	Close() error
}

// AppClient is the host's application surface
type AppClient interface {
	// CallZome submits a signed call and returns the encoded result.
	// Host rejections are returned as *wire.HostError.
	CallZome(ctx context.Context, call *types.ZomeCall) ([]byte, error)
	Close() error
}
