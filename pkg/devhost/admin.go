package devhost

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/holonode/pkg/bundle"
	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/storage"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
)

// Host error types
const (
	ErrTypeDeserialization     = "deserialization"
	ErrTypeUnknownRequest      = "unknown_request"
	ErrTypeInternal            = "internal"
	ErrTypeBundleNotFound      = "bundle_not_found"
	ErrTypeInvalidBundle       = "invalid_bundle"
	ErrTypeAppAlreadyInstalled = "app_already_installed"
	ErrTypeAppNotInstalled     = "app_not_installed"
	ErrTypeInterfaceFailed     = "interface_error"
	ErrTypeKeystore            = "keystore_error"
	ErrTypeUnauthorized        = "zome_call_unauthorized"
	ErrTypeCellMissing         = "cell_missing"
	ErrTypeZomeNotFound        = "zome_not_found"
	ErrTypeFnNotFound          = "zome_fn_not_found"
	ErrTypeRibosome            = "ribosome_error"
)

func (h *Host) handleAdmin(ctx context.Context, req *wire.Payload) *wire.Payload {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch req.Type {
	case hostrpc.ReqGenerateAgentPubKey:
		agent, err := h.keystore.Generate(ctx)
		if err != nil {
			return wire.ErrorPayload(ErrTypeKeystore, err.Error())
		}
		h.logger.Info().Str("agent", agent.String()).Msg("Generated agent key")
		return respond(hostrpc.RespAgentPubKey, agent)

	case hostrpc.ReqInstallApp:
		var in types.InstallAppRequest
		if err := req.Into(&in); err != nil {
			return wire.ErrorPayload(ErrTypeDeserialization, err.Error())
		}
		info, perr := h.installApp(&in)
		if perr != nil {
			return perr
		}
		return respond(hostrpc.RespAppInstalled, info)

	case hostrpc.ReqEnableApp:
		return h.setStatus(req, types.AppStatusRunning, hostrpc.RespAppEnabled)

	case hostrpc.ReqDisableApp:
		resp := h.setStatus(req, types.AppStatusDisabled, hostrpc.RespAppDisabled)
		if resp.Err() != nil {
			return resp
		}
		return &wire.Payload{Type: hostrpc.RespAppDisabled}

	case hostrpc.ReqListApps:
		records, err := h.store.ListApps()
		if err != nil {
			return wire.ErrorPayload(ErrTypeInternal, err.Error())
		}
		apps := make([]*types.AppInfo, 0, len(records))
		for _, r := range records {
			info := r.Info
			apps = append(apps, &info)
		}
		return respond(hostrpc.RespAppsListed, apps)

	case hostrpc.ReqAttachAppInterface:
		var in hostrpc.AttachAppInterfaceRequest
		if err := req.Into(&in); err != nil {
			return wire.ErrorPayload(ErrTypeDeserialization, err.Error())
		}
		l, err := hostrpc.Listen("app", in.Port, h.handleApp)
		if err != nil {
			return wire.ErrorPayload(ErrTypeInterfaceFailed, err.Error())
		}
		port := l.Port()
		if err := h.store.PutInterface(port); err != nil {
			l.Close()
			return wire.ErrorPayload(ErrTypeInternal, err.Error())
		}
		h.interfaces[port] = l
		h.logger.Info().Uint16("app_port", port).Msg("Attached app interface")
		return respond(hostrpc.RespAppInterfaceAttach, &hostrpc.AttachAppInterfaceResponse{Port: port})

	case hostrpc.ReqListAppInterfaces:
		return respond(hostrpc.RespAppInterfacesListed, h.appInterfacePorts())

	default:
		return wire.ErrorPayload(ErrTypeUnknownRequest, fmt.Sprintf("unknown admin request %q", req.Type))
	}
}

// installApp validates the bundle against the zome registry and records the
// app as disabled; caller holds h.mu
func (h *Host) installApp(in *types.InstallAppRequest) (*types.AppInfo, *wire.Payload) {
	if in.InstalledAppID == "" {
		return nil, wire.ErrorPayload(ErrTypeInvalidBundle, "installed_app_id is required")
	}
	if len(in.AgentPubKey) != types.AgentPubKeySize {
		return nil, wire.ErrorPayload(ErrTypeInvalidBundle, "agent_pub_key must be a 32-byte ed25519 key")
	}
	if _, err := h.store.GetApp(in.InstalledAppID); err == nil {
		return nil, wire.ErrorPayload(ErrTypeAppAlreadyInstalled, in.InstalledAppID)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, wire.ErrorPayload(ErrTypeInternal, err.Error())
	}

	manifest, err := bundle.Load(in.BundlePath)
	if errors.Is(err, types.ErrBundleNotFound) {
		return nil, wire.ErrorPayload(ErrTypeBundleNotFound, err.Error())
	}
	if err != nil {
		return nil, wire.ErrorPayload(ErrTypeInvalidBundle, err.Error())
	}

	record := &storage.AppRecord{
		Info: types.AppInfo{
			InstalledAppID: in.InstalledAppID,
			AgentPubKey:    in.AgentPubKey,
			CellInfo:       make(map[string][]types.CellID),
			Status:         types.AppStatusDisabled,
		},
		BundlePath:  in.BundlePath,
		NetworkSeed: in.NetworkSeed,
		Zomes:       make(map[string][]string),
	}
	for _, role := range manifest.Roles {
		var zomes []string
		for _, z := range role.DNA.Zomes {
			if _, ok := h.zomes[z.Name]; !ok {
				return nil, wire.ErrorPayload(ErrTypeInvalidBundle,
					fmt.Sprintf("role %s: unknown zome %q", role.Name, z.Name))
			}
			zomes = append(zomes, z.Name)
		}
		dna, err := role.DNA.Hash(in.NetworkSeed)
		if err != nil {
			return nil, wire.ErrorPayload(ErrTypeInvalidBundle, err.Error())
		}
		record.Info.CellInfo[role.Name] = []types.CellID{{DnaHash: dna, AgentPubKey: in.AgentPubKey}}
		record.Zomes[role.Name] = zomes
	}

	if err := h.store.PutApp(record); err != nil {
		return nil, wire.ErrorPayload(ErrTypeInternal, err.Error())
	}
	h.logger.Info().
		Str("app_id", in.InstalledAppID).
		Str("bundle", manifest.Name).
		Msg("Installed app")
	return &record.Info, nil
}

// setStatus flips an installed app's status; caller holds h.mu
func (h *Host) setStatus(req *wire.Payload, status types.AppStatus, respType string) *wire.Payload {
	var in hostrpc.AppIDRequest
	if err := req.Into(&in); err != nil {
		return wire.ErrorPayload(ErrTypeDeserialization, err.Error())
	}
	record, err := h.store.GetApp(in.InstalledAppID)
	if errors.Is(err, storage.ErrNotFound) {
		return wire.ErrorPayload(ErrTypeAppNotInstalled, in.InstalledAppID)
	}
	if err != nil {
		return wire.ErrorPayload(ErrTypeInternal, err.Error())
	}

	record.Info.Status = status
	if err := h.store.PutApp(record); err != nil {
		return wire.ErrorPayload(ErrTypeInternal, err.Error())
	}
	h.logger.Info().
		Str("app_id", in.InstalledAppID).
		Str("status", string(status)).
		Msg("App status changed")
	return respond(respType, &record.Info)
}

func respond(typ string, v interface{}) *wire.Payload {
	p, err := wire.NewPayload(typ, v)
	if err != nil {
		return wire.ErrorPayload(ErrTypeInternal, err.Error())
	}
	return p
}
