package devhost

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/log"
	"github.com/cuemby/holonode/pkg/storage"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
	"github.com/cuemby/holonode/pkg/zomecall"
)

func (h *Host) handleApp(ctx context.Context, req *wire.Payload) *wire.Payload {
	if req.Type != hostrpc.ReqCallZome {
		return wire.ErrorPayload(ErrTypeUnknownRequest, fmt.Sprintf("unknown app request %q", req.Type))
	}

	var call types.ZomeCall
	if err := req.Into(&call); err != nil {
		return wire.ErrorPayload(ErrTypeDeserialization, err.Error())
	}

	h.mu.Lock()
	store := h.store
	h.mu.Unlock()
	if store == nil {
		return wire.ErrorPayload(ErrTypeInternal, "host not started")
	}

	logger := log.WithCall(h.logger, call.ZomeName, call.FnName)
	now := h.now()
	zomeNames, perr := h.authorize(store, &call, now)
	if perr != nil {
		logger.Warn().Str("reason", perr.Err().Reason).Msg("Rejected zome call")
		return perr
	}

	zome, ok := h.zomes[call.ZomeName]
	if !ok || !contains(zomeNames, call.ZomeName) {
		return wire.ErrorPayload(ErrTypeZomeNotFound, call.ZomeName)
	}
	fn, ok := zome.Fns[call.FnName]
	if !ok {
		return wire.ErrorPayload(ErrTypeFnNotFound, fmt.Sprintf("%s/%s", call.ZomeName, call.FnName))
	}

	cc := &CallContext{store: store, cell: call.CellID, nonce: call.Nonce, now: now}
	out, err := fn(cc, call.Payload)
	if err != nil {
		return wire.ErrorPayload(ErrTypeRibosome, err.Error())
	}
	result, err := wire.Marshal(out)
	if err != nil {
		return wire.ErrorPayload(ErrTypeRibosome, fmt.Sprintf("failed to encode result: %v", err))
	}

	logger.Debug().Str("cell", call.CellID.String()).Msg("Zome call completed")
	return respond(hostrpc.RespZomeCalled, result)
}

// authorize checks the envelope and consumes its nonce. It returns the zomes
// the target cell's role declares.
func (h *Host) authorize(store storage.Store, call *types.ZomeCall, now time.Time) ([]string, *wire.Payload) {
	if err := zomecall.Verify(call); err != nil {
		return nil, wire.ErrorPayload(ErrTypeUnauthorized, err.Error())
	}
	if !call.Provenance.Equal(call.CellID.AgentPubKey) {
		return nil, wire.ErrorPayload(ErrTypeUnauthorized, "provenance is not the cell's agent")
	}

	expiry := call.Expiry()
	if !expiry.After(now) {
		return nil, wire.ErrorPayload(ErrTypeUnauthorized, "call has expired")
	}
	if expiry.After(now.Add(MaxCallWindow + h.skew)) {
		return nil, wire.ErrorPayload(ErrTypeUnauthorized, "call expires too far in the future")
	}

	zomes, err := findCell(store, call.CellID)
	if err != nil {
		return nil, wire.ErrorPayload(ErrTypeCellMissing, err.Error())
	}

	fresh, err := store.UseNonce(call.Provenance, call.Nonce, call.ExpiresAt, now.UnixMicro())
	if err != nil {
		return nil, wire.ErrorPayload(ErrTypeInternal, err.Error())
	}
	if !fresh {
		return nil, wire.ErrorPayload(ErrTypeUnauthorized, "nonce already used")
	}
	return zomes, nil
}

var errCellNotRunning = errors.New("no running app provides this cell")

// findCell returns the zomes of the role that provisioned cell in a running app
func findCell(store storage.Store, cell types.CellID) ([]string, error) {
	apps, err := store.ListApps()
	if err != nil {
		return nil, err
	}
	for _, app := range apps {
		if app.Info.Status != types.AppStatusRunning {
			continue
		}
		for role, cells := range app.Info.CellInfo {
			for _, c := range cells {
				if c.Equal(cell) {
					return app.Zomes[role], nil
				}
			}
		}
	}
	return nil, fmt.Errorf("%s: %w", cell, errCellNotRunning)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
