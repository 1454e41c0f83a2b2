package zomecall

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/holonode/pkg/hostrpc"
	"github.com/cuemby/holonode/pkg/metrics"
	"github.com/cuemby/holonode/pkg/types"
	"github.com/cuemby/holonode/pkg/wire"
)

// Invoke sends a signed call and decodes the result into R. A host rejection
// fails with CallRejected carrying the host's reason; a response that does
// not fit R fails with DecodeError.
func Invoke[R any](ctx context.Context, app hostrpc.AppClient, call *types.ZomeCall) (R, error) {
	var zero R
	op := fmt.Sprintf("call %s/%s", call.ZomeName, call.FnName)

	resp, err := app.CallZome(ctx, call)
	if err != nil {
		var he *wire.HostError
		if errors.As(err, &he) {
			return zero, &types.Error{Kind: types.KindCallRejected, Op: op, Reason: he.Reason}
		}
		return zero, types.Wrap(types.KindConnectFailed, op, err)
	}

	out, err := wire.Decode[R](resp)
	if err != nil {
		return zero, err
	}
	return out, nil
}

// Caller signs and invokes calls against one cell as one agent
type Caller struct {
	signer *Signer
	app    hostrpc.AppClient
	cell   types.CellID
}

// NewCaller binds a signer and an app endpoint to a cell. Callers are safe
// for concurrent use; the app endpoint is shared.
func NewCaller(signer *Signer, app hostrpc.AppClient, cell types.CellID) *Caller {
	return &Caller{signer: signer, app: app, cell: cell}
}

// Cell returns the cell calls are made against
func (c *Caller) Cell() types.CellID {
	return c.cell
}

// Agent returns the agent calls are signed as
func (c *Caller) Agent() types.AgentPubKey {
	return c.cell.AgentPubKey
}

// Call signs payload for zome/fn and invokes it, decoding the result into R
func Call[R any](ctx context.Context, c *Caller, zome, fn string, payload interface{}) (R, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ZomeCallDuration, zome, fn)

	var zero R
	call, err := c.signer.Sign(ctx, c.cell, zome, fn, payload, c.cell.AgentPubKey)
	if err != nil {
		metrics.ZomeCallsTotal.WithLabelValues(zome, fn, metrics.CallStatusError).Inc()
		return zero, err
	}

	out, err := Invoke[R](ctx, c.app, call)
	switch {
	case err == nil:
		metrics.ZomeCallsTotal.WithLabelValues(zome, fn, metrics.CallStatusOK).Inc()
	case errors.Is(err, types.ErrCallRejected):
		metrics.ZomeCallsTotal.WithLabelValues(zome, fn, metrics.CallStatusRejected).Inc()
	default:
		metrics.ZomeCallsTotal.WithLabelValues(zome, fn, metrics.CallStatusError).Inc()
	}
	return out, err
}
