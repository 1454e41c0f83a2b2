/*
Package zomecall signs zome calls and invokes them over an app endpoint.

A Signer builds a fresh envelope per call: a 32-byte random nonce, an expiry
five minutes ahead (in microseconds since the epoch) and an ed25519
signature by the provenance agent over the blake2b-256 hash of the
msgpack-encoded unsigned envelope. The signer owns its clock and random
source; tests pass fixed ones.

Invoke sends an envelope and decodes the result into a caller-chosen type:

	call, err := signer.Sign(ctx, cell, "holomess", "create_message", "hello", agent)
	if err != nil {
		return err
	}
	hash, err := zomecall.Invoke[types.ActionHash](ctx, app, call)

Call does both through a Caller and records holonode_zome_calls_total and
holonode_zome_call_duration_seconds.
*/
package zomecall
