/*
Package storage persists the state of the reference host runtime in BoltDB.

One database file (devhost.db) lives under the node's environment path and
survives restarts. Values are JSON-encoded; entry contents stay in the host
encoding (msgpack) as opaque bytes.

Buckets:

	apps        installed_app_id → AppRecord
	interfaces  port (big-endian uint16) → empty
	entries     action hash → Entry
	links       len|dna len|base len|type target → Link
	nonces      agent‖nonce → expires_at (big-endian µs)

The nonce ledger is the replay guard for zome calls: UseNonce records a
nonce and prunes expired ones in one transaction, so a nonce is accepted at
most once while its call could still be valid.
*/
package storage
