/*
Package devhost is a small host runtime that speaks the admin and app
protocols a node expects. It backs the holonode-devhost binary and the
in-process host used by --dev and by tests.

Zomes are Go functions registered in a Registry; a bundle may only declare
zomes the registry knows. Installed apps, attached app interfaces, committed
entries, links and spent nonces live in one BoltDB file under the node's
environment path, so a restarted host sees the same state and listens on the
same app ports.

Every zome call is checked before it runs:

  - the signature verifies against the provenance
  - the provenance is the agent of the target cell
  - the cell belongs to a running app
  - the call expires within MaxCallWindow (plus clock skew) and has not expired
  - the nonce has not been seen for this agent

Rejections are returned as host error payloads with a stable type and a
human-readable reason.
*/
package devhost
