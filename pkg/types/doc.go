/*
Package types defines the data model shared by every holonode package.

The package holds plain data: the persisted node configuration, the identity
types exchanged with the host runtime (agent keys, DNA hashes, cell ids), the
installed-app description returned by the admin endpoint and the zome call
envelope submitted over the app endpoint. It also defines the error taxonomy
used across the node layer.

# Core Types

NodeConfig:
  - Written once per storage root as holonode.yaml
  - admin_port is fixed after the first write
  - Clone returns a copy; loaded configs are never mutated

Identity:
  - AgentPubKey: 32-byte ed25519 public key, printed as "u" + base64url
  - DnaHash: blake2b-256 digest of a DNA manifest
  - CellID: (DnaHash, AgentPubKey)

Apps:
  - AppInfo: installed app id, agent, role → cells, status
  - AppStatus: running or disabled

Zome calls:
  - ZomeCallUnsigned: cell, zome, function, encoded payload, provenance,
    32-byte nonce, expiry in microseconds since the epoch
  - ZomeCall: unsigned call plus ed25519 signature

# Errors

Every failure crossing a package boundary is an *Error carrying a Kind:

	ResourceExhausted      no free port in the configured range
	ConfigCorrupt          persisted config unparseable or invalid
	ProcessBuildFailed     host runtime failed to build or start
	ConnectFailed          host built but admin endpoint unreachable
	BundleNotFound         bundle file missing
	InstallRejected        host refused the install (reason verbatim)
	EnableFailed           host refused to enable the app
	CellNotFound           expected role absent from the installed app
	InterfaceAttachFailed  no app interface could be listed or attached
	SigningFailed          keystore unavailable or key unknown
	CallRejected           host rejected the zome call (reason verbatim)
	DecodeError            response bytes do not match the expected type

Match kinds with errors.Is against the package sentinels:

	if errors.Is(err, types.ErrResourceExhausted) {
		// pick another port range
	}
*/
package types
