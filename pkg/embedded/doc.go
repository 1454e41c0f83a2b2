/*
Package embedded manages the lifecycle of the host runtime a node talks to.

A Manager drives one Host through a fixed sequence of states:

	Unconfigured → Building → AwaitingAdminReady → Ready
	                  │               │
	                  └──────► Failed ◄┘

Start hands the node configuration and passphrase to the host, reads back
the admin port the host actually bound and dials its admin endpoint. The
passphrase is zeroed before Start returns. A build failure is reported as
ProcessBuildFailed, an unreachable admin endpoint as ConnectFailed. There is
no automatic retry and a manager starts at most once.

Every transition is mirrored to the holonode_node_state gauge and published
as a node.* event when an events.Publisher is configured.

# Hosts

ProcessHost launches the holonode-devhost binary (or any binary speaking the
same contract):

	holonode-devhost --config <storage_root>/holonode.yaml --piped

The passphrase is written to the child's stdin, which is then closed. The
child prints ###ADMIN_PORT:<n>### on stdout once its admin listener is bound;
the port is then probed over TCP before Start returns. All other output is
relayed line by line to the "host-process" logger. Stop sends SIGTERM and
escalates to SIGKILL after ten seconds.

devhost.Host runs the same runtime inside the current process.
*/
package embedded
