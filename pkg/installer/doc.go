// Package installer ensures exactly one instance of an application bundle is
// installed, enabled and reachable on a host, and resolves the cell and app
// endpoint that zome calls go through.
//
// EnsureInstalled is idempotent: the first run installs and enables, a later
// run against a disabled app enables it again, and a running app is left
// alone. Existing app interfaces are reused so restarts never accumulate
// listeners. Calls for the same app id are serialized within one process;
// concurrent installers in separate processes are not coordinated.
package installer
