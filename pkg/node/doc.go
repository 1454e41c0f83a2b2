/*
Package node composes the pieces of a running node and owns them.

Start runs the whole bring-up in order:

	config.Store.LoadOrInit → embedded.Manager.Start → installer.EnsureInstalled → zomecall.Caller

and returns one *Node. Components that need the admin client, the cell or
the caller take them from the Node rather than from package globals, and
Close tears everything down in reverse. A failure at any stage stops what
already started and returns the typed error of that stage.

In Fresh mode the storage root is a temporary directory removed by Close;
in Persisted mode the root, its config and the host's state survive, so the
next Start against the same root finds the app already installed.
*/
package node
