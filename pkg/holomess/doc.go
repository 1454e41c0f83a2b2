// Package holomess holds the message board application: the zome functions
// the devhost runs for it and a typed client that calls them through a
// zomecall.Caller.
package holomess
