// Package app wires tokenrelay's components together.
//
// NewApplication opens the configured credential store, registers the
// configured resources and builds the refresh coordinator, the intercepting
// transport, the authorization flow and the admin API on top of it. Run
// serves the forward proxy and the admin API until its context is cancelled,
// reloading the configuration file when it changes.
package app
