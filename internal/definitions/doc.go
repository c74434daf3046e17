// Package definitions turns the `tasks:` section of the config into live
// scheduler registrations.
//
// Each entry runs a shell command. On config reload the Reconciler adds new
// entries, updates changed ones in place and removes entries that
// disappeared. Tasks registered by other code are never touched.
package definitions
