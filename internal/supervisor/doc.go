// Package supervisor runs one batch: it seeds the shared queue, starts the
// workers, reports progress while they drain it, collects the final tally and
// removes the store.
//
// Workers are separate OS processes by default (ProcessSpawner re-executes the
// current binary with the hidden "worker" command). InProcessSpawner runs the
// same loop on goroutines, each with its own queue handle, for tests and for
// processors that are plain Go functions.
package supervisor
