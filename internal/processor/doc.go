// Package processor supplies the per-payload work a worker performs. The
// worker only sees the Processor interface; the CLI wires Command, which runs
// an external program once per payload, and tests wire Func.
package processor
