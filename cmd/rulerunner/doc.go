// Package main hosts the rulerunner CLI entrypoint and command graph.
//
// The Cobra-based command tree seeds a shared work queue from payload
// sources, supervises worker processes that drain it, and exposes the
// queue's progress, teardown, advisory file locks, and configuration
// scaffolding. The hidden worker command is what the supervisor re-executes
// for every worker process.
//
// Keep this package lean: queue semantics live in internal/queue, the claim
// loop in internal/worker, and orchestration in internal/supervisor. Commands
// here only resolve configuration and render results.
package main
