// Package logging assembles structured slog loggers and formatting helpers used
// by the supervisor, the worker processes, and the CLI.
//
// It owns the console/JSON handlers, centralizes level and output plumbing,
// and exposes helpers so queue code tags log lines with the same worker, item,
// and store fields in every process. The package also provides a no-op logger
// for tests and wiring code that cannot fail.
package logging
