package preflight

import (
	"errors"
	"fmt"
	"strings"

	"rulerunner/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// Err converts a failed result into an error.
func (r Result) Err() error {
	if r.Passed {
		return nil
	}
	return fmt.Errorf("%s: %s", strings.ToLower(r.Name), r.Detail)
}

// RunAll executes every applicable check for cfg.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{CheckStore("Queue store", cfg.Queue.Store)}
	if cfg.Paths.LogDir != "" {
		results = append(results, CheckCreatableDirectory("Log directory", cfg.Paths.LogDir))
	}
	if len(cfg.Processor.Command) > 0 {
		results = append(results, CheckCommand("Processor command", cfg.Processor.Command[0]))
	}
	return results
}

// FirstFailure joins the failed results into one error, or returns nil.
func FirstFailure(results []Result) error {
	var errs []error
	for _, r := range results {
		if err := r.Err(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
