package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rulerunner/internal/config"
	"rulerunner/internal/logging"
	"rulerunner/internal/manifest"
	"rulerunner/internal/processor"
	"rulerunner/internal/queue"
	"rulerunner/internal/supervisor"
	"rulerunner/internal/worker"
)

type runOptions struct {
	globs     []string
	files     []string
	store     string
	command   string
	workers   int
	inProcess bool
	keep      bool
	jsonOut   bool
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [payload...]",
		Short: "Seed a queue with payloads and drain it with parallel workers",
		Long: "Seed a queue with payloads and drain it with parallel workers.\n\n" +
			"Payloads come from the arguments, --glob patterns and --items files, in that\n" +
			"order, with duplicates removed. Each payload is handed to processor.command;\n" +
			"exit status 0 marks it completed, anything else marks it failed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, ctx, opts, args)
		},
	}

	cmd.Flags().StringArrayVarP(&opts.globs, "glob", "g", nil, "Add every file matching PATTERN as a payload (repeatable)")
	cmd.Flags().StringArrayVarP(&opts.files, "items", "i", nil, "Read payloads from a YAML list or a text file, one per line (repeatable)")
	cmd.Flags().StringVar(&opts.store, "store", "", "Queue location (overrides queue.store)")
	cmd.Flags().StringVar(&opts.command, "command", "", "Processor command line, split on whitespace (overrides processor.command)")
	cmd.Flags().IntVarP(&opts.workers, "workers", "w", 0, "Number of workers (overrides queue.workers)")
	cmd.Flags().BoolVar(&opts.inProcess, "in-process", false, "Run workers as goroutines instead of separate processes")
	cmd.Flags().BoolVar(&opts.keep, "keep", false, "Leave the queue store in place after the run")
	cmd.Flags().BoolVar(&opts.jsonOut, "json", false, "Print the result as JSON")
	return cmd
}

func runBatch(cmd *cobra.Command, ctx *commandContext, opts runOptions, args []string) error {
	cfg, err := ctx.configCopy()
	if err != nil {
		return err
	}
	if cfg.Queue.Store, err = storeLocation(cfg, opts.store); err != nil {
		return err
	}
	if opts.workers > 0 {
		cfg.Queue.Workers = opts.workers
	}
	if strings.TrimSpace(opts.command) != "" {
		cfg.Processor.Command = strings.Fields(opts.command)
	}
	if opts.keep {
		cfg.Queue.KeepStore = true
	}
	if err := cfg.ValidateProcessor(); err != nil {
		return err
	}

	payloads, err := manifest.Collect(manifest.Sources{Args: args, Globs: opts.globs, Files: opts.files})
	if err != nil {
		return err
	}

	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}
	logger = logging.NewComponentLogger(logger, "cli")
	if len(payloads) == 0 {
		logging.WarnWithContext(logger, "no payloads given", "empty_run",
			logging.String(logging.FieldErrorHint, "pass payloads as arguments or use --glob / --items"),
		)
	}

	// Processor output stays off stdout when stdout carries JSON.
	stdout := cmd.OutOrStdout()
	if opts.jsonOut {
		stdout = cmd.ErrOrStderr()
	}
	var spawner supervisor.Spawner
	if opts.inProcess {
		procOut := &syncWriter{w: stdout}
		procErr := &syncWriter{w: cmd.ErrOrStderr()}
		spawner = &supervisor.InProcessSpawner{
			NewProcessor: func(spec supervisor.WorkerSpec) (processor.Processor, error) {
				return newCommandProcessor(cfg, spec.ID, spec.Store, procOut, procErr, logger)
			},
			Worker: workerConfig(cfg),
			Logger: logger,
		}
	} else {
		spawner = &supervisor.ProcessSpawner{
			Args:   workerArgs(ctx, cfg.Processor.Command),
			Stdout: stdout,
			Stderr: cmd.ErrOrStderr(),
		}
	}

	sup, err := supervisor.New(supervisor.Config{
		Store:            cfg.Queue.Store,
		Workers:          cfg.Queue.Workers,
		ProgressInterval: cfg.ProgressEvery(),
		KeepStore:        cfg.Queue.KeepStore,
	}, spawner, logger)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, runErr := sup.Run(runCtx, payloads)
	if result != nil {
		if err := printRunResult(cmd, result, opts.jsonOut); err != nil {
			return err
		}
	}
	if runErr != nil {
		if errors.Is(runErr, worker.ErrStorageFailure) {
			return &exitError{code: worker.ExitStorageFailure, err: runErr}
		}
		return runErr
	}
	if !result.OK() {
		return fmt.Errorf("%d of %d items did not complete successfully", result.Progress.Total-result.Progress.Completed, result.Progress.Total)
	}
	return nil
}

// workerArgs are appended to "worker --id ID --store LOCATION" for every
// worker process. The processor command travels after "--" so flag overrides
// given to run reach the workers too.
func workerArgs(ctx *commandContext, command []string) []string {
	var args []string
	if path := ctx.configFlagValue(); path != "" {
		args = append(args, "--config", path)
	}
	if level := ctx.logLevel(); level != "" {
		args = append(args, "--log-level", level)
	}
	args = append(args, "--")
	return append(args, command...)
}

func workerConfig(cfg config.Config) worker.Config {
	return worker.Config{
		ItemDelay:    cfg.ItemDelay(),
		ClaimRetries: cfg.Worker.ClaimRetries,
		ClaimBackoff: cfg.ClaimBackoff(),
	}
}

func newCommandProcessor(cfg config.Config, workerID, store string, stdout, stderr io.Writer, logger *slog.Logger) (*processor.Command, error) {
	return processor.NewCommand(cfg.Processor.Command,
		processor.WithTimeout(cfg.ProcessorTimeout()),
		processor.WithEnv(worker.EnvWorkerID+"="+workerID, worker.EnvStore+"="+store),
		processor.WithOutput(stdout, stderr),
		processor.WithLogger(logger),
	)
}

// syncWriter serializes writes from processors running on several goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type runResultJSON struct {
	Store     string         `json:"store"`
	Progress  queue.Progress `json:"progress"`
	Failed    []queue.Item   `json:"failed"`
	Abandoned []queue.Item   `json:"abandoned"`
	Workers   []workerJSON   `json:"workers"`
	Duration  string         `json:"duration"`
	OK        bool           `json:"ok"`
}

type workerJSON struct {
	ID       string `json:"id"`
	Error    string `json:"error,omitempty"`
	Duration string `json:"duration"`
}

func printRunResult(cmd *cobra.Command, result *supervisor.Result, jsonOut bool) error {
	if jsonOut {
		payload := runResultJSON{
			Store:     result.Store,
			Progress:  result.Progress,
			Failed:    nonNilItems(result.Failed),
			Abandoned: nonNilItems(result.Abandoned),
			Workers:   make([]workerJSON, 0, len(result.Workers)),
			Duration:  result.Duration.Round(time.Millisecond).String(),
			OK:        result.OK(),
		}
		for _, exit := range result.Workers {
			w := workerJSON{ID: exit.ID, Duration: exit.Duration.Round(time.Millisecond).String()}
			if exit.Err != nil {
				w.Error = exit.Err.Error()
			}
			payload.Workers = append(payload.Workers, w)
		}
		return writeJSON(cmd, payload)
	}

	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	fmt.Fprintln(out, renderProgress(result.Progress, colorize))
	fmt.Fprintf(out, "Finished in %s (success rate %d%%)\n",
		result.Duration.Round(time.Millisecond), result.Progress.SuccessRate())
	printItemList(out, "Failed payloads", result.Failed)
	printItemList(out, "Abandoned payloads (claimed but never completed)", result.Abandoned)
	return nil
}

func printItemList(out io.Writer, title string, items []queue.Item) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(out, "%s:\n", title)
	for _, item := range items {
		fmt.Fprintf(out, "  - %s\n", item.Payload)
	}
}

func nonNilItems(items []queue.Item) []queue.Item {
	if items == nil {
		return []queue.Item{}
	}
	return items
}
