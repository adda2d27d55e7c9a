package main

import (
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"rulerunner/internal/logging"
	"rulerunner/internal/queue"
	"rulerunner/internal/worker"
)

// newWorkerCommand is the entrypoint the supervisor spawns. Exit status 0
// means the queue drained or the worker was interrupted, 1 an unexpected
// error, 3 a storage failure.
func newWorkerCommand(ctx *commandContext) *cobra.Command {
	var workerID string
	var store string

	cmd := &cobra.Command{
		Use:    "worker --id ID --store LOCATION [-- COMMAND...]",
		Short:  "Drain a queue as one worker",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.configCopy()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Processor.Command = args
			}
			if err := cfg.ValidateProcessor(); err != nil {
				return err
			}
			if strings.TrimSpace(workerID) == "" {
				workerID = os.Getenv(worker.EnvWorkerID)
			}
			if strings.TrimSpace(workerID) == "" {
				return errors.New("worker id required (--id or " + worker.EnvWorkerID + ")")
			}
			if cfg.Queue.Store, err = storeLocation(cfg, store); err != nil {
				return err
			}

			logger, err := ctx.ensureLogger()
			if err != nil {
				return err
			}
			logger = logger.With(logging.String(logging.FieldWorkerID, workerID))

			runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			q, err := queue.Open(runCtx, cfg.Queue.Store, logger)
			if err != nil {
				return &exitError{code: worker.ExitStorageFailure, err: err}
			}
			defer q.Close()

			proc, err := newCommandProcessor(cfg, workerID, q.Location(), cmd.OutOrStdout(), cmd.ErrOrStderr(), logger)
			if err != nil {
				return err
			}
			loopCfg := workerConfig(cfg)
			loopCfg.WorkerID = workerID
			loop, err := worker.NewLoop(q, proc, loopCfg, logger)
			if err != nil {
				return err
			}

			_, err = loop.Run(runCtx)
			if code := worker.ExitCode(err); code != worker.ExitOK {
				return &exitError{code: code, err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&workerID, "id", "", "Worker identity used as the lock owner")
	cmd.Flags().StringVar(&store, "store", "", "Queue location (defaults to "+worker.EnvStore+" or queue.store)")
	return cmd
}
