package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"rulerunner/internal/logging"
	"rulerunner/internal/preflight"
	"rulerunner/internal/queue"
	"rulerunner/internal/worker"
)

// Config controls a run.
type Config struct {
	Store            string
	Workers          int
	ProgressInterval time.Duration
	// KeepStore skips the final cleanup so the records can be inspected.
	KeepStore bool
	// OnProgress receives every periodic tally.
	OnProgress func(queue.Progress)
}

// WorkerExit records how one worker ended.
type WorkerExit struct {
	ID       string
	Err      error
	Duration time.Duration
}

// Result is the outcome of a run.
type Result struct {
	Store    string
	Progress queue.Progress
	Workers  []WorkerExit
	// Failed lists items the processor rejected.
	Failed []queue.Item
	// Abandoned lists items left claimed by a worker that exited early.
	Abandoned []queue.Item
	Duration  time.Duration
}

// OK reports whether every item completed successfully.
func (r *Result) OK() bool {
	return r.Progress.Failed == 0 && r.Progress.Remaining() == 0
}

// Supervisor runs batches.
type Supervisor struct {
	cfg     Config
	spawner Spawner
	logger  *slog.Logger
	newID   func(index int) string
}

// New validates cfg and returns a supervisor.
func New(cfg Config, spawner Spawner, logger *slog.Logger) (*Supervisor, error) {
	if spawner == nil {
		return nil, errors.New("spawner required")
	}
	if strings.TrimSpace(cfg.Store) == "" {
		return nil, errors.New("store location required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Supervisor{
		cfg:     cfg,
		spawner: spawner,
		logger:  logging.NewComponentLogger(logger, "supervisor"),
		newID:   WorkerID,
	}, nil
}

// WorkerID returns a unique worker identity: worker_<index>_<8 hex chars>.
func WorkerID(index int) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("worker_%d_%s", index, suffix)
}

// Run seeds the queue with payloads, drains it with the configured number of
// workers and returns the final tally. If a worker hit a storage failure the
// result is returned together with an error wrapping worker.ErrStorageFailure.
func (s *Supervisor) Run(ctx context.Context, payloads []string) (*Result, error) {
	started := time.Now()
	if err := preflight.CheckStore("Queue store", s.cfg.Store).Err(); err != nil {
		return nil, err
	}
	q, err := queue.Open(ctx, s.cfg.Store, s.logger)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	logger := s.logger.With(logging.String(logging.FieldStore, q.Location()))

	// Records or locks from an earlier run would leak into this one's tally.
	if err := q.Reset(ctx); err != nil {
		return nil, err
	}
	if err := q.Seed(ctx, payloads); err != nil {
		s.cleanup(q, logger)
		return nil, err
	}

	logger.Info("starting workers",
		logging.Int("workers", s.cfg.Workers),
		logging.Int("items", len(payloads)),
	)
	exits := make([]WorkerExit, s.cfg.Workers)
	var wg sync.WaitGroup
	spawned := 0
	for i := 0; i < s.cfg.Workers; i++ {
		spec := WorkerSpec{ID: s.newID(i), Index: i, Store: q.Location()}
		handle, err := s.spawner.Spawn(ctx, spec)
		if err != nil {
			logging.ErrorWithContext(logger, "worker spawn failed", "worker_spawn_failed",
				logging.String(logging.FieldWorkerID, spec.ID),
				logging.Error(err),
			)
			exits[i] = WorkerExit{ID: spec.ID, Err: fmt.Errorf("spawn: %w", err)}
			continue
		}
		spawned++
		wg.Add(1)
		go func() {
			defer wg.Done()
			begin := time.Now()
			err := handle.Wait()
			exits[i] = WorkerExit{ID: spec.ID, Err: err, Duration: time.Since(begin)}
			if err != nil {
				logging.WarnWithContext(logger, "worker exited with error", "worker_failed",
					logging.String(logging.FieldWorkerID, spec.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "items claimed by this worker may be abandoned"),
				)
				return
			}
			logger.Debug("worker finished", logging.String(logging.FieldWorkerID, spec.ID))
		}()
	}
	if spawned == 0 {
		s.cleanup(q, logger)
		return nil, errors.New("no worker could be spawned")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	s.monitor(ctx, q, done, logger)

	// Workers are gone; the final read must not be skipped on interrupt.
	finalCtx := context.WithoutCancel(ctx)
	progress, err := q.Progress(finalCtx)
	if err != nil {
		if s.cfg.KeepStore {
			logger.Info("keeping queue store")
		} else {
			s.cleanup(q, logger)
		}
		return nil, fmt.Errorf("final progress: %w", err)
	}
	result := &Result{Store: q.Location(), Progress: progress, Workers: exits}
	if items, err := q.Items(finalCtx); err != nil {
		logging.WarnWithContext(logger, "could not list final items", "final_items_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "failed and abandoned payloads not reported"),
		)
	} else {
		for _, item := range items {
			switch item.Status {
			case queue.StatusFailed:
				result.Failed = append(result.Failed, item)
			case queue.StatusClaimed:
				result.Abandoned = append(result.Abandoned, item)
			}
		}
	}

	if s.cfg.KeepStore {
		logger.Info("keeping queue store")
	} else {
		s.cleanup(q, logger)
	}
	result.Duration = time.Since(started)

	logger.Info("run finished",
		logging.Int("completed", progress.Completed),
		logging.Int("failed", progress.Failed),
		logging.Int("abandoned", progress.Claimed),
		logging.Int("total", progress.Total),
		logging.Duration("elapsed", result.Duration),
	)

	for _, exit := range exits {
		if errors.Is(exit.Err, worker.ErrStorageFailure) {
			return result, fmt.Errorf("%w: worker %s", worker.ErrStorageFailure, exit.ID)
		}
	}
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

// monitor reports progress until done closes. Poll errors are only logged.
func (s *Supervisor) monitor(ctx context.Context, q *queue.Queue, done <-chan struct{}, logger *slog.Logger) {
	if s.cfg.ProgressInterval <= 0 {
		<-done
		return
	}
	ticker := time.NewTicker(s.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			logger.Info("interrupted, waiting for workers to stop")
			<-done
			return
		case <-ticker.C:
			progress, err := q.Progress(ctx)
			if err != nil {
				logging.WarnWithContext(logger, "progress poll failed", "progress_poll_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "progress report skipped"),
				)
				continue
			}
			logger.Info("progress",
				logging.Int("completed", progress.Completed),
				logging.Int("failed", progress.Failed),
				logging.Int("claimed", progress.Claimed),
				logging.Int("pending", progress.Pending),
				logging.Int("total", progress.Total),
			)
			if s.cfg.OnProgress != nil {
				s.cfg.OnProgress(progress)
			}
		}
	}
}

func (s *Supervisor) cleanup(q *queue.Queue, logger *slog.Logger) {
	if err := q.Cleanup(context.Background()); err != nil {
		logging.WarnWithContext(logger, "queue cleanup failed", "cleanup_failed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "queue records left on disk"),
			logging.String(logging.FieldErrorHint, "remove them with rulerunner cleanup"),
		)
	}
}
