package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"rulerunner/internal/logging"
	"rulerunner/internal/processor"
	"rulerunner/internal/queue"
)

// Exit codes of the worker process.
const (
	ExitOK             = 0
	ExitError          = 1
	ExitStorageFailure = 3
)

// ErrStorageFailure reports that the queue's storage kept failing and the
// worker gave up.
var ErrStorageFailure = errors.New("worker storage failure")

// Queue is the part of queue.Queue a loop needs.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*queue.Item, error)
	Complete(ctx context.Context, id int, success bool) error
	Progress(ctx context.Context) (queue.Progress, error)
}

// Config tunes a loop.
type Config struct {
	WorkerID string
	// ItemDelay pauses between items. Zero disables the pause.
	ItemDelay time.Duration
	// ClaimRetries is how many times a failing Claim is retried.
	ClaimRetries int
	// ClaimBackoff is the first retry delay; it doubles on every attempt.
	ClaimBackoff time.Duration
}

// Stats counts what one loop did.
type Stats struct {
	Claimed   int
	Completed int
	Failed    int
}

// Loop is one worker.
type Loop struct {
	queue     Queue
	processor processor.Processor
	cfg       Config
	logger    *slog.Logger
}

// NewLoop wires a loop. A nil logger discards output.
func NewLoop(q Queue, proc processor.Processor, cfg Config, logger *slog.Logger) (*Loop, error) {
	if q == nil {
		return nil, errors.New("worker queue required")
	}
	if proc == nil {
		return nil, errors.New("worker processor required")
	}
	if cfg.WorkerID == "" {
		return nil, errors.New("worker id required")
	}
	if cfg.ClaimRetries < 0 {
		cfg.ClaimRetries = 0
	}
	base := logging.NewComponentLogger(logger, "worker")
	return &Loop{
		queue:     q,
		processor: proc,
		cfg:       cfg,
		logger:    base.With(logging.String(logging.FieldWorkerID, cfg.WorkerID)),
	}, nil
}

// Run processes items until none is claimable. It returns context.Canceled
// when ctx ends between items and an error wrapping ErrStorageFailure when the
// queue cannot be read or written.
func (l *Loop) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	ctx = logging.WithWorkerID(ctx, l.cfg.WorkerID)
	l.logger.Info("worker started")

	for {
		if err := ctx.Err(); err != nil {
			l.logger.Info("worker stopping", logging.Int("completed", stats.Completed), logging.Int("failed", stats.Failed))
			return stats, err
		}

		item, err := l.claim(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return stats, ctx.Err()
			}
			logging.ErrorWithContext(l.logger, "claim failed", "claim_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the queue store is reachable and writable"),
			)
			return stats, fmt.Errorf("%w: %w", ErrStorageFailure, err)
		}
		if item == nil {
			l.logger.Info("no more work available",
				logging.Int("claimed", stats.Claimed),
				logging.Int("completed", stats.Completed),
				logging.Int("failed", stats.Failed),
			)
			return stats, nil
		}
		stats.Claimed++

		success := l.process(ctx, item)

		// A stop request must not leave the claimed item unreported.
		if err := l.queue.Complete(context.WithoutCancel(ctx), item.ID, success); err != nil {
			if queue.IsStorageError(err) {
				logging.ErrorWithContext(l.logger, "complete failed", "complete_failed",
					logging.Int(logging.FieldItemID, item.ID),
					logging.Error(err),
				)
				return stats, fmt.Errorf("%w: %w", ErrStorageFailure, err)
			}
			logging.WarnWithContext(l.logger, "completion rejected", "complete_rejected",
				logging.Int(logging.FieldItemID, item.ID),
				logging.Error(err),
				logging.String(logging.FieldImpact, "outcome not recorded for this item"),
			)
			continue
		}
		if success {
			stats.Completed++
		} else {
			stats.Failed++
		}

		if err := l.pause(ctx); err != nil {
			return stats, err
		}
	}
}

// claim retries storage failures with doubling backoff.
func (l *Loop) claim(ctx context.Context) (*queue.Item, error) {
	delay := l.cfg.ClaimBackoff
	var lastErr error
	for attempt := 0; attempt <= l.cfg.ClaimRetries; attempt++ {
		item, err := l.queue.Claim(ctx, l.cfg.WorkerID)
		if err == nil {
			return item, nil
		}
		lastErr = err
		if !queue.IsStorageError(err) || attempt == l.cfg.ClaimRetries {
			break
		}
		l.logger.Debug("claim failed, retrying",
			logging.Int("attempt", attempt+1),
			logging.Duration("backoff", delay),
			logging.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
		delay *= 2
	}
	return nil, lastErr
}

func (l *Loop) process(ctx context.Context, item *queue.Item) (success bool) {
	logger := logging.WithContext(logging.WithItemID(ctx, item.ID), l.logger).
		With(logging.String(logging.FieldPayload, item.Payload))
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logging.ErrorWithContext(logger, "processor panicked", "processor_panic",
				logging.Any("panic", r),
			)
			success = false
		}
		outcome := "completed"
		if !success {
			outcome = "failed"
		}
		logger.Info("item "+outcome, logging.Duration("elapsed", time.Since(started)))
	}()

	logger.Info("processing item")
	ok, err := l.processor.Process(ctx, item.Payload)
	if err != nil {
		logging.WarnWithContext(logger, "processor error", "processor_error",
			logging.Error(err),
			logging.String(logging.FieldImpact, "item marked failed"),
		)
		return false
	}
	return ok
}

// pause waits ItemDelay before the next claim. It is skipped once nothing is
// pending, so the final item is never followed by a delay.
func (l *Loop) pause(ctx context.Context) error {
	if l.cfg.ItemDelay <= 0 {
		return nil
	}
	if progress, err := l.queue.Progress(ctx); err == nil && progress.Pending == 0 {
		return nil
	}
	return sleep(ctx, l.cfg.ItemDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExitCode maps the result of Run to the worker process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return ExitOK
	case errors.Is(err, ErrStorageFailure):
		return ExitStorageFailure
	default:
		return ExitError
	}
}
