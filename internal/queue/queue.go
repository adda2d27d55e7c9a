package queue

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"rulerunner/internal/logging"
)

// Queue coordinates claims over a Backend. Every process of a run holds its
// own Queue over the same location; all cross-process coordination happens
// inside the backend.
type Queue struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time
}

// New wraps backend. A nil logger discards output.
func New(backend Backend, logger *slog.Logger) *Queue {
	return &Queue{
		backend: backend,
		logger:  logging.NewComponentLogger(logger, "queue"),
		now:     time.Now,
	}
}

// Open resolves location to a backend, initializes it, and returns a queue
// handle over it.
func Open(ctx context.Context, location string, logger *slog.Logger) (*Queue, error) {
	backend, err := OpenBackend(location)
	if err != nil {
		return nil, err
	}
	q := New(backend, logger)
	if err := q.Initialize(ctx); err != nil {
		_ = backend.Close()
		return nil, err
	}
	return q, nil
}

// Location returns the string other processes use to reach this queue.
func (q *Queue) Location() string { return q.backend.Location() }

// Backend exposes the storage substrate.
func (q *Queue) Backend() Backend { return q.backend }

// Initialize creates the store root and lock namespace. Safe to call from
// several processes concurrently.
func (q *Queue) Initialize(ctx context.Context) error {
	if err := q.backend.Init(ctx); err != nil {
		return storageErr("initialize", -1, err)
	}
	return nil
}

// Reset discards every record and lock left by an earlier run and
// reinitializes the store, so a following Seed starts from nothing.
func (q *Queue) Reset(ctx context.Context) error {
	ids, err := q.backend.IDs(ctx)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return storageErr("list", -1, err)
	}
	if len(ids) > 0 {
		logging.WarnWithContext(q.logger, "discarding leftover items", "queue_reset",
			logging.Int("items", len(ids)),
			logging.String(logging.FieldStore, q.Location()),
			logging.String(logging.FieldImpact, "records and locks of the previous run are removed"),
			logging.String(logging.FieldErrorHint, "use a separate store to keep earlier results"),
		)
	}
	if err := q.backend.Destroy(ctx); err != nil {
		return storageErr("reset", -1, err)
	}
	return q.Initialize(ctx)
}

// Seed writes one pending item per payload, using the payload's index as its
// id. It must run before any worker starts.
func (q *Queue) Seed(ctx context.Context, payloads []string) error {
	now := q.now().UTC()
	items := make([]Item, len(payloads))
	for i, payload := range payloads {
		items[i] = Item{ID: i, Payload: payload, Status: StatusPending, CreatedAt: now}
	}
	if batch, ok := q.backend.(batchPutter); ok {
		if err := batch.PutAll(ctx, items); err != nil {
			return storageErr("seed", -1, err)
		}
	} else {
		for _, item := range items {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := q.backend.Put(ctx, item); err != nil {
				return storageErr("seed", item.ID, err)
			}
		}
	}
	q.logger.Info("queue seeded",
		logging.Int("items", len(items)),
		logging.String(logging.FieldStore, q.Location()),
	)
	return nil
}

// Claim takes the lowest-id pending item for workerID. It returns nil, nil
// when no item can be claimed. The returned item's lock stays held until
// Complete.
func (q *Queue) Claim(ctx context.Context, workerID string) (*Item, error) {
	ids, err := q.backend.IDs(ctx)
	if err != nil {
		return nil, storageErr("list", -1, err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		acquired, err := q.backend.Lock(ctx, id, workerID)
		if err != nil {
			return nil, storageErr("lock", id, err)
		}
		if !acquired {
			continue
		}
		item, claimed, err := q.claimLocked(ctx, id, workerID)
		if err != nil {
			q.release(id)
			return nil, err
		}
		if !claimed {
			// Terminal, or claimed by a worker that died before completing.
			q.release(id)
			continue
		}
		q.logger.Debug("item claimed",
			logging.String(logging.FieldWorkerID, workerID),
			logging.Int(logging.FieldItemID, id),
		)
		return item, nil
	}
	return nil, nil
}

// claimLocked runs while holding the lock for id.
func (q *Queue) claimLocked(ctx context.Context, id int, workerID string) (*Item, bool, error) {
	item, err := q.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, storageErr("read", id, err)
	}
	if item.Status != StatusPending {
		return nil, false, nil
	}
	item.Status = StatusClaimed
	item.WorkerID = workerID
	item.ClaimedAt = q.now().UTC()
	if err := q.backend.Put(ctx, item); err != nil {
		return nil, false, storageErr("write", id, err)
	}
	return &item, true, nil
}

func (q *Queue) release(id int) {
	if err := q.backend.Unlock(context.Background(), id); err != nil {
		logging.WarnWithContext(q.logger, "lock release failed", "lock_release_failed",
			logging.Int(logging.FieldItemID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "item stays locked for the rest of the run"),
		)
	}
}

// Complete records the outcome of a claimed item and releases its lock.
// Completing an item that is not claimed returns ErrNotClaimed and leaves
// the record untouched.
func (q *Queue) Complete(ctx context.Context, id int, success bool) error {
	item, err := q.backend.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("complete item %d: %w", id, ErrNotFound)
		}
		return storageErr("read", id, err)
	}
	if item.Status != StatusClaimed {
		return fmt.Errorf("complete item %d (status %s): %w", id, item.Status, ErrNotClaimed)
	}
	item.Status = StatusFailed
	if success {
		item.Status = StatusCompleted
	}
	item.CompletedAt = q.now().UTC()
	if err := q.backend.Put(ctx, item); err != nil {
		return storageErr("write", id, err)
	}
	if err := q.backend.Unlock(ctx, id); err != nil {
		logging.WarnWithContext(q.logger, "lock release failed", "lock_release_failed",
			logging.Int(logging.FieldItemID, id),
			logging.Error(err),
			logging.String(logging.FieldImpact, "terminal item keeps a stale lock"),
		)
	}
	return nil
}

// Items returns every record in ascending id order.
func (q *Queue) Items(ctx context.Context) ([]Item, error) {
	ids, err := q.backend.IDs(ctx)
	if err != nil {
		return nil, storageErr("list", -1, err)
	}
	items := make([]Item, 0, len(ids))
	for _, id := range ids {
		item, err := q.backend.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, storageErr("read", id, err)
		}
		items = append(items, item)
	}
	return items, nil
}

// Progress tallies item statuses. A record with an unknown status is an error.
func (q *Queue) Progress(ctx context.Context) (Progress, error) {
	items, err := q.Items(ctx)
	if err != nil {
		return Progress{}, err
	}
	var p Progress
	for _, item := range items {
		if !p.add(item.Status) {
			return Progress{}, storageErr("progress", item.ID, fmt.Errorf("unknown status %q", item.Status))
		}
	}
	return p, nil
}

// Cleanup destroys every record and lock. Calling it again is a no-op.
func (q *Queue) Cleanup(ctx context.Context) error {
	if err := q.backend.Destroy(ctx); err != nil {
		return storageErr("cleanup", -1, err)
	}
	q.logger.Debug("queue removed", logging.String(logging.FieldStore, q.Location()))
	return nil
}

// Close releases the backend connection without touching stored data.
func (q *Queue) Close() error {
	return q.backend.Close()
}
