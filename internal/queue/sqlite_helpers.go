package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const itemColumns = "id, payload, status, worker_id, created_at, claimed_at, completed_at"

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// retryOnBusy reruns op while SQLite reports another connection holds the
// write lock, backing off between attempts.
func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func scanItem(scanner interface{ Scan(dest ...any) error }) (Item, error) {
	var (
		id           int64
		payload      string
		statusStr    string
		workerID     sql.NullString
		createdRaw   string
		claimedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(&id, &payload, &statusStr, &workerID, &createdRaw, &claimedRaw, &completedRaw); err != nil {
		return Item{}, err
	}
	item := Item{
		ID:       int(id),
		Payload:  payload,
		Status:   Status(statusStr),
		WorkerID: workerID.String,
	}
	if t, err := parseTimeString(createdRaw); err == nil {
		item.CreatedAt = t
	}
	if claimedRaw.Valid {
		if t, err := parseTimeString(claimedRaw.String); err == nil {
			item.ClaimedAt = t
		}
	}
	if completedRaw.Valid {
		if t, err := parseTimeString(completedRaw.String); err == nil {
			item.CompletedAt = t
		}
	}
	return item, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value time.Time) any {
	if value.IsZero() {
		return nil
	}
	return formatTime(value)
}

func formatTime(value time.Time) string {
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
