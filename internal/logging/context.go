package logging

import (
	"context"
	"log/slog"
)

type contextKey int

const (
	workerIDKey contextKey = iota
	itemIDKey
)

// WithWorkerID tags ctx with the worker that is doing the work.
func WithWorkerID(ctx context.Context, workerID string) context.Context {
	return context.WithValue(ctx, workerIDKey, workerID)
}

// WithItemID tags ctx with the work item being processed.
func WithItemID(ctx context.Context, id int) context.Context {
	return context.WithValue(ctx, itemIDKey, id)
}

// ContextFields extracts standardized slog attributes from ctx.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 2)
	if id, ok := ctx.Value(workerIDKey).(string); ok && id != "" {
		fields = append(fields, slog.String(FieldWorkerID, id))
	}
	if id, ok := ctx.Value(itemIDKey).(int); ok {
		fields = append(fields, slog.Int(FieldItemID, id))
	}
	return fields
}

// WithContext returns logger augmented with the fields carried by ctx.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return slog.New(logger.Handler().WithAttrs(fields))
}
