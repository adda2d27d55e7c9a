package processor

import "context"

// Processor handles one payload. The boolean reports success; an error is
// treated by callers as a failed payload.
type Processor interface {
	Process(ctx context.Context, payload string) (bool, error)
}

// Func adapts a plain function to Processor.
type Func func(ctx context.Context, payload string) (bool, error)

// Process calls f.
func (f Func) Process(ctx context.Context, payload string) (bool, error) {
	return f(ctx, payload)
}
