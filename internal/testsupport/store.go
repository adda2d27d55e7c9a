package testsupport

import (
	"context"
	"testing"

	"rulerunner/internal/logging"
	"rulerunner/internal/queue"
)

// MustOpenQueue opens and initializes the queue at location and registers
// Close with the test cleanup.
func MustOpenQueue(t testing.TB, location string) *queue.Queue {
	t.Helper()

	q, err := queue.Open(context.Background(), location, logging.NewNop())
	if err != nil {
		t.Fatalf("queue.Open(%q): %v", location, err)
	}
	t.Cleanup(func() {
		_ = q.Close()
	})
	return q
}

// MustSeed seeds q with payloads.
func MustSeed(t testing.TB, q *queue.Queue, payloads ...string) {
	t.Helper()

	if err := q.Seed(context.Background(), payloads); err != nil {
		t.Fatalf("Seed: %v", err)
	}
}

// MustProgress returns the current tally of q.
func MustProgress(t testing.TB, q *queue.Queue) queue.Progress {
	t.Helper()

	p, err := q.Progress(context.Background())
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	return p
}
