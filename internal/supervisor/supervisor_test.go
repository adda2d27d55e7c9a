package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"rulerunner/internal/processor"
	"rulerunner/internal/queue"
	"rulerunner/internal/worker"
)

func rejectBad() processor.Processor {
	return processor.Func(func(_ context.Context, payload string) (bool, error) {
		return !strings.Contains(payload, "bad"), nil
	})
}

func inProcess(proc processor.Processor) *InProcessSpawner {
	return &InProcessSpawner{
		NewProcessor: func(WorkerSpec) (processor.Processor, error) { return proc, nil },
		Worker:       worker.Config{ClaimRetries: 1, ClaimBackoff: time.Millisecond},
	}
}

func payloads(n int, bad ...int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("file_%02d.txt", i)
	}
	for _, idx := range bad {
		out[idx] = fmt.Sprintf("bad_%02d.txt", idx)
	}
	return out
}

func newSupervisor(t *testing.T, cfg Config, spawner Spawner) *Supervisor {
	t.Helper()
	sup, err := New(cfg, spawner, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return sup
}

func TestRunDrainsWithInProcessWorkers(t *testing.T) {
	store := filepath.Join(t.TempDir(), "queue")
	sup := newSupervisor(t, Config{Store: store, Workers: 3}, inProcess(rejectBad()))

	result, err := sup.Run(context.Background(), payloads(30, 4, 17))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := queue.Progress{Completed: 28, Failed: 2, Total: 30}
	if result.Progress != want {
		t.Fatalf("progress = %+v, want %+v", result.Progress, want)
	}
	if len(result.Failed) != 2 || result.Failed[0].Payload != "bad_04.txt" {
		t.Fatalf("unexpected failed items %+v", result.Failed)
	}
	if len(result.Abandoned) != 0 || result.OK() {
		t.Fatalf("unexpected result %+v", result)
	}
	if len(result.Workers) != 3 {
		t.Fatalf("expected 3 worker exits, got %d", len(result.Workers))
	}
	for _, exit := range result.Workers {
		if exit.Err != nil {
			t.Fatalf("worker %s failed: %v", exit.ID, exit.Err)
		}
	}
	if _, err := os.Stat(store); !os.IsNotExist(err) {
		t.Fatalf("expected store removed after run, stat err = %v", err)
	}
}

func TestRunSQLiteStore(t *testing.T) {
	store := "sqlite://" + filepath.Join(t.TempDir(), "queue.db")
	sup := newSupervisor(t, Config{Store: store, Workers: 4}, inProcess(rejectBad()))

	result, err := sup.Run(context.Background(), payloads(25))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.OK() || result.Progress.Completed != 25 {
		t.Fatalf("unexpected result %+v", result.Progress)
	}
}

func TestRunKeepStore(t *testing.T) {
	store := filepath.Join(t.TempDir(), "queue")
	sup := newSupervisor(t, Config{Store: store, Workers: 2, KeepStore: true}, inProcess(rejectBad()))

	if _, err := sup.Run(context.Background(), payloads(5)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	q, err := queue.Open(context.Background(), store, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer q.Close()
	p, err := q.Progress(context.Background())
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if p.Completed != 5 {
		t.Fatalf("expected kept records, got %+v", p)
	}
}

func TestRunEmptyPayloads(t *testing.T) {
	sup := newSupervisor(t, Config{Store: filepath.Join(t.TempDir(), "queue"), Workers: 2}, inProcess(rejectBad()))
	result, err := sup.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Progress != (queue.Progress{}) || !result.OK() {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunReportsProgress(t *testing.T) {
	slow := processor.Func(func(context.Context, string) (bool, error) {
		time.Sleep(15 * time.Millisecond)
		return true, nil
	})
	var calls atomic.Int32
	cfg := Config{
		Store:            filepath.Join(t.TempDir(), "queue"),
		Workers:          2,
		ProgressInterval: 10 * time.Millisecond,
		OnProgress: func(p queue.Progress) {
			calls.Add(1)
			if p.Total != 10 {
				t.Errorf("progress total = %d", p.Total)
			}
		},
	}
	if _, err := newSupervisor(t, cfg, inProcess(slow)).Run(context.Background(), payloads(10)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls.Load() == 0 {
		t.Fatal("expected at least one progress callback")
	}
}

type scriptedSpawner struct {
	inner Spawner
	fail  map[int]error
	mu    sync.Mutex
	specs []WorkerSpec
}

func (s *scriptedSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Handle, error) {
	s.mu.Lock()
	s.specs = append(s.specs, spec)
	s.mu.Unlock()
	if err, ok := s.fail[spec.Index]; ok {
		return nil, err
	}
	return s.inner.Spawn(ctx, spec)
}

func TestRunSurvivesPartialSpawnFailure(t *testing.T) {
	spawner := &scriptedSpawner{inner: inProcess(rejectBad()), fail: map[int]error{1: errors.New("fork failed")}}
	sup := newSupervisor(t, Config{Store: filepath.Join(t.TempDir(), "queue"), Workers: 3}, spawner)

	result, err := sup.Run(context.Background(), payloads(8))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Progress.Completed != 8 {
		t.Fatalf("remaining workers should drain the queue, got %+v", result.Progress)
	}
	if result.Workers[1].Err == nil {
		t.Fatal("expected spawn failure recorded for worker 1")
	}
	idPattern := regexp.MustCompile(`^worker_\d+_[0-9a-f]{8}$`)
	for _, spec := range spawner.specs {
		if !idPattern.MatchString(spec.ID) {
			t.Fatalf("unexpected worker id %q", spec.ID)
		}
	}
}

func TestRunFailsWhenNoWorkerSpawns(t *testing.T) {
	store := filepath.Join(t.TempDir(), "queue")
	spawner := &scriptedSpawner{fail: map[int]error{0: errors.New("no"), 1: errors.New("no")}}
	sup := newSupervisor(t, Config{Store: store, Workers: 2}, spawner)
	if _, err := sup.Run(context.Background(), payloads(3)); err == nil {
		t.Fatal("expected error when no worker spawns")
	}
	if _, err := os.Stat(store); !os.IsNotExist(err) {
		t.Fatalf("expected store cleaned up, stat err = %v", err)
	}
}

// crashingSpawner starts a worker that claims one item and exits without
// completing it.
type crashingSpawner struct{}

func (crashingSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Handle, error) {
	q, err := queue.Open(ctx, spec.Store, nil)
	if err != nil {
		return nil, err
	}
	defer q.Close()
	if _, err := q.Claim(ctx, spec.ID); err != nil {
		return nil, err
	}
	h := &goroutineHandle{done: make(chan struct{}), err: errors.New("worker killed")}
	close(h.done)
	return h, nil
}

func TestRunReportsAbandonedItems(t *testing.T) {
	spawner := &scriptedSpawner{inner: crashingSpawner{}}
	sup := newSupervisor(t, Config{Store: filepath.Join(t.TempDir(), "queue"), Workers: 1}, spawner)

	result, err := sup.Run(context.Background(), payloads(2))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Progress.Claimed != 1 || result.Progress.Pending != 1 {
		t.Fatalf("unexpected progress %+v", result.Progress)
	}
	if len(result.Abandoned) != 1 || result.Abandoned[0].ID != 0 {
		t.Fatalf("expected item 0 abandoned, got %+v", result.Abandoned)
	}
	if result.OK() {
		t.Fatal("abandoned items must not count as success")
	}
}

func TestRunStartsFromEmptyStore(t *testing.T) {
	store := filepath.Join(t.TempDir(), "queue")
	first := newSupervisor(t, Config{Store: store, Workers: 1, KeepStore: true}, &scriptedSpawner{inner: crashingSpawner{}})
	if _, err := first.Run(context.Background(), payloads(3)); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second := newSupervisor(t, Config{Store: store, Workers: 2}, inProcess(rejectBad()))
	result, err := second.Run(context.Background(), payloads(1))
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	want := queue.Progress{Completed: 1, Total: 1}
	if result.Progress != want {
		t.Fatalf("progress = %+v, want %+v", result.Progress, want)
	}
	if !result.OK() {
		t.Fatalf("expected a clean run, got %+v", result)
	}
}

// corruptingSpawner writes a record with an unknown status so the final
// tally cannot be computed.
type corruptingSpawner struct{}

func (corruptingSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Handle, error) {
	backend, err := queue.NewFileBackend(spec.Store)
	if err != nil {
		return nil, err
	}
	if err := backend.Put(ctx, queue.Item{ID: 99, Payload: "x", Status: "bogus"}); err != nil {
		return nil, err
	}
	h := &goroutineHandle{done: make(chan struct{})}
	close(h.done)
	return h, nil
}

func TestRunCleansUpWhenFinalProgressFails(t *testing.T) {
	store := filepath.Join(t.TempDir(), "queue")
	sup := newSupervisor(t, Config{Store: store, Workers: 1}, corruptingSpawner{})

	if _, err := sup.Run(context.Background(), payloads(2)); err == nil {
		t.Fatal("expected final progress failure")
	}
	if _, err := os.Stat(store); !os.IsNotExist(err) {
		t.Fatalf("expected store removed, stat err = %v", err)
	}
}

func TestRunRejectsUnwritableStore(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	base := t.TempDir()
	if err := os.Chmod(base, 0o500); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chmod(base, 0o755) })
	sup := newSupervisor(t, Config{Store: filepath.Join(base, "queue"), Workers: 1}, inProcess(rejectBad()))
	if _, err := sup.Run(context.Background(), payloads(1)); err == nil {
		t.Fatal("expected preflight failure")
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Store: "x"}, nil, nil); err == nil {
		t.Fatal("expected error for nil spawner")
	}
	if _, err := New(Config{}, inProcess(rejectBad()), nil); err == nil {
		t.Fatal("expected error for empty store")
	}
}

func useHelperProcess(t *testing.T, mode string) *[][]string {
	t.Helper()
	var (
		mu       sync.Mutex
		captured [][]string
	)
	original := commandContext
	commandContext = func(ctx context.Context, name string, args ...string) *exec.Cmd {
		mu.Lock()
		captured = append(captured, append([]string(nil), args...))
		mu.Unlock()
		cmd := exec.CommandContext(ctx, os.Args[0], "-test.run=TestHelperProcess")
		cmd.Env = append(os.Environ(), "GO_WANT_HELPER_PROCESS=1", "SUPERVISOR_HELPER_MODE="+mode)
		return cmd
	}
	t.Cleanup(func() {
		commandContext = original
	})
	return &captured
}

func quietProcessSpawner() *ProcessSpawner {
	return &ProcessSpawner{
		Executable:  "rulerunner",
		Args:        []string{"--log-level", "debug"},
		Stdout:      io.Discard,
		Stderr:      io.Discard,
		GracePeriod: 2 * time.Second,
	}
}

func TestProcessSpawnerRunsWorkerProcesses(t *testing.T) {
	captured := useHelperProcess(t, "drain")
	store := filepath.Join(t.TempDir(), "queue")
	sup := newSupervisor(t, Config{Store: store, Workers: 3}, quietProcessSpawner())

	result, err := sup.Run(context.Background(), payloads(12, 3))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Progress.Completed != 11 || result.Progress.Failed != 1 || result.Progress.Total != 12 {
		t.Fatalf("unexpected progress %+v", result.Progress)
	}
	if len(*captured) != 3 {
		t.Fatalf("expected 3 worker processes, got %d", len(*captured))
	}
	args := (*captured)[0]
	if args[0] != "worker" || args[1] != "--id" || args[3] != "--store" || args[4] != result.Store {
		t.Fatalf("unexpected worker args %v", args)
	}
	if args[len(args)-2] != "--log-level" {
		t.Fatalf("extra args not appended: %v", args)
	}
}

func TestProcessSpawnerMapsStorageFailure(t *testing.T) {
	useHelperProcess(t, "storage")
	sup := newSupervisor(t, Config{Store: filepath.Join(t.TempDir(), "queue"), Workers: 2}, quietProcessSpawner())

	result, err := sup.Run(context.Background(), payloads(3))
	if !errors.Is(err, worker.ErrStorageFailure) {
		t.Fatalf("expected ErrStorageFailure, got %v", err)
	}
	if result == nil || result.Progress.Pending != 3 {
		t.Fatalf("expected result with untouched items, got %+v", result)
	}
}

func TestProcessSpawnerForwardsCancellation(t *testing.T) {
	useHelperProcess(t, "hang")
	sup := newSupervisor(t, Config{Store: filepath.Join(t.TempDir(), "queue"), Workers: 1}, quietProcessSpawner())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	time.AfterFunc(500*time.Millisecond, cancel)
	started := time.Now()
	result, err := sup.Run(ctx, payloads(2))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if result == nil || result.Progress.Total != 2 {
		t.Fatalf("expected final tally after interrupt, got %+v", result)
	}
	if time.Since(started) > 10*time.Second {
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestWorkerIDFormat(t *testing.T) {
	id := WorkerID(7)
	if !regexp.MustCompile(`^worker_7_[0-9a-f]{8}$`).MatchString(id) {
		t.Fatalf("unexpected id %q", id)
	}
	if WorkerID(7) == id {
		t.Fatal("expected unique ids")
	}
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, os.Interrupt)
	defer stop()

	var proc processor.Processor
	switch os.Getenv("SUPERVISOR_HELPER_MODE") {
	case "storage":
		os.Exit(worker.ExitStorageFailure)
	case "hang":
		proc = processor.Func(func(ctx context.Context, _ string) (bool, error) {
			<-ctx.Done()
			return false, ctx.Err()
		})
	default:
		proc = rejectBad()
	}

	q, err := queue.Open(ctx, os.Getenv(worker.EnvStore), nil)
	if err != nil {
		os.Exit(worker.ExitError)
	}
	loop, err := worker.NewLoop(q, proc, worker.Config{WorkerID: os.Getenv(worker.EnvWorkerID)}, nil)
	if err != nil {
		os.Exit(worker.ExitError)
	}
	_, err = loop.Run(ctx)
	_ = q.Close()
	os.Exit(worker.ExitCode(err))
}
