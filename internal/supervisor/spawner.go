package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"rulerunner/internal/processor"
	"rulerunner/internal/queue"
	"rulerunner/internal/worker"
)

const defaultGracePeriod = 10 * time.Second

// WorkerSpec identifies one worker of a run.
type WorkerSpec struct {
	ID    string
	Index int
	Store string
}

// Handle is a started worker.
type Handle interface {
	// Wait blocks until the worker exits. A nil error means it drained the
	// queue or stopped on request.
	Wait() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Handle, error)
}

var commandContext = exec.CommandContext

// ProcessSpawner starts each worker as "<Executable> worker --id ID --store
// LOCATION [Args...]". Cancelling the spawn context sends SIGTERM, then kills
// the worker after GracePeriod.
type ProcessSpawner struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are appended after the worker flags.
	Args []string
	// Env is added to the inherited environment.
	Env         []string
	Stdout      io.Writer
	Stderr      io.Writer
	GracePeriod time.Duration
}

func (s *ProcessSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Handle, error) {
	exe := s.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
	}
	args := append([]string{"worker", "--id", spec.ID, "--store", spec.Store}, s.Args...)
	cmd := commandContext(ctx, exe, args...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, s.Env...)
	cmd.Env = append(cmd.Env, worker.EnvWorkerID+"="+spec.ID, worker.EnvStore+"="+spec.Store)
	cmd.Stdout = s.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stdout
	}
	cmd.Stderr = s.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = s.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultGracePeriod
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start worker %s: %w", spec.ID, err)
	}
	return &processHandle{cmd: cmd, id: spec.ID}, nil
}

type processHandle struct {
	cmd *exec.Cmd
	id  string
}

func (h *processHandle) Wait() error {
	err := h.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == worker.ExitStorageFailure {
		return fmt.Errorf("%w: worker %s exited with status %d", worker.ErrStorageFailure, h.id, worker.ExitStorageFailure)
	}
	if err != nil {
		return fmt.Errorf("worker %s: %w", h.id, err)
	}
	return nil
}

// ProcessorFactory builds the processor for one worker.
type ProcessorFactory func(spec WorkerSpec) (processor.Processor, error)

// InProcessSpawner runs each worker loop on its own goroutine with a private
// queue handle, so workers still coordinate only through the store.
type InProcessSpawner struct {
	NewProcessor ProcessorFactory
	// Worker is the loop configuration template; WorkerID is set per spawn.
	Worker worker.Config
	Logger *slog.Logger
}

func (s *InProcessSpawner) Spawn(ctx context.Context, spec WorkerSpec) (Handle, error) {
	if s.NewProcessor == nil {
		return nil, errors.New("processor factory required")
	}
	proc, err := s.NewProcessor(spec)
	if err != nil {
		return nil, fmt.Errorf("build processor: %w", err)
	}
	q, err := queue.Open(ctx, spec.Store, s.Logger)
	if err != nil {
		return nil, fmt.Errorf("open queue: %w", err)
	}
	cfg := s.Worker
	cfg.WorkerID = spec.ID
	loop, err := worker.NewLoop(q, proc, cfg, s.Logger)
	if err != nil {
		_ = q.Close()
		return nil, err
	}

	h := &goroutineHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer q.Close()
		_, err := loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		h.err = err
	}()
	return h, nil
}

type goroutineHandle struct {
	done chan struct{}
	err  error
}

func (h *goroutineHandle) Wait() error {
	<-h.done
	return h.err
}
