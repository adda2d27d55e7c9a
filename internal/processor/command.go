package processor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"rulerunner/internal/logging"
)

const (
	// PayloadToken is replaced by the payload in every command argument.
	PayloadToken = "{payload}"
	// EnvPayload carries the payload to the command's environment.
	EnvPayload = "RULERUNNER_PAYLOAD"
	// DefaultTimeout bounds a single command run.
	DefaultTimeout = 120 * time.Second

	killGrace = 5 * time.Second
)

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, argv []string, env []string, stdout, stderr io.Writer) error
}

// Option configures a Command.
type Option func(*Command)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Command) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// WithTimeout overrides DefaultTimeout. Non-positive values disable the limit.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Command) {
		c.timeout = timeout
	}
}

// WithEnv appends KEY=VALUE pairs to the command environment.
func WithEnv(env ...string) Option {
	return func(c *Command) {
		c.env = append(c.env, env...)
	}
}

// WithOutput redirects the command's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(c *Command) {
		c.stdout = stdout
		c.stderr = stderr
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Command) {
		c.logger = logger
	}
}

// Command runs an external program per payload. Exit status 0 is success; a
// non-zero exit or a timeout is a failed payload, not an error.
type Command struct {
	argv    []string
	timeout time.Duration
	env     []string
	stdout  io.Writer
	stderr  io.Writer
	exec    Executor
	logger  *slog.Logger
}

// NewCommand builds a Command for argv.
func NewCommand(argv []string, opts ...Option) (*Command, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("processor command required")
	}
	c := &Command{
		argv:    append([]string(nil), argv...),
		timeout: DefaultTimeout,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		exec:    commandExecutor{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.NewComponentLogger(c.logger, "processor")
	return c, nil
}

// Args returns argv with payload substituted. The payload is appended when no
// argument contains PayloadToken.
func (c *Command) Args(payload string) []string {
	args := make([]string, len(c.argv))
	substituted := false
	for i, arg := range c.argv {
		if strings.Contains(arg, PayloadToken) {
			arg = strings.ReplaceAll(arg, PayloadToken, payload)
			substituted = true
		}
		args[i] = arg
	}
	if !substituted {
		args = append(args, payload)
	}
	return args
}

// Process runs the command for payload.
func (c *Command) Process(ctx context.Context, payload string) (bool, error) {
	runCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	args := c.Args(payload)
	env := append(append([]string(nil), c.env...), EnvPayload+"="+payload)
	started := time.Now()
	err := c.exec.Run(runCtx, args, env, c.stdout, c.stderr)
	elapsed := time.Since(started)

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return true, nil
	case errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		logging.WarnWithContext(c.logger, "processor timed out", "processor_timeout",
			logging.String(logging.FieldPayload, payload),
			logging.Duration("timeout", c.timeout),
			logging.String(logging.FieldImpact, "payload marked failed"),
			logging.String(logging.FieldErrorHint, "raise processor.timeout or split the payload"),
		)
		return false, nil
	case errors.As(err, &exitErr):
		c.logger.Debug("processor exited non-zero",
			logging.String(logging.FieldPayload, payload),
			logging.Int("exit_code", exitErr.ExitCode()),
			logging.Duration("elapsed", elapsed),
		)
		return false, nil
	case ctx.Err() != nil:
		return false, ctx.Err()
	default:
		return false, fmt.Errorf("run %s: %w", args[0], err)
	}
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, argv []string, env []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace
	return cmd.Run()
}
