package testsupport

import (
	"path/filepath"
	"testing"

	"rulerunner/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// The queue defaults to a file store under the temp directory and workers run
// without delays or claim backoff.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Queue.Store = filepath.Join(base, "queue")
	cfgVal.Queue.Workers = 2
	cfgVal.Queue.ProgressInterval = 1
	cfgVal.Worker.ClaimBackoffMillis = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithStore points the queue at a location.
func WithStore(location string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Store = location
	}
}

// WithSQLiteStore places a SQLite queue inside the test's temp directory.
func WithSQLiteStore() ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Store = "sqlite://" + filepath.Join(b.baseDir, "queue.db")
	}
}

// WithWorkers overrides the worker count.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.Workers = n
	}
}

// WithCommand sets the processor command.
func WithCommand(argv ...string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Processor.Command = argv
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.LogDir)
}
