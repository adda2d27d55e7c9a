package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"rulerunner/internal/config"
)

// LogFileName is the shared JSON log every process of a run appends to.
const LogFileName = "rulerunner.log"

// Options describes logger construction parameters.
type Options struct {
	Level  string
	Format string
	// Path appends output to a file, creating its directory.
	Path string
	// Writer receives output too. Stderr is used when neither is set.
	Writer io.Writer
}

// New constructs a slog logger using the provided options.
func New(opts Options) (*slog.Logger, error) {
	level := parseLevel(opts.Level)
	out, err := openOutput(opts.Path, opts.Writer)
	if err != nil {
		return nil, err
	}
	// Caller locations are only worth their noise while debugging.
	addSource := level <= slog.LevelDebug

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "json":
		return slog.New(newJSONHandler(out, level, addSource)), nil
	case "console", "":
		return slog.New(newConsoleHandler(out, level, addSource)), nil
	default:
		return nil, fmt.Errorf("log format: unsupported value %q", opts.Format)
	}
}

// NewFromConfig creates the process logger. The console gets the configured
// format on stderr; LogFileName under the log directory always receives JSON
// so lines from concurrent worker processes stay machine-separable.
func NewFromConfig(cfg *config.Config, levelOverride string) (*slog.Logger, error) {
	if cfg == nil {
		return New(Options{})
	}

	level := cfg.Logging.Level
	if strings.TrimSpace(levelOverride) != "" {
		level = levelOverride
	}
	console, err := New(Options{Level: level, Format: cfg.Logging.Format})
	if err != nil {
		return nil, err
	}
	if cfg.Paths.LogDir == "" {
		return console, nil
	}
	file, err := New(Options{
		Level:  level,
		Format: "json",
		Path:   filepath.Join(cfg.Paths.LogDir, LogFileName),
	})
	if err != nil {
		return nil, fmt.Errorf("open shared log: %w", err)
	}
	return slog.New(TeeHandler(console.Handler(), file.Handler())), nil
}

func parseLevel(level string) slog.Level {
	level = strings.TrimSpace(level)
	if strings.EqualFold(level, "warning") {
		level = "warn"
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func openOutput(path string, extra io.Writer) (io.Writer, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		if extra == nil {
			return os.Stderr, nil
		}
		return extra, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	// O_APPEND keeps whole lines from several processes from interleaving.
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", path, err)
	}
	if extra == nil {
		return file, nil
	}
	return io.MultiWriter(extra, file), nil
}

func newJSONHandler(w io.Writer, level slog.Level, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:     level,
		AddSource: addSource,
		ReplaceAttr: func(_ []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.TimeKey:
				attr.Key = "ts"
				if attr.Value.Kind() == slog.KindTime {
					attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
				}
			case slog.LevelKey:
				attr.Value = slog.StringValue(strings.ToLower(attr.Value.String()))
			case slog.SourceKey:
				if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
					attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
				}
			}
			return attr
		},
	})
}
