package config

import (
	"fmt"
	"os"
	"strings"
)

// Store location schemes whose remainder is a filesystem path.
var pathSchemes = []string{"file://", "sqlite://"}

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	if err := c.normalizeQueue(); err != nil {
		return err
	}
	c.normalizeWorker()
	c.normalizeProcessor()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeQueue() error {
	if value, ok := os.LookupEnv("RULERUNNER_STORE"); ok && strings.TrimSpace(value) != "" {
		c.Queue.Store = value
	}
	store, err := NormalizeStore(c.Queue.Store)
	if err != nil {
		return fmt.Errorf("queue.store: %w", err)
	}
	c.Queue.Store = store
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = defaultWorkers
	}
	if c.Queue.ProgressInterval <= 0 {
		c.Queue.ProgressInterval = defaultProgressInterval
	}
	return nil
}

func (c *Config) normalizeWorker() {
	if c.Worker.ItemDelayMillis < 0 {
		c.Worker.ItemDelayMillis = 0
	}
	if c.Worker.ClaimRetries < 0 {
		c.Worker.ClaimRetries = 0
	}
	if c.Worker.ClaimBackoffMillis <= 0 {
		c.Worker.ClaimBackoffMillis = defaultClaimBackoffMillis
	}
}

func (c *Config) normalizeProcessor() {
	command := make([]string, 0, len(c.Processor.Command))
	for _, arg := range c.Processor.Command {
		if strings.TrimSpace(arg) == "" {
			continue
		}
		command = append(command, arg)
	}
	c.Processor.Command = command
	if c.Processor.Timeout <= 0 {
		c.Processor.Timeout = defaultProcessorTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	if value, ok := os.LookupEnv("RULERUNNER_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

// NormalizeStore expands the filesystem part of a store location. Plain paths
// and file:// or sqlite:// locations get tilde and absolute path expansion;
// other schemes are returned trimmed.
func NormalizeStore(location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		location = defaultStore()
	}
	for _, scheme := range pathSchemes {
		if rest, ok := strings.CutPrefix(location, scheme); ok {
			expanded, err := expandPath(rest)
			if err != nil {
				return "", err
			}
			return scheme + expanded, nil
		}
	}
	if strings.Contains(location, "://") {
		return location, nil
	}
	return expandPath(location)
}
