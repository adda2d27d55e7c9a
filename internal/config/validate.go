package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateQueue() error {
	if strings.TrimSpace(c.Queue.Store) == "" {
		return errors.New("queue.store must be set")
	}
	if c.Queue.Workers <= 0 {
		return errors.New("queue.workers must be positive")
	}
	if c.Queue.ProgressInterval <= 0 {
		return errors.New("queue.progress_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q (use console or json)", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

// ValidateProcessor reports whether a processor command is configured. Only
// commands that actually run items need it, so Validate does not enforce it.
func (c *Config) ValidateProcessor() error {
	if len(c.Processor.Command) == 0 {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/rulerunner/config.toml"
		}
		return fmt.Errorf("processor.command is required. Pass --command or edit %s (create with 'rulerunner config init')", defaultPath)
	}
	return nil
}
