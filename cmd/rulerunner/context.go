package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"rulerunner/internal/config"
	"rulerunner/internal/logging"
	"rulerunner/internal/queue"
)

type commandContext struct {
	configFlag   *string
	logLevelFlag *string

	configOnce   sync.Once
	config       *config.Config
	configPath   string
	configExists bool
	configErr    error

	loggerOnce sync.Once
	logger     *slog.Logger
	loggerErr  error
}

func newCommandContext(configFlag, logLevelFlag *string) *commandContext {
	return &commandContext{
		configFlag:   configFlag,
		logLevelFlag: logLevelFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, path, exists, err := config.Load(c.configFlagValue())
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
		c.configPath = path
		c.configExists = exists
	})
	return c.config, c.configErr
}

func (c *commandContext) configFlagValue() string {
	if c.configFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.configFlag)
}

func (c *commandContext) logLevel() string {
	if c.logLevelFlag == nil {
		return ""
	}
	return strings.TrimSpace(*c.logLevelFlag)
}

// ensureLogger builds the process logger from the loaded configuration.
func (c *commandContext) ensureLogger() (*slog.Logger, error) {
	c.loggerOnce.Do(func() {
		cfg, err := c.ensureConfig()
		if err != nil {
			c.loggerErr = err
			return
		}
		c.logger, c.loggerErr = logging.NewFromConfig(cfg, c.logLevel())
	})
	return c.logger, c.loggerErr
}

// configCopy returns a private copy of the loaded config that a command may
// override from its flags.
func (c *commandContext) configCopy() (config.Config, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return config.Config{}, err
	}
	return *cfg, nil
}

// storeLocation resolves a --store flag, falling back to queue.store.
func storeLocation(cfg config.Config, flag string) (string, error) {
	if strings.TrimSpace(flag) == "" {
		return cfg.Queue.Store, nil
	}
	store, err := config.NormalizeStore(flag)
	if err != nil {
		return "", fmt.Errorf("resolve store: %w", err)
	}
	return store, nil
}

// requireExistingStore rejects filesystem stores that are not there, so
// read-only commands do not create them as a side effect.
func requireExistingStore(location string) error {
	path := queue.FilesystemRoot(location)
	if rest, ok := strings.CutPrefix(location, "sqlite://"); ok {
		path = rest
	}
	if path == "" {
		return nil
	}
	if _, err := os.Stat(filepath.Clean(path)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("queue store %s not found", location)
		}
		return fmt.Errorf("check queue store: %w", err)
	}
	return nil
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
