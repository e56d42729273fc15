package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/lipcheck/lipcheck/internal/config"
	"github.com/lipcheck/lipcheck/internal/logging"
)

// commandContext carries persistent flags and loads configuration once per
// invocation.
type commandContext struct {
	logLevel   string
	configPath string

	cfg    *config.EnvConfig
	logger *slog.Logger
}

func (c *commandContext) ensureConfig() (*config.EnvConfig, *slog.Logger, error) {
	if c.cfg != nil {
		return c.cfg, c.logger, nil
	}
	if c.configPath != "" {
		os.Setenv(config.EnvConfigFile, c.configPath)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.LogLevel()
	if c.logLevel != "" {
		level = c.logLevel
	}
	// Logs go to stderr so command output on stdout stays clean.
	c.logger = logging.New(os.Stderr, level, cfg.LogFormat())
	c.cfg = cfg
	return c.cfg, c.logger, nil
}
