package main

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/albert775f/myteamberlin/internal/config"
	"github.com/albert775f/myteamberlin/internal/infrastructure/sqlite"
	"github.com/albert775f/myteamberlin/internal/logging"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

func (c *commandContext) newLogger(out io.Writer) (logging.Logger, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return logging.Nop(), err
	}
	return logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		File:   cfg.LogFile,
		Out:    out,
	})
}

// withStore opens the database for a read-only command.
func (c *commandContext) withStore(ctx context.Context, fn func(*sqlite.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}
