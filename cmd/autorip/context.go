package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"autorip/internal/config"
	"autorip/internal/daemon"
	"autorip/internal/ledger"
	"autorip/internal/logging"
)

type commandContext struct {
	configFlag string

	// runtimeOptions replaces the serial port and external commands in tests.
	runtimeOptions daemon.Options
	// interactive overrides TTY detection when set.
	interactive *bool

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		cfg, _, _, err := config.Load(strings.TrimSpace(c.configFlag))
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

// withRuntime opens the robot and its collaborators for a one-shot command,
// logging to the console and the run log.
func (c *commandContext) withRuntime(cmd *cobra.Command, fn func(context.Context, *daemon.Runtime) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	runID := daemon.NewRunID()
	logger, _, err := logging.NewFromConfig(cfg, runID, true, nil)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rt, err := daemon.Open(ctx, cfg, runID, logger, c.runtimeOptions)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// withLedger opens the run ledger read-mostly, without taking the robot lock.
func (c *commandContext) withLedger(fn func(*ledger.Store) error) error {
	cfg, err := c.ensureConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg, "")
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer store.Close()
	return fn(store)
}

func (c *commandContext) isInteractive() bool {
	if c.interactive != nil {
		return *c.interactive
	}
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Annotations != nil && c.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
