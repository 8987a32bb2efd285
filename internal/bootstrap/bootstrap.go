// Package bootstrap builds the component graph from a Config and runs it.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/logging"
)

type Bootstrap struct {
	Config      *config.Config
	Components  *Components
	initialized bool
}

func New(cfg *config.Config) *Bootstrap {
	return &Bootstrap{Config: cfg}
}

// Initialize starts logging, opens and migrates the database and wires every
// component. Nothing touches the network except the database.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	if b.Config == nil {
		return errors.New("bootstrap: no config")
	}
	if err := b.initializeLogging(); err != nil {
		return fmt.Errorf("logging init failed: %w", err)
	}
	if err := Wire(ctx, b); err != nil {
		return fmt.Errorf("component wiring failed: %w", err)
	}
	b.initialized = true
	logging.Info("bootstrap complete", "driver", b.Config.Database.Driver, "api", b.Config.API.Bind)
	return nil
}

func (b *Bootstrap) initializeLogging() error {
	level, err := logging.ParseLevel(b.Config.Logging.Level)
	if err != nil {
		return err
	}
	return logging.InitGlobalLogger(level, b.Config.Logging.Path, b.Config.Logging.Stdout, rotation(b.Config.Logging))
}

func rotation(lc config.LoggingConfig) logging.Rotation {
	return logging.Rotation{
		MaxSizeMB:  lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAgeDays: lc.MaxAgeDays,
		Compress:   lc.Compress,
	}
}

// Run starts every long-running loop and blocks until ctx is cancelled or
// one of them fails. Resources are released before it returns.
func (b *Bootstrap) Run(ctx context.Context) error {
	if !b.initialized {
		return errors.New("bootstrap not initialized")
	}
	c := b.Components
	defer Shutdown(c)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Dispatcher.Run(gctx) })
	g.Go(func() error { return c.Supervisor.Run(gctx) })
	g.Go(func() error { return c.Sweeper.Run(gctx) })
	g.Go(func() error { return c.Watchdog.Run(gctx) })
	if b.Config.API.Bind != "" {
		g.Go(func() error { return c.API.ListenAndServe(gctx, b.Config.API.Bind) })
	}
	if c.Bot != nil {
		g.Go(func() error { return c.Bot.Run(gctx) })
	}

	logging.Info("all components started")
	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		logging.Error("component failed", "err", err)
		return err
	}
	return nil
}
