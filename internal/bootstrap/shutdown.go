package bootstrap

import (
	"io"

	"github.com/Slipstreamm/openguard/internal/logging"
)

// Shutdown releases what Wire opened. Loops have already stopped with their
// context; safe on a partially wired graph.
func Shutdown(c *Components) {
	if c == nil {
		return
	}
	logging.Info("starting graceful shutdown")

	if c.Bot != nil {
		if err := c.Bot.Close(); err != nil {
			logging.Warn("gateway close failed", "err", err)
		}
	}
	if c.Supervisor != nil {
		c.Supervisor.Stop()
	}
	if closer, ok := c.Tokens.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			logging.Warn("token store close failed", "err", err)
		}
	}
	if c.decisionLog != nil {
		_ = c.decisionLog.Close()
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			logging.Warn("database close failed", "err", err)
		}
	}

	logging.Info("graceful shutdown complete")
	_ = logging.Close()
}
