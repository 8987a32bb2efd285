package ledger

import (
	"context"
	"time"

	"github.com/Slipstreamm/openguard/internal/metrics"
)

// ExpirySweeper periodically expires lapsed timeout infractions.
type ExpirySweeper struct {
	ledger   *Ledger
	interval time.Duration
	Health   *metrics.LoopHealth
}

func NewExpirySweeper(l *Ledger, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{
		ledger:   l,
		interval: interval,
		Health:   metrics.NewLoopHealth("expiry_sweeper", 3*interval),
	}
}

// Run sweeps until ctx is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		s.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	s.Health.Beat()
	expired, err := s.ledger.ExpireDue(ctx)
	if err != nil && ctx.Err() == nil {
		s.ledger.logger.Error("expiry sweep failed", "err", err)
	}
	return len(expired)
}
