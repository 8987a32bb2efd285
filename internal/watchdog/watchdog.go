package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/metrics"
)

// Component is anything with a heartbeat, normally a *metrics.LoopHealth.
type Component interface {
	Name() string
	IsHealthy() bool
	LastBeat() time.Time
}

// Watchdog polls registered loops and logs when one goes quiet or recovers.
type Watchdog struct {
	mu            sync.RWMutex
	components    []Component
	healthy       map[string]bool
	checkInterval time.Duration
}

func NewWatchdog(checkInterval time.Duration) *Watchdog {
	if checkInterval <= 0 {
		checkInterval = 10 * time.Second
	}
	return &Watchdog{
		healthy:       make(map[string]bool),
		checkInterval: checkInterval,
	}
}

func (w *Watchdog) Register(c Component) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.components = append(w.components, c)
	w.healthy[c.Name()] = true
	metrics.LoopHealthy.WithLabelValues(c.Name()).Set(1)
}

func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.checkInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watchdog) check() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, c := range w.components {
		name := c.Name()
		ok := c.IsHealthy()
		was := w.healthy[name]
		w.healthy[name] = ok
		if ok {
			metrics.LoopHealthy.WithLabelValues(name).Set(1)
		} else {
			metrics.LoopHealthy.WithLabelValues(name).Set(0)
		}
		switch {
		case was && !ok:
			logging.Error("loop unhealthy", "loop", name, "silent_for", time.Since(c.LastBeat()).Round(time.Millisecond))
		case !was && ok:
			logging.Info("loop recovered", "loop", name)
		}
	}
}

func (w *Watchdog) IsHealthy(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.healthy[name]
}

// Status reports every component, used by the health endpoint.
func (w *Watchdog) Status() map[string]bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[string]bool, len(w.healthy))
	for k, v := range w.healthy {
		out[k] = v
	}
	return out
}
