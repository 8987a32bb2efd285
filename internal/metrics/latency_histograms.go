package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "openguard_stage_duration_sec",
	Help:    "Duration of pipeline stages",
	Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
}, []string{"stage"})

// ObserveSince records the time elapsed since start under stage.
func ObserveSince(stage string, start time.Time) {
	stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
