// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_events_ingested_total",
	Help: "Events accepted into a guild mailbox",
}, []string{"type"})

var EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_events_dropped_total",
	Help: "Events dropped before processing",
}, []string{"reason"})

var EventErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_event_errors_total",
	Help: "Events whose processing hit an error or panic",
}, []string{"kind"})

var SignalsExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_signals_total",
	Help: "Signals produced by the extractors",
}, []string{"kind", "source"})

var ExtractionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_extraction_errors_total",
	Help: "Extractor calls that degraded to no signal",
}, []string{"extractor"})

var Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_decisions_total",
	Help: "Decisions that named an action",
}, []string{"signal", "action"})

var Outcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_decision_outcomes_total",
	Help: "Terminal outcome of every decision that reached the gate or the executor",
}, []string{"action", "outcome"})

var ConfirmationsPending = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "openguard_confirmations_pending",
	Help: "Confirmations waiting for a moderator",
})

var EnforcementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_enforcement_attempts_total",
	Help: "Platform calls made by the executor",
}, []string{"action", "result"})

var EnforcementQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "openguard_enforcement_queue_depth",
	Help: "Jobs waiting for an executor worker",
})

var RateLimitHits = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_ratelimit_hits_total",
	Help: "429 responses from the platform API",
}, []string{"bucket"})

var GuildWorkers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "openguard_guild_workers",
	Help: "Live per-guild workers",
})

var TrackedSubjects = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "openguard_tracked_subjects",
	Help: "Window subjects held in memory, sampled per sweep",
}, []string{"tracker"})

var SubjectEvictions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_subject_evictions_total",
	Help: "Window subjects evicted by the idle sweep",
}, []string{"tracker"})

var LedgerWrites = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "openguard_ledger_writes_total",
	Help: "Ledger state changes",
}, []string{"op"})

var LoopHealthy = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "openguard_loop_healthy",
	Help: "1 while a background loop keeps beating",
}, []string{"loop"})
