// Package correlator runs one worker per guild. Events for a guild are
// handled in arrival order by its worker, which alone owns the guild's window
// state and pending confirmations; guilds proceed in parallel.
package correlator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/decision"
	"github.com/Slipstreamm/openguard/internal/detectors"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type PolicySource interface {
	Snapshot(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error)
}

// Enforcer queues an approved decision. done runs once with the result.
// *dispatcher.Dispatcher implements it.
type Enforcer interface {
	Submit(ctx context.Context, d models.Decision, done func(*models.Infraction, error)) error
}

// Noter records decision outcomes. *ledger.Ledger implements it.
type Noter interface {
	Note(ctx context.Context, d models.Decision, outcome models.Outcome, detail string) error
}

// Presenter shows decisions to humans. Every method is best effort.
type Presenter interface {
	// PresentConfirmation posts the approve/reject prompt and returns its
	// message ID.
	PresentConfirmation(ctx context.Context, c *decision.Confirmation) (string, error)
	// ConfirmationClosed updates a prompt once it left the pending state.
	ConfirmationClosed(ctx context.Context, c *decision.Confirmation)
	// Escalate pings the guild's responders about self-harm content.
	Escalate(ctx context.Context, d models.Decision)
	ReportOutcome(ctx context.Context, d models.Decision, inf *models.Infraction, err error)
	// ReportTestMode shows what would have been done in a test-mode guild.
	ReportTestMode(ctx context.Context, d models.Decision)
}

type Options struct {
	MailboxSize     int
	IdleTTL         time.Duration
	SweepInterval   time.Duration
	MaxSubjects     int
	DuplicateWindow time.Duration
	ConfirmTimeout  time.Duration
	ConfirmCeiling  time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MailboxSize:     cfg.Engine.MailboxSize,
		IdleTTL:         cfg.Engine.WorkerIdleTTL.Std(),
		SweepInterval:   cfg.Engine.SweepInterval.Std(),
		MaxSubjects:     cfg.Engine.MaxSubjectsPerGuild,
		DuplicateWindow: cfg.Detection.DuplicateWindow.Std(),
		ConfirmTimeout:  cfg.Confirmation.Timeout.Std(),
		ConfirmCeiling:  cfg.Confirmation.Ceiling.Std(),
	}
}

func (o *Options) fillDefaults() {
	if o.MailboxSize <= 0 {
		o.MailboxSize = 1024
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = 30 * time.Second
	}
	if o.MaxSubjects <= 0 {
		o.MaxSubjects = 10000
	}
	if o.DuplicateWindow <= 0 {
		o.DuplicateWindow = 30 * time.Second
	}
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 5 * time.Minute
	}
}

// Supervisor routes events to guild workers, starting them on demand.
type Supervisor struct {
	opts      Options
	extractor *detectors.Extractor
	policies  PolicySource
	enforcer  Enforcer
	notes     Noter
	presenter Presenter
	decisions *decision.DecisionLogger
	logger    *slog.Logger
	now       func() time.Time
	// afterEvent observes each handled event, for tests.
	afterEvent func(models.Event)

	mu      sync.Mutex
	root    context.Context
	workers map[util.Snowflake]*guildWorker
	wg      sync.WaitGroup

	Health *metrics.LoopHealth
}

func NewSupervisor(opts Options, extractor *detectors.Extractor, policies PolicySource, enforcer Enforcer, notes Noter, logger *slog.Logger) *Supervisor {
	opts.fillDefaults()
	if logger == nil {
		logger = logging.L()
	}
	return &Supervisor{
		opts:      opts,
		extractor: extractor,
		policies:  policies,
		enforcer:  enforcer,
		notes:     notes,
		logger:    logger.With("component", "correlator"),
		now:       time.Now,
		workers:   make(map[util.Snowflake]*guildWorker),
		Health:    metrics.NewLoopHealth("correlator", 2*opts.SweepInterval),
	}
}

func (s *Supervisor) SetPresenter(p Presenter) {
	s.presenter = p
}

func (s *Supervisor) SetDecisionLogger(dl *decision.DecisionLogger) {
	s.decisions = dl
}

// Start makes the supervisor accept events. Workers live under ctx.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	s.root = ctx
	s.mu.Unlock()
}

// Run accepts events until ctx is cancelled, then stops every worker.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Start(ctx)
	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return nil
		case <-ticker.C:
			s.Health.Beat()
		}
	}
}

// Stop cancels every worker and waits for them to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.root = nil
	workers := s.workers
	s.workers = make(map[util.Snowflake]*guildWorker)
	s.mu.Unlock()

	for _, w := range workers {
		w.cancel()
	}
	s.wg.Wait()
}

// Ingest hands an event to its guild's worker without blocking. It reports
// false when the event was dropped.
func (s *Supervisor) Ingest(evt models.Event) bool {
	metrics.EventsIngested.WithLabelValues(evt.Type.String()).Inc()
	metrics.Ingress.Increment()
	if evt.GuildID.IsZero() {
		metrics.EventsDropped.WithLabelValues("no_guild").Inc()
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.root == nil {
		metrics.EventsDropped.WithLabelValues("stopped").Inc()
		return false
	}
	w := s.workerLocked(evt.GuildID)
	if !w.box.offer(evt) {
		metrics.EventsDropped.WithLabelValues("mailbox_full").Inc()
		s.logger.Warn("guild mailbox full, event dropped", "guild", evt.GuildID, "type", evt.Type)
		return false
	}
	return true
}

// ResolveConfirmation routes a moderator's answer to the guild worker that
// owns the confirmation and waits for it to be applied.
func (s *Supervisor) ResolveConfirmation(ctx context.Context, guildID util.Snowflake, confirmationID string, approve bool, moderatorID util.Snowflake) error {
	s.mu.Lock()
	w, ok := s.workers[guildID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("confirmation %s: %w", confirmationID, models.ErrNotFound)
	}

	reply := make(chan error, 1)
	msg := control{kind: controlResolve, confirmationID: confirmationID, approve: approve, moderatorID: moderatorID, reply: reply}
	select {
	case w.box.control <- msg:
	case <-w.ctx.Done():
		return models.ErrGuildRemoved
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-w.done:
		return models.ErrGuildRemoved
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RemoveGuild cancels the guild's pending confirmations and in-flight
// enforcement and drops its window state.
func (s *Supervisor) RemoveGuild(guildID util.Snowflake) {
	s.mu.Lock()
	w, ok := s.workers[guildID]
	delete(s.workers, guildID)
	s.mu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
	s.logger.Info("guild removed", "guild", guildID)
}

func (s *Supervisor) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

func (s *Supervisor) workerLocked(guildID util.Snowflake) *guildWorker {
	if w, ok := s.workers[guildID]; ok {
		return w
	}
	w := newGuildWorker(s, guildID)
	s.workers[guildID] = w
	s.wg.Add(1)
	metrics.GuildWorkers.Inc()
	go func() {
		defer s.wg.Done()
		defer metrics.GuildWorkers.Dec()
		w.run()
	}()
	return w
}

// retire removes an idle worker. It fails if anything arrived meanwhile.
func (s *Supervisor) retire(w *guildWorker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.workers[w.guildID] != w || !w.box.empty() {
		return false
	}
	delete(s.workers, w.guildID)
	return true
}
