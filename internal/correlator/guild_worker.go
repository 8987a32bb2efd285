package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/decision"
	"github.com/Slipstreamm/openguard/internal/detectors"
	"github.com/Slipstreamm/openguard/internal/dispatcher"
	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/internal/state"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type guildWorker struct {
	sup     *Supervisor
	guildID util.Snowflake
	box     *mailbox
	state   *state.GuildState
	gate    *decision.Gate
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	inflight     atomic.Int64
	lastActivity time.Time
}

func newGuildWorker(s *Supervisor, guildID util.Snowflake) *guildWorker {
	ctx, cancel := context.WithCancel(s.root)
	w := &guildWorker{
		sup:          s,
		guildID:      guildID,
		box:          newMailbox(s.opts.MailboxSize),
		state:        state.NewGuildState(guildID, s.opts.MaxSubjects),
		logger:       s.logger.With("guild", guildID),
		ctx:          ctx,
		cancel:       cancel,
		done:         make(chan struct{}),
		lastActivity: s.now(),
	}
	w.gate = decision.NewGate(s.opts.ConfirmTimeout, s.opts.ConfirmCeiling, w.postExpire)
	return w
}

// postExpire runs on the gate's timer goroutine.
func (w *guildWorker) postExpire(id string) {
	select {
	case w.box.control <- control{kind: controlExpire, confirmationID: id}:
	case <-w.ctx.Done():
	}
}

func (w *guildWorker) run() {
	defer close(w.done)
	defer w.shutdown()

	sweep := time.NewTicker(w.sup.opts.SweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case msg := <-w.box.control:
			w.lastActivity = w.sup.now()
			w.handleControl(msg)
		case evt := <-w.box.events:
			w.lastActivity = w.sup.now()
			w.handleEvent(evt)
			if h := w.sup.afterEvent; h != nil {
				h(evt)
			}
		case <-sweep.C:
			if w.sweep() {
				return
			}
		}
	}
}

// sweep drops idle window subjects, backs up the confirmation timers and
// reports whether the worker retired.
func (w *guildWorker) sweep() bool {
	now := w.sup.now()
	if n := w.state.Sweep(now); n > 0 {
		metrics.SubjectEvictions.WithLabelValues("sweep").Add(float64(n))
	}
	metrics.TrackedSubjects.WithLabelValues("guild").Set(float64(w.state.Subjects()))
	for _, c := range w.gate.ExpireDue(now) {
		w.expired(c, &models.ConfirmationTimeoutError{ConfirmationID: c.ID, Key: c.Key, After: w.gate.Timeout()})
	}

	idle := w.sup.opts.IdleTTL
	if idle <= 0 || now.Sub(w.lastActivity) < idle || w.gate.Pending() > 0 || w.inflight.Load() > 0 {
		return false
	}
	if !w.sup.retire(w) {
		return false
	}
	w.logger.Debug("guild worker retired after idling", "idle", now.Sub(w.lastActivity))
	w.cancel()
	return true
}

// shutdown cancels whatever is still pending once the worker stops.
func (w *guildWorker) shutdown() {
	ctx := context.WithoutCancel(w.ctx)
	for _, c := range w.gate.CancelAll() {
		metrics.ConfirmationsPending.Dec()
		w.note(ctx, c.Decision, models.OutcomeCancelled, "guild removed")
		w.logDecision(c.Decision, models.OutcomeCancelled)
		if p := w.sup.presenter; p != nil {
			p.ConfirmationClosed(ctx, c)
		}
	}
	if n := len(w.box.events); n > 0 {
		metrics.EventsDropped.WithLabelValues("guild_removed").Add(float64(n))
	}
}

func (w *guildWorker) handleControl(msg control) {
	switch msg.kind {
	case controlResolve:
		err := w.resolve(msg.confirmationID, msg.approve, msg.moderatorID)
		if msg.reply != nil {
			msg.reply <- err
		}
	case controlExpire:
		if c, terr, ok := w.gate.Expire(msg.confirmationID); ok {
			w.expired(c, terr)
		}
	}
}

func (w *guildWorker) handleEvent(evt models.Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			metrics.EventErrors.WithLabelValues("panic").Inc()
			w.logger.Error("event handler panic", "event", evt.ID, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	defer metrics.ObserveSince("event", start)

	policy, err := w.sup.policies.Snapshot(w.ctx, w.guildID)
	if err != nil {
		metrics.EventErrors.WithLabelValues("policy_unavailable").Inc()
		w.logger.Warn("policy unavailable, skipping enforcement", "event", evt.ID, "err", err)
		return
	}
	if detectors.Skip(&evt, policy) {
		return
	}

	at := evt.Timestamp
	if at.IsZero() {
		at = w.sup.now()
	}
	counts, hist := w.observe(&evt, policy, at)

	signals := w.sup.extractor.Extract(&evt, policy, hist)
	classified, err := w.sup.extractor.Classify(w.ctx, &evt, policy)
	if err != nil {
		var ee *models.ExtractionError
		if errors.As(err, &ee) {
			metrics.ExtractionErrors.WithLabelValues(ee.Extractor).Inc()
		}
		w.logger.Warn("extractor degraded", "event", evt.ID, "err", err)
	}
	signals = append(signals, classified...)
	for _, sig := range signals {
		metrics.SignalsExtracted.WithLabelValues(sig.Kind.String(), sig.Source.String()).Inc()
	}
	metrics.ObserveSince("extract", start)

	d := decision.Decide(signals, counts, policy)
	if d.IsNoAction() {
		return
	}
	d = decision.Bind(d, &evt, w.sup.now())
	w.latch(d, counts, policy)
	metrics.Decisions.WithLabelValues(d.Signal.String(), string(d.Action)).Inc()
	w.logger.Info("decision", "target", d.TargetID, "signal", d.Signal, "action", d.Action, "token", d.Token(), "confirm", d.RequiresConfirmation)

	if policy.TestMode {
		w.dryRun(d)
		return
	}
	w.route(d)
}

// dryRun records and reports d without confirmation or enforcement.
func (w *guildWorker) dryRun(d models.Decision) {
	w.note(w.ctx, d, models.OutcomeTestMode, d.Reason)
	w.logDecision(d, models.OutcomeTestMode)
	if p := w.sup.presenter; p != nil {
		p.ReportTestMode(w.ctx, d)
	}
}

// observe updates the window trackers for the event.
func (w *guildWorker) observe(evt *models.Event, policy *config.GuildPolicy, at time.Time) (state.WindowCounts, detectors.History) {
	var counts state.WindowCounts
	var hist detectors.History
	switch evt.Type {
	case models.EventTypeMessageCreate:
		if !policy.AntiSpam {
			break
		}
		counts.Spam = w.state.ObserveMessage(evt.AuthorID, at, policy.SpamWindow(), policy.SpamThreshold)
		if evt.Content != "" {
			fp := detectors.Fingerprint(evt.Content)
			hist.DuplicateCount = w.state.Spam.ObserveContent(evt.AuthorID, fp, at, w.sup.opts.DuplicateWindow)
		}
	case models.EventTypeMemberJoin:
		if policy.AntiRaid {
			counts.Raid = w.state.ObserveJoin(at, policy.RaidWindow(), policy.RaidThreshold)
		}
	}
	return counts, hist
}

// latch disarms the window whose crossing produced d so the same crossing
// never acts twice.
func (w *guildWorker) latch(d models.Decision, counts state.WindowCounts, policy *config.GuildPolicy) {
	switch d.Signal {
	case models.SignalSpam:
		if counts.Spam.Armed && counts.Spam.Count >= policy.SpamThreshold {
			w.state.LatchSpam(d.TargetID)
		}
	case models.SignalRaid:
		w.state.LatchRaid()
	}
}

func (w *guildWorker) route(d models.Decision) {
	if d.Action == models.ActionEscalate {
		if p := w.sup.presenter; p != nil {
			p.Escalate(w.ctx, d)
		}
	}
	if !d.RequiresConfirmation {
		w.enforce(d)
		return
	}

	c, created := w.gate.Submit(d)
	if !created {
		w.note(w.ctx, d, models.OutcomeCoalesced, "folded into "+c.ID)
		w.logDecision(d, models.OutcomeCoalesced)
		return
	}
	metrics.ConfirmationsPending.Inc()
	w.note(w.ctx, d, models.OutcomePending, "confirmation "+c.ID)
	w.logDecision(d, models.OutcomePending)
	if p := w.sup.presenter; p != nil {
		msgID, err := p.PresentConfirmation(w.ctx, c)
		if err != nil {
			w.logger.Warn("confirmation prompt not posted", "confirmation", c.ID, "err", err)
		}
		c.MessageID = msgID
	}
}

func (w *guildWorker) resolve(id string, approve bool, moderatorID util.Snowflake) error {
	c, err := w.gate.Resolve(id, approve, moderatorID)
	if err != nil {
		return err
	}
	metrics.ConfirmationsPending.Dec()
	if p := w.sup.presenter; p != nil {
		p.ConfirmationClosed(w.ctx, c)
	}
	if c.State == decision.StateApproved {
		w.logger.Info("confirmation approved", "confirmation", id, "moderator", moderatorID)
		w.enforce(c.Decision)
		return nil
	}
	w.note(w.ctx, c.Decision, models.OutcomeRejected, fmt.Sprintf("rejected by %s", moderatorID))
	w.logDecision(c.Decision, models.OutcomeRejected)
	return nil
}

func (w *guildWorker) expired(c *decision.Confirmation, terr *models.ConfirmationTimeoutError) {
	metrics.ConfirmationsPending.Dec()
	w.logger.Info("confirmation expired", "confirmation", c.ID, "target", c.Key.TargetID, "action", c.Key.Action)
	w.note(w.ctx, c.Decision, models.OutcomeExpired, terr.Error())
	w.logDecision(c.Decision, models.OutcomeExpired)
	if p := w.sup.presenter; p != nil {
		p.ConfirmationClosed(w.ctx, c)
	}
}

func (w *guildWorker) enforce(d models.Decision) {
	w.inflight.Add(1)
	err := w.sup.enforcer.Submit(w.ctx, d, func(inf *models.Infraction, err error) {
		defer w.inflight.Add(-1)
		w.completed(d, inf, err)
	})
	if err != nil {
		w.inflight.Add(-1)
		w.note(w.ctx, d, models.OutcomeFailed, err.Error())
		w.logDecision(d, models.OutcomeFailed)
		w.logger.Error("enforcement not queued", "target", d.TargetID, "action", d.Action, "err", err)
	}
}

// completed runs on the enforcement worker; it must not touch guild state.
func (w *guildWorker) completed(d models.Decision, inf *models.Infraction, err error) {
	outcome := models.OutcomeExecuted
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, dispatcher.ErrQueueClosed):
		outcome = models.OutcomeCancelled
	case errors.Is(err, dispatcher.ErrSuppressed):
		outcome = models.OutcomeSuppressed
	case errors.Is(err, dispatcher.ErrInFlight):
		outcome = models.OutcomeDuplicate
	default:
		outcome = models.OutcomeFailed
	}
	w.logDecision(d, outcome)
	if p := w.sup.presenter; p != nil {
		p.ReportOutcome(context.WithoutCancel(w.ctx), d, inf, err)
	}
}

func (w *guildWorker) note(ctx context.Context, d models.Decision, outcome models.Outcome, detail string) {
	if w.sup.notes == nil {
		return
	}
	if err := w.sup.notes.Note(ctx, d, outcome, detail); err != nil {
		w.logger.Error("audit note failed", "token", d.Token(), "outcome", outcome, "err", err)
	}
}

func (w *guildWorker) logDecision(d models.Decision, outcome models.Outcome) {
	if err := w.sup.decisions.LogDecision(d, outcome); err != nil {
		w.logger.Warn("decision log write failed", "err", err)
	}
}
