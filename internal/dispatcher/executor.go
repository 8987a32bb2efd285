// Package dispatcher applies approved decisions to the platform: a priority
// job queue drained by a worker pool, a bounded retry policy and request
// token dedupe in front of the Discord REST client.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

var (
	// ErrInFlight means another worker holds the request token.
	ErrInFlight = errors.New("enforcement already in flight")
	// ErrSuppressed means the target has a pending appeal and the guild
	// suppresses enforcement meanwhile.
	ErrSuppressed = errors.New("suppressed during pending appeal")
)

// HelpResources is sent to the author of self-harm content.
const HelpResources = "Hey, it sounds like you might be going through a hard time. " +
	"You are not alone. If you are in immediate danger please contact local emergency services. " +
	"You can reach a crisis line at https://findahelpline.com at any time."

// Recorder is the ledger surface the executor writes through.
type Recorder interface {
	Lookup(ctx context.Context, token string) (*models.Infraction, error)
	Record(ctx context.Context, d models.Decision) (*models.Infraction, bool, error)
	HasPendingAppeal(ctx context.Context, guildID, userID util.Snowflake) (bool, error)
	Note(ctx context.Context, d models.Decision, outcome models.Outcome, detail string) error
}

type PolicySource interface {
	Snapshot(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error)
}

// Alerter surfaces permanent failures to an operator channel.
type Alerter interface {
	AlertFailure(ctx context.Context, d models.Decision, err error)
}

// RetryPolicy bounds platform retries by attempt count and total time.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	Budget      time.Duration
}

func RetryPolicyFromConfig(c config.EnforcementConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: c.MaxAttempts,
		BaseBackoff: c.BaseBackoff.Std(),
		MaxBackoff:  c.MaxBackoff.Std(),
		Budget:      c.RetryBudget.Std(),
	}
}

func (p RetryPolicy) backoff() retry.Backoff {
	b := retry.NewExponential(p.BaseBackoff)
	b = retry.WithJitterPercent(10, b)
	if p.MaxBackoff > 0 {
		b = retry.WithCappedDuration(p.MaxBackoff, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	b = retry.WithMaxRetries(uint64(attempts-1), b)
	if p.Budget > 0 {
		b = retry.WithMaxDuration(p.Budget, b)
	}
	return b
}

type Executor struct {
	platform Platform
	ledger   Recorder
	policies PolicySource
	tokens   TokenStore
	alerts   Alerter
	retry    RetryPolicy
	logger   *slog.Logger
	now      func() time.Time
}

func NewExecutor(platform Platform, ledger Recorder, policies PolicySource, tokens TokenStore, policy RetryPolicy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = logging.L()
	}
	return &Executor{
		platform: platform,
		ledger:   ledger,
		policies: policies,
		tokens:   tokens,
		retry:    policy,
		logger:   logger.With("component", "executor"),
		now:      time.Now,
	}
}

func (e *Executor) SetAlerter(a Alerter) {
	e.alerts = a
}

// Execute applies d at most once per request token and records the
// infraction. Re-delivery of an executed decision returns the existing
// infraction.
func (e *Executor) Execute(ctx context.Context, d models.Decision) (*models.Infraction, error) {
	if d.IsNoAction() {
		return nil, nil
	}
	start := e.now()
	defer metrics.ObserveSince("enforce", start)

	token := d.Token()
	log := e.logger.With("guild", d.GuildID, "target", d.TargetID, "action", d.Action, "token", token)

	if inf, err := e.ledger.Lookup(ctx, token); err == nil {
		_ = e.ledger.Note(ctx, d, models.OutcomeDuplicate, "already recorded as "+inf.ID)
		log.Info("duplicate decision ignored", "infraction", inf.ID)
		return inf, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup request token: %w", err)
	}

	claimed, err := e.tokens.Claim(ctx, token)
	if err != nil {
		_ = e.ledger.Note(ctx, d, models.OutcomeFailed, "token store: "+err.Error())
		return nil, fmt.Errorf("claim request token: %w", err)
	}
	if !claimed {
		_ = e.ledger.Note(ctx, d, models.OutcomeDuplicate, "in flight")
		return nil, ErrInFlight
	}

	if err := e.checkAppeal(ctx, d); err != nil {
		_ = e.tokens.Release(ctx, token)
		if errors.Is(err, ErrSuppressed) {
			_ = e.ledger.Note(ctx, d, models.OutcomeSuppressed, "pending appeal")
			log.Info("enforcement suppressed by pending appeal")
		} else {
			_ = e.ledger.Note(ctx, d, models.OutcomeFailed, err.Error())
		}
		return nil, err
	}

	if err := e.withRetry(ctx, d.Action, func(ctx context.Context) error { return e.apply(ctx, d) }); err != nil {
		_ = e.tokens.Release(context.WithoutCancel(ctx), token)
		_ = e.ledger.Note(context.WithoutCancel(ctx), d, models.OutcomeFailed, err.Error())
		log.Error("enforcement failed", "err", err)
		if !models.IsTransient(err) && ctx.Err() == nil && e.alerts != nil {
			e.alerts.AlertFailure(ctx, d, err)
		}
		return nil, err
	}

	// The platform action happened: keep the token claimed even if the
	// ledger write fails so a retry cannot punish twice.
	inf, created, err := e.ledger.Record(context.WithoutCancel(ctx), d)
	if err != nil {
		_ = e.ledger.Note(context.WithoutCancel(ctx), d, models.OutcomeFailed, "executed but not recorded: "+err.Error())
		log.Error("infraction not recorded", "err", err)
		return nil, err
	}
	if created {
		_ = e.ledger.Note(ctx, d, models.OutcomeExecuted, inf.ID)
	}
	log.Info("enforcement executed", "infraction", inf.ID)
	return inf, nil
}

func (e *Executor) checkAppeal(ctx context.Context, d models.Decision) error {
	if !d.Action.Appealable() {
		return nil
	}
	policy, err := e.policies.Snapshot(ctx, d.GuildID)
	if err != nil {
		return err
	}
	if !policy.SuppressDuringAppeal {
		return nil
	}
	pending, err := e.ledger.HasPendingAppeal(ctx, d.GuildID, d.TargetID)
	if err != nil {
		return fmt.Errorf("check pending appeal: %w", err)
	}
	if pending {
		return ErrSuppressed
	}
	return nil
}

func (e *Executor) apply(ctx context.Context, d models.Decision) error {
	reason := d.Reason
	switch d.Action {
	case models.ActionBan:
		return e.platform.Ban(ctx, d.GuildID, d.TargetID, reason)
	case models.ActionKick:
		return e.departed(d, e.platform.Kick(ctx, d.GuildID, d.TargetID, reason))
	case models.ActionTimeout:
		timeout := d.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Minute
		}
		return e.departed(d, e.platform.Timeout(ctx, d.GuildID, d.TargetID, e.now().Add(timeout), reason))
	case models.ActionDelete:
		err := e.platform.DeleteMessage(ctx, d.ChannelID, d.EventID, reason)
		if errors.Is(err, ErrUnknownEntity) {
			return nil
		}
		return err
	case models.ActionWarn:
		e.bestEffortDM(ctx, d, "You were warned: "+reason)
		return nil
	case models.ActionEscalate:
		e.bestEffortDM(ctx, d, HelpResources)
		return nil
	default:
		return &models.EnforcementError{Action: d.Action, Err: fmt.Errorf("unsupported action %q", d.Action)}
	}
}

// departed treats a member who already left the guild as handled.
func (e *Executor) departed(d models.Decision, err error) error {
	if errors.Is(err, ErrUnknownEntity) {
		e.logger.Info("target already left the guild", "guild", d.GuildID, "target", d.TargetID, "action", d.Action)
		return nil
	}
	return err
}

// Closed DMs never fail a warning or an escalation.
func (e *Executor) bestEffortDM(ctx context.Context, d models.Decision, content string) {
	if err := e.platform.SendDM(ctx, d.TargetID, content); err != nil {
		if models.IsTransient(err) {
			err = e.withRetry(ctx, d.Action, func(ctx context.Context) error { return e.platform.SendDM(ctx, d.TargetID, content) })
		}
		if err != nil {
			e.logger.Warn("direct message not delivered", "guild", d.GuildID, "target", d.TargetID, "err", err)
		}
	}
}

func (e *Executor) withRetry(ctx context.Context, action models.ActionKind, fn func(context.Context) error) error {
	if e.retry.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.retry.Budget)
		defer cancel()
	}
	attempt := 0
	return retry.Do(ctx, e.retry.backoff(), func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			metrics.EnforcementAttempts.WithLabelValues(string(action), "ok").Inc()
			return nil
		case models.IsTransient(err):
			metrics.EnforcementAttempts.WithLabelValues(string(action), "transient").Inc()
			e.logger.Debug("transient enforcement failure", "action", action, "attempt", attempt, "err", err)
			return retry.RetryableError(err)
		default:
			metrics.EnforcementAttempts.WithLabelValues(string(action), "permanent").Inc()
			return err
		}
	})
}

// Revert undoes the platform side of a reversed or appealed infraction.
// Missing bans and members count as already undone.
func (e *Executor) Revert(ctx context.Context, inf *models.Infraction) error {
	reason := "infraction " + inf.ID + " reversed"
	var fn func(context.Context) error
	switch inf.Action {
	case models.ActionBan:
		fn = func(ctx context.Context) error { return e.platform.Unban(ctx, inf.GuildID, inf.TargetID, reason) }
	case models.ActionTimeout:
		fn = func(ctx context.Context) error {
			return e.platform.RemoveTimeout(ctx, inf.GuildID, inf.TargetID, reason)
		}
	default:
		return nil
	}
	err := e.withRetry(ctx, inf.Action, fn)
	if errors.Is(err, ErrUnknownEntity) {
		return nil
	}
	return err
}
