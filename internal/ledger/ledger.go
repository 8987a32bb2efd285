// Package ledger is the single writer of infractions, appeals and audit
// notes.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/metrics"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

// Repository is the persistence the ledger writes through.
// *database.LedgerRepo implements it.
type Repository interface {
	CreateInfraction(ctx context.Context, inf *models.Infraction) (*models.Infraction, bool, error)
	GetInfraction(ctx context.Context, id string) (*models.Infraction, error)
	InfractionByToken(ctx context.Context, token string) (*models.Infraction, error)
	ListInfractions(ctx context.Context, f models.InfractionFilter) ([]*models.Infraction, error)
	TransitionInfraction(ctx context.Context, id string, from, to models.InfractionStatus, reason string, at time.Time) (*models.Infraction, error)
	ExpireDue(ctx context.Context, now time.Time) ([]*models.Infraction, error)

	CreateAppeal(ctx context.Context, a *models.Appeal, check func(*models.Infraction) error) error
	GetAppeal(ctx context.Context, id string) (*models.Appeal, error)
	ListAppeals(ctx context.Context, f models.AppealFilter) ([]*models.Appeal, error)
	ResolveAppeal(ctx context.Context, id string, outcome models.AppealStatus, by util.Snowflake, at time.Time) (*models.Appeal, *models.Infraction, error)
	HasPendingAppeal(ctx context.Context, guildID, userID util.Snowflake) (bool, error)

	InsertNote(ctx context.Context, n *models.AuditNote) error
	ListNotes(ctx context.Context, guildID util.Snowflake, limit int) ([]*models.AuditNote, error)
}

// Reverter undoes the platform side of a reversed infraction (unban, lift a
// timeout). Failures are logged; the ledger state is authoritative.
type Reverter interface {
	Revert(ctx context.Context, inf *models.Infraction) error
}

// AppealNotifier is told about every newly filed appeal so moderators can
// review it. It runs after the appeal is committed and must not block.
type AppealNotifier interface {
	AppealFiled(ctx context.Context, a *models.Appeal, inf *models.Infraction)
}

type Ledger struct {
	repo     Repository
	reverter Reverter
	appeals  AppealNotifier
	logger   *slog.Logger
	now      func() time.Time
}

func New(repo Repository, reverter Reverter, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = logging.L()
	}
	return &Ledger{
		repo:     repo,
		reverter: reverter,
		logger:   logger.With("component", "ledger"),
		now:      time.Now,
	}
}

// SetReverter attaches the platform reverter once the executor exists.
func (l *Ledger) SetReverter(r Reverter) {
	l.reverter = r
}

func (l *Ledger) SetAppealNotifier(n AppealNotifier) {
	l.appeals = n
}

// Record persists the infraction for an executed decision. Recording the
// same decision twice returns the first infraction and created=false.
func (l *Ledger) Record(ctx context.Context, d models.Decision) (*models.Infraction, bool, error) {
	now := l.now().UTC()
	inf := &models.Infraction{
		ID:           uuid.NewString(),
		GuildID:      d.GuildID,
		TargetID:     d.TargetID,
		ModeratorID:  d.ModeratorID,
		ChannelID:    d.ChannelID,
		EventID:      d.EventID,
		Action:       d.Action,
		Reason:       d.Reason,
		Evidence:     d.Evidence,
		RequestToken: d.Token(),
		Status:       models.InfractionActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if d.Action == models.ActionTimeout && d.Timeout > 0 {
		exp := now.Add(d.Timeout)
		inf.ExpiresAt = &exp
	}

	stored, created, err := l.repo.CreateInfraction(ctx, inf)
	if err != nil {
		return nil, false, fmt.Errorf("record infraction: %w", err)
	}
	if created {
		metrics.LedgerWrites.WithLabelValues("record").Inc()
		l.logger.Info("infraction recorded", "id", stored.ID, "guild", stored.GuildID, "target", stored.TargetID, "action", stored.Action)
	}
	return stored, created, nil
}

// Lookup returns the infraction already recorded for a request token.
func (l *Ledger) Lookup(ctx context.Context, token string) (*models.Infraction, error) {
	return l.repo.InfractionByToken(ctx, token)
}

// Reverse moves an active infraction to reversed and undoes its platform
// effect where possible.
func (l *Ledger) Reverse(ctx context.Context, id, reason string) (*models.Infraction, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "reversed by moderator"
	}
	inf, err := l.repo.TransitionInfraction(ctx, id, models.InfractionActive, models.InfractionReversed, reason, l.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.LedgerWrites.WithLabelValues("reverse").Inc()
	l.logger.Info("infraction reversed", "id", id, "reason", reason)
	l.revert(ctx, inf)
	return inf, nil
}

func (l *Ledger) Expire(ctx context.Context, id string) (*models.Infraction, error) {
	inf, err := l.repo.TransitionInfraction(ctx, id, models.InfractionActive, models.InfractionExpired, "", l.now().UTC())
	if err != nil {
		return nil, err
	}
	metrics.LedgerWrites.WithLabelValues("expire").Inc()
	return inf, nil
}

// ExpireDue expires every active infraction past its expiry.
func (l *Ledger) ExpireDue(ctx context.Context) ([]*models.Infraction, error) {
	expired, err := l.repo.ExpireDue(ctx, l.now().UTC())
	if n := len(expired); n > 0 {
		metrics.LedgerWrites.WithLabelValues("expire").Add(float64(n))
		l.logger.Info("infractions expired", "count", n)
	}
	return expired, err
}

// FileAppeal opens an appeal on behalf of the infraction's target. Only
// active infractions of appealable kinds accept appeals, one pending at a
// time.
func (l *Ledger) FileAppeal(ctx context.Context, infractionID string, userID util.Snowflake, text string) (*models.Appeal, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("appeal text is required")
	}
	a := &models.Appeal{
		ID:           uuid.NewString(),
		InfractionID: infractionID,
		UserID:       userID,
		Text:         text,
		Status:       models.AppealPending,
		CreatedAt:    l.now().UTC(),
	}
	var owner *models.Infraction
	err := l.repo.CreateAppeal(ctx, a, func(inf *models.Infraction) error {
		if !inf.Action.Appealable() {
			return fmt.Errorf("%s infraction: %w", inf.Action, models.ErrNotAppealable)
		}
		if inf.Status != models.InfractionActive {
			return fmt.Errorf("infraction is %s: %w", inf.Status, models.ErrInvalidTransition)
		}
		if !userID.IsZero() && userID != inf.TargetID {
			return fmt.Errorf("only the sanctioned user may appeal: %w", models.ErrNotAppealable)
		}
		if userID.IsZero() {
			a.UserID = inf.TargetID
		}
		owner = inf
		return nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerWrites.WithLabelValues("appeal").Inc()
	l.logger.Info("appeal filed", "appeal", a.ID, "infraction", infractionID, "user", a.UserID)
	if l.appeals != nil && owner != nil {
		l.appeals.AppealFiled(context.WithoutCancel(ctx), a, owner)
	}
	return a, nil
}

// ResolveAppeal accepts or rejects a pending appeal. Acceptance reverses the
// owning infraction; rejection never touches it.
func (l *Ledger) ResolveAppeal(ctx context.Context, appealID string, outcome models.AppealStatus, moderatorID util.Snowflake) (*models.Appeal, *models.Infraction, error) {
	a, inf, err := l.repo.ResolveAppeal(ctx, appealID, outcome, moderatorID, l.now().UTC())
	if err != nil {
		return nil, nil, err
	}
	metrics.LedgerWrites.WithLabelValues("appeal_" + string(outcome)).Inc()
	l.logger.Info("appeal resolved", "appeal", appealID, "outcome", outcome, "infraction", inf.ID, "status", inf.Status)
	if outcome == models.AppealAccepted {
		l.revert(ctx, inf)
	}
	return a, inf, nil
}

func (l *Ledger) revert(ctx context.Context, inf *models.Infraction) {
	if l.reverter == nil || !inf.Action.Reversible() {
		return
	}
	if err := l.reverter.Revert(ctx, inf); err != nil {
		l.logger.Warn("platform reversal failed", "id", inf.ID, "action", inf.Action, "err", err)
		l.note(ctx, &models.AuditNote{
			GuildID: inf.GuildID, TargetID: inf.TargetID, Action: inf.Action, Token: inf.RequestToken,
			Outcome: models.OutcomeFailed, Detail: "reversal: " + err.Error(),
		})
	}
}

func (l *Ledger) GetInfraction(ctx context.Context, id string) (*models.Infraction, error) {
	return l.repo.GetInfraction(ctx, id)
}

func (l *Ledger) ListInfractions(ctx context.Context, f models.InfractionFilter) ([]*models.Infraction, error) {
	return l.repo.ListInfractions(ctx, f)
}

func (l *Ledger) GetAppeal(ctx context.Context, id string) (*models.Appeal, error) {
	return l.repo.GetAppeal(ctx, id)
}

func (l *Ledger) ListAppeals(ctx context.Context, f models.AppealFilter) ([]*models.Appeal, error) {
	return l.repo.ListAppeals(ctx, f)
}

func (l *Ledger) HasPendingAppeal(ctx context.Context, guildID, userID util.Snowflake) (bool, error) {
	return l.repo.HasPendingAppeal(ctx, guildID, userID)
}

// Note records the outcome of a decision that reached the gate or the
// executor.
func (l *Ledger) Note(ctx context.Context, d models.Decision, outcome models.Outcome, detail string) error {
	metrics.Outcomes.WithLabelValues(string(d.Action), string(outcome)).Inc()
	return l.note(ctx, &models.AuditNote{
		GuildID:  d.GuildID,
		TargetID: d.TargetID,
		Action:   d.Action,
		Token:    d.Token(),
		Outcome:  outcome,
		Detail:   detail,
	})
}

func (l *Ledger) note(ctx context.Context, n *models.AuditNote) error {
	n.CreatedAt = l.now().UTC()
	if err := l.repo.InsertNote(ctx, n); err != nil {
		l.logger.Error("audit note lost", "guild", n.GuildID, "token", n.Token, "outcome", n.Outcome, "err", err)
		return err
	}
	return nil
}

func (l *Ledger) ListNotes(ctx context.Context, guildID util.Snowflake, limit int) ([]*models.AuditNote, error) {
	return l.repo.ListNotes(ctx, guildID, limit)
}
