package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// LedgerRepo is the SQL side of the infraction ledger. Status changes are
// conditional updates ("WHERE status = ?") so a record is only ever moved
// out of the state the caller read.
type LedgerRepo struct {
	d *Database
}

func NewLedgerRepo(d *Database) *LedgerRepo {
	return &LedgerRepo{d: d}
}

const infractionColumns = `id, guild_id, target_id, moderator_id, channel_id, event_id, action, reason, evidence,
	request_token, status, reversal_reason, created_at, updated_at, expires_at`

func scanInfraction(row rowScanner) (*models.Infraction, error) {
	var (
		inf                                        models.Infraction
		guild, target, moderator, channel, eventID string
		action, status                             string
		created, updated                           int64
		expires                                    sql.NullInt64
	)
	err := row.Scan(&inf.ID, &guild, &target, &moderator, &channel, &eventID, &action, &inf.Reason, &inf.Evidence,
		&inf.RequestToken, &status, &inf.ReversalReason, &created, &updated, &expires)
	if err != nil {
		return nil, err
	}
	inf.GuildID = util.MustSnowflake(guild)
	inf.TargetID = util.MustSnowflake(target)
	inf.ModeratorID = util.MustSnowflake(moderator)
	inf.ChannelID = util.MustSnowflake(channel)
	inf.EventID = util.MustSnowflake(eventID)
	inf.Action = models.ActionKind(action)
	inf.Status = models.InfractionStatus(status)
	inf.CreatedAt = fromMillis(created)
	inf.UpdatedAt = fromMillis(updated)
	inf.ExpiresAt = fromNullMillis(expires)
	return &inf, nil
}

func idString(s util.Snowflake) string {
	if s.IsZero() {
		return ""
	}
	return s.String()
}

// CreateInfraction inserts inf unless an infraction with the same request
// token exists. It returns the stored record and whether it was created.
func (r *LedgerRepo) CreateInfraction(ctx context.Context, inf *models.Infraction) (*models.Infraction, bool, error) {
	if existing, err := r.InfractionByToken(ctx, inf.RequestToken); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, models.ErrNotFound) {
		return nil, false, err
	}

	_, err := r.d.db.ExecContext(ctx, r.d.rebind(
		`INSERT INTO infractions (`+infractionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inf.ID, inf.GuildID.String(), inf.TargetID.String(), idString(inf.ModeratorID), idString(inf.ChannelID),
		idString(inf.EventID), string(inf.Action), inf.Reason, inf.Evidence, inf.RequestToken, string(inf.Status),
		inf.ReversalReason, toMillis(inf.CreatedAt), toMillis(inf.UpdatedAt), nullMillis(inf.ExpiresAt),
	)
	if err != nil {
		// a concurrent writer may have won the unique token
		if existing, lookupErr := r.InfractionByToken(ctx, inf.RequestToken); lookupErr == nil {
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("insert infraction: %w", err)
	}
	return inf, true, nil
}

func (r *LedgerRepo) GetInfraction(ctx context.Context, id string) (*models.Infraction, error) {
	return r.getInfraction(ctx, r.d.db, id)
}

func (r *LedgerRepo) getInfraction(ctx context.Context, q querier, id string) (*models.Infraction, error) {
	inf, err := scanInfraction(q.QueryRowContext(ctx,
		r.d.rebind(`SELECT `+infractionColumns+` FROM infractions WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("infraction %s: %w", id, models.ErrNotFound)
	}
	return inf, err
}

func (r *LedgerRepo) InfractionByToken(ctx context.Context, token string) (*models.Infraction, error) {
	inf, err := scanInfraction(r.d.db.QueryRowContext(ctx,
		r.d.rebind(`SELECT `+infractionColumns+` FROM infractions WHERE request_token = ?`), token))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return inf, err
}

func (r *LedgerRepo) ListInfractions(ctx context.Context, f models.InfractionFilter) ([]*models.Infraction, error) {
	var (
		where []string
		args  []any
	)
	if !f.GuildID.IsZero() {
		where = append(where, "guild_id = ?")
		args = append(args, f.GuildID.String())
	}
	if !f.UserID.IsZero() {
		where = append(where, "target_id = ?")
		args = append(args, f.UserID.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + infractionColumns + ` FROM infractions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := r.d.db.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list infractions: %w", err)
	}
	defer rows.Close()

	out := []*models.Infraction{}
	for rows.Next() {
		inf, err := scanInfraction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inf)
	}
	return out, rows.Err()
}

// TransitionInfraction moves an infraction from one status to another. It
// fails with ErrInvalidTransition if the stored status is not from.
func (r *LedgerRepo) TransitionInfraction(ctx context.Context, id string, from, to models.InfractionStatus, reason string, at time.Time) (*models.Infraction, error) {
	var out *models.Infraction
	err := r.d.withTx(ctx, func(tx *sql.Tx) error {
		inf, err := r.transition(ctx, tx, id, from, to, reason, at)
		out = inf
		return err
	})
	return out, err
}

func (r *LedgerRepo) transition(ctx context.Context, tx *sql.Tx, id string, from, to models.InfractionStatus, reason string, at time.Time) (*models.Infraction, error) {
	res, err := tx.ExecContext(ctx, r.d.rebind(
		`UPDATE infractions SET status = ?, reversal_reason = ?, updated_at = ? WHERE id = ? AND status = ?`),
		string(to), reason, toMillis(at), id, string(from))
	if err != nil {
		return nil, fmt.Errorf("update infraction %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	inf, err := r.getInfraction(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return inf, fmt.Errorf("infraction %s is %s, not %s: %w", id, inf.Status, from, models.ErrInvalidTransition)
	}
	return inf, nil
}

// ExpireDue expires active infractions whose expiry has passed. Infractions
// with a pending appeal stay active until the appeal is resolved.
func (r *LedgerRepo) ExpireDue(ctx context.Context, now time.Time) ([]*models.Infraction, error) {
	rows, err := r.d.db.QueryContext(ctx, r.d.rebind(
		`SELECT id FROM infractions i
		 WHERE i.status = ? AND i.expires_at IS NOT NULL AND i.expires_at <= ?
		 AND NOT EXISTS (SELECT 1 FROM appeals a WHERE a.infraction_id = i.id AND a.status = ?)`),
		string(models.InfractionActive), toMillis(now), string(models.AppealPending))
	if err != nil {
		return nil, fmt.Errorf("query due infractions: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []*models.Infraction
	for _, id := range ids {
		inf, err := r.TransitionInfraction(ctx, id, models.InfractionActive, models.InfractionExpired, "", now)
		if errors.Is(err, models.ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return out, err
		}
		out = append(out, inf)
	}
	return out, nil
}

const appealColumns = `id, infraction_id, guild_id, user_id, text, status, resolved_by, created_at, decided_at`

func scanAppeal(row rowScanner) (*models.Appeal, error) {
	var (
		a               models.Appeal
		guild, user, by string
		status          string
		created         int64
		decided         sql.NullInt64
	)
	if err := row.Scan(&a.ID, &a.InfractionID, &guild, &user, &a.Text, &status, &by, &created, &decided); err != nil {
		return nil, err
	}
	a.GuildID = util.MustSnowflake(guild)
	a.UserID = util.MustSnowflake(user)
	a.ResolvedBy = util.MustSnowflake(by)
	a.Status = models.AppealStatus(status)
	a.CreatedAt = fromMillis(created)
	a.DecidedAt = fromNullMillis(decided)
	return &a, nil
}

// CreateAppeal inserts a pending appeal. check runs inside the transaction
// against the owning infraction and may veto the appeal.
func (r *LedgerRepo) CreateAppeal(ctx context.Context, a *models.Appeal, check func(*models.Infraction) error) error {
	return r.d.withTx(ctx, func(tx *sql.Tx) error {
		inf, err := r.getInfraction(ctx, tx, a.InfractionID)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(inf); err != nil {
				return err
			}
		}
		var pending int
		err = tx.QueryRowContext(ctx, r.d.rebind(
			`SELECT COUNT(*) FROM appeals WHERE infraction_id = ? AND status = ?`),
			a.InfractionID, string(models.AppealPending)).Scan(&pending)
		if err != nil {
			return err
		}
		if pending > 0 {
			return fmt.Errorf("infraction %s: %w", a.InfractionID, models.ErrAppealExists)
		}

		a.GuildID = inf.GuildID
		_, err = tx.ExecContext(ctx, r.d.rebind(
			`INSERT INTO appeals (`+appealColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			a.ID, a.InfractionID, a.GuildID.String(), a.UserID.String(), a.Text, string(a.Status),
			idString(a.ResolvedBy), toMillis(a.CreatedAt), nullMillis(a.DecidedAt))
		if err != nil {
			return fmt.Errorf("insert appeal: %w", err)
		}
		return nil
	})
}

func (r *LedgerRepo) GetAppeal(ctx context.Context, id string) (*models.Appeal, error) {
	return r.getAppeal(ctx, r.d.db, id)
}

func (r *LedgerRepo) getAppeal(ctx context.Context, q querier, id string) (*models.Appeal, error) {
	a, err := scanAppeal(q.QueryRowContext(ctx, r.d.rebind(`SELECT `+appealColumns+` FROM appeals WHERE id = ?`), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appeal %s: %w", id, models.ErrNotFound)
	}
	return a, err
}

func (r *LedgerRepo) ListAppeals(ctx context.Context, f models.AppealFilter) ([]*models.Appeal, error) {
	var (
		where []string
		args  []any
	)
	if !f.GuildID.IsZero() {
		where = append(where, "guild_id = ?")
		args = append(args, f.GuildID.String())
	}
	if !f.UserID.IsZero() {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID.String())
	}
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	query := `SELECT ` + appealColumns + ` FROM appeals`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, id LIMIT ?`
	args = append(args, limitOrDefault(f.Limit))

	rows, err := r.d.db.QueryContext(ctx, r.d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list appeals: %w", err)
	}
	defer rows.Close()

	out := []*models.Appeal{}
	for rows.Next() {
		a, err := scanAppeal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveAppeal moves a pending appeal to accepted or rejected. Accepting
// reverses the owning infraction in the same transaction; an infraction that
// is already reversed is left as is.
func (r *LedgerRepo) ResolveAppeal(ctx context.Context, id string, outcome models.AppealStatus, by util.Snowflake, at time.Time) (*models.Appeal, *models.Infraction, error) {
	if outcome != models.AppealAccepted && outcome != models.AppealRejected {
		return nil, nil, fmt.Errorf("appeal outcome %q: %w", outcome, models.ErrInvalidTransition)
	}

	var (
		appeal *models.Appeal
		inf    *models.Infraction
	)
	err := r.d.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, r.d.rebind(
			`UPDATE appeals SET status = ?, resolved_by = ?, decided_at = ? WHERE id = ? AND status = ?`),
			string(outcome), idString(by), toMillis(at), id, string(models.AppealPending))
		if err != nil {
			return fmt.Errorf("update appeal %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		appeal, err = r.getAppeal(ctx, tx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("appeal %s is %s: %w", id, appeal.Status, models.ErrInvalidTransition)
		}

		if outcome == models.AppealRejected {
			inf, err = r.getInfraction(ctx, tx, appeal.InfractionID)
			return err
		}
		inf, err = r.transition(ctx, tx, appeal.InfractionID, models.InfractionActive, models.InfractionReversed,
			"appeal "+appeal.ID+" accepted", at)
		if errors.Is(err, models.ErrInvalidTransition) && inf != nil && inf.Status == models.InfractionReversed {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return appeal, inf, nil
}

func (r *LedgerRepo) HasPendingAppeal(ctx context.Context, guildID, userID util.Snowflake) (bool, error) {
	var n int
	err := r.d.db.QueryRowContext(ctx, r.d.rebind(
		`SELECT COUNT(*) FROM appeals WHERE guild_id = ? AND user_id = ? AND status = ?`),
		guildID.String(), userID.String(), string(models.AppealPending)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("pending appeals: %w", err)
	}
	return n > 0, nil
}

func (r *LedgerRepo) InsertNote(ctx context.Context, n *models.AuditNote) error {
	err := r.d.db.QueryRowContext(ctx, r.d.rebind(
		`INSERT INTO audit_notes (guild_id, target_id, action, token, outcome, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`),
		n.GuildID.String(), idString(n.TargetID), string(n.Action), n.Token, string(n.Outcome), n.Detail,
		toMillis(n.CreatedAt)).Scan(&n.ID)
	if err != nil {
		return fmt.Errorf("insert audit note: %w", err)
	}
	return nil
}

func (r *LedgerRepo) ListNotes(ctx context.Context, guildID util.Snowflake, limit int) ([]*models.AuditNote, error) {
	rows, err := r.d.db.QueryContext(ctx, r.d.rebind(
		`SELECT id, guild_id, target_id, action, token, outcome, detail, created_at
		 FROM audit_notes WHERE guild_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`),
		guildID.String(), limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list audit notes: %w", err)
	}
	defer rows.Close()

	out := []*models.AuditNote{}
	for rows.Next() {
		var (
			n               models.AuditNote
			guild, target   string
			action, outcome string
			created         int64
		)
		if err := rows.Scan(&n.ID, &guild, &target, &action, &n.Token, &outcome, &n.Detail, &created); err != nil {
			return nil, err
		}
		n.GuildID = util.MustSnowflake(guild)
		n.TargetID = util.MustSnowflake(target)
		n.Action = models.ActionKind(action)
		n.Outcome = models.Outcome(outcome)
		n.CreatedAt = fromMillis(created)
		out = append(out, &n)
	}
	return out, rows.Err()
}

func limitOrDefault(limit int) int {
	if limit <= 0 || limit > 500 {
		return 100
	}
	return limit
}
