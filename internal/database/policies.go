package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

// PolicyRepo stores GuildPolicy documents as JSON, one row per guild. It
// implements config.PolicyBackend.
type PolicyRepo struct {
	d *Database
}

func NewPolicyRepo(d *Database) *PolicyRepo {
	return &PolicyRepo{d: d}
}

func (r *PolicyRepo) LoadPolicy(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error) {
	var doc string
	err := r.d.db.QueryRowContext(ctx,
		r.d.rebind(`SELECT document FROM guild_policies WHERE guild_id = ?`),
		guildID.String(),
	).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load policy %s: %w", guildID, err)
	}

	var p config.GuildPolicy
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("decode policy %s: %w", guildID, err)
	}
	p.GuildID = guildID
	p.FillDefaults()
	return &p, nil
}

func (r *PolicyRepo) SavePolicy(ctx context.Context, p *config.GuildPolicy) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode policy %s: %w", p.GuildID, err)
	}
	_, err = r.d.db.ExecContext(ctx, r.d.rebind(
		`INSERT INTO guild_policies (guild_id, document, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (guild_id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`),
		p.GuildID.String(), string(doc), toMillis(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save policy %s: %w", p.GuildID, err)
	}
	return nil
}

// ListPolicyGuilds returns every guild with a stored policy.
func (r *PolicyRepo) ListPolicyGuilds(ctx context.Context) ([]util.Snowflake, error) {
	rows, err := r.d.db.QueryContext(ctx, `SELECT guild_id FROM guild_policies`)
	if err != nil {
		return nil, fmt.Errorf("failed to query guild policies: %w", err)
	}
	defer rows.Close()

	var ids []util.Snowflake
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan guild ID: %w", err)
		}
		id, err := util.ParseSnowflake(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid guild ID %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SyncPolicies loads every stored policy into the store's cache. Guilds that
// fail to load are skipped and reported in the returned error.
func (r *PolicyRepo) SyncPolicies(ctx context.Context, store *config.PolicyStore) (int, error) {
	ids, err := r.ListPolicyGuilds(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	synced := 0
	for _, id := range ids {
		p, err := r.LoadPolicy(ctx, id)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		store.Prime(p)
		synced++
	}
	return synced, errors.Join(errs...)
}
