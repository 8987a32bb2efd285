package config

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

// PolicyBackend persists policy documents. LoadPolicy returns
// models.ErrNotFound for guilds that never had one installed.
type PolicyBackend interface {
	LoadPolicy(ctx context.Context, guildID util.Snowflake) (*GuildPolicy, error)
	SavePolicy(ctx context.Context, p *GuildPolicy) error
}

const policyLockStripes = 64

// PolicyStore serves copy-on-read policy snapshots. Reads are concurrent;
// writes are serialized per guild through a striped lock.
type PolicyStore struct {
	backend PolicyBackend
	cache   *expirable.LRU[util.Snowflake, *GuildPolicy]
	locks   [policyLockStripes]sync.Mutex
	now     func() time.Time
}

func NewPolicyStore(backend PolicyBackend, cacheSize int, ttl time.Duration) *PolicyStore {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	return &PolicyStore{
		backend: backend,
		cache:   expirable.NewLRU[util.Snowflake, *GuildPolicy](cacheSize, nil, ttl),
		now:     time.Now,
	}
}

// Snapshot returns a private copy of the guild's policy. A guild without a
// stored document gets the defaults; a backend failure is reported as a
// PolicyUnavailableError and never papered over with a guess.
func (ps *PolicyStore) Snapshot(ctx context.Context, guildID util.Snowflake) (*GuildPolicy, error) {
	if p, ok := ps.cache.Get(guildID); ok {
		return p.Clone(), nil
	}

	p, err := ps.backend.LoadPolicy(ctx, guildID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		p = DefaultPolicy(guildID)
	case err != nil:
		return nil, &models.PolicyUnavailableError{GuildID: guildID, Err: err}
	}
	p.FillDefaults()

	ps.cache.Add(guildID, p)
	return p.Clone(), nil
}

// Install writes the default policy for a guild that has none. Existing
// documents are left untouched.
func (ps *PolicyStore) Install(ctx context.Context, guildID util.Snowflake) (*GuildPolicy, error) {
	mu := ps.lockFor(guildID)
	mu.Lock()
	defer mu.Unlock()

	existing, err := ps.backend.LoadPolicy(ctx, guildID)
	if err == nil {
		existing.FillDefaults()
		ps.cache.Add(guildID, existing)
		return existing.Clone(), nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, &models.PolicyUnavailableError{GuildID: guildID, Err: err}
	}

	p := DefaultPolicy(guildID)
	p.UpdatedAt = ps.now().UTC()
	if err := ps.backend.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("install default policy: %w", err)
	}
	ps.cache.Add(guildID, p)
	return p.Clone(), nil
}

// Put replaces the guild's policy document.
func (ps *PolicyStore) Put(ctx context.Context, p *GuildPolicy) (*GuildPolicy, error) {
	mu := ps.lockFor(p.GuildID)
	mu.Lock()
	defer mu.Unlock()

	return ps.putLocked(ctx, p.Clone())
}

// Update applies fn to the current document and stores the result.
func (ps *PolicyStore) Update(ctx context.Context, guildID util.Snowflake, fn func(*GuildPolicy) error) (*GuildPolicy, error) {
	mu := ps.lockFor(guildID)
	mu.Lock()
	defer mu.Unlock()

	current, err := ps.backend.LoadPolicy(ctx, guildID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		current = DefaultPolicy(guildID)
	case err != nil:
		return nil, &models.PolicyUnavailableError{GuildID: guildID, Err: err}
	}
	current.FillDefaults()

	if err := fn(current); err != nil {
		return nil, err
	}
	current.GuildID = guildID
	return ps.putLocked(ctx, current)
}

func (ps *PolicyStore) putLocked(ctx context.Context, p *GuildPolicy) (*GuildPolicy, error) {
	p.FillDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = ps.now().UTC()
	if err := ps.backend.SavePolicy(ctx, p); err != nil {
		return nil, fmt.Errorf("save policy: %w", err)
	}
	ps.cache.Add(p.GuildID, p)
	return p.Clone(), nil
}

// Prime caches a policy read elsewhere, such as a startup sync, without
// writing it back.
func (ps *PolicyStore) Prime(p *GuildPolicy) {
	ps.cache.Add(p.GuildID, p.Clone())
}

// Invalidate drops the cached copy, e.g. after the bot leaves the guild.
func (ps *PolicyStore) Invalidate(guildID util.Snowflake) {
	ps.cache.Remove(guildID)
}

func (ps *PolicyStore) lockFor(guildID util.Snowflake) *sync.Mutex {
	return &ps.locks[uint64(guildID)%policyLockStripes]
}
