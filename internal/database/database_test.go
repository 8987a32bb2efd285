package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

var t0 = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(context.Background(), config.DatabaseConfig{Driver: DriverSQLite, DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := d.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func testInfraction(id, token string) *models.Infraction {
	exp := t0.Add(10 * time.Minute)
	return &models.Infraction{
		ID: id, GuildID: 1, TargetID: 2, ChannelID: 3, EventID: 4,
		Action: models.ActionTimeout, Reason: "Spam: 5 messages within 10s", Evidence: "spam window 5",
		RequestToken: token, Status: models.InfractionActive,
		CreatedAt: t0, UpdatedAt: t0, ExpiresAt: &exp,
	}
}

func TestRebind(t *testing.T) {
	d := &Database{driver: DriverPostgres}
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", d.rebind("SELECT * FROM t WHERE a = ? AND b = ?"))
	d.driver = DriverSQLite
	assert.Equal(t, "a = ?", d.rebind("a = ?"))
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "mysql"})
	assert.Error(t, err)
}

func TestPolicyRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewPolicyRepo(newTestDB(t))

	_, err := repo.LoadPolicy(ctx, 42)
	assert.ErrorIs(t, err, models.ErrNotFound)

	p := config.DefaultPolicy(42)
	p.IgnoredRoles = []util.Snowflake{7, 8}
	p.ActionConfirmations["nonsense"] = true
	p.UpdatedAt = t0
	require.NoError(t, repo.SavePolicy(ctx, p))

	got, err := repo.LoadPolicy(ctx, 42)
	require.NoError(t, err)
	if diff := cmp.Diff(p, got); diff != "" {
		t.Errorf("LoadPolicy mismatch (-want +got):\n%s", diff)
	}

	p.AntiSpam = false
	require.NoError(t, repo.SavePolicy(ctx, p))
	got, err = repo.LoadPolicy(ctx, 42)
	require.NoError(t, err)
	assert.False(t, got.AntiSpam)

	ids, err := repo.ListPolicyGuilds(ctx)
	require.NoError(t, err)
	assert.Equal(t, []util.Snowflake{42}, ids)
}

func TestSyncPolicies(t *testing.T) {
	ctx := context.Background()
	repo := NewPolicyRepo(newTestDB(t))
	for _, id := range []util.Snowflake{1, 2, 3} {
		require.NoError(t, repo.SavePolicy(ctx, config.DefaultPolicy(id)))
	}
	store := config.NewPolicyStore(repo, 16, time.Minute)
	n, err := repo.SyncPolicies(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCreateInfractionIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestDB(t))

	inf := testInfraction("inf-1", "tok-1")
	stored, created, err := repo.CreateInfraction(ctx, inf)
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreateInfraction(ctx, testInfraction("inf-2", "tok-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stored.ID, again.ID)

	got, err := repo.GetInfraction(ctx, "inf-1")
	require.NoError(t, err)
	if diff := cmp.Diff(inf, got); diff != "" {
		t.Errorf("GetInfraction mismatch (-want +got):\n%s", diff)
	}

	list, err := repo.ListInfractions(ctx, models.InfractionFilter{GuildID: 1})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestCreateInfractionConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestDB(t))

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, created, err := repo.CreateInfraction(ctx, testInfraction(util.Uint64ToString(uint64(i)), "same-token"))
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, createdCount)

	list, err := repo.ListInfractions(ctx, models.InfractionFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestTransitionInfraction(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestDB(t))
	_, _, err := repo.CreateInfraction(ctx, testInfraction("inf-1", "tok-1"))
	require.NoError(t, err)

	inf, err := repo.TransitionInfraction(ctx, "inf-1", models.InfractionActive, models.InfractionReversed, "mistake", t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.InfractionReversed, inf.Status)
	assert.Equal(t, "mistake", inf.ReversalReason)

	_, err = repo.TransitionInfraction(ctx, "inf-1", models.InfractionActive, models.InfractionExpired, "", t0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = repo.TransitionInfraction(ctx, "missing", models.InfractionActive, models.InfractionExpired, "", t0)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAppealLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestDB(t))
	_, _, err := repo.CreateInfraction(ctx, testInfraction("inf-1", "tok-1"))
	require.NoError(t, err)

	newAppeal := func(id string) *models.Appeal {
		return &models.Appeal{ID: id, InfractionID: "inf-1", UserID: 2, Text: "sorry", Status: models.AppealPending, CreatedAt: t0}
	}

	require.NoError(t, repo.CreateAppeal(ctx, newAppeal("ap-1"), nil))
	err = repo.CreateAppeal(ctx, newAppeal("ap-2"), nil)
	assert.ErrorIs(t, err, models.ErrAppealExists)

	veto := errors.New("veto")
	assert.ErrorIs(t, repo.CreateAppeal(ctx, newAppeal("ap-3"), func(*models.Infraction) error { return veto }), veto)

	pending, err := repo.HasPendingAppeal(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, pending)

	// rejection leaves the infraction alone
	a, inf, err := repo.ResolveAppeal(ctx, "ap-1", models.AppealRejected, 9, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.AppealRejected, a.Status)
	assert.Equal(t, models.InfractionActive, inf.Status)
	assert.EqualValues(t, 9, a.ResolvedBy)

	_, _, err = repo.ResolveAppeal(ctx, "ap-1", models.AppealAccepted, 9, t0)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	// acceptance reverses
	require.NoError(t, repo.CreateAppeal(ctx, newAppeal("ap-4"), nil))
	a, inf, err = repo.ResolveAppeal(ctx, "ap-4", models.AppealAccepted, 9, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, models.AppealAccepted, a.Status)
	assert.Equal(t, models.InfractionReversed, inf.Status)

	appeals, err := repo.ListAppeals(ctx, models.AppealFilter{GuildID: 1, UserID: 2})
	require.NoError(t, err)
	assert.Len(t, appeals, 2)

	pending, err = repo.HasPendingAppeal(ctx, 1, 2)
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestExpireDueSkipsPendingAppeals(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestDB(t))
	_, _, err := repo.CreateInfraction(ctx, testInfraction("inf-1", "tok-1"))
	require.NoError(t, err)
	second := testInfraction("inf-2", "tok-2")
	second.TargetID = 5
	_, _, err = repo.CreateInfraction(ctx, second)
	require.NoError(t, err)
	require.NoError(t, repo.CreateAppeal(ctx, &models.Appeal{
		ID: "ap-1", InfractionID: "inf-2", UserID: 5, Text: "hi", Status: models.AppealPending, CreatedAt: t0,
	}, nil))

	none, err := repo.ExpireDue(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, none)

	expired, err := repo.ExpireDue(ctx, t0.Add(11*time.Minute))
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "inf-1", expired[0].ID)
	assert.Equal(t, models.InfractionExpired, expired[0].Status)
}

func TestAuditNotes(t *testing.T) {
	ctx := context.Background()
	repo := NewLedgerRepo(newTestDB(t))

	notes := []*models.AuditNote{
		{GuildID: 1, TargetID: 2, Action: models.ActionBan, Token: "a", Outcome: models.OutcomeExpired, CreatedAt: t0},
		{GuildID: 1, TargetID: 2, Action: models.ActionKick, Token: "b", Outcome: models.OutcomeFailed, Detail: "403", CreatedAt: t0.Add(time.Second)},
		{GuildID: 9, TargetID: 2, Action: models.ActionKick, Token: "c", Outcome: models.OutcomeExecuted, CreatedAt: t0},
	}
	for _, n := range notes {
		require.NoError(t, repo.InsertNote(ctx, n))
		assert.NotZero(t, n.ID)
	}

	got, err := repo.ListNotes(ctx, 1, 10)
	require.NoError(t, err)
	want := []*models.AuditNote{notes[1], notes[0]}
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(models.AuditNote{}, "ID")); diff != "" {
		t.Errorf("ListNotes mismatch (-want +got):\n%s", diff)
	}
}
