package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/database"
	"github.com/Slipstreamm/openguard/internal/models"
)

type fakeReverter struct {
	mu       sync.Mutex
	reverted []string
	err      error
}

func (f *fakeReverter) Revert(_ context.Context, inf *models.Infraction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reverted = append(f.reverted, inf.ID)
	return f.err
}

func newTestLedger(t *testing.T) (*Ledger, *fakeReverter) {
	t.Helper()
	d, err := database.Open(context.Background(), config.DatabaseConfig{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { _ = d.Close() })

	rev := &fakeReverter{}
	return New(database.NewLedgerRepo(d), rev, nil), rev
}

func TestRecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	d := models.Decision{Action: models.ActionTimeout, GuildID: 1, TargetID: 2, EventID: 10, Timeout: 10 * time.Minute, Reason: "spam"}
	first, created, err := l.Record(ctx, d)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, models.InfractionActive, first.Status)
	require.NotNil(t, first.ExpiresAt)

	second, created, err := l.Record(ctx, d)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	list, err := l.ListInfractions(ctx, models.InfractionFilter{GuildID: 1, UserID: 2})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestReverseIsTerminal(t *testing.T) {
	ctx := context.Background()
	l, rev := newTestLedger(t)

	inf, _, err := l.Record(ctx, models.Decision{Action: models.ActionBan, GuildID: 1, TargetID: 2, EventID: 10})
	require.NoError(t, err)

	reversed, err := l.Reverse(ctx, inf.ID, "")
	require.NoError(t, err)
	assert.Equal(t, models.InfractionReversed, reversed.Status)
	assert.Equal(t, "reversed by moderator", reversed.ReversalReason)
	assert.Equal(t, []string{inf.ID}, rev.reverted)

	_, err = l.Reverse(ctx, inf.ID, "again")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = l.Expire(ctx, inf.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestAppealAcceptanceReverses(t *testing.T) {
	ctx := context.Background()
	l, rev := newTestLedger(t)

	inf, _, err := l.Record(ctx, models.Decision{Action: models.ActionTimeout, GuildID: 1, TargetID: 2, EventID: 10, Timeout: time.Hour})
	require.NoError(t, err)

	a, err := l.FileAppeal(ctx, inf.ID, 0, "  it was a joke  ")
	require.NoError(t, err)
	assert.EqualValues(t, 2, a.UserID)
	assert.Equal(t, "it was a joke", a.Text)

	pending, err := l.HasPendingAppeal(ctx, 1, 2)
	require.NoError(t, err)
	assert.True(t, pending)

	_, err = l.FileAppeal(ctx, inf.ID, 2, "please")
	assert.ErrorIs(t, err, models.ErrAppealExists)

	resolved, after, err := l.ResolveAppeal(ctx, a.ID, models.AppealAccepted, 99)
	require.NoError(t, err)
	assert.Equal(t, models.AppealAccepted, resolved.Status)
	assert.Equal(t, models.InfractionReversed, after.Status)
	assert.Equal(t, []string{inf.ID}, rev.reverted)
}

func TestAppealRejectionKeepsStatus(t *testing.T) {
	ctx := context.Background()
	l, rev := newTestLedger(t)

	inf, _, err := l.Record(ctx, models.Decision{Action: models.ActionKick, GuildID: 1, TargetID: 2, EventID: 10})
	require.NoError(t, err)
	a, err := l.FileAppeal(ctx, inf.ID, 2, "not me")
	require.NoError(t, err)

	_, after, err := l.ResolveAppeal(ctx, a.ID, models.AppealRejected, 99)
	require.NoError(t, err)
	assert.Equal(t, models.InfractionActive, after.Status)
	assert.Empty(t, rev.reverted)

	_, _, err = l.ResolveAppeal(ctx, a.ID, models.AppealAccepted, 99)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestFileAppealRules(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	esc, _, err := l.Record(ctx, models.Decision{Action: models.ActionEscalate, GuildID: 1, TargetID: 2, EventID: 10})
	require.NoError(t, err)
	_, err = l.FileAppeal(ctx, esc.ID, 2, "help")
	assert.ErrorIs(t, err, models.ErrNotAppealable)

	ban, _, err := l.Record(ctx, models.Decision{Action: models.ActionBan, GuildID: 1, TargetID: 2, EventID: 11})
	require.NoError(t, err)
	_, err = l.FileAppeal(ctx, ban.ID, 3, "not my ban")
	assert.ErrorIs(t, err, models.ErrNotAppealable)
	_, err = l.FileAppeal(ctx, ban.ID, 2, "   ")
	assert.Error(t, err)

	_, err = l.Reverse(ctx, ban.ID, "oops")
	require.NoError(t, err)
	_, err = l.FileAppeal(ctx, ban.ID, 2, "late")
	assert.ErrorIs(t, err, models.ErrInvalidTransition)

	_, err = l.FileAppeal(ctx, "missing", 2, "x")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

type recordingAppealNotifier struct {
	mu    sync.Mutex
	filed []*models.Appeal
	owner []*models.Infraction
}

func (r *recordingAppealNotifier) AppealFiled(_ context.Context, a *models.Appeal, inf *models.Infraction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filed = append(r.filed, a)
	r.owner = append(r.owner, inf)
}

func TestFileAppealNotifiesModerators(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	n := &recordingAppealNotifier{}
	l.SetAppealNotifier(n)

	ban, _, err := l.Record(ctx, models.Decision{Action: models.ActionBan, GuildID: 1, TargetID: 2, EventID: 10})
	require.NoError(t, err)

	_, err = l.FileAppeal(ctx, ban.ID, 3, "not mine")
	require.Error(t, err)
	assert.Empty(t, n.filed, "rejected appeals are not announced")

	a, err := l.FileAppeal(ctx, ban.ID, 0, "please reconsider")
	require.NoError(t, err)
	require.Len(t, n.filed, 1)
	assert.Equal(t, a.ID, n.filed[0].ID)
	assert.EqualValues(t, 1, n.filed[0].GuildID)
	assert.EqualValues(t, 2, n.filed[0].UserID)
	assert.Equal(t, ban.ID, n.owner[0].ID)
}

func TestRevertFailureIsNoted(t *testing.T) {
	ctx := context.Background()
	l, rev := newTestLedger(t)
	rev.err = errors.New("missing permissions")

	inf, _, err := l.Record(ctx, models.Decision{Action: models.ActionBan, GuildID: 1, TargetID: 2, EventID: 10})
	require.NoError(t, err)
	_, err = l.Reverse(ctx, inf.ID, "mistake")
	require.NoError(t, err, "ledger state wins over platform failures")

	notes, err := l.ListNotes(ctx, 1, 10)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.OutcomeFailed, notes[0].Outcome)
	assert.Contains(t, notes[0].Detail, "missing permissions")
}

func TestExpirySweeper(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }

	_, _, err := l.Record(ctx, models.Decision{Action: models.ActionTimeout, GuildID: 1, TargetID: 2, EventID: 10, Timeout: time.Minute})
	require.NoError(t, err)
	_, _, err = l.Record(ctx, models.Decision{Action: models.ActionBan, GuildID: 1, TargetID: 3, EventID: 11})
	require.NoError(t, err)

	s := NewExpirySweeper(l, time.Minute)
	assert.Equal(t, 0, s.Sweep(ctx))

	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	assert.Equal(t, 1, s.Sweep(ctx))
	assert.True(t, s.Health.IsHealthy())

	expired, err := l.ListInfractions(ctx, models.InfractionFilter{Status: models.InfractionExpired})
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.EqualValues(t, 2, expired[0].TargetID)
}

func TestNote(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)
	d := models.Decision{Action: models.ActionBan, GuildID: 1, TargetID: 2, EventID: 10}
	require.NoError(t, l.Note(ctx, d, models.OutcomeExpired, "no response"))

	notes, err := l.ListNotes(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, d.Token(), notes[0].Token)
	assert.Equal(t, models.OutcomeExpired, notes[0].Outcome)
}
