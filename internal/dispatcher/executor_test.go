package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/database"
	"github.com/Slipstreamm/openguard/internal/ledger"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type fakePlatform struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
	fail  func(call string, n int) error
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{calls: make(map[string]int)}
}

func (p *fakePlatform) record(call string) error {
	p.mu.Lock()
	p.calls[call]++
	n := p.calls[call]
	fail := p.fail
	p.mu.Unlock()
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if fail != nil {
		return fail(call, n)
	}
	return nil
}

func (p *fakePlatform) count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[call]
}

func (p *fakePlatform) Ban(context.Context, util.Snowflake, util.Snowflake, string) error {
	return p.record("ban")
}
func (p *fakePlatform) Unban(context.Context, util.Snowflake, util.Snowflake, string) error {
	return p.record("unban")
}
func (p *fakePlatform) Kick(context.Context, util.Snowflake, util.Snowflake, string) error {
	return p.record("kick")
}
func (p *fakePlatform) Timeout(context.Context, util.Snowflake, util.Snowflake, time.Time, string) error {
	return p.record("timeout")
}
func (p *fakePlatform) RemoveTimeout(context.Context, util.Snowflake, util.Snowflake, string) error {
	return p.record("remove_timeout")
}
func (p *fakePlatform) DeleteMessage(context.Context, util.Snowflake, util.Snowflake, string) error {
	return p.record("delete")
}
func (p *fakePlatform) SendDM(context.Context, util.Snowflake, string) error {
	return p.record("dm")
}

type staticPolicies struct{ policy *config.GuildPolicy }

func (s staticPolicies) Snapshot(_ context.Context, guildID util.Snowflake) (*config.GuildPolicy, error) {
	if s.policy == nil {
		return config.DefaultPolicy(guildID), nil
	}
	return s.policy.Clone(), nil
}

type recordingAlerter struct {
	mu   sync.Mutex
	errs []error
}

func (a *recordingAlerter) AlertFailure(_ context.Context, _ models.Decision, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errs = append(a.errs, err)
}

func transient() error {
	return &models.EnforcementError{Action: models.ActionBan, StatusCode: 429, Transient: true, Err: errors.New("rate limited")}
}

func permanent() error {
	return &models.EnforcementError{Action: models.ActionBan, StatusCode: 403, Err: errors.New("Missing Permissions")}
}

type harness struct {
	exec     *Executor
	platform *fakePlatform
	ledger   *ledger.Ledger
	alerts   *recordingAlerter
}

func newHarness(t *testing.T, attempts int) *harness {
	t.Helper()
	d, err := database.Open(context.Background(), config.DatabaseConfig{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, d.Migrate())
	t.Cleanup(func() { _ = d.Close() })

	l := ledger.New(database.NewLedgerRepo(d), nil, nil)
	p := newFakePlatform()
	policy := RetryPolicy{MaxAttempts: attempts, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond, Budget: 5 * time.Second}
	exec := NewExecutor(p, l, staticPolicies{}, NewMemoryTokenStore(1024, time.Hour), policy, nil)
	alerts := &recordingAlerter{}
	exec.SetAlerter(alerts)
	l.SetReverter(exec)
	return &harness{exec: exec, platform: p, ledger: l, alerts: alerts}
}

func banDecision(event uint64) models.Decision {
	return models.Decision{
		Action: models.ActionBan, Signal: models.SignalLink,
		GuildID: 1, TargetID: 2, ChannelID: 3, EventID: util.Snowflake(event),
		Reason: "Denylisted link",
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	first, err := h.exec.Execute(ctx, banDecision(10))
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := h.exec.Execute(ctx, banDecision(10))
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, h.platform.count("ban"))

	notes, err := h.ledger.ListNotes(ctx, 1, 0)
	require.NoError(t, err)
	outcomes := map[models.Outcome]int{}
	for _, n := range notes {
		outcomes[n.Outcome]++
	}
	assert.Equal(t, map[models.Outcome]int{models.OutcomeExecuted: 1, models.OutcomeDuplicate: 1}, outcomes)
}

func TestExecuteNewEventIsNewRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	a, err := h.exec.Execute(ctx, banDecision(10))
	require.NoError(t, err)
	b, err := h.exec.Execute(ctx, banDecision(11))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, h.platform.count("ban"))
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	h := newHarness(t, 5)
	h.platform.fail = func(_ string, n int) error {
		if n < 3 {
			return transient()
		}
		return nil
	}

	inf, err := h.exec.Execute(context.Background(), banDecision(10))
	require.NoError(t, err)
	assert.Equal(t, models.InfractionActive, inf.Status)
	assert.Equal(t, 3, h.platform.count("ban"))
	assert.Empty(t, h.alerts.errs)
}

func TestExecuteAttemptsAreBounded(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	h.platform.fail = func(string, int) error { return transient() }

	inf, err := h.exec.Execute(ctx, banDecision(10))
	assert.Nil(t, inf)
	assert.True(t, models.IsTransient(err))
	assert.Equal(t, 3, h.platform.count("ban"))

	_, err = h.ledger.Lookup(ctx, banDecision(10).Token())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestExecutePermanentFailure(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	h.platform.fail = func(string, int) error { return permanent() }

	inf, err := h.exec.Execute(ctx, banDecision(10))
	assert.Nil(t, inf)
	var ee *models.EnforcementError
	require.ErrorAs(t, err, &ee)
	assert.False(t, ee.Transient)
	assert.Equal(t, 1, h.platform.count("ban"), "permanent failures are never retried")
	assert.Len(t, h.alerts.errs, 1)

	list, err := h.ledger.ListInfractions(ctx, models.InfractionFilter{GuildID: 1})
	require.NoError(t, err)
	assert.Empty(t, list)

	notes, err := h.ledger.ListNotes(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, models.OutcomeFailed, notes[0].Outcome)
	assert.Contains(t, notes[0].Detail, "Missing Permissions")

	// The token was released, so a later delivery may try again.
	h.platform.fail = nil
	_, err = h.exec.Execute(ctx, banDecision(10))
	require.NoError(t, err)
	assert.Equal(t, 2, h.platform.count("ban"))
}

func TestExecuteMemberAlreadyGone(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 5)
	h.platform.fail = func(string, int) error {
		return &models.EnforcementError{StatusCode: 404, Err: fmt.Errorf("%w: Unknown Member", ErrUnknownEntity)}
	}

	for i, kind := range []models.ActionKind{models.ActionKick, models.ActionTimeout} {
		d := models.Decision{Action: kind, Signal: models.SignalRaid, GuildID: 1, TargetID: 2, EventID: util.Snowflake(40 + i)}
		inf, err := h.exec.Execute(ctx, d)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, inf.Action)
	}
	assert.Equal(t, 1, h.platform.count("kick"))
	assert.Equal(t, 1, h.platform.count("timeout"))
	assert.Empty(t, h.alerts.errs)
}

func TestConcurrentDeliveriesActOnce(t *testing.T) {
	h := newHarness(t, 3)
	h.platform.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.exec.Execute(context.Background(), banDecision(10))
			if err != nil {
				assert.ErrorIs(t, err, ErrInFlight)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, h.platform.count("ban"))
}

func TestExecuteSuppressedDuringAppeal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	timeout := models.Decision{Action: models.ActionTimeout, GuildID: 1, TargetID: 2, EventID: 5, Timeout: time.Hour}
	inf, err := h.exec.Execute(ctx, timeout)
	require.NoError(t, err)
	_, err = h.ledger.FileAppeal(ctx, inf.ID, 2, "I was quoting someone")
	require.NoError(t, err)

	_, err = h.exec.Execute(ctx, banDecision(10))
	assert.ErrorIs(t, err, ErrSuppressed)
	assert.Zero(t, h.platform.count("ban"))

	// Deletions still happen.
	del := models.Decision{Action: models.ActionDelete, GuildID: 1, TargetID: 2, ChannelID: 3, EventID: 11}
	_, err = h.exec.Execute(ctx, del)
	require.NoError(t, err)
	assert.Equal(t, 1, h.platform.count("delete"))
}

func TestWarnAndEscalateSurviveClosedDMs(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)
	h.platform.fail = func(call string, _ int) error {
		if call == "dm" {
			return &models.EnforcementError{Action: models.ActionWarn, StatusCode: 403, Err: errors.New("Cannot send messages to this user")}
		}
		return nil
	}

	for i, kind := range []models.ActionKind{models.ActionWarn, models.ActionEscalate} {
		inf, err := h.exec.Execute(ctx, models.Decision{Action: kind, GuildID: 1, TargetID: 2, EventID: util.Snowflake(20 + i)})
		require.NoError(t, err, kind)
		assert.Equal(t, kind, inf.Action)
	}
	assert.Equal(t, 2, h.platform.count("dm"))
}

func TestReverseCallsPlatform(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 3)

	inf, err := h.exec.Execute(ctx, banDecision(10))
	require.NoError(t, err)
	_, err = h.ledger.Reverse(ctx, inf.ID, "false positive")
	require.NoError(t, err)
	assert.Equal(t, 1, h.platform.count("unban"))

	h.platform.fail = func(call string, _ int) error {
		if call == "remove_timeout" {
			return &models.EnforcementError{Action: models.ActionTimeout, StatusCode: 404, Err: ErrUnknownEntity}
		}
		return nil
	}
	assert.NoError(t, h.exec.Revert(ctx, &models.Infraction{ID: "x", Action: models.ActionTimeout, GuildID: 1, TargetID: 2}))
	assert.NoError(t, h.exec.Revert(ctx, &models.Infraction{ID: "y", Action: models.ActionKick}))
	assert.Equal(t, 1, h.platform.count("remove_timeout"))
}
