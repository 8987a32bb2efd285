package detectors

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testExtractor(c Classifier) *Extractor {
	cfg := config.DefaultDetection()
	cfg.LinkDenylist = []string{"evil.example"}
	return NewExtractor(cfg, c, time.Second)
}

func message(content string) *models.Event {
	return &models.Event{
		ID: 100, Type: models.EventTypeMessageCreate, GuildID: 1, AuthorID: 2, ChannelID: 3,
		Timestamp: now, Content: content, Roles: []util.Snowflake{10},
	}
}

func TestExtractIgnoredShortCircuit(t *testing.T) {
	x := testExtractor(NewPhraseClassifier(config.DefaultSelfHarmPhrases))
	policy := config.DefaultPolicy(1)
	policy.IgnoredRoles = []util.Snowflake{10}

	events := []*models.Event{
		message("https://evil.example/free"),
		message(strings.Repeat("<@1> ", 20)),
		message("I want to die"),
		{Type: models.EventTypeMemberJoin, GuildID: 1, AuthorID: 2, Roles: []util.Snowflake{10}},
	}
	for _, evt := range events {
		assert.Empty(t, x.Extract(evt, policy, History{DuplicateCount: 10}))
		sigs, err := x.Classify(context.Background(), evt, policy)
		assert.NoError(t, err)
		assert.Empty(t, sigs)
	}

	policy.IgnoredRoles = nil
	policy.IgnoredChannels = []util.Snowflake{3}
	assert.Empty(t, x.Extract(message("https://evil.example/"), policy, History{}))
}

func TestExtractRespectsToggles(t *testing.T) {
	x := testExtractor(nil)
	policy := config.DefaultPolicy(1)
	policy.AntiSpam = false
	policy.LinkDetection = false
	assert.Empty(t, x.Extract(message("https://evil.example"), policy, History{DuplicateCount: 5}))

	policy.Enabled = false
	policy.AntiRaid = true
	assert.Empty(t, x.Extract(&models.Event{Type: models.EventTypeMemberJoin, GuildID: 1}, policy, History{}))
}

func TestExtractSpamHeuristics(t *testing.T) {
	x := testExtractor(nil)
	policy := config.DefaultPolicy(1)

	sigs := x.Extract(message("hello"), policy, History{DuplicateCount: 1})
	require.Len(t, sigs, 1)
	assert.Equal(t, models.SourceRate, sigs[0].Source)

	sigs = x.Extract(message("hello"), policy, History{DuplicateCount: 3})
	assert.Len(t, sigs.Of(models.SignalSpam), 2)

	evt := message("hi all")
	evt.Mentions = 12
	sigs = x.Extract(evt, policy, History{})
	assert.Contains(t, sigs.Evidence(), "12 mentions")

	sigs = x.Extract(message(strings.Repeat("😀", 20)), policy, History{})
	assert.Contains(t, sigs.Evidence(), "20 emoji")

	edit := message("hello")
	edit.Type = models.EventTypeMessageEdit
	assert.Empty(t, x.Extract(edit, policy, History{}))
}

func TestExtractRaid(t *testing.T) {
	x := testExtractor(nil)
	policy := config.DefaultPolicy(1)

	join := &models.Event{Type: models.EventTypeMemberJoin, GuildID: 1, AuthorID: 7, Timestamp: now, AccountCreated: now.Add(-time.Hour)}
	sigs := x.Extract(join, policy, History{})
	require.Len(t, sigs, 1)
	assert.Equal(t, models.SignalRaid, sigs[0].Kind)
	assert.Equal(t, 0.9, sigs[0].Score)

	join.AccountCreated = now.Add(-365 * 24 * time.Hour)
	assert.Equal(t, 0.5, x.Extract(join, policy, History{})[0].Score)
}

func TestClassifyDegradesOnError(t *testing.T) {
	failing := ClassifierFunc(func(ctx context.Context, text string) (Verdict, error) {
		return Verdict{}, errors.New("model offline")
	})
	x := testExtractor(failing)
	policy := config.DefaultPolicy(1)

	sigs, err := x.Classify(context.Background(), message("I want to die"), policy)
	assert.Empty(t, sigs)
	var xerr *models.ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.Equal(t, "self_harm", xerr.Extractor)

	// the phrase fallback still answers when the model is down
	x = testExtractor(ChainClassifier{NewPhraseClassifier(config.DefaultSelfHarmPhrases), failing})
	sigs, err = x.Classify(context.Background(), message("honestly I want to DIE."), policy)
	require.NoError(t, err)
	require.Len(t, sigs, 1)
	assert.Equal(t, models.SignalSelfHarm, sigs[0].Kind)
}

func TestClassifyHonoursTimeout(t *testing.T) {
	slow := ClassifierFunc(func(ctx context.Context, text string) (Verdict, error) {
		<-ctx.Done()
		return Verdict{}, ctx.Err()
	})
	x := NewExtractor(config.DefaultDetection(), slow, 20*time.Millisecond)
	_, err := x.Classify(context.Background(), message("anything"), config.DefaultPolicy(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassifyDisabled(t *testing.T) {
	x := testExtractor(NewPhraseClassifier(config.DefaultSelfHarmPhrases))
	policy := config.DefaultPolicy(1)
	policy.SelfHarmDetection = false
	sigs, err := x.Classify(context.Background(), message("suicide"), policy)
	assert.NoError(t, err)
	assert.Empty(t, sigs)
}
