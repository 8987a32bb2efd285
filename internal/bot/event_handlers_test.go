package bot

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

func TestMessageEventNormalizes(t *testing.T) {
	edited := time.Date(2024, 5, 1, 12, 0, 5, 0, time.UTC)
	msg := &discordgo.Message{
		ID:              "1236000000000000001",
		GuildID:         "100",
		ChannelID:       "200",
		Content:         "hello @everyone",
		Timestamp:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		EditedTimestamp: &edited,
		Author:          &discordgo.User{ID: "175928847299117063"},
		Mentions:        []*discordgo.User{{ID: "1"}, {ID: "2"}},
		MentionRoles:    []string{"9"},
		MentionEveryone: true,
		Member:          &discordgo.Member{Roles: []string{"300", "bogus"}},
	}

	evt, ok := MessageEvent(msg, models.EventTypeMessageCreate)
	require.True(t, ok)
	assert.Equal(t, util.Snowflake(100), evt.GuildID)
	assert.Equal(t, util.Snowflake(200), evt.ChannelID)
	assert.Equal(t, 4, evt.Mentions)
	assert.Equal(t, []util.Snowflake{300}, evt.Roles)
	assert.Equal(t, msg.Timestamp, evt.Timestamp)
	assert.Equal(t, 2016, evt.AccountCreated.Year())

	evt, ok = MessageEvent(msg, models.EventTypeMessageEdit)
	require.True(t, ok)
	assert.Equal(t, edited, evt.Timestamp)
}

func TestMessageEventSkipsUnmoderated(t *testing.T) {
	tests := []struct {
		name string
		msg  *discordgo.Message
	}{
		{"nil", nil},
		{"no author", &discordgo.Message{ID: "1", GuildID: "2"}},
		{"direct message", &discordgo.Message{ID: "1", Author: &discordgo.User{ID: "3"}}},
		{"webhook", &discordgo.Message{ID: "1", GuildID: "2", WebhookID: "4", Author: &discordgo.User{ID: "3"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := MessageEvent(tt.msg, models.EventTypeMessageCreate)
			assert.False(t, ok)
		})
	}
}

func TestJoinEventSynthesizesID(t *testing.T) {
	joined := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	member := &discordgo.Member{
		GuildID:  "100",
		JoinedAt: joined,
		User:     &discordgo.User{ID: "175928847299117063", Bot: true},
		Roles:    []string{"5"},
	}

	evt, ok := JoinEvent(member)
	require.True(t, ok)
	assert.Equal(t, models.EventTypeMemberJoin, evt.Type)
	assert.True(t, evt.AuthorIsBot)
	assert.Equal(t, joined, evt.Timestamp)

	created, err := discordgo.SnowflakeTimestamp(evt.ID.String())
	require.NoError(t, err)
	assert.True(t, created.Equal(joined))

	other := *member
	other.User = &discordgo.User{ID: "175928847299117064"}
	evt2, _ := JoinEvent(&other)
	assert.NotEqual(t, evt.ID, evt2.ID)

	_, ok = JoinEvent(&discordgo.Member{GuildID: "100"})
	assert.False(t, ok)
}

type fakeEngine struct {
	resolved []string
	err      error
}

func (f *fakeEngine) Ingest(Event) bool          { return true }
func (f *fakeEngine) RemoveGuild(util.Snowflake) {}
func (f *fakeEngine) ResolveConfirmation(_ context.Context, _ util.Snowflake, id string, approve bool, _ util.Snowflake) error {
	f.resolved = append(f.resolved, fmt.Sprintf("%s:%t", id, approve))
	return f.err
}

type fakeAppeals struct {
	outcomes []models.AppealStatus
	err      error
}

func (f *fakeAppeals) ResolveAppeal(_ context.Context, id string, outcome models.AppealStatus, moderatorID util.Snowflake) (*models.Appeal, *models.Infraction, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	f.outcomes = append(f.outcomes, outcome)
	a := &models.Appeal{ID: id, InfractionID: "inf-1", UserID: 2, Status: outcome, ResolvedBy: moderatorID}
	return a, &models.Infraction{ID: "inf-1", Action: models.ActionBan}, nil
}

func moderator() *discordgo.Member {
	return &discordgo.Member{User: &discordgo.User{ID: "99"}, Permissions: discordgo.PermissionModerateMembers}
}

func TestConfirmationButtons(t *testing.T) {
	engine := &fakeEngine{}
	s := &Session{engine: engine}
	ctx := context.Background()

	resp := s.componentResponse(ctx, "1", &discordgo.Member{User: &discordgo.User{ID: "5"}}, "confirm:approve:c1")
	require.NotNil(t, resp)
	assert.Contains(t, resp.Data.Content, "Only moderators")
	assert.Empty(t, engine.resolved)

	resp = s.componentResponse(ctx, "1", moderator(), "confirm:reject:c1")
	assert.Equal(t, "Rejected. No action will be taken.", resp.Data.Content)
	assert.Equal(t, []string{"c1:false"}, engine.resolved)

	engine.err = models.ErrNotFound
	resp = s.componentResponse(ctx, "1", moderator(), "confirm:approve:c1")
	assert.Contains(t, resp.Data.Content, "no longer pending")

	assert.Nil(t, s.componentResponse(ctx, "1", moderator(), "something:else"))
}

func TestAppealReviewButtons(t *testing.T) {
	appeals := &fakeAppeals{}
	s := &Session{engine: &fakeEngine{}}
	ctx := context.Background()

	assert.Nil(t, s.componentResponse(ctx, "1", moderator(), "appeal:accept:a1"), "ignored until appeals are attached")
	s.SetAppeals(appeals)

	resp := s.componentResponse(ctx, "1", &discordgo.Member{User: &discordgo.User{ID: "5"}}, "appeal:accept:a1")
	assert.Contains(t, resp.Data.Content, "Only moderators")
	assert.Empty(t, appeals.outcomes)

	resp = s.componentResponse(ctx, "1", moderator(), "appeal:accept:a1")
	require.NotNil(t, resp)
	assert.Equal(t, discordgo.InteractionResponseUpdateMessage, resp.Type)
	assert.Equal(t, []models.AppealStatus{models.AppealAccepted}, appeals.outcomes)
	assert.Equal(t, "Appeal accepted by 99", resp.Data.Embeds[0].Title)
	row := resp.Data.Components[0].(discordgo.ActionsRow)
	assert.True(t, row.Components[0].(discordgo.Button).Disabled)

	s.componentResponse(ctx, "1", moderator(), "appeal:reject:a2")
	assert.Equal(t, models.AppealRejected, appeals.outcomes[1])

	appeals.err = models.ErrInvalidTransition
	resp = s.componentResponse(ctx, "1", moderator(), "appeal:reject:a2")
	assert.Contains(t, resp.Data.Content, "no longer pending")
}
