package bot

import (
	"context"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/internal/notifier"
	"github.com/Slipstreamm/openguard/pkg/util"
)

// Event is the engine's event type, aliased to keep the Engine interface
// readable.
type Event = models.Event

const discordEpochMs = 1420070400000

// moderatorPermissions may answer confirmation prompts and appeals.
const moderatorPermissions = discordgo.PermissionAdministrator |
	discordgo.PermissionBanMembers |
	discordgo.PermissionKickMembers |
	discordgo.PermissionModerateMembers

func (s *Session) setupEventHandlers() {
	s.discord.AddHandler(s.onGuildCreate)
	s.discord.AddHandler(s.onGuildDelete)
	s.discord.AddHandler(s.onMessageCreate)
	s.discord.AddHandler(s.onMessageUpdate)
	s.discord.AddHandler(s.onMemberAdd)
	s.discord.AddHandler(s.onInteraction)
	s.discord.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		logging.Info("gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
	})
}

// onGuildCreate installs the default policy the first time the bot sees a
// guild. Existing documents are left alone.
func (s *Session) onGuildCreate(_ *discordgo.Session, g *discordgo.GuildCreate) {
	guildID := util.MustSnowflake(g.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := s.policies.Install(ctx, guildID); err != nil {
		logging.Warn("default policy not installed", "guild", guildID, "err", err)
		return
	}
	logging.Debug("guild available", "guild", guildID, "name", g.Name)
}

// onGuildDelete fires for outages too; only a real removal drops state.
func (s *Session) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		return
	}
	guildID := util.MustSnowflake(g.ID)
	s.engine.RemoveGuild(guildID)
	logging.Info("bot removed from guild", "guild", guildID)
}

func (s *Session) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if evt, ok := MessageEvent(m.Message, models.EventTypeMessageCreate); ok {
		s.engine.Ingest(evt)
	}
}

func (s *Session) onMessageUpdate(_ *discordgo.Session, m *discordgo.MessageUpdate) {
	if evt, ok := MessageEvent(m.Message, models.EventTypeMessageEdit); ok {
		s.engine.Ingest(evt)
	}
}

func (s *Session) onMemberAdd(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
	if evt, ok := JoinEvent(m.Member); ok {
		s.engine.Ingest(evt)
	}
}

func (s *Session) onInteraction(ds *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionMessageComponent {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp := s.componentResponse(ctx, i.GuildID, i.Member, i.MessageComponentData().CustomID)
	if resp == nil {
		return
	}
	if err := ds.InteractionRespond(i.Interaction, resp); err != nil {
		logging.Warn("interaction response failed", "err", err)
	}
}

// componentResponse answers confirmation and appeal buttons. It returns nil
// for components this adapter does not own.
func (s *Session) componentResponse(ctx context.Context, guildID string, member *discordgo.Member, customID string) *discordgo.InteractionResponse {
	if id, approve, ok := notifier.ParseConfirmationID(customID); ok {
		if !isModerator(member) {
			return ephemeral("Only moderators can answer confirmations.")
		}
		moderator := util.MustSnowflake(member.User.ID)
		if err := s.engine.ResolveConfirmation(ctx, util.MustSnowflake(guildID), id, approve, moderator); err != nil {
			logging.Debug("confirmation answer rejected", "confirmation", id, "err", err)
			return ephemeral("This confirmation is no longer pending.")
		}
		if approve {
			return ephemeral("Approved. The action is being carried out.")
		}
		return ephemeral("Rejected. No action will be taken.")
	}

	if id, accept, ok := notifier.ParseAppealID(customID); ok && s.appeals != nil {
		if !isModerator(member) {
			return ephemeral("Only moderators can review appeals.")
		}
		outcome := models.AppealRejected
		if accept {
			outcome = models.AppealAccepted
		}
		moderator := util.MustSnowflake(member.User.ID)
		a, inf, err := s.appeals.ResolveAppeal(ctx, id, outcome, moderator)
		if err != nil {
			logging.Debug("appeal answer rejected", "appeal", id, "err", err)
			return ephemeral("This appeal is no longer pending.")
		}
		components := notifier.AppealButtons(a.ID, true)
		return &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseUpdateMessage,
			Data: &discordgo.InteractionResponseData{
				Embeds:     []*discordgo.MessageEmbed{notifier.AppealEmbed(a, inf)},
				Components: components,
			},
		}
	}
	return nil
}

func isModerator(m *discordgo.Member) bool {
	return m != nil && m.User != nil && m.Permissions&moderatorPermissions != 0
}

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral},
	}
}

// MessageEvent normalizes a gateway message. Webhook and partial updates
// without an author are not moderated.
func MessageEvent(m *discordgo.Message, typ models.EventType) (models.Event, bool) {
	if m == nil || m.Author == nil || m.GuildID == "" || m.WebhookID != "" {
		return models.Event{}, false
	}
	evt := models.Event{
		ID:          util.MustSnowflake(m.ID),
		Type:        typ,
		GuildID:     util.MustSnowflake(m.GuildID),
		AuthorID:    util.MustSnowflake(m.Author.ID),
		ChannelID:   util.MustSnowflake(m.ChannelID),
		Timestamp:   m.Timestamp,
		Content:     m.Content,
		Mentions:    len(m.Mentions) + len(m.MentionRoles),
		AuthorIsBot: m.Author.Bot,
	}
	if m.MentionEveryone {
		evt.Mentions++
	}
	if typ == models.EventTypeMessageEdit && m.EditedTimestamp != nil {
		evt.Timestamp = *m.EditedTimestamp
	}
	if m.Member != nil {
		evt.Roles = snowflakes(m.Member.Roles)
	}
	if created, err := discordgo.SnowflakeTimestamp(m.Author.ID); err == nil {
		evt.AccountCreated = created
	}
	return evt, true
}

// JoinEvent normalizes a member join. Joins carry no message ID, so one is
// synthesized in snowflake layout from the join time and the user ID.
func JoinEvent(m *discordgo.Member) (models.Event, bool) {
	if m == nil || m.User == nil || m.GuildID == "" {
		return models.Event{}, false
	}
	joined := m.JoinedAt
	if joined.IsZero() {
		joined = time.Now()
	}
	userID := util.MustSnowflake(m.User.ID)
	evt := models.Event{
		ID:          joinEventID(joined, userID),
		Type:        models.EventTypeMemberJoin,
		GuildID:     util.MustSnowflake(m.GuildID),
		AuthorID:    userID,
		Timestamp:   joined,
		Roles:       snowflakes(m.Roles),
		AuthorIsBot: m.User.Bot,
	}
	if created, err := discordgo.SnowflakeTimestamp(m.User.ID); err == nil {
		evt.AccountCreated = created
	}
	return evt, true
}

func joinEventID(at time.Time, userID util.Snowflake) util.Snowflake {
	ms := at.UnixMilli() - discordEpochMs
	if ms < 0 {
		ms = 0
	}
	return util.Snowflake(uint64(ms)<<22 | uint64(userID)&0x3FFFFF)
}

func snowflakes(ids []string) []util.Snowflake {
	out := make([]util.Snowflake, 0, len(ids))
	for _, id := range ids {
		if sf := util.MustSnowflake(id); !sf.IsZero() {
			out = append(out, sf)
		}
	}
	return out
}
