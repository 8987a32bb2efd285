// Package bot is the gateway adapter: it owns the discordgo session and
// turns gateway payloads into engine events.
package bot

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent

// Engine is the correlator surface the gateway feeds.
type Engine interface {
	Ingest(evt Event) bool
	RemoveGuild(guildID util.Snowflake)
	ResolveConfirmation(ctx context.Context, guildID util.Snowflake, confirmationID string, approve bool, moderatorID util.Snowflake) error
}

// AppealResolver answers appeal review buttons, normally *ledger.Ledger.
type AppealResolver interface {
	ResolveAppeal(ctx context.Context, appealID string, outcome models.AppealStatus, moderatorID util.Snowflake) (*models.Appeal, *models.Infraction, error)
}

type PolicyInstaller interface {
	Install(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error)
}

type Session struct {
	discord  *discordgo.Session
	engine   Engine
	policies PolicyInstaller
	appeals  AppealResolver
	BotID    util.Snowflake
}

func NewSession(token string, engine Engine, policies PolicyInstaller) (*Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	dg.Identify.Intents = intents

	s := &Session{discord: dg, engine: engine, policies: policies}
	s.setupEventHandlers()
	return s, nil
}

// SetAppeals enables the appeal review buttons.
func (s *Session) SetAppeals(r AppealResolver) {
	s.appeals = r
}

// Discord returns the underlying session for REST helpers such as the
// notifier.
func (s *Session) Discord() *discordgo.Session {
	return s.discord
}

// Connect opens the gateway connection.
func (s *Session) Connect() error {
	if err := s.discord.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	if s.discord.State.User != nil {
		s.BotID = util.MustSnowflake(s.discord.State.User.ID)
		logging.Info("discord bot connected", "bot_id", s.BotID, "user", s.discord.State.User.Username)
	}
	return nil
}

func (s *Session) Close() error {
	if s.discord != nil {
		return s.discord.Close()
	}
	return nil
}

// Run connects and holds the session open until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	if err := s.Connect(); err != nil {
		return err
	}
	<-ctx.Done()
	return s.Close()
}
