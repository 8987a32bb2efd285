// Package commands serves the /moderation slash command.
package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/logging"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type PolicyStore interface {
	Snapshot(ctx context.Context, guildID util.Snowflake) (*config.GuildPolicy, error)
	Update(ctx context.Context, guildID util.Snowflake, fn func(*config.GuildPolicy) error) (*config.GuildPolicy, error)
}

type Ledger interface {
	ListInfractions(ctx context.Context, f models.InfractionFilter) ([]*models.Infraction, error)
	FileAppeal(ctx context.Context, infractionID string, userID util.Snowflake, text string) (*models.Appeal, error)
}

// Handler manages slash command interactions. Confirmation buttons are
// routed by the gateway adapter, not here.
type Handler struct {
	policies PolicyStore
	ledger   Ledger
	// Workers reports live guild workers for /moderation stats.
	Workers func() int
}

// errDenied is shown to the caller as is.
var errDenied = errors.New("you do not have permission to use this command")

func NewHandler(policies PolicyStore, ledger Ledger) *Handler {
	return &Handler{policies: policies, ledger: ledger}
}

// HandleReady registers the command set for the bot's application.
func (h *Handler) HandleReady(s *discordgo.Session, r *discordgo.Ready) {
	cmds, err := s.ApplicationCommandBulkOverwrite(r.User.ID, "", Definitions())
	if err != nil {
		logging.Error("command registration failed", "err", err)
		return
	}
	logging.Info("command handler initialized", "commands", len(cmds))
}

func (h *Handler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand || i.ApplicationCommandData().Name != commandName {
		return
	}
	inv, ok := parseInvocation(i)
	if !ok {
		return
	}

	switch inv.route() {
	case "ping":
		if err := handlePing(s, i); err != nil {
			logging.Warn("ping failed", "err", err)
		}
		return
	case "stats":
		if err := h.handleStats(s, i); err != nil {
			logging.Warn("stats failed", "err", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := h.execute(ctx, inv)
	if err != nil {
		logging.Debug("command failed", "route", inv.route(), "guild", inv.guildID, "err", err)
		data = errorResponse(err)
	}
	data.Flags |= discordgo.MessageFlagsEphemeral
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	}); err != nil {
		logging.Warn("interaction response failed", "route", inv.route(), "err", err)
	}
}

// execute runs every subcommand that answers with a single message.
func (h *Handler) execute(ctx context.Context, inv invocation) (*discordgo.InteractionResponseData, error) {
	switch inv.route() {
	case "status":
		if !canModerate(inv.permissions) {
			return nil, errDenied
		}
		p, err := h.policies.Snapshot(ctx, inv.guildID)
		if err != nil {
			return nil, err
		}
		return &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{statusEmbed(p)}}, nil
	case "infractions":
		if !canModerate(inv.permissions) {
			return nil, errDenied
		}
		return h.infractions(ctx, inv)
	case "appeal":
		return h.appeal(ctx, inv)
	}
	if len(inv.path) == 2 && inv.path[0] == "config" {
		if !canConfigure(inv.permissions) {
			return nil, errDenied
		}
		return h.configure(ctx, inv)
	}
	return nil, fmt.Errorf("unknown command: %s", inv.route())
}

func (h *Handler) infractions(ctx context.Context, inv invocation) (*discordgo.InteractionResponseData, error) {
	userID := inv.snowflake("user")
	infs, err := h.ledger.ListInfractions(ctx, models.InfractionFilter{GuildID: inv.guildID, UserID: userID, Limit: 10})
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{infractionsEmbed(userID, infs)}}, nil
}

func (h *Handler) appeal(ctx context.Context, inv invocation) (*discordgo.InteractionResponseData, error) {
	a, err := h.ledger.FileAppeal(ctx, inv.str("infraction"), inv.userID, inv.str("reason"))
	switch {
	case errors.Is(err, models.ErrNotFound):
		return nil, errors.New("no infraction with that ID")
	case errors.Is(err, models.ErrAppealExists):
		return nil, errors.New("you already have a pending appeal for this infraction")
	case errors.Is(err, models.ErrNotAppealable), errors.Is(err, models.ErrInvalidTransition):
		return nil, errors.New("this infraction cannot be appealed")
	case err != nil:
		return nil, err
	}
	return &discordgo.InteractionResponseData{
		Content: fmt.Sprintf("Your appeal `%s` was submitted. A moderator will review it.", a.ID),
	}, nil
}

func errorResponse(err error) *discordgo.InteractionResponseData {
	var pue *models.PolicyUnavailableError
	msg := err.Error()
	if errors.As(err, &pue) {
		msg = "the policy store is unavailable, try again shortly"
	}
	return &discordgo.InteractionResponseData{Content: "Error: " + msg}
}
