package commands

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/pkg/util"
)

// configure applies one /moderation config subcommand through the policy
// store, so the change reaches the engine on the next snapshot.
func (h *Handler) configure(ctx context.Context, inv invocation) (*discordgo.InteractionResponseData, error) {
	var summary string
	_, err := h.policies.Update(ctx, inv.guildID, func(p *config.GuildPolicy) error {
		switch inv.path[1] {
		case "enable":
			p.Enabled = inv.boolean("enabled")
			summary = "Moderation " + onOff(p.Enabled) + "."
		case "testmode":
			p.TestMode = inv.boolean("enabled")
			summary = "Test mode " + onOff(p.TestMode) + "."
			if p.TestMode {
				summary += " Decisions are reported but not enforced."
			}
		case "detector":
			on := inv.boolean("enabled")
			switch inv.str("name") {
			case "anti_spam":
				p.AntiSpam = on
			case "anti_raid":
				p.AntiRaid = on
			case "link_detection":
				p.LinkDetection = on
			case "self_harm_detection":
				p.SelfHarmDetection = on
			default:
				return fmt.Errorf("unknown detector %q", inv.str("name"))
			}
			summary = fmt.Sprintf("`%s` %s.", inv.str("name"), onOff(on))
		case "confirm":
			if p.ActionConfirmations == nil {
				p.ActionConfirmations = make(map[string]bool)
			}
			action := inv.str("action")
			p.ActionConfirmations[action] = inv.boolean("required")
			if p.ActionConfirmations[action] {
				summary = fmt.Sprintf("`%s` now waits for moderator approval.", action)
			} else {
				summary = fmt.Sprintf("`%s` runs without approval.", action)
			}
		case "logchannel":
			p.ModLogChannelID = inv.snowflake("channel")
			summary = fmt.Sprintf("Moderation logs go to <#%s>.", p.ModLogChannelID)
		case "suicidalpingrole":
			p.SuicidalContentPingRoleID = inv.snowflake("role")
			summary = fmt.Sprintf("Self-harm alerts ping <@&%s>.", p.SuicidalContentPingRoleID)
		case "confirmationrole":
			p.ConfirmationPingRoleID = inv.snowflake("role")
			summary = fmt.Sprintf("Confirmation prompts ping <@&%s>.", p.ConfirmationPingRoleID)
		case "ignore":
			if !inv.has("channel") && !inv.has("role") {
				return errors.New("give a channel or a role")
			}
			if inv.has("channel") {
				var added bool
				p.IgnoredChannels, added = toggle(p.IgnoredChannels, inv.snowflake("channel"))
				summary = fmt.Sprintf("<#%s> %s.", inv.snowflake("channel"), ignoredText(added))
			}
			if inv.has("role") {
				var added bool
				p.IgnoredRoles, added = toggle(p.IgnoredRoles, inv.snowflake("role"))
				summary += fmt.Sprintf(" <@&%s> %s.", inv.snowflake("role"), ignoredText(added))
			}
		default:
			return fmt.Errorf("unknown config option %q", inv.path[1])
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{Content: summary}, nil
}

// toggle removes id when present and appends it otherwise.
func toggle(ids []util.Snowflake, id util.Snowflake) ([]util.Snowflake, bool) {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1), false
	}
	return append(ids, id), true
}

func onOff(on bool) string {
	if on {
		return "enabled"
	}
	return "disabled"
}

func ignoredText(added bool) string {
	if added {
		return "is now ignored"
	}
	return "is moderated again"
}
