package commands

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

const embedColor = 0x2B2D31

func statusEmbed(p *config.GuildPolicy) *discordgo.MessageEmbed {
	level := "Disabled"
	if p.Enabled {
		level = "**Enabled**"
	}
	if p.Enabled && p.TestMode {
		level = "**Test mode** (reporting only)"
	}

	detectors := []string{
		checkbox(p.AntiSpam) + fmt.Sprintf(" Anti-spam (%d in %ds, %s)", p.SpamThreshold, p.SpamWindowSeconds, p.SpamAction),
		checkbox(p.AntiRaid) + fmt.Sprintf(" Anti-raid (%d joins in %ds, %s)", p.RaidThreshold, p.RaidWindowSeconds, p.RaidAction),
		checkbox(p.LinkDetection) + fmt.Sprintf(" Link detection (%s)", p.LinkAction),
		checkbox(p.SelfHarmDetection) + " Self-harm detection",
	}

	var confirms []string
	for kind, on := range p.ActionConfirmations {
		if on && models.ActionKind(kind).Valid() {
			confirms = append(confirms, "`"+kind+"`")
		}
	}
	sort.Strings(confirms)

	embed := &discordgo.MessageEmbed{
		Title:       "Moderation Status",
		Description: "Current policy for this server.",
		Color:       embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Moderation", Value: level},
			{Name: "Detectors", Value: strings.Join(detectors, "\n")},
			{Name: "Needs approval", Value: orNone(strings.Join(confirms, ", ")), Inline: true},
			{Name: "Log channel", Value: channelMention(p.ModLogChannelID), Inline: true},
			{Name: "Ignored", Value: fmt.Sprintf("%d channels, %d roles", len(p.IgnoredChannels), len(p.IgnoredRoles)), Inline: true},
		},
	}
	if !p.UpdatedAt.IsZero() {
		embed.Timestamp = p.UpdatedAt.Format(time.RFC3339)
	}
	return embed
}

func infractionsEmbed(userID util.Snowflake, infs []*models.Infraction) *discordgo.MessageEmbed {
	embed := &discordgo.MessageEmbed{
		Title: "Infraction History",
		Color: embedColor,
	}
	if len(infs) == 0 {
		embed.Description = fmt.Sprintf("<@%s> has no infractions.", userID)
		return embed
	}
	embed.Description = fmt.Sprintf("Latest %d for <@%s>", len(infs), userID)
	for _, inf := range infs {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("%s · %s", inf.Action, inf.Status),
			Value: fmt.Sprintf("%s\n`%s` <t:%d:R>", orNone(inf.Reason), inf.ID, inf.CreatedAt.Unix()),
		})
	}
	return embed
}

func checkbox(on bool) string {
	if on {
		return "[x]"
	}
	return "[ ]"
}

func channelMention(id util.Snowflake) string {
	if id.IsZero() {
		return "Not configured"
	}
	return "<#" + id.String() + ">"
}

func orNone(s string) string {
	if s == "" {
		return "None"
	}
	return s
}
