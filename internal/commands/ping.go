package commands

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// handlePing reports gateway heartbeat latency and one REST round trip.
func handlePing(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	start := time.Now()
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral},
	})
	if err != nil {
		return err
	}

	apiStart := time.Now()
	_, err = s.Channel(i.ChannelID)
	apiLatency := time.Since(apiStart)
	if err != nil {
		apiLatency = 0
	}
	wsLatency := s.HeartbeatLatency()

	embed := &discordgo.MessageEmbed{
		Title: "Pong",
		Color: latencyColor((wsLatency + apiLatency) / 2),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Gateway", Value: fmt.Sprintf("`%dms`", wsLatency.Milliseconds()), Inline: true},
			{Name: "API", Value: fmt.Sprintf("`%dms`", apiLatency.Milliseconds()), Inline: true},
			{Name: "Response", Value: fmt.Sprintf("`%dms`", time.Since(start).Milliseconds()), Inline: true},
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
	_, err = s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{
		Embeds: &[]*discordgo.MessageEmbed{embed},
	})
	return err
}

func latencyColor(avg time.Duration) int {
	switch {
	case avg < 60*time.Millisecond:
		return 0x00FF00
	case avg < 120*time.Millisecond:
		return 0xFFA500
	default:
		return 0xFF0000
	}
}
