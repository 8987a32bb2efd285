package commands

import "github.com/bwmarrin/discordgo"

const commandName = "moderation"

var (
	adminPermission     int64 = discordgo.PermissionAdministrator
	moderatorPermission int64 = discordgo.PermissionModerateMembers
	dmPermission              = false
)

func actionChoices() []*discordgo.ApplicationCommandOptionChoice {
	return []*discordgo.ApplicationCommandOptionChoice{
		{Name: "Warn", Value: "warn"},
		{Name: "Timeout", Value: "timeout"},
		{Name: "Kick", Value: "kick"},
		{Name: "Ban", Value: "ban"},
	}
}

// Definitions returns the application commands registered on Ready.
func Definitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:         commandName,
			Description:  "Moderation engine settings and history",
			DMPermission: &dmPermission,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Name:        "config",
					Description: "Change this server's moderation policy (admin only)",
					Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
					Options: []*discordgo.ApplicationCommandOption{
						{
							Name:        "enable",
							Description: "Turn automatic moderation on or off",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "enabled", Description: "Moderation on", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
							},
						},
						{
							Name:        "testmode",
							Description: "Report decisions in the mod log without acting on them",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "enabled", Description: "Test mode on", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
							},
						},
						{
							Name:        "detector",
							Description: "Toggle one detector",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{
									Name: "name", Description: "Detector", Type: discordgo.ApplicationCommandOptionString, Required: true,
									Choices: []*discordgo.ApplicationCommandOptionChoice{
										{Name: "Anti-spam", Value: "anti_spam"},
										{Name: "Anti-raid", Value: "anti_raid"},
										{Name: "Link detection", Value: "link_detection"},
										{Name: "Self-harm detection", Value: "self_harm_detection"},
									},
								},
								{Name: "enabled", Description: "Detector on", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
							},
						},
						{
							Name:        "confirm",
							Description: "Require a moderator to approve an action",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "action", Description: "Action kind", Type: discordgo.ApplicationCommandOptionString, Required: true, Choices: actionChoices()},
								{Name: "required", Description: "Approval required", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
							},
						},
						{
							Name:        "logchannel",
							Description: "Set the moderation log channel",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "channel", Description: "Log channel", Type: discordgo.ApplicationCommandOptionChannel, Required: true},
							},
						},
						{
							Name:        "suicidalpingrole",
							Description: "Set the role to ping for self-harm content",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "role", Description: "Role to ping", Type: discordgo.ApplicationCommandOptionRole, Required: true},
							},
						},
						{
							Name:        "confirmationrole",
							Description: "Set the role pinged for confirmations",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "role", Description: "Role to ping", Type: discordgo.ApplicationCommandOptionRole, Required: true},
							},
						},
						{
							Name:        "ignore",
							Description: "Exempt a channel or role from moderation, or lift the exemption",
							Type:        discordgo.ApplicationCommandOptionSubCommand,
							Options: []*discordgo.ApplicationCommandOption{
								{Name: "channel", Description: "Channel", Type: discordgo.ApplicationCommandOptionChannel},
								{Name: "role", Description: "Role", Type: discordgo.ApplicationCommandOptionRole},
							},
						},
					},
				},
				{
					Name:        "status",
					Description: "Show the current moderation policy",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "infractions",
					Description: "View a user's infraction history (moderators)",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "user", Description: "Member", Type: discordgo.ApplicationCommandOptionUser, Required: true},
					},
				},
				{
					Name:        "appeal",
					Description: "Appeal an action taken against you",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Options: []*discordgo.ApplicationCommandOption{
						{Name: "infraction", Description: "Infraction ID from your DM", Type: discordgo.ApplicationCommandOptionString, Required: true},
						{Name: "reason", Description: "Why it should be lifted", Type: discordgo.ApplicationCommandOptionString, Required: true, MaxLength: 1000},
					},
				},
				{
					Name:        "ping",
					Description: "Check gateway and API latency",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
				{
					Name:        "stats",
					Description: "Show host and engine statistics",
					Type:        discordgo.ApplicationCommandOptionSubCommand,
				},
			},
		},
	}
}
