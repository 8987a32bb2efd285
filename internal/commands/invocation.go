package commands

import (
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/Slipstreamm/openguard/pkg/util"
)

// invocation is a flattened slash command call: the subcommand path and the
// leaf options by name.
type invocation struct {
	guildID     util.Snowflake
	userID      util.Snowflake
	permissions int64
	path        []string
	options     map[string]*discordgo.ApplicationCommandInteractionDataOption
}

func parseInvocation(i *discordgo.InteractionCreate) (invocation, bool) {
	if i.Member == nil || i.Member.User == nil || i.GuildID == "" {
		return invocation{}, false
	}
	inv := invocation{
		guildID:     util.MustSnowflake(i.GuildID),
		userID:      util.MustSnowflake(i.Member.User.ID),
		permissions: i.Member.Permissions,
		options:     make(map[string]*discordgo.ApplicationCommandInteractionDataOption),
	}
	opts := i.ApplicationCommandData().Options
	for len(opts) == 1 && (opts[0].Type == discordgo.ApplicationCommandOptionSubCommandGroup ||
		opts[0].Type == discordgo.ApplicationCommandOptionSubCommand) {
		inv.path = append(inv.path, opts[0].Name)
		opts = opts[0].Options
	}
	for _, o := range opts {
		inv.options[o.Name] = o
	}
	return inv, len(inv.path) > 0
}

func (inv invocation) route() string {
	return strings.Join(inv.path, " ")
}

func (inv invocation) has(name string) bool {
	_, ok := inv.options[name]
	return ok
}

func (inv invocation) str(name string) string {
	if o, ok := inv.options[name]; ok {
		s, _ := o.Value.(string)
		return s
	}
	return ""
}

func (inv invocation) boolean(name string) bool {
	if o, ok := inv.options[name]; ok {
		b, _ := o.Value.(bool)
		return b
	}
	return false
}

// snowflake reads user, role and channel options, which arrive as ID strings.
func (inv invocation) snowflake(name string) util.Snowflake {
	return util.MustSnowflake(inv.str(name))
}
