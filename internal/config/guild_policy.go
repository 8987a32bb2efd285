package config

import (
	"fmt"
	"time"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

const (
	DefaultSpamThreshold     = 5
	DefaultSpamWindowSeconds = 10
	DefaultRaidThreshold     = 8
	DefaultRaidWindowSeconds = 30
	DefaultTimeoutSeconds    = 600

	maxWindowSeconds  = 3600
	MaxThreshold      = 10000
	maxTimeoutSeconds = 28 * 24 * 60 * 60
)

// GuildPolicy is the per-guild moderation document read and written by the
// dashboard. The engine only ever sees Clone()d snapshots of it.
type GuildPolicy struct {
	GuildID util.Snowflake `json:"guild_id"`
	Enabled bool           `json:"enabled"`

	AntiSpam          bool `json:"anti_spam"`
	AntiRaid          bool `json:"anti_raid"`
	LinkDetection     bool `json:"link_detection"`
	SelfHarmDetection bool `json:"self_harm_detection"`

	// ActionConfirmations is keyed by action kind. Keys that are not action
	// kinds are kept for the dashboard but ignored by the engine.
	ActionConfirmations map[string]bool `json:"action_confirmations"`

	IgnoredRoles    []util.Snowflake `json:"ignored_roles"`
	IgnoredChannels []util.Snowflake `json:"ignored_channels"`

	SuicidalContentPingRoleID util.Snowflake `json:"suicidal_content_ping_role_id,omitempty"`
	ConfirmationPingRoleID    util.Snowflake `json:"confirmation_ping_role_id,omitempty"`
	ModLogChannelID           util.Snowflake `json:"mod_log_channel_id,omitempty"`

	SpamThreshold     int `json:"spam_threshold"`
	SpamWindowSeconds int `json:"spam_window_seconds"`
	RaidThreshold     int `json:"raid_threshold"`
	RaidWindowSeconds int `json:"raid_window_seconds"`

	SpamAction     models.ActionKind `json:"spam_action"`
	RaidAction     models.ActionKind `json:"raid_action"`
	LinkAction     models.ActionKind `json:"link_action"`
	TimeoutSeconds int               `json:"timeout_seconds"`

	SuppressDuringAppeal bool `json:"suppress_during_appeal"`
	// TestMode reports decisions to the mod log without acting on them.
	TestMode bool `json:"test_mode"`

	LinkDenylist  []string `json:"link_denylist"`
	LinkAllowlist []string `json:"link_allowlist"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPolicy is the policy installed when the bot joins a guild.
func DefaultPolicy(guildID util.Snowflake) *GuildPolicy {
	return &GuildPolicy{
		GuildID:           guildID,
		Enabled:           true,
		AntiSpam:          true,
		AntiRaid:          true,
		LinkDetection:     true,
		SelfHarmDetection: true,
		ActionConfirmations: map[string]bool{
			string(models.ActionWarn):    false,
			string(models.ActionTimeout): false,
			string(models.ActionKick):    false,
			string(models.ActionBan):     true,
		},
		IgnoredRoles:         []util.Snowflake{},
		IgnoredChannels:      []util.Snowflake{},
		SpamThreshold:        DefaultSpamThreshold,
		SpamWindowSeconds:    DefaultSpamWindowSeconds,
		RaidThreshold:        DefaultRaidThreshold,
		RaidWindowSeconds:    DefaultRaidWindowSeconds,
		SpamAction:           models.ActionTimeout,
		RaidAction:           models.ActionKick,
		LinkAction:           models.ActionBan,
		TimeoutSeconds:       DefaultTimeoutSeconds,
		SuppressDuringAppeal: true,
		LinkDenylist:         []string{},
		LinkAllowlist:        []string{},
	}
}

// RequiresConfirmation defaults to false for kinds the map does not name.
func (p *GuildPolicy) RequiresConfirmation(kind models.ActionKind) bool {
	if p.ActionConfirmations == nil {
		return false
	}
	return p.ActionConfirmations[string(kind)]
}

func (p *GuildPolicy) IsIgnoredChannel(channelID util.Snowflake) bool {
	for _, c := range p.IgnoredChannels {
		if c == channelID {
			return true
		}
	}
	return false
}

func (p *GuildPolicy) HasIgnoredRole(roles []util.Snowflake) bool {
	for _, ignored := range p.IgnoredRoles {
		for _, r := range roles {
			if r == ignored {
				return true
			}
		}
	}
	return false
}

func (p *GuildPolicy) SpamWindow() time.Duration {
	return time.Duration(p.SpamWindowSeconds) * time.Second
}

func (p *GuildPolicy) RaidWindow() time.Duration {
	return time.Duration(p.RaidWindowSeconds) * time.Second
}

func (p *GuildPolicy) TimeoutDuration() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// FillDefaults replaces zero values left by partial documents.
func (p *GuildPolicy) FillDefaults() {
	def := DefaultPolicy(p.GuildID)
	if p.ActionConfirmations == nil {
		p.ActionConfirmations = def.ActionConfirmations
	}
	if p.IgnoredRoles == nil {
		p.IgnoredRoles = []util.Snowflake{}
	}
	if p.IgnoredChannels == nil {
		p.IgnoredChannels = []util.Snowflake{}
	}
	if p.SpamThreshold == 0 {
		p.SpamThreshold = def.SpamThreshold
	}
	if p.SpamWindowSeconds == 0 {
		p.SpamWindowSeconds = def.SpamWindowSeconds
	}
	if p.RaidThreshold == 0 {
		p.RaidThreshold = def.RaidThreshold
	}
	if p.RaidWindowSeconds == 0 {
		p.RaidWindowSeconds = def.RaidWindowSeconds
	}
	if p.SpamAction == models.ActionNone {
		p.SpamAction = def.SpamAction
	}
	if p.RaidAction == models.ActionNone {
		p.RaidAction = def.RaidAction
	}
	if p.LinkAction == models.ActionNone {
		p.LinkAction = def.LinkAction
	}
	if p.TimeoutSeconds == 0 {
		p.TimeoutSeconds = def.TimeoutSeconds
	}
	if p.LinkDenylist == nil {
		p.LinkDenylist = []string{}
	}
	if p.LinkAllowlist == nil {
		p.LinkAllowlist = []string{}
	}
}

func (p *GuildPolicy) Validate() error {
	if p.GuildID.IsZero() {
		return fmt.Errorf("guild_id is required")
	}
	if p.SpamThreshold < 1 || p.RaidThreshold < 1 {
		return fmt.Errorf("thresholds must be at least 1")
	}
	if p.SpamThreshold > MaxThreshold || p.RaidThreshold > MaxThreshold {
		return fmt.Errorf("thresholds must be at most %d", MaxThreshold)
	}
	for name, secs := range map[string]int{
		"spam_window_seconds": p.SpamWindowSeconds,
		"raid_window_seconds": p.RaidWindowSeconds,
	} {
		if secs < 1 || secs > maxWindowSeconds {
			return fmt.Errorf("%s must be between 1 and %d", name, maxWindowSeconds)
		}
	}
	for name, kind := range map[string]models.ActionKind{
		"spam_action": p.SpamAction,
		"raid_action": p.RaidAction,
		"link_action": p.LinkAction,
	} {
		if !kind.Valid() {
			return fmt.Errorf("%s: unknown action kind %q", name, kind)
		}
	}
	if p.TimeoutSeconds < 1 || p.TimeoutSeconds > maxTimeoutSeconds {
		return fmt.Errorf("timeout_seconds must be between 1 and %d", maxTimeoutSeconds)
	}
	return nil
}

// Clone returns a deep copy, so evaluations never share memory with writers.
func (p *GuildPolicy) Clone() *GuildPolicy {
	c := *p
	if p.ActionConfirmations != nil {
		c.ActionConfirmations = make(map[string]bool, len(p.ActionConfirmations))
		for k, v := range p.ActionConfirmations {
			c.ActionConfirmations[k] = v
		}
	}
	c.IgnoredRoles = cloneSlice(p.IgnoredRoles)
	c.IgnoredChannels = cloneSlice(p.IgnoredChannels)
	c.LinkDenylist = cloneSlice(p.LinkDenylist)
	c.LinkAllowlist = cloneSlice(p.LinkAllowlist)
	return &c
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	return append(make([]T, 0, len(in)), in...)
}
