package config

import "time"

// Process-wide detection defaults. Guild policies add to the link lists but
// never remove from them.
var (
	DefaultURLShorteners = []string{
		"bit.ly", "tinyurl.com", "t.co", "goo.gl", "is.gd", "cutt.ly",
		"rb.gy", "ow.ly", "shorturl.at", "tiny.cc", "rebrand.ly", "s.id",
	}

	DefaultSuspiciousTLDs = []string{
		"zip", "mov", "xyz", "top", "click", "gq", "tk", "ml", "cf", "ga", "rest", "country",
	}

	DefaultLookalikeKeywords = []string{
		"discord-nitro", "discordnitro", "dlscord", "discorcl", "disc0rd",
		"steamcommunlty", "steamcommnunity", "free-nitro", "nitro-gift", "gift-nitro",
	}

	DefaultInviteAllowlist = []string{}

	DefaultSelfHarmPhrases = []string{
		"kill myself",
		"want to die",
		"end my life",
		"suicide",
		"suicidal",
		"no reason to live",
		"hurt myself",
		"self harm",
		"cut myself",
	}
)

func DefaultDetection() DetectionConfig {
	return DetectionConfig{
		LinkDenylist:       []string{},
		LinkAllowlist:      []string{"discord.com", "youtube.com", "github.com"},
		URLShorteners:      append([]string(nil), DefaultURLShorteners...),
		InviteAllowlist:    append([]string(nil), DefaultInviteAllowlist...),
		SuspiciousTLDs:     append([]string(nil), DefaultSuspiciousTLDs...),
		LookalikeKeywords:  append([]string(nil), DefaultLookalikeKeywords...),
		MaxMentions:        5,
		MaxEmoji:           15,
		DuplicateThreshold: 3,
		DuplicateWindow:    Duration(30 * time.Second),
		SelfHarmPhrases:    append([]string(nil), DefaultSelfHarmPhrases...),
		MinAccountAge:      Duration(24 * time.Hour),
	}
}
