package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
)

func TestLinkRules(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.LinkDenylist = []string{"evil.example", "phish.co.uk"}
	cfg.InviteAllowlist = []string{"ourserver"}
	rules := NewLinkRules(cfg)
	policy := config.DefaultPolicy(1)
	policy.LinkDenylist = []string{"guildbanned.net"}
	policy.LinkAllowlist = []string{"friendly.xyz"}

	tests := []struct {
		name    string
		content string
		found   bool
		source  models.SignalSource
	}{
		{"plain text", "no links here, just text.", false, 0},
		{"allowlisted", "see https://github.com/foo/bar", false, 0},
		{"denylisted", "free stuff https://evil.example/x", true, models.SourceDenylist},
		{"denylisted subdomain", "go to http://login.phish.co.uk/", true, models.SourceDenylist},
		{"guild denylist", "www.guildbanned.net/path", true, models.SourceDenylist},
		{"guild allowlist beats tld heuristic", "https://friendly.xyz/", false, 0},
		{"shortener", "click https://bit.ly/abc", true, models.SourceHeuristic},
		{"suspicious tld", "https://totally-legit.zip/", true, models.SourceHeuristic},
		{"lookalike", "claim at https://free-nitro.com/claim", true, models.SourceHeuristic},
		{"foreign invite", "join discord.gg/raiders", true, models.SourceHeuristic},
		{"invite via allowlisted host", "https://discord.com/invite/raiders", true, models.SourceHeuristic},
		{"allowlisted invite", "join https://discord.gg/ourserver", false, 0},
		{"ordinary domain", "read https://example.org/article.", false, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, ok := rules.Check(tc.content, policy)
			assert.Equal(t, tc.found, ok, s.Evidence)
			if tc.found {
				assert.Equal(t, models.SignalLink, s.Kind)
				assert.Equal(t, tc.source, s.Source)
			}
		})
	}
}

func TestLinkRulesStrongestWins(t *testing.T) {
	cfg := config.DefaultDetection()
	cfg.LinkDenylist = []string{"evil.example"}
	s, ok := NewLinkRules(cfg).Check("https://bit.ly/x and https://evil.example/y", config.DefaultPolicy(1))
	assert.True(t, ok)
	assert.Equal(t, models.SourceDenylist, s.Source)
}

func TestFingerprintNormalizes(t *testing.T) {
	assert.Equal(t, Fingerprint("Buy NOW!!!"), Fingerprint("buy   now"))
	assert.Equal(t, Fingerprint("café"), Fingerprint("cafe"))
	assert.NotEqual(t, Fingerprint("buy now"), Fingerprint("buy later"))
}

func TestCountEmoji(t *testing.T) {
	assert.Equal(t, 0, CountEmoji("plain"))
	assert.Equal(t, 3, CountEmoji("😀 hi 🎉☀"))
	assert.Equal(t, 2, CountEmoji("<:pog:123456789012345678> <a:dance:123456789012345679>"))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"i", "want", "to", "die"}, Tokenize("I want... to DIE!"))
	assert.True(t, containsPhrase(Tokenize("honestly i want to die today"), []string{"want", "to", "die"}))
	assert.False(t, containsPhrase(Tokenize("want to dine"), []string{"want", "to", "die"}))
}
