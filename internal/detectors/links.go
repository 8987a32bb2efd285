package detectors

import (
	"net/url"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
)

var (
	urlPattern    = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'` + "`" + `]+`)
	invitePattern = regexp.MustCompile(`(?i)\b(?:https?://)?(?:www\.)?(?:discord(?:app)?\.com/invite|discord\.gg)/([A-Za-z0-9-]{2,32})`)
)

// LinkRules holds the process-wide link lists. Guild policies extend the
// deny and allow lists per evaluation.
type LinkRules struct {
	Denylist   []string
	Allowlist  []string
	Shorteners []string
	Invites    []string
	TLDs       []string
	Lookalikes []string
}

func NewLinkRules(cfg config.DetectionConfig) LinkRules {
	return LinkRules{
		Denylist:   lowerAll(cfg.LinkDenylist),
		Allowlist:  lowerAll(cfg.LinkAllowlist),
		Shorteners: lowerAll(cfg.URLShorteners),
		Invites:    lowerAll(cfg.InviteAllowlist),
		TLDs:       lowerAll(cfg.SuspiciousTLDs),
		Lookalikes: lowerAll(cfg.LookalikeKeywords),
	}
}

// Check returns at most one link signal per message: the strongest finding
// across all URLs in content.
func (r LinkRules) Check(content string, policy *config.GuildPolicy) (models.Signal, bool) {
	var best models.Signal
	found := false
	consider := func(s models.Signal) {
		if !found || s.Score > best.Score {
			best, found = s, true
		}
	}

	for _, m := range invitePattern.FindAllStringSubmatch(content, -1) {
		code := strings.ToLower(m[1])
		if !contains(r.Invites, code) {
			consider(models.Signal{Kind: models.SignalLink, Source: models.SourceHeuristic, Score: 0.6, Evidence: "invite link " + m[0]})
		}
	}

	for _, raw := range urlPattern.FindAllString(content, -1) {
		raw = strings.TrimRight(raw, ".,;:!?)]}")
		host := hostOf(raw)
		if host == "" {
			continue
		}
		if matchDomain(host, r.Denylist) || matchDomain(host, lowerAll(policy.LinkDenylist)) {
			consider(models.Signal{Kind: models.SignalLink, Source: models.SourceDenylist, Score: 1, Evidence: "denylisted domain " + host})
			continue
		}
		if invitePattern.MatchString(raw) {
			continue
		}
		if matchDomain(host, r.Allowlist) || matchDomain(host, lowerAll(policy.LinkAllowlist)) {
			continue
		}
		if s, ok := r.heuristic(host); ok {
			consider(s)
		}
	}
	return best, found
}

func (r LinkRules) heuristic(host string) (models.Signal, bool) {
	for _, kw := range r.Lookalikes {
		if strings.Contains(host, kw) {
			return models.Signal{Kind: models.SignalLink, Source: models.SourceHeuristic, Score: 0.8, Evidence: "lookalike domain " + host}, true
		}
	}
	if matchDomain(host, r.Shorteners) {
		return models.Signal{Kind: models.SignalLink, Source: models.SourceHeuristic, Score: 0.5, Evidence: "url shortener " + host}, true
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	if contains(r.TLDs, suffix) {
		return models.Signal{Kind: models.SignalLink, Source: models.SourceHeuristic, Score: 0.4, Evidence: "suspicious tld " + host}, true
	}
	return models.Signal{}, false
}

func hostOf(raw string) string {
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// matchDomain reports whether host is one of domains or a subdomain of one.
// Entries are also compared on their registrable domain, so "evil.co.uk"
// matches "login.evil.co.uk" but not "co.uk".
func matchDomain(host string, domains []string) bool {
	if len(domains) == 0 {
		return false
	}
	registrable, _ := publicsuffix.EffectiveTLDPlusOne(host)
	for _, d := range domains {
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) || registrable == d {
			return true
		}
	}
	return false
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
