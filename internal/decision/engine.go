// Package decision maps signals, window counts and a policy snapshot to an
// enforcement decision, and gates decisions that need a human.
package decision

import (
	"fmt"
	"strings"
	"time"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/internal/state"
)

// Decide is total and pure: it never performs I/O and always returns a
// Decision, possibly no_action. The returned decision carries no target;
// Bind attaches the event it was made for.
func Decide(signals models.Signals, counts state.WindowCounts, policy *config.GuildPolicy) models.Decision {
	if policy == nil || !policy.Enabled || len(signals) == 0 {
		return models.NoAction()
	}

	for _, kind := range ranked {
		action, reason, ok := evaluate(kind, signals, counts, policy)
		if !ok {
			continue
		}
		d := models.Decision{
			Action:               action,
			Signal:               kind,
			Reason:               reason,
			Evidence:             evidence(signals, counts),
			RequiresConfirmation: policy.RequiresConfirmation(action),
			LogChannelID:         policy.ModLogChannelID,
		}
		if action == models.ActionTimeout {
			d.Timeout = policy.TimeoutDuration()
		}
		switch {
		case action == models.ActionEscalate:
			d.NotifyRoleID = policy.SuicidalContentPingRoleID
		case d.RequiresConfirmation:
			d.NotifyRoleID = policy.ConfirmationPingRoleID
		}
		return d
	}
	return models.NoAction()
}

func evaluate(kind models.SignalKind, signals models.Signals, counts state.WindowCounts, policy *config.GuildPolicy) (models.ActionKind, string, bool) {
	of := signals.Of(kind)
	if len(of) == 0 {
		return models.ActionNone, "", false
	}

	switch kind {
	case models.SignalSelfHarm:
		if !policy.SelfHarmDetection {
			break
		}
		return models.ActionEscalate, "Self-harm content detected", true

	case models.SignalRaid:
		if !policy.AntiRaid || !crossed(counts.Raid, policy.RaidThreshold) {
			break
		}
		return policy.RaidAction, fmt.Sprintf("Raid: %d joins within %ds", counts.Raid.Count, policy.RaidWindowSeconds), true

	case models.SignalSpam:
		if !policy.AntiSpam {
			break
		}
		if len(bySource(of, models.SourceRate)) > 0 && crossed(counts.Spam, policy.SpamThreshold) {
			return policy.SpamAction, fmt.Sprintf("Spam: %d messages within %ds", counts.Spam.Count, policy.SpamWindowSeconds), true
		}
		if h := bySource(of, models.SourceHeuristic); len(h) > 0 {
			return policy.SpamAction, "Spam: " + h[0].Evidence, true
		}

	case models.SignalLink:
		if !policy.LinkDetection {
			break
		}
		if d := bySource(of, models.SourceDenylist); len(d) > 0 {
			return policy.LinkAction, "Malicious link: " + d[0].Evidence, true
		}
		return models.ActionDelete, "Suspicious link: " + of[0].Evidence, true
	}
	return models.ActionNone, "", false
}

// crossed is true only for the first evaluation at or above threshold since
// the window last dropped below it.
func crossed(obs state.Observation, threshold int) bool {
	return threshold > 0 && obs.Count >= threshold && obs.Armed
}

func bySource(ss models.Signals, src models.SignalSource) models.Signals {
	var out models.Signals
	for _, s := range ss {
		if s.Source == src {
			out = append(out, s)
		}
	}
	return out
}

func evidence(signals models.Signals, counts state.WindowCounts) string {
	var parts []string
	for _, s := range signals {
		if s.Source == models.SourceRate {
			continue
		}
		parts = append(parts, s.String())
	}
	if counts.Spam.Count > 0 {
		parts = append(parts, fmt.Sprintf("spam window %d", counts.Spam.Count))
	}
	if counts.Raid.Count > 0 {
		parts = append(parts, fmt.Sprintf("join window %d", counts.Raid.Count))
	}
	return strings.Join(parts, "; ")
}

// Bind attaches the triggering event to a decision.
func Bind(d models.Decision, evt *models.Event, at time.Time) models.Decision {
	if d.IsNoAction() {
		return d
	}
	d.GuildID = evt.GuildID
	d.TargetID = evt.AuthorID
	d.ChannelID = evt.ChannelID
	d.EventID = evt.ID
	d.DecidedAt = at
	return d
}
