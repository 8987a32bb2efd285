package models

import (
	"time"

	"github.com/Slipstreamm/openguard/pkg/util"
)

// ActionKind is the closed set of enforcement actions.
type ActionKind string

const (
	ActionNone     ActionKind = ""
	ActionWarn     ActionKind = "warn"
	ActionTimeout  ActionKind = "timeout"
	ActionKick     ActionKind = "kick"
	ActionBan      ActionKind = "ban"
	ActionDelete   ActionKind = "delete"
	ActionEscalate ActionKind = "escalate"
)

var actionKinds = []ActionKind{ActionWarn, ActionTimeout, ActionKick, ActionBan, ActionDelete, ActionEscalate}

func ActionKinds() []ActionKind {
	out := make([]ActionKind, len(actionKinds))
	copy(out, actionKinds)
	return out
}

func ParseActionKind(s string) (ActionKind, bool) {
	for _, k := range actionKinds {
		if string(k) == s {
			return k, true
		}
	}
	return ActionNone, false
}

func (k ActionKind) Valid() bool {
	_, ok := ParseActionKind(string(k))
	return ok
}

// Appealable reports whether infractions of this kind accept appeals.
func (k ActionKind) Appealable() bool {
	switch k {
	case ActionWarn, ActionTimeout, ActionKick, ActionBan:
		return true
	default:
		return false
	}
}

// Reversible reports whether the platform side of the action can be undone.
func (k ActionKind) Reversible() bool {
	return k == ActionTimeout || k == ActionBan
}

// Decision is the engine's verdict on one Event. The zero value is no_action.
type Decision struct {
	Action               ActionKind
	Signal               SignalKind
	GuildID              util.Snowflake
	TargetID             util.Snowflake
	ChannelID            util.Snowflake
	EventID              util.Snowflake
	Reason               string
	Evidence             string
	RequiresConfirmation bool
	Timeout              time.Duration // only for ActionTimeout
	DecidedAt            time.Time
	// ModeratorID is the human confirmer; zero means the bot acted alone.
	ModeratorID util.Snowflake
	// Notify carries the role to ping with the outcome, if any.
	NotifyRoleID util.Snowflake
	LogChannelID util.Snowflake
}

func NoAction() Decision {
	return Decision{}
}

func (d Decision) IsNoAction() bool {
	return d.Action == ActionNone
}

// Token is the idempotency key of the enforcement request. Re-delivery of
// the same decision for the same triggering event yields the same token.
func (d Decision) Token() string {
	return util.RequestToken(d.GuildID.String(), d.TargetID.String(), string(d.Action), d.EventID.String())
}

// ConfirmationKey identifies the coalescing slot of a pending confirmation.
type ConfirmationKey struct {
	GuildID  util.Snowflake
	TargetID util.Snowflake
	Action   ActionKind
}

func (d Decision) ConfirmationKey() ConfirmationKey {
	return ConfirmationKey{GuildID: d.GuildID, TargetID: d.TargetID, Action: d.Action}
}
