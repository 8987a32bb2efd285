package models

import (
	"time"

	"github.com/Slipstreamm/openguard/pkg/util"
)

type InfractionStatus string

const (
	InfractionActive   InfractionStatus = "active"
	InfractionReversed InfractionStatus = "reversed"
	InfractionExpired  InfractionStatus = "expired"
)

// Terminal states are sinks.
func (s InfractionStatus) Terminal() bool {
	return s == InfractionReversed || s == InfractionExpired
}

type Infraction struct {
	ID             string           `json:"id"`
	GuildID        util.Snowflake   `json:"guild_id"`
	TargetID       util.Snowflake   `json:"target_id"`
	ModeratorID    util.Snowflake   `json:"moderator_id"`
	ChannelID      util.Snowflake   `json:"channel_id,omitempty"`
	EventID        util.Snowflake   `json:"event_id,omitempty"`
	Action         ActionKind       `json:"action"`
	Reason         string           `json:"reason"`
	Evidence       string           `json:"evidence"`
	RequestToken   string           `json:"request_token"`
	Status         InfractionStatus `json:"status"`
	ReversalReason string           `json:"reversal_reason,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
	ExpiresAt      *time.Time       `json:"expires_at,omitempty"`
}

type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealAccepted AppealStatus = "accepted"
	AppealRejected AppealStatus = "rejected"
)

func ParseAppealStatus(s string) (AppealStatus, bool) {
	switch AppealStatus(s) {
	case AppealPending, AppealAccepted, AppealRejected:
		return AppealStatus(s), true
	}
	return "", false
}

type Appeal struct {
	ID           string         `json:"id"`
	InfractionID string         `json:"infraction_id"`
	GuildID      util.Snowflake `json:"guild_id"`
	UserID       util.Snowflake `json:"user_id"`
	Text         string         `json:"text"`
	Status       AppealStatus   `json:"status"`
	ResolvedBy   util.Snowflake `json:"resolved_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	DecidedAt    *time.Time     `json:"decided_at,omitempty"`
}

type Outcome string

const (
	OutcomeExecuted   Outcome = "executed"
	OutcomeDuplicate  Outcome = "duplicate"
	OutcomePending    Outcome = "pending"
	OutcomeCoalesced  Outcome = "coalesced"
	OutcomeRejected   Outcome = "rejected"
	OutcomeExpired    Outcome = "expired"
	OutcomeFailed     Outcome = "failed"
	OutcomeCancelled  Outcome = "cancelled"
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeTestMode marks a decision reported but not enforced because the
	// guild runs in test mode.
	OutcomeTestMode Outcome = "test_mode"
)

// AuditNote is the traceable outcome of a Decision that reached the
// confirmation gate or the executor.
type AuditNote struct {
	ID        int64          `json:"id"`
	GuildID   util.Snowflake `json:"guild_id"`
	TargetID  util.Snowflake `json:"target_id"`
	Action    ActionKind     `json:"action"`
	Token     string         `json:"token"`
	Outcome   Outcome        `json:"outcome"`
	Detail    string         `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// InfractionFilter narrows ledger listings. Zero fields match everything.
type InfractionFilter struct {
	GuildID util.Snowflake
	UserID  util.Snowflake
	Status  InfractionStatus
	Limit   int
}

type AppealFilter struct {
	GuildID util.Snowflake
	UserID  util.Snowflake
	Status  AppealStatus
	Limit   int
}
