package models

import (
	"time"

	"github.com/Slipstreamm/openguard/pkg/util"
)

type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTypeMessageCreate
	EventTypeMessageEdit
	EventTypeMemberJoin
)

func (t EventType) String() string {
	switch t {
	case EventTypeMessageCreate:
		return "message_create"
	case EventTypeMessageEdit:
		return "message_edit"
	case EventTypeMemberJoin:
		return "member_join"
	default:
		return "unknown"
	}
}

// Event is a normalized guild happening delivered by the gateway adapter.
// It is never persisted.
type Event struct {
	ID        util.Snowflake // message ID for messages, synthesized for joins
	Type      EventType
	GuildID   util.Snowflake
	AuthorID  util.Snowflake
	ChannelID util.Snowflake
	Timestamp time.Time
	Content   string
	Roles     []util.Snowflake

	// Mentions counts user and role mentions, including @everyone/@here.
	Mentions int
	// AuthorIsBot events are dropped before extraction.
	AuthorIsBot bool
	// AccountCreated is the author's account creation time, when known.
	AccountCreated time.Time
}

func (e *Event) IsMessage() bool {
	return e.Type == EventTypeMessageCreate || e.Type == EventTypeMessageEdit
}

func (e *Event) HasRole(roleID util.Snowflake) bool {
	for _, r := range e.Roles {
		if r == roleID {
			return true
		}
	}
	return false
}
