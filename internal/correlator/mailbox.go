package correlator

import (
	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type controlKind uint8

const (
	controlResolve controlKind = iota + 1
	controlExpire
)

// control messages jump the event queue of a guild worker.
type control struct {
	kind           controlKind
	confirmationID string
	approve        bool
	moderatorID    util.Snowflake
	reply          chan error
}

// mailbox is the ordered inbound queue of one guild worker.
type mailbox struct {
	events  chan models.Event
	control chan control
}

func newMailbox(size int) *mailbox {
	if size < 1 {
		size = 1
	}
	return &mailbox{
		events:  make(chan models.Event, size),
		control: make(chan control, 16),
	}
}

// offer never blocks: a full mailbox drops the event.
func (m *mailbox) offer(evt models.Event) bool {
	select {
	case m.events <- evt:
		return true
	default:
		return false
	}
}

func (m *mailbox) empty() bool {
	return len(m.events) == 0 && len(m.control) == 0
}
