package decision

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Slipstreamm/openguard/internal/models"
	"github.com/Slipstreamm/openguard/pkg/util"
)

type ConfirmationState uint8

const (
	StatePending ConfirmationState = iota
	StateApproved
	StateRejected
	StateExpired
	StateCancelled
)

func (s ConfirmationState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateApproved:
		return "approved"
	case StateRejected:
		return "rejected"
	case StateExpired:
		return "expired"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Confirmation is one decision waiting for a human.
type Confirmation struct {
	ID        string
	Key       models.ConfirmationKey
	Decision  models.Decision
	State     ConfirmationState
	CreatedAt time.Time
	Deadline  time.Time
	// Coalesced counts later decisions for the same key folded into this one.
	Coalesced int
	// MessageID is the prompt message, set by whoever presents it.
	MessageID string

	stop func() bool
}

// Gate is the confirmation state machine of one guild:
// pending -> approved | rejected | expired, plus cancelled on guild removal.
// It is owned by the guild worker and is not safe for concurrent use. The
// timeout callback only reports the ID; the owner calls Expire from its own
// goroutine.
type Gate struct {
	timeout   time.Duration
	onTimeout func(id string)
	now       func() time.Time

	byID  map[string]*Confirmation
	byKey map[models.ConfirmationKey]*Confirmation
}

// NewGate clamps timeout to ceiling. onTimeout may be nil, in which case the
// owner is responsible for calling Expire.
func NewGate(timeout, ceiling time.Duration, onTimeout func(id string)) *Gate {
	if ceiling > 0 && (timeout <= 0 || timeout > ceiling) {
		timeout = ceiling
	}
	return &Gate{
		timeout:   timeout,
		onTimeout: onTimeout,
		now:       time.Now,
		byID:      make(map[string]*Confirmation),
		byKey:     make(map[models.ConfirmationKey]*Confirmation),
	}
}

// maxCoalescedEvidence bounds how many folded decisions append evidence.
// Later ones only bump Coalesced.
const maxCoalescedEvidence = 5

// Submit opens a pending confirmation for d, or folds d into the pending
// confirmation already open for the same (guild, target, action).
func (g *Gate) Submit(d models.Decision) (*Confirmation, bool) {
	key := d.ConfirmationKey()
	if c, ok := g.byKey[key]; ok {
		c.Coalesced++
		if d.Evidence != "" && c.Coalesced <= maxCoalescedEvidence {
			c.Decision.Evidence += fmt.Sprintf(" | +%d: %s", c.Coalesced, d.Evidence)
		}
		return c, false
	}

	now := g.now()
	c := &Confirmation{
		ID:        uuid.NewString(),
		Key:       key,
		Decision:  d,
		State:     StatePending,
		CreatedAt: now,
		Deadline:  now.Add(g.timeout),
	}
	g.byID[c.ID] = c
	g.byKey[key] = c
	if g.onTimeout != nil && g.timeout > 0 {
		id := c.ID
		c.stop = time.AfterFunc(g.timeout, func() { g.onTimeout(id) }).Stop
	}
	return c, true
}

// Resolve applies a human answer. An approved confirmation returns the
// decision with the confirming moderator recorded on it.
func (g *Gate) Resolve(id string, approve bool, moderatorID util.Snowflake) (*Confirmation, error) {
	c, ok := g.byID[id]
	if !ok {
		return nil, fmt.Errorf("confirmation %s: %w", id, models.ErrNotFound)
	}
	if c.State != StatePending {
		return c, fmt.Errorf("confirmation %s is %s: %w", id, c.State, models.ErrInvalidTransition)
	}
	if approve {
		c.State = StateApproved
		c.Decision.ModeratorID = moderatorID
	} else {
		c.State = StateRejected
	}
	g.close(c)
	return c, nil
}

// Expire moves a still pending confirmation to expired. It returns false if
// the confirmation was already resolved, which makes late timer fires
// harmless.
func (g *Gate) Expire(id string) (*Confirmation, *models.ConfirmationTimeoutError, bool) {
	c, ok := g.byID[id]
	if !ok || c.State != StatePending {
		return nil, nil, false
	}
	c.State = StateExpired
	g.close(c)
	return c, &models.ConfirmationTimeoutError{ConfirmationID: c.ID, Key: c.Key, After: g.timeout}, true
}

// ExpireDue expires every pending confirmation past its deadline.
func (g *Gate) ExpireDue(now time.Time) []*Confirmation {
	var out []*Confirmation
	for id, c := range g.byID {
		if c.State == StatePending && !now.Before(c.Deadline) {
			if c, _, ok := g.Expire(id); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

// CancelAll drops every pending confirmation, for guild removal.
func (g *Gate) CancelAll() []*Confirmation {
	out := make([]*Confirmation, 0, len(g.byID))
	for _, c := range g.byID {
		c.State = StateCancelled
		out = append(out, c)
	}
	for _, c := range out {
		g.close(c)
	}
	return out
}

func (g *Gate) Get(id string) (*Confirmation, bool) {
	c, ok := g.byID[id]
	return c, ok
}

func (g *Gate) Pending() int {
	return len(g.byID)
}

func (g *Gate) Timeout() time.Duration {
	return g.timeout
}

func (g *Gate) close(c *Confirmation) {
	if c.stop != nil {
		c.stop()
	}
	delete(g.byID, c.ID)
	if g.byKey[c.Key] == c {
		delete(g.byKey, c.Key)
	}
}
