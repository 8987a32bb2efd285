package decision

import (
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/Slipstreamm/openguard/internal/models"
)

// DecisionLog is one line of the decision trail: every non-empty decision
// and the outcome it reached.
type DecisionLog struct {
	Timestamp time.Time         `json:"timestamp"`
	GuildID   string            `json:"guild_id"`
	TargetID  string            `json:"target_id"`
	EventID   string            `json:"event_id"`
	Signal    string            `json:"signal"`
	Severity  string            `json:"severity"`
	Action    models.ActionKind `json:"action"`
	Token     string            `json:"token"`
	Outcome   models.Outcome    `json:"outcome"`
	Reason    string            `json:"reason"`
	Evidence  string            `json:"evidence,omitempty"`
	Confirm   bool              `json:"requires_confirmation"`
}

type DecisionLogger struct {
	mu  sync.Mutex
	out io.Writer
	now func() time.Time
}

func NewDecisionLogger(out io.Writer) *DecisionLogger {
	return &DecisionLogger{out: out, now: time.Now}
}

func (dl *DecisionLogger) LogDecision(d models.Decision, outcome models.Outcome) error {
	if dl == nil || dl.out == nil {
		return nil
	}
	entry := &DecisionLog{
		Timestamp: dl.now().UTC(),
		GuildID:   d.GuildID.String(),
		TargetID:  d.TargetID.String(),
		EventID:   d.EventID.String(),
		Signal:    d.Signal.String(),
		Severity:  Severity(d.Signal).String(),
		Action:    d.Action,
		Token:     d.Token(),
		Outcome:   outcome,
		Reason:    d.Reason,
		Evidence:  d.Evidence,
		Confirm:   d.RequiresConfirmation,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	data = append(data, '\n')
	dl.mu.Lock()
	defer dl.mu.Unlock()
	_, err = dl.out.Write(data)
	return err
}
