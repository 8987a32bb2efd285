package decision

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Slipstreamm/openguard/internal/models"
)

func TestDecisionLogger(t *testing.T) {
	var buf bytes.Buffer
	dl := NewDecisionLogger(&buf)
	dl.now = func() time.Time { return time.Unix(0, 0) }

	d := banDecision(2, 10)
	require.NoError(t, dl.LogDecision(d, models.OutcomePending))

	var entry DecisionLog
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "2", entry.TargetID)
	assert.Equal(t, "low", entry.Severity)
	assert.Equal(t, d.Token(), entry.Token)
	assert.Equal(t, models.OutcomePending, entry.Outcome)

	var nilLogger *DecisionLogger
	assert.NoError(t, nilLogger.LogDecision(d, models.OutcomeExecuted))
}
