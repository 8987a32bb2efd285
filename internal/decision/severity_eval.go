package decision

import "github.com/Slipstreamm/openguard/internal/models"

type SeverityLevel uint8

const (
	SeverityNone SeverityLevel = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// Severity ranks signal kinds. Only the highest ranked applicable signal of
// an event produces an action.
func Severity(kind models.SignalKind) SeverityLevel {
	switch kind {
	case models.SignalSelfHarm:
		return SeverityCritical
	case models.SignalRaid:
		return SeverityHigh
	case models.SignalSpam:
		return SeverityMedium
	case models.SignalLink:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// ranked lists signal kinds from most to least severe.
var ranked = []models.SignalKind{
	models.SignalSelfHarm,
	models.SignalRaid,
	models.SignalSpam,
	models.SignalLink,
}

func (s SeverityLevel) String() string {
	switch s {
	case SeverityNone:
		return "none"
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}
