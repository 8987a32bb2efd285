package models

import (
	"fmt"
	"strings"
)

type SignalKind uint8

const (
	SignalNone SignalKind = iota
	SignalLink
	SignalSpam
	SignalRaid
	SignalSelfHarm
)

func (k SignalKind) String() string {
	switch k {
	case SignalLink:
		return "link"
	case SignalSpam:
		return "spam"
	case SignalRaid:
		return "raid"
	case SignalSelfHarm:
		return "self_harm"
	default:
		return "none"
	}
}

// SignalSource distinguishes rate observations, which only count toward a
// window threshold, from content heuristics that stand on their own.
type SignalSource uint8

const (
	SourceRate SignalSource = iota
	SourceHeuristic
	SourceDenylist
	SourceClassifier
)

func (s SignalSource) String() string {
	switch s {
	case SourceRate:
		return "rate"
	case SourceHeuristic:
		return "heuristic"
	case SourceDenylist:
		return "denylist"
	case SourceClassifier:
		return "classifier"
	default:
		return "unknown"
	}
}

// Signal is one classified indicator extracted from a single Event.
type Signal struct {
	Kind     SignalKind
	Source   SignalSource
	Score    float64 // 0..1
	Evidence string
}

func (s Signal) String() string {
	return fmt.Sprintf("%s/%s(%.2f): %s", s.Kind, s.Source, s.Score, s.Evidence)
}

type Signals []Signal

func (ss Signals) Has(kind SignalKind) bool {
	for _, s := range ss {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// Of returns the signals of the given kind in extraction order.
func (ss Signals) Of(kind SignalKind) Signals {
	var out Signals
	for _, s := range ss {
		if s.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

// Evidence joins every signal into a single audit string.
func (ss Signals) Evidence() string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, "; ")
}
