// Package detectors turns normalized events into typed signals.
//
// Extract is pure: it reads the event, the policy snapshot and the history
// hints computed by the guild worker. Classify wraps the external self-harm
// classifier and is the only call that may block.
package detectors

import (
	"context"
	"fmt"
	"time"

	"github.com/Slipstreamm/openguard/internal/config"
	"github.com/Slipstreamm/openguard/internal/models"
)

// History carries the per-subject facts the worker already knows when it
// calls Extract.
type History struct {
	// DuplicateCount is how many times this content was seen from the author
	// within the duplicate window, including this message.
	DuplicateCount int
}

type Extractor struct {
	links              LinkRules
	maxMentions        int
	maxEmoji           int
	duplicateThreshold int
	minAccountAge      time.Duration
	classifier         Classifier
	classifierTimeout  time.Duration
}

func NewExtractor(cfg config.DetectionConfig, classifier Classifier, classifierTimeout time.Duration) *Extractor {
	return &Extractor{
		links:              NewLinkRules(cfg),
		maxMentions:        cfg.MaxMentions,
		maxEmoji:           cfg.MaxEmoji,
		duplicateThreshold: cfg.DuplicateThreshold,
		minAccountAge:      cfg.MinAccountAge.Std(),
		classifier:         classifier,
		classifierTimeout:  classifierTimeout,
	}
}

// Skip reports whether the policy excludes this event from moderation
// entirely. It is checked before any other work.
func Skip(evt *models.Event, policy *config.GuildPolicy) bool {
	if evt.AuthorIsBot || !policy.Enabled {
		return true
	}
	return policy.IsIgnoredChannel(evt.ChannelID) || policy.HasIgnoredRole(evt.Roles)
}

// Extract returns the rate and heuristic signals of one event.
func (x *Extractor) Extract(evt *models.Event, policy *config.GuildPolicy, hist History) models.Signals {
	if Skip(evt, policy) {
		return nil
	}

	var out models.Signals
	switch evt.Type {
	case models.EventTypeMemberJoin:
		if policy.AntiRaid {
			out = append(out, x.raid(evt))
		}
	case models.EventTypeMessageCreate, models.EventTypeMessageEdit:
		if policy.AntiSpam {
			// edits do not count toward the message rate
			if evt.Type == models.EventTypeMessageCreate {
				out = append(out, models.Signal{Kind: models.SignalSpam, Source: models.SourceRate, Score: 0, Evidence: "message"})
			}
			out = append(out, x.spam(evt, hist)...)
		}
		if policy.LinkDetection {
			if s, ok := x.links.Check(evt.Content, policy); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

func (x *Extractor) raid(evt *models.Event) models.Signal {
	s := models.Signal{Kind: models.SignalRaid, Source: models.SourceRate, Score: 0.5, Evidence: "member join"}
	if !evt.AccountCreated.IsZero() && x.minAccountAge > 0 {
		age := evt.Timestamp.Sub(evt.AccountCreated)
		if age < x.minAccountAge {
			s.Score = 0.9
			s.Evidence = fmt.Sprintf("member join, account age %s", age.Truncate(time.Minute))
		}
	}
	return s
}

func (x *Extractor) spam(evt *models.Event, hist History) models.Signals {
	var out models.Signals
	if x.duplicateThreshold > 0 && hist.DuplicateCount >= x.duplicateThreshold {
		out = append(out, models.Signal{
			Kind: models.SignalSpam, Source: models.SourceHeuristic, Score: 0.7,
			Evidence: fmt.Sprintf("duplicate content x%d", hist.DuplicateCount),
		})
	}
	if x.maxMentions > 0 && evt.Mentions > x.maxMentions {
		out = append(out, models.Signal{
			Kind: models.SignalSpam, Source: models.SourceHeuristic, Score: 0.8,
			Evidence: fmt.Sprintf("%d mentions", evt.Mentions),
		})
	}
	if x.maxEmoji > 0 {
		if n := CountEmoji(evt.Content); n > x.maxEmoji {
			out = append(out, models.Signal{
				Kind: models.SignalSpam, Source: models.SourceHeuristic, Score: 0.5,
				Evidence: fmt.Sprintf("%d emoji", n),
			})
		}
	}
	return out
}

// Classify runs the self-harm classifier on a message under the configured
// timeout. Classifier failures come back as *models.ExtractionError with no
// signal; the caller logs them and carries on.
func (x *Extractor) Classify(ctx context.Context, evt *models.Event, policy *config.GuildPolicy) (models.Signals, error) {
	if x.classifier == nil || !policy.SelfHarmDetection || !evt.IsMessage() || evt.Content == "" || Skip(evt, policy) {
		return nil, nil
	}
	if x.classifierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, x.classifierTimeout)
		defer cancel()
	}
	v, err := x.classifier.Classify(ctx, evt.Content)
	if err != nil {
		return nil, &models.ExtractionError{Extractor: "self_harm", Err: err}
	}
	if !v.SelfHarm {
		return nil, nil
	}
	return models.Signals{selfHarmSignal(v)}, nil
}
