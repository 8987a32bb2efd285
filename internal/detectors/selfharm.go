package detectors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/Slipstreamm/openguard/internal/models"
)

// Verdict is a classifier's answer for one piece of text.
type Verdict struct {
	SelfHarm bool    `json:"self_harm"`
	Score    float64 `json:"score"`
	Reason   string  `json:"reason"`
}

// Classifier is the external self-harm model boundary. Implementations may
// block and must honour ctx.
type Classifier interface {
	Classify(ctx context.Context, text string) (Verdict, error)
}

type ClassifierFunc func(ctx context.Context, text string) (Verdict, error)

func (f ClassifierFunc) Classify(ctx context.Context, text string) (Verdict, error) {
	return f(ctx, text)
}

// PhraseClassifier matches normalized phrases against the message tokens.
type PhraseClassifier struct {
	phrases [][]string
}

func NewPhraseClassifier(phrases []string) *PhraseClassifier {
	pc := &PhraseClassifier{}
	for _, p := range phrases {
		if toks := Tokenize(p); len(toks) > 0 {
			pc.phrases = append(pc.phrases, toks)
		}
	}
	return pc
}

func (pc *PhraseClassifier) Classify(_ context.Context, text string) (Verdict, error) {
	toks := Tokenize(text)
	for _, p := range pc.phrases {
		if containsPhrase(toks, p) {
			return Verdict{SelfHarm: true, Score: 0.7, Reason: "phrase: " + strings.Join(p, " ")}, nil
		}
	}
	return Verdict{}, nil
}

// HTTPClassifier posts {"text": ...} to a model endpoint and expects a
// Verdict back as JSON.
type HTTPClassifier struct {
	client *fasthttp.Client
	url    string
}

func NewHTTPClassifier(url string) *HTTPClassifier {
	return &HTTPClassifier{
		client: &fasthttp.Client{
			Name:                "openguard-classifier",
			MaxConnsPerHost:     64,
			MaxIdleConnDuration: 30 * time.Second,
		},
		url: url,
	}
}

func (hc *HTTPClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	body, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return Verdict{}, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(hc.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	req.SetBody(body)

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(5 * time.Second)
	}
	if err := hc.client.DoDeadline(req, resp, deadline); err != nil {
		return Verdict{}, fmt.Errorf("classifier request: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return Verdict{}, fmt.Errorf("classifier status %d", resp.StatusCode())
	}

	var v Verdict
	if err := json.Unmarshal(resp.Body(), &v); err != nil {
		return Verdict{}, fmt.Errorf("classifier response: %w", err)
	}
	return v, nil
}

// ChainClassifier asks each classifier in turn and returns the first
// positive verdict. An error from one classifier is returned only when no
// other classifier produced a positive verdict.
type ChainClassifier []Classifier

func (cc ChainClassifier) Classify(ctx context.Context, text string) (Verdict, error) {
	var firstErr error
	for _, c := range cc {
		v, err := c.Classify(ctx, text)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if v.SelfHarm {
			return v, nil
		}
	}
	return Verdict{}, firstErr
}

func selfHarmSignal(v Verdict) models.Signal {
	score := v.Score
	if score <= 0 {
		score = 1
	}
	return models.Signal{Kind: models.SignalSelfHarm, Source: models.SourceClassifier, Score: score, Evidence: v.Reason}
}
