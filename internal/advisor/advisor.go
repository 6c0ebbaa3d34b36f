package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrDisabled is returned by reviewers that are not configured.
var ErrDisabled = errors.New("llm advisor is disabled")

// Kind selects the advisory scale.
type Kind string

const (
	KindScore       Kind = "score"
	KindRisk        Kind = "risk"
	KindFeasibility Kind = "feasibility"
)

// Range returns the inclusive score range for the kind. NIH impact scores run
// 1 (exceptional) to 9 (poor).
func (k Kind) Range() (int, int, bool) {
	switch k {
	case KindScore:
		return 1, 9, true
	case KindRisk, KindFeasibility:
		return 1, 5, true
	}
	return 0, 0, false
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, _, ok := k.Range(); !ok {
		return "", fmt.Errorf("unknown review kind %q", s)
	}
	return k, nil
}

type Request struct {
	Kind         Kind
	SectionTitle string
	Content      string
}

type Advice struct {
	Kind      Kind
	Score     int
	Min       int
	Max       int
	Rationale string
}

// Reviewer produces best-effort advisory feedback on a section. Results are
// not deterministic and must never gate compliance.
type Reviewer interface {
	Review(ctx context.Context, req Request) (Advice, error)
}

// Disabled is the Reviewer used when no LLM is configured.
type Disabled struct{}

func (Disabled) Review(context.Context, Request) (Advice, error) {
	return Advice{}, ErrDisabled
}

type reply struct {
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// parseAdvice reads the model's JSON answer and clamps the score into the
// kind's range.
func parseAdvice(kind Kind, text string) (Advice, error) {
	lo, hi, ok := kind.Range()
	if !ok {
		return Advice{}, fmt.Errorf("unknown review kind %q", kind)
	}
	text = cleanFences(text)
	if i, j := strings.Index(text, "{"), strings.LastIndex(text, "}"); i >= 0 && j > i {
		text = text[i : j+1]
	}
	var r reply
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return Advice{}, fmt.Errorf("parse advisor reply: %w", err)
	}
	score := int(r.Score + 0.5)
	if score < lo {
		score = lo
	}
	if score > hi {
		score = hi
	}
	return Advice{
		Kind:      kind,
		Score:     score,
		Min:       lo,
		Max:       hi,
		Rationale: strings.TrimSpace(r.Rationale),
	}, nil
}

func cleanFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
	}
	return strings.TrimSpace(text)
}
