// Package router classifies natural-language requests onto backend
// operations and annotates each decision with its authentication
// requirement before any dispatch happens, so clients can be sent to
// authenticate eagerly instead of failing mid-flow.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Decision is the outcome of routing one request. Confidence is in [0, 1].
// RequiresAuth reflects the primary operation and any secondary target: once
// raised it is never lowered by later refinement.
type Decision struct {
	Operation       string  `json:"operation"`
	Confidence      float64 `json:"confidence"`
	Reason          string  `json:"reason"`
	RequiresAuth    bool    `json:"requires_auth"`
	RequiredScope   string  `json:"required_scope,omitempty"`
	SecondaryTarget string  `json:"secondary_target,omitempty"`
}

// Classifier maps a free-form request to a candidate operation. It has no
// authentication knowledge; the router overlays that afterwards.
type Classifier interface {
	Classify(ctx context.Context, request string) (*Decision, error)
}

// GatePolicy answers whether an operation requires authentication. Satisfied
// by *gate.Gate.
type GatePolicy interface {
	IsGated(operation string) bool
}

// Router wraps a classifier and stamps every decision with the
// authentication requirement of its targets.
type Router struct {
	classifier Classifier
	policy     GatePolicy
}

// New creates a router. A nil policy means nothing is gated.
func New(classifier Classifier, policy GatePolicy) *Router {
	return &Router{classifier: classifier, policy: policy}
}

// Route classifies the request and raises RequiresAuth when the chosen
// operation or its secondary target is gated.
func (r *Router) Route(ctx context.Context, request string) (*Decision, error) {
	d, err := r.classifier.Classify(ctx, request)
	if err != nil {
		return nil, fmt.Errorf("classifying request: %w", err)
	}

	if r.policy != nil {
		if r.policy.IsGated(d.Operation) {
			d.RequiresAuth = true
		}
		if d.SecondaryTarget != "" && r.policy.IsGated(d.SecondaryTarget) {
			d.RequiresAuth = true
		}
	}

	slog.Debug("router: decision",
		"operation", d.Operation,
		"confidence", d.Confidence,
		"requires_auth", d.RequiresAuth,
	)
	return d, nil
}

// KeywordRule binds trigger keywords to an operation for the keyword
// classifier.
type KeywordRule struct {
	Operation     string
	Keywords      []string
	RequiredScope string
}

// KeywordClassifier scores operations by keyword hits in the request text.
// It is the built-in classifier; deployments with an LLM-backed planner can
// substitute their own Classifier.
type KeywordClassifier struct {
	rules    []KeywordRule
	fallback string
}

// NewKeywordClassifier creates a classifier over the given rules. fallback
// names the operation chosen when no keyword matches.
func NewKeywordClassifier(rules []KeywordRule, fallback string) *KeywordClassifier {
	return &KeywordClassifier{rules: rules, fallback: fallback}
}

var _ Classifier = (*KeywordClassifier)(nil)

// Classify picks the rule with the most keyword hits. Ties break toward the
// rule declared first. The runner-up, if any rule scored, becomes the
// secondary target.
func (c *KeywordClassifier) Classify(_ context.Context, request string) (*Decision, error) {
	text := strings.ToLower(request)

	type scored struct {
		rule KeywordRule
		hits int
		ord  int
	}
	var candidates []scored
	for i, rule := range c.rules {
		hits := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				hits++
			}
		}
		if hits > 0 {
			candidates = append(candidates, scored{rule: rule, hits: hits, ord: i})
		}
	}

	if len(candidates) == 0 {
		if c.fallback == "" {
			return nil, fmt.Errorf("no operation matches request")
		}
		return &Decision{
			Operation:  c.fallback,
			Confidence: 0.2,
			Reason:     "no keyword match; using fallback operation",
		}, nil
	}

	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].hits != candidates[b].hits {
			return candidates[a].hits > candidates[b].hits
		}
		return candidates[a].ord < candidates[b].ord
	})

	best := candidates[0]
	d := &Decision{
		Operation:     best.rule.Operation,
		Confidence:    0.6,
		Reason:        fmt.Sprintf("matched %d keyword(s)", best.hits),
		RequiredScope: best.rule.RequiredScope,
	}
	if best.hits >= 2 {
		d.Confidence = 0.9
	}
	if len(candidates) > 1 && candidates[1].rule.Operation != best.rule.Operation {
		d.SecondaryTarget = candidates[1].rule.Operation
	}
	return d, nil
}
