// Package classifier implements the Identity Classifier (C5): a
// deterministic, rule-based mapping from a behavioral vector to one
// of seven psychological states, with an optional LLM refinement step
// that may adjust confidence but never overrides the deterministic
// verdict (spec.md §4.5: "the deterministic layer is the source of
// truth").
package classifier

import (
	"context"
	"time"

	"github.com/tanujdargan/html.ai/internal/model"
)

// Signals carries the non-vector inputs the rule set also needs.
type Signals struct {
	HasConversionEvent  bool
	SessionDuration     time.Duration
	HasMultipleRevisits bool
}

// Classification is the classifier's verdict.
type Classification struct {
	State      model.IdentityState
	Confidence float64
}

const cautiousDurationThreshold = 2 * time.Minute

type rule struct {
	state  model.IdentityState
	match  func(v model.BehavioralVector, s Signals) bool
	margin func(v model.BehavioralVector, s Signals) float64
}

// rules is ordered by tie-break priority, highest first, per spec.md
// §4.5. The first matching rule wins.
var rules = []rule{
	{
		state: model.StateImpulseBuyer,
		match: func(v model.BehavioralVector, s Signals) bool {
			return v.DecisionVelocity >= 0.8 && v.HesitationScore <= 0.2
		},
		margin: func(v model.BehavioralVector, s Signals) float64 {
			return min2(v.DecisionVelocity-0.8, 0.2-v.HesitationScore)
		},
	},
	{
		state: model.StateReadyToDecide,
		match: func(v model.BehavioralVector, s Signals) bool {
			return v.DecisionVelocity >= 0.6 && s.HasConversionEvent
		},
		margin: func(v model.BehavioralVector, s Signals) float64 {
			return v.DecisionVelocity - 0.6
		},
	},
	{
		state: model.StateConfident,
		match: func(v model.BehavioralVector, s Signals) bool {
			return v.DecisionVelocity >= 0.5 && v.ExplorationScore <= 0.4
		},
		margin: func(v model.BehavioralVector, s Signals) float64 {
			return min2(v.DecisionVelocity-0.5, 0.4-v.ExplorationScore)
		},
	},
	{
		state: model.StateOverwhelmed,
		match: func(v model.BehavioralVector, s Signals) bool {
			return v.HesitationScore > 0.5 && v.ContentFocusRatio <= 0.5
		},
		margin: func(v model.BehavioralVector, s Signals) float64 {
			return min2(v.HesitationScore-0.5, 0.5-v.ContentFocusRatio)
		},
	},
	{
		state: model.StateCautious,
		match: func(v model.BehavioralVector, s Signals) bool {
			return v.HesitationScore >= 0.5 && s.SessionDuration >= cautiousDurationThreshold && !s.HasConversionEvent
		},
		margin: func(v model.BehavioralVector, s Signals) float64 {
			return v.HesitationScore - 0.5
		},
	},
	{
		state: model.StateComparisonFocused,
		match: func(v model.BehavioralVector, s Signals) bool {
			return v.EngagementDepth >= 0.5 && s.HasMultipleRevisits
		},
		margin: func(v model.BehavioralVector, s Signals) float64 {
			return v.EngagementDepth - 0.5
		},
	},
}

func min2(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// Classify runs the deterministic rule set. It always returns a
// verdict: exploratory with confidence 0.5 when no rule matches
// (spec.md §8 boundary behavior).
func Classify(v model.BehavioralVector, s Signals) Classification {
	for _, r := range rules {
		if r.match(v, s) {
			return Classification{State: r.state, Confidence: confidenceFromMargin(r.margin(v, s))}
		}
	}
	return Classification{State: model.StateExploratory, Confidence: 0.5}
}

// confidenceFromMargin rescales how decisively a rule's conditions
// held into [0.5, 0.95]: a margin of zero (barely crossed the
// threshold) maps to 0.5, and margins of 0.3 or more saturate at 0.95.
func confidenceFromMargin(margin float64) float64 {
	if margin < 0 {
		margin = 0
	}
	scaled := margin / 0.3
	if scaled > 1 {
		scaled = 1
	}
	return 0.5 + scaled*0.45
}

// Refiner optionally adjusts a deterministic classification's
// confidence using an LLM, e.g. to fold in signals the rule set can't
// express. It must not change State.
type Refiner interface {
	Refine(ctx context.Context, v model.BehavioralVector, s Signals, deterministic Classification) (Classification, error)
}

// ClassifyWithRefinement applies the deterministic rule set and, if
// refiner is non-nil, lets it adjust confidence. A refiner error or a
// refiner that tries to change State is ignored in favor of the
// deterministic verdict.
func ClassifyWithRefinement(ctx context.Context, v model.BehavioralVector, s Signals, refiner Refiner) Classification {
	base := Classify(v, s)
	if refiner == nil {
		return base
	}
	refined, err := refiner.Refine(ctx, v, s, base)
	if err != nil || refined.State != base.State {
		return base
	}
	if refined.Confidence < 0 || refined.Confidence > 1 {
		return base
	}
	return refined
}
