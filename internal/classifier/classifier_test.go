package classifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanujdargan/html.ai/internal/model"
)

func TestClassifyDefaultsToExploratory(t *testing.T) {
	c := Classify(model.NeutralBehavioralVector(), Signals{})
	require.Equal(t, model.StateExploratory, c.State)
	require.Equal(t, 0.5, c.Confidence)
}

func TestClassifyImpulseBuyerBeatsReadyToDecide(t *testing.T) {
	v := model.BehavioralVector{DecisionVelocity: 0.9, HesitationScore: 0.1}
	c := Classify(v, Signals{HasConversionEvent: true})
	require.Equal(t, model.StateImpulseBuyer, c.State)
	require.Greater(t, c.Confidence, 0.5)
}

func TestClassifyReadyToDecideRequiresConversionSignal(t *testing.T) {
	v := model.BehavioralVector{DecisionVelocity: 0.7, HesitationScore: 0.5, ExplorationScore: 0.9}
	c := Classify(v, Signals{HasConversionEvent: false})
	require.NotEqual(t, model.StateReadyToDecide, c.State)

	c2 := Classify(v, Signals{HasConversionEvent: true})
	require.Equal(t, model.StateReadyToDecide, c2.State)
}

func TestClassifyOverwhelmed(t *testing.T) {
	v := model.BehavioralVector{HesitationScore: 0.8, ContentFocusRatio: 0.2, DecisionVelocity: 0.1}
	c := Classify(v, Signals{})
	require.Equal(t, model.StateOverwhelmed, c.State)
}

func TestClassifyCautiousRequiresLongSessionAndNoConversion(t *testing.T) {
	v := model.BehavioralVector{HesitationScore: 0.7, ContentFocusRatio: 0.9, DecisionVelocity: 0.1}
	c := Classify(v, Signals{SessionDuration: 3 * time.Minute, HasConversionEvent: false})
	require.Equal(t, model.StateCautious, c.State)

	c2 := Classify(v, Signals{SessionDuration: 10 * time.Second, HasConversionEvent: false})
	require.NotEqual(t, model.StateCautious, c2.State)
}

func TestClassifyComparisonFocused(t *testing.T) {
	v := model.BehavioralVector{EngagementDepth: 0.8, DecisionVelocity: 0.1, HesitationScore: 0.1, ContentFocusRatio: 0.9}
	c := Classify(v, Signals{HasMultipleRevisits: true})
	require.Equal(t, model.StateComparisonFocused, c.State)
}

type stubRefiner struct {
	result Classification
	err    error
}

func (s stubRefiner) Refine(ctx context.Context, v model.BehavioralVector, sig Signals, det Classification) (Classification, error) {
	return s.result, s.err
}

func TestClassifyWithRefinementIgnoresStateChanges(t *testing.T) {
	v := model.NeutralBehavioralVector()
	refiner := stubRefiner{result: Classification{State: model.StateConfident, Confidence: 0.9}}
	c := ClassifyWithRefinement(context.Background(), v, Signals{}, refiner)
	require.Equal(t, model.StateExploratory, c.State)
}

func TestClassifyWithRefinementAppliesConfidenceOnMatch(t *testing.T) {
	v := model.NeutralBehavioralVector()
	refiner := stubRefiner{result: Classification{State: model.StateExploratory, Confidence: 0.77}}
	c := ClassifyWithRefinement(context.Background(), v, Signals{}, refiner)
	require.Equal(t, 0.77, c.Confidence)
}

func TestClassifyWithRefinementFallsBackOnError(t *testing.T) {
	v := model.NeutralBehavioralVector()
	refiner := stubRefiner{err: errors.New("llm unavailable")}
	c := ClassifyWithRefinement(context.Background(), v, Signals{}, refiner)
	require.Equal(t, 0.5, c.Confidence)
}
