package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanujdargan/html.ai/internal/model"
)

func TestComputeVectorEmptyHistoryIsNeutral(t *testing.T) {
	v := ComputeVector(nil, time.Now())
	require.Equal(t, model.NeutralBehavioralVector(), v)
}

func TestComputeVectorExplorationScore(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.Event{
		{EventName: "component_viewed", ComponentID: "hero", Timestamp: base},
		{EventName: "component_viewed", ComponentID: "footer", Timestamp: base.Add(time.Second)},
		{EventName: "component_viewed", ComponentID: "hero", Timestamp: base.Add(2 * time.Second)},
	}
	v := ComputeVector(events, base.Add(3*time.Second))
	require.InDelta(t, 2.0/3.0, v.ExplorationScore, 0.001)
}

func TestComputeVectorDecisionVelocityFastClick(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.Event{
		{EventName: "component_viewed", ComponentID: "hero", Timestamp: base},
		{EventName: "click", ComponentID: "hero", Timestamp: base.Add(100 * time.Millisecond)},
	}
	v := ComputeVector(events, base.Add(time.Second))
	require.Greater(t, v.DecisionVelocity, 0.9)
}

func TestComputeVectorHesitationFromHoverDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	events := []model.Event{
		{EventName: "hover", ComponentID: "hero", SessionID: "s1", Timestamp: base},
		{EventName: "hover_end", ComponentID: "hero", SessionID: "s1", Timestamp: base.Add(3 * time.Second)},
	}
	v := ComputeVector(events, base.Add(4*time.Second))
	require.Greater(t, v.HesitationScore, 0.5)
}

func TestComputeVectorOrderIndependentOfInputOrder(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := model.Event{EventName: "component_viewed", ComponentID: "hero", Timestamp: base}
	b := model.Event{EventName: "click", ComponentID: "hero", Timestamp: base.Add(time.Second)}

	v1 := ComputeVector([]model.Event{a, b}, base.Add(2*time.Second))
	v2 := ComputeVector([]model.Event{b, a}, base.Add(2*time.Second))
	require.Equal(t, v1, v2)
}
