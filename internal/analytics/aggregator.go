// Package analytics implements the Behavioral Aggregator (C4): a pure
// function folding a user's recent event window into the
// five-component behavioral vector consumed by the Identity
// Classifier and, indirectly, the Variant Store.
package analytics

import (
	"sort"
	"time"

	"github.com/tanujdargan/html.ai/internal/model"
)

const (
	hoverHesitationThreshold  = 2 * time.Second
	engagementCapPerComponent = 30 * time.Second
)

// ComputeVector derives a BehavioralVector from events (any order,
// any window membership already applied by the caller) as of now.
// Each component falls back to 0.5 when its signal is absent, per
// spec.md §4.4; an empty window returns the neutral vector outright.
func ComputeVector(events []model.Event, now time.Time) model.BehavioralVector {
	if len(events) == 0 {
		return model.NeutralBehavioralVector()
	}

	sorted := sortChronological(events)
	return model.BehavioralVector{
		ExplorationScore:  explorationScore(sorted),
		HesitationScore:   hesitationScore(sorted),
		EngagementDepth:   engagementDepth(sorted),
		DecisionVelocity:  decisionVelocity(sorted),
		ContentFocusRatio: contentFocusRatio(sorted),
	}
}

func sortChronological(events []model.Event) []model.Event {
	sorted := make([]model.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Timestamp.Equal(sorted[j].Timestamp) {
			return sorted[i].Sequence < sorted[j].Sequence
		}
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return sorted
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// explorationScore is unique components viewed / total component
// views, clamped.
func explorationScore(events []model.Event) float64 {
	seen := map[string]bool{}
	total := 0
	for _, ev := range events {
		if ev.EventName != "component_viewed" {
			continue
		}
		total++
		if ev.ComponentID != "" {
			seen[ev.ComponentID] = true
		}
	}
	if total == 0 {
		return 0.5
	}
	return clamp01(float64(len(seen)) / float64(total))
}

// hesitationScore weighs friction signals against total event volume.
func hesitationScore(events []model.Event) float64 {
	var weighted float64
	hoverStarts := map[string]time.Time{}

	for _, ev := range events {
		switch ev.EventName {
		case "mouse_hesitation", "mouse_idle_start", "scroll_direction_change":
			weighted += 1
		case "hover":
			key := ev.ComponentID + "|" + ev.SessionID
			hoverStarts[key] = ev.Timestamp
		case "hover_end":
			key := ev.ComponentID + "|" + ev.SessionID
			if start, ok := hoverStarts[key]; ok && ev.Timestamp.Sub(start) >= hoverHesitationThreshold {
				weighted += 1.5
			}
			delete(hoverStarts, key)
		}
	}
	if len(events) == 0 {
		return 0.5
	}
	return clamp01(weighted / (0.5 * float64(len(events))))
}

// engagementDepth is aggregate time_on_component (capped per
// component) over elapsed session time.
func engagementDepth(events []model.Event) float64 {
	elapsed := events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	if elapsed <= 0 {
		return 0.5
	}

	var total time.Duration
	for _, ev := range events {
		if ev.EventName != "component_viewed" && ev.EventName != "time_on_component" {
			continue
		}
		ms, ok := durationMillis(ev.Properties, "time_on_component_ms")
		if !ok {
			continue
		}
		if ms > engagementCapPerComponent {
			ms = engagementCapPerComponent
		}
		total += ms
	}
	if total == 0 {
		return 0.5
	}
	return clamp01(total.Seconds() / elapsed.Seconds())
}

// decisionVelocity inverts the median time between a component_viewed
// event and the first subsequent click/add_to_cart within the window.
func decisionVelocity(events []model.Event) float64 {
	var deltas []time.Duration
	for i, ev := range events {
		if ev.EventName != "component_viewed" {
			continue
		}
		for _, next := range events[i+1:] {
			if next.EventName == "click" || next.EventName == "add_to_cart" {
				deltas = append(deltas, next.Timestamp.Sub(ev.Timestamp))
				break
			}
		}
	}
	if len(deltas) == 0 {
		return 0.5
	}
	sort.Slice(deltas, func(i, j int) bool { return deltas[i] < deltas[j] })
	median := deltas[len(deltas)/2]
	// 0s -> 1.0, asymptotically -> 0 as the median delay grows.
	return clamp01(1.0 / (1.0 + median.Seconds()/5.0))
}

// contentFocusRatio penalizes frequent direction changes and time
// spent with the tab hidden.
func contentFocusRatio(events []model.Event) float64 {
	elapsed := events[len(events)-1].Timestamp.Sub(events[0].Timestamp)
	directionChanges := 0
	var tabHidden time.Duration
	for _, ev := range events {
		switch ev.EventName {
		case "scroll_direction_change":
			directionChanges++
		case "tab_hidden":
			if ms, ok := durationMillis(ev.Properties, "duration_ms"); ok {
				tabHidden += ms
			}
		}
	}

	directionRate := 0.0
	if len(events) > 0 {
		directionRate = float64(directionChanges) / float64(len(events))
	}
	hiddenFraction := 0.0
	if elapsed > 0 {
		hiddenFraction = tabHidden.Seconds() / elapsed.Seconds()
	}
	if directionChanges == 0 && tabHidden == 0 {
		return 0.5
	}
	return clamp01(1 - (directionRate + hiddenFraction))
}

func durationMillis(props map[string]interface{}, key string) (time.Duration, bool) {
	if props == nil {
		return 0, false
	}
	raw, ok := props[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case int64:
		return time.Duration(v) * time.Millisecond, true
	default:
		return 0, false
	}
}
