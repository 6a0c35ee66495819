// Package orchestrator implements the Request Orchestrator (C9): the
// HTTP surface of spec.md §6, sequencing the Identity Resolver, Event
// Ingestor, Behavioral Aggregator, Identity Classifier, Variant Store
// & Bandit, and Guardrail Validator per request, with graceful
// per-stage degradation and a per-call audit log, grounded on the
// teacher's services/orchestrator/handlers request/response shape.
package orchestrator

import (
	"github.com/go-playground/validator/v10"
)

// validate is the shared validator instance for every request DTO in
// this package, the pattern used by the teacher's datatypes package.
var validate = validator.New()

// OptimizeRequest is the body of POST /api/optimize (and its legacy
// alias POST /tagAi).
type OptimizeRequest struct {
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id"`
	GlobalUID   string `json:"global_uid"`
	ComponentID string `json:"component_id" validate:"required"`
	ChangingHTML string `json:"changingHtml" validate:"required"`
	ContextHTML string `json:"contextHtml"`
}

// OptimizeResponse is the response body for both /api/optimize and
// /tagAi (spec.md §9: only response-field parity is mandated for the
// legacy route, not byte-for-byte compatibility).
type OptimizeResponse struct {
	Variant          string                  `json:"variant"`
	ChangingHTML     string                  `json:"changingHtml"`
	IdentityState    string                  `json:"identity_state"`
	Confidence       float64                 `json:"confidence"`
	AuditLog         []AuditEvent            `json:"audit_log"`
	BehavioralVector map[string]float64      `json:"behavioral_vector"`
}

// RewardRequest is the body of POST /rewardTag, /api/reward, and
// /api/component/reward. ComponentIDs takes precedence when present;
// ComponentID is accepted for legacy single-component callers.
type RewardRequest struct {
	UserID            string   `json:"user_id" validate:"required"`
	SessionID         string   `json:"session_id"`
	VariantAttributed string   `json:"variantAttributed" validate:"required,oneof=A B"`
	Reward            *float64 `json:"reward"`
	ComponentID       string   `json:"component_id"`
	ComponentIDs      []string `json:"component_ids"`
	ContextHTML       string   `json:"contextHtml"`
}

// RewardResponse maps each rewarded component to its updated score.
type RewardResponse struct {
	NewScore map[string]float64 `json:"new_score"`
}

// TrackEventRequest is the body of POST /api/events/track.
type TrackEventRequest struct {
	UserID      string                 `json:"user_id" validate:"required"`
	SessionID   string                 `json:"session_id" validate:"required"`
	GlobalUID   string                 `json:"global_uid"`
	EventName   string                 `json:"event_name" validate:"required"`
	ComponentID string                 `json:"component_id"`
	Properties  map[string]interface{} `json:"properties"`
}

// BatchEventsRequest is the body of POST /api/events/batch.
type BatchEventsRequest struct {
	UserID    string      `json:"user_id" validate:"required"`
	SessionID string      `json:"session_id" validate:"required"`
	GlobalUID string      `json:"global_uid"`
	Events    []EventItem `json:"events" validate:"required,min=1,dive"`
}

// EventItem is one event within a batch submission.
type EventItem struct {
	EventName   string                 `json:"event_name" validate:"required"`
	ComponentID string                 `json:"component_id"`
	Properties  map[string]interface{} `json:"properties"`
	TimestampMs int64                  `json:"timestamp_ms"`
}

// IngestResponse reports what happened to a track/batch submission.
type IngestResponse struct {
	Accepted     int   `json:"accepted"`
	Dropped      int   `json:"dropped"`
	CoalescedOut int   `json:"coalesced_out"`
	RejectedIdx  []int `json:"rejected_idx,omitempty"`
}

// LinkRequest is the body of POST /sync/link.
type LinkRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	GlobalUID string `json:"global_uid" validate:"required"`
}

// errorBody is the shape of every non-2xx JSON response (spec.md §6).
type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}
