// Package model defines the entities persisted by the storage layer and
// shared across the optimize/reward pipelines: businesses, users,
// events, variant records, and data-sharing agreements.
package model

import "time"

// SharingLevel is the granularity of behavioral context a data-sharing
// agreement permits crossing a tenant boundary.
type SharingLevel string

const (
	SharingAggregate SharingLevel = "aggregate"
	SharingFull      SharingLevel = "full"
)

// AgreementStatus is the lifecycle state of a DataSharingAgreement.
type AgreementStatus string

const (
	AgreementPending AgreementStatus = "pending"
	AgreementActive  AgreementStatus = "active"
	AgreementRevoked AgreementStatus = "revoked"
)

// Business is a tenant. Effectively immutable except for its event
// counter and partner list.
type Business struct {
	BusinessID        string   `json:"business_id"`
	APIKey            string   `json:"api_key"`
	AllowedDomains    []string `json:"allowed_domains"`
	Tier              string   `json:"tier"`
	PartnerIDs        []string `json:"partner_ids"`
	MonthlyEventLimit int64    `json:"monthly_event_limit"`
	MonthlyEventsUsed int64    `json:"monthly_events_used"`
	CreatedAt         time.Time `json:"created_at"`
}

// BusinessUserRef names a (tenant, local-user) pair, the unit a
// GlobalUser's membership set grows by.
type BusinessUserRef struct {
	BusinessID string `json:"business_id"`
	UserID     string `json:"user_id"`
}

// GlobalUser links local users across tenants once a cross-site sync
// has happened. Membership only grows; nothing is ever removed.
type GlobalUser struct {
	GlobalUID    string            `json:"global_uid"`
	BusinessUIDs []BusinessUserRef `json:"business_uids"`
}

// BehavioralVector is the five-component [0,1] summary computed by the
// Behavioral Aggregator (C4) from a user's recent event window.
type BehavioralVector struct {
	ExplorationScore  float64 `json:"exploration_score"`
	HesitationScore   float64 `json:"hesitation_score"`
	EngagementDepth   float64 `json:"engagement_depth"`
	DecisionVelocity  float64 `json:"decision_velocity"`
	ContentFocusRatio float64 `json:"content_focus_ratio"`
}

// NeutralBehavioralVector is the fallback for an empty event history
// (spec.md §8, boundary behaviors).
func NeutralBehavioralVector() BehavioralVector {
	return BehavioralVector{0.5, 0.5, 0.5, 0.5, 0.5}
}

// IdentityState is one of the seven psychological postures the
// Identity Classifier (C5) assigns to a behavioral vector.
type IdentityState string

const (
	StateConfident         IdentityState = "confident"
	StateExploratory       IdentityState = "exploratory"
	StateOverwhelmed       IdentityState = "overwhelmed"
	StateComparisonFocused IdentityState = "comparison_focused"
	StateReadyToDecide     IdentityState = "ready_to_decide"
	StateCautious          IdentityState = "cautious"
	StateImpulseBuyer      IdentityState = "impulse_buyer"
)

// SessionSnapshot is the most recent session summary embedded on a User
// record for fast lookup without replaying events.
type SessionSnapshot struct {
	SessionID          string           `json:"session_id"`
	IdentityState      IdentityState    `json:"identity_state"`
	IdentityConfidence float64          `json:"identity_confidence"`
	BehavioralVector   BehavioralVector `json:"behavioral_vector"`
}

// User is a tenant-scoped end user.
type User struct {
	BusinessID  string          `json:"business_id"`
	UserID      string          `json:"user_id"`
	LastSession SessionSnapshot `json:"last_session"`
	LastHTML    string          `json:"last_html"`
}

// Event is one append-only behavioral event. Timestamp is monotonic at
// second granularity within a (BusinessID, UserID, SessionID); ties are
// broken by insertion order via Sequence.
type Event struct {
	BusinessID  string                 `json:"business_id"`
	UserID      string                 `json:"user_id"`
	SessionID   string                 `json:"session_id"`
	GlobalUID   string                 `json:"global_uid,omitempty"`
	EventName   string                 `json:"event_name"`
	ComponentID string                 `json:"component_id,omitempty"`
	Properties  map[string]interface{} `json:"properties,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Sequence    uint64                 `json:"sequence"`
}

// HistoryEntry archives a slot's markup and score at the moment it was
// retired by a regeneration.
type HistoryEntry struct {
	HTML      string    `json:"html"`
	Score     float64   `json:"score"`
	Timestamp time.Time `json:"timestamp"`
}

// SlotState is the lifecycle of a single variant slot (spec.md §4.6).
type SlotState string

const (
	SlotSeeded       SlotState = "seeded"
	SlotActive       SlotState = "active"
	SlotRegenerating SlotState = "regenerating"
)

// VariantSlot is one of the two competing markup candidates (A or B)
// maintained per (user, component).
type VariantSlot struct {
	CurrentHTML    string         `json:"current_html"`
	CurrentScore   float64        `json:"current_score"`
	NumberOfTrials int64          `json:"number_of_trials"`
	History        []HistoryEntry `json:"history"`
	State          SlotState      `json:"state"`
}

// VariantRecord is keyed by (business_id, user_id, component_id) and
// always has exactly two slots once materialized.
type VariantRecord struct {
	BusinessID  string      `json:"business_id"`
	UserID      string      `json:"user_id"`
	ComponentID string      `json:"component_id"`
	A           VariantSlot `json:"a"`
	B           VariantSlot `json:"b"`
}

// Slot returns a pointer to the named slot ("A" or "B"), or nil for an
// unrecognized label.
func (v *VariantRecord) Slot(label string) *VariantSlot {
	switch label {
	case "A":
		return &v.A
	case "B":
		return &v.B
	default:
		return nil
	}
}

// Other returns the label of the slot that is not label.
func Other(label string) string {
	if label == "A" {
		return "B"
	}
	return "A"
}

// DataSharingAgreement is directed metadata describing whether behavioral
// context may be folded across a tenant boundary. Treated as advisory;
// this system does not route data across tenants automatically.
type DataSharingAgreement struct {
	FromBusinessID string          `json:"from_business_id"`
	ToBusinessID   string          `json:"to_business_id"`
	SharingLevel   SharingLevel    `json:"sharing_level"`
	Permissions    map[string]bool `json:"permissions"`
	Status         AgreementStatus `json:"status"`
}
