package orchestrator

import (
	"sync"
	"time"

	"github.com/tanujdargan/html.ai/internal/regen"
)

// AuditEvent is one timestamped stage entry in a per-call audit log
// (spec.md §4.9: "per-call audit log with timestamped stage entries").
type AuditEvent struct {
	Stage   string    `json:"stage"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// auditLog accumulates AuditEvents for a single request.
type auditLog struct {
	events []AuditEvent
}

func (a *auditLog) record(stage, detail string) {
	a.events = append(a.events, AuditEvent{Stage: stage, Detail: detail, At: time.Now()})
}

// AuditRing is a bounded in-memory record of regeneration attempts,
// feeding GET /api/analytics/dashboard. It implements regen.AuditSink,
// so the same instance is handed to both the Regeneration Engine (as
// its sink) and the Orchestrator (to read back for the dashboard).
type AuditRing struct {
	mu      sync.Mutex
	entries []regen.AuditEntry
	cap     int
}

// NewAuditRing builds an AuditRing holding at most capacity entries.
func NewAuditRing(capacity int) *AuditRing {
	return &AuditRing{cap: capacity}
}

func (r *AuditRing) RecordRegeneration(entry regen.AuditEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	if len(r.entries) > r.cap {
		r.entries = r.entries[len(r.entries)-r.cap:]
	}
}

func (r *AuditRing) Snapshot() []regen.AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]regen.AuditEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
