package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/tanujdargan/html.ai/internal/analytics"
	"github.com/tanujdargan/html.ai/internal/bandit"
	"github.com/tanujdargan/html.ai/internal/classifier"
	"github.com/tanujdargan/html.ai/internal/guardrail"
	"github.com/tanujdargan/html.ai/internal/htmlguard"
	"github.com/tanujdargan/html.ai/internal/identity"
	"github.com/tanujdargan/html.ai/internal/ingest"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/ratelimit"
	"github.com/tanujdargan/html.ai/internal/regen"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// conversionEventNames marks events treated as a conversion signal for
// the Identity Classifier's ready_to_decide/cautious rules. spec.md
// leaves the exact event vocabulary to the implementation.
var conversionEventNames = map[string]bool{
	"add_to_cart":       true,
	"purchase":          true,
	"checkout_complete": true,
	"signup_complete":   true,
}

// Orchestrator wires every pipeline stage together behind the HTTP
// surface in spec.md §6.
type Orchestrator struct {
	Store       storage.Store
	Identity    *identity.Resolver
	Ingestor    *ingest.Ingestor
	Bandit      *bandit.Bandit
	Guardrail   *guardrail.Validator
	Regen       *regen.Engine
	Metrics     *observability.PipelineMetrics
	Logger      *slog.Logger
	AuditRing   *AuditRing
	APILimiter  *ratelimit.KeyedLimiter

	RequestDeadline  time.Duration
	AggregatorWindow time.Duration
	AggregatorEvents int
}

// New assembles an Orchestrator from its already-constructed stages.
func New(
	store storage.Store,
	idResolver *identity.Resolver,
	ingestor *ingest.Ingestor,
	b *bandit.Bandit,
	guard *guardrail.Validator,
	regenEngine *regen.Engine,
	metrics *observability.PipelineMetrics,
	logger *slog.Logger,
	apiLimiter *ratelimit.KeyedLimiter,
	auditRing *AuditRing,
	requestDeadline, aggregatorWindow time.Duration,
	aggregatorEvents int,
) *Orchestrator {
	if auditRing == nil {
		auditRing = NewAuditRing(200)
	}
	return &Orchestrator{
		Store:            store,
		Identity:         idResolver,
		Ingestor:         ingestor,
		Bandit:           b,
		Guardrail:        guard,
		Regen:            regenEngine,
		Metrics:          metrics,
		Logger:           logger,
		AuditRing:        auditRing,
		APILimiter:       apiLimiter,
		RequestDeadline:  requestDeadline,
		AggregatorWindow: aggregatorWindow,
		AggregatorEvents: aggregatorEvents,
	}
}

// resolveIdentity gathers the request's identity fields the way the
// browser SDK is expected to send them: an X-API-Key header, the
// standard Origin header, and body-carried user/session/global ids.
func (o *Orchestrator) resolveIdentity(ctx context.Context, apiKey, origin, userID, sessionID, globalUID string) (*identity.Resolved, error) {
	return o.Identity.Resolve(ctx, identity.Request{
		APIKey:    apiKey,
		Origin:    origin,
		UserID:    userID,
		SessionID: sessionID,
		GlobalUID: globalUID,
	})
}

// recentBehavior loads the user's event window and computes the
// vector and classifier signals the way spec.md §4.4/§4.5 define them.
func (o *Orchestrator) recentBehavior(ctx context.Context, businessID, userID string) (model.BehavioralVector, classifier.Signals, []model.Event, error) {
	events, err := o.Store.GetRecentEvents(ctx, businessID, userID, o.AggregatorEvents, o.AggregatorWindow)
	if err != nil {
		return model.BehavioralVector{}, classifier.Signals{}, nil, err
	}
	vector := analytics.ComputeVector(events, time.Now())
	signals := deriveSignals(events)
	return vector, signals, events, nil
}

// deriveSignals extracts the non-vector inputs the classifier's rule
// set needs from a chronological (here: newest-first) event window.
func deriveSignals(events []model.Event) classifier.Signals {
	var s classifier.Signals
	if len(events) == 0 {
		return s
	}

	sessions := map[string]bool{}
	oldest, newest := events[0].Timestamp, events[0].Timestamp
	for _, ev := range events {
		if conversionEventNames[ev.EventName] {
			s.HasConversionEvent = true
		}
		sessions[ev.SessionID] = true
		if ev.Timestamp.Before(oldest) {
			oldest = ev.Timestamp
		}
		if ev.Timestamp.After(newest) {
			newest = ev.Timestamp
		}
	}
	s.SessionDuration = newest.Sub(oldest)
	s.HasMultipleRevisits = len(sessions) > 1
	return s
}

// selectAndGuard runs the bandit's selection policy and the Guardrail
// Validator, falling back to the other slot and then to the original
// seed on rejection (spec.md §4.7: "reject falls back to the other
// slot or seed").
func (o *Orchestrator) selectAndGuard(ctx context.Context, key storage.VariantKey, seedHTML string, log *auditLog) (slot, html string, rec *model.VariantRecord, err error) {
	sel, err := o.Bandit.Select(ctx, key, seedHTML)
	if err != nil {
		return "", "", nil, err
	}
	log.record("select", string(sel.Reason)+" "+sel.Slot)

	requiredMarkers := htmlguardMarkersOf(seedHTML)

	verdict := o.Guardrail.Validate(sel.HTML, requiredMarkers)
	if verdict.Approved {
		log.record("guardrail", "approved "+sel.Slot)
		o.Metrics.GuardrailOutcomesTotal.WithLabelValues("approve", "").Inc()
		return sel.Slot, sel.HTML, sel.Record, nil
	}
	o.Metrics.GuardrailOutcomesTotal.WithLabelValues("reject", verdict.Reason).Inc()
	log.record("guardrail", "rejected "+sel.Slot+": "+verdict.Reason)

	otherSlot := model.Other(sel.Slot)
	otherHTML := sel.Record.Slot(otherSlot).CurrentHTML
	otherVerdict := o.Guardrail.Validate(otherHTML, requiredMarkers)
	if otherVerdict.Approved {
		log.record("guardrail_fallback", "approved "+otherSlot)
		return otherSlot, otherHTML, sel.Record, nil
	}
	o.Metrics.GuardrailOutcomesTotal.WithLabelValues("reject", otherVerdict.Reason).Inc()
	log.record("guardrail_fallback", "rejected "+otherSlot+", falling back to seed")
	return sel.Slot, seedHTML, sel.Record, nil
}

// saveSessionSnapshot persists the latest classification/vector on the
// user record for fast lookup (model.User.LastSession) without
// replaying events, and records the html last served.
func (o *Orchestrator) saveSessionSnapshot(ctx context.Context, businessID, userID, sessionID string, classification classifier.Classification, vector model.BehavioralVector, lastHTML string) error {
	u, err := o.Store.GetOrCreateUser(ctx, businessID, userID)
	if err != nil {
		return err
	}
	u.LastSession = model.SessionSnapshot{
		SessionID:          sessionID,
		IdentityState:      classification.State,
		IdentityConfidence: classification.Confidence,
		BehavioralVector:   vector,
	}
	u.LastHTML = lastHTML
	return o.Store.SaveUser(ctx, u)
}

func htmlguardMarkersOf(fragment string) map[string]string {
	nodes, err := htmlguard.Parse(fragment)
	if err != nil {
		return nil
	}
	return htmlguard.Markers(nodes)
}
