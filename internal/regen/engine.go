// Package regen implements the Regeneration Engine (C8): an
// asynchronous, LLM-backed mutation of a losing variant slot, bounded
// by a wall-clock deadline and guarded by an advisory lock so only one
// regeneration is ever in flight per variant record. It implements
// bandit.RegenTrigger so the Decision Agent can hand off work without
// importing this package directly (spec.md §9's fire-and-forget
// design note).
package regen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tanujdargan/html.ai/internal/diffutil"
	"github.com/tanujdargan/html.ai/internal/guardrail"
	"github.com/tanujdargan/html.ai/internal/htmlguard"
	"github.com/tanujdargan/html.ai/internal/llm"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// AuditEntry records one regeneration attempt, success or failure, for
// the orchestrator's audit log.
type AuditEntry struct {
	Key       storage.VariantKey
	LoserSlot string
	Outcome   string // "success", "failure", "timeout", "coalesced"
	Detail    string
	Diff      string
	At        time.Time
}

// AuditSink receives one entry per regeneration attempt. Implementations
// must not block the engine's goroutine for long; the orchestrator's
// sink appends to an in-memory ring buffer.
type AuditSink interface {
	RecordRegeneration(entry AuditEntry)
}

type noopAuditSink struct{}

func (noopAuditSink) RecordRegeneration(AuditEntry) {}

// Engine drives one LLM call per triggered regeneration, guarded by an
// advisory lock and a wall-clock deadline, then re-grafts the original
// fragment's structural skeleton onto whatever the model returned
// before installing it.
type Engine struct {
	store     storage.Store
	client    llm.LLMClient
	guard     *guardrail.Validator
	metrics   *observability.PipelineMetrics
	logger    *slog.Logger
	sink      AuditSink
	deadline  time.Duration
	lockTTL   time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithGuardrail attaches a validator that regenerated HTML must pass
// before installation; a rejection is treated as a regeneration
// failure and the slot is left untouched. Optional: without it,
// regenerated HTML is installed unchecked beyond the mandatory
// skeleton re-graft.
func WithGuardrail(v *guardrail.Validator) Option {
	return func(e *Engine) { e.guard = v }
}

// WithAuditSink attaches a sink that receives one AuditEntry per
// attempt. Defaults to a no-op sink.
func WithAuditSink(sink AuditSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// New builds an Engine. deadline bounds each LLM call (spec.md §4.8
// default 10s); lockTTL bounds how long the advisory lock is held if
// the engine crashes mid-call (spec.md §5 default 30s).
func New(store storage.Store, client llm.LLMClient, metrics *observability.PipelineMetrics, logger *slog.Logger, deadline, lockTTL time.Duration, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		client:   client,
		metrics:  metrics,
		logger:   logger,
		sink:     noopAuditSink{},
		deadline: deadline,
		lockTTL:  lockTTL,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TriggerRegeneration implements bandit.RegenTrigger. It is meant to
// be called as `go engine.TriggerRegeneration(...)` by the caller (the
// reward request must return immediately, per spec.md §4.8) — this
// method itself blocks for the duration of the attempt, up to the
// engine's deadline.
func (e *Engine) TriggerRegeneration(ctx context.Context, key storage.VariantKey, loserSlot string, identityState model.IdentityState, vector model.BehavioralVector) {
	acquired, err := e.store.AcquireRegenLock(ctx, key, e.lockTTL)
	if err != nil {
		e.logger.Warn("regen: lock acquisition error", "error", err, "key", key)
		e.recordOutcome(key, loserSlot, "failure", err.Error(), "")
		return
	}
	if !acquired {
		e.metrics.RegenerationsTotal.WithLabelValues("coalesced").Inc()
		e.recordOutcome(key, loserSlot, "coalesced", "regeneration already in flight", "")
		return
	}
	defer func() {
		if err := e.store.ReleaseRegenLock(context.Background(), key); err != nil {
			e.logger.Warn("regen: lock release error", "error", err, "key", key)
		}
	}()

	deadlineCtx, cancel := context.WithTimeout(context.Background(), e.deadline)
	defer cancel()

	if err := e.regenerate(deadlineCtx, key, loserSlot, identityState, vector); err != nil {
		outcome := "failure"
		if deadlineCtx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		e.logger.Warn("regen: attempt failed", "error", err, "key", key, "slot", loserSlot, "outcome", outcome)
		e.metrics.RegenerationsTotal.WithLabelValues(outcome).Inc()
		e.recordOutcome(key, loserSlot, outcome, err.Error(), "")
		return
	}
}

func (e *Engine) regenerate(ctx context.Context, key storage.VariantKey, loserSlot string, identityState model.IdentityState, vector model.BehavioralVector) error {
	rec, err := e.store.GetVariant(ctx, key)
	if err != nil {
		return fmt.Errorf("regen: load variant: %w", err)
	}
	losing := rec.Slot(loserSlot)
	winning := rec.Slot(model.Other(loserSlot))
	if losing == nil || winning == nil {
		return fmt.Errorf("regen: unknown slot %q: %w", loserSlot, model.ErrValidation)
	}
	seedHTML := losing.CurrentHTML
	if len(losing.History) > 0 {
		seedHTML = losing.History[0].HTML
	}

	prompt := buildPrompt(seedHTML, losing.CurrentHTML, winning.CurrentHTML, identityState, vector)

	raw, err := e.client.Generate(ctx, prompt, llm.GenerationParams{})
	if err != nil {
		return fmt.Errorf("regen: llm generate: %w", err)
	}

	final, err := reskeleton(losing.CurrentHTML, raw)
	if err != nil {
		return fmt.Errorf("regen: reskeleton: %w", err)
	}

	if e.guard != nil {
		verdict := e.guard.Validate(final, htmlguardMarkers(losing.CurrentHTML))
		if !verdict.Approved {
			return fmt.Errorf("regen: guardrail rejected candidate: %s: %w", verdict.Reason, model.ErrGuardrailRejected)
		}
	}

	if _, err := e.store.ReplaceVariantHTML(ctx, key, loserSlot, final, time.Now()); err != nil {
		return fmt.Errorf("regen: replace html: %w", err)
	}

	unifiedDiff, diffErr := diffutil.Unified(fmt.Sprintf("%s-prior", loserSlot), fmt.Sprintf("%s-new", loserSlot), losing.CurrentHTML, final)
	if diffErr != nil {
		e.logger.Warn("regen: diff render failed", "error", diffErr)
		unifiedDiff = ""
	}

	e.metrics.RegenerationsTotal.WithLabelValues("success").Inc()
	e.recordOutcome(key, loserSlot, "success", "", unifiedDiff)
	return nil
}

// reskeleton re-grafts the original fragment's top-level tag and
// data-ai-* markers onto the model's output, per spec.md §4.8's
// requirement that the structural skeleton survive even when the LLM
// output does not preserve it.
func reskeleton(original, candidate string) (string, error) {
	originalNodes, err := htmlguard.Parse(original)
	if err != nil {
		return "", err
	}
	markers := htmlguard.Markers(originalNodes)
	topTag := htmlguard.TopLevelTag(originalNodes)

	candidateNodes, err := htmlguard.Parse(candidate)
	if err != nil {
		return "", err
	}
	if htmlguard.TopLevelTag(candidateNodes) != topTag && topTag != "" {
		candidateNodes, err = htmlguard.Parse(fmt.Sprintf("<%s>%s</%s>", topTag, candidate, topTag))
		if err != nil {
			return "", err
		}
	}
	htmlguard.RegraftMarkers(candidateNodes, markers)
	return htmlguard.Render(candidateNodes)
}

func htmlguardMarkers(original string) map[string]string {
	nodes, err := htmlguard.Parse(original)
	if err != nil {
		return nil
	}
	return htmlguard.Markers(nodes)
}

func buildPrompt(seedHTML, losingHTML, winningHTML string, identityState model.IdentityState, vector model.BehavioralVector) string {
	return fmt.Sprintf(
		"Rewrite the losing HTML fragment to better match a user in the %q identity state "+
			"(exploration=%.2f hesitation=%.2f engagement=%.2f decision_velocity=%.2f content_focus=%.2f). "+
			"Preserve the original tag structure.\n\noriginal seed:\n%s\n\ncurrent losing variant:\n%s\n\ncurrent winning variant:\n%s\n",
		identityState, vector.ExplorationScore, vector.HesitationScore, vector.EngagementDepth, vector.DecisionVelocity, vector.ContentFocusRatio,
		seedHTML, losingHTML, winningHTML,
	)
}

func (e *Engine) recordOutcome(key storage.VariantKey, loserSlot, outcome, detail, diff string) {
	e.sink.RecordRegeneration(AuditEntry{
		Key:       key,
		LoserSlot: loserSlot,
		Outcome:   outcome,
		Detail:    detail,
		Diff:      diff,
		At:        time.Now(),
	})
}
