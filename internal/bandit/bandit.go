// Package bandit implements the Variant Store & Bandit (C6), spec.md
// §4.6's "hardest subcomponent": an ε-greedy selection policy over the
// two slots of a variant record, incremental-mean score updates, and
// the regeneration-trigger rule that hands a losing slot off to the
// Regeneration Engine once its score gap against the winner crosses a
// threshold.
package bandit

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// SelectionReason labels why a slot was chosen, for metrics and the
// audit log.
type SelectionReason string

const (
	ReasonExplore SelectionReason = "explore"
	ReasonExploit SelectionReason = "exploit"
)

// Selection is the outcome of one Select call.
type Selection struct {
	Slot   string
	HTML   string
	Reason SelectionReason
	Record *model.VariantRecord
}

// RegenTrigger is the Regeneration Engine's entry point, injected to
// avoid an import cycle between bandit and regen (spec.md §9's
// "cyclic reference risk ... broken by making regeneration a
// fire-and-forget job").
type RegenTrigger interface {
	TriggerRegeneration(ctx context.Context, key storage.VariantKey, loserSlot string, identityState model.IdentityState, vector model.BehavioralVector)
}

// Bandit implements the Decision Agent against the Persistence Layer.
type Bandit struct {
	store         storage.Store
	metrics       *observability.PipelineMetrics
	logger        *slog.Logger
	epsilon       float64
	regenGap      float64
	minTrialsEach int64
	rngMu         sync.Mutex
	rng           *rand.Rand
}

// New builds a Bandit. epsilon is the exploration probability,
// regenGap the score-gap threshold, minTrialsEach the minimum trials
// both slots must reach before a regeneration can trigger (spec.md
// §4.6 defaults: 0.2, 1.0, 5).
func New(store storage.Store, metrics *observability.PipelineMetrics, logger *slog.Logger, epsilon, regenGap float64, minTrialsEach int64) *Bandit {
	return &Bandit{
		store:         store,
		metrics:       metrics,
		logger:        logger,
		epsilon:       epsilon,
		regenGap:      regenGap,
		minTrialsEach: minTrialsEach,
		rng:           rand.New(rand.NewSource(1)),
	}
}

// Select implements spec.md §4.6's selection policy: with probability
// ε pick the slot with fewer trials (explore); otherwise pick the
// slot with the higher score, ties broken by fewer trials then by A
// (exploit). The chosen slot's trial count is incremented before
// returning.
func (b *Bandit) Select(ctx context.Context, key storage.VariantKey, seedHTML string) (*Selection, error) {
	rec, err := b.store.GetOrInitVariant(ctx, key, seedHTML)
	if err != nil {
		return nil, err
	}

	slot, reason := b.pick(rec)
	updated, err := b.store.IncrementTrial(ctx, key, slot)
	if err != nil {
		return nil, err
	}

	b.metrics.SelectionsTotal.WithLabelValues(slot, string(reason)).Inc()
	return &Selection{
		Slot:   slot,
		HTML:   updated.Slot(slot).CurrentHTML,
		Reason: reason,
		Record: updated,
	}, nil
}

// float64 draws from the shared source under a mutex: *rand.Rand is
// not safe for concurrent use, and Select runs in per-request
// goroutines (spec.md §5).
func (b *Bandit) float64() float64 {
	b.rngMu.Lock()
	defer b.rngMu.Unlock()
	return b.rng.Float64()
}

func (b *Bandit) pick(rec *model.VariantRecord) (string, SelectionReason) {
	if b.float64() < b.epsilon {
		if rec.A.NumberOfTrials <= rec.B.NumberOfTrials {
			return "A", ReasonExplore
		}
		return "B", ReasonExplore
	}

	switch {
	case rec.A.CurrentScore > rec.B.CurrentScore:
		return "A", ReasonExploit
	case rec.B.CurrentScore > rec.A.CurrentScore:
		return "B", ReasonExploit
	case rec.A.NumberOfTrials <= rec.B.NumberOfTrials:
		return "A", ReasonExploit
	default:
		return "B", ReasonExploit
	}
}

// ApplyReward implements spec.md §4.6's score update: an incremental
// mean using the slot's current (already-selection-incremented) trial
// count as the denominator, then evaluates the regeneration trigger.
// The single CAS retry happens inside the store's UpdateVariantScore;
// if that retry also conflicts, its error is returned unchanged.
func (b *Bandit) ApplyReward(ctx context.Context, key storage.VariantKey, slot string, reward float64, identityState model.IdentityState, vector model.BehavioralVector, trigger RegenTrigger) (*model.VariantRecord, error) {
	rec, err := b.store.GetVariant(ctx, key)
	if err != nil {
		return nil, err
	}
	sl := rec.Slot(slot)
	if sl == nil {
		return nil, fmt.Errorf("bandit: unknown slot %q: %w", slot, model.ErrValidation)
	}

	trials := sl.NumberOfTrials
	if trials < 1 {
		trials = 1
	}
	newScore := sl.CurrentScore + (reward-sl.CurrentScore)/float64(trials)

	updated, err := b.store.UpdateVariantScore(ctx, key, slot, sl.CurrentScore, sl.NumberOfTrials, newScore, sl.NumberOfTrials)
	if err != nil {
		return nil, err
	}
	b.metrics.RewardsTotal.WithLabelValues(slot).Inc()

	if trigger != nil {
		b.maybeTriggerRegeneration(ctx, key, updated, identityState, vector, trigger)
	}
	return updated, nil
}

// maybeTriggerRegeneration implements spec.md §4.6's regeneration
// trigger rule. No lock is taken here: coalescing of concurrent
// triggers is left to the RegenTrigger implementation.
func (b *Bandit) maybeTriggerRegeneration(ctx context.Context, key storage.VariantKey, rec *model.VariantRecord, identityState model.IdentityState, vector model.BehavioralVector, trigger RegenTrigger) {
	if rec.A.NumberOfTrials < b.minTrialsEach || rec.B.NumberOfTrials < b.minTrialsEach {
		return
	}

	winner, loser := "A", "B"
	gap := rec.A.CurrentScore - rec.B.CurrentScore
	if gap < 0 {
		winner, loser = "B", "A"
		gap = -gap
	}
	if gap < b.regenGap {
		return
	}

	trigger.TriggerRegeneration(ctx, key, loser, identityState, vector)
	_ = winner
}
