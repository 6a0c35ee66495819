package regen

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanujdargan/html.ai/internal/guardrail"
	"github.com/tanujdargan/html.ai/internal/llm"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/storage"
)

type recordingSink struct {
	entries []AuditEntry
}

func (s *recordingSink) RecordRegeneration(e AuditEntry) {
	s.entries = append(s.entries, e)
}

type fixedClient struct {
	html string
	err  error
}

func (f fixedClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	return f.html, f.err
}

type slowClient struct {
	delay time.Duration
}

func (s slowClient) Generate(ctx context.Context, prompt string, params llm.GenerationParams) (string, error) {
	select {
	case <-time.After(s.delay):
		return "<div>too slow</div>", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestTriggerRegenerationInstallsNewHTMLOnSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := storage.VariantKey{BusinessID: "biz1", UserID: "u1", ComponentID: "hero"}
	_, err := store.GetOrInitVariant(ctx, key, `<div data-ai-component="hero">Welcome</div>`)
	require.NoError(t, err)

	sink := &recordingSink{}
	client := fixedClient{html: "<span>Brand new copy</span>"}
	engine := New(store, client, observability.NewPipelineMetricsForTest(), slog.Default(), 2*time.Second, 5*time.Second, WithAuditSink(sink))

	engine.TriggerRegeneration(ctx, key, "B", model.StateExploratory, model.NeutralBehavioralVector())

	rec, err := store.GetVariant(ctx, key)
	require.NoError(t, err)
	require.Equal(t, int64(0), rec.B.NumberOfTrials)
	require.Equal(t, 0.0, rec.B.CurrentScore)
	require.Contains(t, rec.B.CurrentHTML, "Brand new copy")
	require.Contains(t, rec.B.CurrentHTML, `data-ai-component="hero"`)
	require.Len(t, rec.B.History, 1)

	require.Len(t, sink.entries, 1)
	require.Equal(t, "success", sink.entries[0].Outcome)
}

func TestTriggerRegenerationLeavesSlotUntouchedOnTimeout(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := storage.VariantKey{BusinessID: "biz1", UserID: "u1", ComponentID: "hero"}
	_, err := store.GetOrInitVariant(ctx, key, `<div data-ai-component="hero">Welcome</div>`)
	require.NoError(t, err)

	sink := &recordingSink{}
	client := slowClient{delay: 200 * time.Millisecond}
	engine := New(store, client, observability.NewPipelineMetricsForTest(), slog.Default(), 20*time.Millisecond, 5*time.Second, WithAuditSink(sink))

	engine.TriggerRegeneration(ctx, key, "B", model.StateExploratory, model.NeutralBehavioralVector())

	rec, err := store.GetVariant(ctx, key)
	require.NoError(t, err)
	require.Equal(t, `<div data-ai-component="hero">Welcome</div>`, rec.B.CurrentHTML)
	require.Empty(t, rec.B.History)

	require.Len(t, sink.entries, 1)
	require.Equal(t, "timeout", sink.entries[0].Outcome)
}

func TestTriggerRegenerationCoalescesWhenLockHeld(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := storage.VariantKey{BusinessID: "biz1", UserID: "u1", ComponentID: "hero"}
	_, err := store.GetOrInitVariant(ctx, key, `<div data-ai-component="hero">Welcome</div>`)
	require.NoError(t, err)

	held, err := store.AcquireRegenLock(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.True(t, held)

	sink := &recordingSink{}
	client := fixedClient{html: "<div>New</div>"}
	engine := New(store, client, observability.NewPipelineMetricsForTest(), slog.Default(), time.Second, 5*time.Second, WithAuditSink(sink))

	engine.TriggerRegeneration(ctx, key, "B", model.StateExploratory, model.NeutralBehavioralVector())

	require.Len(t, sink.entries, 1)
	require.Equal(t, "coalesced", sink.entries[0].Outcome)
}

func TestTriggerRegenerationRejectedByGuardrailLeavesSlotUntouched(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	key := storage.VariantKey{BusinessID: "biz1", UserID: "u1", ComponentID: "hero"}
	_, err := store.GetOrInitVariant(ctx, key, `<div data-ai-component="hero">Welcome</div>`)
	require.NoError(t, err)

	sink := &recordingSink{}
	client := fixedClient{html: "<div>This offer is risk-free!</div>"}
	guard, err := guardrail.New("", 65536, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = guard.Close() })

	engine := New(store, client, observability.NewPipelineMetricsForTest(), slog.Default(), time.Second, 5*time.Second, WithGuardrail(guard), WithAuditSink(sink))
	engine.TriggerRegeneration(ctx, key, "B", model.StateExploratory, model.NeutralBehavioralVector())

	rec, err := store.GetVariant(ctx, key)
	require.NoError(t, err)
	require.Equal(t, `<div data-ai-component="hero">Welcome</div>`, rec.B.CurrentHTML)

	require.Len(t, sink.entries, 1)
	require.Equal(t, "failure", sink.entries[0].Outcome)
}
