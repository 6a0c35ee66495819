package ingest

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/storage"
)

func newTestIngestor(t *testing.T) (*Ingestor, storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.CreateBusiness(context.Background(), &model.Business{
		BusinessID: "biz1", APIKey: "key1", MonthlyEventLimit: 1000,
	}))

	metrics := observability.NewPipelineMetricsForTest()
	in := New(store, nil, metrics, 100, 1000, 40, slog.Default())
	t.Cleanup(in.Stop)
	return in, store
}

func TestIngestRejectsMalformedEvents(t *testing.T) {
	in, _ := newTestIngestor(t)
	res, err := in.Ingest(context.Background(), "biz1", []model.Event{
		{UserID: "u1", SessionID: "s1", EventName: "click"},
		{UserID: "", SessionID: "s1", EventName: "click"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Accepted)
	require.Equal(t, []int{1}, res.RejectedIdx)
}

func TestIngestEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.CreateBusiness(ctx, &model.Business{BusinessID: "biz1", APIKey: "key1", MonthlyEventLimit: 1}))

	in := New(store, nil, observability.NewPipelineMetricsForTest(), 100, 1000, 40, slog.Default())
	t.Cleanup(in.Stop)

	_, err = in.Ingest(ctx, "biz1", []model.Event{{UserID: "u1", SessionID: "s1", EventName: "click"}})
	require.NoError(t, err)

	_, err = in.Ingest(ctx, "biz1", []model.Event{{UserID: "u1", SessionID: "s1", EventName: "click"}})
	require.ErrorIs(t, err, model.ErrQuotaExceeded)
}

func TestIngestCoalescesHighFrequencyBurst(t *testing.T) {
	ctx := context.Background()
	in, store := newTestIngestor(t)

	events := make([]model.Event, 0, 20)
	for i := 0; i < 20; i++ {
		events = append(events, model.Event{UserID: "u1", SessionID: "s1", EventName: "mouse_hesitation"})
	}
	res, err := in.Ingest(ctx, "biz1", events)
	require.NoError(t, err)
	require.Equal(t, 0, res.Accepted)
	require.Equal(t, 20, res.CoalescedOut)

	require.Eventually(t, func() bool {
		recent, err := store.GetRecentEvents(ctx, "biz1", "u1", 10, time.Minute)
		return err == nil && len(recent) == 1
	}, 2*time.Second, 20*time.Millisecond)

	recent, err := store.GetRecentEvents(ctx, "biz1", "u1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, float64(20), recent[0].Properties["coalesced_count"])
}

func TestIngestThrottlesSessionExceedingRateLimit(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.NoError(t, store.CreateBusiness(ctx, &model.Business{BusinessID: "biz1", APIKey: "key1", MonthlyEventLimit: 1000}))

	in := New(store, nil, observability.NewPipelineMetricsForTest(), 100, 1, 1, slog.Default())
	t.Cleanup(in.Stop)

	events := make([]model.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, model.Event{UserID: "u1", SessionID: "s1", EventName: "mouse_hesitation"})
	}
	res, err := in.Ingest(ctx, "biz1", events)
	require.NoError(t, err)
	require.Equal(t, 1, res.CoalescedOut)
	require.Equal(t, 4, res.Dropped)
}

func TestIngestPassesThroughNormalEvents(t *testing.T) {
	ctx := context.Background()
	in, store := newTestIngestor(t)

	res, err := in.Ingest(ctx, "biz1", []model.Event{
		{UserID: "u1", SessionID: "s1", EventName: "click"},
		{UserID: "u1", SessionID: "s1", EventName: "component_viewed"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Accepted)

	recent, err := store.GetRecentEvents(ctx, "biz1", "u1", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, recent, 2)
}
