package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tanujdargan/html.ai/internal/model"
)

func newTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	store, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestCreateAndGetBusiness(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	biz := &model.Business{BusinessID: "biz1", APIKey: "key1", MonthlyEventLimit: 100}
	require.NoError(t, s.CreateBusiness(ctx, biz))

	got, err := s.GetBusinessByAPIKey(ctx, "key1")
	require.NoError(t, err)
	require.Equal(t, "biz1", got.BusinessID)

	_, err = s.GetBusinessByAPIKey(ctx, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)

	require.Error(t, s.CreateBusiness(ctx, biz))
}

func TestIncrementEventUsageEnforcesQuota(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateBusiness(ctx, &model.Business{BusinessID: "biz1", APIKey: "k", MonthlyEventLimit: 10}))

	require.NoError(t, s.IncrementEventUsage(ctx, "biz1", 5))
	err := s.IncrementEventUsage(ctx, "biz1", 6)
	require.ErrorIs(t, err, model.ErrQuotaExceeded)

	biz, err := s.GetBusiness(ctx, "biz1")
	require.NoError(t, err)
	require.Equal(t, int64(5), biz.MonthlyEventsUsed)
}

func TestGetOrCreateUserIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	u1, err := s.GetOrCreateUser(ctx, "biz1", "user1")
	require.NoError(t, err)
	u1.LastHTML = "<div>x</div>"
	require.NoError(t, s.SaveUser(ctx, u1))

	u2, err := s.GetOrCreateUser(ctx, "biz1", "user1")
	require.NoError(t, err)
	require.Equal(t, "<div>x</div>", u2.LastHTML)
}

func TestInsertAndGetRecentEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Now().Add(-time.Minute)
	events := make([]model.Event, 0, 5)
	for i := 0; i < 5; i++ {
		events = append(events, model.Event{
			BusinessID: "biz1", UserID: "user1", SessionID: "s1",
			EventName: "click", Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	rejected, err := s.InsertEvents(ctx, events)
	require.NoError(t, err)
	require.Nil(t, rejected)

	recent, err := s.GetRecentEvents(ctx, "biz1", "user1", 3, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	require.True(t, recent[0].Timestamp.After(recent[1].Timestamp))
	require.True(t, recent[1].Timestamp.After(recent[2].Timestamp))
}

func TestGetOrInitVariantIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}

	rec1, err := s.GetOrInitVariant(ctx, key, "<div>seed</div>")
	require.NoError(t, err)
	require.Equal(t, model.SlotSeeded, rec1.A.State)

	rec1.A.CurrentScore = 0.7
	_, err = s.UpdateVariantScore(ctx, key, "A", 0, 0, 0.7, 1)
	require.NoError(t, err)

	rec2, err := s.GetOrInitVariant(ctx, key, "<div>seed</div>")
	require.NoError(t, err)
	require.Equal(t, 0.7, rec2.A.CurrentScore)
	require.Empty(t, rec2.A.History)
}

func TestListUserVariantsScopesToOneUser(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetOrInitVariant(ctx, VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}, "<div/>")
	require.NoError(t, err)
	_, err = s.GetOrInitVariant(ctx, VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "footer"}, "<div/>")
	require.NoError(t, err)
	_, err = s.GetOrInitVariant(ctx, VariantKey{BusinessID: "biz1", UserID: "user2", ComponentID: "hero"}, "<div/>")
	require.NoError(t, err)

	recs, err := s.ListUserVariants(ctx, "biz1", "user1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.Equal(t, "user1", r.UserID)
	}
}

func TestListBusinessVariantsScopesToOneTenant(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetOrInitVariant(ctx, VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}, "<div/>")
	require.NoError(t, err)
	_, err = s.GetOrInitVariant(ctx, VariantKey{BusinessID: "biz1", UserID: "user2", ComponentID: "hero"}, "<div/>")
	require.NoError(t, err)
	_, err = s.GetOrInitVariant(ctx, VariantKey{BusinessID: "biz2", UserID: "user1", ComponentID: "hero"}, "<div/>")
	require.NoError(t, err)

	recs, err := s.ListBusinessVariants(ctx, "biz1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	for _, r := range recs {
		require.Equal(t, "biz1", r.BusinessID)
	}
}

func TestUpdateVariantScoreCASConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}
	_, err := s.GetOrInitVariant(ctx, key, "<div>seed</div>")
	require.NoError(t, err)

	_, err = s.UpdateVariantScore(ctx, key, "A", 0, 0, 0.5, 1)
	require.NoError(t, err)

	_, err = s.UpdateVariantScore(ctx, key, "A", 0, 0, 0.9, 1)
	require.ErrorIs(t, err, model.ErrConcurrencyConflict)
}

func TestIncrementTrialTransitionsState(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}
	_, err := s.GetOrInitVariant(ctx, key, "<div>seed</div>")
	require.NoError(t, err)

	rec, err := s.IncrementTrial(ctx, key, "A")
	require.NoError(t, err)
	require.Equal(t, int64(1), rec.A.NumberOfTrials)
	require.Equal(t, model.SlotActive, rec.A.State)

	_, err = s.IncrementTrial(ctx, key, "Z")
	require.ErrorIs(t, err, model.ErrValidation)
}

func TestReplaceVariantHTMLArchivesHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}
	_, err := s.GetOrInitVariant(ctx, key, "<div>seed</div>")
	require.NoError(t, err)
	_, err = s.UpdateVariantScore(ctx, key, "B", 0, 0, 0.3, 4)
	require.NoError(t, err)

	rec, err := s.ReplaceVariantHTML(ctx, key, "B", "<div>new</div>", time.Now())
	require.NoError(t, err)
	require.Equal(t, "<div>new</div>", rec.B.CurrentHTML)
	require.Equal(t, float64(0), rec.B.CurrentScore)
	require.Equal(t, int64(0), rec.B.NumberOfTrials)
	require.Len(t, rec.B.History, 1)
	require.Equal(t, 0.3, rec.B.History[0].Score)
}

func TestRegenLockExcludesConcurrentHolders(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}

	ok, err := s.AcquireRegenLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.AcquireRegenLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.ReleaseRegenLock(ctx, key))

	ok, err = s.AcquireRegenLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestLinkGlobalUserGrowsMembership(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	gu, err := s.LinkGlobalUser(ctx, "guid1", "biz1", "user1")
	require.NoError(t, err)
	require.Len(t, gu.BusinessUIDs, 1)

	gu, err = s.LinkGlobalUser(ctx, "guid1", "biz2", "user2")
	require.NoError(t, err)
	require.Len(t, gu.BusinessUIDs, 2)

	gu, err = s.LinkGlobalUser(ctx, "guid1", "biz1", "user1")
	require.NoError(t, err)
	require.Len(t, gu.BusinessUIDs, 2)
}

func TestDataSharingAgreementsFilterByDirection(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.PutDataSharingAgreement(ctx, model.DataSharingAgreement{
		FromBusinessID: "biz1", ToBusinessID: "biz2",
		SharingLevel: model.SharingAggregate, Status: model.AgreementActive,
	}))
	require.NoError(t, s.PutDataSharingAgreement(ctx, model.DataSharingAgreement{
		FromBusinessID: "biz3", ToBusinessID: "biz1",
		SharingLevel: model.SharingFull, Status: model.AgreementPending,
	}))

	agreements, err := s.GetDataSharingAgreements(ctx, "biz1")
	require.NoError(t, err)
	require.Len(t, agreements, 2)
}

func TestVariantUnknownSlotIsValidationError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	key := VariantKey{BusinessID: "biz1", UserID: "user1", ComponentID: "hero"}
	_, err := s.GetOrInitVariant(ctx, key, "<div>seed</div>")
	require.NoError(t, err)

	_, err = s.ReplaceVariantHTML(ctx, key, "C", "x", time.Now())
	require.True(t, errors.Is(err, model.ErrValidation))
}
