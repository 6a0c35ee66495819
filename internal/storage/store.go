// Package storage implements the Persistence Layer (C1): a
// document-oriented CRUD contract over businesses, users, events,
// variant records, global users, and data-sharing agreements, backed
// by an embedded BadgerDB instance the way
// services/trace/storage/badger grounds embedded storage for the
// teacher's CRS journal, generalized here to the five collections in
// spec.md §6.
package storage

import (
	"context"
	"time"

	"github.com/tanujdargan/html.ai/internal/model"
)

// Store is the persistence contract every component depends on.
// Implementations own retry/backoff for transient failures internally
// (spec.md §4.1: bounded exponential backoff, ≤3 attempts) and surface
// model.ErrStorageUnavailable only once retries are exhausted.
type Store interface {
	Close() error

	// CreateBusiness inserts a new tenant. Returns model.ErrValidation
	// if a business with the same APIKey already exists.
	CreateBusiness(ctx context.Context, biz *model.Business) error
	// GetBusinessByAPIKey looks a tenant up by its API key. Returns
	// model.ErrNotFound if no business owns that key.
	GetBusinessByAPIKey(ctx context.Context, apiKey string) (*model.Business, error)
	GetBusiness(ctx context.Context, businessID string) (*model.Business, error)
	// IncrementEventUsage atomically adds count to a business's
	// monthly counter, rejecting with model.ErrQuotaExceeded (and
	// leaving the counter untouched) if the limit would be exceeded.
	IncrementEventUsage(ctx context.Context, businessID string, count int64) error
	// ListBusinessUsers returns every user record for a tenant
	// (backs GET /api/users/all).
	ListBusinessUsers(ctx context.Context, businessID string) ([]model.User, error)

	// GetOrCreateUser returns the user record, creating an empty one
	// (idempotently) if absent.
	GetOrCreateUser(ctx context.Context, businessID, userID string) (*model.User, error)
	SaveUser(ctx context.Context, u *model.User) error

	// InsertEvents appends events atomically per batch, applying to
	// storage in the order given. It returns the indices of any
	// events rejected at the storage layer (e.g. duplicate key
	// collisions); a nil slice means every event was accepted.
	InsertEvents(ctx context.Context, events []model.Event) ([]int, error)
	// GetRecentEvents returns up to limit events for (businessID,
	// userID) within the last window, newest-first.
	GetRecentEvents(ctx context.Context, businessID, userID string, limit int, window time.Duration) ([]model.Event, error)

	// GetOrInitVariant is idempotent: a second call with the same key
	// returns an identical record and does not grow History.
	GetOrInitVariant(ctx context.Context, key VariantKey, seedHTML string) (*model.VariantRecord, error)
	// IncrementTrial bumps NumberOfTrials for slot and returns the
	// updated record, used by the selection policy (spec.md §4.6 step 3).
	IncrementTrial(ctx context.Context, key VariantKey, slot string) (*model.VariantRecord, error)
	// UpdateVariantScore performs an optimistic compare-and-set: it
	// only applies newScore/newTrials if the slot's current
	// (CurrentScore, NumberOfTrials) still equals
	// (priorScore, priorTrials). One internal retry is attempted on
	// conflict; a second conflict returns model.ErrConcurrencyConflict
	// along with the authoritative current record.
	UpdateVariantScore(ctx context.Context, key VariantKey, slot string, priorScore float64, priorTrials int64, newScore float64, newTrials int64) (*model.VariantRecord, error)
	// ReplaceVariantHTML archives the slot's current html+score into
	// History and installs newHTML with trials/score reset to zero.
	ReplaceVariantHTML(ctx context.Context, key VariantKey, slot string, newHTML string, archivedAt time.Time) (*model.VariantRecord, error)
	GetVariant(ctx context.Context, key VariantKey) (*model.VariantRecord, error)
	// ListUserVariants enumerates every variant record for one user
	// across all components, backing GET /api/user/{user_id}/journey's
	// variants snapshot.
	ListUserVariants(ctx context.Context, businessID, userID string) ([]model.VariantRecord, error)
	// ListBusinessVariants enumerates every variant record for a
	// tenant, backing the dashboard's per-component score aggregation.
	ListBusinessVariants(ctx context.Context, businessID string) ([]model.VariantRecord, error)

	// AcquireRegenLock sets a TTL-bounded advisory lock. It returns
	// false (no error) if the lock is already held.
	AcquireRegenLock(ctx context.Context, key VariantKey, ttl time.Duration) (bool, error)
	ReleaseRegenLock(ctx context.Context, key VariantKey) error

	// LinkGlobalUser records that (businessID, userID) belongs to
	// globalUID, creating the GlobalUser row if it doesn't exist yet.
	// Membership only grows.
	LinkGlobalUser(ctx context.Context, globalUID, businessID, userID string) (*model.GlobalUser, error)
	GetGlobalUser(ctx context.Context, globalUID string) (*model.GlobalUser, error)

	GetDataSharingAgreements(ctx context.Context, businessID string) ([]model.DataSharingAgreement, error)
	PutDataSharingAgreement(ctx context.Context, agreement model.DataSharingAgreement) error
}
