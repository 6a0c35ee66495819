package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/tanujdargan/html.ai/internal/model"
)

// BadgerStore implements Store on top of an embedded BadgerDB instance,
// grounded on services/trace/storage/badger's Open/OpenInMemory
// conventions in the teacher repo.
type BadgerStore struct {
	db  *badger.DB
	seq uint64 // event insertion-order tiebreak, per process
}

// Open opens (creating if needed) a BadgerDB at path. path == "" or
// ":memory:" opens an in-memory instance, matching the teacher's
// InMemoryConfig used by its test suite.
func Open(path string) (*BadgerStore, error) {
	var opts badger.Options
	if path == "" || path == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o750); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// withRetry applies spec.md §4.1's bounded exponential backoff (≤3
// attempts) to transient storage errors, surfacing
// model.ErrStorageUnavailable once retries are exhausted. Semantic
// errors (not-found, validation, quota, conflict) pass through
// immediately without being retried.
func withRetry(fn func() error) error {
	backoff := 10 * time.Millisecond
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = fn()
		if err == nil || !isTransient(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 4
	}
	return fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err)
}

func isTransient(err error) bool {
	switch {
	case errors.Is(err, model.ErrNotFound),
		errors.Is(err, model.ErrValidation),
		errors.Is(err, model.ErrQuotaExceeded),
		errors.Is(err, model.ErrConcurrencyConflict):
		return false
	default:
		return true
	}
}

func getJSON(txn *badger.Txn, key []byte, out interface{}) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, out)
	})
}

func putJSON(txn *badger.Txn, key []byte, val interface{}) error {
	data, err := json.Marshal(val)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}

// ---- Business ----

func (s *BadgerStore) CreateBusiness(ctx context.Context, biz *model.Business) error {
	return withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get(businessByAPIKeyKey(biz.APIKey)); err == nil {
				return fmt.Errorf("%w: api key already registered", model.ErrValidation)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(businessByAPIKeyKey(biz.APIKey), []byte(biz.BusinessID)); err != nil {
				return err
			}
			return putJSON(txn, businessByIDKey(biz.BusinessID), biz)
		})
	})
}

func (s *BadgerStore) GetBusinessByAPIKey(ctx context.Context, apiKey string) (*model.Business, error) {
	var biz model.Business
	err := withRetry(func() error {
		return s.db.View(func(txn *badger.Txn) error {
			item, err := txn.Get(businessByAPIKeyKey(apiKey))
			if errors.Is(err, badger.ErrKeyNotFound) {
				return model.ErrNotFound
			}
			if err != nil {
				return err
			}
			var businessID string
			if err := item.Value(func(val []byte) error {
				businessID = string(val)
				return nil
			}); err != nil {
				return err
			}
			return getJSON(txn, businessByIDKey(businessID), &biz)
		})
	})
	if err != nil {
		return nil, err
	}
	return &biz, nil
}

func (s *BadgerStore) GetBusiness(ctx context.Context, businessID string) (*model.Business, error) {
	var biz model.Business
	err := withRetry(func() error {
		return s.db.View(func(txn *badger.Txn) error {
			return getJSON(txn, businessByIDKey(businessID), &biz)
		})
	})
	if err != nil {
		return nil, err
	}
	return &biz, nil
}

func (s *BadgerStore) IncrementEventUsage(ctx context.Context, businessID string, count int64) error {
	return withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var biz model.Business
			if err := getJSON(txn, businessByIDKey(businessID), &biz); err != nil {
				return err
			}
			if biz.MonthlyEventLimit > 0 && biz.MonthlyEventsUsed+count > biz.MonthlyEventLimit {
				return model.ErrQuotaExceeded
			}
			biz.MonthlyEventsUsed += count
			return putJSON(txn, businessByIDKey(businessID), &biz)
		})
	})
}

func (s *BadgerStore) ListBusinessUsers(ctx context.Context, businessID string) ([]model.User, error) {
	var users []model.User
	err := withRetry(func() error {
		users = nil
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = userPrefix(businessID)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				var u model.User
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &u)
				}); err != nil {
					return err
				}
				users = append(users, u)
			}
			return nil
		})
	})
	return users, err
}

// ---- Users ----

func (s *BadgerStore) GetOrCreateUser(ctx context.Context, businessID, userID string) (*model.User, error) {
	var user model.User
	err := withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			key := userKey(businessID, userID)
			err := getJSON(txn, key, &user)
			if err == nil {
				return nil
			}
			if !errors.Is(err, model.ErrNotFound) {
				return err
			}
			user = model.User{BusinessID: businessID, UserID: userID}
			return putJSON(txn, key, &user)
		})
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *BadgerStore) SaveUser(ctx context.Context, u *model.User) error {
	return withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return putJSON(txn, userKey(u.BusinessID, u.UserID), u)
		})
	})
}

// ---- Events ----

func (s *BadgerStore) InsertEvents(ctx context.Context, events []model.Event) ([]int, error) {
	if len(events) == 0 {
		return nil, nil
	}
	err := withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			for _, ev := range events {
				seq := atomic.AddUint64(&s.seq, 1)
				key := eventKey(ev.BusinessID, ev.UserID, ev.Timestamp.UnixNano(), seq)
				evCopy := ev
				evCopy.Sequence = seq
				if err := putJSON(txn, key, &evCopy); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return nil, nil
}

func (s *BadgerStore) GetRecentEvents(ctx context.Context, businessID, userID string, limit int, window time.Duration) ([]model.Event, error) {
	var events []model.Event
	cutoff := time.Now().Add(-window)
	err := withRetry(func() error {
		events = nil
		return s.db.View(func(txn *badger.Txn) error {
			prefix := eventPrefix(businessID, userID)
			opts := badger.DefaultIteratorOptions
			opts.Reverse = true
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()

			seekKey := append(append([]byte{}, prefix...), 0xFF)
			for it.Seek(seekKey); it.ValidForPrefix(prefix); it.Next() {
				if len(events) >= limit {
					break
				}
				var ev model.Event
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &ev)
				}); err != nil {
					return err
				}
				if ev.Timestamp.Before(cutoff) {
					break
				}
				events = append(events, ev)
			}
			return nil
		})
	})
	return events, err
}

// ---- Variants ----

func getVariantTxn(txn *badger.Txn, key VariantKey) (*model.VariantRecord, error) {
	var rec model.VariantRecord
	if err := getJSON(txn, variantKey(key), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func putVariantTxn(txn *badger.Txn, rec *model.VariantRecord) error {
	return putJSON(txn, variantKey(VariantKey{rec.BusinessID, rec.UserID, rec.ComponentID}), rec)
}

func (s *BadgerStore) GetVariant(ctx context.Context, key VariantKey) (*model.VariantRecord, error) {
	var rec *model.VariantRecord
	err := withRetry(func() error {
		return s.db.View(func(txn *badger.Txn) error {
			r, err := getVariantTxn(txn, key)
			if err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	return rec, err
}

// scanVariants collects every variant record under prefix.
func (s *BadgerStore) scanVariants(prefix []byte) ([]model.VariantRecord, error) {
	var recs []model.VariantRecord
	err := withRetry(func() error {
		recs = nil
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = prefix
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				var rec model.VariantRecord
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &rec)
				}); err != nil {
					return err
				}
				recs = append(recs, rec)
			}
			return nil
		})
	})
	return recs, err
}

func (s *BadgerStore) ListUserVariants(ctx context.Context, businessID, userID string) ([]model.VariantRecord, error) {
	return s.scanVariants(variantUserPrefix(businessID, userID))
}

func (s *BadgerStore) ListBusinessVariants(ctx context.Context, businessID string) ([]model.VariantRecord, error) {
	return s.scanVariants(variantBusinessPrefix(businessID))
}

// GetOrInitVariant is idempotent: both slots are seeded from seedHTML
// with score/trials at zero (spec.md §3 invariant ii) and History
// left empty; a repeat call returns the existing record unchanged.
func (s *BadgerStore) GetOrInitVariant(ctx context.Context, key VariantKey, seedHTML string) (*model.VariantRecord, error) {
	var rec *model.VariantRecord
	err := withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			existing, err := getVariantTxn(txn, key)
			if err == nil {
				rec = existing
				return nil
			}
			if !errors.Is(err, model.ErrNotFound) {
				return err
			}
			fresh := &model.VariantRecord{
				BusinessID:  key.BusinessID,
				UserID:      key.UserID,
				ComponentID: key.ComponentID,
				A:           model.VariantSlot{CurrentHTML: seedHTML, State: model.SlotSeeded},
				B:           model.VariantSlot{CurrentHTML: seedHTML, State: model.SlotSeeded},
			}
			if err := putVariantTxn(txn, fresh); err != nil {
				return err
			}
			rec = fresh
			return nil
		})
	})
	return rec, err
}

func (s *BadgerStore) IncrementTrial(ctx context.Context, key VariantKey, slot string) (*model.VariantRecord, error) {
	var rec *model.VariantRecord
	err := withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			r, err := getVariantTxn(txn, key)
			if err != nil {
				return err
			}
			sl := r.Slot(slot)
			if sl == nil {
				return fmt.Errorf("%w: unknown slot %q", model.ErrValidation, slot)
			}
			sl.NumberOfTrials++
			if sl.State == model.SlotSeeded {
				sl.State = model.SlotActive
			}
			if err := putVariantTxn(txn, r); err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	return rec, err
}

// errCASMismatch signals that the stored slot no longer matches the
// caller's expected (priorScore, priorTrials); it never escapes this
// file.
var errCASMismatch = errors.New("variant slot cas mismatch")

func (s *BadgerStore) attemptUpdateVariantScore(key VariantKey, slot string, priorScore float64, priorTrials int64, newScore float64, newTrials int64) (*model.VariantRecord, error) {
	var rec *model.VariantRecord
	err := s.db.Update(func(txn *badger.Txn) error {
		r, err := getVariantTxn(txn, key)
		if err != nil {
			return err
		}
		sl := r.Slot(slot)
		if sl == nil {
			return fmt.Errorf("%w: unknown slot %q", model.ErrValidation, slot)
		}
		if sl.CurrentScore != priorScore || sl.NumberOfTrials != priorTrials {
			rec = r
			return errCASMismatch
		}
		sl.CurrentScore = newScore
		sl.NumberOfTrials = newTrials
		if err := putVariantTxn(txn, r); err != nil {
			return err
		}
		rec = r
		return nil
	})
	if errors.Is(err, errCASMismatch) {
		return rec, errCASMismatch
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// UpdateVariantScore implements the CAS-with-one-retry rule of
// spec.md §4.6/§5: a mismatch (or a transient badger-level conflict)
// gets exactly one retry against the same prior values before the
// authoritative record is surfaced as model.ErrConcurrencyConflict.
func (s *BadgerStore) UpdateVariantScore(ctx context.Context, key VariantKey, slot string, priorScore float64, priorTrials int64, newScore float64, newTrials int64) (*model.VariantRecord, error) {
	try := func() (*model.VariantRecord, error) {
		return s.attemptUpdateVariantScore(key, slot, priorScore, priorTrials, newScore, newTrials)
	}

	rec, err := try()
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, errCASMismatch) && !isTransient(err) {
		return nil, err
	}

	rec2, err2 := try()
	if err2 == nil {
		return rec2, nil
	}
	if !errors.Is(err2, errCASMismatch) {
		if isTransient(err2) {
			return nil, fmt.Errorf("%w: %v", model.ErrStorageUnavailable, err2)
		}
		return nil, err2
	}
	return rec2, model.ErrConcurrencyConflict
}

func (s *BadgerStore) ReplaceVariantHTML(ctx context.Context, key VariantKey, slot string, newHTML string, archivedAt time.Time) (*model.VariantRecord, error) {
	var rec *model.VariantRecord
	err := withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			r, err := getVariantTxn(txn, key)
			if err != nil {
				return err
			}
			sl := r.Slot(slot)
			if sl == nil {
				return fmt.Errorf("%w: unknown slot %q", model.ErrValidation, slot)
			}
			sl.History = append(sl.History, model.HistoryEntry{
				HTML:      sl.CurrentHTML,
				Score:     sl.CurrentScore,
				Timestamp: archivedAt,
			})
			sl.CurrentHTML = newHTML
			sl.CurrentScore = 0
			sl.NumberOfTrials = 0
			sl.State = model.SlotActive
			if err := putVariantTxn(txn, r); err != nil {
				return err
			}
			rec = r
			return nil
		})
	})
	return rec, err
}

// ---- Advisory regeneration lock ----

func (s *BadgerStore) AcquireRegenLock(ctx context.Context, key VariantKey, ttl time.Duration) (bool, error) {
	acquired := false
	err := withRetry(func() error {
		acquired = false
		return s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(regenLockKey(key))
			if err == nil {
				return nil // already locked
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			entry := badger.NewEntry(regenLockKey(key), []byte(key.String())).WithTTL(ttl)
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			acquired = true
			return nil
		})
	})
	return acquired, err
}

func (s *BadgerStore) ReleaseRegenLock(ctx context.Context, key VariantKey) error {
	return withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			err := txn.Delete(regenLockKey(key))
			if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			return nil
		})
	})
}

// ---- Global users ----

func (s *BadgerStore) LinkGlobalUser(ctx context.Context, globalUID, businessID, userID string) (*model.GlobalUser, error) {
	var gu *model.GlobalUser
	err := withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			var existing model.GlobalUser
			err := getJSON(txn, globalUserKey(globalUID), &existing)
			if err != nil && !errors.Is(err, model.ErrNotFound) {
				return err
			}
			if errors.Is(err, model.ErrNotFound) {
				existing = model.GlobalUser{GlobalUID: globalUID}
			}
			ref := model.BusinessUserRef{BusinessID: businessID, UserID: userID}
			found := false
			for _, r := range existing.BusinessUIDs {
				if r == ref {
					found = true
					break
				}
			}
			if !found {
				existing.BusinessUIDs = append(existing.BusinessUIDs, ref)
			}
			if err := putJSON(txn, globalUserKey(globalUID), &existing); err != nil {
				return err
			}
			gu = &existing
			return nil
		})
	})
	return gu, err
}

func (s *BadgerStore) GetGlobalUser(ctx context.Context, globalUID string) (*model.GlobalUser, error) {
	var gu model.GlobalUser
	err := withRetry(func() error {
		return s.db.View(func(txn *badger.Txn) error {
			return getJSON(txn, globalUserKey(globalUID), &gu)
		})
	})
	if err != nil {
		return nil, err
	}
	return &gu, nil
}

// ---- Data-sharing agreements ----

func (s *BadgerStore) GetDataSharingAgreements(ctx context.Context, businessID string) ([]model.DataSharingAgreement, error) {
	var agreements []model.DataSharingAgreement
	err := withRetry(func() error {
		agreements = nil
		return s.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = []byte(prefixAgreement)
			it := txn.NewIterator(opts)
			defer it.Close()
			for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
				var a model.DataSharingAgreement
				if err := it.Item().Value(func(val []byte) error {
					return json.Unmarshal(val, &a)
				}); err != nil {
					return err
				}
				if a.FromBusinessID == businessID || a.ToBusinessID == businessID {
					agreements = append(agreements, a)
				}
			}
			return nil
		})
	})
	return agreements, err
}

func (s *BadgerStore) PutDataSharingAgreement(ctx context.Context, agreement model.DataSharingAgreement) error {
	return withRetry(func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			return putJSON(txn, agreementKey(agreement.FromBusinessID, agreement.ToBusinessID), &agreement)
		})
	})
}
