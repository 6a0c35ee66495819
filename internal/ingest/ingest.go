// Package ingest implements the Event Ingestor (C3): validates
// incoming events, defends against high-frequency event floods with
// server-side coalescing, enforces the tenant's monthly quota, and
// persists accepted events in timestamp order.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanujdargan/html.ai/internal/model"
	"github.com/tanujdargan/html.ai/internal/observability"
	"github.com/tanujdargan/html.ai/internal/ratelimit"
	"github.com/tanujdargan/html.ai/internal/storage"
)

// highFrequencyIntervals lists the event names spec.md §4.3 singles
// out for server-side throttling, and the minimum interval within
// which consecutive occurrences from the same (user_id, session_id)
// collapse into one stored event.
var highFrequencyIntervals = map[string]time.Duration{
	"mouse_hesitation":        500 * time.Millisecond,
	"mouse_idle_start":        1 * time.Second,
	"mouse_idle_end":          1 * time.Second,
	"scroll_direction_change": 500 * time.Millisecond,
	"scroll_fast":             500 * time.Millisecond,
	"scroll_pause":            2 * time.Second,
	"hover":                   1 * time.Second,
	"hover_end":               1 * time.Second,
	"dead_click":              5 * time.Second,
}

func isHighFrequency(eventName string) bool {
	_, ok := highFrequencyIntervals[eventName]
	return ok
}

// Result reports what happened to a batch of submitted events.
type Result struct {
	Accepted     int
	Dropped      int
	CoalescedOut int
	RejectedIdx  []int
}

type coalesceKey struct {
	businessID string
	userID     string
	sessionID  string
	eventName  string
}

// coalesceWindow tracks one in-flight burst of a high-frequency event.
// The first occurrence opens the window immediately; later ones only
// bump count until the flusher goroutine closes it out.
type coalesceWindow struct {
	event    model.Event
	count    int
	lastSeen time.Time
	flushed  bool
}

// Ingestor accepts and persists events, per spec.md §4.3.
type Ingestor struct {
	store   storage.Store
	sink    storage.EventSink
	metrics *observability.PipelineMetrics
	logger  *slog.Logger

	watermark int64
	inFlight  int64

	// sessionLimiter throttles high-frequency events per
	// (business_id, user_id, session_id), per spec.md §5's
	// "per-(user_id, session_id) token bucket inside the Event
	// Ingestor for high-frequency events" requirement. This sits in
	// front of the coalescing window: a session that floods faster
	// than its bucket allows gets events dropped before they ever
	// open or extend a window.
	sessionLimiter *ratelimit.KeyedLimiter

	coalesceMu sync.Mutex
	coalesce   map[coalesceKey]*coalesceWindow

	flushInterval time.Duration
	done          chan struct{}
	stopOnce      sync.Once
}

// New builds an Ingestor and starts its background coalescing
// flusher. watermark bounds the number of concurrent storage writes
// before high-frequency events start being dropped outright (spec.md
// §4.3 back-pressure rule); sessionRPS/sessionBurst bound how fast a
// single (user, session) may emit high-frequency events. Callers must
// call Stop at shutdown.
func New(store storage.Store, sink storage.EventSink, metrics *observability.PipelineMetrics, watermark int, sessionRPS float64, sessionBurst int, logger *slog.Logger) *Ingestor {
	if sink == nil {
		sink = storage.NoopEventSink{}
	}
	in := &Ingestor{
		store:          store,
		sink:           sink,
		metrics:        metrics,
		logger:         logger,
		watermark:      int64(watermark),
		sessionLimiter: ratelimit.New(sessionRPS, sessionBurst),
		coalesce:       make(map[coalesceKey]*coalesceWindow),
		flushInterval:  250 * time.Millisecond,
		done:           make(chan struct{}),
	}
	go in.runFlusher()
	return in
}

// Stop halts the background flusher. Any windows still open are left
// unflushed, matching the "best effort, not exactly-once" posture
// spec.md's Non-goals carve out for event semantics.
func (in *Ingestor) Stop() {
	in.stopOnce.Do(func() { close(in.done) })
}

func (in *Ingestor) runFlusher() {
	ticker := time.NewTicker(in.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-in.done:
			return
		case <-ticker.C:
			in.flushIdleWindows()
		}
	}
}

func (in *Ingestor) flushIdleWindows() {
	now := time.Now()
	var toFlush []model.Event

	in.coalesceMu.Lock()
	for key, w := range in.coalesce {
		interval := highFrequencyIntervals[key.eventName]
		if w.flushed || now.Sub(w.lastSeen) < interval {
			continue
		}
		ev := w.event
		if ev.Properties == nil {
			ev.Properties = map[string]interface{}{}
		}
		ev.Properties["coalesced_count"] = w.count
		toFlush = append(toFlush, ev)
		w.flushed = true
		delete(in.coalesce, key)
	}
	in.coalesceMu.Unlock()

	if len(toFlush) == 0 {
		return
	}
	if err := in.persist(context.Background(), toFlush[0].BusinessID, toFlush); err != nil && in.logger != nil {
		in.logger.Warn("failed to flush coalesced events", "error", err, "count", len(toFlush))
	}
}

// Ingest validates, throttles, and persists events for one business.
// It never returns model.ErrValidation for the batch as a whole;
// per-item validation failures are reported via Result.RejectedIdx.
func (in *Ingestor) Ingest(ctx context.Context, businessID string, events []model.Event) (Result, error) {
	var res Result
	if len(events) == 0 {
		return res, nil
	}

	now := time.Now()
	immediate := make([]model.Event, 0, len(events))
	for idx, ev := range events {
		if ev.UserID == "" || ev.SessionID == "" || ev.EventName == "" {
			res.RejectedIdx = append(res.RejectedIdx, idx)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		ev.BusinessID = businessID

		if isHighFrequency(ev.EventName) {
			if atomic.LoadInt64(&in.inFlight) >= in.watermark {
				res.Dropped++
				in.metrics.EventsIngestedTotal.WithLabelValues("dropped").Inc()
				continue
			}
			sessionKey := businessID + "\x00" + ev.UserID + "\x00" + ev.SessionID
			if !in.sessionLimiter.Allow(sessionKey) {
				res.Dropped++
				in.metrics.EventsIngestedTotal.WithLabelValues("throttled").Inc()
				continue
			}
			in.openOrExtendWindow(ev, now)
			res.CoalescedOut++
			continue
		}
		immediate = append(immediate, ev)
	}

	if len(immediate) == 0 {
		return res, nil
	}

	if err := in.persist(ctx, businessID, immediate); err != nil {
		if err == model.ErrQuotaExceeded {
			in.metrics.EventsIngestedTotal.WithLabelValues("quota_exceeded").Inc()
			return res, fmt.Errorf("%w: monthly event limit reached", model.ErrQuotaExceeded)
		}
		return res, err
	}
	res.Accepted = len(immediate)
	return res, nil
}

// persist enforces quota and writes events atomically, then fans the
// batch out to the optional time-series sink.
func (in *Ingestor) persist(ctx context.Context, businessID string, events []model.Event) error {
	if err := in.store.IncrementEventUsage(ctx, businessID, int64(len(events))); err != nil {
		return err
	}

	atomic.AddInt64(&in.inFlight, 1)
	defer atomic.AddInt64(&in.inFlight, -1)

	rejected, err := in.store.InsertEvents(ctx, events)
	if err != nil {
		return err
	}
	accepted := len(events) - len(rejected)
	in.metrics.EventsIngestedTotal.WithLabelValues("accepted").Add(float64(accepted))

	go in.sink.Write(context.Background(), events)
	return nil
}

// openOrExtendWindow folds ev into its coalescing window, opening a
// fresh one if none is active. The window is only written to storage
// once the background flusher observes it idle for its interval
// (spec.md §4.3: "collapse consecutive occurrences ... into a single
// stored event").
func (in *Ingestor) openOrExtendWindow(ev model.Event, now time.Time) {
	key := coalesceKey{ev.BusinessID, ev.UserID, ev.SessionID, ev.EventName}

	in.coalesceMu.Lock()
	defer in.coalesceMu.Unlock()

	w, ok := in.coalesce[key]
	if !ok || w.flushed {
		in.coalesce[key] = &coalesceWindow{event: ev, count: 1, lastSeen: now}
		return
	}
	w.count++
	w.lastSeen = now
}
