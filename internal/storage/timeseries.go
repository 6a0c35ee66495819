package storage

import (
	"context"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/tanujdargan/html.ai/internal/model"
)

// EventSink is an optional secondary write target for ingested events,
// used when the behavioral event stream benefits from time-series
// partitioning (spec.md §4.3 notes event collection "may be
// time-series-partitioned"). The Persistence Layer remains the
// source of truth; a sink failure is logged, never surfaced to the
// caller.
type EventSink interface {
	Write(ctx context.Context, events []model.Event)
	Close()
}

// InfluxEventSink writes accepted events to InfluxDB as a secondary
// analytics-friendly store, grounded on the client construction and
// blocking-write pattern the teacher's trading handlers use against
// influxdb2.NewClient/WriteAPIBlocking.
type InfluxEventSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	logger   *slog.Logger
}

// NewInfluxEventSink connects to an InfluxDB instance. It does not
// verify connectivity eagerly; write failures are logged and dropped.
func NewInfluxEventSink(serverURL, authToken, org, bucket string, logger *slog.Logger) *InfluxEventSink {
	client := influxdb2.NewClient(serverURL, authToken)
	return &InfluxEventSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		logger:   logger,
	}
}

// Write fires a blocking write per event; in an ingestion hot path
// callers should invoke this from a background goroutine rather than
// the request path.
func (s *InfluxEventSink) Write(ctx context.Context, events []model.Event) {
	for _, ev := range events {
		fields := map[string]interface{}{"sequence": int64(ev.Sequence)}
		for k, v := range ev.Properties {
			fields["prop_"+k] = v
		}
		point := influxdb2.NewPoint(
			"behavioral_event",
			map[string]string{
				"business_id":  ev.BusinessID,
				"user_id":      ev.UserID,
				"event_name":   ev.EventName,
				"component_id": ev.ComponentID,
			},
			fields,
			ev.Timestamp,
		)
		if err := s.writeAPI.WritePoint(ctx, point); err != nil {
			s.logger.Warn("influx event write failed", "error", err, "event_name", ev.EventName)
		}
	}
}

func (s *InfluxEventSink) Close() {
	s.client.Close()
}

// NoopEventSink discards every event; the default when no InfluxDB
// endpoint is configured.
type NoopEventSink struct{}

func (NoopEventSink) Write(ctx context.Context, events []model.Event) {}
func (NoopEventSink) Close()                                          {}
