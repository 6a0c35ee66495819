// Package telemetry wires up OpenTelemetry tracing the way
// services/orchestrator/main.go's initTracer does, and provides a
// slog helper that stamps trace/span ids onto log lines, the pattern
// used by services/trace/agent/mcts/crs/persistence.go's
// loggerWithTrace.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func resourceServiceName(name string) []attribute.KeyValue {
	return []attribute.KeyValue{semconv.ServiceNameKey.String(name)}
}

// InitTracer configures the global OpenTelemetry tracer provider to
// export spans over OTLP/gRPC. The returned function flushes and
// shuts the exporter down; callers should defer it.
//
// If OTEL_EXPORTER_OTLP_ENDPOINT is unset, tracing still initializes
// against the default endpoint below rather than failing startup —
// a missing collector should degrade spans to no-ops downstream, not
// block the service from serving traffic.
func InitTracer(serviceName string) (func(context.Context), error) {
	ctx := context.Background()

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		resourceServiceName(serviceName)...,
	))
	if err != nil {
		return nil, err
	}

	bsp := sdktrace.NewBatchSpanProcessor(exporter)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := exporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shut down OTLP exporter", "error", err)
		}
	}, nil
}

// LoggerWithTrace returns logger augmented with the trace_id/span_id of
// the span active on ctx, or logger unchanged if there is none.
func LoggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}
