// Package observer provides OTEL-based observability for the control plane.
//
// It instruments agent dispatches, embedding calls, and Telegram transport
// with traces and metrics. Exporters are configured via the standard OTEL
// env vars (OTEL_EXPORTER_OTLP_ENDPOINT, etc.); when the observer is
// disabled the daemon runs without any OTEL providers installed.
package observer

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "ashley/internal/observer"

// Instruments holds the OTEL instruments used across the daemon.
type Instruments struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// Counters
	Dispatches       metric.Int64Counter
	DispatchFailures metric.Int64Counter
	EmbedRequests    metric.Int64Counter
	TelegramSends    metric.Int64Counter
	RouteRequests    metric.Int64Counter

	// Histograms
	DispatchDuration metric.Float64Histogram
	EmbedDuration    metric.Float64Histogram
	RouteDuration    metric.Float64Histogram
}

// Init sets up OTEL trace and metric providers with OTLP HTTP exporters.
// Returns a shutdown function that must be called on daemon exit.
func Init(ctx context.Context) (*Instruments, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("ashley")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, err
	}

	traceExp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricExp, err := otlpmetrichttp.New(ctx)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	inst, err := newInstruments()
	if err != nil {
		_ = tp.Shutdown(ctx)
		_ = mp.Shutdown(ctx)
		return nil, nil, err
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(
			tp.Shutdown(ctx),
			mp.Shutdown(ctx),
		)
	}
	return inst, shutdown, nil
}

// Noop returns instruments backed by the global (by default no-op)
// providers, for use when the observer is disabled.
func Noop() *Instruments {
	inst, _ := newInstruments()
	return inst
}

func newInstruments() (*Instruments, error) {
	meter := otel.Meter(scopeName)

	dispatches, err := meter.Int64Counter("agent.dispatches",
		metric.WithDescription("Agent dispatch count"),
		metric.WithUnit("{dispatch}"))
	if err != nil {
		return nil, err
	}

	dispatchFailures, err := meter.Int64Counter("agent.dispatch.failures",
		metric.WithDescription("Agent dispatches that timed out or exited nonzero"),
		metric.WithUnit("{dispatch}"))
	if err != nil {
		return nil, err
	}

	embedRequests, err := meter.Int64Counter("embedding.requests",
		metric.WithDescription("Embedding request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	telegramSends, err := meter.Int64Counter("telegram.sends",
		metric.WithDescription("Outbound Telegram message count"),
		metric.WithUnit("{message}"))
	if err != nil {
		return nil, err
	}

	routeRequests, err := meter.Int64Counter("router.requests",
		metric.WithDescription("Routed request count"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	dispatchDuration, err := meter.Float64Histogram("agent.dispatch.duration",
		metric.WithDescription("Agent dispatch duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	embedDuration, err := meter.Float64Histogram("embedding.duration",
		metric.WithDescription("Embedding call duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	routeDuration, err := meter.Float64Histogram("router.duration",
		metric.WithDescription("Route handling duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}

	return &Instruments{
		Tracer:           otel.Tracer(scopeName),
		Meter:            meter,
		Dispatches:       dispatches,
		DispatchFailures: dispatchFailures,
		EmbedRequests:    embedRequests,
		TelegramSends:    telegramSends,
		RouteRequests:    routeRequests,
		DispatchDuration: dispatchDuration,
		EmbedDuration:    embedDuration,
		RouteDuration:    routeDuration,
	}, nil
}
