// Package tracing wires OpenTelemetry for researchd. Spans cover a task, each
// pipeline stage and each intercepted capability call; outbound HTTP requests
// carry the active trace as a traceparent header.
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultServiceName = "researchd"

var (
	instrumentation atomic.Value // string
	propagator      = propagation.TraceContext{}
)

func init() { instrumentation.Store(defaultServiceName) }

// Config is the tracing section of researchd.yaml.
type Config struct {
	Enabled      bool    `mapstructure:"enabled"`
	ServiceName  string  `mapstructure:"service_name"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

func noopShutdown(context.Context) error { return nil }

// Initialize installs an OTLP/gRPC exporter as the global tracer provider.
// Disabled tracing leaves the global no-op provider in place, so StartSpan
// is always safe to call.
func Initialize(cfg Config, version string, logger *zap.Logger) (ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = defaultServiceName
	}
	instrumentation.Store(cfg.ServiceName)
	otel.SetTextMapPropagator(propagator)

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return noopShutdown, nil
	}

	ctx := context.Background()
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("otlp exporter %s: %w", cfg.OTLPEndpoint, err)
	}

	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return noopShutdown, fmt.Errorf("trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sampler(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("Tracing initialized",
		zap.String("endpoint", cfg.OTLPEndpoint),
		zap.Float64("sample_ratio", cfg.SampleRatio))
	return tp.Shutdown, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.AlwaysSample()
	}
	return sdktrace.TraceIDRatioBased(ratio)
}

func tracer() trace.Tracer {
	return otel.Tracer(instrumentation.Load().(string))
}

// StartSpan starts a span from the global provider. Callers end it.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordError sets the span status to error. A nil err is ignored.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// InjectTraceparent copies the span context of ctx onto req's headers.
func InjectTraceparent(ctx context.Context, req *http.Request) {
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))
}
