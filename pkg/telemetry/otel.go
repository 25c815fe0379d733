// Package telemetry sets up OpenTelemetry tracing with OTLP gRPC export and
// provides the span helpers the inference driver uses for its phases.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	lferrors "github.com/logflow/tracemine/pkg/errors"
)

// ServiceName is the default service and instrumentation name.
const ServiceName = "tracemine"

// Config configures the OTLP gRPC exporter.
type Config struct {
	// Enabled turns export on. A disabled provider hands out no-op tracers.
	Enabled bool

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string

	// Insecure disables TLS for the gRPC connection (use for local dev)
	Insecure bool

	// Headers are additional headers to send with each request (e.g., auth tokens)
	Headers map[string]string

	BatchTimeout  time.Duration
	ExportTimeout time.Duration

	// SamplingRatio is the fraction of traces to sample (0.0 to 1.0)
	SamplingRatio float64
}

// DefaultConfig returns defaults for local development. Export is off.
func DefaultConfig() Config {
	return Config{
		Endpoint:       "localhost:4317",
		ServiceName:    ServiceName,
		ServiceVersion: "dev",
		Environment:    "development",
		Insecure:       true,
		BatchTimeout:   5 * time.Second,
		ExportTimeout:  30 * time.Second,
		SamplingRatio:  1.0,
	}
}

// Provider owns the tracer provider lifecycle.
type Provider struct {
	mu       sync.Mutex
	cfg      Config
	tp       trace.TracerProvider
	shutdown func(context.Context) error
}

// NewProvider returns a provider that exports nothing.
func NewProvider() *Provider {
	return &Provider{tp: noop.NewTracerProvider()}
}

// NewProviderFrom wraps an existing tracer provider, e.g. an SDK provider
// with an in-memory recorder in tests.
func NewProviderFrom(tp trace.TracerProvider) *Provider {
	return &Provider{tp: tp}
}

// Init creates the OTLP exporter and installs the provider globally. With
// export disabled it returns a no-op provider.
func Init(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return NewProvider(), nil
	}

	exporterOpts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithTimeout(cfg.ExportTimeout),
	}
	if cfg.Insecure {
		exporterOpts = append(exporterOpts,
			otlptracegrpc.WithInsecure(),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	}
	if len(cfg.Headers) > 0 {
		exporterOpts = append(exporterOpts, otlptracegrpc.WithHeaders(cfg.Headers))
	}

	exporter, err := otlptracegrpc.New(ctx, exporterOpts...)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to create OTLP exporter").
			WithContext("endpoint", cfg.Endpoint)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, lferrors.Wrap(err, lferrors.CodeInvalidConfig, "failed to create resource")
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SamplingRatio >= 1.0:
		sampler = sdktrace.AlwaysSample()
	case cfg.SamplingRatio <= 0:
		sampler = sdktrace.NeverSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SamplingRatio)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(cfg.BatchTimeout),
			sdktrace.WithExportTimeout(cfg.ExportTimeout)),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{cfg: cfg, tp: tp, shutdown: tp.Shutdown}, nil
}

// Tracer returns the tracer used for run phases.
func (p *Provider) Tracer() trace.Tracer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tp.Tracer(ServiceName)
}

// Shutdown flushes pending spans. It is safe to call more than once.
func (p *Provider) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	shutdown := p.shutdown
	p.shutdown = nil
	p.mu.Unlock()

	if shutdown == nil {
		return nil
	}
	return shutdown(ctx)
}
