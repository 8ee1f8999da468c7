// Package telemetry wires OpenTelemetry for the API and admin processes:
// Prometheus metrics with bucket layouts sized for connection syncs, and
// optional OTLP trace export.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	RoleAPI   = "api"
	RoleAdmin = "admin"
)

// Resource attribute keys describing the sync process
const (
	RoleKey           = attribute.Key("nero.role")
	SyncWorkersKey    = attribute.Key("nero.sync.workers")
	AggregatorHostKey = attribute.Key("nero.aggregator.host")
)

// Bucket boundaries in seconds
var (
	// A sync waits for the item refresh and pages through 90 days of transactions.
	syncDurationBuckets = []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600}
	// Scheduler jobs wrap one sync plus its sync log write, bounded by the job timeout.
	jobDurationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200}
	dbDurationBuckets  = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}
)

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Role           string
	SyncWorkers    int
	AggregatorHost string
	// OTLPEndpoint is a gRPC host:port. Empty disables trace export.
	OTLPEndpoint string
	// SampleRatio is the share of root traces kept, in [0, 1].
	SampleRatio float64
	// MetricsPort serves /metrics. Empty keeps metrics in process only.
	MetricsPort string
}

// Init sets up OpenTelemetry for one process.
// Returns a shutdown function that must be called on application exit.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	var shutdownFuncs []func(context.Context) error

	shutdown = func(ctx context.Context) error {
		var errs []error
		for i := len(shutdownFuncs) - 1; i >= 0; i-- {
			errs = append(errs, shutdownFuncs[i](ctx))
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("telemetry shutdown errors: %w", err)
		}
		return nil
	}

	res, err := newResource(cfg)
	if err != nil {
		return shutdown, fmt.Errorf("failed to create resource: %w", err)
	}

	// Prometheus metrics exporter (registers with default prometheus registry)
	promExporter, err := prometheus.New()
	if err != nil {
		return shutdown, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	meterProvider := newMeterProvider(res, promExporter)
	otel.SetMeterProvider(meterProvider)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)

	tracerOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRatio)),
	}
	if cfg.OTLPEndpoint != "" {
		traceExporter, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return shutdown, fmt.Errorf("failed to create trace exporter: %w", err)
		}
		tracerOpts = append(tracerOpts, sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
		))
	}
	tracerProvider := sdktrace.NewTracerProvider(tracerOpts...)
	otel.SetTracerProvider(tracerProvider)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)

	// Incoming trace context reaches the sync spans started by HTTP handlers.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.MetricsPort != "" {
		srv := newMetricsServer(cfg.MetricsPort)
		go func() {
			log.Printf("Metrics server listening on :%s/metrics", cfg.MetricsPort)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		shutdownFuncs = append(shutdownFuncs, srv.Shutdown)
	}

	log.Printf("OpenTelemetry initialized for %s (role=%s, metrics=%q, traces=%q)",
		cfg.ServiceName, cfg.Role, cfg.MetricsPort, cfg.OTLPEndpoint)

	return shutdown, nil
}

func newResource(cfg Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.DeploymentEnvironment(cfg.Environment),
		RoleKey.String(cfg.Role),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}
	if cfg.SyncWorkers > 0 {
		attrs = append(attrs, SyncWorkersKey.Int(cfg.SyncWorkers))
	}
	if cfg.AggregatorHost != "" {
		attrs = append(attrs, AggregatorHostKey.String(cfg.AggregatorHost))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func newMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	}
	for _, v := range metricViews() {
		opts = append(opts, sdkmetric.WithView(v))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// metricViews replaces the default histogram buckets, which top out at 10s,
// with ranges that fit each instrument.
func metricViews() []sdkmetric.View {
	histogram := func(name string, bounds []float64) sdkmetric.View {
		return sdkmetric.NewView(
			sdkmetric.Instrument{Name: name, Kind: sdkmetric.InstrumentKindHistogram},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{Boundaries: bounds}},
		)
	}
	return []sdkmetric.View{
		histogram("openfinance.sync.duration", syncDurationBuckets),
		histogram("scheduler.job.duration", jobDurationBuckets),
		histogram("db.client.operation.duration", dbDurationBuckets),
		// Per-transaction ids must never become label values.
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "openfinance.transactions.ingested"},
			sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter("result")},
		),
	}
}

func newSampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func newMetricsServer(port string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
