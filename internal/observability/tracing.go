package observability

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	exporterStdout = "stdout"
	exporterOTLP   = "otlp"

	defaultOTLPEndpoint = "localhost:4317"
	shutdownTimeout     = 5 * time.Second
)

// Resource attribute keys describing a simulation run.
const (
	AttrScenario  = attribute.Key("allocator.scenario")
	AttrRunID     = attribute.Key("allocator.run_id")
	AttrRetryStep = attribute.Key("allocator.retry_step")
	AttrHorizon   = attribute.Key("allocator.horizon")
)

// RunInfo identifies the simulation run a tracer provider reports for.
// Zero fields are left off the resource.
type RunInfo struct {
	Scenario  string
	RunID     string
	RetryStep int64
	Horizon   int64
}

func (r RunInfo) attributes() []attribute.KeyValue {
	var kv []attribute.KeyValue
	if r.Scenario != "" {
		kv = append(kv, AttrScenario.String(r.Scenario))
	}
	if r.RunID != "" {
		kv = append(kv, AttrRunID.String(r.RunID))
	}
	if r.RetryStep > 0 {
		kv = append(kv, AttrRetryStep.Int64(r.RetryStep))
	}
	if r.Horizon > 0 {
		kv = append(kv, AttrHorizon.Int64(r.Horizon))
	}
	return kv
}

// TracingConfig governs how allocator tracing is initialised.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // otlp collector address
	SampleRatio float64

	// Output receives stdout exporter spans. Stderr when nil, keeping the
	// placement table on stdout clean.
	Output io.Writer
	Run    RunInfo
}

// TracingConfigFromEnv reads ALLOC_TRACING_* and ALLOC_OTLP_ENDPOINT.
func TracingConfigFromEnv() TracingConfig {
	cfg := TracingConfig{
		Enabled:     strings.EqualFold(os.Getenv("ALLOC_TRACING_ENABLED"), "true"),
		ServiceName: envOr("ALLOC_TRACING_SERVICE_NAME", "capacity-allocator"),
		Exporter:    strings.ToLower(envOr("ALLOC_TRACING_EXPORTER", exporterStdout)),
		Endpoint:    os.Getenv("ALLOC_OTLP_ENDPOINT"),
		SampleRatio: 1,
	}
	if v, err := strconv.ParseFloat(os.Getenv("ALLOC_TRACING_SAMPLE_RATIO"), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// Tracing is the tracer provider a run reports to. Hand Provider to
// engine.WithTracerProvider and call Shutdown once the run is over.
type Tracing struct {
	Provider trace.TracerProvider
	shutdown func(context.Context) error
}

// Shutdown flushes buffered spans, giving up after a bounded wait. Failures
// are logged, not returned.
func (t *Tracing) Shutdown(ctx context.Context, log logging.Logger) {
	if t == nil || t.shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := t.shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.String("error", err.Error()))
	}
}

// InitTracing builds the tracer provider for one simulation run and installs
// it globally. The run's scenario, ID and retry settings are stamped on the
// provider's resource so every engine span carries them.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (*Tracing, error) {
	if log == nil {
		log = logging.Noop()
	}
	if !cfg.Enabled {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Debug(ctx, "tracing disabled")
		return &Tracing{Provider: tp}, nil
	}

	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.namespace", "allocator"),
	}, cfg.Run.attributes()...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(samplerFor(cfg.SampleRatio)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("scenario", cfg.Run.Scenario),
		logging.String("run_id", cfg.Run.RunID),
		logging.String("sample_ratio", strconv.FormatFloat(cfg.SampleRatio, 'f', -1, 64)),
	)
	return &Tracing{Provider: tp, shutdown: tp.Shutdown}, nil
}

// samplerFor keeps the root decision for every span of a placement so a
// placement trace is never partially sampled.
func samplerFor(ratio float64) sdktrace.Sampler {
	switch {
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case exporterStdout, "":
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		return stdouttrace.New(
			stdouttrace.WithWriter(out),
			stdouttrace.WithoutTimestamps(),
		)
	case exporterOTLP, "otlpgrpc":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = defaultOTLPEndpoint
		}
		return otlptrace.New(ctx, otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		))
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}
