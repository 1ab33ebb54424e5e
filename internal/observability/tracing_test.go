package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/signalsfoundry/capacity-allocator/internal/logging"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("ALLOC_TRACING_ENABLED", "")
	t.Setenv("ALLOC_TRACING_EXPORTER", "")
	t.Setenv("ALLOC_TRACING_SERVICE_NAME", "")
	t.Setenv("ALLOC_TRACING_SAMPLE_RATIO", "7")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Fatalf("tracing should default to disabled")
	}
	if cfg.Exporter != "stdout" || cfg.ServiceName != "capacity-allocator" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.SampleRatio != 1.0 {
		t.Fatalf("out-of-range ratio should fall back to 1.0, got %v", cfg.SampleRatio)
	}
}

func TestTracingConfigFromEnvOverrides(t *testing.T) {
	t.Setenv("ALLOC_TRACING_ENABLED", "TRUE")
	t.Setenv("ALLOC_TRACING_EXPORTER", "OTLP")
	t.Setenv("ALLOC_TRACING_SAMPLE_RATIO", "0.25")
	t.Setenv("ALLOC_OTLP_ENDPOINT", "collector:4317")

	cfg := TracingConfigFromEnv()
	if !cfg.Enabled || cfg.Exporter != "otlp" || cfg.SampleRatio != 0.25 || cfg.Endpoint != "collector:4317" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestInitTracingDisabledReturnsNoopProvider(t *testing.T) {
	tr, err := InitTracing(context.Background(), TracingConfig{}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if tr.Provider == nil {
		t.Fatalf("disabled tracing should still return a provider")
	}
	_, span := tr.Provider.Tracer("test").Start(context.Background(), "ignored")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop provider produced a valid span")
	}
	span.End()
	tr.Shutdown(context.Background(), nil)
}

func TestInitTracingStampsRunOnResource(t *testing.T) {
	var buf bytes.Buffer
	tr, err := InitTracing(context.Background(), TracingConfig{
		Enabled:     true,
		ServiceName: "allocsim",
		Exporter:    "stdout",
		SampleRatio: 1,
		Output:      &buf,
		Run:         RunInfo{Scenario: "line", RunID: "run-42", RetryStep: 10, Horizon: 500},
	}, logging.Noop())
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := tr.Provider.Tracer("test").Start(context.Background(), "engine.reset")
	span.End()
	tr.Shutdown(context.Background(), logging.Noop())

	out := buf.String()
	for _, want := range []string{"engine.reset", string(AttrScenario), "line", string(AttrRunID), "run-42", string(AttrRetryStep), string(AttrHorizon)} {
		if !strings.Contains(out, want) {
			t.Fatalf("exported span missing %q:\n%s", want, out)
		}
	}
}

func TestInitTracingZeroRatioDropsSpans(t *testing.T) {
	var buf bytes.Buffer
	tr, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "stdout", Output: &buf}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	_, span := tr.Provider.Tracer("test").Start(context.Background(), "engine.placement")
	span.End()
	tr.Shutdown(context.Background(), nil)
	if strings.Contains(buf.String(), "engine.placement") {
		t.Fatalf("unsampled span was exported:\n%s", buf.String())
	}
}

func TestRunInfoOmitsZeroFields(t *testing.T) {
	kv := RunInfo{Scenario: "line"}.attributes()
	if len(kv) != 1 || kv[0].Key != AttrScenario {
		t.Fatalf("attributes = %v, want only the scenario", kv)
	}
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "carrier-pigeon", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}
