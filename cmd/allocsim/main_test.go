package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/capacity-allocator/internal/config"
	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const driverScenario = `
name: driver test
resources:
  - id: press
    online: [{start: 0, end: 100}]
storage_areas:
  - id: silo
    max_qty: 50
    on_hand: [{lot: seed, quantity: 20}]
  - id: dock
connectors:
  - {id: belt, from: silo, to: dock, limit: 1}
activities:
  - id: op-1
    duration: 20
    requirements: [{resource: press, percent: 60}]
  - id: op-2
    duration: 20
    requirements: [{resource: press, percent: 60}]
  - id: op-3
    earliest_start: 50
    duration: 10
    requirements: [{resource: press, percent: 10}]
    output: {area: dock, connector: belt, quantity: 1, transfer_ticks: 20}
  - id: op-4
    earliest_start: 50
    duration: 10
    requirements: [{resource: press, percent: 10}]
    output: {area: dock, connector: belt, quantity: 1, transfer_ticks: 20}
  - id: op-5
    duration: 10
    input: {area: silo, lot: seed, quantity: 30}
  - id: op-6
    duration: 10
    input: {area: silo, lot: seed, quantity: 15}
  - id: op-7
    earliest_start: 90
    duration: 5
    requirements: [{resource: press, percent: 10}]
    output: {area: silo, lot: L7, quantity: 40}
`

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestRunPlacesWithRetries(t *testing.T) {
	path := writeScenario(t, driverScenario)
	rt := config.Runtime{DebugValidation: true, RetryStep: 10}

	results, err := run(context.Background(), path, 200, rt, logging.Noop(), nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	byID := make(map[string]placementResult, len(results))
	for _, r := range results {
		byID[r.ActivityID] = r
	}

	want := map[string]struct {
		placed   bool
		start    int64
		attempts int
	}{
		"op-1": {placed: true, start: 0, attempts: 1},
		"op-2": {placed: true, start: 20, attempts: 3},
		"op-3": {placed: true, start: 50, attempts: 1},
		"op-4": {placed: true, start: 70, attempts: 2},
		"op-6": {placed: true, start: 0, attempts: 1},
		"op-7": {placed: true, start: 90, attempts: 1},
	}
	for id, w := range want {
		got, ok := byID[id]
		if !ok {
			t.Fatalf("%s missing from results", id)
		}
		if got.Placed != w.placed || int64(got.Start) != w.start || got.Attempts != w.attempts {
			t.Fatalf("%s = %+v, want placed=%v start=%d attempts=%d", id, got, w.placed, w.start, w.attempts)
		}
	}

	starved := byID["op-5"]
	if starved.Placed || starved.LastReason != reasonHorizon {
		t.Fatalf("op-5 = %+v, want unplaced at horizon", starved)
	}
}

const lateStockScenario = `
name: late stock
storage_areas:
  - id: silo
    max_qty: 200
    on_hand: [{lot: seed, quantity: 100, available: 50}]
activities:
  - id: op-1
    duration: 10
    input: {area: silo, lot: seed, quantity: 30}
`

func TestRunWaitsForStockToArrive(t *testing.T) {
	path := writeScenario(t, lateStockScenario)
	rt := config.Runtime{DebugValidation: true, RetryStep: 10}

	results, err := run(context.Background(), path, 200, rt, logging.Noop(), nil, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %+v, want one", results)
	}
	got := results[0]
	if !got.Placed || got.Start != 50 || got.Attempts != 6 {
		t.Fatalf("op-1 = %+v, want placed at 50 after 6 attempts", got)
	}
}

func TestRunReportsToTracerProvider(t *testing.T) {
	path := writeScenario(t, lateStockScenario)
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	if _, err := run(context.Background(), path, 200, config.Runtime{RetryStep: 10}, logging.Noop(), nil, tp); err != nil {
		t.Fatalf("run: %v", err)
	}
	names := make(map[string]int)
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	if names["engine.reset"] != 1 || names["engine.placement"] != 1 {
		t.Fatalf("recorded spans = %v, want one reset and one placement", names)
	}
}

func TestRunRejectsMissingScenario(t *testing.T) {
	_, err := run(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), 100, config.Runtime{}.ApplyDefaults(), logging.Noop(), nil, nil)
	if err == nil {
		t.Fatalf("expected an error for a missing scenario")
	}
}

func TestPrintResults(t *testing.T) {
	var buf bytes.Buffer
	printResults(&buf, []placementResult{
		{ActivityID: "op-1", Placed: true, Start: 0, End: 20, Attempts: 1},
		{ActivityID: "op-2", Attempts: 4, LastReason: reasonCapacity},
	})
	out := buf.String()
	for _, want := range []string{"ACTIVITY", "op-1", "op-2", reasonCapacity} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}
