package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/signalsfoundry/capacity-allocator/internal/observability"
	"github.com/signalsfoundry/capacity-allocator/internal/storage"
	"github.com/signalsfoundry/capacity-allocator/kb"
	"github.com/signalsfoundry/capacity-allocator/model"
)

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestKB(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	k := kb.NewKnowledgeBase()
	for _, id := range []string{"press", "oven"} {
		ivs, err := model.BuildCalendar(id, []model.Window{{Start: 100, End: 200}})
		if err != nil {
			t.Fatalf("BuildCalendar(%s): %v", id, err)
		}
		if err := k.AddResource(&model.ResourceDefinition{ID: id, Intervals: ivs}); err != nil {
			t.Fatalf("AddResource(%s): %v", id, err)
		}
	}
	if err := k.AddStorageArea(&model.StorageAreaDefinition{
		ID:          "silo",
		MaxQty:      pct(100),
		DisposalQty: pct(10),
		OnHand:      []model.OnHandLot{{Lot: "seed", Quantity: pct(5)}},
	}); err != nil {
		t.Fatalf("AddStorageArea: %v", err)
	}
	if err := k.AddStorageArea(&model.StorageAreaDefinition{ID: "dock"}); err != nil {
		t.Fatalf("AddStorageArea: %v", err)
	}
	if err := k.AddConnector(&model.ConnectorDefinition{ID: "belt", FromArea: "silo", ToArea: "dock", Limit: 1}); err != nil {
		t.Fatalf("AddConnector: %v", err)
	}
	return k
}

type fixture struct {
	eng     *Engine
	kb      *kb.KnowledgeBase
	metrics *observability.AllocatorCollector
	spans   *tracetest.SpanRecorder
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	collector, err := observability.NewAllocatorCollector(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewAllocatorCollector: %v", err)
	}
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	eng := New(
		WithMetricsRecorder(collector),
		WithTracerProvider(tp),
		WithDebugValidation(true),
	)
	k := newTestKB(t)
	if err := eng.ResetSimulationStateVariables(context.Background(), k); err != nil {
		t.Fatalf("ResetSimulationStateVariables: %v", err)
	}
	t.Cleanup(eng.Close)
	return fixture{eng: eng, kb: k, metrics: collector, spans: spans}
}

func requirement(resource string, percent int64) model.Requirement {
	return model.Requirement{ID: resource + "-req", ResourceID: resource, AttentionPercent: pct(percent)}
}

func TestCallsBeforeResetFail(t *testing.T) {
	eng := New()
	act := model.Activity{ID: "op-1"}
	if _, err := eng.BeginPlacement(context.Background(), act); !errors.Is(err, ErrNotReset) {
		t.Fatalf("BeginPlacement before reset: err = %v, want ErrNotReset", err)
	}
	if _, err := eng.CalculateRemainingStorageCapacity("silo", 0); !errors.Is(err, ErrNotReset) {
		t.Fatalf("storage before reset: err = %v, want ErrNotReset", err)
	}
	if _, _, err := eng.VerifyAllocationRange("belt", model.Window{Start: 0, End: 1}); !errors.Is(err, ErrNotReset) {
		t.Fatalf("flow before reset: err = %v, want ErrNotReset", err)
	}
}

func TestResetBuildsSteadyState(t *testing.T) {
	f := newFixture(t)
	tl := f.eng.Timeline("press")
	if tl == nil || tl.Len() != 3 {
		t.Fatalf("press timeline not built as three intervals")
	}
	if err := tl.Validate(); err != nil {
		t.Fatalf("Validate after reset: %v", err)
	}
	if got := testutil.ToFloat64(f.metrics.AttentionStates.WithLabelValues("press")); got != 3 {
		t.Fatalf("attention states gauge = %v, want 3", got)
	}
	if f.eng.RunID() == "" {
		t.Fatalf("reset did not assign a run ID")
	}
	if !hasSpan(f.spans, "engine.reset") {
		t.Fatalf("engine.reset span not recorded")
	}
}

func TestPlacementAcrossResourcesConsumes(t *testing.T) {
	f := newFixture(t)
	act := model.Activity{ID: "op-1", JobID: "job-1"}

	p, err := f.eng.BeginPlacement(context.Background(), act)
	if err != nil {
		t.Fatalf("BeginPlacement: %v", err)
	}
	for _, res := range []string{"press", "oven"} {
		ok, err := p.Allocate(requirement(res, 50), 120, 180)
		if err != nil || !ok {
			t.Fatalf("Allocate(%s) = %v, %v", res, ok, err)
		}
	}
	if err := p.Consume(); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if f.eng.CurrentPlacement() != nil {
		t.Fatalf("placement still open after Consume")
	}
	for _, res := range []string{"press", "oven"} {
		tl := f.eng.Timeline(res)
		if tl.Len() != 5 {
			t.Fatalf("%s timeline has %d states, want 5", res, tl.Len())
		}
		if got := tl.AvailableAt(150); !got.Equal(pct(50)) {
			t.Fatalf("%s available at 150 = %s, want 50", res, got)
		}
	}

	if got := testutil.ToFloat64(f.metrics.Placements.WithLabelValues(OutcomeConsumed)); got != 1 {
		t.Fatalf("consumed placements = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.Allocations.WithLabelValues("press", "ok")); got != 1 {
		t.Fatalf("press ok allocations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.AttentionStates.WithLabelValues("oven")); got != 5 {
		t.Fatalf("oven attention states = %v, want 5", got)
	}
	if !hasSpan(f.spans, "engine.placement") {
		t.Fatalf("engine.placement span not recorded")
	}

	ok, err := f.eng.Allocate(context.Background(), requirement("press", 60), model.Activity{ID: "op-2"}, 130, 150)
	if err != nil || ok {
		t.Fatalf("Allocate over consumed range = %v, %v; want false", ok, err)
	}
	if err := f.eng.CancelAllocations(); err != nil {
		t.Fatalf("CancelAllocations: %v", err)
	}
}

func TestPlacementCancelRestoresAllResources(t *testing.T) {
	f := newFixture(t)
	act := model.Activity{ID: "op-1"}
	ctx := context.Background()

	if ok, err := f.eng.Allocate(ctx, requirement("press", 40), act, 110, 190); err != nil || !ok {
		t.Fatalf("Allocate press = %v, %v", ok, err)
	}
	if ok, err := f.eng.Allocate(ctx, requirement("oven", 100), act, 150, 160); err != nil || !ok {
		t.Fatalf("Allocate oven = %v, %v", ok, err)
	}
	if ok, err := f.eng.Allocate(ctx, requirement("press", 70), act, 120, 130); err != nil || ok {
		t.Fatalf("cumulative press allocation = %v, %v; want false", ok, err)
	}
	if err := f.eng.CancelAllocations(); err != nil {
		t.Fatalf("CancelAllocations: %v", err)
	}
	for _, res := range []string{"press", "oven"} {
		tl := f.eng.Timeline(res)
		if tl.Len() != 3 {
			t.Fatalf("%s has %d states after cancel, want 3", res, tl.Len())
		}
		if got := tl.AvailableAt(150); !got.Equal(pct(100)) {
			t.Fatalf("%s available at 150 = %s, want 100", res, got)
		}
	}
	if got := testutil.ToFloat64(f.metrics.Placements.WithLabelValues(OutcomeCancelled)); got != 1 {
		t.Fatalf("cancelled placements = %v, want 1", got)
	}
	if got := testutil.ToFloat64(f.metrics.Allocations.WithLabelValues("press", "exhausted")); got != 1 {
		t.Fatalf("press exhausted allocations = %v, want 1", got)
	}
}

func TestPlacementContractViolations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	act := model.Activity{ID: "op-1"}

	if err := f.eng.ConsumeAllocations(); !errors.Is(err, ErrNoPlacement) {
		t.Fatalf("Consume without placement: err = %v, want ErrNoPlacement", err)
	}
	p, err := f.eng.BeginPlacement(ctx, act)
	if err != nil {
		t.Fatalf("BeginPlacement: %v", err)
	}
	if _, err := f.eng.BeginPlacement(ctx, model.Activity{ID: "op-2"}); !errors.Is(err, ErrPlacementOpen) {
		t.Fatalf("second BeginPlacement: err = %v, want ErrPlacementOpen", err)
	}
	if _, err := f.eng.Allocate(ctx, requirement("press", 10), model.Activity{ID: "op-2"}, 120, 130); !errors.Is(err, ErrActivityMismatch) {
		t.Fatalf("interleaved Allocate: err = %v, want ErrActivityMismatch", err)
	}
	if _, err := p.Allocate(requirement("lathe", 10), 120, 130); !errors.Is(err, ErrUnknownResource) {
		t.Fatalf("unknown resource: err = %v, want ErrUnknownResource", err)
	}
	if err := p.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := p.Cancel(); !errors.Is(err, ErrPlacementClosed) {
		t.Fatalf("second Cancel: err = %v, want ErrPlacementClosed", err)
	}
	if _, err := p.Allocate(requirement("press", 10), 120, 130); !errors.Is(err, ErrPlacementClosed) {
		t.Fatalf("Allocate after Cancel: err = %v, want ErrPlacementClosed", err)
	}
}

func TestCheckNeedReportsReach(t *testing.T) {
	f := newFixture(t)
	ok, reached, err := f.eng.CheckNeed(model.Activity{ID: "op-1"}, requirement("press", 50), 150, 250)
	if err != nil {
		t.Fatalf("CheckNeed: %v", err)
	}
	if !ok {
		t.Fatalf("CheckNeed over trailing offline interval should succeed, reached %d", reached)
	}
}

func TestStorageThroughEngine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rem, err := f.eng.CalculateRemainingStorageCapacity("silo", 0)
	if err != nil {
		t.Fatalf("CalculateRemainingStorageCapacity: %v", err)
	}
	if !rem.Available.Equal(pct(95)) || !rem.AvailableIfDrained.Equal(pct(100)) {
		t.Fatalf("remaining = %+v, want 95 / 100", rem)
	}

	res, err := f.eng.AllocateStorage(ctx, "silo", []*storage.QtySupplyNode{{AvailableDate: 10, Quantity: pct(100), SourceLot: "L1"}}, false)
	if err != nil || !res.OK {
		t.Fatalf("AllocateStorage = %+v, %v", res, err)
	}
	if got := testutil.ToFloat64(f.metrics.StorageDisposals.WithLabelValues("silo")); got != 1 {
		t.Fatalf("disposals = %v, want 1", got)
	}

	demand := []*storage.QtyDemandNode{{Due: 20, Quantity: pct(60)}}
	avail, err := f.eng.CalculateAvailableQtyForDemand("silo", demand)
	if err != nil || !avail.Equal(pct(100)) {
		t.Fatalf("CalculateAvailableQtyForDemand = %s, %v; want 100", avail, err)
	}
	matched, err := f.eng.CalculateMatchedQtyForDemand("silo", demand)
	if err != nil || !matched.Equal(pct(60)) {
		t.Fatalf("CalculateMatchedQtyForDemand = %s, %v; want 60", matched, err)
	}
	ok, err := f.eng.AllocateSupply("silo", demand)
	if err != nil || !ok {
		t.Fatalf("AllocateSupply = %v, %v", ok, err)
	}
	rem, _ = f.eng.CalculateRemainingStorageCapacity("silo", 20)
	if !rem.Available.Equal(pct(60)) {
		t.Fatalf("remaining after draw = %s, want 60", rem.Available)
	}

	if _, err := f.eng.CalculateRemainingStorageCapacity("vault", 0); !errors.Is(err, ErrUnknownStorageArea) {
		t.Fatalf("unknown area: err = %v, want ErrUnknownStorageArea", err)
	}
	dock, _ := f.eng.CalculateRemainingStorageCapacity("dock", 0)
	if !dock.Unlimited {
		t.Fatalf("dock should be unconstrained")
	}
}

func TestFlowPurgedByClock(t *testing.T) {
	f := newFixture(t)
	w := model.Window{Start: 10, End: 50}

	if err := f.eng.StageFlow("belt", w); err != nil {
		t.Fatalf("StageFlow: %v", err)
	}
	if end, err := f.eng.ScheduleFlow("belt"); err != nil || end != 50 {
		t.Fatalf("ScheduleFlow = %d, %v; want 50", end, err)
	}
	ok, retry, err := f.eng.VerifyAllocationRange("belt", model.Window{Start: 20, End: 30})
	if err != nil || ok || retry != 50 {
		t.Fatalf("VerifyAllocationRange = %v, %d, %v; want false, 50", ok, retry, err)
	}
	if !f.eng.AdvanceClock(50) {
		t.Fatalf("AdvanceClock did not move the clock")
	}
	if n := len(f.eng.Connector("belt").InUse()); n != 0 {
		t.Fatalf("in-use ranges after purge = %d, want 0", n)
	}
	ok, _, _ = f.eng.VerifyAllocationRange("belt", model.Window{Start: 60, End: 70})
	if !ok {
		t.Fatalf("connector should be free after purge")
	}
	if got := testutil.ToFloat64(f.metrics.FlowVerifications.WithLabelValues("belt", "exhausted")); got != 1 {
		t.Fatalf("exhausted flow verifications = %v, want 1", got)
	}
	if _, err := f.eng.ScheduleFlow("chute"); !errors.Is(err, ErrUnknownConnector) {
		t.Fatalf("unknown connector: err = %v, want ErrUnknownConnector", err)
	}
}

func TestKnowledgeBaseChangesMarkStale(t *testing.T) {
	f := newFixture(t)
	if f.eng.Stale() {
		t.Fatalf("engine stale right after reset")
	}
	if err := f.kb.AddStorageArea(&model.StorageAreaDefinition{ID: "bin"}); err != nil {
		t.Fatalf("AddStorageArea: %v", err)
	}
	if !f.eng.Stale() {
		t.Fatalf("engine should be stale after a definition was added")
	}
	if err := f.eng.ResetSimulationStateVariables(context.Background(), f.kb); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if f.eng.Stale() || f.eng.Area("bin") == nil {
		t.Fatalf("reset should pick up the new area and clear the stale flag")
	}
}

func TestResetDiscardsOpenPlacement(t *testing.T) {
	f := newFixture(t)
	if ok, err := f.eng.Allocate(context.Background(), requirement("press", 30), model.Activity{ID: "op-1"}, 120, 140); err != nil || !ok {
		t.Fatalf("Allocate = %v, %v", ok, err)
	}
	if err := f.eng.ResetSimulationStateVariables(context.Background(), f.kb); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if f.eng.CurrentPlacement() != nil {
		t.Fatalf("reset left a placement open")
	}
	if got := f.eng.Timeline("press").AvailableAt(130); !got.Equal(pct(100)) {
		t.Fatalf("available after reset = %s, want 100", got)
	}
}

func TestPlacementFromBeforeResetIsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	old, err := f.eng.BeginPlacement(ctx, model.Activity{ID: "op-1"})
	if err != nil {
		t.Fatalf("BeginPlacement: %v", err)
	}
	if err := f.eng.ResetSimulationStateVariables(ctx, f.kb); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := old.Allocate(requirement("press", 30), 120, 140); !errors.Is(err, ErrPlacementClosed) {
		t.Fatalf("Allocate after reset: err = %v, want ErrPlacementClosed", err)
	}
	if !old.Closed() {
		t.Fatalf("stale placement should be closed")
	}
	if err := old.Consume(); !errors.Is(err, ErrPlacementClosed) {
		t.Fatalf("Consume after reset: err = %v, want ErrPlacementClosed", err)
	}
	if got := f.eng.Timeline("press").AvailableAt(130); !got.Equal(pct(100)) {
		t.Fatalf("available = %s, want 100", got)
	}

	p, err := f.eng.BeginPlacement(ctx, model.Activity{ID: "op-2"})
	if err != nil {
		t.Fatalf("BeginPlacement after reset: %v", err)
	}
	if ok, err := p.Allocate(requirement("press", 30), 120, 140); err != nil || !ok {
		t.Fatalf("Allocate = %v, %v", ok, err)
	}
	if err := p.Consume(); err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if got := f.eng.Timeline("press").AvailableAt(130); !got.Equal(pct(70)) {
		t.Fatalf("available = %s, want 70", got)
	}
}

func hasSpan(rec *tracetest.SpanRecorder, name string) bool {
	for _, s := range rec.Ended() {
		if s.Name() == name {
			return true
		}
	}
	return false
}
