// Package engine owns the allocation state of one simulation run: a
// capacity timeline per resource, a quantity profile per storage area and a
// range constraint per connector. It is the surface the external scheduler
// calls.
//
// An Engine is single-threaded: the whole run executes in one simulation
// loop and only one placement may be open at a time.
package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/capacity-allocator/internal/capacity"
	"github.com/signalsfoundry/capacity-allocator/internal/flow"
	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"github.com/signalsfoundry/capacity-allocator/internal/storage"
	"github.com/signalsfoundry/capacity-allocator/kb"
	"github.com/signalsfoundry/capacity-allocator/model"
	"github.com/signalsfoundry/capacity-allocator/timectrl"
)

const tracerName = "github.com/signalsfoundry/capacity-allocator/internal/engine"

// Placement outcomes reported to the MetricsRecorder.
const (
	OutcomeConsumed  = "consumed"
	OutcomeCancelled = "cancelled"
)

// MetricsRecorder receives allocation outcomes. *observability.AllocatorCollector
// implements it.
type MetricsRecorder interface {
	ObserveAllocation(resourceID string, ok bool)
	ObservePlacement(outcome string)
	SetAttentionStates(resourceID string, n int)
	ObserveStorageAllocation(areaID string, ok bool)
	IncStorageDisposals(areaID string)
	ObserveFlowVerification(connectorID string, ok bool)
	ObserveReset(d time.Duration)
}

// Engine is the allocation core of one simulation run.
type Engine struct {
	log      logging.Logger
	metrics  MetricsRecorder
	adjuster capacity.AttentionAdjuster
	eligible storage.Eligibility
	debug    bool
	tracer   trace.Tracer
	clock    *timectrl.TimeController

	timelines  map[string]*capacity.Timeline
	areas      map[string]*storage.Area
	connectors map[string]*flow.RangeConstraint
	matcher    *storage.Matcher

	current    *Placement
	ready      bool
	runID      string
	generation uint64

	stale       atomic.Bool
	unsubscribe func()
}

// Option customises Engine construction.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(log logging.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithAdjuster sets the per-interval attention percent function.
func WithAdjuster(adj capacity.AttentionAdjuster) Option {
	return func(e *Engine) { e.adjuster = adj }
}

// WithEligibility sets the supply/demand eligibility predicate.
func WithEligibility(fn storage.Eligibility) Option {
	return func(e *Engine) { e.eligible = fn }
}

// WithDebugValidation turns on full timeline validation after every
// Consume and Cancel.
func WithDebugValidation(enabled bool) Option {
	return func(e *Engine) { e.debug = enabled }
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(e *Engine) {
		if tp != nil {
			e.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock sets the simulation clock. Advancing it purges expired flow
// usage.
func WithClock(clock *timectrl.TimeController) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// New constructs an Engine. ResetSimulationStateVariables must run before
// any allocation call.
func New(opts ...Option) *Engine {
	e := &Engine{
		log:        logging.Noop(),
		tracer:     otel.Tracer(tracerName),
		clock:      timectrl.NewTimeController(model.MinTicks),
		timelines:  make(map[string]*capacity.Timeline),
		areas:      make(map[string]*storage.Area),
		connectors: make(map[string]*flow.RangeConstraint),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.matcher = storage.NewMatcher(e.eligible)
	e.clock.AddListener(e.purge)
	return e
}

// ResetSimulationStateVariables rebuilds every timeline, storage profile and
// connector from the definitions in src. It must run once per simulation
// run before any allocation call; an open placement is discarded.
func (e *Engine) ResetSimulationStateVariables(ctx context.Context, src *kb.KnowledgeBase) error {
	if src == nil {
		return fmt.Errorf("reset: knowledge base is nil")
	}
	ctx, log := logging.WithRunLogger(ctx, e.log)
	ctx, span := e.tracer.Start(ctx, "engine.reset")
	defer span.End()
	started := time.Now()

	e.ready = false
	e.current = nil
	e.generation++
	e.runID = logging.RunIDFromContext(ctx)

	timelines := make(map[string]*capacity.Timeline)
	for _, res := range src.ListResources() {
		tl := capacity.NewTimeline(res.ID, e.adjuster,
			capacity.WithDebugValidation(e.debug),
			capacity.WithLogger(log),
		)
		if err := tl.Reset(res.Intervals); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "timeline reset failed")
			return fmt.Errorf("reset resource %q: %w", res.ID, err)
		}
		timelines[res.ID] = tl
	}

	areas := make(map[string]*storage.Area)
	for _, def := range src.ListStorageAreas() {
		areas[def.ID] = storage.NewArea(*def)
	}

	connectors := make(map[string]*flow.RangeConstraint)
	for _, def := range src.ListConnectors() {
		connectors[def.ID] = flow.NewRangeConstraint(def.ID, def.Limit)
	}

	e.timelines, e.areas, e.connectors = timelines, areas, connectors
	e.clock.Reset(model.MinTicks)

	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.stale.Store(false)
	e.unsubscribe = src.Subscribe(func(kb.Event) { e.stale.Store(true) })
	e.ready = true

	for id, tl := range e.timelines {
		e.observeStates(id, tl)
	}
	if e.metrics != nil {
		e.metrics.ObserveReset(time.Since(started))
	}
	span.SetAttributes(
		attribute.Int("allocator.resources", len(timelines)),
		attribute.Int("allocator.storage_areas", len(areas)),
		attribute.Int("allocator.connectors", len(connectors)),
	)
	log.Info(ctx, "allocation state reset",
		logging.Int("resources", len(timelines)),
		logging.Int("storage_areas", len(areas)),
		logging.Int("connectors", len(connectors)),
		logging.Bool("debug_validation", e.debug),
	)
	return nil
}

// RunID returns the identifier of the current run, set by the last reset.
func (e *Engine) RunID() string { return e.runID }

// Stale reports whether definitions were added to the knowledge base since
// the last reset.
func (e *Engine) Stale() bool { return e.stale.Load() }

// Close detaches the engine from its knowledge base.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// Now returns the current simulation tick.
func (e *Engine) Now() model.Ticks { return e.clock.Now() }

// AdvanceClock moves the simulation clock forward to t. Connector usage that
// ended at or before t is purged. It reports whether the clock moved.
func (e *Engine) AdvanceClock(t model.Ticks) bool {
	return e.clock.AdvanceTo(t)
}

func (e *Engine) purge(now model.Ticks) {
	for _, c := range e.connectors {
		c.Purge(now)
	}
}

// Timeline returns the capacity timeline of resourceID, or nil.
func (e *Engine) Timeline(resourceID string) *capacity.Timeline {
	return e.timelines[resourceID]
}

func (e *Engine) timeline(resourceID string) (*capacity.Timeline, error) {
	if !e.ready {
		return nil, ErrNotReset
	}
	tl, ok := e.timelines[resourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownResource, resourceID)
	}
	return tl, nil
}

// CheckNeed reports whether req could be placed for act over [start,end)
// without reserving anything. reached is where availability stopped and can
// serve as a retry hint.
func (e *Engine) CheckNeed(act model.Activity, req model.Requirement, start, end model.Ticks) (bool, model.Ticks, error) {
	tl, err := e.timeline(req.ResourceID)
	if err != nil {
		return false, start, err
	}
	return tl.CheckNeed(act, req, start, end)
}

func (e *Engine) observeStates(resourceID string, tl *capacity.Timeline) {
	if e.metrics != nil {
		e.metrics.SetAttentionStates(resourceID, tl.Len())
	}
}
