package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/capacity-allocator/internal/capacity"
	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"github.com/signalsfoundry/capacity-allocator/model"
)

// Placement is one activity's placement attempt across all resources. It
// holds one allocation batch per touched resource and must be closed with
// Consume or Cancel exactly once.
type Placement struct {
	id       string
	eng      *Engine
	activity model.Activity
	gen      uint64

	batches map[string]*capacity.Batch
	order   []string

	ctx    context.Context
	span   trace.Span
	log    logging.Logger
	closed bool
}

// BeginPlacement opens a placement for act. Only one placement may be open
// at a time.
func (e *Engine) BeginPlacement(ctx context.Context, act model.Activity) (*Placement, error) {
	if !e.ready {
		return nil, ErrNotReset
	}
	if e.current != nil {
		return nil, fmt.Errorf("%w: held by activity %q", ErrPlacementOpen, e.current.activity.ID)
	}
	id := uuid.NewString()
	ctx, span := e.tracer.Start(ctx, "engine.placement", trace.WithAttributes(
		attribute.String("placement_id", id),
		attribute.String("activity_id", act.ID),
		attribute.String("job_id", act.JobID),
	))
	p := &Placement{
		id:       id,
		eng:      e,
		activity: act,
		gen:      e.generation,
		batches:  make(map[string]*capacity.Batch),
		ctx:      ctx,
		span:     span,
		log: e.log.With(
			logging.String("run_id", e.runID),
			logging.String("placement_id", id),
			logging.String("activity_id", act.ID),
		),
	}
	e.current = p
	p.log.Debug(ctx, "placement opened")
	return p, nil
}

// CurrentPlacement returns the open placement, or nil.
func (e *Engine) CurrentPlacement() *Placement { return e.current }

// ID returns the placement identifier.
func (p *Placement) ID() string { return p.id }

// Activity returns the activity being placed.
func (p *Placement) Activity() model.Activity { return p.activity }

// Closed reports whether the placement was consumed or cancelled.
func (p *Placement) Closed() bool { return p.closed }

// expired reports whether a reset ran since the placement was opened. Its
// batches belong to timelines that no longer exist.
func (p *Placement) expired() bool { return p.gen != p.eng.generation }

// expire closes a placement left behind by a reset without touching any
// timeline.
func (p *Placement) expire() error {
	p.closed = true
	p.span.SetStatus(codes.Error, "placement outlived a reset")
	p.span.End()
	p.log.Warn(p.ctx, "placement used after reset", logging.Int("batches", len(p.order)))
	return fmt.Errorf("%w: engine was reset", ErrPlacementClosed)
}

// Resources returns the resources touched so far, in first-touch order.
func (p *Placement) Resources() []string { return append([]string(nil), p.order...) }

// Allocate reserves req over [start,end) on the requirement's resource.
// A false result leaves every timeline as it was before the call.
func (p *Placement) Allocate(req model.Requirement, start, end model.Ticks) (bool, error) {
	if p.closed {
		return false, ErrPlacementClosed
	}
	if p.expired() {
		return false, p.expire()
	}
	tl, err := p.eng.timeline(req.ResourceID)
	if err != nil {
		return false, err
	}
	b, ok := p.batches[req.ResourceID]
	if !ok {
		b, err = tl.Begin(p.activity)
		if err != nil {
			return false, err
		}
		p.batches[req.ResourceID] = b
		p.order = append(p.order, req.ResourceID)
	}
	placed, err := b.Allocate(req, start, end)
	if err != nil {
		p.log.Error(p.ctx, "allocation contract violation",
			logging.String("requirement_id", req.ID),
			logging.String("error", err.Error()),
		)
		return false, err
	}
	if p.eng.metrics != nil {
		p.eng.metrics.ObserveAllocation(req.ResourceID, placed)
	}
	p.span.AddEvent("allocate", trace.WithAttributes(
		attribute.String("resource_id", req.ResourceID),
		attribute.Int64("start", int64(start)),
		attribute.Int64("end", int64(end)),
		attribute.Bool("ok", placed),
	))
	return placed, nil
}

// Consume commits every batch of the placement.
func (p *Placement) Consume() error {
	return p.close(OutcomeConsumed, (*capacity.Batch).Consume)
}

// Cancel discards every batch of the placement.
func (p *Placement) Cancel() error {
	return p.close(OutcomeCancelled, (*capacity.Batch).Cancel)
}

func (p *Placement) close(outcome string, fn func(*capacity.Batch) error) error {
	if p.closed {
		return ErrPlacementClosed
	}
	if p.expired() {
		return p.expire()
	}
	p.closed = true
	if p.eng.current == p {
		p.eng.current = nil
	}

	var errs []error
	for _, id := range p.order {
		if err := fn(p.batches[id]); err != nil {
			errs = append(errs, fmt.Errorf("resource %q: %w", id, err))
		}
		if tl := p.eng.timelines[id]; tl != nil {
			p.eng.observeStates(id, tl)
		}
	}
	err := errors.Join(errs...)

	if p.eng.metrics != nil {
		p.eng.metrics.ObservePlacement(outcome)
	}
	p.span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("resources", len(p.order)),
	)
	if err != nil {
		p.span.RecordError(err)
		p.span.SetStatus(codes.Error, outcome+" failed")
	}
	p.span.End()
	p.log.Debug(p.ctx, "placement closed",
		logging.String("outcome", outcome),
		logging.Int("resources", len(p.order)),
	)
	return err
}

// Allocate reserves req for act over [start,end) in the open placement,
// opening one if none exists.
func (e *Engine) Allocate(ctx context.Context, req model.Requirement, act model.Activity, start, end model.Ticks) (bool, error) {
	p := e.current
	if p == nil {
		var err error
		if p, err = e.BeginPlacement(ctx, act); err != nil {
			return false, err
		}
	} else if p.activity.ID != act.ID {
		e.log.Error(ctx, "allocation interleaved with another activity",
			logging.String("open_activity_id", p.activity.ID),
			logging.String("activity_id", act.ID),
		)
		return false, fmt.Errorf("%w: open for %q, got %q", ErrActivityMismatch, p.activity.ID, act.ID)
	}
	return p.Allocate(req, start, end)
}

// ConsumeAllocations commits the open placement.
func (e *Engine) ConsumeAllocations() error {
	if e.current == nil {
		return ErrNoPlacement
	}
	return e.current.Consume()
}

// CancelAllocations discards the open placement.
func (e *Engine) CancelAllocations() error {
	if e.current == nil {
		return ErrNoPlacement
	}
	return e.current.Cancel()
}
