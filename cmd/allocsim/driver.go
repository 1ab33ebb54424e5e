package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/signalsfoundry/capacity-allocator/internal/config"
	"github.com/signalsfoundry/capacity-allocator/internal/dispatch"
	"github.com/signalsfoundry/capacity-allocator/internal/engine"
	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"github.com/signalsfoundry/capacity-allocator/internal/storage"
	"github.com/signalsfoundry/capacity-allocator/model"
	"github.com/signalsfoundry/capacity-allocator/timectrl"
)

// Reasons a placement attempt is rejected.
const (
	reasonCapacity = "capacity"
	reasonMaterial = "material"
	reasonStorage  = "storage"
	reasonFlow     = "flow"
	reasonHorizon  = "horizon"
)

// placementResult is the final state of one activity.
type placementResult struct {
	ActivityID string
	Placed     bool
	Start      model.Ticks
	End        model.Ticks
	Attempts   int
	// LastReason is the reason of the last rejected attempt.
	LastReason string
}

type pendingGauge interface {
	SetPendingPlacements(n int)
}

// driver plays the external scheduler: it proposes start ticks for every
// activity, commits or cancels placements and retries rejected ones later.
type driver struct {
	eng     *engine.Engine
	clock   *timectrl.TimeController
	sched   dispatch.EventScheduler
	log     logging.Logger
	gauge   pendingGauge
	step    model.Ticks
	horizon model.Ticks

	results map[string]*placementResult
	pending int
}

func newDriver(eng *engine.Engine, clock *timectrl.TimeController, step, horizon model.Ticks, log logging.Logger, gauge pendingGauge) *driver {
	if log == nil {
		log = logging.Noop()
	}
	return &driver{
		eng:     eng,
		clock:   clock,
		sched:   dispatch.NewEventScheduler(clock),
		log:     log,
		gauge:   gauge,
		step:    step,
		horizon: horizon,
		results: make(map[string]*placementResult),
	}
}

// Run places every activity of the scenario and returns the results in
// activity ID order.
func (d *driver) Run(ctx context.Context, activities []config.ActivitySpec) ([]placementResult, error) {
	var runErr error
	for _, spec := range activities {
		spec := spec // per-iteration copy; go.mod targets go1.21 loop semantics
		d.results[spec.Activity.ID] = &placementResult{ActivityID: spec.Activity.ID}
		d.pending++
		d.sched.Schedule(spec.EarliestStart, func() {
			if err := d.attempt(ctx, spec, d.clock.Now()); err != nil && runErr == nil {
				runErr = err
			}
		})
	}
	d.observePending()

	for runErr == nil {
		next, ok := d.sched.NextAt()
		if !ok || next > d.horizon {
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		d.eng.AdvanceClock(next)
		d.sched.RunDue()
	}
	if runErr != nil {
		return nil, runErr
	}

	out := make([]placementResult, 0, len(d.results))
	for _, r := range d.results {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivityID < out[j].ActivityID })
	return out, nil
}

func (d *driver) observePending() {
	if d.gauge != nil {
		d.gauge.SetPendingPlacements(d.pending)
	}
}

func (d *driver) attempt(ctx context.Context, spec config.ActivitySpec, start model.Ticks) error {
	res := d.results[spec.Activity.ID]
	res.Attempts++
	end := start + spec.Duration
	if end > d.horizon {
		res.LastReason = reasonHorizon
		d.pending--
		d.observePending()
		d.log.Warn(ctx, "activity not placed before horizon",
			logging.String("activity_id", spec.Activity.ID),
			logging.Int("attempts", res.Attempts),
		)
		return nil
	}

	placed, reason, hint, err := d.tryPlace(ctx, spec, start, end)
	if err != nil {
		return fmt.Errorf("activity %q at %d: %w", spec.Activity.ID, start, err)
	}
	if placed {
		res.Placed, res.Start, res.End, res.LastReason = true, start, end, ""
		d.pending--
		d.observePending()
		d.log.Info(ctx, "activity placed",
			logging.String("activity_id", spec.Activity.ID),
			logging.Int64("start", int64(start)),
			logging.Int64("end", int64(end)),
			logging.Int("attempts", res.Attempts),
		)
		return nil
	}

	res.LastReason = reason
	retryAt := start + d.step
	if hint > retryAt {
		retryAt = hint
	}
	d.log.Debug(ctx, "placement rejected, retry scheduled",
		logging.String("activity_id", spec.Activity.ID),
		logging.String("reason", reason),
		logging.Int64("retry_at", int64(retryAt)),
	)
	d.sched.Schedule(retryAt, func() {
		if err := d.attempt(ctx, spec, retryAt); err != nil {
			d.log.Error(ctx, "placement attempt failed", logging.String("error", err.Error()))
		}
	})
	return nil
}

// tryPlace runs one check-then-allocate attempt. A rejected attempt returns
// the reason and, when known, the earliest tick a retry could succeed.
func (d *driver) tryPlace(ctx context.Context, spec config.ActivitySpec, start, end model.Ticks) (bool, string, model.Ticks, error) {
	for _, req := range spec.Requirements {
		ok, _, err := d.eng.CheckNeed(spec.Activity, req, start, end)
		if err != nil {
			return false, "", 0, err
		}
		if !ok {
			return false, reasonCapacity, 0, nil
		}
	}

	var demand []*storage.QtyDemandNode
	if in := spec.Input; in != nil {
		demand = []*storage.QtyDemandNode{{Due: start, Quantity: in.Quantity, RequiredLot: in.Lot}}
		matched, err := d.eng.CalculateMatchedQtyForDemand(in.Area, demand)
		if err != nil {
			return false, "", 0, err
		}
		if matched.LessThan(in.Quantity) {
			return false, reasonMaterial, 0, nil
		}
	}

	var transfer model.Window
	arrival := end
	if out := spec.Output; out != nil {
		arrival = end + out.TransferTicks
		transfer = model.Window{Start: end, End: arrival}
		if out.Connector != "" {
			ok, retry, err := d.eng.VerifyAllocationRange(out.Connector, transfer)
			if err != nil {
				return false, "", 0, err
			}
			if !ok {
				return false, reasonFlow, retry - spec.Duration, nil
			}
		}
		rem, err := d.eng.CalculateRemainingStorageCapacity(out.Area, arrival)
		if err != nil {
			return false, "", 0, err
		}
		if !rem.Unlimited && out.Quantity.GreaterThan(rem.Available) && out.Quantity.GreaterThan(rem.AvailableIfDrained) {
			return false, reasonStorage, 0, nil
		}
	}

	p, err := d.eng.BeginPlacement(ctx, spec.Activity)
	if err != nil {
		return false, "", 0, err
	}
	for _, req := range spec.Requirements {
		ok, err := p.Allocate(req, start, end)
		if err != nil || !ok {
			if cerr := p.Cancel(); cerr != nil && err == nil {
				err = cerr
			}
			return false, reasonCapacity, 0, err
		}
	}
	if err := p.Consume(); err != nil {
		return false, "", 0, err
	}

	if in := spec.Input; in != nil {
		ok, err := d.eng.AllocateSupply(in.Area, demand)
		if err != nil {
			return false, "", 0, err
		}
		if short := demand[0].UnallocatedQty(); !ok || short.IsPositive() {
			return false, "", 0, fmt.Errorf("activity %q: committed input short by %s in area %q", spec.Activity.ID, short, in.Area)
		}
	}
	if out := spec.Output; out != nil {
		supply := []*storage.QtySupplyNode{{
			AvailableDate:  arrival,
			ProductionDate: end,
			Quantity:       out.Quantity,
			SourceLot:      out.Lot,
		}}
		stored, err := d.eng.AllocateStorage(ctx, out.Area, supply, out.MustBeEmpty)
		if err != nil {
			return false, "", 0, err
		}
		if !stored.OK {
			d.log.Warn(ctx, "output only partly stored",
				logging.String("activity_id", spec.Activity.ID),
				logging.String("area_id", out.Area),
				logging.String("placed_qty", stored.Placed.String()),
			)
		}
		if out.Connector != "" {
			if err := d.eng.StageFlow(out.Connector, transfer); err != nil {
				return false, "", 0, err
			}
			if _, err := d.eng.ScheduleFlow(out.Connector); err != nil {
				return false, "", 0, err
			}
		}
	}
	return true, "", 0, nil
}
