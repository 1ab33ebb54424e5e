package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/internal/flow"
	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"github.com/signalsfoundry/capacity-allocator/internal/storage"
	"github.com/signalsfoundry/capacity-allocator/model"
)

// Area returns the storage area with id, or nil.
func (e *Engine) Area(id string) *storage.Area { return e.areas[id] }

// Connector returns the range constraint of connector id, or nil.
func (e *Engine) Connector(id string) *flow.RangeConstraint { return e.connectors[id] }

func (e *Engine) area(id string) (*storage.Area, error) {
	if !e.ready {
		return nil, ErrNotReset
	}
	a, ok := e.areas[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorageArea, id)
	}
	return a, nil
}

func (e *Engine) connector(id string) (*flow.RangeConstraint, error) {
	if !e.ready {
		return nil, ErrNotReset
	}
	c, ok := e.connectors[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownConnector, id)
	}
	return c, nil
}

// CalculateRemainingStorageCapacity returns the room left in areaID at date.
func (e *Engine) CalculateRemainingStorageCapacity(areaID string, date model.Ticks) (storage.Remaining, error) {
	a, err := e.area(areaID)
	if err != nil {
		return storage.Remaining{}, err
	}
	return a.CalculateRemainingStorageCapacity(date), nil
}

// AllocateStorage stores supply in areaID. A result with OK false is the
// normal "no room" outcome, not an error.
func (e *Engine) AllocateStorage(ctx context.Context, areaID string, supply []*storage.QtySupplyNode, mustBeEmpty bool) (storage.StorageResult, error) {
	a, err := e.area(areaID)
	if err != nil {
		return storage.StorageResult{}, err
	}
	res := a.AllocateStorage(supply, mustBeEmpty)
	if e.metrics != nil {
		e.metrics.ObserveStorageAllocation(areaID, res.OK)
		for i := 0; i < res.Drains; i++ {
			e.metrics.IncStorageDisposals(areaID)
		}
	}
	if res.Drains > 0 {
		e.log.Info(ctx, "storage area drained",
			logging.String("run_id", e.runID),
			logging.String("area_id", areaID),
			logging.String("disposed_qty", res.Disposed.String()),
			logging.Int("drains", res.Drains),
		)
	}
	return res, nil
}

func demandNodes(demand []*storage.QtyDemandNode) []storage.Node {
	out := make([]storage.Node, len(demand))
	for i, d := range demand {
		out[i] = d
	}
	return out
}

// CalculateAvailableQtyForDemand reports how much of areaID's supply could
// feed demand, without committing anything. The figure includes eligible
// supply left over after matching.
func (e *Engine) CalculateAvailableQtyForDemand(areaID string, demand []*storage.QtyDemandNode) (decimal.Decimal, error) {
	a, err := e.area(areaID)
	if err != nil {
		return decimal.Zero, err
	}
	return e.matcher.CalculateAvailableQtyForDemand(a.Profile().SupplyNodes(), demandNodes(demand)), nil
}

// CalculateMatchedQtyForDemand reports how much of demand AllocateSupply
// would satisfy right now, without committing anything.
func (e *Engine) CalculateMatchedQtyForDemand(areaID string, demand []*storage.QtyDemandNode) (decimal.Decimal, error) {
	a, err := e.area(areaID)
	if err != nil {
		return decimal.Zero, err
	}
	matched, _ := e.matcher.CheckSupply(a.Profile().SupplyNodes(), demandNodes(demand))
	return matched, nil
}

// AllocateSupply commits areaID's supply to demand. It reports whether any
// quantity was allocated; partly satisfied demand keeps a positive
// UnallocatedQty.
func (e *Engine) AllocateSupply(areaID string, demand []*storage.QtyDemandNode) (bool, error) {
	a, err := e.area(areaID)
	if err != nil {
		return false, err
	}
	return e.matcher.AllocateSupply(a.Profile().SupplyNodes(), demandNodes(demand)), nil
}

// VerifyAllocationRange reports whether connectorID can carry a transfer
// over w. On failure the returned tick is the earliest time a slot frees up.
func (e *Engine) VerifyAllocationRange(connectorID string, w model.Window) (bool, model.Ticks, error) {
	c, err := e.connector(connectorID)
	if err != nil {
		return false, 0, err
	}
	ok, retry := c.VerifyAllocationRange(w)
	if e.metrics != nil {
		e.metrics.ObserveFlowVerification(connectorID, ok)
	}
	return ok, retry, nil
}

// StageFlow stages a transfer over w on connectorID.
func (e *Engine) StageFlow(connectorID string, w model.Window) error {
	c, err := e.connector(connectorID)
	if err != nil {
		return err
	}
	c.AllocateUsage(w)
	return nil
}

// ScheduleFlow commits the staged transfer of connectorID and returns its
// end tick, or 0 when nothing was staged.
func (e *Engine) ScheduleFlow(connectorID string) (model.Ticks, error) {
	c, err := e.connector(connectorID)
	if err != nil {
		return 0, err
	}
	return c.ScheduleUsage(), nil
}
