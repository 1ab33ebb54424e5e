package storage

import (
	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// Area is the runtime state of one storage area.
type Area struct {
	def     model.StorageAreaDefinition
	profile *Profile
}

// NewArea builds an area and loads its initial on-hand lots.
func NewArea(def model.StorageAreaDefinition) *Area {
	a := &Area{def: def}
	a.Reset()
	return a
}

// ID returns the area identifier.
func (a *Area) ID() string { return a.def.ID }

// Definition returns the static definition the area was built from.
func (a *Area) Definition() model.StorageAreaDefinition { return a.def }

// Profile returns the area's quantity profile.
func (a *Area) Profile() *Profile { return a.profile }

// Reset discards all stored supply and reloads the initial on-hand lots.
func (a *Area) Reset() {
	a.profile = NewProfile()
	for _, lot := range a.def.OnHand {
		a.profile.StoreOnHandLot(lot.Lot, lot.Quantity, lot.Available)
	}
}

// Availability returns the room in the area at date.
func (a *Area) Availability(date model.Ticks) Availability {
	av := NewAvailability(a.def.MaxQty, a.def.DisposalQty)
	av.UpdateQty(a.profile.QtyAt(date))
	return av
}

// CalculateRemainingStorageCapacity returns the room left at date, both as
// is and after draining a disposable leftover.
func (a *Area) CalculateRemainingStorageCapacity(date model.Ticks) Remaining {
	av := a.Availability(date)
	if av.Unconstrained() {
		return Remaining{Unlimited: true}
	}
	return Remaining{Available: av.QtyAvailable, AvailableIfDrained: av.QtyAvailableIfDrained}
}

// StorageResult describes the outcome of AllocateStorage.
type StorageResult struct {
	Placed   decimal.Decimal
	Disposed decimal.Decimal
	Drains   int
	OK       bool
}

// AllocateStorage places supply nodes, in order, into the area. An area
// holding a drainable leftover is drained when the next node does not fit;
// mustBeEmpty drains whatever is on hand before the first node. A node that
// only partly fits is split and placement stops there.
func (a *Area) AllocateStorage(supply []*QtySupplyNode, mustBeEmpty bool) StorageResult {
	res := StorageResult{Placed: decimal.Zero, Disposed: decimal.Zero}
	total := decimal.Zero
	for _, n := range supply {
		total = total.Add(n.Quantity)
	}

	emptied := !mustBeEmpty
	for _, n := range supply {
		want := n.Quantity
		if !want.IsPositive() {
			continue
		}
		av := a.Availability(n.AvailableDate)
		if av.Unconstrained() {
			a.profile.StoreProduct(n)
			res.Placed = res.Placed.Add(want)
			continue
		}

		drain := (!emptied && av.CurrentQty.IsPositive()) ||
			(want.GreaterThan(av.QtyAvailable) && av.CanBeDrained)
		emptied = true
		if drain {
			res.Disposed = res.Disposed.Add(a.profile.DisposeAll(n.AvailableDate))
			res.Drains++
			av = a.Availability(n.AvailableDate)
		}

		room := av.QtyAvailable
		if !room.IsPositive() {
			break
		}
		if want.LessThanOrEqual(room) {
			a.profile.StoreProduct(n)
			res.Placed = res.Placed.Add(want)
			continue
		}
		part := *n
		part.Quantity = room
		part.draws = nil
		a.profile.StoreProduct(&part)
		res.Placed = res.Placed.Add(room)
		break
	}
	res.OK = res.Placed.Equal(total)
	return res
}
