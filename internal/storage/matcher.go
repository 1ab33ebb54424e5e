package storage

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// Node is one side of a supply/demand match.
type Node interface {
	Date() model.Ticks
	UnallocatedQty() decimal.Decimal
	TestAllocate(qty decimal.Decimal)
	ResetForAllocation()
	// Allocate commits qty from supply to demand.
	Allocate(qty decimal.Decimal, supply, demand Node)
}

// Eligibility decides whether a supply node may feed a demand node.
type Eligibility func(supply, demand Node) bool

// AnyEligible accepts every pairing.
func AnyEligible(Node, Node) bool { return true }

// LotEligible restricts demands that name a lot to supply from that lot.
func LotEligible(supply, demand Node) bool {
	d, ok := demand.(*QtyDemandNode)
	if !ok || d.RequiredLot == "" {
		return true
	}
	s, ok := supply.(*QtySupplyNode)
	return ok && s.SourceLot == d.RequiredLot
}

// QtyDemandNode is a dated requirement for material.
type QtyDemandNode struct {
	Due         model.Ticks
	Quantity    decimal.Decimal
	RequiredLot string

	allocated   decimal.Decimal
	provisional decimal.Decimal
	lots        []string
}

// Date implements Node.
func (d *QtyDemandNode) Date() model.Ticks { return d.Due }

// UnallocatedQty implements Node.
func (d *QtyDemandNode) UnallocatedQty() decimal.Decimal { return d.Quantity.Sub(d.allocated) }

// TestAllocate implements Node.
func (d *QtyDemandNode) TestAllocate(qty decimal.Decimal) { d.provisional = d.provisional.Add(qty) }

// Provisional returns the quantity marked by check-mode matching.
func (d *QtyDemandNode) Provisional() decimal.Decimal { return d.provisional }

// ResetForAllocation implements Node.
func (d *QtyDemandNode) ResetForAllocation() { d.provisional = decimal.Zero }

// Allocate implements Node.
func (d *QtyDemandNode) Allocate(qty decimal.Decimal, supply, _ Node) {
	d.allocated = d.allocated.Add(qty)
	if s, ok := supply.(*QtySupplyNode); ok && s.SourceLot != "" {
		d.lots = append(d.lots, s.SourceLot)
	}
}

// Lots returns the source lots that fed the demand, in allocation order.
func (d *QtyDemandNode) Lots() []string { return append([]string(nil), d.lots...) }

// Matcher pairs chronologically ordered supply with demand. Supply must be
// available by the demand's date and unmatched supply carries forward to
// later demands.
type Matcher struct {
	eligible Eligibility
}

// NewMatcher returns a matcher using eligible, or AnyEligible when nil.
func NewMatcher(eligible Eligibility) *Matcher {
	if eligible == nil {
		eligible = AnyEligible
	}
	return &Matcher{eligible: eligible}
}

// CalculateAvailableQtyForDemand runs the match in check mode. It returns
// the matched quantity plus any unconsumed supply eligible for, and
// available by, at least one demand. The excess is meant for ranking
// storage areas; use CheckSupply when only committable quantity counts.
// Nodes carry provisional marks afterwards; no committed quantity changes.
func (m *Matcher) CalculateAvailableQtyForDemand(supply, demand []Node) decimal.Decimal {
	matched, excess := m.CheckSupply(supply, demand)
	return matched.Add(excess)
}

// CheckSupply runs the match in check mode and returns the matched
// quantity and the eligible excess separately.
func (m *Matcher) CheckSupply(supply, demand []Node) (matched, excess decimal.Decimal) {
	for _, n := range supply {
		n.ResetForAllocation()
	}
	for _, n := range demand {
		n.ResetForAllocation()
	}
	matched, left, sup, dem := m.match(supply, demand, func(qty decimal.Decimal, s, d Node) {
		s.TestAllocate(qty)
		d.TestAllocate(qty)
	})
	excess = decimal.Zero
	for i, s := range sup {
		if !left[i].IsPositive() {
			continue
		}
		for _, d := range dem {
			if s.Date() <= d.Date() && m.eligible(s, d) {
				excess = excess.Add(left[i])
				break
			}
		}
	}
	return matched, excess
}

// AllocateSupply runs the match in commit mode and reports whether any
// quantity was allocated. Demands may be left partly satisfied; check their
// UnallocatedQty for shortfalls.
func (m *Matcher) AllocateSupply(supply, demand []Node) bool {
	matched, _, _, _ := m.match(supply, demand, func(qty decimal.Decimal, s, d Node) {
		s.Allocate(qty, s, d)
		d.Allocate(qty, s, d)
	})
	return matched.IsPositive()
}

// match walks demand in date order with a supply cursor that only moves
// forward past exhausted nodes. Ineligible nodes are skipped but stay
// available to later demands.
func (m *Matcher) match(supply, demand []Node, mark func(decimal.Decimal, Node, Node)) (decimal.Decimal, []decimal.Decimal, []Node, []Node) {
	sup := sortedByDate(supply)
	dem := sortedByDate(demand)

	left := make([]decimal.Decimal, len(sup))
	for i, s := range sup {
		left[i] = s.UnallocatedQty()
	}

	matched := decimal.Zero
	cursor := 0
	for _, d := range dem {
		for cursor < len(sup) && !left[cursor].IsPositive() {
			cursor++
		}
		need := d.UnallocatedQty()
		for i := cursor; i < len(sup) && need.IsPositive(); i++ {
			s := sup[i]
			if s.Date() > d.Date() {
				break
			}
			if !left[i].IsPositive() || !m.eligible(s, d) {
				continue
			}
			qty := decimal.Min(need, left[i])
			mark(qty, s, d)
			left[i] = left[i].Sub(qty)
			need = need.Sub(qty)
			matched = matched.Add(qty)
		}
	}
	return matched, left, sup, dem
}

func sortedByDate(nodes []Node) []Node {
	out := append([]Node(nil), nodes...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date() < out[j].Date() })
	return out
}
