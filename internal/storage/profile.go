package storage

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/model"
)

type draw struct {
	date model.Ticks
	qty  decimal.Decimal
}

// QtySupplyNode is one lot of material entering a storage area, from
// production, purchase or initial on-hand stock.
type QtySupplyNode struct {
	AvailableDate  model.Ticks
	ProductionDate model.Ticks
	Quantity       decimal.Decimal
	SourceLot      string

	draws       []draw
	allocated   decimal.Decimal
	disposed    decimal.Decimal
	disposedAt  model.Ticks
	provisional decimal.Decimal
}

// Date implements Node.
func (n *QtySupplyNode) Date() model.Ticks { return n.AvailableDate }

// UnallocatedQty implements Node: the quantity not yet committed to a
// demand or disposed.
func (n *QtySupplyNode) UnallocatedQty() decimal.Decimal {
	return n.Quantity.Sub(n.allocated).Sub(n.disposed)
}

// TestAllocate implements Node. Provisional marks never change committed
// quantities.
func (n *QtySupplyNode) TestAllocate(qty decimal.Decimal) { n.provisional = n.provisional.Add(qty) }

// Provisional returns the quantity marked by check-mode matching since the
// last ResetForAllocation.
func (n *QtySupplyNode) Provisional() decimal.Decimal { return n.provisional }

// ResetForAllocation implements Node.
func (n *QtySupplyNode) ResetForAllocation() { n.provisional = decimal.Zero }

// Allocate implements Node: qty leaves the area on the demand's date.
func (n *QtySupplyNode) Allocate(qty decimal.Decimal, _ Node, demand Node) {
	n.draws = append(n.draws, draw{date: demand.Date(), qty: qty})
	n.allocated = n.allocated.Add(qty)
}

func (n *QtySupplyNode) onHandAt(at model.Ticks) decimal.Decimal {
	if n.AvailableDate > at {
		return decimal.Zero
	}
	qty := n.Quantity
	for _, d := range n.draws {
		if d.date <= at {
			qty = qty.Sub(d.qty)
		}
	}
	if n.disposed.IsPositive() && n.disposedAt <= at {
		qty = qty.Sub(n.disposed)
	}
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}

// Profile is the chronological quantity profile of one storage area,
// including future production and purchases.
type Profile struct {
	nodes []*QtySupplyNode
}

// NewProfile returns an empty profile.
func NewProfile() *Profile { return &Profile{} }

// Len returns the number of supply nodes.
func (p *Profile) Len() int { return len(p.nodes) }

// Nodes returns a snapshot of the supply nodes in date order.
func (p *Profile) Nodes() []*QtySupplyNode {
	return append([]*QtySupplyNode(nil), p.nodes...)
}

// StoreProduct adds a supply node, keeping date order. Nodes with equal
// dates keep insertion order.
func (p *Profile) StoreProduct(n *QtySupplyNode) {
	idx := sort.Search(len(p.nodes), func(i int) bool { return p.nodes[i].AvailableDate > n.AvailableDate })
	p.nodes = append(p.nodes, nil)
	copy(p.nodes[idx+1:], p.nodes[idx:])
	p.nodes[idx] = n
}

// StoreOnHandLot adds stock that is already present at date.
func (p *Profile) StoreOnHandLot(lot string, qty decimal.Decimal, date model.Ticks) *QtySupplyNode {
	n := &QtySupplyNode{AvailableDate: date, ProductionDate: date, Quantity: qty, SourceLot: lot}
	p.StoreProduct(n)
	return n
}

// Remove deletes n from the profile. It reports whether n was present.
func (p *Profile) Remove(n *QtySupplyNode) bool {
	for i, cur := range p.nodes {
		if cur == n {
			p.nodes = append(p.nodes[:i], p.nodes[i+1:]...)
			return true
		}
	}
	return false
}

// DisposeAll discards all uncommitted stock available by date and returns
// the disposed quantity. Quantity already committed to demands stays.
func (p *Profile) DisposeAll(date model.Ticks) decimal.Decimal {
	total := decimal.Zero
	for _, n := range p.nodes {
		if n.AvailableDate > date {
			break
		}
		left := n.UnallocatedQty()
		if !left.IsPositive() {
			continue
		}
		n.disposed = n.disposed.Add(left)
		n.disposedAt = date
		total = total.Add(left)
	}
	return total
}

// QtyAt returns the expected on-hand quantity at date.
func (p *Profile) QtyAt(date model.Ticks) decimal.Decimal {
	total := decimal.Zero
	for _, n := range p.nodes {
		if n.AvailableDate > date {
			break
		}
		total = total.Add(n.onHandAt(date))
	}
	return total
}

// ResetForAllocation clears provisional marks before a matching pass.
func (p *Profile) ResetForAllocation() {
	for _, n := range p.nodes {
		n.ResetForAllocation()
	}
}

// SupplyNodes returns the profile as matcher input.
func (p *Profile) SupplyNodes() []Node {
	out := make([]Node, 0, len(p.nodes))
	for _, n := range p.nodes {
		out = append(out, n)
	}
	return out
}
