// Package storage models material storage areas: their expected on-hand
// profile, how much room they have at a date, and how supply is matched to
// demand.
package storage

import (
	"github.com/shopspring/decimal"
)

// Availability is the room left in a storage area at one date. It is
// derived from the profile on every query and never stored.
type Availability struct {
	CurrentQty  decimal.Decimal
	MaxQty      decimal.Decimal
	DisposalQty decimal.Decimal

	QtyAvailable          decimal.Decimal
	CanBeDrained          bool
	QtyAvailableIfDrained decimal.Decimal
}

// NewAvailability returns an empty availability for the given thresholds.
func NewAvailability(maxQty, disposalQty decimal.Decimal) Availability {
	a := Availability{MaxQty: maxQty, DisposalQty: disposalQty}
	a.UpdateQty(decimal.Zero)
	return a
}

// Unconstrained reports whether the area has no maximum.
func (a Availability) Unconstrained() bool {
	return !a.MaxQty.IsPositive()
}

// UpdateQty recomputes room for currentQty on hand. A leftover of at most
// DisposalQty may be drained to reclaim the full capacity; an area that is
// already empty is not considered drainable.
func (a *Availability) UpdateQty(currentQty decimal.Decimal) {
	a.CurrentQty = currentQty
	a.CanBeDrained = false
	if a.Unconstrained() {
		a.QtyAvailable = decimal.Zero
		a.QtyAvailableIfDrained = decimal.Zero
		return
	}
	a.QtyAvailable = a.MaxQty.Sub(currentQty)
	a.QtyAvailableIfDrained = a.QtyAvailable
	if currentQty.IsPositive() && currentQty.LessThanOrEqual(a.DisposalQty) {
		a.CanBeDrained = true
		a.QtyAvailableIfDrained = a.MaxQty
	}
}

// Fits reports whether qty can be stored, optionally after draining.
func (a Availability) Fits(qty decimal.Decimal, allowDrain bool) bool {
	if a.Unconstrained() {
		return true
	}
	if qty.LessThanOrEqual(a.QtyAvailable) {
		return true
	}
	return allowDrain && a.CanBeDrained && qty.LessThanOrEqual(a.QtyAvailableIfDrained)
}

// Remaining is the answer to CalculateRemainingStorageCapacity.
type Remaining struct {
	Available          decimal.Decimal
	AvailableIfDrained decimal.Decimal
	// Unlimited is set for unconstrained areas; the quantities are then zero.
	Unlimited bool
}
