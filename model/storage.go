package model

import "github.com/shopspring/decimal"

// StorageAreaDefinition describes a bounded or unbounded material container.
type StorageAreaDefinition struct {
	ID   string
	Name string
	// MaxQty is the capacity of the area. Values <= 0 mean unconstrained.
	MaxQty decimal.Decimal
	// DisposalQty is the leftover threshold at or below which existing stock
	// may be discarded to reclaim the full capacity.
	DisposalQty decimal.Decimal
	// OnHand lists the lots present when the simulation starts.
	OnHand []OnHandLot
}

// OnHandLot is stock that exists before the simulation begins.
type OnHandLot struct {
	Lot       string
	Quantity  decimal.Decimal
	Available Ticks
}

// ConnectorDefinition describes a shared transfer path between two storage areas.
type ConnectorDefinition struct {
	ID       string
	FromArea string
	ToArea   string
	// Limit caps the number of simultaneous transfers. Values <= 0 mean unlimited.
	Limit int
}
