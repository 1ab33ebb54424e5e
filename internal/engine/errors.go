package engine

import "errors"

var (
	// ErrNotReset indicates an allocation call before ResetSimulationStateVariables.
	ErrNotReset = errors.New("simulation state not reset")
	// ErrPlacementOpen indicates a second placement was begun while one is open.
	ErrPlacementOpen = errors.New("placement already open")
	// ErrNoPlacement indicates Consume or Cancel without an open placement.
	ErrNoPlacement = errors.New("no placement open")
	// ErrPlacementClosed indicates use of a placement after Consume or Cancel.
	ErrPlacementClosed = errors.New("placement already closed")
	// ErrActivityMismatch indicates an allocation for another activity while a
	// placement is open.
	ErrActivityMismatch = errors.New("placement belongs to a different activity")
	// ErrUnknownResource indicates a requirement names a resource with no timeline.
	ErrUnknownResource = errors.New("unknown resource")
	// ErrUnknownStorageArea indicates a storage call for an undefined area.
	ErrUnknownStorageArea = errors.New("unknown storage area")
	// ErrUnknownConnector indicates a flow call for an undefined connector.
	ErrUnknownConnector = errors.New("unknown connector")
)
