package capacity

import "errors"

// Contract violations. These indicate programming errors in the caller and
// are never part of the normal "not enough capacity" path, which is reported
// with a false return instead.
var (
	ErrInvalidInterval  = errors.New("invalid capacity interval")
	ErrInvalidPercent   = errors.New("attention percent outside [0,100]")
	ErrNotContiguous    = errors.New("capacity timeline is not contiguous")
	ErrSegmentBound     = errors.New("allocation segment exceeds its attention state")
	ErrBatchOpen        = errors.New("allocation batch already open")
	ErrBatchClosed      = errors.New("allocation batch already closed")
	ErrNoBatch          = errors.New("no allocation batch open")
	ErrActivityMismatch = errors.New("allocation batch belongs to a different activity")
)
