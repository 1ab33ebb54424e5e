package capacity

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/internal/logging"
	"github.com/signalsfoundry/capacity-allocator/model"
)

// Timeline is the ordered, gapless partition of one resource's time axis
// into attention states. It is built once per simulation run and then
// mutated only through allocation batches.
//
// A Timeline is not safe for concurrent use.
type Timeline struct {
	resourceID string
	states     []*AttentionState
	evaluator  *NeedEvaluator
	open       *Batch

	debug bool
	log   logging.Logger
}

// Option configures a Timeline.
type Option func(*Timeline)

// WithDebugValidation enables the full contiguity and bound check after
// every Consume and Cancel. A failing check panics.
func WithDebugValidation(enabled bool) Option {
	return func(t *Timeline) { t.debug = enabled }
}

// WithLogger sets the logger used for contract violations.
func WithLogger(log logging.Logger) Option {
	return func(t *Timeline) {
		if log != nil {
			t.log = log
		}
	}
}

// NewTimeline creates an empty timeline for resourceID. adj supplies the
// per-interval attention percent; nil means NominalPercent.
func NewTimeline(resourceID string, adj AttentionAdjuster, opts ...Option) *Timeline {
	t := &Timeline{
		resourceID: resourceID,
		evaluator:  NewNeedEvaluator(adj),
		log:        logging.Noop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.log = t.log.With(logging.String("resource_id", resourceID))
	return t
}

// ResourceID returns the resource this timeline belongs to.
func (t *Timeline) ResourceID() string { return t.resourceID }

// Evaluator returns the need evaluator used by allocations.
func (t *Timeline) Evaluator() *NeedEvaluator { return t.evaluator }

// Len returns the number of attention states, including states synthesized
// by consumed batches.
func (t *Timeline) Len() int { return len(t.states) }

// State returns the i-th attention state in time order.
func (t *Timeline) State(i int) *AttentionState { return t.states[i] }

// Add inserts an interval during setup. Online intervals start at 100%
// available, offline ones at 0%. The caller is responsible for supplying a
// gapless, fully covering set; only Validate checks it.
func (t *Timeline) Add(iv model.CapacityInterval) error {
	if iv.Start >= iv.End || iv.Start < model.MinTicks {
		return fmt.Errorf("%w: %q [%d,%d)", ErrInvalidInterval, iv.ID, iv.Start, iv.End)
	}
	available := zeroPercent
	if iv.Online {
		available = hundredPercent
	}
	t.insert(newAttentionState(iv, iv.Start, iv.End, available))
	return nil
}

// Reset discards all states, including any open batch, and rebuilds the
// timeline from intervals in its steady, allocation-free state.
func (t *Timeline) Reset(intervals []model.CapacityInterval) error {
	t.states = t.states[:0]
	t.open = nil
	for _, iv := range intervals {
		if err := t.Add(iv); err != nil {
			return err
		}
	}
	if t.debug {
		return t.Validate()
	}
	return nil
}

func (t *Timeline) insert(states ...*AttentionState) {
	for _, st := range states {
		idx := sort.Search(len(t.states), func(i int) bool { return t.states[i].Start >= st.Start })
		t.states = append(t.states, nil)
		copy(t.states[idx+1:], t.states[idx:])
		t.states[idx] = st
	}
}

// Locate returns the index of the state containing at.
func (t *Timeline) Locate(at model.Ticks) (int, bool) {
	idx := sort.Search(len(t.states), func(i int) bool { return t.states[i].End > at })
	if !t.containsAt(idx, at) {
		return -1, false
	}
	return idx, true
}

// containsAt reports whether the state at idx contains at. It does not scan
// neighbours: a miss on the first candidate is a miss.
func (t *Timeline) containsAt(idx int, at model.Ticks) bool {
	if idx < 0 || idx >= len(t.states) {
		return false
	}
	return t.states[idx].Window().Contains(at)
}

// StateAt returns the state containing at, or nil.
func (t *Timeline) StateAt(at model.Ticks) *AttentionState {
	idx, ok := t.Locate(at)
	if !ok {
		return nil
	}
	return t.states[idx]
}

// CheckNeed reports whether req can be satisfied for act over [start,end)
// without reserving anything. reached is where availability stopped.
func (t *Timeline) CheckNeed(act model.Activity, req model.Requirement, start, end model.Ticks) (ok bool, reached model.Ticks, err error) {
	if start >= end {
		return false, start, fmt.Errorf("%w: empty window [%d,%d)", ErrInvalidInterval, start, end)
	}
	idx, found := t.Locate(start)
	if !found {
		return false, start, nil
	}
	needs, err := t.evaluator.Collect(t, idx, act, req, start, end)
	if err != nil {
		return false, start, err
	}
	if len(needs) == 0 {
		return true, end, nil
	}
	ok, reached = t.evaluator.Satisfiable(needs)
	return ok, reached, nil
}

// AvailableAt returns the remaining percent at tick at, taking segments of
// an open batch into account.
func (t *Timeline) AvailableAt(at model.Ticks) decimal.Decimal {
	st := t.StateAt(at)
	if st == nil {
		return zeroPercent
	}
	for _, idx := range st.order {
		seg := st.arena[idx]
		if seg.window().Contains(at) {
			return seg.Available
		}
	}
	return zeroPercent
}

// Begin opens an allocation batch for act. Only one batch may be open at a
// time; it must be closed with Consume or Cancel before the next Begin.
func (t *Timeline) Begin(act model.Activity) (*Batch, error) {
	if t.open != nil {
		return nil, fmt.Errorf("%w: resource %q held by activity %q", ErrBatchOpen, t.resourceID, t.open.activity.ID)
	}
	t.open = &Batch{tl: t, activity: act}
	return t.open, nil
}

// OpenBatch returns the currently open batch, or nil.
func (t *Timeline) OpenBatch() *Batch { return t.open }

// Allocate reserves req for act over [start,end) in the open batch, opening
// one if none exists. It returns ErrActivityMismatch if the open batch
// belongs to another activity.
func (t *Timeline) Allocate(req model.Requirement, act model.Activity, start, end model.Ticks) (bool, error) {
	b := t.open
	if b == nil {
		var err error
		if b, err = t.Begin(act); err != nil {
			return false, err
		}
	} else if b.activity.ID != act.ID {
		t.log.Error(context.Background(), "allocation interleaved with another activity",
			logging.String("open_activity_id", b.activity.ID),
			logging.String("activity_id", act.ID),
		)
		return false, fmt.Errorf("%w: open for %q, got %q", ErrActivityMismatch, b.activity.ID, act.ID)
	}
	return b.Allocate(req, start, end)
}

// ConsumeAllocations commits the open batch.
func (t *Timeline) ConsumeAllocations() error {
	if t.open == nil {
		return ErrNoBatch
	}
	return t.open.Consume()
}

// CancelAllocations discards the open batch.
func (t *Timeline) CancelAllocations() error {
	if t.open == nil {
		return ErrNoBatch
	}
	return t.open.Cancel()
}

func (t *Timeline) afterClose(op string) {
	t.open = nil
	if !t.debug {
		return
	}
	if err := t.Validate(); err != nil {
		t.log.Error(context.Background(), "capacity timeline corrupted",
			logging.String("op", op),
			logging.String("error", err.Error()),
		)
		panic(err)
	}
}
