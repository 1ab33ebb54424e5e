package capacity

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// Batch is the set of tentative deductions made for one activity's
// placement attempt on one timeline. It is committed with Consume or
// discarded with Cancel, exactly once.
type Batch struct {
	tl       *Timeline
	activity model.Activity
	touched  []*AttentionState
	closed   bool
}

// pending is a deduction that has passed its availability check but has not
// been applied to the segment arena yet.
type pending struct {
	state  *AttentionState
	seg    int
	amount decimal.Decimal
	from   model.Ticks
	to     model.Ticks
}

// Activity returns the activity the batch belongs to.
func (b *Batch) Activity() model.Activity { return b.activity }

// Touched returns the number of attention states modified by the batch.
func (b *Batch) Touched() int { return len(b.touched) }

// Closed reports whether Consume or Cancel has already run.
func (b *Batch) Closed() bool { return b.closed }

// Allocate reserves req over [start,end). Every intersected segment of
// every online state must have at least the required percent; otherwise
// nothing is changed and false is returned. Deductions from earlier calls in
// the same batch are visible to later ones.
func (b *Batch) Allocate(req model.Requirement, start, end model.Ticks) (bool, error) {
	if b.closed {
		return false, ErrBatchClosed
	}
	if start >= end {
		return false, fmt.Errorf("%w: empty window [%d,%d)", ErrInvalidInterval, start, end)
	}
	idx, ok := b.tl.Locate(start)
	if !ok {
		return false, nil
	}
	needs, err := b.tl.evaluator.Collect(b.tl, idx, b.activity, req, start, end)
	if err != nil {
		return false, err
	}

	var records []pending
	for _, n := range needs {
		want := model.Window{Start: n.Start, End: n.End}
		for _, si := range n.State.order {
			seg := n.State.arena[si]
			w, hit := seg.window().Intersect(want)
			if !hit {
				if seg.Start >= want.End {
					break
				}
				continue
			}
			if seg.Available.LessThan(n.Percent) {
				return false, nil
			}
			records = append(records, pending{state: n.State, seg: si, amount: n.Percent, from: w.Start, to: w.End})
			if w.End >= want.End {
				break
			}
		}
	}

	for _, r := range records {
		b.apply(r)
	}
	return true, nil
}

func (b *Batch) apply(r pending) {
	if !r.state.inBatch {
		r.state.inBatch = true
		b.touched = append(b.touched, r.state)
	}
	r.state.deduct(r.seg, r.amount, r.from, r.to)
}

// Cancel restores every touched state to a single full-width segment at its
// pre-batch percent.
func (b *Batch) Cancel() error {
	if b.closed {
		return ErrBatchClosed
	}
	for _, st := range b.touched {
		st.inBatch = false
		st.reset()
	}
	b.touched = nil
	b.closed = true
	b.tl.afterClose("cancel")
	return nil
}

// Consume commits the batch. A touched state left with one segment takes
// that segment's percent. A state left with several segments shrinks to its
// first segment, and every remaining segment becomes a new attention state
// of its own in the timeline.
func (b *Batch) Consume() error {
	if b.closed {
		return ErrBatchClosed
	}
	var created []*AttentionState
	for _, st := range b.touched {
		segs := st.Segments()
		head := segs[0]
		st.End = head.End
		st.Available = head.Available
		st.inBatch = false
		st.reset()
		for _, seg := range segs[1:] {
			created = append(created, newAttentionState(st.Interval, seg.Start, seg.End, seg.Available))
		}
	}
	b.tl.insert(created...)
	b.touched = nil
	b.closed = true
	b.tl.afterClose("consume")
	return nil
}
