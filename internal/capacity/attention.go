package capacity

import (
	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/model"
)

var (
	zeroPercent    = decimal.Zero
	hundredPercent = decimal.NewFromInt(100)
)

// Segment is a contiguous piece of an AttentionState with its own remaining
// percent. Segments exist only while an allocation batch is open; outside a
// batch every state holds exactly one segment spanning its full width.
type Segment struct {
	Start     model.Ticks
	End       model.Ticks
	Available decimal.Decimal
}

func (s Segment) window() model.Window { return model.Window{Start: s.Start, End: s.End} }

// AttentionState tracks the remaining allocatable percent of one span of a
// resource timeline.
//
// Segments live in an arena addressed by stable indices; order lists the
// arena indices in time order. Splitting a segment rewrites its arena slot
// in place and appends the new pieces, so indices held by pending records
// stay valid for the lifetime of the batch.
type AttentionState struct {
	Interval  model.CapacityInterval
	Start     model.Ticks
	End       model.Ticks
	Available decimal.Decimal

	arena   []Segment
	order   []int
	inBatch bool
}

func newAttentionState(iv model.CapacityInterval, start, end model.Ticks, available decimal.Decimal) *AttentionState {
	s := &AttentionState{
		Interval:  iv,
		Start:     start,
		End:       end,
		Available: available,
	}
	s.reset()
	return s
}

// Online reports whether the underlying capacity interval is online.
func (s *AttentionState) Online() bool { return s.Interval.Online }

// Window returns the span covered by the state.
func (s *AttentionState) Window() model.Window { return model.Window{Start: s.Start, End: s.End} }

// Segments returns a copy of the segments in time order.
func (s *AttentionState) Segments() []Segment {
	out := make([]Segment, 0, len(s.order))
	for _, idx := range s.order {
		out = append(out, s.arena[idx])
	}
	return out
}

// reset drops every segment and restores a single full-width one at the
// state's steady-state percent.
func (s *AttentionState) reset() {
	s.arena = append(s.arena[:0], Segment{Start: s.Start, End: s.End, Available: s.Available})
	s.order = append(s.order[:0], 0)
}

// deduct subtracts amount from the arena segment idx over [from,to), which
// must lie inside the segment. The segment is split into up to three pieces.
func (s *AttentionState) deduct(idx int, amount decimal.Decimal, from, to model.Ticks) {
	seg := s.arena[idx]
	reduced := seg.Available.Sub(amount)

	switch {
	case from <= seg.Start && to >= seg.End:
		s.arena[idx].Available = reduced
	case from > seg.Start && to < seg.End:
		s.arena[idx].End = from
		mid := s.push(Segment{Start: from, End: to, Available: reduced})
		after := s.push(Segment{Start: to, End: seg.End, Available: seg.Available})
		s.insertAfter(idx, mid, after)
	case from <= seg.Start:
		s.arena[idx] = Segment{Start: seg.Start, End: to, Available: reduced}
		after := s.push(Segment{Start: to, End: seg.End, Available: seg.Available})
		s.insertAfter(idx, after)
	default:
		s.arena[idx].End = from
		tail := s.push(Segment{Start: from, End: seg.End, Available: reduced})
		s.insertAfter(idx, tail)
	}
}

func (s *AttentionState) push(seg Segment) int {
	s.arena = append(s.arena, seg)
	return len(s.arena) - 1
}

func (s *AttentionState) insertAfter(idx int, added ...int) {
	pos := 0
	for i, v := range s.order {
		if v == idx {
			pos = i + 1
			break
		}
	}
	s.order = append(s.order, added...)
	copy(s.order[pos+len(added):], s.order[pos:len(s.order)-len(added)])
	copy(s.order[pos:], added)
}

// availableThrough walks the segments from `from` and returns the tick up to
// which at least percent stays available without interruption, capped at to.
func (s *AttentionState) availableThrough(percent decimal.Decimal, from, to model.Ticks) model.Ticks {
	cursor := from
	for _, idx := range s.order {
		seg := s.arena[idx]
		if seg.End <= cursor {
			continue
		}
		if seg.Start > cursor || seg.Available.LessThan(percent) {
			return cursor
		}
		cursor = min(seg.End, to)
		if cursor >= to {
			return to
		}
	}
	return cursor
}
