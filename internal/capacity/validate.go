package capacity

import (
	"fmt"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// Validate walks the whole timeline and checks that states are sorted,
// gapless and cover [MinTicks, MaxTicks), that every state's segments
// partition it exactly, and that no segment exceeds its state's percent.
// It is O(states + segments) and meant for debug runs and tests.
func (t *Timeline) Validate() error {
	if len(t.states) == 0 {
		return fmt.Errorf("%w: resource %q has no intervals", ErrNotContiguous, t.resourceID)
	}
	if first := t.states[0]; first.Start != model.MinTicks {
		return fmt.Errorf("%w: resource %q starts at %d", ErrNotContiguous, t.resourceID, first.Start)
	}
	for i, st := range t.states {
		if st.Start >= st.End {
			return fmt.Errorf("%w: state %d [%d,%d)", ErrInvalidInterval, i, st.Start, st.End)
		}
		if i > 0 && t.states[i-1].End != st.Start {
			return fmt.Errorf("%w: resource %q gap or overlap at %d/%d", ErrNotContiguous, t.resourceID, t.states[i-1].End, st.Start)
		}
		if st.Available.IsNegative() || st.Available.GreaterThan(hundredPercent) {
			return fmt.Errorf("%w: state [%d,%d) at %s", ErrInvalidPercent, st.Start, st.End, st.Available)
		}
		if err := validateSegments(st); err != nil {
			return err
		}
	}
	if last := t.states[len(t.states)-1]; last.End != model.MaxTicks {
		return fmt.Errorf("%w: resource %q ends at %d", ErrNotContiguous, t.resourceID, last.End)
	}
	return nil
}

func validateSegments(st *AttentionState) error {
	if len(st.order) == 0 {
		return fmt.Errorf("%w: state [%d,%d) has no segments", ErrNotContiguous, st.Start, st.End)
	}
	cursor := st.Start
	for _, idx := range st.order {
		seg := st.arena[idx]
		if seg.Start != cursor || seg.End <= seg.Start {
			return fmt.Errorf("%w: segment [%d,%d) in state [%d,%d) expected to start at %d",
				ErrNotContiguous, seg.Start, seg.End, st.Start, st.End, cursor)
		}
		if seg.Available.IsNegative() || seg.Available.GreaterThan(st.Available) {
			return fmt.Errorf("%w: segment [%d,%d) at %s, state at %s",
				ErrSegmentBound, seg.Start, seg.End, seg.Available, st.Available)
		}
		cursor = seg.End
	}
	if cursor != st.End {
		return fmt.Errorf("%w: segments of state [%d,%d) end at %d", ErrNotContiguous, st.Start, st.End, cursor)
	}
	return nil
}
