// Package flow limits how many transfers may use a connector at once.
package flow

import (
	"sort"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// RangeConstraint tracks committed usage windows of one connector against a
// concurrency limit. At most one window is staged at a time; ScheduleUsage
// commits it.
type RangeConstraint struct {
	id     string
	limit  int
	inUse  []model.Window
	staged *model.Window
}

// NewRangeConstraint returns a constraint allowing limit concurrent uses.
// A limit of zero or less is treated as unlimited.
func NewRangeConstraint(id string, limit int) *RangeConstraint {
	return &RangeConstraint{id: id, limit: limit}
}

// ID returns the connector identifier.
func (c *RangeConstraint) ID() string { return c.id }

// Limit returns the concurrency limit.
func (c *RangeConstraint) Limit() int { return c.limit }

// InUse returns a snapshot of committed windows ordered by start.
func (c *RangeConstraint) InUse() []model.Window {
	return append([]model.Window(nil), c.inUse...)
}

// Staged returns the pending window, if any.
func (c *RangeConstraint) Staged() (model.Window, bool) {
	if c.staged == nil {
		return model.Window{}, false
	}
	return *c.staged, true
}

// AllocateUsagePoint stages a usage at t, or stretches the staged window to
// reach t.
func (c *RangeConstraint) AllocateUsagePoint(t model.Ticks) {
	if c.staged == nil {
		c.staged = &model.Window{Start: t, End: t}
		return
	}
	c.staged.Start = min(c.staged.Start, t)
	c.staged.End = max(c.staged.End, t)
}

// AllocateUsage stages w, replacing any staged window. Windows with no
// duration are ignored.
func (c *RangeConstraint) AllocateUsage(w model.Window) {
	if w.Duration() <= 0 {
		return
	}
	c.staged = &w
}

// ScheduleUsage commits the staged window and returns its end, or 0 when
// nothing was staged.
func (c *RangeConstraint) ScheduleUsage() model.Ticks {
	if c.staged == nil {
		return 0
	}
	w := *c.staged
	c.staged = nil
	idx := sort.Search(len(c.inUse), func(i int) bool { return c.inUse[i].Start > w.Start })
	c.inUse = append(c.inUse, model.Window{})
	copy(c.inUse[idx+1:], c.inUse[idx:])
	c.inUse[idx] = w
	return w.End
}

// VerifyAllocationRange reports whether w can be used without exceeding the
// limit. On failure it also returns the earliest end among the overlapping
// windows, the first time at which a retry could succeed.
func (c *RangeConstraint) VerifyAllocationRange(w model.Window) (bool, model.Ticks) {
	if c.limit <= 0 || w.Duration() <= 0 || len(c.inUse) < c.limit {
		return true, 0
	}
	count := 0
	earliest := model.MaxTicks
	for _, u := range c.inUse {
		if u.Start >= w.End {
			break
		}
		if u.Duration() <= 0 || !u.Overlaps(w) {
			continue
		}
		count++
		earliest = min(earliest, u.End)
		if count >= c.limit {
			break
		}
	}
	if count < c.limit {
		return true, 0
	}
	return false, earliest
}

// Purge drops committed windows that ended at or before clock and returns
// how many were removed.
func (c *RangeConstraint) Purge(clock model.Ticks) int {
	kept := c.inUse[:0]
	for _, u := range c.inUse {
		if u.End > clock {
			kept = append(kept, u)
		}
	}
	removed := len(c.inUse) - len(kept)
	c.inUse = kept
	return removed
}
