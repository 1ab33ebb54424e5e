package model

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// CapacityInterval is a maximal span over which a resource is either online
// or offline.
type CapacityInterval struct {
	// ID is the stable external identity of the interval.
	ID     string
	Start  Ticks
	End    Ticks
	Online bool
}

// Window returns the interval span.
func (c CapacityInterval) Window() Window { return Window{Start: c.Start, End: c.End} }

// Activity is the unit of work being placed on the timeline.
type Activity struct {
	ID    string
	JobID string
}

// Requirement describes how much of one resource an activity needs.
type Requirement struct {
	ID         string
	ResourceID string
	// AttentionPercent is the nominal share of the resource the activity
	// occupies while it runs, in [0,100].
	AttentionPercent decimal.Decimal
}

// ResourceDefinition is the static description of a multi-tasking resource.
type ResourceDefinition struct {
	ID        string
	Name      string
	Intervals []CapacityInterval
}

// BuildCalendar turns a set of online windows into a sorted, gapless list of
// capacity intervals covering [MinTicks, MaxTicks). Offline gaps get
// synthesized IDs derived from prefix. Overlapping windows are rejected.
func BuildCalendar(prefix string, online []Window) ([]CapacityInterval, error) {
	windows := append([]Window(nil), online...)
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })

	out := make([]CapacityInterval, 0, 2*len(windows)+1)
	cursor := MinTicks
	for i, w := range windows {
		if w.Start < MinTicks || w.End <= w.Start {
			return nil, fmt.Errorf("online window %d [%d,%d) is empty or out of range", i, w.Start, w.End)
		}
		if w.Start < cursor {
			return nil, fmt.Errorf("online window %d [%d,%d) overlaps previous window", i, w.Start, w.End)
		}
		if w.Start > cursor {
			out = append(out, CapacityInterval{
				ID:    fmt.Sprintf("%s/off-%d", prefix, len(out)),
				Start: cursor,
				End:   w.Start,
			})
		}
		out = append(out, CapacityInterval{
			ID:     fmt.Sprintf("%s/on-%d", prefix, len(out)),
			Start:  w.Start,
			End:    w.End,
			Online: true,
		})
		cursor = w.End
	}
	if cursor < MaxTicks {
		out = append(out, CapacityInterval{
			ID:    fmt.Sprintf("%s/off-%d", prefix, len(out)),
			Start: cursor,
			End:   MaxTicks,
		})
	}
	return out, nil
}
