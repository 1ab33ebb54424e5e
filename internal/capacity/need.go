package capacity

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/signalsfoundry/capacity-allocator/model"
)

// AttentionAdjuster computes how much of a resource an activity needs within
// one capacity interval. Implementations must be pure for the duration of a
// call: the same inputs yield the same percent.
type AttentionAdjuster interface {
	AdjustedAttentionPercent(act model.Activity, req model.Requirement, iv model.CapacityInterval) decimal.Decimal
}

// PercentFunc adapts a plain function to AttentionAdjuster.
type PercentFunc func(act model.Activity, req model.Requirement, iv model.CapacityInterval) decimal.Decimal

// AdjustedAttentionPercent implements AttentionAdjuster.
func (f PercentFunc) AdjustedAttentionPercent(act model.Activity, req model.Requirement, iv model.CapacityInterval) decimal.Decimal {
	return f(act, req, iv)
}

// NominalPercent uses the requirement's AttentionPercent on every interval.
var NominalPercent = PercentFunc(func(_ model.Activity, req model.Requirement, _ model.CapacityInterval) decimal.Decimal {
	return req.AttentionPercent
})

// Need is the percent an activity requires on one attention state over the
// intersection of the state with the requested window.
type Need struct {
	State   *AttentionState
	Percent decimal.Decimal
	Start   model.Ticks
	End     model.Ticks
}

// NeedEvaluator turns a requirement over a span into per-interval needs and
// checks them against the timeline.
type NeedEvaluator struct {
	adjuster AttentionAdjuster
}

// NewNeedEvaluator returns an evaluator backed by adj, or NominalPercent when
// adj is nil.
func NewNeedEvaluator(adj AttentionAdjuster) *NeedEvaluator {
	if adj == nil {
		adj = NominalPercent
	}
	return &NeedEvaluator{adjuster: adj}
}

// Collect walks the timeline from state index `from` while states start
// before end and records the need for every online state intersecting
// [start,end). Offline states and zero needs produce no record.
func (e *NeedEvaluator) Collect(tl *Timeline, from int, act model.Activity, req model.Requirement, start, end model.Ticks) ([]Need, error) {
	window := model.Window{Start: start, End: end}
	var needs []Need
	for i := from; i < len(tl.states) && tl.states[i].Start < end; i++ {
		st := tl.states[i]
		if !st.Online() {
			continue
		}
		w, ok := st.Window().Intersect(window)
		if !ok {
			continue
		}
		pct := e.adjuster.AdjustedAttentionPercent(act, req, st.Interval)
		if pct.IsNegative() || pct.GreaterThan(hundredPercent) {
			return nil, fmt.Errorf("%w: requirement %q on interval %q yields %s", ErrInvalidPercent, req.ID, st.Interval.ID, pct)
		}
		if pct.IsZero() {
			continue
		}
		needs = append(needs, Need{State: st, Percent: pct, Start: w.Start, End: w.End})
	}
	return needs, nil
}

// Satisfiable evaluates needs in start order. Every need must be available
// all the way to its end; a partially available need fails the whole set.
// reached is the tick where availability stopped, or the end of the last
// need on success.
func (e *NeedEvaluator) Satisfiable(needs []Need) (ok bool, reached model.Ticks) {
	ordered := append([]Need(nil), needs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start < ordered[j].Start })

	for _, n := range ordered {
		reached = n.State.availableThrough(n.Percent, n.Start, n.End)
		if reached != n.End {
			return false, reached
		}
	}
	return true, reached
}
