package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// AllocatorCollector bundles Prometheus metrics for the allocation engine.
// It satisfies engine.MetricsRecorder so the engine can drive it directly
// from its mutators.
type AllocatorCollector struct {
	gatherer prometheus.Gatherer

	Allocations        *prometheus.CounterVec
	Placements         *prometheus.CounterVec
	AttentionStates    *prometheus.GaugeVec
	StorageAllocations *prometheus.CounterVec
	StorageDisposals   *prometheus.CounterVec
	FlowVerifications  *prometheus.CounterVec
	ResetDuration      prometheus.Histogram
	PendingPlacements  prometheus.Gauge
}

// NewAllocatorCollector registers allocator metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewAllocatorCollector(reg prometheus.Registerer) (*AllocatorCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	allocations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_capacity_allocations_total",
		Help: "Capacity allocation attempts per resource, labeled by result (ok or exhausted).",
	}, []string{"resource", "result"}), "allocator_capacity_allocations_total")
	if err != nil {
		return nil, err
	}
	placements, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_placements_total",
		Help: "Closed placement batches, labeled by outcome (consumed or cancelled).",
	}, []string{"outcome"}), "allocator_placements_total")
	if err != nil {
		return nil, err
	}
	states, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "allocator_attention_states",
		Help: "Current number of attention states per resource timeline.",
	}, []string{"resource"}), "allocator_attention_states")
	if err != nil {
		return nil, err
	}
	storageAllocs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_storage_allocations_total",
		Help: "Storage allocation requests per area, labeled by result (ok or exhausted).",
	}, []string{"area", "result"}), "allocator_storage_allocations_total")
	if err != nil {
		return nil, err
	}
	disposals, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_storage_disposals_total",
		Help: "Number of times leftover stock was disposed to reclaim storage capacity.",
	}, []string{"area"}), "allocator_storage_disposals_total")
	if err != nil {
		return nil, err
	}
	flows, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "allocator_flow_verifications_total",
		Help: "Connector concurrency checks, labeled by result (ok or exhausted).",
	}, []string{"connector", "result"}), "allocator_flow_verifications_total")
	if err != nil {
		return nil, err
	}
	reset, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "allocator_reset_duration_seconds",
		Help:    "Wall-clock duration of ResetSimulationStateVariables.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 5},
	}), "allocator_reset_duration_seconds")
	if err != nil {
		return nil, err
	}
	pending, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "allocator_placements_pending",
		Help: "Placement attempts currently waiting for a retry.",
	}), "allocator_placements_pending")
	if err != nil {
		return nil, err
	}

	return &AllocatorCollector{
		gatherer:           gatherer,
		Allocations:        allocations,
		Placements:         placements,
		AttentionStates:    states,
		StorageAllocations: storageAllocs,
		StorageDisposals:   disposals,
		FlowVerifications:  flows,
		ResetDuration:      reset,
		PendingPlacements:  pending,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *AllocatorCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *AllocatorCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveAllocation counts one capacity allocation attempt.
func (c *AllocatorCollector) ObserveAllocation(resourceID string, ok bool) {
	if c == nil || c.Allocations == nil {
		return
	}
	c.Allocations.WithLabelValues(resourceID, result(ok)).Inc()
}

// ObservePlacement counts a closed placement batch.
func (c *AllocatorCollector) ObservePlacement(outcome string) {
	if c == nil || c.Placements == nil {
		return
	}
	c.Placements.WithLabelValues(outcome).Inc()
}

// SetAttentionStates updates the state count gauge for a resource.
func (c *AllocatorCollector) SetAttentionStates(resourceID string, n int) {
	if c == nil || c.AttentionStates == nil {
		return
	}
	c.AttentionStates.WithLabelValues(resourceID).Set(float64(n))
}

// ObserveStorageAllocation counts one AllocateStorage call.
func (c *AllocatorCollector) ObserveStorageAllocation(areaID string, ok bool) {
	if c == nil || c.StorageAllocations == nil {
		return
	}
	c.StorageAllocations.WithLabelValues(areaID, result(ok)).Inc()
}

// IncStorageDisposals counts a disposal of leftover stock.
func (c *AllocatorCollector) IncStorageDisposals(areaID string) {
	if c == nil || c.StorageDisposals == nil {
		return
	}
	c.StorageDisposals.WithLabelValues(areaID).Inc()
}

// ObserveFlowVerification counts one connector concurrency check.
func (c *AllocatorCollector) ObserveFlowVerification(connectorID string, ok bool) {
	if c == nil || c.FlowVerifications == nil {
		return
	}
	c.FlowVerifications.WithLabelValues(connectorID, result(ok)).Inc()
}

// ObserveReset records the duration of a simulation state reset.
func (c *AllocatorCollector) ObserveReset(d time.Duration) {
	if c == nil || c.ResetDuration == nil {
		return
	}
	c.ResetDuration.Observe(d.Seconds())
}

// SetPendingPlacements updates the retry backlog gauge.
func (c *AllocatorCollector) SetPendingPlacements(n int) {
	if c == nil || c.PendingPlacements == nil {
		return
	}
	c.PendingPlacements.Set(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "exhausted"
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.GaugeVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
