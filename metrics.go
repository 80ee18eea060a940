package epochstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// newStoreMetrics initialize Prometheus metrics for monitoring the epoch
// store. When registerer is nil the default Prometheus registerer is used;
// tests inject their own registry
func newStoreMetrics(nodeID, namespace string, registerer prometheus.Registerer) *storeMetrics {
	z := &storeMetrics{
		id: nodeID,
		internalInconsistencyError: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "zookeeper_epoch_store_internal_inconsistency_error",
				Help:      "Number of runtime inconsistencies reported by the coordination service",
			},
			[]string{"node_id"},
		),
	}

	// Register the metrics with the provided Prometheus registry
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if registerer != nil {
		registerer.MustRegister(z.internalInconsistencyError)
	}

	return z
}

// incrInternalInconsistencyError accounts a runtime inconsistency reported
// by the coordination service
func (m *storeMetrics) incrInternalInconsistencyError() {
	m.internalInconsistencyError.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// newMonitorMetrics initialize Prometheus metrics for monitoring the health
// monitor. When registerer is nil the default Prometheus registerer is used
func newMonitorMetrics(nodeID, namespace string, registerer prometheus.Registerer) *monitorMetrics {
	z := &monitorMetrics{
		id: nodeID,
		numLoops: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "health_monitor_num_loops",
				Help:      "Number of health monitor loop iterations",
			},
			[]string{"node_id"},
		),
		stallIndicator: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "health_monitor_stall_indicator",
				Help:      "Number of loops that observed stalled workers",
			},
			[]string{"node_id"},
		),
		overloadIndicator: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "health_monitor_overload_indicator",
				Help:      "Number of loops that observed overloaded workers",
			},
			[]string{"node_id"},
		),
		stateIndicator: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "health_monitor_state_indicator",
				Help:      "Number of loops that classified the node as healthy",
			},
			[]string{"node_id"},
		),
		healthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "node_state_healthy",
				Help:      "Indicates current node state",
			},
			[]string{"node_id"},
		),
		overloaded: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "node_state_overloaded",
				Help:      "Indicates current node state",
			},
			[]string{"node_id"},
		),
		unhealthy: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "epochstore",
				Name:      "node_state_unhealthy",
				Help:      "Indicates current node state",
			},
			[]string{"node_id"},
		),
	}

	// Register the metrics with the provided Prometheus registry
	// Make sure to register them all, otherwise, no metrics will be found
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	if registerer != nil {
		registerer.MustRegister(z.numLoops)
		registerer.MustRegister(z.stallIndicator)
		registerer.MustRegister(z.overloadIndicator)
		registerer.MustRegister(z.stateIndicator)

		registerer.MustRegister(z.healthy)
		registerer.MustRegister(z.overloaded)
		registerer.MustRegister(z.unhealthy)
	}

	return z
}

// incrNumLoops counts one health monitor loop iteration
func (m *monitorMetrics) incrNumLoops() {
	m.numLoops.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// addStallIndicator accounts a loop that observed stalled workers
func (m *monitorMetrics) addStallIndicator(stalled bool) {
	if stalled {
		m.stallIndicator.With(prometheus.Labels{"node_id": m.id}).Inc()
	}
}

// addOverloadIndicator accounts a loop that observed overloaded workers
func (m *monitorMetrics) addOverloadIndicator(overloaded bool) {
	if overloaded {
		m.overloadIndicator.With(prometheus.Labels{"node_id": m.id}).Inc()
	}
}

// incrStateIndicator accounts a loop that classified the node as healthy
func (m *monitorMetrics) incrStateIndicator() {
	m.stateIndicator.With(prometheus.Labels{"node_id": m.id}).Inc()
}

// setNodeStateGauge will set the current node gauge state with the provided value
func (m *monitorMetrics) setNodeStateGauge(state NodeState) {
	// Always reset the default values
	m.healthy.With(prometheus.Labels{"node_id": m.id}).Set(0)
	m.overloaded.With(prometheus.Labels{"node_id": m.id}).Set(0)
	m.unhealthy.With(prometheus.Labels{"node_id": m.id}).Set(0)

	switch state {
	case NodeStateOverloaded:
		m.overloaded.With(prometheus.Labels{"node_id": m.id}).Set(1)

	case NodeStateUnhealthy:
		m.unhealthy.With(prometheus.Labels{"node_id": m.id}).Set(1)

	default:
		m.healthy.With(prometheus.Labels{"node_id": m.id}).Set(1)
	}
}
