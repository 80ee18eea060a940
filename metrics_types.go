package epochstore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// storeMetrics holds Prometheus metrics for monitoring the epoch store
type storeMetrics struct {
	// id is the node ID used as a label for the metrics
	id string

	// internalInconsistencyError counts runtime inconsistencies reported by
	// the coordination service
	internalInconsistencyError *prometheus.CounterVec
}

// monitorMetrics holds Prometheus metrics for monitoring the health monitor
type monitorMetrics struct {
	// id is the node ID used as a label for the metrics
	id string

	// numLoops counts health monitor loop iterations
	numLoops *prometheus.CounterVec

	// stallIndicator counts loops that observed stalled workers
	stallIndicator *prometheus.CounterVec

	// overloadIndicator counts loops that observed overloaded workers
	overloadIndicator *prometheus.CounterVec

	// stateIndicator counts loops that classified the node as healthy
	stateIndicator *prometheus.CounterVec

	// healthy is a gauge that indicates the current node state
	healthy *prometheus.GaugeVec

	// overloaded is a gauge that indicates the current node state
	overloaded *prometheus.GaugeVec

	// unhealthy is a gauge that indicates the current node state
	unhealthy *prometheus.GaugeVec
}
