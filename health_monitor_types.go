package epochstore

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// NodeState classifies the local node from the health monitor's point of view
type NodeState uint32

const (
	// NodeStateHealthy means the node can accept new work
	NodeStateHealthy NodeState = iota

	// NodeStateOverloaded means worker request queues are backed up
	NodeStateOverloaded

	// NodeStateUnhealthy means workers are stalling, the backoff timer is
	// above its resting value
	NodeStateUnhealthy
)

// String return a human readable node state
func (s NodeState) String() string {
	switch s {
	case NodeStateOverloaded:
		return "overloaded"
	case NodeStateUnhealthy:
		return "unhealthy"
	}
	return "healthy"
}

const (
	// defaultSleepPeriod is the nominal interval between two monitor loops
	defaultSleepPeriod = 100 * time.Millisecond

	// tsNumBuckets is the number of buckets of each worker stall time series
	tsNumBuckets int = 12

	// tsNumPeriods is how many sleep periods of stall history are retained
	tsNumPeriods int = 6

	// periodRange is how many sleep periods back the stall and overload
	// sliding windows reach
	periodRange int = 3

	// maxLoopStall is how late a loop may start before the monitor counts
	// its own delay as a negative signal
	maxLoopStall = 50 * time.Millisecond

	// maxTimerValue caps the backoff state timer
	maxTimerValue = 10 * time.Second

	// timerMultiplier grows the state timer on negative feedback
	timerMultiplier float64 = 2

	// timerDecreaseRate decays the state timer by this fraction of elapsed
	// wall time on positive feedback
	timerDecreaseRate float64 = 1

	// timerFuzzFactor randomizes the state timer growth
	timerFuzzFactor float64 = 0.1
)

// HealthMonitorOptions holds config that will be modified by users
type HealthMonitorOptions struct {
	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// Executor serializes all internal state mutation. Defaults to a monitor
	// owned serial executor
	Executor Executor

	// SleepPeriod is the nominal interval between two monitor loops.
	// Defaults to 100 milliseconds
	SleepPeriod time.Duration

	// NumWorkers is the number of workers being monitored. Required
	NumWorkers int

	// MaxQueueStallsAvg is the average queue stall at or above which a window
	// counts as overloaded. Defaults to 60 milliseconds
	MaxQueueStallsAvg time.Duration

	// MaxQueueStallDuration is the total queue stall a window must reach
	// before it can count as overloaded. Defaults to 200 milliseconds
	MaxQueueStallDuration time.Duration

	// MaxOverloadedWorkerPercentage is the fraction of overloaded workers
	// above which the node is overloaded. Defaults to 0.3
	MaxOverloadedWorkerPercentage float64

	// MaxStallsAvg is the average request stall at or above which a window
	// counts as stalled. Defaults to 45 milliseconds
	MaxStallsAvg time.Duration

	// MaxStalledWorkerPercentage is the fraction of stalled workers above
	// which the node is stalled. Defaults to 0.3
	MaxStalledWorkerPercentage float64

	// NodeID labels the metrics of this monitor
	NodeID uint32

	// MetricsNamespacePrefix is the namespace to use for all epochstore metrics
	MetricsNamespacePrefix string

	// MetricsRegisterer is the Prometheus registerer to register the metrics
	// with. Defaults to the default Prometheus registerer
	MetricsRegisterer prometheus.Registerer
}

// stallInfo is the outcome of one stall detection pass
type stallInfo struct {
	// criticallyStalled is the number of workers whose average stall reached
	// a whole sleep period
	criticallyStalled int

	// stalled tell if enough workers have stalled requests
	stalled bool
}

// internalInfo is the monitor state owned by the executor: only closures
// running on it may touch these fields
type internalInfo struct {
	// numWorkers is the number of monitored workers
	numWorkers int

	// workerStalls holds one request stall time series per worker
	workerStalls []*timeSeries

	// workerQueueStalls holds one queue stall time series per worker
	workerQueueStalls []*timeSeries

	// watchdogDelay is the last reported watchdog health
	watchdogDelay bool

	// healthMonitorDelay tell if the previous loop started too late
	healthMonitorDelay bool

	// totalStalledWorkers is the last reported number of stalled workers
	totalStalledWorkers int
}

// HealthMonitor periodically classifies the local node as healthy,
// overloaded or unhealthy from the stall reports of the workers. All
// internal state is owned by a single executor; report sinks enqueue
// mutations onto it and may be invoked from any goroutine
type HealthMonitor struct {
	// options hold the validated user configuration
	options HealthMonitorOptions

	// logger expose zerolog so it can be override through options
	logger *zerolog.Logger

	// metrics holds the Prometheus counter sink
	metrics *monitorMetrics

	// executor owns all internal state
	executor Executor

	// ownedExec is the serial executor the monitor created when none was
	// injected, stopped after shutdown
	ownedExec *serialExecutor

	// stateTimer is the backoff timer driving the unhealthy classification
	stateTimer *backoffTimer

	// info is the executor owned internal state
	info internalInfo

	// overloaded is the outcome of the last overload detection pass
	overloaded bool

	// stalls is the outcome of the last stall detection pass
	stalls stallInfo

	// lastEntry is when the previous loop was scheduled, used to detect the
	// monitor's own delay
	lastEntry time.Time

	// nodeState is the published classification, readable from any goroutine
	nodeState atomic.Uint32

	// started tell if StartUp ran
	started atomic.Bool

	// shutdown tell the loop to stop on its next wake
	shutdown atomic.Bool

	// doneOnce guards the closing of done
	doneOnce sync.Once

	// done is closed once the loop exited
	done chan struct{}
}
