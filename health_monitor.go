package epochstore

import (
	"strconv"
	"time"

	"github.com/Lord-Y/epochstore/logger"
)

// NewHealthMonitor instantiate a health monitor with the provided options.
// The monitor does nothing until StartUp is called
func NewHealthMonitor(options HealthMonitorOptions) *HealthMonitor {
	if options.Logger == nil {
		options.Logger = logger.NewLogger()
	}
	if options.SleepPeriod <= 0 {
		options.SleepPeriod = defaultSleepPeriod
	}
	if options.NumWorkers < 0 {
		options.NumWorkers = 0
	}
	if options.MaxQueueStallsAvg <= 0 {
		options.MaxQueueStallsAvg = 60 * time.Millisecond
	}
	if options.MaxQueueStallDuration <= 0 {
		options.MaxQueueStallDuration = 200 * time.Millisecond
	}
	if options.MaxOverloadedWorkerPercentage <= 0 {
		options.MaxOverloadedWorkerPercentage = 0.3
	}
	if options.MaxStallsAvg <= 0 {
		options.MaxStallsAvg = 45 * time.Millisecond
	}
	if options.MaxStalledWorkerPercentage <= 0 {
		options.MaxStalledWorkerPercentage = 0.3
	}

	h := &HealthMonitor{
		options: options,
		logger:  options.Logger,
		metrics: newMonitorMetrics(strconv.FormatUint(uint64(options.NodeID), 10), options.MetricsNamespacePrefix, options.MetricsRegisterer),
		// the node cannot be unhealthy shorter than one loop
		stateTimer: newBackoffTimer(options.SleepPeriod, options.SleepPeriod, maxTimerValue, timerMultiplier, timerDecreaseRate, timerFuzzFactor),
		done:       make(chan struct{}),
	}

	if options.Executor != nil {
		h.executor = options.Executor
	} else {
		h.ownedExec = newSerialExecutor()
		h.executor = h.ownedExec
	}

	retention := time.Duration(tsNumPeriods) * options.SleepPeriod
	h.info.numWorkers = options.NumWorkers
	h.info.workerStalls = make([]*timeSeries, options.NumWorkers)
	h.info.workerQueueStalls = make([]*timeSeries, options.NumWorkers)
	for i := 0; i < options.NumWorkers; i++ {
		h.info.workerStalls[i] = newTimeSeries(tsNumBuckets, retention)
		h.info.workerQueueStalls[i] = newTimeSeries(tsNumBuckets, retention)
	}

	return h
}

// StartUp starts the periodic monitor loop. It must be called at most once
func (h *HealthMonitor) StartUp() {
	if h.started.Swap(true) {
		return
	}
	h.executor.Add(func() {
		h.updateVariables(time.Now())
		h.monitorLoop()
	})
}

// monitorLoop schedules the next loop iteration on the executor after the
// sleep period. Runs on the executor
func (h *HealthMonitor) monitorLoop() {
	h.lastEntry = time.Now()
	time.AfterFunc(h.options.SleepPeriod, func() {
		h.executor.Add(h.loopIteration)
	})
}

// loopIteration is one wake of the monitor. Runs on the executor
func (h *HealthMonitor) loopIteration() {
	h.metrics.incrNumLoops()

	if h.shutdown.Load() {
		h.doneOnce.Do(func() { close(h.done) })
		if h.ownedExec != nil {
			// Stop waits for the runner, so it cannot run on the executor itself
			go h.ownedExec.Stop()
		}
		return
	}

	loopEntryDelay := time.Since(h.lastEntry)
	h.info.healthMonitorDelay = loopEntryDelay-h.options.SleepPeriod > maxLoopStall

	h.processReports()
	h.monitorLoop()
}

// processReports folds every report observed so far into a fresh
// classification and publishes it. Runs on the executor
func (h *HealthMonitor) processReports() {
	now := time.Now()
	h.updateVariables(now)
	h.calculateNegativeSignal(now)

	state := NodeStateHealthy
	if h.stateTimer.currentValue() > h.options.SleepPeriod {
		state = NodeStateUnhealthy
	} else if h.overloaded {
		state = NodeStateOverloaded
	}

	h.nodeState.Store(uint32(state))
	h.metrics.setNodeStateGauge(state)
	if state == NodeStateHealthy {
		h.metrics.incrStateIndicator()
	}
}

// updateVariables advances every time series and the state timer to now.
// Runs on the executor
func (h *HealthMonitor) updateVariables(now time.Time) {
	for _, ts := range h.info.workerStalls {
		ts.update(now)
	}
	for _, ts := range h.info.workerQueueStalls {
		ts.update(now)
	}
	// calc how much time has passed
	h.stateTimer.positiveFeedback(now)
}

// calculateNegativeSignal runs the stall and overload detection passes and
// applies negative feedback to the state timer. Runs on the executor
func (h *HealthMonitor) calculateNegativeSignal(now time.Time) {
	halfPeriod := h.options.SleepPeriod / 2
	h.stalls = h.isStalled(now, halfPeriod)
	h.overloaded = h.isOverloaded(now, halfPeriod)

	h.metrics.addStallIndicator(h.stalls.stalled)
	h.metrics.addOverloadIndicator(h.overloaded)

	if h.info.healthMonitorDelay || h.info.watchdogDelay ||
		h.info.totalStalledWorkers > 0 || h.stalls.stalled {
		h.stateTimer.negativeFeedback()
		h.stateTimer.positiveFeedback(now) // for timekeeping purposes
	}
	if h.stalls.criticallyStalled > 0 {
		h.stateTimer.negativeFeedback()
		h.stateTimer.positiveFeedback(now) // for timekeeping purposes
	}
}

// isOverloaded tell if enough workers have overloaded request queues.
// Detection slides windows of one sleep period (two half periods), stepped by
// half a period,
// over the last periodRange sleep periods so queuing that straddles loop
// boundaries is still seen. Runs on the executor
func (h *HealthMonitor) isOverloaded(now time.Time, halfPeriod time.Duration) bool {
	overloadedWorkers := 0
	for _, ts := range h.info.workerQueueStalls {
		for p := 2; p <= 2*periodRange; p++ {
			windowSum := ts.sum(now.Add(-time.Duration(p)*halfPeriod), now.Add(-time.Duration(p-2)*halfPeriod))
			windowCount := ts.count(now.Add(-time.Duration(p)*halfPeriod), now.Add(-time.Duration(p-2)*halfPeriod))
			if windowCount > 0 &&
				windowSum >= h.options.MaxQueueStallDuration &&
				time.Duration(float64(windowSum)/windowCount) >= h.options.MaxQueueStallsAvg {
				overloadedWorkers++
				break
			}
		}
	}
	return float64(overloadedWorkers) > h.options.MaxOverloadedWorkerPercentage*float64(len(h.info.workerQueueStalls))
}

// isStalled tell if enough workers have stalled requests and counts the
// critically stalled ones, whose average stall reached a whole sleep period.
// Runs on the executor
func (h *HealthMonitor) isStalled(now time.Time, halfPeriod time.Duration) stallInfo {
	var info stallInfo
	stalledWorkers := 0
	for _, ts := range h.info.workerStalls {
		for p := 2; p <= 2*periodRange; p++ {
			windowSum := ts.sum(now.Add(-time.Duration(p)*halfPeriod), now.Add(-time.Duration(p-2)*halfPeriod))
			windowCount := ts.count(now.Add(-time.Duration(p)*halfPeriod), now.Add(-time.Duration(p-2)*halfPeriod))
			if windowCount > 0 {
				avg := time.Duration(float64(windowSum) / windowCount)
				if avg >= h.options.MaxStallsAvg {
					// stalls lasting a whole sleep period are a serious
					// concern and take priority over shorter ones
					if avg >= h.options.SleepPeriod {
						info.criticallyStalled++
					}
					stalledWorkers++
					break
				}
			}
		}
	}
	info.stalled = float64(stalledWorkers) > h.options.MaxStalledWorkerPercentage*float64(len(h.info.workerStalls))
	return info
}

// NodeState return the last published classification
func (h *HealthMonitor) NodeState() NodeState {
	return NodeState(h.nodeState.Load())
}

// Shutdown asks the loop to stop on its next wake and return a channel
// closed once it did. Shutdown is idempotent and always return the same
// channel
func (h *HealthMonitor) Shutdown() <-chan struct{} {
	h.shutdown.Store(true)
	if !h.started.Load() {
		h.doneOnce.Do(func() { close(h.done) })
		if h.ownedExec != nil {
			go h.ownedExec.Stop()
		}
	}
	return h.done
}

// ReportWatchdogHealth records whether the process watchdog found the node
// delayed. Callable from any goroutine
func (h *HealthMonitor) ReportWatchdogHealth(delayed bool) {
	if h.shutdown.Load() {
		return
	}
	h.executor.Add(func() {
		h.info.watchdogDelay = delayed
	})
}

// ReportStalledWorkers records the number of workers an external detector
// found stalled. Callable from any goroutine
func (h *HealthMonitor) ReportStalledWorkers(numStalled int) {
	if h.shutdown.Load() {
		return
	}
	h.executor.Add(func() {
		h.info.totalStalledWorkers = numStalled
	})
}

// ReportWorkerStall records that worker idx spent duration executing a
// single request past threshold. Callable from any goroutine
func (h *HealthMonitor) ReportWorkerStall(idx int, duration time.Duration) {
	if h.shutdown.Load() {
		return
	}
	tp := time.Now()
	h.executor.Add(func() {
		if idx >= 0 && idx < len(h.info.workerStalls) {
			h.info.workerStalls[idx].addValue(tp, duration)
		}
	})
}

// ReportWorkerQueueStall records that the request queue of worker idx stayed
// non empty for duration past threshold. Callable from any goroutine
func (h *HealthMonitor) ReportWorkerQueueStall(idx int, duration time.Duration) {
	if h.shutdown.Load() {
		return
	}
	tp := time.Now()
	h.executor.Add(func() {
		if idx >= 0 && idx < len(h.info.workerQueueStalls) {
			h.info.workerQueueStalls[idx].addValue(tp, duration)
		}
	})
}
