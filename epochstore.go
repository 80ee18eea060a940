package epochstore

import (
	"strconv"
	"sync/atomic"

	"github.com/Lord-Y/epochstore/logger"
)

// NewEpochStore instantiate an epoch store with the provided options,
// builds the initial coordination client and subscribes to quorum updates
func NewEpochStore(options Options) (*EpochStore, error) {
	if options.RootPath == "" {
		if options.ClusterName == "" || len(options.ClusterName) > clusterNameLenMax {
			return nil, ErrRootPathRequired
		}
		options.RootPath = defaultRootPathPrefix + "/" + options.ClusterName + "/logs"
	}
	if options.QuorumConfig == nil {
		return nil, ErrQuorumRequired
	}
	if options.Logger == nil {
		options.Logger = logger.NewLogger()
	}
	if options.Factory == nil {
		options.Factory = func(config QuorumConfig) (Coordination, error) {
			return NewZookeeperCoordination(config, options.Logger)
		}
	}

	s := &EpochStore{
		options:      options,
		logger:       options.Logger,
		metrics:      newStoreMetrics(strconv.FormatUint(uint64(options.NodeID), 10), options.MetricsNamespacePrefix, options.MetricsRegisterer),
		quorumConfig: options.QuorumConfig,
		shuttingDown: &atomic.Bool{},
	}

	if options.CompletionExecutor != nil {
		s.completionExec = options.CompletionExecutor
	} else {
		s.ownedExec = newSerialExecutor()
		s.completionExec = s.ownedExec
	}

	client, err := options.Factory(options.QuorumConfig.Get())
	if err != nil {
		if s.ownedExec != nil {
			s.ownedExec.Stop()
		}
		return nil, err
	}
	s.coordination = client

	s.unsubscribe = options.QuorumConfig.Subscribe(s.onConfigUpdate)
	return s, nil
}

// rootPath return the znode under which each log keeps its subtree
func (s *EpochStore) rootPath() string {
	return s.options.RootPath
}

// znodePathForLog return the root of the subtree of logid
func (s *EpochStore) znodePathForLog(logid LogID) string {
	return s.rootPath() + "/" + strconv.FormatUint(uint64(logid), 10)
}

// client return the live coordination client. Requests capture the client
// they were issued on, so a quorum swap never strands their callbacks
func (s *EpochStore) client() Coordination {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordination
}

// Identify return a uri describing where this store keeps its state
func (s *EpochStore) Identify() string {
	return "coordination://" + s.client().Quorum() + s.rootPath()
}

// GetLastCleanEpoch reads the last clean epoch and tail record of logid.
// cb runs on the completion executor once the read finished
func (s *EpochStore) GetLastCleanEpoch(logid LogID, cb CompletionLCE) error {
	if dataLogID(logid) == LogIDInvalid || dataLogID(logid) > LogIDMax {
		return ErrInvalidParam
	}
	return s.runRequest(&getLastCleanEpochRequest{
		store: s,
		logid: logid,
		cb:    cb,
	})
}

// SetLastCleanEpoch advances the last clean epoch of logid to lce with the
// given tail record. Invalid tail records and tails carrying per epoch
// offsets are rejected synchronously
func (s *EpochStore) SetLastCleanEpoch(logid LogID, lce Epoch, tail TailRecord, cb CompletionLCE) error {
	if !tail.IsValid() || tail.ContainOffsetWithinEpoch() {
		s.logger.Error().Msgf("Attempting to update the last clean epoch of log %d to %d with an invalid tail record, flags %d", logid, lce, tail.Flags)
		return ErrInvalidParam
	}
	if dataLogID(logid) == LogIDInvalid || dataLogID(logid) > LogIDMax {
		return ErrInvalidParam
	}
	return s.runRequest(&setLastCleanEpochRequest{
		store: s,
		logid: logid,
		lce:   lce,
		tail:  tail,
		cb:    cb,
	})
}

// CreateOrUpdateMetaData runs updater against the current epoch metadata of
// logid and provisions or conditionally rewrites the sequencer znode
// accordingly. Companion metadata log ids are not allowed here
func (s *EpochStore) CreateOrUpdateMetaData(logid LogID, updater MetaDataUpdater, cb CompletionMetaData, tracer MetaDataTracer, writeNodeID WriteNodeIDPolicy) error {
	if logid == LogIDInvalid || logid > LogIDMax || updater == nil {
		return ErrInvalidParam
	}
	return s.runRequest(&epochMetaDataRequest{
		store:       s,
		logid:       logid,
		cb:          cb,
		updater:     updater,
		tracer:      tracer,
		writeNodeID: writeNodeID,
	})
}

// runRequest starts the read-modify-write chain of zrq: it reads the znode
// and hands the value to the request handler on completion
func (s *EpochStore) runRequest(zrq request) error {
	if s.shuttingDown.Load() {
		return ErrShutdown
	}
	client := s.client()
	client.GetData(zrq.znodePath(), func(err error, value []byte, stat Stat) {
		s.onGetZnodeComplete(err, value, stat, zrq, client)
	})
	return nil
}

// onGetZnodeComplete interprets the read result, asks the request handler for
// the next step and either provisions the log subtree, issues the conditional
// set at the observed version, or finishes the request
func (s *EpochStore) onGetZnodeComplete(err error, value []byte, stat Stat, zrq request, client Coordination) {
	st := s.mapStatus(err, zrq.logID())
	if st != StatusOK && st != StatusNotFound {
		s.finishRequest(zrq, st)
		return
	}

	valueForZrq := value
	if st == StatusNotFound {
		// no znode exists, the handler sees an absent value
		valueForZrq = nil
	} else if valueForZrq == nil {
		valueForZrq = []byte{}
	}

	next, handlerSt := zrq.onGotZnodeValue(valueForZrq)
	switch next {
	case NextStepStop, NextStepFailed:
		s.finishRequest(zrq, handlerSt)
		return
	case NextStepProvision, NextStepModify:
	}

	buf := make([]byte, znodeValueLenMax)
	size := zrq.composeZnodeValue(buf)
	if size < 0 || size > len(buf) {
		s.logger.Error().Msgf("Invalid znode value size %d composed for log %d", size, zrq.logID())
		s.finishRequest(zrq, StatusInternal)
		return
	}
	znodeValue := buf[:size]

	if next == NextStepProvision {
		s.provisionLogZnodes(zrq, znodeValue)
		return
	}

	// The conditional set below succeeds only if the current version of the
	// znode still matches the version we read. The coordination service
	// increments the version on every write, so a concurrent writer makes
	// this fail with a version mismatch, mapped to StatusAgain
	client.SetData(zrq.znodePath(), znodeValue, stat.Version, func(err error, _ Stat) {
		s.postRequestCompletion(err, zrq)
	})
}

// provisionLogZnodes atomically creates the whole subtree of a log: the log
// root, the sequencer znode with the composed value and the two empty last
// clean epoch znodes
func (s *EpochStore) provisionLogZnodes(zrq request, sequencerValue []byte) {
	logroot := s.znodePathForLog(zrq.logID())

	state := newMultiOpState(zrq)
	state.addCreateOp(logroot, nil)
	state.addCreateOp(logroot+"/"+znodeNameSequencer, sequencerValue)
	state.addCreateOp(logroot+"/"+znodeNameDataLog, nil)
	state.addCreateOp(logroot+"/"+znodeNameMetaDataLog, nil)

	state.run(s.client(), s.onLogMultiCreateComplete)
}

// onLogMultiCreateComplete routes the result of a log subtree creation.
// A missing parent hands off to the root creation machine when enabled
func (s *EpochStore) onLogMultiCreateComplete(err error, state *multiOpState) {
	st := s.mapStatus(err, state.zrq.logID())
	if st == StatusOK {
		// if everything worked well, then each individual operation
		// should've gone through fine as well
		for i, res := range state.results {
			if subSt := s.mapStatus(res.Err, state.zrq.logID()); subSt != StatusOK {
				s.logger.Error().Msgf("Sub operation %d of the provisioning of log %d completed with status %s inside a successful batch", i, state.zrq.logID(), subSt.String())
			}
		}
	} else if st == StatusNotFound {
		// znode creation failed because the root znode was not found
		if s.options.CreateRootZnodes {
			s.logger.Info().Msg("Root znode doesn't exist, creating it")

			// the original operation is retried once the root znodes exist
			s.createRootZnodes(state)
			return
		}
		s.logger.Error().Msg("Root znode doesn't exist! It has to be created by external tooling if CreateRootZnodes is set to false")
	}

	s.postRequestCompletion(err, state.zrq)
}

// createRootZnodes starts the chain creating every missing ancestor of the
// root path, deferring state until the chain completed
func (s *EpochStore) createRootZnodes(state *multiOpState) {
	createRoots := newCreateRootsState(state, s.rootPath())
	createRoots.run(s)
}

// onCreateRootZnodesComplete either surfaces the failure of an ancestor
// creation through the deferred request, or re-dispatches the deferred log
// subtree multi op now that every ancestor exists
func (s *EpochStore) onCreateRootZnodesComplete(state *createRootsState, err error) {
	st := s.mapStatus(err, LogIDInvalid)
	if st != StatusOK && st != StatusExists {
		s.logger.Error().Msgf("Unable to create root znode %s, status %s", state.nextPath(), st.String())
		s.postRequestCompletion(err, state.deferred.zrq)
		return
	}

	// all root znodes exist by now, retrying the original multi op
	state.deferred.run(s.client(), s.onLogMultiCreateComplete)
}

// postRequestCompletion maps a coordination error and delivers it to the
// request completion, unless the store is shutting down
func (s *EpochStore) postRequestCompletion(err error, zrq request) {
	s.finishRequest(zrq, s.mapStatus(err, zrq.logID()))
}

// finishRequest delivers the final status of a request. A shutdown status is
// suppressed when the store itself is being torn down; a client shutting down
// because of a quorum change still delivers, the store is still there
func (s *EpochStore) finishRequest(zrq request, st Status) {
	if st == StatusShutdown && s.shuttingDown.Load() {
		return
	}
	zrq.postCompletion(st)
}

// postCompletion enqueues a user completion on the completion executor
func (s *EpochStore) postCompletion(f func()) {
	s.completionExec.Add(f)
}

// onConfigUpdate runs on every quorum config update: when the quorum string
// changed, a fresh client is built and swapped in. In flight requests
// complete on the client they captured; new requests use the new client
func (s *EpochStore) onConfigUpdate() {
	config := s.quorumConfig.Get()
	if config.Quorum == "" {
		s.logger.Error().Msg("Coordination quorum configuration is empty, keeping the current client")
		return
	}

	current := s.client()
	if config.Quorum == current.Quorum() {
		return
	}

	s.logger.Info().Msgf("Coordination quorum changed, reconnecting to %s", config.Quorum)

	client, err := s.options.Factory(config)
	if err != nil {
		s.logger.Error().Err(err).Msg("Coordination reconnect failed, keeping the current client")
		return
	}

	s.mu.Lock()
	s.retired = append(s.retired, s.coordination)
	s.coordination = client
	s.mu.Unlock()
}

// Shutdown tears the store down asynchronously: pending completions carrying
// a shutdown status are suppressed, coordination clients are closed and the
// owned completion executor drains. Shutdown is idempotent
func (s *EpochStore) Shutdown() {
	if s.shuttingDown.Swap(true) {
		return
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
	}

	s.mu.Lock()
	clients := append([]Coordination{s.coordination}, s.retired...)
	s.retired = nil
	s.mu.Unlock()

	for _, client := range clients {
		if err := client.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Fail to close coordination client")
		}
	}

	if s.ownedExec != nil {
		// Stop waits for the drain, which must not block the caller
		go s.ownedExec.Stop()
	}
}
