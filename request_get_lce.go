package epochstore

// getLastCleanEpochRequest reads the last clean epoch of a log. It's a read
// only request: it always stops after interpreting the znode value
type getLastCleanEpochRequest struct {
	// store is a non owning back reference to the epoch store
	store *EpochStore

	// logid is the log being read, possibly a companion metadata log
	logid LogID

	// cb is the user completion
	cb CompletionLCE

	// lce holds the decoded last clean epoch for the completion
	lce Epoch

	// tail holds the decoded tail record for the completion
	tail TailRecord
}

func (r *getLastCleanEpochRequest) logID() LogID {
	return r.logid
}

func (r *getLastCleanEpochRequest) znodePath() string {
	return r.store.znodePathForLog(dataLogID(r.logid)) + "/" + lceZnodeName(r.logid)
}

func (r *getLastCleanEpochRequest) onGotZnodeValue(value []byte) (NextStep, Status) {
	if value == nil {
		return NextStepFailed, StatusNotFound
	}

	lce, tail, err := DecodeLastCleanEpoch(value)
	if err != nil {
		r.store.logger.Warn().Msgf("Malformed last clean epoch znode value for log %d", r.logid)
		return NextStepFailed, StatusBadMessage
	}

	r.lce = lce
	r.tail = tail
	return NextStepStop, StatusOK
}

// composeZnodeValue is never reached for a read only request
func (r *getLastCleanEpochRequest) composeZnodeValue(buf []byte) int {
	return -1
}

func (r *getLastCleanEpochRequest) postCompletion(st Status) {
	r.store.postCompletion(func() {
		r.cb(st, r.logid, r.lce, r.tail)
	})
}
