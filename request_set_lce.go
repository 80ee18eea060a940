package epochstore

import "bytes"

// setLastCleanEpochRequest advances the last clean epoch of a log through a
// conditional set. It refuses to move the value backwards: when the stored
// epoch is already at or past the requested one the request fails with
// StatusStale and delivers the stored value so the caller can catch up
type setLastCleanEpochRequest struct {
	// store is a non owning back reference to the epoch store
	store *EpochStore

	// logid is the log being updated, possibly a companion metadata log
	logid LogID

	// lce is the epoch to record, replaced by the stored one on StatusStale
	lce Epoch

	// tail is the tail record summarising lce, replaced alongside lce on StatusStale
	tail TailRecord

	// cb is the user completion
	cb CompletionLCE
}

func (r *setLastCleanEpochRequest) logID() LogID {
	return r.logid
}

func (r *setLastCleanEpochRequest) znodePath() string {
	return r.store.znodePathForLog(dataLogID(r.logid)) + "/" + lceZnodeName(r.logid)
}

func (r *setLastCleanEpochRequest) onGotZnodeValue(value []byte) (NextStep, Status) {
	if value == nil {
		return NextStepFailed, StatusNotFound
	}

	current, currentTail, err := DecodeLastCleanEpoch(value)
	if err != nil {
		r.store.logger.Warn().Msgf("Malformed last clean epoch znode value for log %d", r.logid)
		return NextStepFailed, StatusBadMessage
	}

	if current >= r.lce {
		r.lce = current
		r.tail = currentTail
		return NextStepFailed, StatusStale
	}

	return NextStepModify, StatusOK
}

func (r *setLastCleanEpochRequest) composeZnodeValue(buf []byte) int {
	var buffer bytes.Buffer
	if err := EncodeLastCleanEpoch(r.lce, r.tail, &buffer); err != nil {
		return -1
	}
	if buffer.Len() > len(buf) {
		return -1
	}
	return copy(buf, buffer.Bytes())
}

func (r *setLastCleanEpochRequest) postCompletion(st Status) {
	r.store.postCompletion(func() {
		r.cb(st, r.logid, r.lce, r.tail)
	})
}
