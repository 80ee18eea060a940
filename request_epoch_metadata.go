package epochstore

import "bytes"

// epochMetaDataRequest drives the read-modify-write of the sequencer znode.
// The caller supplied updater decides, given the current metadata, whether to
// provision the log, advance its epoch, keep it as is or refuse
type epochMetaDataRequest struct {
	// store is a non owning back reference to the epoch store
	store *EpochStore

	// logid is the data log whose metadata is updated
	logid LogID

	// cb is the user completion
	cb CompletionMetaData

	// updater decides the fate of the metadata
	updater MetaDataUpdater

	// tracer correlates the log lines of this request
	tracer MetaDataTracer

	// writeNodeID controls whether the writing node index is recorded
	writeNodeID WriteNodeIDPolicy

	// md is the metadata delivered to the completion: the updater output once
	// the updater decided to provision or modify, whatever the write outcome;
	// the stored metadata when the updater kept or refused it; nil when the
	// stored value could not be read or the updater output was rejected
	md *EpochMetaData
}

func (r *epochMetaDataRequest) logID() LogID {
	return r.logid
}

func (r *epochMetaDataRequest) znodePath() string {
	return r.store.znodePathForLog(r.logid) + "/" + znodeNameSequencer
}

func (r *epochMetaDataRequest) onGotZnodeValue(value []byte) (NextStep, Status) {
	var current *EpochMetaData

	if value != nil {
		if len(value) == 0 {
			return NextStepFailed, StatusEmpty
		}
		md, err := DecodeEpochMetaData(value)
		if err != nil {
			r.store.logger.Warn().Str("trace", r.tracer.ID).Msgf("Malformed epoch metadata znode value for log %d", r.logid)
			return NextStepFailed, StatusBadMessage
		}
		current = md
	}

	result := r.updater.Update(r.logid, current)
	switch result.Decision {
	case UpdateDecisionCreated:
		if current != nil {
			return NextStepFailed, StatusExists
		}
		if !result.MetaData.IsValid() {
			r.store.logger.Error().Str("trace", r.tracer.ID).Msgf("Updater produced invalid initial metadata for log %d", r.logid)
			return NextStepFailed, StatusInvalidParam
		}
		r.applyWriteNodeID(result.MetaData, nil)
		r.md = result.MetaData
		return NextStepProvision, StatusOK

	case UpdateDecisionUpdated:
		if current == nil {
			return NextStepFailed, StatusNotFound
		}
		if !result.MetaData.IsValid() {
			r.store.logger.Error().Str("trace", r.tracer.ID).Msgf("Updater produced invalid metadata for log %d", r.logid)
			return NextStepFailed, StatusInvalidParam
		}
		if !metaDataAdvances(current, result.MetaData) {
			r.store.logger.Error().Str("trace", r.tracer.ID).Msgf("Updater moved metadata of log %d backwards, from epoch %d to %d", r.logid, current.Epoch, result.MetaData.Epoch)
			return NextStepFailed, StatusInvalidParam
		}
		r.applyWriteNodeID(result.MetaData, current)
		r.md = result.MetaData
		return NextStepModify, StatusOK

	case UpdateDecisionUpToDate:
		r.md = current
		return NextStepStop, StatusUpToDate

	case UpdateDecisionFailed:
		r.md = current
		return NextStepFailed, failureStatus(result.Status)
	}

	r.store.logger.Error().Str("trace", r.tracer.ID).Msgf("Updater returned unknown decision %d for log %d", result.Decision, r.logid)
	return NextStepFailed, StatusFailed
}

func (r *epochMetaDataRequest) composeZnodeValue(buf []byte) int {
	var buffer bytes.Buffer
	if err := EncodeEpochMetaData(r.md, &buffer); err != nil {
		return -1
	}
	if buffer.Len() > len(buf) {
		return -1
	}
	return copy(buf, buffer.Bytes())
}

func (r *epochMetaDataRequest) postCompletion(st Status) {
	r.store.logger.Debug().Str("trace", r.tracer.ID).Str("action", r.tracer.Action).Msgf("Epoch metadata request for log %d completed with status %s", r.logid, st.String())
	r.store.postCompletion(func() {
		r.cb(st, r.logid, r.md)
	})
}

// applyWriteNodeID stamps, keeps or strips the writing node index on the
// metadata about to be written
func (r *epochMetaDataRequest) applyWriteNodeID(next, current *EpochMetaData) {
	switch r.writeNodeID {
	case WriteNodeIDWrite:
		next.Flags |= MetaDataFlagHasWrittenBy
		next.WrittenBy = r.store.options.NodeID
	case WriteNodeIDClear:
		next.Flags &^= MetaDataFlagHasWrittenBy
		next.WrittenBy = 0
	case WriteNodeIDKeepLast:
		if current != nil && current.Flags&MetaDataFlagHasWrittenBy != 0 {
			next.Flags |= MetaDataFlagHasWrittenBy
			next.WrittenBy = current.WrittenBy
		} else {
			next.Flags &^= MetaDataFlagHasWrittenBy
			next.WrittenBy = 0
		}
	}
}

// metaDataAdvances tell if next moves (epoch, effectiveSince) forward or
// keeps it, lexicographically
func metaDataAdvances(current, next *EpochMetaData) bool {
	if next.Epoch != current.Epoch {
		return next.Epoch > current.Epoch
	}
	return next.EffectiveSince >= current.EffectiveSince
}

// failureStatus clamps an updater supplied failure status to the set a
// failed epoch metadata request may carry
func failureStatus(st Status) Status {
	switch st {
	case StatusFailed, StatusBadMessage, StatusNotFound, StatusEmpty,
		StatusExists, StatusDisabled, StatusTooBig, StatusInvalidParam,
		StatusAborted, StatusStale:
		return st
	}
	return StatusFailed
}
