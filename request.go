package epochstore

import "github.com/google/uuid"

const (
	// znodeNameSequencer is the child znode holding the epoch metadata of a log
	znodeNameSequencer = "sequencer"

	// znodeNameDataLog is the child znode holding the last clean epoch of the data log
	znodeNameDataLog = "lce"

	// znodeNameMetaDataLog is the child znode holding the last clean epoch
	// of the companion metadata log
	znodeNameMetaDataLog = "metadata_lce"
)

// NextStep is what a request handler decides after interpreting the current
// znode value
type NextStep uint32

const (
	// NextStepProvision means the znode is absent and the full log subtree
	// must be allocated atomically with the composed initial value
	NextStepProvision NextStep = iota

	// NextStepModify means the read-modify-write continues with a conditional
	// set at the observed version
	NextStepModify

	// NextStepStop means the handler produced a final answer from the read alone
	NextStepStop

	// NextStepFailed means a validation error occurred, the status carries
	// the specifics
	NextStepFailed
)

// String return a human readable next step
func (n NextStep) String() string {
	switch n {
	case NextStepProvision:
		return "provision"
	case NextStepModify:
		return "modify"
	case NextStepStop:
		return "stop"
	}
	return "failed"
}

// request is the capability set every request kind implements. A request
// carries a non owning back reference to its store; the store outlives all
// in flight requests by virtue of the shutdown flag
type request interface {
	// logID return the log this request addresses
	logID() LogID

	// znodePath return the full path of the znode this request reads and writes
	znodePath() string

	// onGotZnodeValue interprets the current znode value, nil when the znode
	// is absent, and decides the next step. The returned status is final for
	// NextStepStop and NextStepFailed and ignored otherwise
	onGotZnodeValue(value []byte) (NextStep, Status)

	// composeZnodeValue writes the new znode value into buf and return its
	// length, or a negative value on failure
	composeZnodeValue(buf []byte) int

	// postCompletion delivers the final status to the user callback through
	// the store completion executor
	postCompletion(st Status)
}

// CompletionLCE is the user callback of last clean epoch requests
type CompletionLCE func(st Status, logid LogID, lce Epoch, tail TailRecord)

// CompletionMetaData is the user callback of epoch metadata requests
type CompletionMetaData func(st Status, logid LogID, md *EpochMetaData)

// MetaDataTracer carries the tracing context of an epoch metadata request
// across the read-modify-write chain
type MetaDataTracer struct {
	// ID is a unique id correlating all log lines of one request
	ID string

	// Action names what the caller is trying to achieve, free form
	Action string
}

// NewMetaDataTracer instantiate a tracer with a fresh id
func NewMetaDataTracer(action string) MetaDataTracer {
	return MetaDataTracer{
		ID:     uuid.NewString(),
		Action: action,
	}
}

// lceZnodeName return the last clean epoch child name for logid: companion
// metadata logs have their own znode next to the data log one
func lceZnodeName(logid LogID) string {
	if isMetaDataLogID(logid) {
		return znodeNameMetaDataLog
	}
	return znodeNameDataLog
}
