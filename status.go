package epochstore

import "errors"

// Status is the internal result taxonomy of the epoch store. Asynchronous
// completions always receive a Status; synchronous API failures are reported
// with the matching sentinel error from errors.go
type Status uint32

const (
	// StatusOK means the operation succeeded
	StatusOK Status = iota

	// StatusNotFound means the znode or the log is absent
	StatusNotFound

	// StatusExists means the target was already present during a create
	StatusExists

	// StatusVersionMismatch means the conditional set lost against a
	// concurrent writer. It's remapped to StatusAgain before reaching
	// completions so callers re-drive the whole read-modify-write
	StatusVersionMismatch

	// StatusAgain means a concurrent writer won, the caller may retry
	StatusAgain

	// StatusUpToDate means the updater decided no change was needed
	StatusUpToDate

	// StatusStale means the provided value is older than the stored one
	StatusStale

	// StatusBadMessage means the znode value could not be decoded
	StatusBadMessage

	// StatusEmpty means the znode value was unexpectedly empty
	StatusEmpty

	// StatusTooBig means the composed value exceeds the znode value limit
	StatusTooBig

	// StatusDisabled means the log is administratively disabled
	StatusDisabled

	// StatusInvalidParam means the caller or the updater violated the API contract
	StatusInvalidParam

	// StatusAborted means the updater refused to proceed
	StatusAborted

	// StatusAccess means the coordination service rejected our credentials
	StatusAccess

	// StatusNotConnected means the coordination session expired
	StatusNotConnected

	// StatusShutdown means the store or the coordination client is shutting down
	StatusShutdown

	// StatusFailed means an unspecified coordination service failure
	// or a runtime inconsistency
	StatusFailed

	// StatusInternal means a programmer error was detected
	StatusInternal

	// StatusUnknown means the coordination service returned a code we don't know.
	// It never reaches completions, mapStatus remaps it to StatusFailed
	StatusUnknown
)

// String return a human readable status
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusNotFound:
		return "notFound"
	case StatusExists:
		return "exists"
	case StatusVersionMismatch:
		return "versionMismatch"
	case StatusAgain:
		return "again"
	case StatusUpToDate:
		return "upToDate"
	case StatusStale:
		return "stale"
	case StatusBadMessage:
		return "badMessage"
	case StatusEmpty:
		return "empty"
	case StatusTooBig:
		return "tooBig"
	case StatusDisabled:
		return "disabled"
	case StatusInvalidParam:
		return "invalidParam"
	case StatusAborted:
		return "aborted"
	case StatusAccess:
		return "access"
	case StatusNotConnected:
		return "notConnected"
	case StatusShutdown:
		return "shutdown"
	case StatusFailed:
		return "failed"
	case StatusInternal:
		return "internal"
	}
	return "unknown"
}

// Err bridges a Status to the matching sentinel error so synchronous callers
// can use errors.Is. StatusOK and StatusUpToDate return nil
func (s Status) Err() error {
	switch s {
	case StatusOK, StatusUpToDate:
		return nil
	case StatusNotFound:
		return ErrNotFound
	case StatusExists:
		return ErrExists
	case StatusVersionMismatch, StatusAgain:
		return ErrAgain
	case StatusStale:
		return ErrStale
	case StatusBadMessage:
		return ErrBadMessage
	case StatusEmpty:
		return ErrEmpty
	case StatusTooBig:
		return ErrTooBig
	case StatusDisabled:
		return ErrDisabled
	case StatusInvalidParam:
		return ErrInvalidParam
	case StatusAborted:
		return ErrAborted
	case StatusAccess:
		return ErrAccess
	case StatusNotConnected:
		return ErrNotConnected
	case StatusShutdown:
		return ErrShutdown
	case StatusInternal:
		return ErrInternal
	}
	return ErrFailed
}

// toStatus translates a normalized coordination error into a Status.
// It's the common part of mapStatus
func toStatus(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, errZnodeNotFound):
		return StatusNotFound
	case errors.Is(err, errZnodeExists):
		return StatusExists
	case errors.Is(err, errBadVersion):
		return StatusVersionMismatch
	case errors.Is(err, errSessionExpired):
		return StatusNotConnected
	case errors.Is(err, errAccessDenied):
		return StatusAccess
	case errors.Is(err, errConnectionClosed):
		return StatusShutdown
	case errors.Is(err, errRuntimeInconsistency):
		return StatusFailed
	}
	return StatusUnknown
}

// mapStatus translates the error a coordination operation reported into the
// Status completions carry. errBadArguments marks a programmer error;
// errInvalidSessionState is refined with the current session state, knowing
// it does not necessarily reflect the state at the time of the error; runtime
// inconsistencies are accounted; version mismatches become StatusAgain so
// callers re-drive the whole read-modify-write; unknown codes are flattened
// to StatusFailed
func (e *EpochStore) mapStatus(err error, logid LogID) Status {
	if errors.Is(err, errBadArguments) {
		e.logger.Error().Msgf("Coordination service reported bad arguments for log %d", logid)
		return StatusInternal
	}
	if errors.Is(err, errInvalidSessionState) {
		state := e.client().State()
		switch state {
		case SessionStateExpired:
			return StatusNotConnected
		case SessionStateAuthFailed:
			return StatusAccess
		}
		e.logger.Warn().Msgf("Unable to recover session state at time of error, possibly expired or authFailed, current session state is %s", state.String())
		return StatusFailed
	}
	if errors.Is(err, errRuntimeInconsistency) {
		e.logger.Error().Msgf("Got a runtime inconsistency from the coordination service for log %d", logid)
		e.metrics.incrInternalInconsistencyError()
		return StatusFailed
	}

	st := toStatus(err)
	if st == StatusVersionMismatch {
		return StatusAgain
	}
	if st == StatusUnknown {
		e.logger.Error().Err(err).Msgf("Got an unexpected error from a coordination completion for log %d", logid)
		return StatusFailed
	}
	return st
}
