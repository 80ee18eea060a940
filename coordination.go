package epochstore

import "errors"

// SessionState represents the state of the session between the coordination
// client and the ensemble at a given point in time. It's only consulted when
// an operation failed with errInvalidSessionState to refine the error into
// the right status
type SessionState uint32

const (
	// SessionStateConnected is a live session able to serve operations
	SessionStateConnected SessionState = iota

	// SessionStateConnecting is a session currently trying to (re)connect
	SessionStateConnecting

	// SessionStateExpired is a session that the ensemble gave up on.
	// Operations failing in this state map to NotConnected
	SessionStateExpired

	// SessionStateAuthFailed is a session rejected by the ensemble auth layer
	SessionStateAuthFailed

	// SessionStateUnknown is any state the client could not classify
	SessionStateUnknown
)

// String return a human readable session state
func (s SessionState) String() string {
	switch s {
	case SessionStateConnected:
		return "connected"
	case SessionStateConnecting:
		return "connecting"
	case SessionStateExpired:
		return "expired"
	case SessionStateAuthFailed:
		return "authFailed"
	}
	return "unknown"
}

// Errors returned by Coordination implementations. Every implementation must
// normalize its native failures to this closed set so statuses can be mapped
// uniformly by the epoch store
var (
	errZnodeNotFound        = errors.New("coordination: znode not found")
	errZnodeExists          = errors.New("coordination: znode already exists")
	errBadVersion           = errors.New("coordination: znode version mismatch")
	errBadArguments         = errors.New("coordination: bad arguments")
	errInvalidSessionState  = errors.New("coordination: invalid session state")
	errSessionExpired       = errors.New("coordination: session expired")
	errAccessDenied         = errors.New("coordination: access denied")
	errConnectionClosed     = errors.New("coordination: connection closed")
	errRuntimeInconsistency = errors.New("coordination: runtime inconsistency")
	errUnknown              = errors.New("coordination: unknown error")
)

// Stat carries the znode metadata the coordination service returns with every
// read. Version increases by one on every successful write to the znode and
// is the sole basis of the conditional set
type Stat struct {
	// Version is the number of writes the znode received so far
	Version int32
}

// CreateOp is a single create operation of a multi op batch
type CreateOp struct {
	// Path is the full znode path to create
	Path string

	// Value is the initial znode value, may be empty
	Value []byte
}

// OpResponse carries the result of a single operation of a multi op batch
type OpResponse struct {
	// Err is the normalized error of this sub operation, nil on success
	Err error
}

// GetCallback is invoked when a GetData operation completes.
// value and stat are only meaningful when err is nil
type GetCallback func(err error, value []byte, stat Stat)

// SetCallback is invoked when a SetData operation completes
type SetCallback func(err error, stat Stat)

// MultiCallback is invoked when a MultiOp batch completes. results holds one
// entry per submitted operation in submission order
type MultiCallback func(err error, results []OpResponse)

// Coordination is the capability set the epoch store consumes from the
// coordination service client. All operations are asynchronous: they return
// immediately and invoke their callback on the client completion goroutine.
// Callbacks must never block
type Coordination interface {
	// GetData reads the value and stat of the znode at path
	GetData(path string, cb GetCallback)

	// SetData writes value to the znode at path only if its current version
	// equals expectedVersion, failing with errBadVersion otherwise
	SetData(path string, value []byte, expectedVersion int32, cb SetCallback)

	// MultiOp runs all create operations as a single atomic batch:
	// either all of them are applied or none are observable
	MultiOp(ops []CreateOp, cb MultiCallback)

	// State reports the current session state
	State() SessionState

	// Quorum returns the connection string this client was built from
	Quorum() string

	// Close tears the client down. Outstanding operations complete or fail
	// naturally with errConnectionClosed
	Close() error
}

// CoordinationFactory builds a coordination client from a quorum config.
// It's injected into the epoch store so it can be swapped on quorum change
// and replaced by fakes in tests
type CoordinationFactory func(config QuorumConfig) (Coordination, error)
