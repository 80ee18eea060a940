package epochstore

import "errors"

var (
	ErrNotFound             = errors.New("znode not found")
	ErrExists               = errors.New("znode already exists")
	ErrAgain                = errors.New("version mismatch, retry the read-modify-write")
	ErrUpToDate             = errors.New("stored metadata is already up to date")
	ErrStale                = errors.New("provided value is older than the stored one")
	ErrBadMessage           = errors.New("malformed znode value")
	ErrEmpty                = errors.New("empty znode value")
	ErrTooBig               = errors.New("znode value too big")
	ErrDisabled             = errors.New("log is disabled")
	ErrInvalidParam         = errors.New("invalid parameter")
	ErrAborted              = errors.New("aborted by updater")
	ErrAccess               = errors.New("access denied by coordination service")
	ErrNotConnected         = errors.New("coordination service session expired")
	ErrFailed               = errors.New("coordination service failure")
	ErrInternal             = errors.New("internal error")
	ErrShutdown             = errors.New("epoch store is shutting down")
	ErrQuorumRequired       = errors.New("coordination quorum is required")
	ErrRootPathRequired     = errors.New("root path is required")
	ErrDataDirRequired      = errors.New("data directory is required")
	ErrCoordinationRequired = errors.New("a coordination client factory is required")
)
