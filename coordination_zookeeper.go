package epochstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-zookeeper/zk"
	"github.com/rs/zerolog"
)

// ZookeeperCoordination adapts a real ZooKeeper ensemble to the coordination
// capability set. The zk client is synchronous, so every operation runs on
// its own goroutine and invokes the callback when the ensemble answered
type ZookeeperCoordination struct {
	// conn is the zookeeper connection, valid for the whole client lifetime
	conn *zk.Conn

	// quorum is the connection string this client was built from
	quorum string

	// logger expose zerolog so it can be override
	logger *zerolog.Logger
}

// zkLogAdapter bridges the zk client logging onto zerolog
type zkLogAdapter struct {
	logger *zerolog.Logger
}

func (a zkLogAdapter) Printf(format string, args ...interface{}) {
	a.logger.Debug().Msgf("zookeeper: "+format, args...)
}

// NewZookeeperCoordination connects to the ensemble described by config.
// The connection is established in the background; operations issued before
// the session is up are queued by the zk client
func NewZookeeperCoordination(config QuorumConfig, logger *zerolog.Logger) (*ZookeeperCoordination, error) {
	if config.Quorum == "" {
		return nil, ErrQuorumRequired
	}
	config = config.withDefaults()

	servers := strings.Split(config.Quorum, ",")
	conn, _, err := zk.Connect(servers, config.SessionTimeout, zk.WithLogger(zkLogAdapter{logger: logger}))
	if err != nil {
		return nil, err
	}

	return &ZookeeperCoordination{
		conn:   conn,
		quorum: config.Quorum,
		logger: logger,
	}, nil
}

// GetData reads the value and stat of the znode at path
func (z *ZookeeperCoordination) GetData(path string, cb GetCallback) {
	go func() {
		value, stat, err := z.conn.Get(path)
		if err != nil {
			cb(mapZkError(err), nil, Stat{})
			return
		}
		cb(nil, value, Stat{Version: stat.Version})
	}()
}

// SetData writes value to the znode at path at the expected version
func (z *ZookeeperCoordination) SetData(path string, value []byte, expectedVersion int32, cb SetCallback) {
	go func() {
		stat, err := z.conn.Set(path, value, expectedVersion)
		if err != nil {
			cb(mapZkError(err), Stat{})
			return
		}
		cb(nil, Stat{Version: stat.Version})
	}()
}

// MultiOp runs all create operations as a single atomic batch
func (z *ZookeeperCoordination) MultiOp(ops []CreateOp, cb MultiCallback) {
	go func() {
		requests := make([]interface{}, 0, len(ops))
		for _, op := range ops {
			requests = append(requests, &zk.CreateRequest{
				Path:  op.Path,
				Data:  op.Value,
				Acl:   zk.WorldACL(zk.PermAll),
				Flags: 0,
			})
		}

		responses, err := z.conn.Multi(requests...)
		results := make([]OpResponse, len(ops))
		for i := range results {
			if i < len(responses) {
				results[i] = OpResponse{Err: mapZkError(responses[i].Error)}
			}
		}
		cb(mapZkError(err), results)
	}()
}

// State reports the current session state
func (z *ZookeeperCoordination) State() SessionState {
	switch z.conn.State() {
	case zk.StateHasSession, zk.StateConnected, zk.StateConnectedReadOnly:
		return SessionStateConnected
	case zk.StateConnecting, zk.StateDisconnected:
		return SessionStateConnecting
	case zk.StateExpired:
		return SessionStateExpired
	case zk.StateAuthFailed:
		return SessionStateAuthFailed
	}
	return SessionStateUnknown
}

// Quorum return the connection string this client was built from
func (z *ZookeeperCoordination) Quorum() string {
	return z.quorum
}

// Close tears the connection down. Outstanding operations fail with
// errConnectionClosed
func (z *ZookeeperCoordination) Close() error {
	z.conn.Close()
	return nil
}

// mapZkError normalizes a zk client error to the coordination error set
func mapZkError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, zk.ErrNoNode):
		return errZnodeNotFound
	case errors.Is(err, zk.ErrNodeExists):
		return errZnodeExists
	case errors.Is(err, zk.ErrBadVersion):
		return errBadVersion
	case errors.Is(err, zk.ErrNoAuth), errors.Is(err, zk.ErrAuthFailed):
		return errAccessDenied
	case errors.Is(err, zk.ErrSessionExpired):
		return errSessionExpired
	case errors.Is(err, zk.ErrConnectionClosed), errors.Is(err, zk.ErrClosing):
		return errConnectionClosed
	case errors.Is(err, zk.ErrInvalidACL), errors.Is(err, zk.ErrInvalidFlags):
		return errBadArguments
	}
	return fmt.Errorf("%w: %v", errUnknown, err)
}
