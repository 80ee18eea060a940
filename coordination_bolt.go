package epochstore

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	bolt "go.etcd.io/bbolt"
)

const (
	// boltDBFileName is the name of the database file
	boltDBFileName string = "epochstore.db"

	// bucketZnodesName will be used to store all znode records
	bucketZnodesName string = "epochstore_znodes"
)

// BoltCoordinationOptions holds config that will be modified by users
type BoltCoordinationOptions struct {
	// DataDir is the directory holding the database file. It's required
	DataDir string

	// Quorum is the string reported by Quorum, purely descriptive
	Quorum string

	// Options hold all bolt options
	Options *bolt.Options
}

// BoltCoordination is a single process implementation of the coordination
// capability set on top of a bbolt database. Each znode is a record carrying
// its version and value; conditional sets and atomic multi creates run as
// bbolt transactions. It serves embedded deployments and the test suite,
// a real ensemble is not required
type BoltCoordination struct {
	// quorum is the descriptive connection string
	quorum string

	// db allows us to manipulate the k/v database
	db *bolt.DB

	// closed tell if Close ran, failing every subsequent operation
	closed atomic.Bool
}

// NewBoltCoordination instantiate a bbolt backed coordination client
func NewBoltCoordination(options BoltCoordinationOptions) (*BoltCoordination, error) {
	if options.DataDir == "" {
		return nil, ErrDataDirRequired
	}
	dbdir := filepath.Join(options.DataDir, "db")
	if err := os.MkdirAll(dbdir, 0750); err != nil {
		return nil, fmt.Errorf("fail to create directory %s: %w", dbdir, err)
	}

	db, err := bolt.Open(filepath.Join(dbdir, boltDBFileName), 0600, options.Options)
	if err != nil {
		return nil, err
	}

	c := &BoltCoordination{
		quorum: options.Quorum,
		db:     db,
	}
	if err := c.initializeBucket(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// initializeBucket will initialize the bucket holding the znode records
func (c *BoltCoordination) initializeBucket() error {
	return c.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketZnodesName))
		return err
	})
}

// encodeZnodeRecord permits to encode a znode version and value to its
// record representation
func encodeZnodeRecord(version int32, value []byte) []byte {
	record := make([]byte, 4+len(value))
	binary.LittleEndian.PutUint32(record, uint32(version))
	copy(record[4:], value)
	return record
}

// decodeZnodeRecord permits to decode a record back to its version and value
func decodeZnodeRecord(record []byte) (int32, []byte) {
	version := int32(binary.LittleEndian.Uint32(record))
	value := append([]byte(nil), record[4:]...)
	return version, value
}

// GetData reads the value and stat of the znode at path
func (c *BoltCoordination) GetData(path string, cb GetCallback) {
	go func() {
		if c.closed.Load() {
			cb(errConnectionClosed, nil, Stat{})
			return
		}
		var (
			value   []byte
			version int32
		)
		err := c.db.View(func(tx *bolt.Tx) error {
			record := tx.Bucket([]byte(bucketZnodesName)).Get([]byte(path))
			if record == nil {
				return errZnodeNotFound
			}
			version, value = decodeZnodeRecord(record)
			return nil
		})
		if err != nil {
			cb(err, nil, Stat{})
			return
		}
		cb(nil, value, Stat{Version: version})
	}()
}

// SetData writes value to the znode at path only if its current version
// equals expectedVersion
func (c *BoltCoordination) SetData(path string, value []byte, expectedVersion int32, cb SetCallback) {
	go func() {
		if c.closed.Load() {
			cb(errConnectionClosed, Stat{})
			return
		}
		var newVersion int32
		err := c.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket([]byte(bucketZnodesName))
			record := bucket.Get([]byte(path))
			if record == nil {
				return errZnodeNotFound
			}
			version, _ := decodeZnodeRecord(record)
			if version != expectedVersion {
				return errBadVersion
			}
			newVersion = version + 1
			return bucket.Put([]byte(path), encodeZnodeRecord(newVersion, value))
		})
		if err != nil {
			cb(err, Stat{})
			return
		}
		cb(nil, Stat{Version: newVersion})
	}()
}

// MultiOp runs all create operations inside a single bbolt transaction:
// either every znode is created or none is observable. Like the ensemble
// backed client, a create fails when the target exists or its parent does
// not. On failure the failing operation carries its own error in the
// sub results
func (c *BoltCoordination) MultiOp(ops []CreateOp, cb MultiCallback) {
	go func() {
		if c.closed.Load() {
			cb(errConnectionClosed, make([]OpResponse, len(ops)))
			return
		}
		results := make([]OpResponse, len(ops))
		err := c.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket([]byte(bucketZnodesName))
			for i, op := range ops {
				if parent := parentPath(op.Path); parent != "" && parent != "/" {
					if bucket.Get([]byte(parent)) == nil {
						results[i].Err = errZnodeNotFound
						return errZnodeNotFound
					}
				}
				if bucket.Get([]byte(op.Path)) != nil {
					results[i].Err = errZnodeExists
					return errZnodeExists
				}
				if err := bucket.Put([]byte(op.Path), encodeZnodeRecord(0, op.Value)); err != nil {
					results[i].Err = err
					return err
				}
			}
			return nil
		})
		cb(err, results)
	}()
}

// State reports the session state: a bbolt client has no session to lose,
// it's connected until closed
func (c *BoltCoordination) State() SessionState {
	if c.closed.Load() {
		return SessionStateExpired
	}
	return SessionStateConnected
}

// Quorum return the descriptive connection string
func (c *BoltCoordination) Quorum() string {
	return c.quorum
}

// Close will close the bolt database
func (c *BoltCoordination) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	return c.db.Close()
}
