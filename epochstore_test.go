package epochstore

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

// mockUpdater adapts a function to the MetaDataUpdater interface
type mockUpdater struct {
	update func(logid LogID, current *EpochMetaData) UpdateResult
}

func (u mockUpdater) Update(logid LogID, current *EpochMetaData) UpdateResult {
	return u.update(logid, current)
}

// provisioningUpdater provisions epoch 1 on first use and bumps the epoch
// on every later use
func provisioningUpdater() MetaDataUpdater {
	return mockUpdater{update: func(logid LogID, current *EpochMetaData) UpdateResult {
		if current == nil {
			return UpdateResult{
				Decision: UpdateDecisionCreated,
				MetaData: &EpochMetaData{
					Epoch:          1,
					EffectiveSince: 1,
					Replication:    ReplicationProperty{ReplicationFactor: 1},
					NodeSet:        []uint32{0},
				},
			}
		}
		next := *current
		next.Epoch++
		return UpdateResult{Decision: UpdateDecisionUpdated, MetaData: &next}
	}}
}

func newTestStore(t *testing.T, factory CoordinationFactory, quorum string, createRoots bool) *EpochStore {
	t.Helper()
	store, err := NewEpochStore(Options{
		ClusterName:       "c1",
		RootPath:          "/logdevice/c1/logs",
		QuorumConfig:      NewUpdateableQuorumConfig(QuorumConfig{Quorum: quorum}),
		Factory:           factory,
		CreateRootZnodes:  createRoots,
		NodeID:            7,
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(store.Shutdown)
	return store
}

func singleClientFactory(mock *mockCoordination) CoordinationFactory {
	return func(config QuorumConfig) (Coordination, error) {
		return mock, nil
	}
}

func encodeTestMetaData(t *testing.T, md *EpochMetaData) []byte {
	t.Helper()
	var buffer bytes.Buffer
	if err := EncodeEpochMetaData(md, &buffer); err != nil {
		t.Fatal(err)
	}
	return buffer.Bytes()
}

// seedLogSubtree installs a fully provisioned log in the mock
func seedLogSubtree(mock *mockCoordination, logid LogID, md *EpochMetaData) {
	var buffer bytes.Buffer
	_ = EncodeEpochMetaData(md, &buffer)
	logroot := "/logdevice/c1/logs/" + strconv.FormatUint(uint64(logid), 10)
	mock.seed("/logdevice", nil)
	mock.seed("/logdevice/c1", nil)
	mock.seed("/logdevice/c1/logs", nil)
	mock.seed(logroot, nil)
	mock.seed(logroot+"/"+znodeNameSequencer, buffer.Bytes())
	mock.seed(logroot+"/"+znodeNameDataLog, nil)
	mock.seed(logroot+"/"+znodeNameMetaDataLog, nil)
}

func waitStatus(t *testing.T, ch chan Status) Status {
	t.Helper()
	select {
	case st := <-ch:
		return st
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a completion")
		return StatusFailed
	}
}

func TestEpochStore_provisionFreshLog(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", true)

	statusChan := make(chan Status, 1)
	mdChan := make(chan *EpochMetaData, 1)
	err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
		func(st Status, logid LogID, md *EpochMetaData) {
			mdChan <- md
			statusChan <- st
		}, NewMetaDataTracer("provision"), WriteNodeIDKeepLast)
	assert.Nil(err)
	assert.Equal(StatusOK, waitStatus(t, statusChan))

	md := <-mdChan
	assert.Equal(Epoch(1), md.Epoch)

	for _, path := range []string{
		"/logdevice",
		"/logdevice/c1",
		"/logdevice/c1/logs",
		"/logdevice/c1/logs/42",
		"/logdevice/c1/logs/42/sequencer",
		"/logdevice/c1/logs/42/lce",
		"/logdevice/c1/logs/42/metadata_lce",
	} {
		assert.True(mock.exists(path), path)
	}

	t.Run("freshLogHasEmptyLastCleanEpoch", func(t *testing.T) {
		lceChan := make(chan Epoch, 1)
		err := store.GetLastCleanEpoch(42, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
			lceChan <- lce
		})
		assert.Nil(err)
		assert.Equal(StatusOK, waitStatus(t, statusChan))
		assert.Equal(EpochInvalid, <-lceChan)
	})

	t.Run("metaDataLogHasItsOwnLastCleanEpoch", func(t *testing.T) {
		err := store.GetLastCleanEpoch(MetaDataLogID(42), func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
		})
		assert.Nil(err)
		assert.Equal(StatusOK, waitStatus(t, statusChan))
	})
}

func TestEpochStore_provisionWithPartialRoots(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	mock.seed("/logdevice", nil)
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", true)

	statusChan := make(chan Status, 1)
	err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
		func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
		}, NewMetaDataTracer("provision"), WriteNodeIDKeepLast)
	assert.Nil(err)
	assert.Equal(StatusOK, waitStatus(t, statusChan))
	assert.True(mock.exists("/logdevice/c1/logs/42/sequencer"))
}

func TestEpochStore_rootCreationDisabled(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)

	statusChan := make(chan Status, 1)
	err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
		func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
		}, NewMetaDataTracer("provision"), WriteNodeIDKeepLast)
	assert.Nil(err)
	assert.Equal(StatusNotFound, waitStatus(t, statusChan))
	assert.False(mock.exists("/logdevice"))
	assert.False(mock.exists("/logdevice/c1/logs/42"))
}

func TestEpochStore_concurrentWriters(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	seedLogSubtree(mock, 42, &EpochMetaData{
		Epoch:          5,
		EffectiveSince: 1,
		Replication:    ReplicationProperty{ReplicationFactor: 1},
		NodeSet:        []uint32{0},
	})
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)

	// a competing writer lands between our read and our conditional set
	competing := encodeTestMetaData(t, &EpochMetaData{
		Epoch:          9,
		EffectiveSince: 1,
		Replication:    ReplicationProperty{ReplicationFactor: 1},
		NodeSet:        []uint32{0},
	})
	interposed := false
	mock.onGetData = func(path string) {
		if !interposed {
			interposed = true
			mock.setDirect("/logdevice/c1/logs/42/sequencer", competing)
		}
	}

	statusChan := make(chan Status, 1)
	err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
		func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
		}, NewMetaDataTracer("update"), WriteNodeIDKeepLast)
	assert.Nil(err)
	assert.Equal(StatusAgain, waitStatus(t, statusChan))

	// the competing write won, the znode moved to the next version
	assert.Equal(int32(1), mock.znodeVersion("/logdevice/c1/logs/42/sequencer"))

	t.Run("retryAfterAgainSucceeds", func(t *testing.T) {
		err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
			func(st Status, logid LogID, md *EpochMetaData) {
				statusChan <- st
			}, NewMetaDataTracer("update"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusOK, waitStatus(t, statusChan))

		stored, err := DecodeEpochMetaData(mock.znodeValue("/logdevice/c1/logs/42/sequencer"))
		assert.Nil(err)
		assert.Equal(Epoch(10), stored.Epoch)
	})
}

func TestEpochStore_setLastCleanEpoch(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	seedLogSubtree(mock, 42, &EpochMetaData{
		Epoch:          5,
		EffectiveSince: 1,
		Replication:    ReplicationProperty{ReplicationFactor: 1},
		NodeSet:        []uint32{0},
	})
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)

	statusChan := make(chan Status, 1)
	tail := TailRecord{LSN: 1000, Timestamp: 1700000000000}

	t.Run("advance", func(t *testing.T) {
		err := store.SetLastCleanEpoch(42, 3, tail, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
		})
		assert.Nil(err)
		assert.Equal(StatusOK, waitStatus(t, statusChan))

		lce, storedTail, err := DecodeLastCleanEpoch(mock.znodeValue("/logdevice/c1/logs/42/lce"))
		assert.Nil(err)
		assert.Equal(Epoch(3), lce)
		assert.Equal(uint64(1000), storedTail.LSN)
		assert.Equal(int32(1), mock.znodeVersion("/logdevice/c1/logs/42/lce"))
	})

	t.Run("staleDeliversStoredValue", func(t *testing.T) {
		lceChan := make(chan Epoch, 1)
		err := store.SetLastCleanEpoch(42, 2, tail, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
			lceChan <- lce
		})
		assert.Nil(err)
		assert.Equal(StatusStale, waitStatus(t, statusChan))
		assert.Equal(Epoch(3), <-lceChan)
	})

	t.Run("invalidTailRejectedSynchronously", func(t *testing.T) {
		getCallsBefore := mock.getCalls
		err := store.SetLastCleanEpoch(42, 4, TailRecord{LSN: 1, Timestamp: -1}, nil)
		assert.ErrorIs(err, ErrInvalidParam)

		err = store.SetLastCleanEpoch(42, 4, TailRecord{LSN: 1, Flags: TailRecordFlagOffsetWithinEpoch}, nil)
		assert.ErrorIs(err, ErrInvalidParam)
		assert.Equal(getCallsBefore, mock.getCalls)
	})

	t.Run("unprovisionedLog", func(t *testing.T) {
		err := store.SetLastCleanEpoch(43, 1, tail, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
		})
		assert.Nil(err)
		assert.Equal(StatusNotFound, waitStatus(t, statusChan))
	})
}

func TestEpochStore_getLastCleanEpoch(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)

	statusChan := make(chan Status, 1)

	t.Run("absentLog", func(t *testing.T) {
		err := store.GetLastCleanEpoch(42, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
		})
		assert.Nil(err)
		assert.Equal(StatusNotFound, waitStatus(t, statusChan))
	})

	t.Run("malformedValue", func(t *testing.T) {
		mock.seed("/logdevice/c1/logs/42/lce", []byte("garbage"))
		err := store.GetLastCleanEpoch(42, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
			statusChan <- st
		})
		assert.Nil(err)
		assert.Equal(StatusBadMessage, waitStatus(t, statusChan))
	})

	t.Run("invalidLogIDs", func(t *testing.T) {
		getCallsBefore := mock.getCalls
		assert.ErrorIs(store.GetLastCleanEpoch(LogIDInvalid, nil), ErrInvalidParam)
		assert.ErrorIs(store.GetLastCleanEpoch(LogIDMax+1, nil), ErrInvalidParam)
		assert.Equal(getCallsBefore, mock.getCalls)
	})
}

func TestEpochStore_createOrUpdateMetaData(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	seedLogSubtree(mock, 42, &EpochMetaData{
		Epoch:          5,
		EffectiveSince: 2,
		Replication:    ReplicationProperty{ReplicationFactor: 1},
		NodeSet:        []uint32{0, 1},
	})
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)

	statusChan := make(chan Status, 1)

	t.Run("upToDate", func(t *testing.T) {
		mdChan := make(chan *EpochMetaData, 1)
		err := store.CreateOrUpdateMetaData(42, mockUpdater{update: func(logid LogID, current *EpochMetaData) UpdateResult {
			return UpdateResult{Decision: UpdateDecisionUpToDate}
		}}, func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
			mdChan <- md
		}, NewMetaDataTracer("noop"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusUpToDate, waitStatus(t, statusChan))
		md := <-mdChan
		assert.Equal(Epoch(5), md.Epoch)
	})

	t.Run("updaterRefusesStale", func(t *testing.T) {
		err := store.CreateOrUpdateMetaData(42, mockUpdater{update: func(logid LogID, current *EpochMetaData) UpdateResult {
			return UpdateResult{Decision: UpdateDecisionFailed, Status: StatusStale}
		}}, func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
		}, NewMetaDataTracer("stale"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusStale, waitStatus(t, statusChan))
	})

	t.Run("updaterMovingBackwardsIsRejected", func(t *testing.T) {
		err := store.CreateOrUpdateMetaData(42, mockUpdater{update: func(logid LogID, current *EpochMetaData) UpdateResult {
			next := *current
			next.Epoch = 4
			return UpdateResult{Decision: UpdateDecisionUpdated, MetaData: &next}
		}}, func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
		}, NewMetaDataTracer("backwards"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusInvalidParam, waitStatus(t, statusChan))
	})

	t.Run("oversizeComposedValue", func(t *testing.T) {
		setCallsBefore := mock.setCalls
		err := store.CreateOrUpdateMetaData(42, mockUpdater{update: func(logid LogID, current *EpochMetaData) UpdateResult {
			next := *current
			next.Epoch++
			next.NodeSet = make([]uint32, 300)
			return UpdateResult{Decision: UpdateDecisionUpdated, MetaData: &next}
		}}, func(st Status, logid LogID, md *EpochMetaData) {
			statusChan <- st
		}, NewMetaDataTracer("oversize"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusInternal, waitStatus(t, statusChan))
		assert.Equal(setCallsBefore, mock.setCalls)
	})

	t.Run("writeNodeIDPolicy", func(t *testing.T) {
		err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
			func(st Status, logid LogID, md *EpochMetaData) {
				statusChan <- st
			}, NewMetaDataTracer("stamp"), WriteNodeIDWrite)
		assert.Nil(err)
		assert.Equal(StatusOK, waitStatus(t, statusChan))

		stored, err := DecodeEpochMetaData(mock.znodeValue("/logdevice/c1/logs/42/sequencer"))
		assert.Nil(err)
		assert.NotZero(stored.Flags & MetaDataFlagHasWrittenBy)
		assert.Equal(uint32(7), stored.WrittenBy)
	})

	t.Run("invalidParams", func(t *testing.T) {
		assert.ErrorIs(store.CreateOrUpdateMetaData(LogIDInvalid, provisioningUpdater(), nil, MetaDataTracer{}, WriteNodeIDKeepLast), ErrInvalidParam)
		assert.ErrorIs(store.CreateOrUpdateMetaData(MetaDataLogID(42), provisioningUpdater(), nil, MetaDataTracer{}, WriteNodeIDKeepLast), ErrInvalidParam)
		assert.ErrorIs(store.CreateOrUpdateMetaData(42, nil, nil, MetaDataTracer{}, WriteNodeIDKeepLast), ErrInvalidParam)
	})
}

func TestEpochStore_metaDataValueValidation(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)
	statusChan := make(chan Status, 1)

	t.Run("emptyValue", func(t *testing.T) {
		mock.seed("/logdevice/c1/logs/42/sequencer", nil)
		err := store.CreateOrUpdateMetaData(42, provisioningUpdater(),
			func(st Status, logid LogID, md *EpochMetaData) {
				statusChan <- st
			}, NewMetaDataTracer("empty"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusEmpty, waitStatus(t, statusChan))
	})

	t.Run("malformedValue", func(t *testing.T) {
		mock.seed("/logdevice/c1/logs/43/sequencer", []byte("garbage"))
		err := store.CreateOrUpdateMetaData(43, provisioningUpdater(),
			func(st Status, logid LogID, md *EpochMetaData) {
				statusChan <- st
			}, NewMetaDataTracer("garbage"), WriteNodeIDKeepLast)
		assert.Nil(err)
		assert.Equal(StatusBadMessage, waitStatus(t, statusChan))
	})
}

func TestEpochStore_quorumChange(t *testing.T) {
	assert := assert.New(t)
	oldClient := newMockCoordination("zk1:2181")
	newClient := newMockCoordination("zk2:2181")
	seedLogSubtree(oldClient, 42, &EpochMetaData{
		Epoch:          1,
		EffectiveSince: 1,
		Replication:    ReplicationProperty{ReplicationFactor: 1},
		NodeSet:        []uint32{0},
	})
	seedLogSubtree(newClient, 42, &EpochMetaData{
		Epoch:          1,
		EffectiveSince: 1,
		Replication:    ReplicationProperty{ReplicationFactor: 1},
		NodeSet:        []uint32{0},
	})

	gate := make(chan struct{})
	oldClient.gateGet = gate

	quorumConfig := NewUpdateableQuorumConfig(QuorumConfig{Quorum: "zk1:2181"})
	clients := map[string]*mockCoordination{"zk1:2181": oldClient, "zk2:2181": newClient}
	store, err := NewEpochStore(Options{
		RootPath:     "/logdevice/c1/logs",
		QuorumConfig: quorumConfig,
		Factory: func(config QuorumConfig) (Coordination, error) {
			return clients[config.Quorum], nil
		},
		MetricsRegisterer: prometheus.NewRegistry(),
	})
	assert.Nil(err)
	defer store.Shutdown()

	assert.Equal("coordination://zk1:2181/logdevice/c1/logs", store.Identify())

	// a request in flight on the old client when the quorum changes
	pendingChan := make(chan Status, 1)
	err = store.GetLastCleanEpoch(42, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
		pendingChan <- st
	})
	assert.Nil(err)

	quorumConfig.Update(QuorumConfig{Quorum: "zk2:2181"})
	assert.Equal("coordination://zk2:2181/logdevice/c1/logs", store.Identify())

	// a fresh request uses the new client
	statusChan := make(chan Status, 1)
	err = store.GetLastCleanEpoch(42, func(st Status, logid LogID, lce Epoch, tail TailRecord) {
		statusChan <- st
	})
	assert.Nil(err)
	assert.Equal(StatusOK, waitStatus(t, statusChan))
	assert.Equal(1, newClient.getCalls)

	// the pending request still completes, on the old client
	close(gate)
	assert.Equal(StatusOK, waitStatus(t, pendingChan))
	assert.Equal(1, oldClient.getCalls)
}

func TestEpochStore_shutdown(t *testing.T) {
	assert := assert.New(t)
	mock := newMockCoordination("zk1:2181")
	store := newTestStore(t, singleClientFactory(mock), "zk1:2181", false)

	store.Shutdown()
	store.Shutdown()

	assert.ErrorIs(store.GetLastCleanEpoch(42, nil), ErrShutdown)
	assert.ErrorIs(store.CreateOrUpdateMetaData(42, provisioningUpdater(), nil, MetaDataTracer{}, WriteNodeIDKeepLast), ErrShutdown)
}

func TestEpochStore_optionsValidation(t *testing.T) {
	assert := assert.New(t)

	_, err := NewEpochStore(Options{QuorumConfig: NewUpdateableQuorumConfig(QuorumConfig{Quorum: "zk1:2181"})})
	assert.ErrorIs(err, ErrRootPathRequired)

	_, err = NewEpochStore(Options{RootPath: "/logdevice/c1/logs"})
	assert.ErrorIs(err, ErrQuorumRequired)
}
