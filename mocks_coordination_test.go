package epochstore

import "sync"

// mockZnode is one record of the mock coordination service
type mockZnode struct {
	value   []byte
	version int32
}

// mockCoordination is an in memory scriptable coordination client. Operations
// complete synchronously on the caller goroutine unless gated; hooks let
// tests interleave competing writes between a read and its conditional set
type mockCoordination struct {
	mu           sync.Mutex
	znodes       map[string]*mockZnode
	quorum       string
	sessionState SessionState

	// getErr fails GetData on the given path with the given error
	getErr map[string]error

	// setErr fails SetData on the given path with the given error
	setErr map[string]error

	// multiErr fails every MultiOp batch with the given error
	multiErr error

	// onGetData, when set, runs after the read captured value and stat but
	// before the callback fires, so a competing write lands in between
	onGetData func(path string)

	// gateGet, when set, delays every GetData completion until the channel
	// is closed. Completions then run on their own goroutine
	gateGet chan struct{}

	getCalls   int
	setCalls   int
	multiCalls int
}

func newMockCoordination(quorum string) *mockCoordination {
	return &mockCoordination{
		znodes:       make(map[string]*mockZnode),
		quorum:       quorum,
		sessionState: SessionStateConnected,
		getErr:       make(map[string]error),
		setErr:       make(map[string]error),
	}
}

// seed installs a znode at version 0
func (m *mockCoordination) seed(path string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.znodes[path] = &mockZnode{value: append([]byte(nil), value...)}
}

// setDirect rewrites a znode out of band, bumping its version, the way a
// competing writer would
func (m *mockCoordination) setDirect(path string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	znode := m.znodes[path]
	znode.value = append([]byte(nil), value...)
	znode.version++
}

func (m *mockCoordination) setSessionState(state SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionState = state
}

func (m *mockCoordination) exists(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.znodes[path]
	return ok
}

func (m *mockCoordination) znodeVersion(path string) int32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.znodes[path].version
}

func (m *mockCoordination) znodeValue(path string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.znodes[path].value...)
}

func (m *mockCoordination) GetData(path string, cb GetCallback) {
	m.mu.Lock()
	m.getCalls++
	err := m.getErr[path]
	var (
		value []byte
		stat  Stat
	)
	if err == nil {
		znode, ok := m.znodes[path]
		if !ok {
			err = errZnodeNotFound
		} else {
			value = append([]byte(nil), znode.value...)
			stat = Stat{Version: znode.version}
		}
	}
	hook := m.onGetData
	gate := m.gateGet
	m.mu.Unlock()

	complete := func() {
		if hook != nil {
			hook(path)
		}
		cb(err, value, stat)
	}
	if gate != nil {
		go func() {
			<-gate
			complete()
		}()
		return
	}
	complete()
}

func (m *mockCoordination) SetData(path string, value []byte, expectedVersion int32, cb SetCallback) {
	m.mu.Lock()
	m.setCalls++
	err := m.setErr[path]
	var stat Stat
	if err == nil {
		znode, ok := m.znodes[path]
		switch {
		case !ok:
			err = errZnodeNotFound
		case znode.version != expectedVersion:
			err = errBadVersion
		default:
			znode.value = append([]byte(nil), value...)
			znode.version++
			stat = Stat{Version: znode.version}
		}
	}
	m.mu.Unlock()
	cb(err, stat)
}

func (m *mockCoordination) MultiOp(ops []CreateOp, cb MultiCallback) {
	m.mu.Lock()
	m.multiCalls++
	results := make([]OpResponse, len(ops))
	err := m.multiErr

	if err == nil {
		// stage the batch so a failure leaves nothing observable
		staged := make(map[string]*mockZnode)
		for i, op := range ops {
			if parent := parentPath(op.Path); parent != "" && parent != "/" {
				_, inStore := m.znodes[parent]
				_, inBatch := staged[parent]
				if !inStore && !inBatch {
					results[i].Err = errZnodeNotFound
					err = errZnodeNotFound
					break
				}
			}
			if _, ok := m.znodes[op.Path]; ok {
				results[i].Err = errZnodeExists
				err = errZnodeExists
				break
			}
			staged[op.Path] = &mockZnode{value: append([]byte(nil), op.Value...)}
		}
		if err == nil {
			for path, znode := range staged {
				m.znodes[path] = znode
			}
		}
	}
	m.mu.Unlock()
	cb(err, results)
}

func (m *mockCoordination) State() SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionState
}

func (m *mockCoordination) Quorum() string {
	return m.quorum
}

func (m *mockCoordination) Close() error {
	return nil
}
