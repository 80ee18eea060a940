package epochstore

import (
	"sync"
	"time"
)

// QuorumConfig describes how to reach the coordination service ensemble
type QuorumConfig struct {
	// Quorum is the comma separated connection string of the ensemble
	Quorum string

	// SessionTimeout is the coordination session timeout.
	// Defaults to 10 seconds when zero
	SessionTimeout time.Duration
}

// withDefaults return the config with zero fields filled in
func (c QuorumConfig) withDefaults() QuorumConfig {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 10 * time.Second
	}
	return c
}

// UpdateableQuorumConfig holds the current quorum config and notifies
// subscribers when it changes. The epoch store subscribes to it in order to
// reconnect when the cluster quorum moves
type UpdateableQuorumConfig struct {
	// mu protects current and subscribers
	mu sync.RWMutex

	// current is the config served to Get
	current QuorumConfig

	// subscribers hold the update callbacks keyed by subscription id
	subscribers map[uint64]func()

	// nextID is the id handed to the next subscriber
	nextID uint64
}

// NewUpdateableQuorumConfig instantiate an updateable config holder
func NewUpdateableQuorumConfig(config QuorumConfig) *UpdateableQuorumConfig {
	return &UpdateableQuorumConfig{
		current:     config.withDefaults(),
		subscribers: make(map[uint64]func()),
	}
}

// Get return the current config
func (u *UpdateableQuorumConfig) Get() QuorumConfig {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.current
}

// Update replaces the config and fires every subscriber callback.
// Callbacks run on the caller goroutine, after the config swap
func (u *UpdateableQuorumConfig) Update(config QuorumConfig) {
	u.mu.Lock()
	u.current = config.withDefaults()
	callbacks := make([]func(), 0, len(u.subscribers))
	for _, cb := range u.subscribers {
		callbacks = append(callbacks, cb)
	}
	u.mu.Unlock()

	for _, cb := range callbacks {
		cb()
	}
}

// Subscribe registers cb to run on every update and return a function
// removing the subscription
func (u *UpdateableQuorumConfig) Subscribe(cb func()) func() {
	u.mu.Lock()
	defer u.mu.Unlock()
	id := u.nextID
	u.nextID++
	u.subscribers[id] = cb
	return func() {
		u.mu.Lock()
		defer u.mu.Unlock()
		delete(u.subscribers, id)
	}
}
