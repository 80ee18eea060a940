package epochstore

import (
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

const (
	// clusterNameLenMax bounds the cluster name used to derive the root path
	clusterNameLenMax int = 127

	// defaultRootPathPrefix is where log subtrees live when only a cluster
	// name is configured
	defaultRootPathPrefix string = "/logdevice"
)

// Options holds config that will be modified by users
type Options struct {
	// Logger expose zerolog so it can be override
	Logger *zerolog.Logger

	// ClusterName names the cluster this store serves. Used to derive the
	// default root path; metrics are not labelled with it. Required when
	// RootPath is empty
	ClusterName string

	// RootPath is the znode under which each log keeps its subtree.
	// Defaults to /logdevice/<ClusterName>/logs
	RootPath string

	// QuorumConfig is the updateable coordination quorum configuration.
	// The store subscribes to it and reconnects when the quorum changes. Required
	QuorumConfig *UpdateableQuorumConfig

	// Factory builds coordination clients from quorum configs.
	// Defaults to the ZooKeeper adapter
	Factory CoordinationFactory

	// CreateRootZnodes allows the store to create the missing ancestors of
	// RootPath on first provisioning attempt. When false a missing root is
	// surfaced to the caller as StatusNotFound
	CreateRootZnodes bool

	// NodeID is the index of the local node, recorded in epoch metadata
	// when the WriteNodeIDWrite policy is used
	NodeID uint32

	// CompletionExecutor runs user completions. Defaults to a store owned
	// serial executor
	CompletionExecutor Executor

	// MetricsNamespacePrefix is the namespace to use for all epochstore metrics.
	// When set, the full metric name will be `<MetricsNamespacePrefix>_epochstore_<metric_name>`.
	// Otherwise it will be `epochstore_<metric_name>`
	MetricsNamespacePrefix string

	// MetricsRegisterer is the Prometheus registerer to register the metrics
	// with. Defaults to the default Prometheus registerer
	MetricsRegisterer prometheus.Registerer
}

// EpochStore is the authoritative metadata layer of the cluster: for every
// log it records the current epoch metadata and the last clean epoch of the
// data log and its companion metadata log. Every update is linearizable,
// backed by the versioned conditional set of the coordination service
type EpochStore struct {
	// options hold the validated user configuration
	options Options

	// logger expose zerolog so it can be override through options
	logger *zerolog.Logger

	// metrics holds the Prometheus counter sink
	metrics *storeMetrics

	// mu protects coordination and retired
	mu sync.RWMutex

	// coordination is the live coordination client. Swapped on quorum change;
	// in flight requests keep running on the client they were issued on
	coordination Coordination

	// retired holds clients replaced on quorum change. They are closed on
	// shutdown, once no callback can still reference them
	retired []Coordination

	// quorumConfig is the subscribed quorum configuration
	quorumConfig *UpdateableQuorumConfig

	// unsubscribe removes the quorum config subscription
	unsubscribe func()

	// shuttingDown is shared with in flight requests so completions can be
	// dropped instead of being posted to a destroyed embedder
	shuttingDown *atomic.Bool

	// completionExec runs user completions one at a time
	completionExec Executor

	// ownedExec is the serial executor the store created when no completion
	// executor was injected, stopped on shutdown
	ownedExec *serialExecutor
}
