package epochstore

// LogID identifies a log of the cluster
type LogID uint64

const (
	// LogIDInvalid is the zero log id, never a valid log
	LogIDInvalid LogID = 0

	// LogIDMax is the highest addressable data log id
	LogIDMax LogID = 1<<62 - 1

	// metaDataLogIDBit marks the companion metadata log of a data log
	metaDataLogIDBit LogID = 1 << 63
)

// MetaDataLogID return the id of the companion metadata log of logid
func MetaDataLogID(logid LogID) LogID {
	return logid | metaDataLogIDBit
}

// isMetaDataLogID tell if logid addresses a companion metadata log
func isMetaDataLogID(logid LogID) bool {
	return logid&metaDataLogIDBit != 0
}

// dataLogID strips the metadata marker and return the underlying data log id
func dataLogID(logid LogID) LogID {
	return logid &^ metaDataLogIDBit
}

// Epoch identifies a sequencer incarnation for a log.
// It's strictly monotonically non-decreasing across successful writes
type Epoch uint32

// EpochInvalid is the zero epoch, never assigned to a sequencer
const EpochInvalid Epoch = 0

const (
	// MetaDataFlagDisabled marks a log whose sequencing is administratively disabled
	MetaDataFlagDisabled uint32 = 1 << 0

	// MetaDataFlagWrittenInMetaDataLog tells the metadata has been persisted
	// in the companion metadata log
	MetaDataFlagWrittenInMetaDataLog uint32 = 1 << 1

	// MetaDataFlagHasWrittenBy tells the metadata carries the index of the
	// node that wrote it
	MetaDataFlagHasWrittenBy uint32 = 1 << 2

	// metaDataFlagsAll is the set of flags this version understands
	metaDataFlagsAll = MetaDataFlagDisabled | MetaDataFlagWrittenInMetaDataLog | MetaDataFlagHasWrittenBy
)

// ReplicationProperty describes how records of an epoch must be replicated
type ReplicationProperty struct {
	// ReplicationFactor is the number of copies of each record
	ReplicationFactor uint16
}

// IsValid tell if the replication property is usable
func (p ReplicationProperty) IsValid() bool {
	return p.ReplicationFactor >= 1
}

// EpochMetaData identifies the active sequencer and the replication placement
// of a log for the current epoch
type EpochMetaData struct {
	// Epoch is the current sequencer incarnation
	Epoch Epoch

	// EffectiveSince is the epoch since which NodeSet and Replication apply
	EffectiveSince Epoch

	// Replication describes how records must be replicated
	Replication ReplicationProperty

	// NodeSet holds the indexes of the storage nodes of the placement
	NodeSet []uint32

	// Flags qualifies the metadata, see MetaDataFlag constants
	Flags uint32

	// WrittenBy is the index of the node that wrote this metadata.
	// Only meaningful when MetaDataFlagHasWrittenBy is set
	WrittenBy uint32
}

// IsValid tell if the metadata is complete enough to be written
func (m *EpochMetaData) IsValid() bool {
	return m != nil &&
		m.Epoch != EpochInvalid &&
		m.EffectiveSince != EpochInvalid &&
		m.Epoch >= m.EffectiveSince &&
		len(m.NodeSet) > 0 &&
		m.Replication.IsValid() &&
		int(m.Replication.ReplicationFactor) <= len(m.NodeSet)
}

// Disabled tell if sequencing is administratively disabled for this log
func (m *EpochMetaData) Disabled() bool {
	return m != nil && m.Flags&MetaDataFlagDisabled != 0
}

// UpdateDecision is the outcome of a MetaDataUpdater invocation
type UpdateDecision uint32

const (
	// UpdateDecisionCreated means the log had no metadata and the updater
	// produced the first incarnation, triggering provisioning
	UpdateDecisionCreated UpdateDecision = iota

	// UpdateDecisionUpdated means the updater advanced the metadata,
	// triggering a conditional write
	UpdateDecisionUpdated

	// UpdateDecisionUpToDate means no change was needed
	UpdateDecisionUpToDate

	// UpdateDecisionFailed means the updater refused, Status carries the reason
	UpdateDecisionFailed
)

// UpdateResult carries the decision of a MetaDataUpdater together with the
// new metadata (for Created and Updated) or the failure status (for Failed)
type UpdateResult struct {
	// Decision is what the updater decided
	Decision UpdateDecision

	// MetaData is the metadata to write, required for Created and Updated
	MetaData *EpochMetaData

	// Status is the failure reason, only meaningful for Failed
	Status Status
}

// MetaDataUpdater is the caller supplied function object that, given the
// current metadata of a log (nil when the log has none), decides whether to
// provision, advance, keep or refuse it. It may be re-invoked when the
// conditional write loses against a concurrent writer and the caller retries
type MetaDataUpdater interface {
	Update(logid LogID, current *EpochMetaData) UpdateResult
}

// WriteNodeIDPolicy controls whether the index of the writing node is
// recorded in the metadata
type WriteNodeIDPolicy uint32

const (
	// WriteNodeIDKeepLast preserves whatever the stored metadata carried
	WriteNodeIDKeepLast WriteNodeIDPolicy = iota

	// WriteNodeIDWrite stamps the metadata with the local node index
	WriteNodeIDWrite

	// WriteNodeIDClear strips the node index from the metadata
	WriteNodeIDClear
)
