package epochstore

const (
	// TailRecordFlagHasPayloadHash tells the tail carries a payload hash
	TailRecordFlagHasPayloadHash uint32 = 1 << 0

	// TailRecordFlagOffsetWithinEpoch marks a tail that carries per epoch
	// offsets. Such tails are only meaningful inside recovery and must never
	// be written to the last clean epoch znode
	TailRecordFlagOffsetWithinEpoch uint32 = 1 << 1

	// tailRecordFlagsAll is the set of flags this version understands
	tailRecordFlagsAll = TailRecordFlagHasPayloadHash | TailRecordFlagOffsetWithinEpoch
)

// TailRecord is a compact summary of the last record of an epoch
type TailRecord struct {
	// LSN is the sequence number of the tail record
	LSN uint64

	// Timestamp is the tail record timestamp in milliseconds since the unix epoch
	Timestamp int64

	// Flags qualifies the tail, see TailRecordFlag constants
	Flags uint32

	// PayloadHash is a hash of the tail record payload.
	// Only meaningful when TailRecordFlagHasPayloadHash is set
	PayloadHash uint64
}

// IsValid tell if the tail record can be persisted: the timestamp must not
// predate the unix epoch and no unknown flag bit may be set
func (t TailRecord) IsValid() bool {
	return t.Timestamp >= 0 && t.Flags&^tailRecordFlagsAll == 0
}

// ContainOffsetWithinEpoch tell if the tail carries per epoch offsets
func (t TailRecord) ContainOffsetWithinEpoch() bool {
	return t.Flags&TailRecordFlagOffsetWithinEpoch != 0
}
