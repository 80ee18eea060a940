package epochstore

import (
	"bytes"
	"encoding/binary"
	"io"
)

const (
	// epochMetaDataFormatVersion is the current wire format of the sequencer znode
	epochMetaDataFormatVersion uint8 = 1

	// lastCleanEpochFormatVersion is the current wire format of the lce znodes
	lastCleanEpochFormatVersion uint8 = 1

	// znodeValueLenMax is the upper bound of any composed znode value.
	// Composing a bigger value is a programmer error
	znodeValueLenMax int = 1024

	// nodeSetLenMax bounds the nodeset so any metadata fits znodeValueLenMax
	nodeSetLenMax int = 127
)

// EncodeEpochMetaData permits to transform epoch metadata to its znode value encoding
func EncodeEpochMetaData(md *EpochMetaData, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, epochMetaDataFormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, md.Flags); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(md.Epoch)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(md.EffectiveSince)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, md.Replication.ReplicationFactor); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, md.WrittenBy); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(md.NodeSet))); err != nil {
		return err
	}
	for _, node := range md.NodeSet {
		if err := binary.Write(w, binary.LittleEndian, node); err != nil {
			return err
		}
	}
	return nil
}

// DecodeEpochMetaData permits to transform back a znode value to epoch metadata
func DecodeEpochMetaData(data []byte) (*EpochMetaData, error) {
	var md EpochMetaData
	buffer := bytes.NewBuffer(data)

	var format uint8
	if err := binary.Read(buffer, binary.LittleEndian, &format); err != nil {
		return nil, ErrBadMessage
	}
	if format != epochMetaDataFormatVersion {
		return nil, ErrBadMessage
	}

	if err := binary.Read(buffer, binary.LittleEndian, &md.Flags); err != nil {
		return nil, ErrBadMessage
	}
	if md.Flags&^metaDataFlagsAll != 0 {
		return nil, ErrBadMessage
	}

	var epoch, effectiveSince uint32
	if err := binary.Read(buffer, binary.LittleEndian, &epoch); err != nil {
		return nil, ErrBadMessage
	}
	if err := binary.Read(buffer, binary.LittleEndian, &effectiveSince); err != nil {
		return nil, ErrBadMessage
	}
	md.Epoch = Epoch(epoch)
	md.EffectiveSince = Epoch(effectiveSince)

	if err := binary.Read(buffer, binary.LittleEndian, &md.Replication.ReplicationFactor); err != nil {
		return nil, ErrBadMessage
	}
	if err := binary.Read(buffer, binary.LittleEndian, &md.WrittenBy); err != nil {
		return nil, ErrBadMessage
	}

	var nodesetLen uint16
	if err := binary.Read(buffer, binary.LittleEndian, &nodesetLen); err != nil {
		return nil, ErrBadMessage
	}
	if int(nodesetLen) > nodeSetLenMax {
		return nil, ErrBadMessage
	}
	md.NodeSet = make([]uint32, nodesetLen)
	for i := range md.NodeSet {
		if err := binary.Read(buffer, binary.LittleEndian, &md.NodeSet[i]); err != nil {
			return nil, ErrBadMessage
		}
	}

	if !md.IsValid() {
		return nil, ErrBadMessage
	}
	return &md, nil
}

// EncodeLastCleanEpoch permits to transform a last clean epoch and its tail
// record to their znode value encoding
func EncodeLastCleanEpoch(lce Epoch, tail TailRecord, w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, lastCleanEpochFormatVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(lce)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, tail.LSN); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, tail.Timestamp); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, tail.Flags); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, tail.PayloadHash); err != nil {
		return err
	}
	return nil
}

// DecodeLastCleanEpoch permits to transform back a znode value to a last
// clean epoch and its tail record. An empty value decodes to the invalid
// epoch with an empty tail: that's the state of a freshly provisioned log
func DecodeLastCleanEpoch(data []byte) (Epoch, TailRecord, error) {
	var tail TailRecord
	if len(data) == 0 {
		return EpochInvalid, tail, nil
	}

	buffer := bytes.NewBuffer(data)

	var format uint8
	if err := binary.Read(buffer, binary.LittleEndian, &format); err != nil {
		return EpochInvalid, tail, ErrBadMessage
	}
	if format != lastCleanEpochFormatVersion {
		return EpochInvalid, tail, ErrBadMessage
	}

	var lce uint32
	if err := binary.Read(buffer, binary.LittleEndian, &lce); err != nil {
		return EpochInvalid, tail, ErrBadMessage
	}
	if err := binary.Read(buffer, binary.LittleEndian, &tail.LSN); err != nil {
		return EpochInvalid, tail, ErrBadMessage
	}
	if err := binary.Read(buffer, binary.LittleEndian, &tail.Timestamp); err != nil {
		return EpochInvalid, tail, ErrBadMessage
	}
	if err := binary.Read(buffer, binary.LittleEndian, &tail.Flags); err != nil {
		return EpochInvalid, tail, ErrBadMessage
	}
	if err := binary.Read(buffer, binary.LittleEndian, &tail.PayloadHash); err != nil {
		return EpochInvalid, tail, ErrBadMessage
	}

	if !tail.IsValid() {
		return EpochInvalid, tail, ErrBadMessage
	}
	return Epoch(lce), tail, nil
}
