// Package pdo implements Process Data Object transmission and reception:
// fixed, pre-mapped groups of object values packed into a single CAN
// frame. Unlike SDO, nothing here negotiates with an object dictionary on
// the wire; mapping is supplied directly by the caller (§1 excludes a
// server-side object dictionary), matching how this master treats every
// remote node as an opaque producer/consumer of mapped bytes.
package pdo

import (
	"fmt"
	"time"

	canopen "github.com/canopenkit/canopen"
)

const MaxPdoBits = 64
const MaxPdoBytes = 8

// MappingEntry describes one object mapped into a PDO. Index/SubIndex are
// carried only for diagnostics: BitLength, in mapping order, is what
// actually determines where the value sits in the frame.
type MappingEntry struct {
	Index     uint16
	SubIndex  uint8
	BitLength uint8
}

// TransmissionType values from CiA 301, relevant to how a TPDO is
// scheduled by its producer. Scheduling happens on the remote node; this
// package declares them for callers and does not check them itself.
const (
	TransmissionTypeSyncAcyclic = 0    // synchronous, on request
	TransmissionTypeSync1       = 1    // synchronous, every SYNC
	TransmissionTypeSync240     = 0xF0 // synchronous, every 240th SYNC
	TransmissionTypeEventLo     = 0xFE // event-driven, manufacturer specific
	TransmissionTypeEventHi     = 0xFF // event-driven, device profile specific
)

// validateMapping checks that every entry has a bit length in [1,64] and
// that the mapping's total does not exceed one frame's 64 bits, returning
// every problem found rather than stopping at the first.
func validateMapping(mapping []MappingEntry) []string {
	var issues []string
	var total uint16
	for i, e := range mapping {
		if e.BitLength == 0 || e.BitLength > MaxPdoBits {
			issues = append(issues, fmt.Sprintf("entry %d (x%x:%d): bit length %d out of range [1,64]", i, e.Index, e.SubIndex, e.BitLength))
			continue
		}
		total += uint16(e.BitLength)
	}
	if total > MaxPdoBits {
		issues = append(issues, fmt.Sprintf("mapping exceeds frame size: %d bits mapped, 64 available", total))
	}
	return issues
}

// bitOffsets returns, for each mapping entry in order, the bit offset of
// its first bit within the frame (little-endian bit numbering, matching
// CiA 301's PDO mapping convention).
func bitOffsets(mapping []MappingEntry) []uint16 {
	offsets := make([]uint16, len(mapping))
	var cursor uint16
	for i, e := range mapping {
		offsets[i] = cursor
		cursor += uint16(e.BitLength)
	}
	return offsets
}

// extractUnsigned reads bitLength bits starting at bitOffset out of
// payload, treating payload as a little-endian bit string. Bits beyond
// the end of payload read as zero, so a frame shorter than its mapping
// (a malformed or truncated PDO) still yields a value instead of panicking.
func extractUnsigned(payload []byte, bitOffset uint16, bitLength uint8) uint64 {
	var value uint64
	for i := uint8(0); i < bitLength; i++ {
		bitPos := bitOffset + uint16(i)
		byteIdx := int(bitPos / 8)
		if byteIdx >= len(payload) {
			continue
		}
		bit := (payload[byteIdx] >> (bitPos % 8)) & 0x01
		value |= uint64(bit) << i
	}
	return value
}

// extractSigned is extractUnsigned with sign extension from bit
// bitLength-1.
func extractSigned(payload []byte, bitOffset uint16, bitLength uint8) int64 {
	v := extractUnsigned(payload, bitOffset, bitLength)
	signBit := uint64(1) << (bitLength - 1)
	if v&signBit != 0 {
		v |= ^uint64(0) << bitLength
	}
	return int64(v)
}

// extractBool reads a single mapped bit as a boolean.
func extractBool(payload []byte, bitOffset uint16) bool {
	return extractUnsigned(payload, bitOffset, 1) != 0
}

// PdoData is delivered to a received-TPDO callback: the raw payload plus
// enough context to decode it against the mapping it was configured with.
type PdoData struct {
	PdoNumber uint16
	CobId     uint32
	Payload   []byte
	Timestamp time.Time

	mapping []MappingEntry
	offsets []uint16
}

// ExtractValue returns the unsigned value of the mapIndex-th mapped entry.
func (d PdoData) ExtractValue(mapIndex int) (uint64, error) {
	if mapIndex < 0 || mapIndex >= len(d.mapping) {
		return 0, fmt.Errorf("%w: map index %d out of range", canopen.ErrIllegalArgument, mapIndex)
	}
	e := d.mapping[mapIndex]
	return extractUnsigned(d.Payload, d.offsets[mapIndex], e.BitLength), nil
}

// ExtractSigned returns the sign-extended value of the mapIndex-th mapped entry.
func (d PdoData) ExtractSigned(mapIndex int) (int64, error) {
	if mapIndex < 0 || mapIndex >= len(d.mapping) {
		return 0, fmt.Errorf("%w: map index %d out of range", canopen.ErrIllegalArgument, mapIndex)
	}
	e := d.mapping[mapIndex]
	return extractSigned(d.Payload, d.offsets[mapIndex], e.BitLength), nil
}

// ExtractBool returns the mapIndex-th mapped entry as a boolean, valid
// only when that entry's BitLength is 1.
func (d PdoData) ExtractBool(mapIndex int) (bool, error) {
	if mapIndex < 0 || mapIndex >= len(d.mapping) {
		return false, fmt.Errorf("%w: map index %d out of range", canopen.ErrIllegalArgument, mapIndex)
	}
	e := d.mapping[mapIndex]
	if e.BitLength != 1 {
		return false, fmt.Errorf("entry %d is %d bits wide, not a boolean", mapIndex, e.BitLength)
	}
	return extractBool(d.Payload, d.offsets[mapIndex]), nil
}
