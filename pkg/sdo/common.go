package sdo

import (
	"encoding/binary"
	"fmt"
)

// AbortCode is the 4-byte error value carried in an Abort SDO Transfer
// frame (command specifier 0x80). Only the codes relevant to an
// expedited-only client are named; anything else is classified by range.
type AbortCode uint32

const (
	AbortToggleBit         AbortCode = 0x05030000
	AbortTimeout           AbortCode = 0x05040000
	AbortCmd               AbortCode = 0x05040001
	AbortUnsupportedAccess AbortCode = 0x06010000
	AbortWriteOnly         AbortCode = 0x06010001
	AbortReadOnly          AbortCode = 0x06010002
	AbortNotExist          AbortCode = 0x06020000
	AbortParamIncompat     AbortCode = 0x06040043
	AbortDeviceIncompat    AbortCode = 0x06040047
	AbortHardware          AbortCode = 0x06060000
	AbortTypeMismatch      AbortCode = 0x06070010
	AbortDataLong          AbortCode = 0x06070012
	AbortDataShort         AbortCode = 0x06070013
	AbortSubUnknown        AbortCode = 0x06090011
	AbortInvalidValue      AbortCode = 0x06090030
	AbortValueHigh         AbortCode = 0x06090031
	AbortValueLow          AbortCode = 0x06090032
	AbortMaxLessMin        AbortCode = 0x06090036
	AbortNoResource        AbortCode = 0x060A0023
	AbortGeneral           AbortCode = 0x08000000
	AbortDataTransfer      AbortCode = 0x08000020
	AbortDataLocalControl  AbortCode = 0x08000021
	AbortDataDeviceState   AbortCode = 0x08000022
	AbortDataOD            AbortCode = 0x08000023
	AbortNoData            AbortCode = 0x08000024
)

var abortDescriptions = map[AbortCode]string{
	AbortToggleBit:         "toggle bit not altered",
	AbortTimeout:           "SDO protocol timed out",
	AbortCmd:               "command specifier not valid or unknown",
	AbortUnsupportedAccess: "unsupported access to an object",
	AbortWriteOnly:         "attempt to read a write only object",
	AbortReadOnly:          "attempt to write a read only object",
	AbortNotExist:          "object does not exist in the object dictionary",
	AbortParamIncompat:     "general parameter incompatibility",
	AbortDeviceIncompat:    "general internal incompatibility in device",
	AbortHardware:          "access failed due to hardware error",
	AbortTypeMismatch:      "data type does not match, length does not match",
	AbortDataLong:          "data type does not match, length too high",
	AbortDataShort:         "data type does not match, length too short",
	AbortSubUnknown:        "sub index does not exist",
	AbortInvalidValue:      "invalid value for parameter",
	AbortValueHigh:         "value range of parameter written too high",
	AbortValueLow:          "value range of parameter written too low",
	AbortMaxLessMin:        "maximum value is less than minimum value",
	AbortNoResource:        "resource not available: SDO connection",
	AbortGeneral:           "general error",
	AbortDataTransfer:      "data cannot be transferred or stored to application",
	AbortDataLocalControl:  "data cannot be transferred because of local control",
	AbortDataDeviceState:   "data cannot be transferred because of present device state",
	AbortDataOD:            "object dictionary not present or dynamic generation failed",
	AbortNoData:            "no data available",
}

// Error implements error, so an AbortCode can be returned and compared
// with errors.Is/As directly.
func (a AbortCode) Error() string {
	return fmt.Sprintf("abort 0x%08X: %s", uint32(a), a.Description())
}

// Description returns a human-readable explanation of the code, falling
// back to a range-based classification for codes not in the named set
// (vendor-specific or protocol-revision codes this client doesn't know).
func (a AbortCode) Description() string {
	if d, ok := abortDescriptions[a]; ok {
		return d
	}
	switch uint32(a) >> 16 {
	case 0x0503, 0x0504:
		return "protocol error (unrecognized variant)"
	case 0x0601:
		return "unsupported access (unrecognized variant)"
	case 0x0602:
		return "object does not exist (unrecognized variant)"
	case 0x0604, 0x0607, 0x0609:
		return "parameter error (unrecognized variant)"
	case 0x0800:
		return "general error (unrecognized variant)"
	default:
		return "unknown abort code"
	}
}

const expeditedDLC = 8

// command specifier byte 0 bit layout, expedited transfers only.
const (
	csDownloadInitiate byte = 0x23 // client -> server, expedited, size indicated
	csDownloadResponse byte = 0x60 // server -> client
	csUploadInitiate   byte = 0x40 // client -> server
	csUploadResponse   byte = 0x43 // server -> client, expedited, size indicated
	csAbort            byte = 0x80
)

const sizeIndicatedMask = 0x01
const expeditedMask = 0x02
const sizeUnusedShift = 2

// encodeDownloadRequest builds the 8-byte expedited download (write) request
// for index/subIndex carrying up to 4 bytes of data.
func encodeDownloadRequest(index uint16, subIndex uint8, data []byte) [8]byte {
	var f [8]byte
	n := len(data)
	f[0] = csDownloadInitiate | expeditedMask | byte((4-n)<<sizeUnusedShift)
	binary.LittleEndian.PutUint16(f[1:3], index)
	f[3] = subIndex
	copy(f[4:4+n], data)
	return f
}

// encodeUploadRequest builds the 8-byte expedited upload (read) request.
func encodeUploadRequest(index uint16, subIndex uint8) [8]byte {
	var f [8]byte
	f[0] = csUploadInitiate
	binary.LittleEndian.PutUint16(f[1:3], index)
	f[3] = subIndex
	return f
}

// encodeAbort builds the 8-byte Abort SDO Transfer frame for index/subIndex.
func encodeAbort(index uint16, subIndex uint8, code AbortCode) [8]byte {
	var f [8]byte
	f[0] = csAbort
	binary.LittleEndian.PutUint16(f[1:3], index)
	f[3] = subIndex
	binary.LittleEndian.PutUint32(f[4:8], uint32(code))
	return f
}

// response decodes an 8-byte SDO server response.
type response struct {
	raw [8]byte
}

// isAbort reports whether raw[0]'s high three bits (the command specifier)
// equal 100, the Abort SDO Transfer specifier, rather than requiring the
// lower bits to be exactly zero as csAbort's literal value happens to be.
func (r response) isAbort() bool { return r.raw[0]&0xE0 == csAbort }

func (r response) abortCode() AbortCode {
	return AbortCode(binary.LittleEndian.Uint32(r.raw[4:8]))
}

func (r response) index() uint16    { return binary.LittleEndian.Uint16(r.raw[1:3]) }
func (r response) subIndex() uint8  { return r.raw[3] }
func (r response) matches(index uint16, subIndex uint8) bool {
	return r.index() == index && r.subIndex() == subIndex
}

// isDownloadResponse reports whether raw[0] is a valid expedited download
// confirmation.
func (r response) isDownloadResponse() bool { return r.raw[0] == csDownloadResponse }

// isUploadResponse reports whether raw[0] marks an expedited upload
// response and, if so, how many of data[4:8] are valid payload bytes.
// Requiring sizeIndicatedMask in addition to expeditedMask is stricter
// than strictly necessary (byte count only depends on e); a server that
// sets e without s is treated as unsupported rather than assumed 4 bytes.
func (r response) isUploadResponse() (n int, ok bool) {
	b := r.raw[0]
	if b&0xF0 != 0x40 {
		return 0, false
	}
	if b&expeditedMask == 0 || b&sizeIndicatedMask == 0 {
		return 0, false
	}
	unused := (b >> sizeUnusedShift) & 0x03
	return 4 - int(unused), true
}

func (r response) payload() []byte {
	n, ok := r.isUploadResponse()
	if !ok {
		return nil
	}
	return r.raw[4 : 4+n]
}
