// Package emergency monitors Emergency (EMCY) frames broadcast by nodes on
// COB-IDs 0x081..0x0FF. It is a consumer only: producing EMCY frames from
// this side of the link is out of scope, since the nodes this module talks
// to are the ones expected to raise them (§1 treats this stack as a
// master, never a server-side object dictionary owner).
package emergency

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/canopenkit/canopen"
)

// Error register bits, carried in byte 2 of every EMCY frame (object 0x1001).
const (
	ErrRegGeneric       byte = 0x01
	ErrRegCurrent       byte = 0x02
	ErrRegVoltage       byte = 0x04
	ErrRegTemperature   byte = 0x08
	ErrRegCommunication byte = 0x10
	ErrRegDevProfile    byte = 0x20
	ErrRegReserved      byte = 0x40
	ErrRegManufacturer  byte = 0x80
)

// Error codes, carried in bytes 0-1 (little endian) of every EMCY frame.
const (
	ErrNoError          uint16 = 0x0000
	ErrGeneric          uint16 = 0x1000
	ErrCurrent          uint16 = 0x2000
	ErrCurrentInput     uint16 = 0x2100
	ErrCurrentInside    uint16 = 0x2200
	ErrCurrentOutput    uint16 = 0x2300
	ErrVoltage          uint16 = 0x3000
	ErrVoltageMains     uint16 = 0x3100
	ErrVoltageInside    uint16 = 0x3200
	ErrVoltageOutput    uint16 = 0x3300
	ErrTemperature      uint16 = 0x4000
	ErrTempAmbient      uint16 = 0x4100
	ErrTempDevice       uint16 = 0x4200
	ErrHardware         uint16 = 0x5000
	ErrSoftwareDevice   uint16 = 0x6000
	ErrSoftwareInternal uint16 = 0x6100
	ErrSoftwareUser     uint16 = 0x6200
	ErrDataSet          uint16 = 0x6300
	ErrAdditionalModul  uint16 = 0x7000
	ErrMonitoring       uint16 = 0x8000
	ErrCommunication    uint16 = 0x8100
	ErrCanOverrun       uint16 = 0x8110
	ErrCanPassive       uint16 = 0x8120
	ErrHeartbeat        uint16 = 0x8130
	ErrBusOffRecovered  uint16 = 0x8140
	ErrCanIdCollision   uint16 = 0x8150
	ErrProtocolError    uint16 = 0x8200
	ErrPdoLength        uint16 = 0x8210
	ErrPdoLengthExc     uint16 = 0x8220
	ErrDamMpdo          uint16 = 0x8230
	ErrSyncDataLength   uint16 = 0x8240
	ErrRpdoTimeout      uint16 = 0x8250
	ErrExternalError    uint16 = 0x9000
	ErrAdditionalFunc   uint16 = 0xF000
	ErrDeviceSpecific   uint16 = 0xFF00
)

var errorCodeDescriptionMap = map[uint16]string{
	ErrNoError:          "Reset or No Error",
	ErrGeneric:          "Generic Error",
	ErrCurrent:          "Current",
	ErrCurrentInput:     "Current, device input side",
	ErrCurrentInside:    "Current inside the device",
	ErrCurrentOutput:    "Current, device output side",
	ErrVoltage:          "Voltage",
	ErrVoltageMains:     "Mains Voltage",
	ErrVoltageInside:    "Voltage inside the device",
	ErrVoltageOutput:    "Output Voltage",
	ErrTemperature:      "Temperature",
	ErrTempAmbient:      "Ambient Temperature",
	ErrTempDevice:       "Device Temperature",
	ErrHardware:         "Device Hardware",
	ErrSoftwareDevice:   "Device Software",
	ErrSoftwareInternal: "Internal Software",
	ErrSoftwareUser:     "User Software",
	ErrDataSet:          "Data Set",
	ErrAdditionalModul:  "Additional Modules",
	ErrMonitoring:       "Monitoring",
	ErrCommunication:    "Communication",
	ErrCanOverrun:       "CAN Overrun (Objects lost)",
	ErrCanPassive:       "CAN in Error Passive Mode",
	ErrHeartbeat:        "Life Guard Error or Heartbeat Error",
	ErrBusOffRecovered:  "Recovered from bus off",
	ErrCanIdCollision:   "CAN-ID collision",
	ErrProtocolError:    "Protocol Error",
	ErrPdoLength:        "PDO not processed due to length error",
	ErrPdoLengthExc:     "PDO length exceeded",
	ErrDamMpdo:          "DAM MPDO not processed, destination object not available",
	ErrSyncDataLength:   "Unexpected SYNC data length",
	ErrRpdoTimeout:      "RPDO timeout",
	ErrExternalError:    "External Error",
	ErrAdditionalFunc:   "Additional Functions",
	ErrDeviceSpecific:   "Device specific",
}

func getErrorCodeDescription(errorCode uint16) string {
	if description, ok := errorCodeDescriptionMap[errorCode]; ok {
		return description
	}
	return "unknown or device-specific error code"
}

// Record is the latest Emergency frame received from one node.
type Record struct {
	NodeId        uint8
	ErrorCode     uint16
	ErrorRegister byte
	Manufacturer  [5]byte
	Timestamp     time.Time
}

// Is reports whether the given error register bit is set on this record.
func (r Record) Is(bit byte) bool {
	return r.ErrorRegister&bit != 0
}

func (r Record) String() string {
	return getErrorCodeDescription(r.ErrorCode)
}

// ReceivedCallback is invoked with every valid Emergency frame as it
// arrives, in addition to it being stored as that node's latest Record.
type ReceivedCallback func(Record)

// Monitor listens on COB-IDs 0x081-0x0FF and keeps the most recent
// Emergency record received from each node.
type Monitor struct {
	mu       sync.Mutex
	log      *slog.Logger
	latest   map[uint8]Record
	callback ReceivedCallback
}

func NewMonitor() *Monitor {
	return &Monitor{
		log:    slog.Default().With("service", "[EMCY]"),
		latest: make(map[uint8]Record),
	}
}

// OnReceived installs a callback invoked for every Emergency frame.
func (m *Monitor) OnReceived(callback ReceivedCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// Handle implements canopen.FrameListener. A BusManager must be subscribed
// once per COB-ID in [0x081, 0x0FF]; the fixed base means the node id is
// simply frame.ID - 0x080.
func (m *Monitor) Handle(frame canopen.Frame) {
	if frame.ID < 0x081 || frame.ID > 0x0FF || frame.DLC != 8 {
		return
	}
	rec := Record{
		NodeId:        uint8(frame.ID - 0x080),
		ErrorCode:     binary.LittleEndian.Uint16(frame.Data[0:2]),
		ErrorRegister: frame.Data[2],
		Timestamp:     frame.Timestamp,
	}
	copy(rec.Manufacturer[:], frame.Data[3:8])

	m.mu.Lock()
	m.latest[rec.NodeId] = rec
	callback := m.callback
	m.mu.Unlock()

	m.log.Debug("received", "node", rec.NodeId, "code", rec.ErrorCode, "description", rec.String())
	if callback != nil {
		callback(rec)
	}
}

// Latest returns the last Emergency record observed from nodeId.
func (m *Monitor) Latest(nodeId uint8) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.latest[nodeId]
	return rec, ok
}

// Clear discards the stored record for nodeId.
func (m *Monitor) Clear(nodeId uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, nodeId)
}

// ClearAll discards every stored record.
func (m *Monitor) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest = make(map[uint8]Record)
}
