package pdo

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/exp/slices"

	canopen "github.com/canopenkit/canopen"
)

// tpdoConfig is a TPDO this master listens for: a remote node produces it,
// we decode it against mapping.
type tpdoConfig struct {
	number  uint16
	cobId   uint32
	mapping []MappingEntry
	offsets []uint16
	cancel  func()
}

// rpdoConfig is an RPDO this master produces: we push raw bytes to a
// remote node's receive COB-ID. Mapping is kept for Validate and
// diagnostics; SendRPDO accepts pre-packed bytes rather than re-deriving
// the packing, since callers that built the payload already know it.
type rpdoConfig struct {
	number  uint16
	cobId   uint32
	mapping []MappingEntry
}

// ReceivedCallback is invoked for every decoded TPDO frame.
type ReceivedCallback func(PdoData)

// Manager owns every configured TPDO/RPDO for one BusManager and routes
// inbound frames to the TPDO they were configured for.
type Manager struct {
	bm  *canopen.BusManager
	log *slog.Logger

	mu      sync.Mutex
	tpdos   map[uint16]*tpdoConfig
	rpdos   map[uint16]*rpdoConfig
	byCobId map[uint32]uint16 // tpdo cobId -> pdo number, for dedupe

	callback ReceivedCallback
}

func NewManager(bm *canopen.BusManager) *Manager {
	return &Manager{
		bm:      bm,
		log:     slog.Default().With("service", "[PDO]"),
		tpdos:   make(map[uint16]*tpdoConfig),
		rpdos:   make(map[uint16]*rpdoConfig),
		byCobId: make(map[uint32]uint16),
	}
}

// OnReceived installs the callback invoked whenever a configured TPDO arrives.
func (m *Manager) OnReceived(callback ReceivedCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callback = callback
}

// ConfigureTPDO registers a TPDO this master should decode when received
// on cobId. Replacing an existing pdoNumber's configuration tears down its
// old subscription first.
func (m *Manager) ConfigureTPDO(pdoNumber uint16, cobId uint32, mapping []MappingEntry) error {
	if issues := validateMapping(mapping); len(issues) > 0 {
		return fmt.Errorf("%w: %v", canopen.ErrIllegalArgument, issues)
	}
	cobId &= canopen.CobIdMask

	m.mu.Lock()
	if existing, ok := m.byCobId[cobId]; ok && existing != pdoNumber {
		m.mu.Unlock()
		return fmt.Errorf("%w: COB-ID 0x%x already used by TPDO %d", canopen.ErrIllegalArgument, cobId, existing)
	}
	if old, ok := m.tpdos[pdoNumber]; ok {
		if old.cancel != nil {
			old.cancel()
		}
		delete(m.byCobId, old.cobId)
	}
	m.mu.Unlock()

	cfg := &tpdoConfig{
		number:  pdoNumber,
		cobId:   cobId,
		mapping: slices.Clone(mapping),
		offsets: bitOffsets(mapping),
	}
	cancel, err := m.bm.Subscribe(cobId, tpdoListener{manager: m, cfg: cfg})
	if err != nil {
		return err
	}
	cfg.cancel = cancel

	m.mu.Lock()
	m.tpdos[pdoNumber] = cfg
	m.byCobId[cobId] = pdoNumber
	m.mu.Unlock()

	m.log.Info("configured TPDO", "number", pdoNumber, "cobId", cobId, "mapped", len(mapping))
	return nil
}

// ConfigureRPDO registers an RPDO this master produces on cobId.
func (m *Manager) ConfigureRPDO(pdoNumber uint16, cobId uint32, mapping []MappingEntry) error {
	if issues := validateMapping(mapping); len(issues) > 0 {
		return fmt.Errorf("%w: %v", canopen.ErrIllegalArgument, issues)
	}
	cfg := &rpdoConfig{
		number:  pdoNumber,
		cobId:   cobId & canopen.CobIdMask,
		mapping: slices.Clone(mapping),
	}
	m.mu.Lock()
	m.rpdos[pdoNumber] = cfg
	m.mu.Unlock()
	m.log.Info("configured RPDO", "number", pdoNumber, "cobId", cfg.cobId, "mapped", len(mapping))
	return nil
}

// SendRPDO transmits data on the COB-ID configured for pdoNumber.
func (m *Manager) SendRPDO(pdoNumber uint16, data []byte) error {
	if len(data) > MaxPdoBytes {
		return canopen.ErrOversizedFrame
	}
	m.mu.Lock()
	cfg, ok := m.rpdos[pdoNumber]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: RPDO %d not configured", canopen.ErrIllegalArgument, pdoNumber)
	}
	return m.bm.Send(canopen.NewFrame(cfg.cobId, data))
}

// RequestTPDO would ask a remote node to transmit a TPDO on demand (the
// remote-request CAN frame, RTR). This module's transport never sets the
// RTR flag (§1 excludes it), so it is explicitly unsupported here rather
// than silently sending a frame the remote node will ignore.
func (m *Manager) RequestTPDO(pdoNumber uint16) error {
	return fmt.Errorf("RTR-based TPDO requests are not supported by this transport")
}

// Validate returns a human-readable issue for every configured TPDO and
// RPDO whose mapping does not fit the frame, or nil if everything
// configured so far is consistent.
func (m *Manager) Validate() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var issues []string
	for _, cfg := range m.tpdos {
		for _, issue := range validateMapping(cfg.mapping) {
			issues = append(issues, fmt.Sprintf("TPDO %d: %s", cfg.number, issue))
		}
	}
	for _, cfg := range m.rpdos {
		for _, issue := range validateMapping(cfg.mapping) {
			issues = append(issues, fmt.Sprintf("RPDO %d: %s", cfg.number, issue))
		}
	}
	return issues
}

type tpdoListener struct {
	manager *Manager
	cfg     *tpdoConfig
}

func (l tpdoListener) Handle(frame canopen.Frame) {
	data := PdoData{
		PdoNumber: l.cfg.number,
		CobId:     frame.ID,
		Payload:   frame.Payload(),
		Timestamp: frame.Timestamp,
		mapping:   l.cfg.mapping,
		offsets:   l.cfg.offsets,
	}
	l.manager.mu.Lock()
	callback := l.manager.callback
	l.manager.mu.Unlock()
	if callback != nil {
		callback(data)
	}
}
