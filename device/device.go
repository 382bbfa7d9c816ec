// Package device is the facade: one Device binds a node id to an SDO
// client, PDO manager, Heartbeat consumer and Emergency monitor (plus a
// SYNC producer created on first EnableSync), and mirrors the observed NMT
// state of that node. NMT commands go through a caller-supplied nmt.Master.
package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	canopen "github.com/canopenkit/canopen"
	"github.com/canopenkit/canopen/pkg/emergency"
	"github.com/canopenkit/canopen/pkg/heartbeat"
	"github.com/canopenkit/canopen/pkg/nmt"
	"github.com/canopenkit/canopen/pkg/pdo"
	"github.com/canopenkit/canopen/pkg/sdo"
	syncpdo "github.com/canopenkit/canopen/pkg/sync"
)

// Device is a single remote node as seen by this master: one SDO client,
// one set of configured PDOs, and an observed NMT state kept current by
// whichever of NMT commands or Heartbeat arrives last.
type Device struct {
	bm     *canopen.BusManager
	nodeId uint8

	SDO  *sdo.Client
	PDO  *pdo.Manager
	HB   *heartbeat.Consumer
	EMCY *emergency.Monitor

	mu       sync.Mutex
	nmtState uint8
	syncProd *syncpdo.Producer
}

// New binds nodeId. sdoTimeout of 0 uses sdo.DefaultTimeout.
func New(bm *canopen.BusManager, nodeId uint8, sdoTimeout time.Duration) (*Device, error) {
	if nodeId == 0 || nodeId > 127 {
		return nil, fmt.Errorf("%w: node id %d out of range", canopen.ErrIllegalArgument, nodeId)
	}
	sdoClient, err := sdo.NewClient(bm, nodeId, sdoTimeout)
	if err != nil {
		return nil, err
	}
	d := &Device{
		bm:       bm,
		nodeId:   nodeId,
		SDO:      sdoClient,
		PDO:      pdo.NewManager(bm),
		HB:       heartbeat.NewConsumer(bm),
		EMCY:     emergency.NewMonitor(),
		nmtState: canopen.NMTPreOperational,
	}
	d.HB.OnEvent(d.onHeartbeatEvent)
	return d, nil
}

// NodeId returns the bound node id.
func (d *Device) NodeId() uint8 { return d.nodeId }

// NMTState returns the device's cached view of the node's NMT state,
// updated optimistically on outbound commands and confirmed by Heartbeat.
func (d *Device) NMTState() uint8 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.nmtState
}

func (d *Device) setNMTState(state uint8) {
	d.mu.Lock()
	d.nmtState = state
	d.mu.Unlock()
}

func (d *Device) onHeartbeatEvent(ev heartbeat.Event) {
	if ev.NodeId != d.nodeId {
		return
	}
	switch ev.Kind {
	case heartbeat.EventTimeout:
		d.setNMTState(canopen.NMTUnknown)
	case heartbeat.EventAlive, heartbeat.EventBootUp:
		d.setNMTState(canopen.DecodeNMTState(ev.NMTState))
	}
}

// Start sends an NMT command requesting Operational and updates the
// cached state optimistically; Heartbeat will confirm or correct it.
func (d *Device) Start(master *nmt.Master) error {
	if err := master.Start(d.nodeId); err != nil {
		return err
	}
	d.setNMTState(canopen.NMTOperational)
	return nil
}

// Stop sends an NMT command requesting Stopped.
func (d *Device) Stop(master *nmt.Master) error {
	if err := master.Stop(d.nodeId); err != nil {
		return err
	}
	d.setNMTState(canopen.NMTStopped)
	return nil
}

// PreOperational sends an NMT command requesting Pre-operational.
func (d *Device) PreOperational(master *nmt.Master) error {
	if err := master.PreOperational(d.nodeId); err != nil {
		return err
	}
	d.setNMTState(canopen.NMTPreOperational)
	return nil
}

// WatchHeartbeat begins monitoring this node's Heartbeat with timeout.
func (d *Device) WatchHeartbeat(timeout time.Duration) error {
	return d.HB.Monitor(d.nodeId, timeout)
}

// UnwatchHeartbeat stops monitoring this node's Heartbeat.
func (d *Device) UnwatchHeartbeat() {
	d.HB.Stop(d.nodeId)
}

// EnableSync starts a SYNC producer for this device's bus, creating it on
// first call. Since SYNC is a bus-wide signal rather than a per-node one,
// calling EnableSync on more than one Device sharing a BusManager starts
// redundant producers; callers that manage several Devices on one bus
// should own a single syncpdo.Producer themselves instead.
func (d *Device) EnableSync(period time.Duration, counterOverflow uint8) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.syncProd == nil {
		prod, err := syncpdo.NewProducer(d.bm, period, counterOverflow)
		if err != nil {
			return err
		}
		d.syncProd = prod
	}
	d.syncProd.Start()
	return nil
}

// DisableSync stops the SYNC producer if one was started.
func (d *Device) DisableSync() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.syncProd != nil {
		d.syncProd.Stop()
	}
}

// WatchEmergency subscribes the device's Emergency monitor to this node's
// EMCY COB-ID (0x080 + nodeId).
func (d *Device) WatchEmergency() error {
	_, err := d.bm.Subscribe(canopen.CobIdEMCY+uint32(d.nodeId), d.EMCY)
	return err
}

// StandardTPDOCobId returns the predefined COB-ID for this node's Nth
// TPDO (1-4), per the CiA 301 predefined connection set.
func StandardTPDOCobId(nodeId uint8, pdoNumber int) (uint32, error) {
	base, err := standardPdoBase(true, pdoNumber)
	if err != nil {
		return 0, err
	}
	return base + uint32(nodeId), nil
}

// StandardRPDOCobId returns the predefined COB-ID for this node's Nth
// RPDO (1-4).
func StandardRPDOCobId(nodeId uint8, pdoNumber int) (uint32, error) {
	base, err := standardPdoBase(false, pdoNumber)
	if err != nil {
		return 0, err
	}
	return base + uint32(nodeId), nil
}

func standardPdoBase(isTPDO bool, pdoNumber int) (uint32, error) {
	tpdoBases := [4]uint32{canopen.CobIdTPDO1, canopen.CobIdTPDO2, canopen.CobIdTPDO3, canopen.CobIdTPDO4}
	rpdoBases := [4]uint32{canopen.CobIdRPDO1, canopen.CobIdRPDO2, canopen.CobIdRPDO3, canopen.CobIdRPDO4}
	if pdoNumber < 1 || pdoNumber > 4 {
		return 0, fmt.Errorf("%w: pdo number %d out of range [1,4]", canopen.ErrIllegalArgument, pdoNumber)
	}
	if isTPDO {
		return tpdoBases[pdoNumber-1], nil
	}
	return rpdoBases[pdoNumber-1], nil
}

// ReadU32 is a convenience wrapper over SDO.ReadU32 using context.Background,
// matching the style of simple one-shot reads most callers reach for.
func (d *Device) ReadU32(index uint16, subIndex uint8) (uint32, error) {
	return d.SDO.ReadU32(context.Background(), index, subIndex)
}
