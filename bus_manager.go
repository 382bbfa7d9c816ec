package canopen

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// BusManager wraps a Bus and implements the COB-ID dispatch convention of
// §2.3: every service registers one listener per identifier it owns, and
// the manager fans inbound frames out to the listeners registered for that
// exact identifier. It is the single shared, non-owning handle every
// service holds on the transport.
type BusManager struct {
	mu        sync.Mutex
	bus       Bus
	listeners map[uint32][]FrameListener
}

// NewBusManager wraps bus. bus may be nil and set later with SetBus, so a
// device facade can be constructed before a concrete transport is chosen.
func NewBusManager(bus Bus) *BusManager {
	return &BusManager{
		bus:       bus,
		listeners: make(map[uint32][]FrameListener),
	}
}

// SetBus replaces the underlying transport. Existing subscriptions are
// preserved and will be invoked for frames the new bus delivers.
func (bm *BusManager) SetBus(bus Bus) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.bus = bus
}

func (bm *BusManager) Connect() error {
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return ErrNotConnected
	}
	if err := bus.Connect(); err != nil {
		return err
	}
	return bus.Subscribe(bm)
}

func (bm *BusManager) Disconnect() error {
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return nil
	}
	return bus.Disconnect()
}

func (bm *BusManager) Connected() bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.bus != nil && bm.bus.Connected()
}

// Send transmits a frame, masking the identifier to 11 bits and rejecting
// oversized payloads before ever reaching the transport.
func (bm *BusManager) Send(frame Frame) error {
	if frame.DLC > 8 {
		return ErrOversizedFrame
	}
	frame.ID &= CobIdMask
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return ErrNotConnected
	}
	err := bus.Send(frame)
	if err != nil {
		log.WithError(err).WithField("id", frame.ID).Warn("[CAN] send failed")
	}
	return err
}

// Subscribe registers listener for exact-match frames on id. Several
// listeners may share one identifier (e.g. two SDO clients would not, but
// tests intentionally exercise the fan-out). Returns a cancel function that
// removes the registration.
func (bm *BusManager) Subscribe(id uint32, listener FrameListener) (cancel func(), err error) {
	if listener == nil {
		return nil, ErrIllegalArgument
	}
	id &= CobIdMask
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.listeners[id] = append(bm.listeners[id], listener)
	return func() { bm.unsubscribe(id, listener) }, nil
}

func (bm *BusManager) unsubscribe(id uint32, listener FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	list := bm.listeners[id]
	for i, l := range list {
		if l == listener {
			bm.listeners[id] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Handle implements FrameListener: it is what the BusManager itself
// subscribes to the underlying transport with, so that every inbound frame
// passes through one place before being routed to per-identifier listeners.
func (bm *BusManager) Handle(frame Frame) {
	bm.mu.Lock()
	listeners := append([]FrameListener(nil), bm.listeners[frame.ID]...)
	bm.mu.Unlock()
	for _, l := range listeners {
		l.Handle(frame)
	}
}
