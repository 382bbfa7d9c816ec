// Package virtual implements an in-process loopback CAN bus used for
// testing the CANopen core without real hardware. Buses that dial the same
// channel name join the same broadcast domain, mirroring the semantics of
// the teacher's TCP-broker virtual CAN bus but without a network hop.
package virtual

import (
	"sync"

	canopen "github.com/canopenkit/canopen"
)

var registry = struct {
	mu  sync.Mutex
	hub map[string]*hub
}{hub: make(map[string]*hub)}

// hub fans frames out, in send order, to every connected Bus on a channel.
type hub struct {
	mu      sync.Mutex
	members []*Bus
}

func getHub(channel string) *hub {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	h, ok := registry.hub[channel]
	if !ok {
		h = &hub{}
		registry.hub[channel] = h
	}
	return h
}

func (h *hub) join(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members = append(h.members, b)
}

func (h *hub) leave(b *Bus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, m := range h.members {
		if m == b {
			h.members = append(h.members[:i], h.members[i+1:]...)
			return
		}
	}
}

// broadcast delivers frame to every member but the sender, serially and in
// the order Send was called, on the calling goroutine: this keeps delivery
// order deterministic for tests without needing a dedicated reader per bus.
func (h *hub) broadcast(from *Bus, frame canopen.Frame) {
	h.mu.Lock()
	members := append([]*Bus(nil), h.members...)
	h.mu.Unlock()
	for _, m := range members {
		if m == from && !m.receiveOwn {
			continue
		}
		m.deliver(frame)
	}
}

// Bus is a loopback canopen.Bus: Send delivers synchronously to every other
// Bus joined to the same channel.
type Bus struct {
	mu         sync.Mutex
	channel    string
	hub        *hub
	listener   canopen.FrameListener
	connected  bool
	receiveOwn bool
}

// NewBus creates a loopback bus bound to channel. Two buses created with
// the same channel name see each other's frames once both are connected.
func NewBus(channel string) *Bus {
	return &Bus{channel: channel}
}

// SetReceiveOwn controls whether the bus observes its own outbound frames,
// matching the teacher's receiveOwn loopback flag.
func (b *Bus) SetReceiveOwn(receiveOwn bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiveOwn = receiveOwn
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.hub = getHub(b.channel)
	b.hub.join(b)
	b.connected = true
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.hub.leave(b)
	b.connected = false
	return nil
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bus) Send(frame canopen.Frame) error {
	b.mu.Lock()
	if !b.connected {
		b.mu.Unlock()
		return canopen.ErrNotConnected
	}
	if frame.DLC > 8 {
		b.mu.Unlock()
		return canopen.ErrOversizedFrame
	}
	h := b.hub
	b.mu.Unlock()
	h.broadcast(b, frame)
	return nil
}

func (b *Bus) Subscribe(listener canopen.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listener = listener
	return nil
}

func (b *Bus) deliver(frame canopen.Frame) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener != nil {
		listener.Handle(frame)
	}
}
