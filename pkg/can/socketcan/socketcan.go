//go:build linux

// Package socketcan is the production transport: a thin wrapper around
// github.com/brutella/can's Linux SocketCAN binding, implementing
// canopen.Bus. It is deliberately outside the protocol core (§1 non-goals
// exclude the concrete hardware driver) but is wired here so the domain
// dependency the teacher repo carries has a real home.
package socketcan

import (
	"sync"
	"time"

	sockcan "github.com/brutella/can"
	log "github.com/sirupsen/logrus"

	canopen "github.com/canopenkit/canopen"
)

type Bus struct {
	mu        sync.Mutex
	bus       *sockcan.Bus
	listener  canopen.FrameListener
	connected bool
}

// NewBus opens the named SocketCAN interface, e.g. "can0".
func NewBus(ifaceName string) (*Bus, error) {
	raw, err := sockcan.NewBusForInterfaceWithName(ifaceName)
	if err != nil {
		return nil, err
	}
	return &Bus{bus: raw}, nil
}

func (b *Bus) Connect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.connected {
		return nil
	}
	b.connected = true
	go func() {
		if err := b.bus.ConnectAndPublish(); err != nil {
			log.WithError(err).Error("[CAN] socketcan connection closed")
		}
	}()
	// brutella/can has no synchronous connect hook; give the reader
	// goroutine a moment to come up before callers start sending.
	time.Sleep(10 * time.Millisecond)
	return nil
}

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected {
		return nil
	}
	b.connected = false
	return b.bus.Disconnect()
}

func (b *Bus) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *Bus) Send(frame canopen.Frame) error {
	if frame.DLC > 8 {
		return canopen.ErrOversizedFrame
	}
	return b.bus.Publish(sockcan.Frame{
		ID:     frame.ID,
		Length: frame.DLC,
		Data:   frame.Data,
	})
}

func (b *Bus) Subscribe(listener canopen.FrameListener) error {
	b.mu.Lock()
	b.listener = listener
	b.mu.Unlock()
	b.bus.Subscribe(b)
	return nil
}

// Handle implements brutella/can's frame handler interface, translating its
// frame type into canopen.Frame before forwarding to our listener.
func (b *Bus) Handle(frame sockcan.Frame) {
	b.mu.Lock()
	listener := b.listener
	b.mu.Unlock()
	if listener == nil {
		return
	}
	listener.Handle(canopen.Frame{
		ID:        frame.ID,
		DLC:       frame.Length,
		Data:      frame.Data,
		Timestamp: time.Now(),
	})
}
