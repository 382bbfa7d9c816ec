// Package sync implements the SYNC producer: a periodic frame on COB-ID
// 0x080 used to trigger synchronous PDO transmission across the network.
// Only the producer side is implemented; consuming SYNC to gate inbound
// PDO processing is left to callers that need it (§1 treats SYNC as a
// timing signal the PDO manager does not itself depend on).
package sync

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/canopenkit/canopen"
)

// Producer emits a SYNC frame every Period. When CounterEnabled is true
// the frame carries a 1-byte counter that wraps from CounterOverflow back
// to 1; otherwise it is an empty 0-byte frame.
type Producer struct {
	bm      *canopen.BusManager
	log     *slog.Logger
	mu      sync.Mutex
	period  time.Duration
	timer   *time.Timer
	running bool

	counterEnabled  bool
	counterOverflow uint8
	counter         uint8
}

// NewProducer builds a SYNC producer with the given cycle period. If
// counterOverflow is 0 the frame carries no counter byte; otherwise it is
// clamped to the valid range [2,240] as CiA 301 requires (1 is reserved).
func NewProducer(bm *canopen.BusManager, period time.Duration, counterOverflow uint8) (*Producer, error) {
	if period <= 0 {
		return nil, fmt.Errorf("%w: sync period must be positive", canopen.ErrIllegalArgument)
	}
	if counterOverflow == 1 {
		counterOverflow = 2
	} else if counterOverflow > 240 {
		counterOverflow = 240
	}
	return &Producer{
		bm:              bm,
		log:             slog.Default().With("service", "[SYNC]"),
		period:          period,
		counterEnabled:  counterOverflow != 0,
		counterOverflow: counterOverflow,
	}, nil
}

// Start begins periodic transmission. Calling Start while already running
// restarts the cycle from now: stop, zero the counter, then start.
func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.counter = 0
	p.running = true
	p.timer = time.AfterFunc(p.period, p.fire)
	p.log.Info("started", "period", p.period)
}

// Stop halts transmission and resets the counter. Safe to call when not running.
func (p *Producer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.counter = 0
	if p.timer != nil {
		p.timer.Stop()
	}
	p.log.Info("stopped")
}

func (p *Producer) fire() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	var payload []byte
	if p.counterEnabled {
		p.counter++
		if p.counter > p.counterOverflow {
			p.counter = 1
		}
		payload = []byte{p.counter}
	}
	p.timer.Reset(p.period)
	p.mu.Unlock()

	if err := p.bm.Send(canopen.NewFrame(canopen.CobIdSYNC, payload)); err != nil {
		p.log.Warn("send failed", "error", err)
	}
}

// Counter returns the counter value carried in the last frame sent, or 0
// if counting is disabled or no frame has been sent yet.
func (p *Producer) Counter() uint8 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counter
}
