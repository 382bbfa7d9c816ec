// Package heartbeat implements the Heartbeat consumer: a per-node
// watchdog that declares a node dead when no Heartbeat frame arrives
// within its configured timeout. Producing our own Heartbeat is left to
// callers (the facade advertises state through NMT, not by impersonating
// a node on the bus).
package heartbeat

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	canopen "github.com/canopenkit/canopen"
)

// State is the watchdog state of one monitored node, distinct from the
// NMT state the node itself reports.
type State uint8

const (
	StateUnknown State = iota // monitoring started, nothing received yet
	StateAlive                // heartbeat received within the timeout
	StateDead                 // timeout elapsed with no heartbeat
)

// EventKind distinguishes what changed about a monitored node.
type EventKind uint8

const (
	EventBootUp  EventKind = iota // node reported NMT Initializing (0x00): it just rebooted
	EventAlive                    // heartbeat received, watchdog (re)armed
	EventTimeout                  // no heartbeat before the deadline
)

type Event struct {
	Kind     EventKind
	NodeId   uint8
	NMTState uint8 // last observed state; on EventTimeout, the state before the deadline elapsed
	Elapsed  time.Duration
	Time     time.Time
}

type EventCallback func(Event)

type watch struct {
	mu        sync.Mutex
	nodeId    uint8
	timeout   time.Duration
	state     State
	nmtState  uint8
	lastRx    time.Time
	timer     *time.Timer
	cancelSub func()
	consumer  *Consumer
}

// Consumer monitors the Heartbeat of one or more nodes, each with its own
// timeout, and raises Event notifications on state transitions.
type Consumer struct {
	bm       *canopen.BusManager
	log      *slog.Logger
	mu       sync.Mutex
	watches  map[uint8]*watch
	callback EventCallback
}

func NewConsumer(bm *canopen.BusManager) *Consumer {
	return &Consumer{
		bm:      bm,
		log:     slog.Default().With("service", "[HB]"),
		watches: make(map[uint8]*watch),
	}
}

// OnEvent installs a callback invoked for every alive/timeout/boot-up
// transition observed across all monitored nodes.
func (c *Consumer) OnEvent(callback EventCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = callback
}

// Monitor starts watching nodeId's Heartbeat (COB-ID 0x700+nodeId),
// declaring it dead if none arrives within timeout. Calling Monitor again
// for the same node replaces its timeout and resets the watchdog.
func (c *Consumer) Monitor(nodeId uint8, timeout time.Duration) error {
	if nodeId == 0 || nodeId > 127 {
		return fmt.Errorf("%w: node id %d out of range", canopen.ErrIllegalArgument, nodeId)
	}
	if timeout <= 0 {
		return fmt.Errorf("%w: heartbeat timeout must be positive", canopen.ErrIllegalArgument)
	}

	c.mu.Lock()
	if existing, ok := c.watches[nodeId]; ok {
		if existing.cancelSub != nil {
			existing.cancelSub()
		}
		if existing.timer != nil {
			existing.timer.Stop()
		}
	}
	w := &watch{nodeId: nodeId, timeout: timeout, state: StateUnknown, consumer: c}
	c.watches[nodeId] = w
	c.mu.Unlock()

	cancel, err := c.bm.Subscribe(canopen.CobIdHeartbeat+uint32(nodeId), w)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.cancelSub = cancel
	w.timer = time.AfterFunc(timeout, func() { c.onTimeout(w) })
	w.mu.Unlock()

	c.log.Info("monitoring", "node", nodeId, "timeout", timeout)
	return nil
}

// Stop ends monitoring of nodeId.
func (c *Consumer) Stop(nodeId uint8) {
	c.mu.Lock()
	w, ok := c.watches[nodeId]
	delete(c.watches, nodeId)
	c.mu.Unlock()
	if !ok {
		return
	}
	w.mu.Lock()
	if w.cancelSub != nil {
		w.cancelSub()
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// State returns the current watchdog state of nodeId, or StateUnknown if
// the node is not being monitored.
func (c *Consumer) State(nodeId uint8) State {
	c.mu.Lock()
	w, ok := c.watches[nodeId]
	c.mu.Unlock()
	if !ok {
		return StateUnknown
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// NMTState returns the last NMT state byte carried by nodeId's Heartbeat,
// and whether any heartbeat has been received yet.
func (c *Consumer) NMTState(nodeId uint8) (uint8, bool) {
	c.mu.Lock()
	w, ok := c.watches[nodeId]
	c.mu.Unlock()
	if !ok {
		return canopen.NMTUnknown, false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nmtState, !w.lastRx.IsZero()
}

func (w *watch) Handle(frame canopen.Frame) {
	// Real Heartbeat frames always carry exactly one byte; this is
	// stricter than "at least one payload byte" but no producer on the
	// bus sends anything else on this COB-ID.
	if frame.DLC != 1 {
		return
	}
	nmtState := frame.Data[0]

	w.mu.Lock()
	w.lastRx = frame.Timestamp
	if w.lastRx.IsZero() {
		w.lastRx = time.Now()
	}
	w.nmtState = nmtState
	w.state = StateAlive
	if w.timer != nil {
		w.timer.Reset(w.timeout)
	}
	isBootUp := nmtState == canopen.NMTBootUp
	w.mu.Unlock()

	kind := EventAlive
	if isBootUp {
		kind = EventBootUp
	}
	w.fire(Event{Kind: kind, NodeId: w.nodeId, NMTState: nmtState, Time: w.lastRx})
}

func (c *Consumer) onTimeout(w *watch) {
	w.mu.Lock()
	if w.state == StateDead {
		w.mu.Unlock()
		return
	}
	wasAlive := w.state == StateAlive
	lastState := w.nmtState
	lastRx := w.lastRx
	w.state = StateDead
	w.mu.Unlock()

	if !wasAlive {
		// Never received a heartbeat for this node: there is no
		// alive->dead transition to report.
		return
	}

	elapsed := time.Since(lastRx)
	c.log.Warn("timeout", "node", w.nodeId, "lastState", lastState, "elapsed", elapsed)
	w.fire(Event{Kind: EventTimeout, NodeId: w.nodeId, NMTState: lastState, Elapsed: elapsed, Time: time.Now()})
}

func (w *watch) fire(ev Event) {
	w.consumer.mu.Lock()
	callback := w.consumer.callback
	w.consumer.mu.Unlock()
	if callback != nil {
		callback(ev)
	}
}
