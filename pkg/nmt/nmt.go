// Package nmt implements the master side of the Network Management service:
// broadcasting or addressing NMT commands that move a node between
// Pre-operational, Operational and Stopped. Slave-side state tracking lives
// in pkg/heartbeat, which observes the Heartbeat a node produces in
// response rather than assuming the command took effect.
package nmt

import (
	"fmt"
	"log/slog"

	canopen "github.com/canopenkit/canopen"
)

// Command is the single byte an NMT master sends to move a node (or every
// node, for nodeId 0) into a new state.
type Command uint8

const (
	CommandEnterOperational    Command = 0x01
	CommandEnterStopped        Command = 0x02
	CommandEnterPreOperational Command = 0x80
	CommandResetNode           Command = 0x81
	CommandResetCommunication  Command = 0x82
)

var CommandDescription = map[Command]string{
	CommandEnterOperational:    "ENTER-OPERATIONAL",
	CommandEnterStopped:        "ENTER-STOPPED",
	CommandEnterPreOperational: "ENTER-PREOPERATIONAL",
	CommandResetNode:           "RESET-NODE",
	CommandResetCommunication:  "RESET-COMMUNICATION",
}

// Master sends NMT commands on the shared COB-ID 0x000. It holds no
// observed state of its own: callers read current node state from a
// heartbeat.Consumer.
type Master struct {
	bm  *canopen.BusManager
	log *slog.Logger
}

func NewMaster(bm *canopen.BusManager) *Master {
	return &Master{
		bm:  bm,
		log: slog.Default().With("service", "[NMT]"),
	}
}

// SendCommand sends cmd to nodeId, or to every node on the network if
// nodeId is 0.
func (m *Master) SendCommand(nodeId uint8, cmd Command) error {
	if nodeId > 127 {
		return fmt.Errorf("%w: node id %d out of range", canopen.ErrIllegalArgument, nodeId)
	}
	frame := canopen.NewFrame(canopen.CobIdNMT, []byte{byte(cmd), nodeId})
	m.log.Debug("sending command", "command", CommandDescription[cmd], "node", nodeId)
	return m.bm.Send(frame)
}

// Start requests the Operational state.
func (m *Master) Start(nodeId uint8) error { return m.SendCommand(nodeId, CommandEnterOperational) }

// Stop requests the Stopped state.
func (m *Master) Stop(nodeId uint8) error { return m.SendCommand(nodeId, CommandEnterStopped) }

// PreOperational requests the Pre-operational state.
func (m *Master) PreOperational(nodeId uint8) error {
	return m.SendCommand(nodeId, CommandEnterPreOperational)
}

// ResetNode requests a full application reset.
func (m *Master) ResetNode(nodeId uint8) error { return m.SendCommand(nodeId, CommandResetNode) }

// ResetCommunication requests a communication-layer reset.
func (m *Master) ResetCommunication(nodeId uint8) error {
	return m.SendCommand(nodeId, CommandResetCommunication)
}
