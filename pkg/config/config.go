// Package config loads the stack-level configuration this module needs to
// start talking to a network: which CAN interface to use, default
// timeouts, and the roster of nodes to track. It is deliberately not an
// object-dictionary (EDS) parser: per-node behaviour and data layout are
// configured in code via pkg/sdo and pkg/pdo, not loaded from a device
// profile file (§1 excludes server-side object dictionary semantics).
package config

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"
)

// NodeConfig is one [node.N] section: a name for logging plus optional
// overrides of the stack defaults for that node alone.
type NodeConfig struct {
	NodeId           uint8
	Name             string
	HeartbeatTimeout time.Duration
	SDOTimeout       time.Duration
}

// Stack is the parsed configuration for one CANopen network.
type Stack struct {
	Interface              string        // e.g. "can0", or a virtual bus channel name
	DefaultSDOTimeout      time.Duration
	HeartbeatCheckInterval time.Duration
	Nodes                  []NodeConfig
}

const (
	defaultSDOTimeout    = time.Second
	defaultCheckInterval = 100 * time.Millisecond
)

// Load parses a roster configuration from file, which may be a path,
// []byte, or io.Reader, as accepted by ini.Load.
func Load(file any) (*Stack, error) {
	doc, err := ini.Load(file)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	stack := &Stack{
		DefaultSDOTimeout:      defaultSDOTimeout,
		HeartbeatCheckInterval: defaultCheckInterval,
	}

	bus := doc.Section("bus")
	stack.Interface = bus.Key("interface").MustString("")
	if ms := bus.Key("sdo_timeout_ms").MustInt(0); ms > 0 {
		stack.DefaultSDOTimeout = time.Duration(ms) * time.Millisecond
	}
	if ms := bus.Key("heartbeat_check_interval_ms").MustInt(0); ms > 0 {
		stack.HeartbeatCheckInterval = time.Duration(ms) * time.Millisecond
	}

	for _, section := range doc.Sections() {
		var nodeId int
		if _, err := fmt.Sscanf(section.Name(), "node.%d", &nodeId); err != nil {
			continue
		}
		if nodeId < 1 || nodeId > 127 {
			return nil, fmt.Errorf("config: section %q: node id %d out of range [1,127]", section.Name(), nodeId)
		}
		node := NodeConfig{
			NodeId: uint8(nodeId),
			Name:   section.Key("name").MustString(fmt.Sprintf("node-%d", nodeId)),
		}
		if ms := section.Key("heartbeat_timeout_ms").MustInt(0); ms > 0 {
			node.HeartbeatTimeout = time.Duration(ms) * time.Millisecond
		}
		if ms := section.Key("sdo_timeout_ms").MustInt(0); ms > 0 {
			node.SDOTimeout = time.Duration(ms) * time.Millisecond
		}
		stack.Nodes = append(stack.Nodes, node)
	}
	return stack, nil
}
