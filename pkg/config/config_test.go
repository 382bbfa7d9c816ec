package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRoster = `
[bus]
interface = can0
sdo_timeout_ms = 500
heartbeat_check_interval_ms = 50

[node.5]
name = drive-front-left
heartbeat_timeout_ms = 300

[node.12]
name = io-module
sdo_timeout_ms = 2000
`

func TestLoadParsesBusAndNodes(t *testing.T) {
	stack, err := Load([]byte(sampleRoster))
	require.NoError(t, err)

	assert.Equal(t, "can0", stack.Interface)
	assert.Equal(t, 500*time.Millisecond, stack.DefaultSDOTimeout)
	assert.Equal(t, 50*time.Millisecond, stack.HeartbeatCheckInterval)
	require.Len(t, stack.Nodes, 2)

	byId := make(map[uint8]NodeConfig)
	for _, n := range stack.Nodes {
		byId[n.NodeId] = n
	}
	assert.Equal(t, "drive-front-left", byId[5].Name)
	assert.Equal(t, 300*time.Millisecond, byId[5].HeartbeatTimeout)
	assert.Equal(t, "io-module", byId[12].Name)
	assert.Equal(t, 2*time.Second, byId[12].SDOTimeout)
}

func TestLoadDefaultsWithoutBusSection(t *testing.T) {
	stack, err := Load([]byte("[node.1]\nname = only-node\n"))
	require.NoError(t, err)
	assert.Equal(t, time.Second, stack.DefaultSDOTimeout)
	assert.Equal(t, 100*time.Millisecond, stack.HeartbeatCheckInterval)
	require.Len(t, stack.Nodes, 1)
	assert.Equal(t, "only-node", stack.Nodes[0].Name)
}

func TestLoadRejectsOutOfRangeNodeId(t *testing.T) {
	_, err := Load([]byte("[node.200]\nname = bad\n"))
	assert.Error(t, err)
}
