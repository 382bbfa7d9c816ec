package emergency

import (
	"testing"
	"time"

	canopen "github.com/canopenkit/canopen"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(nodeId uint8, code uint16, reg byte) canopen.Frame {
	data := make([]byte, 8)
	data[0] = byte(code)
	data[1] = byte(code >> 8)
	data[2] = reg
	data[3] = 0xAA
	f := canopen.NewFrame(0x080+uint32(nodeId), data)
	f.Timestamp = time.Now()
	return f
}

func TestHandleStoresLatestPerNode(t *testing.T) {
	m := NewMonitor()
	m.Handle(frame(5, ErrCanOverrun, ErrRegCommunication))

	rec, ok := m.Latest(5)
	require.True(t, ok)
	assert.EqualValues(t, 5, rec.NodeId)
	assert.Equal(t, ErrCanOverrun, rec.ErrorCode)
	assert.True(t, rec.Is(ErrRegCommunication))
	assert.False(t, rec.Is(ErrRegVoltage))
}

func TestHandleIgnoresOutOfRangeAndShortFrames(t *testing.T) {
	m := NewMonitor()
	m.Handle(canopen.NewFrame(0x080, []byte{1, 2, 3, 4, 5, 6, 7, 8})) // SYNC, not EMCY
	m.Handle(canopen.NewFrame(0x0FF+1, []byte{1, 2, 3, 4, 5, 6, 7, 8}))
	m.Handle(canopen.NewFrame(0x085, []byte{1, 2, 3}))

	_, ok := m.Latest(5)
	assert.False(t, ok)
}

func TestOnReceivedCallback(t *testing.T) {
	m := NewMonitor()
	var got Record
	m.OnReceived(func(r Record) { got = r })

	m.Handle(frame(3, ErrHeartbeat, ErrRegGeneric))
	assert.EqualValues(t, 3, got.NodeId)
	assert.Equal(t, ErrHeartbeat, got.ErrorCode)
}

func TestClearAndClearAll(t *testing.T) {
	m := NewMonitor()
	m.Handle(frame(1, ErrGeneric, ErrRegGeneric))
	m.Handle(frame(2, ErrGeneric, ErrRegGeneric))

	m.Clear(1)
	_, ok := m.Latest(1)
	assert.False(t, ok)
	_, ok = m.Latest(2)
	assert.True(t, ok)

	m.ClearAll()
	_, ok = m.Latest(2)
	assert.False(t, ok)
}
