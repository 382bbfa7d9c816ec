package pdo

import (
	"sync"
	"testing"
	"time"

	canopen "github.com/canopenkit/canopen"
	"github.com/canopenkit/canopen/pkg/can/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	bus := virtual.NewBus(t.Name())
	require.NoError(t, bus.Connect())
	t.Cleanup(func() { bus.Disconnect() })
	bm := canopen.NewBusManager(bus)
	require.NoError(t, bm.Connect())
	return NewManager(bm)
}

func TestConfigureTPDORejectsOversizedMapping(t *testing.T) {
	m := newTestManager(t)
	err := m.ConfigureTPDO(1, 0x180, []MappingEntry{
		{Index: 0x2000, SubIndex: 1, BitLength: 40},
		{Index: 0x2001, SubIndex: 1, BitLength: 32},
	})
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestConfigureTPDORejectsDuplicateCobId(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.ConfigureTPDO(1, 0x180, []MappingEntry{{Index: 0x2000, SubIndex: 1, BitLength: 8}}))
	err := m.ConfigureTPDO(2, 0x180, []MappingEntry{{Index: 0x2001, SubIndex: 1, BitLength: 8}})
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestTPDODispatchAndBitExtraction(t *testing.T) {
	m := newTestManager(t)
	mapping := []MappingEntry{
		{Index: 0x2000, SubIndex: 1, BitLength: 8},  // byte 0
		{Index: 0x2001, SubIndex: 1, BitLength: 16}, // bytes 1-2
		{Index: 0x2002, SubIndex: 1, BitLength: 1},  // bit 24
	}
	require.NoError(t, m.ConfigureTPDO(1, 0x180, mapping))

	var mu sync.Mutex
	var got PdoData
	m.OnReceived(func(d PdoData) {
		mu.Lock()
		defer mu.Unlock()
		got = d
	})

	bus2 := virtual.NewBus(t.Name())
	require.NoError(t, bus2.Connect())
	defer bus2.Disconnect()
	require.NoError(t, bus2.Send(canopen.NewFrame(0x180, []byte{0x2A, 0xCD, 0xAB, 0x01})))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.Payload != nil
	}, time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	v0, err := got.ExtractValue(0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x2A, v0)

	v1, err := got.ExtractValue(1)
	require.NoError(t, err)
	assert.EqualValues(t, 0xABCD, v1)

	b, err := got.ExtractBool(2)
	require.NoError(t, err)
	assert.True(t, b)
}

func TestExtractSignedNegativeValue(t *testing.T) {
	d := PdoData{
		mapping: []MappingEntry{{BitLength: 16}},
		offsets: []uint16{0},
		Payload: []byte{0xFF, 0xFF},
	}
	v, err := d.ExtractSigned(0)
	require.NoError(t, err)
	assert.EqualValues(t, -1, v)
}

func TestSendRPDO(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.ConfigureRPDO(1, 0x200, []MappingEntry{{Index: 0x2000, SubIndex: 1, BitLength: 8}}))

	bus2 := virtual.NewBus(t.Name())
	require.NoError(t, bus2.Connect())
	defer bus2.Disconnect()
	recorder := make(chan canopen.Frame, 1)
	require.NoError(t, bus2.Subscribe(frameHandlerFunc(func(f canopen.Frame) { recorder <- f })))

	require.NoError(t, m.SendRPDO(1, []byte{0x42}))
	frame := <-recorder
	assert.EqualValues(t, 0x200, frame.ID)
	assert.Equal(t, byte(0x42), frame.Data[0])
}

func TestSendRPDORejectsOversizedPayload(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.ConfigureRPDO(1, 0x200, nil))
	err := m.SendRPDO(1, make([]byte, 9))
	assert.ErrorIs(t, err, canopen.ErrOversizedFrame)
}

func TestRequestTPDOUnsupported(t *testing.T) {
	m := newTestManager(t)
	err := m.RequestTPDO(1)
	assert.Error(t, err)
}

type frameHandlerFunc func(canopen.Frame)

func (f frameHandlerFunc) Handle(frame canopen.Frame) { f(frame) }
