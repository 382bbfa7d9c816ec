package nmt

import (
	"testing"

	canopen "github.com/canopenkit/canopen"
	"github.com/canopenkit/canopen/pkg/can/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameRecorder struct {
	frames []canopen.Frame
}

func (r *frameRecorder) Handle(frame canopen.Frame) {
	r.frames = append(r.frames, frame)
}

func newTestMaster(t *testing.T) (*Master, *frameRecorder) {
	bus := virtual.NewBus(t.Name())
	bus.SetReceiveOwn(true)
	require.NoError(t, bus.Connect())
	t.Cleanup(func() { bus.Disconnect() })

	bm := canopen.NewBusManager(bus)
	require.NoError(t, bm.Connect())

	recorder := &frameRecorder{}
	_, err := bm.Subscribe(canopen.CobIdNMT, recorder)
	require.NoError(t, err)

	return NewMaster(bm), recorder
}

func TestSendCommandBroadcast(t *testing.T) {
	master, recorder := newTestMaster(t)
	require.NoError(t, master.Start(0))

	require.Len(t, recorder.frames, 1)
	assert.EqualValues(t, canopen.CobIdNMT, recorder.frames[0].ID)
	assert.EqualValues(t, []byte{byte(CommandEnterOperational), 0}, recorder.frames[0].Payload())
}

func TestSendCommandAddressed(t *testing.T) {
	master, recorder := newTestMaster(t)
	require.NoError(t, master.Stop(5))

	require.Len(t, recorder.frames, 1)
	assert.EqualValues(t, []byte{byte(CommandEnterStopped), 5}, recorder.frames[0].Payload())
}

func TestSendCommandRejectsOutOfRangeNode(t *testing.T) {
	master, _ := newTestMaster(t)
	err := master.PreOperational(128)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestResetHelpers(t *testing.T) {
	master, recorder := newTestMaster(t)
	require.NoError(t, master.ResetNode(3))
	require.NoError(t, master.ResetCommunication(3))

	require.Len(t, recorder.frames, 2)
	assert.EqualValues(t, byte(CommandResetNode), recorder.frames[0].Data[0])
	assert.EqualValues(t, byte(CommandResetCommunication), recorder.frames[1].Data[0])
}
