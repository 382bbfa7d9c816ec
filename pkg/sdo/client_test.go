package sdo

import (
	"context"
	"testing"
	"time"

	canopen "github.com/canopenkit/canopen"
	"github.com/canopenkit/canopen/pkg/can/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer replies to expedited requests addressed to nodeId, either
// echoing a fixed upload payload or confirming a download, so client
// behaviour can be exercised without a real CANopen server.
type fakeServer struct {
	bm           *canopen.BusManager
	nodeId       uint8
	uploadReply  []byte
	respondAbort bool
	abortCode    AbortCode
	silent       bool
}

func (s *fakeServer) Handle(frame canopen.Frame) {
	if s.silent || frame.DLC != 8 {
		return
	}
	r := response{raw: frame.Data}
	if s.respondAbort {
		f := encodeAbort(r.index(), r.subIndex(), s.abortCode)
		_ = s.bm.Send(canopen.NewFrame(canopen.CobIdSDOTx+uint32(s.nodeId), f[:]))
		return
	}
	switch frame.Data[0] & 0xF0 {
	case 0x40: // upload request
		var resp [8]byte
		resp[0] = csUploadResponse | byte((4-len(s.uploadReply))<<sizeUnusedShift)
		resp[1] = frame.Data[1]
		resp[2] = frame.Data[2]
		resp[3] = frame.Data[3]
		copy(resp[4:4+len(s.uploadReply)], s.uploadReply)
		_ = s.bm.Send(canopen.NewFrame(canopen.CobIdSDOTx+uint32(s.nodeId), resp[:]))
	case 0x20: // download request (expedited, ccs=1)
		var resp [8]byte
		resp[0] = csDownloadResponse
		resp[1] = frame.Data[1]
		resp[2] = frame.Data[2]
		resp[3] = frame.Data[3]
		_ = s.bm.Send(canopen.NewFrame(canopen.CobIdSDOTx+uint32(s.nodeId), resp[:]))
	}
}

func newTestClient(t *testing.T, server *fakeServer) (*Client, *canopen.BusManager) {
	bus := virtual.NewBus(t.Name())
	bus.SetReceiveOwn(true)
	require.NoError(t, bus.Connect())
	t.Cleanup(func() { bus.Disconnect() })
	bm := canopen.NewBusManager(bus)
	require.NoError(t, bm.Connect())

	if server != nil {
		server.bm = bm
		_, err := bm.Subscribe(canopen.CobIdSDORx+uint32(server.nodeId), server)
		require.NoError(t, err)
	}

	client, err := NewClient(bm, 5, 200*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client, bm
}

func TestReadRoundTrip(t *testing.T) {
	server := &fakeServer{nodeId: 5, uploadReply: []byte{0x2A, 0x00}}
	client, _ := newTestClient(t, server)

	data, err := client.Read(context.Background(), 0x1018, 1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x2A, 0x00}, data)
}

func TestWriteRoundTrip(t *testing.T) {
	server := &fakeServer{nodeId: 5}
	client, _ := newTestClient(t, server)

	err := client.WriteU16(context.Background(), 0x2000, 1, 1234)
	assert.NoError(t, err)
}

func TestReadU32Accessor(t *testing.T) {
	server := &fakeServer{nodeId: 5, uploadReply: []byte{0x78, 0x56, 0x34, 0x12}}
	client, _ := newTestClient(t, server)

	v, err := client.ReadU32(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0x12345678, v)
}

func TestAbortPropagates(t *testing.T) {
	server := &fakeServer{nodeId: 5, respondAbort: true, abortCode: AbortNotExist}
	client, _ := newTestClient(t, server)

	_, err := client.Read(context.Background(), 0x9999, 0)
	require.Error(t, err)
	sdoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrKindAbort, sdoErr.Kind)
	assert.Equal(t, AbortNotExist, sdoErr.Abort)
}

func TestTimeoutSendsAbortAndReturnsError(t *testing.T) {
	server := &fakeServer{nodeId: 5, silent: true}
	client, bm := newTestClient(t, server)

	recorder := make(chan canopen.Frame, 4)
	_, err := bm.Subscribe(canopen.CobIdSDORx+5, frameHandlerFunc(func(f canopen.Frame) {
		select {
		case recorder <- f:
		default:
		}
	}))
	require.NoError(t, err)

	_, readErr := client.Read(context.Background(), 0x1000, 0)
	require.Error(t, readErr)
	sdoErr, ok := readErr.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrKindTimeout, sdoErr.Kind)

	// The recorder sees the upload request first, then the abort.
	sawAbort := false
	for len(recorder) > 0 {
		r := response{raw: (<-recorder).Data}
		if r.isAbort() {
			sawAbort = true
			assert.Equal(t, AbortTimeout, r.abortCode())
		}
	}
	assert.True(t, sawAbort, "timeout must send an Abort SDO to the server")
}

func TestSingleFlightRejectsSecondConcurrentRequest(t *testing.T) {
	server := &fakeServer{nodeId: 5, silent: true}
	client, _ := newTestClient(t, server)

	ctx1, cancel1 := context.WithCancel(context.Background())
	defer cancel1()

	firstDone := make(chan error, 1)
	go func() {
		_, err := client.Read(ctx1, 0x1000, 0)
		firstDone <- err
	}()

	// Give the first call time to register its pending entry before the
	// second one races it.
	time.Sleep(20 * time.Millisecond)

	start := time.Now()
	_, err := client.Read(context.Background(), 0x1000, 0)
	elapsed := time.Since(start)

	require.Error(t, err)
	sdoErr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, ErrKindSingleFlight, sdoErr.Kind)
	assert.Less(t, elapsed, 50*time.Millisecond, "second request must fail immediately, not queue")

	cancel1()
	<-firstDone
}

func TestNewClientRejectsOutOfRangeNode(t *testing.T) {
	bus := virtual.NewBus(t.Name())
	require.NoError(t, bus.Connect())
	defer bus.Disconnect()
	bm := canopen.NewBusManager(bus)
	require.NoError(t, bm.Connect())

	_, err := NewClient(bm, 0, time.Second)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)

	_, err = NewClient(bm, 200, time.Second)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

type frameHandlerFunc func(canopen.Frame)

func (f frameHandlerFunc) Handle(frame canopen.Frame) { f(frame) }
