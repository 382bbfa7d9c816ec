// Package sdo implements an expedited-only SDO client: single 8-byte
// request/response exchanges for objects up to 4 bytes. Segmented and
// block transfer are out of scope (§1), so every Read/Write here completes
// in exactly one round trip or aborts.
package sdo

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	retry "github.com/avast/retry-go"

	canopen "github.com/canopenkit/canopen"
)

const DefaultTimeout = time.Second

// ErrorKind classifies why an SDO exchange failed, so callers can branch
// on the failure mode without string-matching Error().
type ErrorKind uint8

const (
	ErrKindAbort        ErrorKind = iota // server sent an Abort SDO Transfer
	ErrKindTimeout                       // no response within the configured timeout
	ErrKindTransport                     // the request frame itself could not be sent
	ErrKindSingleFlight                  // a request for this (index, subIndex) is already in flight
	ErrKindProtocol                      // response did not decode as the expected expedited shape
)

// Error is the sum type every failed Read/Write returns.
type Error struct {
	Kind  ErrorKind
	Abort AbortCode // meaningful when Kind == ErrKindAbort
	Err   error     // wrapped cause for every other kind
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrKindAbort:
		return e.Abort.Error()
	case ErrKindTimeout:
		return "sdo: timed out waiting for response"
	case ErrKindTransport:
		return fmt.Sprintf("sdo: transport error: %v", e.Err)
	case ErrKindSingleFlight:
		return "sdo: request already in flight for this object"
	default:
		return fmt.Sprintf("sdo: protocol error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Client performs expedited SDO transfers against exactly one server node.
type Client struct {
	bm      *canopen.BusManager
	nodeId  uint8
	timeout time.Duration
	log     *slog.Logger

	mu      sync.Mutex
	pending map[string]chan response

	cancelSub func()
}

// NewClient builds a client addressing nodeId, subscribing to its SDO
// server response COB-ID (0x580 + nodeId). timeout of 0 uses DefaultTimeout.
func NewClient(bm *canopen.BusManager, nodeId uint8, timeout time.Duration) (*Client, error) {
	if nodeId == 0 || nodeId > 127 {
		return nil, fmt.Errorf("%w: node id %d out of range", canopen.ErrIllegalArgument, nodeId)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		bm:      bm,
		nodeId:  nodeId,
		timeout: timeout,
		log:     slog.Default().With("service", "[SDO]", "node", nodeId),
		pending: make(map[string]chan response),
	}
	cancel, err := bm.Subscribe(canopen.CobIdSDOTx+uint32(nodeId), c)
	if err != nil {
		return nil, err
	}
	c.cancelSub = cancel
	return c, nil
}

// Close stops listening for this node's SDO responses.
func (c *Client) Close() {
	if c.cancelSub != nil {
		c.cancelSub()
	}
}

// Handle implements canopen.FrameListener, routing responses back to the
// Read/Write call that is waiting for them.
func (c *Client) Handle(frame canopen.Frame) {
	if frame.DLC != 8 {
		return
	}
	r := response{raw: frame.Data}
	key := requestKey(r.index(), r.subIndex())
	c.mu.Lock()
	ch, ok := c.pending[key]
	c.mu.Unlock()
	if !ok {
		c.log.Debug("unexpected response", "index", r.index(), "subindex", r.subIndex())
		return
	}
	select {
	case ch <- r:
	default:
	}
}

func requestKey(index uint16, subIndex uint8) string {
	return fmt.Sprintf("%d:%d", index, subIndex)
}

// exchange sends req on the client's RX COB-ID and waits for a matching
// response, handling single-flight rejection and best-effort abort on
// timeout or cancellation.
func (c *Client) exchange(ctx context.Context, index uint16, subIndex uint8, req [8]byte) (response, error) {
	key := requestKey(index, subIndex)

	// Insert-if-absent: the pending map entry for this key is itself the
	// single-flight lock. A second concurrent request for the same
	// (index, subIndex) fails immediately rather than queueing behind it.
	ch := make(chan response, 1)
	c.mu.Lock()
	if _, inFlight := c.pending[key]; inFlight {
		c.mu.Unlock()
		return response{}, &Error{Kind: ErrKindSingleFlight, Err: fmt.Errorf("request already in flight for x%x:%d", index, subIndex)}
	}
	c.pending[key] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, key)
		c.mu.Unlock()
	}()

	frame := canopen.NewFrame(canopen.CobIdSDORx+uint32(c.nodeId), req[:])
	if err := c.bm.Send(frame); err != nil {
		return response{}, &Error{Kind: ErrKindTransport, Err: err}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.isAbort() {
			return response{}, &Error{Kind: ErrKindAbort, Abort: resp.abortCode()}
		}
		if !resp.matches(index, subIndex) {
			return response{}, &Error{Kind: ErrKindProtocol, Err: fmt.Errorf("response for x%x:%d, expected x%x:%d", resp.index(), resp.subIndex(), index, subIndex)}
		}
		return resp, nil
	case <-timeoutCtx.Done():
		c.sendAbortBestEffort(index, subIndex)
		if ctx.Err() != nil {
			return response{}, &Error{Kind: ErrKindTimeout, Err: ctx.Err()}
		}
		return response{}, &Error{Kind: ErrKindTimeout, Err: timeoutCtx.Err()}
	}
}

// sendAbortBestEffort notifies the server that the client is giving up on
// the transfer, retrying the send itself a few times since the frame
// carries no confirmation of its own.
func (c *Client) sendAbortBestEffort(index uint16, subIndex uint8) {
	frame := canopen.NewFrame(canopen.CobIdSDORx+uint32(c.nodeId), func() []byte {
		f := encodeAbort(index, subIndex, AbortTimeout)
		return f[:]
	}())
	err := retry.Do(
		func() error { return c.bm.Send(frame) },
		retry.Attempts(3),
		retry.Delay(10*time.Millisecond),
	)
	if err != nil {
		c.log.Warn("failed to send abort", "index", index, "subindex", subIndex, "error", err)
	}
}

// Read performs an expedited upload, returning up to 4 raw bytes.
func (c *Client) Read(ctx context.Context, index uint16, subIndex uint8) ([]byte, error) {
	resp, err := c.exchange(ctx, index, subIndex, encodeUploadRequest(index, subIndex))
	if err != nil {
		return nil, err
	}
	payload := resp.payload()
	if payload == nil {
		return nil, &Error{Kind: ErrKindProtocol, Err: fmt.Errorf("server response was not a valid expedited upload")}
	}
	return append([]byte(nil), payload...), nil
}

// Write performs an expedited download of up to 4 bytes.
func (c *Client) Write(ctx context.Context, index uint16, subIndex uint8, data []byte) error {
	if len(data) == 0 || len(data) > 4 {
		return &Error{Kind: ErrKindProtocol, Err: fmt.Errorf("expedited write supports 1-4 bytes, got %d", len(data))}
	}
	resp, err := c.exchange(ctx, index, subIndex, encodeDownloadRequest(index, subIndex, data))
	if err != nil {
		return err
	}
	if !resp.isDownloadResponse() {
		return &Error{Kind: ErrKindProtocol, Err: fmt.Errorf("server response was not a valid download confirmation")}
	}
	return nil
}
