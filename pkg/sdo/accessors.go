package sdo

import (
	"context"
	"encoding/binary"
	"fmt"
)

// ReadU8 reads a single unsigned byte.
func (c *Client) ReadU8(ctx context.Context, index uint16, subIndex uint8) (uint8, error) {
	data, err := c.Read(ctx, index, subIndex)
	if err != nil {
		return 0, err
	}
	if len(data) < 1 {
		return 0, &Error{Kind: ErrKindProtocol, Err: fmt.Errorf("expected at least 1 byte, got %d", len(data))}
	}
	return data[0], nil
}

// ReadU16 reads a little-endian uint16. Servers that reply with fewer
// bytes than expected (non-conformant, but seen in the wild) are accepted
// by zero-padding on the high side.
func (c *Client) ReadU16(ctx context.Context, index uint16, subIndex uint8) (uint16, error) {
	data, err := c.Read(ctx, index, subIndex)
	if err != nil {
		return 0, err
	}
	var buf [2]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// ReadU32 reads a little-endian uint32, zero-padded like ReadU16.
func (c *Client) ReadU32(ctx context.Context, index uint16, subIndex uint8) (uint32, error) {
	data, err := c.Read(ctx, index, subIndex)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// ReadI16 reads a little-endian int16.
func (c *Client) ReadI16(ctx context.Context, index uint16, subIndex uint8) (int16, error) {
	v, err := c.ReadU16(ctx, index, subIndex)
	return int16(v), err
}

// ReadI32 reads a little-endian int32.
func (c *Client) ReadI32(ctx context.Context, index uint16, subIndex uint8) (int32, error) {
	v, err := c.ReadU32(ctx, index, subIndex)
	return int32(v), err
}

// WriteU8 writes a single unsigned byte.
func (c *Client) WriteU8(ctx context.Context, index uint16, subIndex uint8, value uint8) error {
	return c.Write(ctx, index, subIndex, []byte{value})
}

// WriteU16 writes a little-endian uint16.
func (c *Client) WriteU16(ctx context.Context, index uint16, subIndex uint8, value uint16) error {
	var buf [2]byte
	binary.LittleEndian.PutUint16(buf[:], value)
	return c.Write(ctx, index, subIndex, buf[:])
}

// WriteU32 writes a little-endian uint32.
func (c *Client) WriteU32(ctx context.Context, index uint16, subIndex uint8, value uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], value)
	return c.Write(ctx, index, subIndex, buf[:])
}

// WriteI16 writes a little-endian int16.
func (c *Client) WriteI16(ctx context.Context, index uint16, subIndex uint8, value int16) error {
	return c.WriteU16(ctx, index, subIndex, uint16(value))
}

// WriteI32 writes a little-endian int32.
func (c *Client) WriteI32(ctx context.Context, index uint16, subIndex uint8, value int32) error {
	return c.WriteU32(ctx, index, subIndex, uint32(value))
}
