package canopen

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
	ErrNotConnected    = errors.New("transport is not connected")
	ErrOversizedFrame  = errors.New("frame payload exceeds 8 bytes")
)
