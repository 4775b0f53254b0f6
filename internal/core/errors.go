// Package core defines sentinel errors.
package core

import (
	"errors"
	"fmt"
)

// Sentinel errors. Typed errors below unwrap to one of these so callers can
// branch with errors.Is.
var (
	// Dissection errors
	ErrTruncatedHeader = errors.New("dissector: truncated header")
	ErrMalformedHeader = errors.New("dissector: malformed header")
	ErrRange           = errors.New("dissector: field range out of bounds")

	// Dispatch errors
	ErrDispatchLoop        = errors.New("dissector: dispatch does not advance")
	ErrMaxDepth            = errors.New("dissector: layer depth limit reached")
	ErrDuplicateSubscriber = errors.New("dissector: protocol already has a subscriber")
	ErrBusClosed           = errors.New("dissector: event bus closed")
	ErrBusFull             = errors.New("dissector: event bus partition full")

	// Sink errors
	ErrSinkWrite = errors.New("dissector: sink write failed")

	// Configuration errors
	ErrConfigInvalid = errors.New("dissector: invalid configuration")
)

// TruncatedHeaderError reports a layer whose header does not fit in the bytes
// available to it.
type TruncatedHeaderError struct {
	Protocol Protocol
	Offset   int // layer start offset
	Need     int // bytes required from Offset
	Have     int // bytes available from Offset
}

func (e *TruncatedHeaderError) Error() string {
	return fmt.Sprintf("%v: %s at offset %d needs %d bytes, have %d",
		ErrTruncatedHeader, e.Protocol, e.Offset, e.Need, e.Have)
}

func (e *TruncatedHeaderError) Unwrap() error { return ErrTruncatedHeader }

// MalformedHeaderError reports a header whose length fields contradict each other.
type MalformedHeaderError struct {
	Protocol Protocol
	Offset   int
	Reason   string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("%v: %s at offset %d: %s", ErrMalformedHeader, e.Protocol, e.Offset, e.Reason)
}

func (e *MalformedHeaderError) Unwrap() error { return ErrMalformedHeader }

// RangeError is returned by the field reader when a read falls outside the
// buffer or the byte. It points at a wrong offset table, not at bad input.
type RangeError struct {
	Field string
	Lo    int
	Hi    int
	Len   int
}

func (e *RangeError) Error() string {
	name := e.Field
	if name == "" {
		name = "field"
	}
	return fmt.Sprintf("%v: %s [%d..%d] over length %d", ErrRange, name, e.Lo, e.Hi, e.Len)
}

func (e *RangeError) Unwrap() error { return ErrRange }

// SinkWriteError wraps a failure reported by an extraction sink.
type SinkWriteError struct {
	Sink     string
	Packet   PacketID
	Protocol Protocol
	Err      error
}

func (e *SinkWriteError) Error() string {
	return fmt.Sprintf("%v: sink %s, packet %d, %s: %v", ErrSinkWrite, e.Sink, e.Packet, e.Protocol, e.Err)
}

func (e *SinkWriteError) Unwrap() []error { return []error{ErrSinkWrite, e.Err} }
