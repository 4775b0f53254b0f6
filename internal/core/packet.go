// Package core defines core data structures with zero external dependencies.
package core

import (
	"strconv"
	"strings"
)

// Protocol is the declared protocol tag of a layer.
type Protocol string

// Protocol tag vocabulary.
const (
	ProtocolEthernet Protocol = "ETHERNET"
	ProtocolIPv4     Protocol = "IPV4"
	ProtocolIPv6     Protocol = "IPV6"
	ProtocolTCP      Protocol = "TCP"
	ProtocolUDP      Protocol = "UDP"
	ProtocolEnd      Protocol = "END" // terminal or unknown
)

// Normalize returns the canonical upper-case form of the tag.
func (p Protocol) Normalize() Protocol {
	return Protocol(strings.ToUpper(strings.TrimSpace(string(p))))
}

// Is reports whether p and tag name the same protocol, ignoring case.
func (p Protocol) Is(tag Protocol) bool {
	return strings.EqualFold(string(p), string(tag))
}

// Terminal reports whether the tag ends a dissection chain.
func (p Protocol) Terminal() bool {
	return p == "" || p.Is(ProtocolEnd)
}

// PacketID identifies one captured packet for the whole of its dissection.
type PacketID uint64

func (id PacketID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// PacketContext is everything an analyzer needs to start on one layer.
// It is passed by value; dispatching to the next layer builds a new one.
type PacketContext struct {
	ID    PacketID
	Tag   Protocol
	Data  []byte // whole captured frame, shared by every layer, read only
	Start int    // first byte of this layer
	End   int    // exclusive end claimed by the enclosing layer, 0 = len(Data)
}

// NewPacketContext builds the context for the outermost layer of a packet.
func NewPacketContext(id PacketID, tag Protocol, data []byte) PacketContext {
	return PacketContext{
		ID:    id,
		Tag:   tag,
		Data:  data,
		Start: 0,
		End:   len(data),
	}
}

// Bound returns the exclusive end offset this layer may read, End clamped to
// the captured length. A snap-length capture can declare more bytes than it holds.
func (pc PacketContext) Bound() int {
	if pc.End <= 0 || pc.End > len(pc.Data) {
		return len(pc.Data)
	}
	return pc.End
}

// Available returns the number of bytes between Start and Bound.
func (pc PacketContext) Available() int {
	n := pc.Bound() - pc.Start
	if n < 0 {
		return 0
	}
	return n
}

// Next builds the context for the layer described by sig.
func (pc PacketContext) Next(sig DispatchSignal) PacketContext {
	return PacketContext{
		ID:    pc.ID,
		Tag:   sig.Next,
		Data:  pc.Data,
		Start: sig.Start,
		End:   sig.End,
	}
}

// DispatchSignal names the next layer and the byte range it occupies.
type DispatchSignal struct {
	Next  Protocol
	Start int
	End   int
}

// Terminal reports whether the signal ends the chain.
func (s DispatchSignal) Terminal() bool {
	return s.Next.Terminal()
}
