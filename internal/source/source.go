// Package source turns capture files into numbered packets ready for dissection.
package source

import (
	"fmt"
	"time"

	"github.com/google/gopacket/layers"

	"firestige.xyz/dissector/internal/core"
)

// Link types that carry bare IP datagrams.
const (
	linkTypeIPv4 layers.LinkType = 228
	linkTypeIPv6 layers.LinkType = 229
)

// Packet is one captured frame. Data is owned by the packet and never reused
// by the reader.
type Packet struct {
	ID            core.PacketID
	Tag           core.Protocol // outermost layer
	Data          []byte
	Timestamp     time.Time
	CaptureLength int
	Length        int // length on the wire, may exceed CaptureLength
}

// Context returns the dispatch context for the outermost layer.
func (p Packet) Context() core.PacketContext {
	return core.NewPacketContext(p.ID, p.Tag, p.Data)
}

// Source yields packets in capture order and returns io.EOF when exhausted.
type Source interface {
	ReadPacket() (Packet, error)
	LinkType() layers.LinkType
	Close() error
}

// TagForLinkType maps a capture link type to the tag of its outermost layer.
// Raw IP links are resolved per packet by TagForData.
func TagForLinkType(lt layers.LinkType) (core.Protocol, error) {
	switch lt {
	case layers.LinkTypeEthernet:
		return core.ProtocolEthernet, nil
	case layers.LinkTypeRaw, linkTypeIPv4:
		return core.ProtocolIPv4, nil
	case linkTypeIPv6:
		return core.ProtocolIPv6, nil
	default:
		return core.ProtocolEnd, fmt.Errorf("unsupported link type %s (%d)", lt, int(lt))
	}
}

// TagForData picks the outermost tag for one frame. On raw IP links the
// version nibble decides between IPV4 and IPV6.
func TagForData(lt layers.LinkType, data []byte) core.Protocol {
	tag, err := TagForLinkType(lt)
	if err != nil {
		return core.ProtocolEnd
	}
	if lt != layers.LinkTypeRaw || len(data) == 0 {
		return tag
	}
	switch data[0] >> 4 {
	case 4:
		return core.ProtocolIPv4
	case 6:
		return core.ProtocolIPv6
	default:
		return core.ProtocolEnd
	}
}
