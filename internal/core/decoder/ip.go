package decoder

import (
	"bytes"
	"net/netip"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/field"
)

const (
	ipv4HeaderMinLen = ipv4.HeaderLen // 20, IHL = 5
	ipv6HeaderLen    = ipv6.HeaderLen // 40, fixed
)

// IPv4 header layout.
var ipv4Fields = struct {
	Version, IHL, DSCP, ECN                     field.Field
	TotalLength, Identification                 field.Field
	DontFragment, MoreFragments, FragmentOffset field.Field
	TTL, Protocol, Checksum                     field.Field
}{
	Version:        field.Field{Name: "version", Offset: 0, Bit: 0, Width: 4},
	IHL:            field.Field{Name: "ihl", Offset: 0, Bit: 4, Width: 4},
	DSCP:           field.Field{Name: "dscp", Offset: 1, Bit: 0, Width: 6},
	ECN:            field.Field{Name: "ecn", Offset: 1, Bit: 6, Width: 2},
	TotalLength:    field.Field{Name: "total_length", Offset: 2, Width: 16},
	Identification: field.Field{Name: "identification", Offset: 4, Width: 16},
	DontFragment:   field.Field{Name: "dont_fragment", Offset: 6, Bit: 1, Width: 1},
	MoreFragments:  field.Field{Name: "more_fragments", Offset: 6, Bit: 2, Width: 1},
	FragmentOffset: field.Field{Name: "fragment_offset", Offset: 6, Bit: 3, Width: 13},
	TTL:            field.Field{Name: "ttl", Offset: 8, Width: 8},
	Protocol:       field.Field{Name: "protocol", Offset: 9, Width: 8},
	Checksum:       field.Field{Name: "checksum", Offset: 10, Width: 16},
}

// Source and destination address ranges, [lo, hi).
const (
	ipv4SrcLo, ipv4SrcHi = 12, 16
	ipv4DstLo, ipv4DstHi = 16, 20
)

// IPv4Analyzer dissects IPv4 headers.
type IPv4Analyzer struct{}

// NewIPv4Analyzer returns the analyzer for IPV4 layers.
func NewIPv4Analyzer() *IPv4Analyzer { return &IPv4Analyzer{} }

func (a *IPv4Analyzer) Protocol() core.Protocol { return core.ProtocolIPv4 }

func (a *IPv4Analyzer) Accepts(tag core.Protocol) bool { return core.ProtocolIPv4.Is(tag) }

// Analyze decodes the IPv4 header at pc.Start. The IHL nibble is read first
// and the whole header, options included, must be present before any other
// field is trusted. The checksum is extracted but not verified.
func (a *IPv4Analyzer) Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error) {
	if err := requireBytes(core.ProtocolIPv4, pc, ipv4HeaderMinLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	r := field.NewReader(pc.Data[:pc.Bound()], pc.Start)

	// IHL (Internet Header Length) in 32-bit words
	ihl := r.Uint8(ipv4Fields.IHL)
	headerLen := int(ihl) * 4
	if headerLen < ipv4HeaderMinLen {
		return nil, core.DispatchSignal{}, &core.MalformedHeaderError{
			Protocol: core.ProtocolIPv4, Offset: pc.Start, Reason: "IHL below 5",
		}
	}
	if err := requireBytes(core.ProtocolIPv4, pc, headerLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	totalLen := r.Uint16(ipv4Fields.TotalLength)
	if int(totalLen) < headerLen {
		return nil, core.DispatchSignal{}, &core.MalformedHeaderError{
			Protocol: core.ProtocolIPv4, Offset: pc.Start, Reason: "total length shorter than header",
		}
	}

	f := &core.IPv4Fields{
		Layer:          core.Layer{Packet: pc.ID, Tag: core.ProtocolIPv4, Offset: pc.Start},
		Version:        r.Uint8(ipv4Fields.Version),
		IHL:            ihl,
		DSCP:           r.Uint8(ipv4Fields.DSCP),
		ECN:            r.Uint8(ipv4Fields.ECN),
		TotalLength:    totalLen,
		Identification: r.Uint16(ipv4Fields.Identification),
		DontFragment:   r.Flag(ipv4Fields.DontFragment),
		MoreFragments:  r.Flag(ipv4Fields.MoreFragments),
		FragmentOffset: r.Uint16(ipv4Fields.FragmentOffset),
		TTL:            r.Uint8(ipv4Fields.TTL),
		ProtocolNumber: r.Uint8(ipv4Fields.Protocol),
		Checksum:       r.Uint16(ipv4Fields.Checksum),
	}
	src := r.Bytes(ipv4SrcLo, ipv4SrcHi)
	dst := r.Bytes(ipv4DstLo, ipv4DstHi)
	if headerLen > ipv4HeaderMinLen {
		f.Options = bytes.Clone(r.Bytes(ipv4HeaderMinLen, headerLen))
	}
	if err := r.Err(); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	f.SourceAddr = netip.AddrFrom4([4]byte(src)).String()
	f.DestinationAddr = netip.AddrFrom4([4]byte(dst)).String()
	f.NextProtocol = nextFromIPProtocol(f.ProtocolNumber)

	sig := core.DispatchSignal{
		Next:  f.NextProtocol,
		Start: pc.Start + headerLen,
		End:   pc.Start + int(totalLen),
	}
	return f, sig, nil
}

// IPv6 header layout.
var ipv6Fields = struct {
	Version, TrafficClass, FlowLabel    field.Field
	PayloadLength, NextHeader, HopLimit field.Field
}{
	Version:       field.Field{Name: "version", Offset: 0, Bit: 0, Width: 4},
	TrafficClass:  field.Field{Name: "traffic_class", Offset: 0, Bit: 4, Width: 8},
	FlowLabel:     field.Field{Name: "flow_label", Offset: 1, Bit: 4, Width: 20},
	PayloadLength: field.Field{Name: "payload_length", Offset: 4, Width: 16},
	NextHeader:    field.Field{Name: "next_header", Offset: 6, Width: 8},
	HopLimit:      field.Field{Name: "hop_limit", Offset: 7, Width: 8},
}

const (
	ipv6SrcLo, ipv6SrcHi = 8, 24
	ipv6DstLo, ipv6DstHi = 24, 40
)

// IPv6Analyzer dissects the fixed IPv6 header.
type IPv6Analyzer struct{}

// NewIPv6Analyzer returns the analyzer for IPV6 layers.
func NewIPv6Analyzer() *IPv6Analyzer { return &IPv6Analyzer{} }

func (a *IPv6Analyzer) Protocol() core.Protocol { return core.ProtocolIPv6 }

func (a *IPv6Analyzer) Accepts(tag core.Protocol) bool { return core.ProtocolIPv6.Is(tag) }

// Analyze decodes the IPv6 header at pc.Start. Extension headers are not
// walked, so any next header other than TCP or UDP ends the chain.
func (a *IPv6Analyzer) Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error) {
	if err := requireBytes(core.ProtocolIPv6, pc, ipv6HeaderLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	r := field.NewReader(pc.Data[:pc.Bound()], pc.Start)
	f := &core.IPv6Fields{
		Layer:         core.Layer{Packet: pc.ID, Tag: core.ProtocolIPv6, Offset: pc.Start},
		Version:       r.Uint8(ipv6Fields.Version),
		TrafficClass:  r.Uint8(ipv6Fields.TrafficClass),
		FlowLabel:     r.Uint32(ipv6Fields.FlowLabel),
		PayloadLength: r.Uint16(ipv6Fields.PayloadLength),
		NextHeader:    r.Uint8(ipv6Fields.NextHeader),
		HopLimit:      r.Uint8(ipv6Fields.HopLimit),
	}
	src := r.Bytes(ipv6SrcLo, ipv6SrcHi)
	dst := r.Bytes(ipv6DstLo, ipv6DstHi)
	if err := r.Err(); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	f.SourceAddr = netip.AddrFrom16([16]byte(src)).String()
	f.DestinationAddr = netip.AddrFrom16([16]byte(dst)).String()
	f.NextProtocol = nextFromIPProtocol(f.NextHeader)

	end := pc.Start + ipv6HeaderLen + int(f.PayloadLength)
	if f.PayloadLength == 0 {
		// Jumbogram: the real length lives in a hop-by-hop option.
		end = pc.Bound()
	}
	sig := core.DispatchSignal{
		Next:  f.NextProtocol,
		Start: pc.Start + ipv6HeaderLen,
		End:   end,
	}
	return f, sig, nil
}
