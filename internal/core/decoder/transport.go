package decoder

import (
	"bytes"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/field"
)

const (
	udpHeaderLen    = 8
	tcpHeaderMinLen = 20
)

var tcpFields = struct {
	SrcPort, DstPort, Seq, Ack field.Field
	DataOffset, Flags          field.Field
	Window, Checksum, Urgent   field.Field
}{
	SrcPort:    field.Field{Name: "src_port", Offset: 0, Width: 16},
	DstPort:    field.Field{Name: "dst_port", Offset: 2, Width: 16},
	Seq:        field.Field{Name: "seq", Offset: 4, Width: 32},
	Ack:        field.Field{Name: "ack", Offset: 8, Width: 32},
	DataOffset: field.Field{Name: "data_offset", Offset: 12, Bit: 0, Width: 4},
	Flags:      field.Field{Name: "flags", Offset: 12, Bit: 7, Width: 9}, // NS + CWR..FIN
	Window:     field.Field{Name: "window", Offset: 14, Width: 16},
	Checksum:   field.Field{Name: "checksum", Offset: 16, Width: 16},
	Urgent:     field.Field{Name: "urgent", Offset: 18, Width: 16},
}

// TCPAnalyzer dissects TCP headers. Payload is not inspected; the chain ends here.
type TCPAnalyzer struct{}

// NewTCPAnalyzer returns the analyzer for TCP layers.
func NewTCPAnalyzer() *TCPAnalyzer { return &TCPAnalyzer{} }

// Protocol returns TCP.
func (a *TCPAnalyzer) Protocol() core.Protocol { return core.ProtocolTCP }

// Accepts matches TCP in any case.
func (a *TCPAnalyzer) Accepts(tag core.Protocol) bool { return core.ProtocolTCP.Is(tag) }

// Analyze decodes the TCP header at pc.Start, options included, and ends
// the chain.
func (a *TCPAnalyzer) Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error) {
	if err := requireBytes(core.ProtocolTCP, pc, tcpHeaderMinLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	r := field.NewReader(pc.Data[:pc.Bound()], pc.Start)

	// Data Offset in 32-bit words, options included
	dataOffset := r.Uint8(tcpFields.DataOffset)
	headerLen := int(dataOffset) * 4
	if headerLen < tcpHeaderMinLen {
		return nil, core.DispatchSignal{}, &core.MalformedHeaderError{
			Protocol: core.ProtocolTCP, Offset: pc.Start, Reason: "data offset below 5",
		}
	}
	if err := requireBytes(core.ProtocolTCP, pc, headerLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	f := &core.TCPFields{
		Layer:      core.Layer{Packet: pc.ID, Tag: core.ProtocolTCP, Offset: pc.Start},
		SrcPort:    r.Uint16(tcpFields.SrcPort),
		DstPort:    r.Uint16(tcpFields.DstPort),
		SeqNum:     r.Uint32(tcpFields.Seq),
		AckNum:     r.Uint32(tcpFields.Ack),
		DataOffset: dataOffset,
		Flags:      r.Uint16(tcpFields.Flags),
		Window:     r.Uint16(tcpFields.Window),
		Checksum:   r.Uint16(tcpFields.Checksum),
		Urgent:     r.Uint16(tcpFields.Urgent),
	}
	if headerLen > tcpHeaderMinLen {
		f.Options = bytes.Clone(r.Bytes(tcpHeaderMinLen, headerLen))
	}
	if err := r.Err(); err != nil {
		return nil, core.DispatchSignal{}, err
	}
	f.PayloadLength = pc.Available() - headerLen

	sig := core.DispatchSignal{
		Next:  core.ProtocolEnd,
		Start: pc.Start + headerLen,
		End:   pc.Bound(),
	}
	return f, sig, nil
}

var udpFields = struct {
	SrcPort, DstPort, Length, Checksum field.Field
}{
	SrcPort:  field.Field{Name: "src_port", Offset: 0, Width: 16},
	DstPort:  field.Field{Name: "dst_port", Offset: 2, Width: 16},
	Length:   field.Field{Name: "length", Offset: 4, Width: 16}, // header + data
	Checksum: field.Field{Name: "checksum", Offset: 6, Width: 16},
}

// UDPAnalyzer dissects UDP headers. Payload is not inspected; the chain ends here.
type UDPAnalyzer struct{}

// NewUDPAnalyzer returns the analyzer for UDP layers.
func NewUDPAnalyzer() *UDPAnalyzer { return &UDPAnalyzer{} }

// Protocol returns UDP.
func (a *UDPAnalyzer) Protocol() core.Protocol { return core.ProtocolUDP }

// Accepts matches UDP in any case.
func (a *UDPAnalyzer) Accepts(tag core.Protocol) bool { return core.ProtocolUDP.Is(tag) }

// Analyze decodes the UDP header at pc.Start and bounds the payload by the
// length field. It ends the chain.
func (a *UDPAnalyzer) Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error) {
	if err := requireBytes(core.ProtocolUDP, pc, udpHeaderLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	r := field.NewReader(pc.Data[:pc.Bound()], pc.Start)
	f := &core.UDPFields{
		Layer:    core.Layer{Packet: pc.ID, Tag: core.ProtocolUDP, Offset: pc.Start},
		SrcPort:  r.Uint16(udpFields.SrcPort),
		DstPort:  r.Uint16(udpFields.DstPort),
		Length:   r.Uint16(udpFields.Length),
		Checksum: r.Uint16(udpFields.Checksum),
	}
	if err := r.Err(); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	end := pc.Bound()
	switch {
	case f.Length == 0:
		// IPv6 jumbogram, length comes from the IP layer
	case f.Length < udpHeaderLen:
		return nil, core.DispatchSignal{}, &core.MalformedHeaderError{
			Protocol: core.ProtocolUDP, Offset: pc.Start, Reason: "length shorter than header",
		}
	case pc.Start+int(f.Length) < end:
		end = pc.Start + int(f.Length)
	}
	f.PayloadLength = end - pc.Start - udpHeaderLen

	sig := core.DispatchSignal{
		Next:  core.ProtocolEnd,
		Start: pc.Start + udpHeaderLen,
		End:   end,
	}
	return f, sig, nil
}
