package decoder

import (
	"net"

	"github.com/google/gopacket/layers"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/field"
)

const (
	// Ethernet constants
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
	maxVLANTags       = 2 // QinQ
)

var ethernetFields = struct {
	EtherType field.Field
	VLANID    field.Field // relative to the tag
	InnerType field.Field // relative to the tag
}{
	EtherType: field.Field{Name: "ether_type", Offset: 12, Width: 16},
	VLANID:    field.Field{Name: "vlan_id", Offset: 0, Bit: 4, Width: 12},
	InnerType: field.Field{Name: "inner_ether_type", Offset: 2, Width: 16},
}

// EthernetAnalyzer dissects Ethernet II frames, skipping 802.1Q / 802.1ad tags.
type EthernetAnalyzer struct{}

// NewEthernetAnalyzer returns the analyzer for ETHERNET layers.
func NewEthernetAnalyzer() *EthernetAnalyzer { return &EthernetAnalyzer{} }

// Protocol returns ETHERNET.
func (a *EthernetAnalyzer) Protocol() core.Protocol { return core.ProtocolEthernet }

// Accepts matches ETHERNET in any case.
func (a *EthernetAnalyzer) Accepts(tag core.Protocol) bool { return core.ProtocolEthernet.Is(tag) }

// Analyze decodes the Ethernet header at pc.Start and any VLAN tags after it.
// The next layer runs to the end of the captured frame.
func (a *EthernetAnalyzer) Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error) {
	if err := requireBytes(core.ProtocolEthernet, pc, ethernetHeaderLen); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	buf := pc.Data[:pc.Bound()]
	r := field.NewReader(buf, pc.Start)
	dst := r.Bytes(0, 6)
	src := r.Bytes(6, 12)
	etherType := r.Uint16(ethernetFields.EtherType)
	if err := r.Err(); err != nil {
		return nil, core.DispatchSignal{}, err
	}

	f := &core.EthernetFields{
		Layer:  core.Layer{Packet: pc.ID, Tag: core.ProtocolEthernet, Offset: pc.Start},
		DstMAC: net.HardwareAddr(dst).String(),
		SrcMAC: net.HardwareAddr(src).String(),
	}

	headerLen := ethernetHeaderLen
	for isVLAN(etherType) {
		if len(f.VLANs) == maxVLANTags {
			return nil, core.DispatchSignal{}, &core.MalformedHeaderError{
				Protocol: core.ProtocolEthernet, Offset: pc.Start, Reason: "too many VLAN tags",
			}
		}
		if err := requireBytes(core.ProtocolEthernet, pc, headerLen+vlanHeaderLen); err != nil {
			return nil, core.DispatchSignal{}, err
		}
		tag := field.NewReader(buf, pc.Start+headerLen)
		f.VLANs = append(f.VLANs, tag.Uint16(ethernetFields.VLANID))
		etherType = tag.Uint16(ethernetFields.InnerType)
		if err := tag.Err(); err != nil {
			return nil, core.DispatchSignal{}, err
		}
		headerLen += vlanHeaderLen
	}

	f.EtherType = etherType
	f.NextProtocol = nextFromEtherType(etherType)

	sig := core.DispatchSignal{
		Next:  f.NextProtocol,
		Start: pc.Start + headerLen,
		End:   pc.Bound(),
	}
	return f, sig, nil
}

func isVLAN(etherType uint16) bool {
	switch layers.EthernetType(etherType) {
	case layers.EthernetTypeDot1Q, layers.EthernetTypeQinQ:
		return true
	}
	return false
}
