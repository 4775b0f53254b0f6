// Package core defines core types with zero external dependencies.
package core

// HeaderFieldSet is the flat record of fields extracted from one layer.
type HeaderFieldSet interface {
	PacketID() PacketID
	Protocol() Protocol
	Labels() Labels
}

// Layer links a field set to its packet and position.
type Layer struct {
	Packet PacketID `json:"packet_id"`
	Tag    Protocol `json:"protocol"`
	Offset int      `json:"offset"`
}

func (l Layer) PacketID() PacketID { return l.Packet }
func (l Layer) Protocol() Protocol { return l.Tag }

// EthernetFields represents the L2 Ethernet frame header.
type EthernetFields struct {
	Layer
	DstMAC       string   `json:"dst_mac"`
	SrcMAC       string   `json:"src_mac"`
	EtherType    uint16   `json:"ether_type"` // after any VLAN tags
	VLANs        []uint16 `json:"vlans,omitempty"`
	NextProtocol Protocol `json:"next_protocol"`
}

// IPv4Fields represents the L3 IPv4 header.
type IPv4Fields struct {
	Layer
	Version         uint8    `json:"version"`
	IHL             uint8    `json:"ihl"` // 32-bit words
	DSCP            uint8    `json:"dscp"`
	ECN             uint8    `json:"ecn"`
	TotalLength     uint16   `json:"total_length"`
	Identification  uint16   `json:"identification"`
	DontFragment    bool     `json:"dont_fragment"`
	MoreFragments   bool     `json:"more_fragments"`
	FragmentOffset  uint16   `json:"fragment_offset"` // 8-byte units
	TTL             uint8    `json:"ttl"`
	ProtocolNumber  uint8    `json:"protocol_number"`
	NextProtocol    Protocol `json:"next_protocol"`
	Checksum        uint16   `json:"checksum"` // extracted, not verified
	SourceAddr      string   `json:"source_addr"`
	DestinationAddr string   `json:"destination_addr"`
	Options         []byte   `json:"options,omitempty"`
}

// HeaderLength returns the header length in bytes.
func (f *IPv4Fields) HeaderLength() int { return int(f.IHL) * 4 }

// IPv6Fields represents the fixed L3 IPv6 header. Extension headers are not walked.
type IPv6Fields struct {
	Layer
	Version         uint8    `json:"version"`
	TrafficClass    uint8    `json:"traffic_class"`
	FlowLabel       uint32   `json:"flow_label"`
	PayloadLength   uint16   `json:"payload_length"`
	NextHeader      uint8    `json:"next_header"`
	HopLimit        uint8    `json:"hop_limit"`
	NextProtocol    Protocol `json:"next_protocol"`
	SourceAddr      string   `json:"source_addr"`
	DestinationAddr string   `json:"destination_addr"`
}

// TCPFields represents the L4 TCP header.
type TCPFields struct {
	Layer
	SrcPort       uint16 `json:"src_port"`
	DstPort       uint16 `json:"dst_port"`
	SeqNum        uint32 `json:"seq"`
	AckNum        uint32 `json:"ack"`
	DataOffset    uint8  `json:"data_offset"` // 32-bit words
	Flags         uint16 `json:"flags"`       // NS..FIN, 9 bits
	Window        uint16 `json:"window"`
	Checksum      uint16 `json:"checksum"`
	Urgent        uint16 `json:"urgent"`
	Options       []byte `json:"options,omitempty"`
	PayloadLength int    `json:"payload_length"`
}

// TCP flag bits as stored in TCPFields.Flags.
const (
	TCPFlagFIN uint16 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
	TCPFlagNS
)

// Has reports whether every bit in flag is set.
func (f *TCPFields) Has(flag uint16) bool { return f.Flags&flag == flag }

// UDPFields represents the L4 UDP header.
type UDPFields struct {
	Layer
	SrcPort       uint16 `json:"src_port"`
	DstPort       uint16 `json:"dst_port"`
	Length        uint16 `json:"length"`
	Checksum      uint16 `json:"checksum"`
	PayloadLength int    `json:"payload_length"`
}
