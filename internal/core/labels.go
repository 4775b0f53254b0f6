// Package core defines core types.
package core

import (
	"strconv"
	"strings"
)

// Labels represents key-value renderings of extracted fields.
type Labels map[string]string

// Label naming constants following {protocol}.{field} convention.
const (
	LabelEthSrc       = "eth.src"
	LabelEthDst       = "eth.dst"
	LabelEthType      = "eth.type"
	LabelEthVLANs     = "eth.vlans" // comma-separated VLAN IDs, outermost first

	LabelIPv4Version  = "ipv4.version"
	LabelIPv4IHL      = "ipv4.ihl"
	LabelIPv4TotalLen = "ipv4.total_length"
	LabelIPv4ID       = "ipv4.id"
	LabelIPv4DF       = "ipv4.df"
	LabelIPv4MF       = "ipv4.mf"
	LabelIPv4FragOff  = "ipv4.frag_offset"
	LabelIPv4TTL      = "ipv4.ttl"
	LabelIPv4Proto    = "ipv4.proto"
	LabelIPv4Checksum = "ipv4.checksum" // hex, 0xXXXX
	LabelIPv4Src      = "ipv4.src"
	LabelIPv4Dst      = "ipv4.dst"

	LabelIPv6FlowLabel = "ipv6.flow_label"
	LabelIPv6NextHdr   = "ipv6.next_header"
	LabelIPv6HopLimit  = "ipv6.hop_limit"
	LabelIPv6Src       = "ipv6.src"
	LabelIPv6Dst       = "ipv6.dst"

	LabelTCPSrcPort = "tcp.src_port"
	LabelTCPDstPort = "tcp.dst_port"
	LabelTCPSeq     = "tcp.seq"
	LabelTCPAck     = "tcp.ack"
	LabelTCPFlags   = "tcp.flags" // e.g. "ACK|SYN"
	LabelTCPWindow  = "tcp.window"

	LabelUDPSrcPort = "udp.src_port"
	LabelUDPDstPort = "udp.dst_port"
	LabelUDPLength  = "udp.length"
)

func (f *EthernetFields) Labels() Labels {
	l := Labels{
		LabelEthSrc:  f.SrcMAC,
		LabelEthDst:  f.DstMAC,
		LabelEthType: hex16(f.EtherType),
	}
	if len(f.VLANs) > 0 {
		ids := make([]string, len(f.VLANs))
		for i, v := range f.VLANs {
			ids[i] = strconv.Itoa(int(v))
		}
		l[LabelEthVLANs] = strings.Join(ids, ",")
	}
	return l
}

func (f *IPv4Fields) Labels() Labels {
	return Labels{
		LabelIPv4Version:  strconv.Itoa(int(f.Version)),
		LabelIPv4IHL:      strconv.Itoa(int(f.IHL)),
		LabelIPv4TotalLen: strconv.Itoa(int(f.TotalLength)),
		LabelIPv4ID:       strconv.Itoa(int(f.Identification)),
		LabelIPv4DF:       strconv.FormatBool(f.DontFragment),
		LabelIPv4MF:       strconv.FormatBool(f.MoreFragments),
		LabelIPv4FragOff:  strconv.Itoa(int(f.FragmentOffset)),
		LabelIPv4TTL:      strconv.Itoa(int(f.TTL)),
		LabelIPv4Proto:    string(f.NextProtocol),
		LabelIPv4Checksum: hex16(f.Checksum),
		LabelIPv4Src:      f.SourceAddr,
		LabelIPv4Dst:      f.DestinationAddr,
	}
}

func (f *IPv6Fields) Labels() Labels {
	return Labels{
		LabelIPv6FlowLabel: strconv.FormatUint(uint64(f.FlowLabel), 10),
		LabelIPv6NextHdr:   string(f.NextProtocol),
		LabelIPv6HopLimit:  strconv.Itoa(int(f.HopLimit)),
		LabelIPv6Src:       f.SourceAddr,
		LabelIPv6Dst:       f.DestinationAddr,
	}
}

var tcpFlagNames = []struct {
	bit  uint16
	name string
}{
	{TCPFlagNS, "NS"}, {TCPFlagCWR, "CWR"}, {TCPFlagECE, "ECE"}, {TCPFlagURG, "URG"},
	{TCPFlagACK, "ACK"}, {TCPFlagPSH, "PSH"}, {TCPFlagRST, "RST"}, {TCPFlagSYN, "SYN"},
	{TCPFlagFIN, "FIN"},
}

// FlagString renders the set flags as "ACK|SYN", high bit first.
func (f *TCPFields) FlagString() string {
	var names []string
	for _, fl := range tcpFlagNames {
		if f.Flags&fl.bit != 0 {
			names = append(names, fl.name)
		}
	}
	return strings.Join(names, "|")
}

func (f *TCPFields) Labels() Labels {
	return Labels{
		LabelTCPSrcPort: strconv.Itoa(int(f.SrcPort)),
		LabelTCPDstPort: strconv.Itoa(int(f.DstPort)),
		LabelTCPSeq:     strconv.FormatUint(uint64(f.SeqNum), 10),
		LabelTCPAck:     strconv.FormatUint(uint64(f.AckNum), 10),
		LabelTCPFlags:   f.FlagString(),
		LabelTCPWindow:  strconv.Itoa(int(f.Window)),
	}
}

func (f *UDPFields) Labels() Labels {
	return Labels{
		LabelUDPSrcPort: strconv.Itoa(int(f.SrcPort)),
		LabelUDPDstPort: strconv.Itoa(int(f.DstPort)),
		LabelUDPLength:  strconv.Itoa(int(f.Length)),
	}
}

func hex16(v uint16) string {
	s := strconv.FormatUint(uint64(v), 16)
	return "0x" + strings.Repeat("0", 4-len(s)) + s
}
