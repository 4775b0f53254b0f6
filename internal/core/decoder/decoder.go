// Package decoder implements per-layer protocol analyzers.
//
// An analyzer reads one layer of a packet, returns the extracted header fields
// and tells the dispatcher which protocol comes next and where it sits. It
// never stores fields or publishes anything itself, and it keeps no per-packet
// state, so one instance serves every packet concurrently.
package decoder

import (
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/dissector/internal/core"
)

// Analyzer dissects one protocol layer.
type Analyzer interface {
	// Protocol returns the tag this analyzer subscribes for.
	Protocol() core.Protocol
	// Accepts reports whether the analyzer handles the declared tag.
	Accepts(tag core.Protocol) bool
	// Analyze extracts the layer at pc.Start and describes the next layer.
	Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error)
}

// Defaults returns one analyzer per supported protocol.
func Defaults() []Analyzer {
	return []Analyzer{
		NewEthernetAnalyzer(),
		NewIPv4Analyzer(),
		NewIPv6Analyzer(),
		NewTCPAnalyzer(),
		NewUDPAnalyzer(),
	}
}

// Select returns the default analyzers whose tags appear in names.
// An empty list selects all of them.
func Select(names []string) []Analyzer {
	all := Defaults()
	if len(names) == 0 {
		return all
	}
	var out []Analyzer
	for _, a := range all {
		for _, n := range names {
			if a.Accepts(core.Protocol(strings.TrimSpace(n))) {
				out = append(out, a)
				break
			}
		}
	}
	return out
}

// requireBytes fails with a TruncatedHeaderError unless need bytes are
// available from pc.Start.
func requireBytes(proto core.Protocol, pc core.PacketContext, need int) error {
	if pc.Start < 0 || pc.Available() < need {
		return &core.TruncatedHeaderError{
			Protocol: proto,
			Offset:   pc.Start,
			Need:     need,
			Have:     pc.Available(),
		}
	}
	return nil
}

// nextFromIPProtocol maps an IPv4 protocol / IPv6 next-header number to a tag.
func nextFromIPProtocol(proto uint8) core.Protocol {
	switch layers.IPProtocol(proto) {
	case layers.IPProtocolTCP:
		return core.ProtocolTCP
	case layers.IPProtocolUDP:
		return core.ProtocolUDP
	default:
		return core.ProtocolEnd
	}
}

// nextFromEtherType maps an EtherType to a tag.
func nextFromEtherType(etherType uint16) core.Protocol {
	switch layers.EthernetType(etherType) {
	case layers.EthernetTypeIPv4:
		return core.ProtocolIPv4
	case layers.EthernetTypeIPv6:
		return core.ProtocolIPv6
	default:
		return core.ProtocolEnd
	}
}
