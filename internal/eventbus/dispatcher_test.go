package eventbus

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/decoder"
	"firestige.xyz/dissector/internal/sink"
)

// stubAnalyzer announces next at start+advance and records what it saw.
type stubAnalyzer struct {
	tag     core.Protocol
	next    core.Protocol
	advance int
	err     error

	mu   sync.Mutex
	seen []core.PacketContext
}

func (s *stubAnalyzer) Protocol() core.Protocol        { return s.tag }
func (s *stubAnalyzer) Accepts(tag core.Protocol) bool { return s.tag.Is(tag) }

func (s *stubAnalyzer) Analyze(pc core.PacketContext) (core.HeaderFieldSet, core.DispatchSignal, error) {
	s.mu.Lock()
	s.seen = append(s.seen, pc)
	s.mu.Unlock()
	if s.err != nil {
		return nil, core.DispatchSignal{}, s.err
	}
	fields := &core.UDPFields{Layer: core.Layer{Packet: pc.ID, Tag: s.tag, Offset: pc.Start}}
	return fields, core.DispatchSignal{Next: s.next, Start: pc.Start + s.advance, End: pc.Bound()}, nil
}

func (s *stubAnalyzer) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// failingSink rejects every field set.
type failingSink struct{ err error }

func (f *failingSink) Name() string                                     { return "failing" }
func (f *failingSink) Store(context.Context, core.HeaderFieldSet) error { return f.err }
func (f *failingSink) Close() error                                     { return nil }

func udpFrame(t testing.TB, id byte) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, id},
		DstMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 1, id),
		DstIP:    net.IPv4(192, 168, 1, 254),
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 53}
	require.NoError(t, udp.SetNetworkLayerForChecksum(ip))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	require.NoError(t, gopacket.SerializeLayers(buf, opts, eth, ip, udp, gopacket.Payload([]byte("query"))))
	return buf.Bytes()
}

func newDefaultDispatcher(t testing.TB, s sink.Sink, opts ...Option) *Dispatcher {
	t.Helper()
	d := NewDispatcher(s, opts...)
	require.NoError(t, d.SubscribeAll(decoder.Defaults()))
	return d
}

func TestPublishFullChain(t *testing.T) {
	mem := sink.NewMemory()
	d := newDefaultDispatcher(t, mem)

	tr, err := d.Publish(context.Background(), core.NewPacketContext(1, core.ProtocolEthernet, udpFrame(t, 1)))
	require.NoError(t, err)

	assert.Equal(t, []core.Protocol{core.ProtocolEthernet, core.ProtocolIPv4, core.ProtocolUDP}, tr.Layers())
	assert.Equal(t, StateTerminal, tr.State)
	assert.Empty(t, tr.Unhandled)

	stored := mem.Packet(1)
	require.Len(t, stored, 3)
	assert.Equal(t, core.ProtocolEthernet, stored[0].Protocol())
	assert.Equal(t, core.ProtocolIPv4, stored[1].Protocol())
	assert.Equal(t, core.ProtocolUDP, stored[2].Protocol())

	udp, ok := stored[2].(*core.UDPFields)
	require.True(t, ok)
	assert.Equal(t, uint16(53), udp.DstPort)
	assert.Equal(t, 34, udp.Offset)

	for i, s := range tr.Steps {
		assert.Equal(t, i+1, s.Depth)
	}
}

func TestPublishLowerCaseTag(t *testing.T) {
	mem := sink.NewMemory()
	d := newDefaultDispatcher(t, mem)

	tr, err := d.Publish(context.Background(), core.NewPacketContext(2, "ethernet", udpFrame(t, 2)))
	require.NoError(t, err)
	assert.Len(t, tr.Layers(), 3)
}

func TestPublishTerminalTag(t *testing.T) {
	mem := sink.NewMemory()
	d := newDefaultDispatcher(t, mem)

	tr, err := d.Publish(context.Background(), core.NewPacketContext(3, core.ProtocolEnd, []byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Empty(t, tr.Steps)
	assert.Zero(t, mem.Len())
}

func TestPublishNoSubscriber(t *testing.T) {
	mem := sink.NewMemory()
	d := NewDispatcher(mem)
	require.NoError(t, d.Subscribe(decoder.NewEthernetAnalyzer()))

	tr, err := d.Publish(context.Background(), core.NewPacketContext(4, core.ProtocolEthernet, udpFrame(t, 4)))
	require.NoError(t, err)
	assert.Equal(t, []core.Protocol{core.ProtocolEthernet}, tr.Layers())
	assert.Equal(t, []core.Protocol{core.ProtocolIPv4}, tr.Unhandled)
	assert.Equal(t, 1, mem.Len())
}

func TestPublishFanOutRunsEverySubscriber(t *testing.T) {
	mem := sink.NewMemory()
	d := NewDispatcher(mem)

	first := &stubAnalyzer{tag: "ALPHA", next: "BETA", advance: 2}
	second := &stubAnalyzer{tag: "ALPHA", next: core.ProtocolEnd}
	beta := &stubAnalyzer{tag: "BETA", next: core.ProtocolEnd}
	require.NoError(t, d.SubscribeAll([]decoder.Analyzer{first, second, beta}))
	assert.Len(t, d.Subscribers("alpha"), 2)

	tr, err := d.Publish(context.Background(), core.NewPacketContext(5, "ALPHA", make([]byte, 8)))
	require.NoError(t, err)

	assert.Equal(t, 1, first.calls())
	assert.Equal(t, 1, second.calls())
	assert.Equal(t, 1, beta.calls())
	// depth first: first's child runs before second
	assert.Equal(t, []core.Protocol{"ALPHA", "BETA", "ALPHA"}, tr.Layers())
	assert.Equal(t, 3, mem.Len())
}

func TestSubscribeExclusive(t *testing.T) {
	d := NewDispatcher(nil, WithExclusive(true))
	require.NoError(t, d.Subscribe(decoder.NewIPv4Analyzer()))

	err := d.Subscribe(decoder.NewIPv4Analyzer())
	assert.ErrorIs(t, err, core.ErrDuplicateSubscriber)
	assert.Len(t, d.Subscribers(core.ProtocolIPv4), 1)
}

func TestSubscribeTerminalTag(t *testing.T) {
	d := NewDispatcher(nil)
	err := d.Subscribe(&stubAnalyzer{tag: core.ProtocolEnd})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	err = d.Subscribe(&stubAnalyzer{tag: core.ProtocolIPv4}, core.ProtocolIPv4, "end")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	assert.Empty(t, d.Protocols())
}

// aliasAnalyzer accepts its own tag plus a set of aliases.
type aliasAnalyzer struct {
	*stubAnalyzer
	aliases []core.Protocol
}

func (a *aliasAnalyzer) Accepts(tag core.Protocol) bool {
	if a.stubAnalyzer.Accepts(tag) {
		return true
	}
	for _, alias := range a.aliases {
		if alias.Is(tag) {
			return true
		}
	}
	return false
}

func TestPublishReachesAnalyzerAcceptingAlias(t *testing.T) {
	mem := sink.NewMemory()
	d := NewDispatcher(mem)
	ip := &aliasAnalyzer{stubAnalyzer: &stubAnalyzer{tag: core.ProtocolIPv4, next: core.ProtocolEnd, advance: 20}, aliases: []core.Protocol{"IP"}}
	require.NoError(t, d.Subscribe(ip))

	tr, err := d.Publish(context.Background(), core.NewPacketContext(11, "ip", make([]byte, 20)))
	require.NoError(t, err)
	assert.Equal(t, 1, ip.calls())
	assert.Empty(t, tr.Unhandled)
	assert.Equal(t, 1, mem.Len())
}

func TestSubscribeExplicitTags(t *testing.T) {
	d := NewDispatcher(sink.NewMemory(), WithExclusive(true))
	legacy := &stubAnalyzer{tag: "LEGACY", next: core.ProtocolEnd, advance: 4}
	require.NoError(t, d.Subscribe(legacy, "old", "legacy", "OLD"))

	assert.ElementsMatch(t, []core.Protocol{"OLD", "LEGACY"}, d.Protocols())
	assert.Len(t, d.Subscribers("Old"), 1)

	_, err := d.Publish(context.Background(), core.NewPacketContext(12, "OLD", make([]byte, 8)))
	require.NoError(t, err)
	assert.Equal(t, 1, legacy.calls())

	err = d.Subscribe(&stubAnalyzer{tag: "OLD"})
	assert.ErrorIs(t, err, core.ErrDuplicateSubscriber)
}

func TestPublishDetectsLoop(t *testing.T) {
	d := NewDispatcher(sink.NewMemory())
	loop := &stubAnalyzer{tag: "LOOP", next: "LOOP", advance: 0}
	require.NoError(t, d.Subscribe(loop))

	_, err := d.Publish(context.Background(), core.NewPacketContext(6, "LOOP", make([]byte, 4)))
	assert.ErrorIs(t, err, core.ErrDispatchLoop)
	assert.Equal(t, 1, loop.calls())
}

func TestPublishMaxDepth(t *testing.T) {
	d := NewDispatcher(sink.NewMemory(), WithMaxDepth(3))
	step := &stubAnalyzer{tag: "STEP", next: "STEP", advance: 1}
	require.NoError(t, d.Subscribe(step))

	tr, err := d.Publish(context.Background(), core.NewPacketContext(7, "STEP", make([]byte, 64)))
	assert.ErrorIs(t, err, core.ErrMaxDepth)
	assert.Equal(t, 3, step.calls())
	assert.Len(t, tr.Layers(), 3)
}

func TestPublishAnalyzerErrorStopsBranch(t *testing.T) {
	mem := sink.NewMemory()
	d := newDefaultDispatcher(t, mem)

	frame := udpFrame(t, 8)[:20] // Ethernet plus six bytes of IPv4
	tr, err := d.Publish(context.Background(), core.NewPacketContext(8, core.ProtocolEthernet, frame))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTruncatedHeader)

	var trunc *core.TruncatedHeaderError
	require.True(t, errors.As(err, &trunc))
	assert.Equal(t, core.ProtocolIPv4, trunc.Protocol)

	assert.Equal(t, []core.Protocol{core.ProtocolEthernet}, tr.Layers())
	assert.ErrorIs(t, tr.Err(), core.ErrTruncatedHeader)
	assert.Equal(t, 1, mem.Len())
}

func TestPublishSinkFailureContinuesChain(t *testing.T) {
	boom := errors.New("disk full")
	d := newDefaultDispatcher(t, &failingSink{err: boom})

	tr, err := d.Publish(context.Background(), core.NewPacketContext(9, core.ProtocolEthernet, udpFrame(t, 9)))
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSinkWrite)
	assert.ErrorIs(t, err, boom)

	var serr *core.SinkWriteError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, "failing", serr.Sink)
	assert.Equal(t, core.PacketID(9), serr.Packet)

	assert.Len(t, tr.Layers(), 3)
	assert.NoError(t, tr.Err())
}

func TestPublishCanceledContext(t *testing.T) {
	d := newDefaultDispatcher(t, sink.NewMemory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tr, err := d.Publish(ctx, core.NewPacketContext(10, core.ProtocolEthernet, udpFrame(t, 10)))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, tr.Steps)
}

func TestPublishConcurrentPackets(t *testing.T) {
	mem := sink.NewMemory()
	d := newDefaultDispatcher(t, mem)

	frames := make([][]byte, 33)
	for i := 1; i <= 32; i++ {
		frames[i] = udpFrame(t, byte(i))
	}

	var wg sync.WaitGroup
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, err := d.Publish(context.Background(),
				core.NewPacketContext(core.PacketID(id), core.ProtocolEthernet, frames[id]))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 96, mem.Len())
	for i := 1; i <= 32; i++ {
		stored := mem.Packet(core.PacketID(i))
		require.Len(t, stored, 3)

		eth, ok := stored[0].(*core.EthernetFields)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("aa:bb:cc:dd:ee:%02x", i), eth.SrcMAC)

		ip, ok := stored[1].(*core.IPv4Fields)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("192.168.1.%d", i), ip.SourceAddr)

		assert.Equal(t, core.ProtocolUDP, stored[2].Protocol())
		for _, f := range stored {
			assert.Equal(t, core.PacketID(i), f.PacketID())
		}
	}
}
