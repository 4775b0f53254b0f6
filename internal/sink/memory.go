package sink

import (
	"context"
	"io"
	"sync"

	"firestige.xyz/dissector/internal/core"
)

func init() {
	Register("memory", func(map[string]any, io.Writer) (Sink, error) { return NewMemory(), nil })
}

// Memory keeps every field set in arrival order, indexed by packet.
type Memory struct {
	mu       sync.Mutex
	records  []core.HeaderFieldSet
	byPacket map[core.PacketID][]core.HeaderFieldSet
	closed   bool
}

// NewMemory returns an empty memory sink.
func NewMemory() *Memory {
	return &Memory{byPacket: make(map[core.PacketID][]core.HeaderFieldSet)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Store(ctx context.Context, fields core.HeaderFieldSet) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errClosed
	}
	m.records = append(m.records, fields)
	m.byPacket[fields.PacketID()] = append(m.byPacket[fields.PacketID()], fields)
	return nil
}

// Records returns a copy of every stored field set.
func (m *Memory) Records() []core.HeaderFieldSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.HeaderFieldSet(nil), m.records...)
}

// Packet returns the field sets stored for one packet, in storage order.
func (m *Memory) Packet(id core.PacketID) []core.HeaderFieldSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.HeaderFieldSet(nil), m.byPacket[id]...)
}

// Len returns the number of stored field sets.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Reset drops everything stored so far.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = nil
	m.byPacket = make(map[core.PacketID][]core.HeaderFieldSet)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
