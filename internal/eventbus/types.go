package eventbus

import (
	"fmt"

	"go.uber.org/multierr"

	"firestige.xyz/dissector/internal/core"
)

// State is where a packet is in its dissection chain.
type State int

const (
	// StateAwaiting means a layer has been announced and waits for analyzers.
	StateAwaiting State = iota
	// StateDissecting means an analyzer is working on the current layer.
	StateDissecting
	// StateTerminal means no further layer will be dispatched.
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateAwaiting:
		return "awaiting"
	case StateDissecting:
		return "dissecting"
	case StateTerminal:
		return "terminal"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Step records one analyzer run.
type Step struct {
	Tag    core.Protocol
	Start  int
	End    int
	Depth  int
	Fields core.HeaderFieldSet // nil when Err is set
	Err    error
}

// Trace lists every layer visited for one packet, in dispatch order.
type Trace struct {
	Packet    core.PacketID
	State     State
	Current   core.Protocol   // tag being awaited or dissected
	Steps     []Step
	Unhandled []core.Protocol // tags published with no subscriber
}

// Layers returns the tags that produced a field set, in order.
func (t *Trace) Layers() []core.Protocol {
	var out []core.Protocol
	for _, s := range t.Steps {
		if s.Err == nil {
			out = append(out, s.Tag)
		}
	}
	return out
}

// Fields returns the extracted field sets in order.
func (t *Trace) Fields() []core.HeaderFieldSet {
	var out []core.HeaderFieldSet
	for _, s := range t.Steps {
		if s.Fields != nil {
			out = append(out, s.Fields)
		}
	}
	return out
}

// Err combines the analyzer errors met along the chain.
func (t *Trace) Err() error {
	var err error
	for _, s := range t.Steps {
		err = multierr.Append(err, s.Err)
	}
	return err
}

func (t *Trace) enter(tag core.Protocol, s State) {
	t.Current = tag
	t.State = s
}

// Stats 统计信息
type Stats struct {
	PublishedCount int64
	ProcessedCount int64
	FailedCount    int64
	RejectedCount  int64
	PartitionCount int
	QueuedCount    []int
}

// partition 分区结构
type partition struct {
	id    int
	label string
	queue chan core.PacketContext
}
