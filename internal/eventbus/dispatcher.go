// Package eventbus routes packet layers to the analyzers subscribed for them.
//
// The Dispatcher runs one packet's chain synchronously: it hands the current
// layer to every analyzer whose tag matches, stores each field set in the
// sink, then publishes the layer the analyzer announced. The Bus spreads
// whole packets over partitions so chains of different packets run in
// parallel while each packet's layers stay in order.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/multierr"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/core/decoder"
	"firestige.xyz/dissector/internal/log"
	"firestige.xyz/dissector/internal/metrics"
	"firestige.xyz/dissector/internal/sink"
)

// DefaultMaxDepth bounds the number of nested layers per packet.
const DefaultMaxDepth = 16

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxDepth sets the maximum chain depth. Values below 1 are ignored.
func WithMaxDepth(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxDepth = n
		}
	}
}

// WithExclusive rejects a second subscriber for the same tag.
func WithExclusive(exclusive bool) Option {
	return func(d *Dispatcher) { d.exclusive = exclusive }
}

// subscription is one registered analyzer and the tags it was registered for.
type subscription struct {
	analyzer decoder.Analyzer
	tags     []core.Protocol
}

// Dispatcher maps protocol tags to analyzers and drives per-packet chains.
type Dispatcher struct {
	mu        sync.RWMutex
	subs      []subscription          // registration order
	table     map[core.Protocol][]int // tag -> indexes into subs
	sink      sink.Sink
	maxDepth  int
	exclusive bool
}

// NewDispatcher creates a dispatcher that stores every field set in s.
// A nil sink discards them.
func NewDispatcher(s sink.Sink, opts ...Option) *Dispatcher {
	if s == nil {
		s = sink.NewDiscard()
	}
	d := &Dispatcher{
		table:    make(map[core.Protocol][]int),
		sink:     s,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Subscribe registers a for tags, or for a.Protocol() when none are given.
// Subscribers run in registration order.
func (d *Dispatcher) Subscribe(a decoder.Analyzer, tags ...core.Protocol) error {
	if len(tags) == 0 {
		tags = []core.Protocol{a.Protocol()}
	}
	norm := make([]core.Protocol, 0, len(tags))
	for _, t := range tags {
		tag := t.Normalize()
		if tag.Terminal() {
			return fmt.Errorf("%w: cannot subscribe to terminal tag %q", core.ErrConfigInvalid, t)
		}
		if !slices.Contains(norm, tag) {
			norm = append(norm, tag)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.exclusive {
		for _, tag := range norm {
			if len(d.table[tag]) > 0 {
				return fmt.Errorf("%w: %s", core.ErrDuplicateSubscriber, tag)
			}
		}
	}
	idx := len(d.subs)
	d.subs = append(d.subs, subscription{analyzer: a, tags: norm})
	for _, tag := range norm {
		d.table[tag] = append(d.table[tag], idx)
	}

	log.GetLogger().WithField("protocol", norm).Debug("analyzer subscribed")
	return nil
}

// SubscribeAll registers every analyzer for its own tag and reports all failures.
func (d *Dispatcher) SubscribeAll(analyzers []decoder.Analyzer) error {
	var err error
	for _, a := range analyzers {
		err = multierr.Append(err, d.Subscribe(a))
	}
	return err
}

// Subscribers returns, in registration order, every analyzer registered for
// tag or whose Accepts(tag) is true.
func (d *Dispatcher) Subscribers(tag core.Protocol) []decoder.Analyzer {
	tag = tag.Normalize()
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []decoder.Analyzer
	for _, s := range d.subs {
		if slices.Contains(s.tags, tag) || s.analyzer.Accepts(tag) {
			out = append(out, s.analyzer)
		}
	}
	return out
}

// Protocols returns the tags with at least one registered subscriber.
func (d *Dispatcher) Protocols() []core.Protocol {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]core.Protocol, 0, len(d.table))
	for tag := range d.table {
		out = append(out, tag)
	}
	return out
}

// Publish dissects the packet starting at pc and blocks until its chain is
// terminal. Every field set reaches the sink before the next layer is
// dispatched. Analyzer failures stop only their own branch; sink failures are
// reported but do not stop the chain. The returned error combines both.
func (d *Dispatcher) Publish(ctx context.Context, pc core.PacketContext) (*Trace, error) {
	tr := &Trace{Packet: pc.ID}
	err := d.dispatch(ctx, pc, 1, tr)
	tr.enter(core.ProtocolEnd, StateTerminal)

	metrics.ChainsTotal.WithLabelValues(chainReason(tr, err)).Inc()
	metrics.ChainDepth.Observe(float64(len(tr.Layers())))
	return tr, err
}

func (d *Dispatcher) dispatch(ctx context.Context, pc core.PacketContext, depth int, tr *Trace) error {
	if pc.Tag.Terminal() {
		return nil
	}
	tr.enter(pc.Tag, StateAwaiting)

	if err := ctx.Err(); err != nil {
		return err
	}
	if depth > d.maxDepth {
		metrics.DissectionErrorsTotal.WithLabelValues(string(pc.Tag), "max_depth").Inc()
		return fmt.Errorf("%w: packet %s reached %s at depth %d", core.ErrMaxDepth, pc.ID, pc.Tag, depth)
	}

	subs := d.Subscribers(pc.Tag)
	if len(subs) == 0 {
		tr.Unhandled = append(tr.Unhandled, pc.Tag)
		return nil
	}

	var errs error
	for _, a := range subs {
		tr.enter(pc.Tag, StateDissecting)
		fields, sig, err := a.Analyze(pc)
		step := Step{Tag: pc.Tag, Start: pc.Start, End: pc.Bound(), Depth: depth}
		if err != nil {
			step.Err = err
			tr.Steps = append(tr.Steps, step)
			metrics.DissectionErrorsTotal.WithLabelValues(string(pc.Tag), errorKind(err)).Inc()
			log.GetLogger().WithLayer(pc).WithError(err).Debug("layer dissection failed")
			errs = multierr.Append(errs, err)
			continue
		}

		step.Fields = fields
		tr.Steps = append(tr.Steps, step)
		metrics.LayersDissectedTotal.WithLabelValues(string(pc.Tag)).Inc()

		if err := d.sink.Store(ctx, fields); err != nil {
			serr := &core.SinkWriteError{Sink: d.sink.Name(), Packet: pc.ID, Protocol: pc.Tag, Err: err}
			log.GetLogger().WithLayer(pc).WithError(serr).Warn("sink write failed")
			errs = multierr.Append(errs, serr)
		}

		if sig.Terminal() {
			continue
		}
		if sig.Start <= pc.Start {
			metrics.DissectionErrorsTotal.WithLabelValues(string(pc.Tag), "loop").Inc()
			errs = multierr.Append(errs, fmt.Errorf("%w: %s at offset %d announced %s at offset %d",
				core.ErrDispatchLoop, pc.Tag, pc.Start, sig.Next, sig.Start))
			continue
		}
		errs = multierr.Append(errs, d.dispatch(ctx, pc.Next(sig), depth+1, tr))
	}
	return errs
}

// Close closes the sink.
func (d *Dispatcher) Close() error {
	return d.sink.Close()
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, core.ErrTruncatedHeader):
		return "truncated"
	case errors.Is(err, core.ErrMalformedHeader):
		return "malformed"
	case errors.Is(err, core.ErrRange):
		return "range"
	default:
		return "other"
	}
}

func chainReason(tr *Trace, err error) string {
	switch {
	case errors.Is(err, core.ErrMaxDepth):
		return metrics.ReasonMaxDepth
	case errors.Is(err, core.ErrDispatchLoop):
		return metrics.ReasonLoop
	case err != nil:
		return metrics.ReasonError
	case len(tr.Unhandled) > 0:
		return metrics.ReasonNoAnalyzer
	default:
		return metrics.ReasonTerminal
	}
}
