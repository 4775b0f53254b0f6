// Package sink implements the extraction sinks that receive header field sets.
//
// The dispatcher hands every extracted layer to exactly one Sink. Several
// configured sinks are combined with Multi. Each sink type registers a
// factory under its config name.
package sink

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/metrics"
)

// Sink persists or forwards extracted field sets.
type Sink interface {
	// Name returns the sink type, used in logs and metrics.
	Name() string
	// Store accepts one layer's field set. It may block on I/O.
	Store(ctx context.Context, fields core.HeaderFieldSet) error
	// Close flushes and releases resources.
	Close() error
}

// Factory builds a sink from its decoded options. out is the process's
// standard output, overridable in tests.
type Factory func(opts map[string]any, out io.Writer) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a sink type available to Build.
func Register(typ string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[strings.ToLower(typ)] = f
}

// Types lists the registered sink types.
func Types() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]string, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Build creates the sinks named in cfgs. More than one sink is wrapped in Multi.
func Build(cfgs []config.SinkConfig, out io.Writer) (Sink, error) {
	sinks := make([]Sink, 0, len(cfgs))
	for i, c := range cfgs {
		registryMu.RLock()
		f, ok := registry[strings.ToLower(c.Type)]
		registryMu.RUnlock()
		if !ok {
			closeAll(sinks)
			return nil, fmt.Errorf("%w: sinks[%d]: unknown sink type %q (known: %s)",
				core.ErrConfigInvalid, i, c.Type, strings.Join(Types(), ", "))
		}
		s, err := f(c.Options, out)
		if err != nil {
			closeAll(sinks)
			return nil, fmt.Errorf("sinks[%d] %s: %w", i, c.Type, err)
		}
		sinks = append(sinks, Instrument(s))
	}

	switch len(sinks) {
	case 0:
		return Instrument(NewDiscard()), nil
	case 1:
		return sinks[0], nil
	default:
		return NewMulti(sinks...), nil
	}
}

func closeAll(sinks []Sink) {
	for _, s := range sinks {
		_ = s.Close()
	}
}

// decodeOptions decodes loosely typed YAML options into a typed struct.
func decodeOptions(in map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	return nil
}

// instrumented counts writes per sink.
type instrumented struct {
	Sink
}

// Instrument wraps s so every Store is counted by result.
func Instrument(s Sink) Sink {
	if _, ok := s.(*instrumented); ok {
		return s
	}
	return &instrumented{Sink: s}
}

func (s *instrumented) Store(ctx context.Context, fields core.HeaderFieldSet) error {
	if err := s.Sink.Store(ctx, fields); err != nil {
		metrics.SinkWritesTotal.WithLabelValues(s.Name(), metrics.ResultError).Inc()
		return err
	}
	metrics.SinkWritesTotal.WithLabelValues(s.Name(), metrics.ResultOK).Inc()
	return nil
}

// Unwrap returns the wrapped sink.
func (s *instrumented) Unwrap() Sink { return s.Sink }
