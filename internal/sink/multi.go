package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"firestige.xyz/dissector/internal/core"
)

var errClosed = errors.New("sink closed")

// Multi fans every field set out to several sinks. A failing sink does not
// keep the others from receiving the record.
type Multi struct {
	sinks []Sink
}

// NewMulti returns a sink writing to every one of sinks, in order.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

func (m *Multi) Name() string { return "multi" }

func (m *Multi) Store(ctx context.Context, fields core.HeaderFieldSet) error {
	var err error
	for _, s := range m.sinks {
		if e := s.Store(ctx, fields); e != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %w", s.Name(), e))
		}
	}
	return err
}

func (m *Multi) Close() error {
	var err error
	for _, s := range m.sinks {
		err = multierr.Append(err, s.Close())
	}
	return err
}

// Sinks returns the wrapped sinks.
func (m *Multi) Sinks() []Sink {
	return append([]Sink(nil), m.sinks...)
}
