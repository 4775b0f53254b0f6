package sink

import (
	"context"
	"io"

	"firestige.xyz/dissector/internal/core"
)

func init() {
	Register("discard", func(map[string]any, io.Writer) (Sink, error) { return NewDiscard(), nil })
}

// Discard drops every field set. Useful for benchmarking the dissection path.
type Discard struct{}

// NewDiscard returns a sink that drops everything.
func NewDiscard() *Discard { return &Discard{} }

func (d *Discard) Name() string { return "discard" }

func (d *Discard) Store(context.Context, core.HeaderFieldSet) error { return nil }

func (d *Discard) Close() error { return nil }
