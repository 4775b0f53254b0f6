package pipeline

import (
	"firestige.xyz/dissector/internal/source"
)

// Builder provides a fluent interface for building pipelines.
type Builder struct {
	config Config
}

// NewBuilder creates a new pipeline builder.
func NewBuilder() *Builder {
	return &Builder{
		config: Config{
			BufferSize: 1024, // default
		},
	}
}

// WithSource sets the packet source.
func (b *Builder) WithSource(s source.Source) *Builder {
	b.config.Source = s
	return b
}

// WithFilter sets the BPF filter applied before publishing.
func (b *Builder) WithFilter(f *source.Filter) *Builder {
	b.config.Filter = f
	return b
}

// WithPublisher sets where packets are published.
func (b *Builder) WithPublisher(p Publisher) *Builder {
	b.config.Publisher = p
	return b
}

// WithBufferSize sets the packet channel buffer size.
func (b *Builder) WithBufferSize(size int) *Builder {
	b.config.BufferSize = size
	return b
}

// Build creates the pipeline.
func (b *Builder) Build() (*Pipeline, error) {
	return New(b.config)
}
