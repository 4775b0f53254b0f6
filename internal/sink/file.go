package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"firestige.xyz/dissector/internal/config"
	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/log"
)

func init() {
	Register("file", func(opts map[string]any, _ io.Writer) (Sink, error) {
		return NewFile(opts)
	})
}

// FileOptions represents file sink configuration.
type FileOptions struct {
	Path       string `mapstructure:"path"` // required
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
}

// File appends JSON lines to a size-rotated file.
type File struct {
	path string
	mu   sync.Mutex
	w    io.WriteCloser
}

// NewFile creates a file sink.
func NewFile(opts map[string]any) (*File, error) {
	o := FileOptions{MaxSizeMB: 100, MaxBackups: 5}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Path == "" {
		return nil, fmt.Errorf("%w: file sink requires 'path'", core.ErrConfigInvalid)
	}
	w := log.NewRotatingWriter(o.Path, config.RotationConfig{
		MaxSizeMB:  o.MaxSizeMB,
		MaxAgeDays: o.MaxAgeDays,
		MaxBackups: o.MaxBackups,
		Compress:   o.Compress,
	})
	return &File{path: o.Path, w: w}, nil
}

func (f *File) Name() string { return "file" }

func (f *File) Store(_ context.Context, fields core.HeaderFieldSet) error {
	b, err := encodeJSON(fields)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return errClosed
	}
	if _, err := f.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.w == nil {
		return nil
	}
	err := f.w.Close()
	f.w = nil
	return err
}
