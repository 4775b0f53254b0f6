package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"firestige.xyz/dissector/internal/core"
)

func init() {
	Register("console", func(opts map[string]any, out io.Writer) (Sink, error) {
		return NewConsole(opts, out)
	})
}

// ConsoleOptions represents console sink configuration.
type ConsoleOptions struct {
	Format string `mapstructure:"format"` // "json" or "text", default "text"
}

// Console writes one line per field set.
type Console struct {
	format string
	mu     sync.Mutex
	out    io.Writer
}

// NewConsole creates a console sink writing to out, or stdout when out is nil.
func NewConsole(opts map[string]any, out io.Writer) (*Console, error) {
	o := ConsoleOptions{Format: "text"}
	if err := decodeOptions(opts, &o); err != nil {
		return nil, err
	}
	if o.Format != "json" && o.Format != "text" {
		return nil, fmt.Errorf("%w: invalid format %q, must be json or text", core.ErrConfigInvalid, o.Format)
	}
	if out == nil {
		out = os.Stdout
	}
	return &Console{format: o.Format, out: out}, nil
}

func (c *Console) Name() string { return "console" }

func (c *Console) Store(_ context.Context, fields core.HeaderFieldSet) error {
	var line []byte
	if c.format == "json" {
		b, err := encodeJSON(fields)
		if err != nil {
			return err
		}
		line = append(b, '\n')
	} else {
		line = []byte(encodeText(fields) + "\n")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.out.Write(line)
	return err
}

// Close is a no-op; stdout is not ours to close.
func (c *Console) Close() error { return nil }
