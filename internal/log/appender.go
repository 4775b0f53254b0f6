package log

import (
	"io"
	"sync"

	"go.uber.org/multierr"
)

// MultiWriter copies every log line to all its writers. A failing writer
// does not keep the line from the others.
type MultiWriter struct {
	mu      sync.Mutex
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Add(w io.Writer) *MultiWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writers = append(m.writers, w)
	return m
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	for _, w := range m.writers {
		if _, e := w.Write(p); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return len(p), err
}
