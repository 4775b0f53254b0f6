// Package pipeline moves packets from a source into the dissection chain.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sourcegraph/conc"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/eventbus"
	"firestige.xyz/dissector/internal/log"
	"firestige.xyz/dissector/internal/metrics"
	"firestige.xyz/dissector/internal/source"
)

// Publisher starts the dissection chain of one packet.
type Publisher interface {
	Publish(ctx context.Context, pc core.PacketContext) error
}

// syncPublisher runs each chain on the calling goroutine.
type syncPublisher struct {
	d    *eventbus.Dispatcher
	hook eventbus.ResultHook
}

// Sync returns a Publisher that blocks until each chain is terminal.
// hook, when set, receives every trace.
func Sync(d *eventbus.Dispatcher, hook eventbus.ResultHook) Publisher {
	return &syncPublisher{d: d, hook: hook}
}

func (p *syncPublisher) Publish(ctx context.Context, pc core.PacketContext) error {
	tr, err := p.d.Publish(ctx, pc)
	if p.hook != nil {
		p.hook(tr, err)
	}
	return err
}

// Pipeline reads packets on one goroutine and publishes them on another.
type Pipeline struct {
	source    source.Source
	filter    *source.Filter
	publisher Publisher
	metrics   *Metrics

	// Runtime state
	ctx     context.Context
	cancel  context.CancelFunc
	wg      conc.WaitGroup
	once    sync.Once
	readErr error

	// Channel for backpressure control
	packetChan chan source.Packet
}

// Config contains pipeline configuration.
type Config struct {
	Source     source.Source
	Filter     *source.Filter // nil keeps every packet
	Publisher  Publisher
	BufferSize int // packet channel buffer size
}

// New creates a new pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Source == nil || cfg.Publisher == nil {
		return nil, fmt.Errorf("%w: pipeline requires a source and a publisher", core.ErrConfigInvalid)
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}

	return &Pipeline{
		source:     cfg.Source,
		filter:     cfg.Filter,
		publisher:  cfg.Publisher,
		metrics:    &Metrics{},
		packetChan: make(chan source.Packet, cfg.BufferSize),
	}, nil
}

// Start launches the read and publish loops. The pipeline stops by itself
// when the source is exhausted, or when ctx is canceled.
func (p *Pipeline) Start(ctx context.Context) {
	p.once.Do(func() {
		p.ctx, p.cancel = context.WithCancel(ctx)
		log.GetLogger().WithField("filter", p.filter.String()).Info("pipeline starting")

		p.wg.Go(p.readLoop)
		p.wg.Go(p.publishLoop)
	})
}

// Wait blocks until both loops have returned and reports a read failure.
func (p *Pipeline) Wait() error {
	p.wg.Wait()
	if p.cancel != nil {
		p.cancel()
	}

	s := p.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"read":      s.Read,
		"filtered":  s.Filtered,
		"published": s.Published,
		"failed":    s.Failed,
	}).Info("pipeline stopped")
	return p.readErr
}

// Stop cancels the loops and waits for them.
func (p *Pipeline) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	return p.Wait()
}

// Run starts the pipeline and waits until the source is exhausted.
func (p *Pipeline) Run(ctx context.Context) error {
	p.Start(ctx)
	return p.Wait()
}

// readLoop reads packets from the source and sends them to the publish loop.
func (p *Pipeline) readLoop() {
	defer close(p.packetChan)

	for {
		if p.ctx.Err() != nil {
			return
		}

		pkt, err := p.source.ReadPacket()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.readErr = err
				log.GetLogger().WithError(err).Error("source read failed")
			}
			return
		}
		p.metrics.Read.Add(1)

		if !p.filter.Match(pkt.Data) {
			p.metrics.Filtered.Add(1)
			metrics.PacketsIngestedTotal.WithLabelValues(metrics.OutcomeFiltered).Inc()
			continue
		}
		metrics.PacketsIngestedTotal.WithLabelValues(metrics.OutcomeAccepted).Inc()

		select {
		case p.packetChan <- pkt:
		case <-p.ctx.Done():
			return
		}
	}
}

// publishLoop hands every packet to the publisher.
func (p *Pipeline) publishLoop() {
	for pkt := range p.packetChan {
		if p.ctx.Err() != nil {
			return
		}

		err := p.publisher.Publish(p.ctx, pkt.Context())
		switch {
		case err == nil:
			p.metrics.Published.Add(1)
		case errors.Is(err, core.ErrBusClosed), errors.Is(err, context.Canceled):
			log.GetLogger().WithError(err).Warn("publisher stopped accepting packets")
			p.cancel()
			return
		default:
			// chain errors are per packet
			p.metrics.Published.Add(1)
			p.metrics.Failed.Add(1)
			log.GetLogger().WithField(log.FieldPacket, pkt.ID).WithError(err).Debug("packet dissection failed")
		}
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return p.metrics.Snapshot()
}
