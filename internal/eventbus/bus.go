package eventbus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/serialx/hashring"
	"github.com/sourcegraph/conc"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/log"
	"firestige.xyz/dissector/internal/metrics"
)

// ResultHook receives the trace of every chain the bus completes.
// It runs on the partition worker and must not block for long.
type ResultHook func(tr *Trace, err error)

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithResultHook installs h on every partition worker.
func WithResultHook(h ResultHook) BusOption {
	return func(b *Bus) { b.onResult = h }
}

// Bus 异步事件总线：按 packet ID 一致性哈希到分区，每个分区串行执行整条解析链
type Bus struct {
	dispatcher     *Dispatcher
	partitions     []*partition
	partitionNodes []string
	nodeIndex      map[string]int
	hashRing       *hashring.HashRing // 一致性哈希环
	onResult       ResultHook

	mu     sync.RWMutex // guards closed against sends on the queues
	closed bool
	wg     conc.WaitGroup

	// 统计信息
	publishedCount atomic.Int64
	processedCount atomic.Int64
	failedCount    atomic.Int64
	rejectedCount  atomic.Int64
}

// NewBus starts partitionCount workers that run d for queued packets.
func NewBus(d *Dispatcher, partitionCount, queueSize int, opts ...BusOption) (*Bus, error) {
	if d == nil {
		return nil, fmt.Errorf("%w: bus requires a dispatcher", core.ErrConfigInvalid)
	}
	if partitionCount < 1 || queueSize < 1 {
		return nil, fmt.Errorf("%w: bus needs at least one partition and a positive queue size, got %d/%d",
			core.ErrConfigInvalid, partitionCount, queueSize)
	}

	b := &Bus{
		dispatcher:     d,
		partitions:     make([]*partition, partitionCount),
		partitionNodes: make([]string, partitionCount),
		nodeIndex:      make(map[string]int, partitionCount),
	}
	for _, opt := range opts {
		opt(b)
	}

	// 初始化分区节点标识
	for i := 0; i < partitionCount; i++ {
		node := "partition-" + strconv.Itoa(i)
		b.partitionNodes[i] = node
		b.nodeIndex[node] = i
	}
	b.hashRing = hashring.New(b.partitionNodes)

	for i := 0; i < partitionCount; i++ {
		p := &partition{
			id:    i,
			label: strconv.Itoa(i),
			queue: make(chan core.PacketContext, queueSize),
		}
		b.partitions[i] = p
		b.wg.Go(func() { b.runPartition(p) })
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"partitions": partitionCount,
		"queue_size": queueSize,
	}).Info("event bus started")
	return b, nil
}

// Publish queues pc on its partition, blocking while the queue is full.
// ctx only bounds the wait; the chain itself runs to completion.
// The caller must not modify pc.Data afterwards.
func (b *Bus) Publish(ctx context.Context, pc core.PacketContext) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.reject("closed")
		return core.ErrBusClosed
	}

	p := b.partitions[b.getPartitionID(pc.ID)]
	select {
	case p.queue <- pc:
		b.published(p)
		return nil
	case <-ctx.Done():
		b.reject("canceled")
		return ctx.Err()
	}
}

// TryPublish queues pc without waiting and returns ErrBusFull when the
// partition queue has no room.
func (b *Bus) TryPublish(pc core.PacketContext) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		b.reject("closed")
		return core.ErrBusClosed
	}

	p := b.partitions[b.getPartitionID(pc.ID)]
	select {
	case p.queue <- pc:
		b.published(p)
		return nil
	default:
		b.reject("full")
		return fmt.Errorf("%w: partition %d", core.ErrBusFull, p.id)
	}
}

// Close stops accepting packets, lets the workers drain every queue and
// waits for them. It does not close the dispatcher.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, p := range b.partitions {
		close(p.queue)
	}
	b.mu.Unlock()

	b.wg.Wait()
	log.GetLogger().WithFields(map[string]interface{}{
		"published": b.publishedCount.Load(),
		"processed": b.processedCount.Load(),
		"failed":    b.failedCount.Load(),
	}).Info("event bus closed")
	return nil
}

// GetStats 获取统计信息
func (b *Bus) GetStats() *Stats {
	stats := &Stats{
		PublishedCount: b.publishedCount.Load(),
		ProcessedCount: b.processedCount.Load(),
		FailedCount:    b.failedCount.Load(),
		RejectedCount:  b.rejectedCount.Load(),
		PartitionCount: len(b.partitions),
		QueuedCount:    make([]int, len(b.partitions)),
	}
	for i, p := range b.partitions {
		stats.QueuedCount[i] = len(p.queue)
	}
	return stats
}

// getPartitionID 使用一致性哈希算法计算分区ID
func (b *Bus) getPartitionID(id core.PacketID) int {
	node, ok := b.hashRing.GetNode(id.String())
	if !ok {
		return 0
	}
	return b.nodeIndex[node]
}

func (b *Bus) published(p *partition) {
	b.publishedCount.Add(1)
	metrics.BusQueueDepth.WithLabelValues(p.label).Set(float64(len(p.queue)))
}

func (b *Bus) reject(reason string) {
	b.rejectedCount.Add(1)
	metrics.BusRejectedTotal.WithLabelValues(reason).Inc()
}

// runPartition 运行分区消费者
func (b *Bus) runPartition(p *partition) {
	logger := log.GetLogger()
	logger.Debugf("Partition %d started", p.id)
	defer logger.Debugf("Partition %d stopped", p.id)

	for pc := range p.queue {
		metrics.BusQueueDepth.WithLabelValues(p.label).Set(float64(len(p.queue)))

		tr, err := b.dispatcher.Publish(context.Background(), pc)
		b.processedCount.Add(1)
		if err != nil {
			b.failedCount.Add(1)
			logger.WithField(log.FieldPacket, pc.ID).WithError(err).Debug("chain finished with errors")
		}
		if b.onResult != nil {
			b.onResult(tr, err)
		}
	}
}
