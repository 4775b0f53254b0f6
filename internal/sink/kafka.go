package sink

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"firestige.xyz/dissector/internal/core"
	"firestige.xyz/dissector/internal/log"
)

const (
	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3

	headerProtocol = "protocol"
	headerEncoding = "encoding"
)

func init() {
	Register("kafka", func(opts map[string]any, _ io.Writer) (Sink, error) {
		return NewKafka(opts)
	})
}

// KafkaOptions represents Kafka sink configuration.
type KafkaOptions struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // optional, default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // optional, default 100ms
	Compression  string        `mapstructure:"compression"`   // optional: none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // optional, default 3
	Encoding     string        `mapstructure:"encoding"`      // optional: json|protobuf, default json
}

// messageWriter is the part of *kafka.Writer the sink uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes one message per field set, keyed by packet ID so every
// layer of a packet lands on the same partition.
type Kafka struct {
	opts   KafkaOptions
	writer messageWriter

	// Statistics
	storedCount atomic.Uint64
	errorCount  atomic.Uint64
}

// NewKafka creates a Kafka sink.
func NewKafka(opts map[string]any) (*Kafka, error) {
	o, err := parseKafkaOptions(opts)
	if err != nil {
		return nil, err
	}

	writerConfig := kafka.WriterConfig{
		Brokers:      o.Brokers,
		Topic:        o.Topic,
		Balancer:     &kafka.Hash{}, // Use hash balancer for consistent routing
		BatchSize:    o.BatchSize,
		BatchTimeout: o.BatchTimeout,
		MaxAttempts:  o.MaxAttempts,
		Async:        false, // Synchronous for error handling
	}
	writerConfig.CompressionCodec, err = compressionCodec(o.Compression)
	if err != nil {
		return nil, err
	}

	log.GetLogger().WithFields(map[string]interface{}{
		"brokers":     o.Brokers,
		"topic":       o.Topic,
		"compression": o.Compression,
		"encoding":    o.Encoding,
	}).Info("kafka sink created")

	return newKafkaWithWriter(o, kafka.NewWriter(writerConfig)), nil
}

func newKafkaWithWriter(o KafkaOptions, w messageWriter) *Kafka {
	return &Kafka{opts: o, writer: w}
}

func parseKafkaOptions(opts map[string]any) (KafkaOptions, error) {
	o := KafkaOptions{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
		Encoding:     "json",
	}
	if err := decodeOptions(opts, &o); err != nil {
		return o, err
	}
	if len(o.Brokers) == 0 {
		return o, fmt.Errorf("%w: kafka sink requires 'brokers'", core.ErrConfigInvalid)
	}
	if o.Topic == "" {
		return o, fmt.Errorf("%w: kafka sink requires 'topic'", core.ErrConfigInvalid)
	}
	if o.Encoding != "json" && o.Encoding != "protobuf" {
		return o, fmt.Errorf("%w: invalid encoding %q, must be json or protobuf", core.ErrConfigInvalid, o.Encoding)
	}
	return o, nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("%w: invalid compression type: %s", core.ErrConfigInvalid, name)
	}
}

func (k *Kafka) Name() string { return "kafka" }

// Store sends one field set to Kafka.
func (k *Kafka) Store(ctx context.Context, fields core.HeaderFieldSet) error {
	value, err := k.encode(fields)
	if err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("serialize field set failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(fields.PacketID().String()),
		Value: value,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: headerProtocol, Value: []byte(fields.Protocol())},
			{Key: headerEncoding, Value: []byte(k.opts.Encoding)},
		},
	}

	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.errorCount.Add(1)
		return fmt.Errorf("kafka write failed: %w", err)
	}
	k.storedCount.Add(1)
	return nil
}

// encode renders fields as JSON, or as a protobuf Struct carrying the same object.
func (k *Kafka) encode(fields core.HeaderFieldSet) ([]byte, error) {
	if k.opts.Encoding != "protobuf" {
		return encodeJSON(fields)
	}
	m, err := toMap(fields)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("structpb: %w", err)
	}
	return proto.Marshal(s)
}

// Close flushes pending messages.
func (k *Kafka) Close() error {
	err := k.writer.Close()
	log.GetLogger().WithFields(map[string]interface{}{
		"total_stored": k.storedCount.Load(),
		"total_errors": k.errorCount.Load(),
	}).Info("kafka sink closed")
	if err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}
