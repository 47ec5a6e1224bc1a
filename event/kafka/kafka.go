// Package kafka publishes atom lifecycle events to an Apache Kafka topic.
//
// Events are keyed by content hash so that all lifecycle transitions of one
// atom land on the same partition, preserving per-atom ordering for
// downstream provenance consumers.
package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"github.com/hupe1980/geosem/codec"
	"github.com/hupe1980/geosem/event"
)

// Writer is the subset of kafka.Writer used by the notifier.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Options contains configuration options for the notifier.
type Options struct {
	// Codec encodes event payloads. Defaults to codec.Default.
	Codec codec.Codec
}

// Notifier implements event.Notifier on top of a Kafka writer.
type Notifier struct {
	writer Writer
	codec  codec.Codec
}

// Compile-time check.
var _ event.Notifier = (*Notifier)(nil)

// New creates a notifier around an existing writer.
func New(w Writer, optFns ...func(o *Options)) *Notifier {
	opts := Options{Codec: codec.Default}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Notifier{writer: w, codec: opts.Codec}
}

// NewWriter builds a kafka.Writer with settings suited to fire-and-forget
// lifecycle events: hash balancing for per-atom ordering, async batching so
// ingestion is never blocked on broker round-trips.
func NewWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
}

// Notify implements event.Notifier.
func (n *Notifier) Notify(ctx context.Context, e event.Event) error {
	value, err := n.codec.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(e.ContentHash),
		Value: value,
	})
}

// Close closes the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}
