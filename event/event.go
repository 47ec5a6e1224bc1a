// Package event defines atom lifecycle notifications and their transports.
//
// The index emits an event whenever an atom is created, referenced or
// released. Delivery is fire-and-forget: external consumers (provenance,
// usage metering) subscribe through a Notifier, and a slow or failing
// notifier never blocks ingestion.
package event

import (
	"context"
	"time"

	"github.com/hupe1980/geosem/model"
)

// Type identifies the kind of atom lifecycle event.
type Type string

const (
	// TypeAtomCreated is emitted on first ingestion of a content hash.
	TypeAtomCreated Type = "atom.created"
	// TypeAtomReferenced is emitted when identical content is ingested again.
	TypeAtomReferenced Type = "atom.referenced"
	// TypeAtomReleased is emitted when a logical owner drops its reference.
	TypeAtomReleased Type = "atom.released"
)

// Event describes one atom lifecycle transition.
type Event struct {
	Type           Type           `json:"type"`
	AtomID         model.AtomID   `json:"atom_id"`
	ContentHash    string         `json:"content_hash"`
	Modality       model.Modality `json:"modality"`
	SizeBytes      int64          `json:"size_bytes"`
	ReferenceCount int64          `json:"reference_count"`
	At             time.Time      `json:"at"`
}

// Notifier delivers atom lifecycle events to an external consumer.
//
// Implementations must not block for long: the emitting side treats delivery
// as best-effort and logs (never propagates) notification errors.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, e Event) error

// Notify implements Notifier.
func (f NotifierFunc) Notify(ctx context.Context, e Event) error {
	return f(ctx, e)
}

// Noop discards all events.
type Noop struct{}

// Notify implements Notifier.
func (Noop) Notify(context.Context, Event) error { return nil }

// Multi fans every event out to all wrapped notifiers. The first error is
// returned after all notifiers have been attempted.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, e Event) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Chan buffers events on a channel for in-process consumers. When the buffer
// is full the event is dropped, honoring the never-block contract.
type Chan struct {
	ch chan Event
}

// NewChan creates a channel notifier with the given buffer size.
func NewChan(buffer int) *Chan {
	return &Chan{ch: make(chan Event, buffer)}
}

// Notify implements Notifier.
func (c *Chan) Notify(_ context.Context, e Event) error {
	select {
	case c.ch <- e:
	default:
		// Consumer is lagging; drop rather than block ingestion.
	}
	return nil
}

// Events returns the receive side of the buffer.
func (c *Chan) Events() <-chan Event {
	return c.ch
}
