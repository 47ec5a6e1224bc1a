package atom

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/event"
	"github.com/hupe1980/geosem/model"
)

// maxInsertRetries bounds the insert/add-ref conflict loop. A conflict means
// another caller won the insert race, so one retry normally suffices.
const maxInsertRetries = 8

// Options contains configuration options for the store.
type Options struct {
	// Notifier receives atom lifecycle events. Defaults to event.Noop.
	Notifier event.Notifier

	// Logger receives delivery failures and debug output.
	Logger *slog.Logger
}

// Store is the content-addressable atom store: record metadata in a Records
// backend, raw bytes in a content-addressed blob store, lifecycle events to
// a notifier. Safe for concurrent use.
type Store struct {
	records  Records
	blobs    blobstore.Store
	notifier event.Notifier
	logger   *slog.Logger

	// group deduplicates concurrent content writes for the same hash.
	group singleflight.Group
}

// NewStore creates a new atom store.
func NewStore(records Records, blobs blobstore.Store, optFns ...func(o *Options)) *Store {
	opts := Options{
		Notifier: event.Noop{},
		Logger:   slog.Default(),
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Store{
		records:  records,
		blobs:    blobs,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// GetOrCreate ingests content. On first sight of a content hash it creates
// an atom with reference count 1; on every further call with identical
// content it increments the count and reports wasDuplicate = true. The
// content bytes are stored exactly once regardless of caller count.
func (s *Store) GetOrCreate(ctx context.Context, content []byte, modality model.Modality, subtype string) (*model.Atom, bool, error) {
	if len(content) == 0 {
		return nil, false, ErrEmptyContent
	}

	hash := Hash(content)

	// Content first, record second: a record must never point at missing
	// bytes. The write is idempotent (same key, same bytes); singleflight
	// collapses concurrent writers of identical content.
	if _, err, _ := s.group.Do(hash.Hex(), func() (any, error) {
		return nil, s.blobs.Put(ctx, hash.Hex(), content)
	}); err != nil {
		return nil, false, fmt.Errorf("store content: %w", err)
	}

	for range maxInsertRetries {
		a, err := s.records.AddRef(ctx, hash)
		if err == nil {
			s.notify(ctx, event.TypeAtomReferenced, a)
			return a, true, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, false, err
		}

		id, err := s.records.NextID(ctx)
		if err != nil {
			return nil, false, err
		}

		a = &model.Atom{
			ID:             id,
			ContentHash:    hash,
			Modality:       modality,
			Subtype:        subtype,
			SizeBytes:      int64(len(content)),
			ReferenceCount: 1,
			IsActive:       true,
			CreatedAt:      time.Now().UTC(),
		}

		err = s.records.Insert(ctx, a)
		if errors.Is(err, ErrHashExists) {
			// Lost the race; the winner's row exists now, take a reference.
			continue
		}
		if err != nil {
			return nil, false, err
		}

		s.notify(ctx, event.TypeAtomCreated, a)
		return a, false, nil
	}

	return nil, false, fmt.Errorf("get-or-create for %s: retries exhausted", hash)
}

// Release drops one logical reference from the atom. The record is retained
// at reference count zero (marked inactive); physical deletion is an
// external policy decision.
func (s *Store) Release(ctx context.Context, id model.AtomID) (*model.Atom, error) {
	a, err := s.records.ReleaseRef(ctx, id)
	if err != nil {
		return nil, err
	}

	s.notify(ctx, event.TypeAtomReleased, a)
	return a, nil
}

// Get returns the atom record with the given id.
func (s *Store) Get(ctx context.Context, id model.AtomID) (*model.Atom, error) {
	return s.records.Get(ctx, id)
}

// GetByHash returns the atom record with the given content hash.
func (s *Store) GetByHash(ctx context.Context, hash model.ContentHash) (*model.Atom, error) {
	return s.records.GetByHash(ctx, hash)
}

// Content returns the raw bytes of the atom.
func (s *Store) Content(ctx context.Context, id model.AtomID) ([]byte, error) {
	a, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.blobs.Get(ctx, a.ContentHash.Hex())
}

// Count returns the number of distinct atoms.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.records.Count(ctx)
}

// notify delivers an event best-effort. Failures are logged, never
// propagated: the core does not block on external consumers.
func (s *Store) notify(ctx context.Context, typ event.Type, a *model.Atom) {
	e := event.Event{
		Type:           typ,
		AtomID:         a.ID,
		ContentHash:    a.ContentHash.Hex(),
		Modality:       a.Modality,
		SizeBytes:      a.SizeBytes,
		ReferenceCount: a.ReferenceCount,
		At:             time.Now().UTC(),
	}

	if err := s.notifier.Notify(ctx, e); err != nil {
		s.logger.WarnContext(ctx, "event delivery failed",
			"type", typ,
			"atom_id", a.ID,
			"error", err,
		)
	}
}
