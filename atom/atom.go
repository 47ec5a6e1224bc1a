// Package atom implements the content-addressable atom store.
//
// An atom is one deduplicated unit of content, keyed by the SHA-256 digest
// of its bytes. Ingesting the same bytes twice never duplicates storage: the
// second caller gets the existing atom back with its reference count
// incremented. The get-or-insert is race-free by construction (conditional
// insert with retry on conflict, never check-then-act).
package atom

import (
	"context"
	"crypto/sha256"
	"errors"

	"github.com/hupe1980/geosem/model"
)

var (
	// ErrNotFound is returned when no atom exists for the given id or hash.
	ErrNotFound = errors.New("atom not found")

	// ErrHashExists is returned by Records.Insert when an atom with the same
	// content hash already exists. Callers retry with AddRef.
	ErrHashExists = errors.New("atom with content hash exists")

	// ErrEmptyContent is returned when ingesting zero bytes.
	ErrEmptyContent = errors.New("content must not be empty")
)

// Hash computes the content hash of raw bytes.
func Hash(content []byte) model.ContentHash {
	return sha256.Sum256(content)
}

// Records is the narrow atomic backend for atom metadata. Implementations
// must make Insert and AddRef atomic with respect to each other: two
// concurrent Inserts of the same hash must yield exactly one row and one
// ErrHashExists.
type Records interface {
	// NextID reserves a new unique atom id.
	NextID(ctx context.Context) (model.AtomID, error)

	// Insert adds a new atom record. Fails with ErrHashExists when a record
	// with the same content hash is already present.
	Insert(ctx context.Context, a *model.Atom) error

	// AddRef atomically increments the reference count of the atom with the
	// given content hash and returns the updated record, or ErrNotFound.
	AddRef(ctx context.Context, hash model.ContentHash) (*model.Atom, error)

	// ReleaseRef atomically decrements the reference count of the atom with
	// the given id, never below zero, and returns the updated record.
	ReleaseRef(ctx context.Context, id model.AtomID) (*model.Atom, error)

	// Get returns the atom with the given id, or ErrNotFound.
	Get(ctx context.Context, id model.AtomID) (*model.Atom, error)

	// GetByHash returns the atom with the given content hash, or ErrNotFound.
	GetByHash(ctx context.Context, hash model.ContentHash) (*model.Atom, error)

	// Count returns the number of atom records.
	Count(ctx context.Context) (int, error)
}
