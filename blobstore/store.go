// Package blobstore abstracts the storage of immutable, content-addressed
// blobs: raw atom content keyed by its hex content hash, plus snapshot and
// checkpoint artifacts.
//
// Blobs are write-once by convention. Put with a key that already exists is
// a no-op overwrite with identical bytes for content blobs, which keeps the
// operation idempotent under concurrent writers.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a blob does not exist.
//
// Implementations must return an error that satisfies
// errors.Is(err, ErrNotFound).
var ErrNotFound = errors.New("blob not found")

// Store is an abstraction for immutable blob storage.
type Store interface {
	// Put writes a blob atomically. Writing the same key twice is allowed.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads a whole blob.
	Get(ctx context.Context, key string) ([]byte, error)

	// Has reports whether a blob exists.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes a blob. Deleting a missing blob is not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys of all blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
