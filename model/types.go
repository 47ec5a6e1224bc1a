package model

import (
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// AtomID is the stable, user-facing identifier of an atom.
type AtomID uint64

// ModelID names an embedding model. Every embedding is scoped to the model
// that produced it; one atom may carry embeddings from several models.
type ModelID string

// ContentHash is the SHA-256 digest of an atom's content. It is the identity
// of the content: exactly one atom exists per distinct hash.
type ContentHash [32]byte

// Hex returns the lowercase hex encoding of the hash.
func (h ContentHash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer with a shortened digest for logs.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:8])
}

// ParseContentHash decodes a 64-character hex digest.
func ParseContentHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid content hash: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("invalid content hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Modality classifies the broad kind of content an atom holds.
type Modality string

const (
	ModalityText   Modality = "text"
	ModalityImage  Modality = "image"
	ModalityAudio  Modality = "audio"
	ModalityBinary Modality = "binary"
)

// Atom is a content-addressed, deduplicated unit of stored content.
// The record is metadata only; the bytes themselves live in a blob store
// keyed by the content hash.
type Atom struct {
	ID             AtomID      `json:"id"`
	ContentHash    ContentHash `json:"content_hash"`
	Modality       Modality    `json:"modality"`
	Subtype        string      `json:"subtype"`
	SizeBytes      int64       `json:"size_bytes"`
	ReferenceCount int64       `json:"reference_count"`
	IsActive       bool        `json:"is_active"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Point3 is a point in the projected 3-D metric space.
type Point3 [3]float64

// Sub returns p - q componentwise.
func (p Point3) Sub(q Point3) Point3 {
	return Point3{p[0] - q[0], p[1] - q[1], p[2] - q[2]}
}

// Distance returns the Euclidean distance between p and q.
func (p Point3) Distance(q Point3) float64 {
	dx, dy, dz := p[0]-q[0], p[1]-q[1], p[2]-q[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// String returns a compact representation for logs.
func (p Point3) String() string {
	return fmt.Sprintf("(%.4f, %.4f, %.4f)", p[0], p[1], p[2])
}

// Bucket3 is the coarse-resolution cell coordinate of a projected point.
type Bucket3 [3]uint32

// Embedding binds a high-dimensional vector to an atom, together with the
// derived spatial fields. Point, Bucket, CurveValue and BasisVersion are
// always written together; a row whose BasisVersion lags the current basis
// is stale and awaiting re-projection, never torn.
type Embedding struct {
	AtomID       AtomID    `json:"atom_id"`
	ModelID      ModelID   `json:"model_id"`
	Dimension    int       `json:"dimension"`
	Vector       []float32 `json:"vector"`
	Point        Point3    `json:"spatial_point"`
	Bucket       Bucket3   `json:"spatial_bucket"`
	CurveValue   uint64    `json:"curve_value"`
	BasisVersion uint64    `json:"basis_version"`
}

// Result is a single ranked search hit.
type Result struct {
	AtomID AtomID `json:"atom_id"`

	// Similarity is the exact cosine similarity between the query vector and
	// the candidate's original high-dimensional vector.
	Similarity float64 `json:"similarity"`

	// SpatialDistance is the distance between the projected query point and
	// the candidate's projected point. Used as the first tie-breaker.
	SpatialDistance float64 `json:"spatial_distance"`

	// Stale marks a hit whose embedding was projected against an older basis
	// version than the current one. Served as-is until maintenance catches up.
	Stale bool `json:"stale,omitempty"`
}
