// Package embedding stores per-model embedding rows: the original
// high-dimensional vector together with its projected point, spatial bucket,
// curve value and the basis version those geometry fields were computed
// against. A row's geometry fields are always stamped together, so readers
// never observe a point from one basis paired with the version of another.
package embedding

import (
	"fmt"
	"sync"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/geosem/model"
)

// ErrUnknownModel indicates an operation against an unregistered model.
type ErrUnknownModel struct {
	ModelID model.ModelID
}

func (e *ErrUnknownModel) Error() string {
	return fmt.Sprintf("unknown model: %s", e.ModelID)
}

// ErrModelConflict indicates a model re-registration with a different
// dimension.
type ErrModelConflict struct {
	ModelID    model.ModelID
	Registered int
	Requested  int
}

func (e *ErrModelConflict) Error() string {
	return fmt.Sprintf("model %s already registered with dimension %d, got %d", e.ModelID, e.Registered, e.Requested)
}

// ErrDimensionMismatch indicates a vector whose length does not match the
// model's registered dimension.
type ErrDimensionMismatch struct {
	ModelID  model.ModelID
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch for model %s: expected %d, got %d", e.ModelID, e.Expected, e.Actual)
}

// ErrNotFound indicates a missing embedding row.
type ErrNotFound struct {
	AtomID  model.AtomID
	ModelID model.ModelID
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("no embedding for atom %d under model %s", e.AtomID, e.ModelID)
}

type table struct {
	dimension int
	rows      map[model.AtomID]*model.Embedding
}

// Store holds one table per registered model. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	tables map[model.ModelID]*table
}

// New creates an empty store.
func New() *Store {
	return &Store{
		tables: make(map[model.ModelID]*table),
	}
}

// RegisterModel registers a model and its vector dimension. Re-registering
// with the same dimension is a no-op; with a different dimension it fails.
func (s *Store) RegisterModel(id model.ModelID, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension for model %s: %d", id, dimension)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[id]; ok {
		if t.dimension != dimension {
			return &ErrModelConflict{ModelID: id, Registered: t.dimension, Requested: dimension}
		}
		return nil
	}

	s.tables[id] = &table{
		dimension: dimension,
		rows:      make(map[model.AtomID]*model.Embedding),
	}
	return nil
}

// Models returns the registered model ids.
func (s *Store) Models() []model.ModelID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]model.ModelID, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	return ids
}

// Dimension returns the registered dimension of a model.
func (s *Store) Dimension(id model.ModelID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[id]
	if !ok {
		return 0, &ErrUnknownModel{ModelID: id}
	}
	return t.dimension, nil
}

// Put validates the row's vector against the model's dimension and stores
// it, replacing any previous row for the same (atom, model) pair. Validation
// failure leaves the store untouched.
func (s *Store) Put(e *model.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[e.ModelID]
	if !ok {
		return &ErrUnknownModel{ModelID: e.ModelID}
	}
	if len(e.Vector) != t.dimension {
		return &ErrDimensionMismatch{ModelID: e.ModelID, Expected: t.dimension, Actual: len(e.Vector)}
	}

	clone := *e
	clone.Vector = append([]float32(nil), e.Vector...)
	clone.Dimension = t.dimension
	t.rows[e.AtomID] = &clone
	return nil
}

// Get returns a copy of the row for (atomID, modelID).
func (s *Store) Get(atomID model.AtomID, modelID model.ModelID) (*model.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[modelID]
	if !ok {
		return nil, &ErrUnknownModel{ModelID: modelID}
	}
	row, ok := t.rows[atomID]
	if !ok {
		return nil, &ErrNotFound{AtomID: atomID, ModelID: modelID}
	}

	clone := *row
	clone.Vector = append([]float32(nil), row.Vector...)
	return &clone, nil
}

// Delete removes the row for (atomID, modelID). Missing rows are a no-op.
func (s *Store) Delete(atomID model.AtomID, modelID model.ModelID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tables[modelID]; ok {
		delete(t.rows, atomID)
	}
}

// UpdateProjection stamps new geometry fields onto an existing row in one
// step. Used by maintenance after the spatial index entry has been moved.
func (s *Store) UpdateProjection(atomID model.AtomID, modelID model.ModelID, point model.Point3, bucket model.Bucket3, curveValue, basisVersion uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tables[modelID]
	if !ok {
		return &ErrUnknownModel{ModelID: modelID}
	}
	row, ok := t.rows[atomID]
	if !ok {
		return &ErrNotFound{AtomID: atomID, ModelID: modelID}
	}

	row.Point = point
	row.Bucket = bucket
	row.CurveValue = curveValue
	row.BasisVersion = basisVersion
	return nil
}

// IDBitmap returns the set of atom ids with a row under the model.
func (s *Store) IDBitmap(modelID model.ModelID) (*roaring64.Bitmap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[modelID]
	if !ok {
		return nil, &ErrUnknownModel{ModelID: modelID}
	}

	bm := roaring64.New()
	for id := range t.rows {
		bm.Add(uint64(id))
	}
	return bm, nil
}

// Count returns the number of rows under the model, zero for unknown models.
func (s *Store) Count(modelID model.ModelID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[modelID]
	if !ok {
		return 0
	}
	return len(t.rows)
}

// CountByVersion returns row counts per basis version for the model.
func (s *Store) CountByVersion(modelID model.ModelID) map[uint64]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[uint64]int)
	if t, ok := s.tables[modelID]; ok {
		for _, row := range t.rows {
			counts[row.BasisVersion]++
		}
	}
	return counts
}

// StaleIDs returns the atom ids whose rows were projected against a basis
// older than version.
func (s *Store) StaleIDs(modelID model.ModelID, version uint64) (*roaring64.Bitmap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[modelID]
	if !ok {
		return nil, &ErrUnknownModel{ModelID: modelID}
	}

	bm := roaring64.New()
	for id, row := range t.rows {
		if row.BasisVersion < version {
			bm.Add(uint64(id))
		}
	}
	return bm, nil
}

// Snapshot returns copies of all rows under the model, for persistence.
func (s *Store) Snapshot(modelID model.ModelID) ([]model.Embedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[modelID]
	if !ok {
		return nil, &ErrUnknownModel{ModelID: modelID}
	}

	rows := make([]model.Embedding, 0, len(t.rows))
	for _, row := range t.rows {
		clone := *row
		clone.Vector = append([]float32(nil), row.Vector...)
		rows = append(rows, clone)
	}
	return rows, nil
}
