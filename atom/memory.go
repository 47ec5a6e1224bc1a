package atom

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/geosem/model"
)

// MemoryRecords is the in-memory Records implementation. A single mutex
// guards the two maps; every mutation is an atomic section, which gives
// Insert/AddRef the unique-constraint semantics the store's retry loop
// relies on.
type MemoryRecords struct {
	mu     sync.RWMutex
	byHash map[model.ContentHash]*model.Atom
	byID   map[model.AtomID]*model.Atom
	nextID atomic.Uint64
}

// Compile-time check.
var _ Records = (*MemoryRecords)(nil)

// NewMemoryRecords creates an empty in-memory record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{
		byHash: make(map[model.ContentHash]*model.Atom),
		byID:   make(map[model.AtomID]*model.Atom),
	}
}

// NextID implements Records.
func (m *MemoryRecords) NextID(_ context.Context) (model.AtomID, error) {
	return model.AtomID(m.nextID.Add(1)), nil
}

// Insert implements Records.
func (m *MemoryRecords) Insert(_ context.Context, a *model.Atom) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byHash[a.ContentHash]; ok {
		return ErrHashExists
	}

	stored := *a
	m.byHash[a.ContentHash] = &stored
	m.byID[a.ID] = &stored
	return nil
}

// AddRef implements Records.
func (m *MemoryRecords) AddRef(_ context.Context, hash model.ContentHash) (*model.Atom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}

	a.ReferenceCount++
	out := *a
	return &out, nil
}

// ReleaseRef implements Records.
func (m *MemoryRecords) ReleaseRef(_ context.Context, id model.AtomID) (*model.Atom, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	if a.ReferenceCount > 0 {
		a.ReferenceCount--
	}
	if a.ReferenceCount == 0 {
		a.IsActive = false
	}

	out := *a
	return &out, nil
}

// Get implements Records.
func (m *MemoryRecords) Get(_ context.Context, id model.AtomID) (*model.Atom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}

	out := *a
	return &out, nil
}

// GetByHash implements Records.
func (m *MemoryRecords) GetByHash(_ context.Context, hash model.ContentHash) (*model.Atom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.byHash[hash]
	if !ok {
		return nil, ErrNotFound
	}

	out := *a
	return &out, nil
}

// Count implements Records.
func (m *MemoryRecords) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byHash), nil
}

// All returns a copy of every record, for snapshotting.
func (m *MemoryRecords) All(_ context.Context) ([]model.Atom, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Atom, 0, len(m.byHash))
	for _, a := range m.byHash {
		out = append(out, *a)
	}
	return out, nil
}

// Restore replaces the store's contents with the given records and advances
// the id counter past the highest restored id.
func (m *MemoryRecords) Restore(_ context.Context, atoms []model.Atom) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byHash = make(map[model.ContentHash]*model.Atom, len(atoms))
	m.byID = make(map[model.AtomID]*model.Atom, len(atoms))

	var maxID uint64
	for i := range atoms {
		stored := atoms[i]
		m.byHash[stored.ContentHash] = &stored
		m.byID[stored.ID] = &stored
		if uint64(stored.ID) > maxID {
			maxID = uint64(stored.ID)
		}
	}

	m.nextID.Store(maxID)
	return nil
}
