// Package geosem provides a geometric semantic index for Go.
//
// Content enters as raw bytes and is deduplicated into reference-counted
// atoms keyed by SHA-256. Per-model embedding vectors attach to atoms and
// are projected into a 3-D landmark space via multilateration against a
// versioned anchor basis, encoded onto a Hilbert curve, and indexed in a
// concurrent spatial grid. Search runs in two stages: a cheap range query
// over projected points, then exact cosine scoring of the surviving
// candidates against the original high-dimensional vectors.
//
// # Quick Start
//
//	ctx := context.Background()
//	idx, err := geosem.New()
//	if err != nil {
//	    panic(err)
//	}
//
//	_ = idx.RegisterModel("text-embed-v1", 384)
//
//	a, _, err := idx.Ingest(ctx, []byte("some document"), model.ModalityText, "plain")
//	if err != nil {
//	    panic(err)
//	}
//	if err := idx.AttachEmbedding(ctx, a.ID, "text-embed-v1", vector); err != nil {
//	    panic(err)
//	}
//
//	results, err := idx.Search("text-embed-v1", query).
//	    TopK(10).
//	    Radius(0.5).
//	    Execute(ctx)
//
// The projection is lossy: spatial proximity is a recall filter, not a
// ranking signal. Results whose rows were projected against an older basis
// version carry Stale=true until the next rebase completes.
package geosem

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/hupe1980/geosem/atom"
	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/curve"
	"github.com/hupe1980/geosem/embedding"
	"github.com/hupe1980/geosem/maintenance"
	"github.com/hupe1980/geosem/model"
	"github.com/hupe1980/geosem/persistence"
	"github.com/hupe1980/geosem/projector"
	"github.com/hupe1980/geosem/spatial"
)

// Index is the assembled geometric semantic index.
type Index struct {
	opts       options
	atoms      *atom.Store
	embeddings *embedding.Store
	enc        *curve.Encoder
	proj       *projector.Projector

	mu     sync.RWMutex
	models map[model.ModelID]*modelState
}

type modelState struct {
	holder  *basis.Holder
	index   *spatial.Index
	rebaser *maintenance.Rebaser
}

// New creates an index. With no options everything lives in memory; pass
// WithRecords/WithBlobStore for durable backends.
func New(optFns ...Option) (*Index, error) {
	opts := applyOptions(optFns)

	if opts.records == nil {
		opts.records = atom.NewMemoryRecords()
	}
	if opts.blobs == nil {
		opts.blobs = blobstore.NewMemory()
	}
	if opts.checkpoints == nil {
		opts.checkpoints = opts.blobs
	}

	enc, err := curve.New(opts.curveOptions...)
	if err != nil {
		return nil, err
	}

	proj, err := projector.New(opts.projectorOptions...)
	if err != nil {
		return nil, err
	}

	atoms := atom.NewStore(opts.records, opts.blobs, func(o *atom.Options) {
		o.Notifier = opts.notifier
		o.Logger = opts.logger.Logger
	})

	return &Index{
		opts:       opts,
		atoms:      atoms,
		embeddings: embedding.New(),
		enc:        enc,
		proj:       proj,
		models:     make(map[model.ModelID]*modelState),
	}, nil
}

// RegisterModel registers an embedding model and its vector dimension, and
// installs a deterministic seeded basis as version 1. Re-registering with
// the same dimension is a no-op.
func (idx *Index) RegisterModel(modelID model.ModelID, dimension int) error {
	if err := idx.embeddings.RegisterModel(modelID, dimension); err != nil {
		return translateError(err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.models[modelID]; ok {
		return nil
	}

	b, err := basis.Seeded(1, dimension, idx.modelSeed(modelID), idx.opts.metric)
	if err != nil {
		return err
	}

	state, err := idx.newModelState(basis.NewHolder(b))
	if err != nil {
		return err
	}

	idx.models[modelID] = state
	return nil
}

// modelSeed derives a per-model seed so distinct models get distinct but
// reproducible anchor sets.
func (idx *Index) modelSeed(modelID model.ModelID) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(modelID))
	return idx.opts.basisSeed ^ int64(h.Sum64())
}

func (idx *Index) newModelState(holder *basis.Holder) (*modelState, error) {
	state := &modelState{
		holder: holder,
		index:  spatial.New(idx.enc),
	}

	rebaser, err := maintenance.New(idx.embeddings, state.index, idx.proj, idx.enc, holder, idx.opts.checkpoints,
		append([]func(o *maintenance.Options){
			func(o *maintenance.Options) {
				o.Codec = idx.opts.codec
				o.Logger = idx.opts.logger.Logger
			},
		}, idx.opts.rebaseOptions...)...)
	if err != nil {
		return nil, err
	}

	state.rebaser = rebaser
	return state, nil
}

func (idx *Index) modelState(modelID model.ModelID) (*modelState, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	state, ok := idx.models[modelID]
	if !ok {
		return nil, &ErrUnknownModel{ModelID: modelID}
	}
	return state, nil
}

// Ingest stores content and returns its atom. Identical content always
// resolves to the same atom with an incremented reference count; the
// returned bool reports whether the call deduplicated onto an existing
// atom.
func (idx *Index) Ingest(ctx context.Context, content []byte, modality model.Modality, subtype string) (*model.Atom, bool, error) {
	start := time.Now()

	a, duplicate, err := idx.atoms.GetOrCreate(ctx, content, modality, subtype)
	err = translateError(err)

	idx.opts.metricsCollector.RecordIngest(time.Since(start), duplicate, err)
	if err != nil {
		idx.opts.logger.LogIngest(ctx, 0, len(content), false, err)
		return nil, false, err
	}

	idx.opts.logger.LogIngest(ctx, a.ID, len(content), duplicate, nil)
	return a, duplicate, nil
}

// Release drops one reference from an atom. The count never goes below
// zero; at zero the atom is deactivated but retained.
func (idx *Index) Release(ctx context.Context, id model.AtomID) (*model.Atom, error) {
	a, err := idx.atoms.Release(ctx, id)
	return a, translateError(err)
}

// GetAtom returns the atom with the given id.
func (idx *Index) GetAtom(ctx context.Context, id model.AtomID) (*model.Atom, error) {
	a, err := idx.atoms.Get(ctx, id)
	return a, translateError(err)
}

// GetAtomByHash returns the atom with the given content hash.
func (idx *Index) GetAtomByHash(ctx context.Context, hash model.ContentHash) (*model.Atom, error) {
	a, err := idx.atoms.GetByHash(ctx, hash)
	return a, translateError(err)
}

// Content returns the raw content bytes of an atom.
func (idx *Index) Content(ctx context.Context, id model.AtomID) ([]byte, error) {
	data, err := idx.atoms.Content(ctx, id)
	return data, translateError(err)
}

// GetEmbedding returns the stored embedding row for (atomID, modelID).
func (idx *Index) GetEmbedding(atomID model.AtomID, modelID model.ModelID) (*model.Embedding, error) {
	row, err := idx.embeddings.Get(atomID, modelID)
	return row, translateError(err)
}

// AttachEmbedding projects the vector against the model's current basis and
// indexes it. A dimension mismatch rejects the call before any state is
// touched. Attaching a second vector for the same (atom, model) pair
// replaces the previous one.
func (idx *Index) AttachEmbedding(ctx context.Context, atomID model.AtomID, modelID model.ModelID, vector []float32) error {
	start := time.Now()

	err := idx.attachEmbedding(ctx, atomID, modelID, vector)

	idx.opts.metricsCollector.RecordAttach(time.Since(start), err)
	idx.opts.logger.LogAttach(ctx, atomID, modelID, len(vector), err)
	return err
}

func (idx *Index) attachEmbedding(ctx context.Context, atomID model.AtomID, modelID model.ModelID, vector []float32) error {
	state, err := idx.modelState(modelID)
	if err != nil {
		return err
	}

	expected, err := idx.embeddings.Dimension(modelID)
	if err != nil {
		return translateError(err)
	}
	if len(vector) != expected {
		return &ErrDimensionMismatch{Expected: expected, Actual: len(vector)}
	}

	if _, err := idx.atoms.Get(ctx, atomID); err != nil {
		return translateError(err)
	}

	b := state.holder.Current()

	point, err := idx.proj.ProjectTo3D(vector, b)
	if err != nil {
		return fmt.Errorf("project embedding: %w", err)
	}

	row := &model.Embedding{
		AtomID:       atomID,
		ModelID:      modelID,
		Vector:       vector,
		Point:        point,
		Bucket:       idx.enc.Bucket(point),
		CurveValue:   idx.enc.EncodeFine(point),
		BasisVersion: b.Version,
	}
	if err := idx.embeddings.Put(row); err != nil {
		return translateError(err)
	}

	state.index.Insert(atomID, point)
	return nil
}

// DetachEmbedding removes the embedding row and spatial entry for
// (atomID, modelID).
func (idx *Index) DetachEmbedding(atomID model.AtomID, modelID model.ModelID) error {
	state, err := idx.modelState(modelID)
	if err != nil {
		return err
	}

	idx.embeddings.Delete(atomID, modelID)
	state.index.Remove(atomID)
	return nil
}

// BasisVersion returns the model's current basis version.
func (idx *Index) BasisVersion(modelID model.ModelID) (uint64, error) {
	state, err := idx.modelState(modelID)
	if err != nil {
		return 0, err
	}
	return state.holder.Version(), nil
}

// NextBasisFromSamples builds a candidate next basis for the model from the
// currently stored vectors via greedy farthest-point anchor selection.
func (idx *Index) NextBasisFromSamples(modelID model.ModelID) (*basis.Basis, error) {
	state, err := idx.modelState(modelID)
	if err != nil {
		return nil, err
	}

	rows, err := idx.embeddings.Snapshot(modelID)
	if err != nil {
		return nil, translateError(err)
	}

	samples := make([][]float32, 0, len(rows))
	for _, row := range rows {
		samples = append(samples, row.Vector)
	}

	b, err := basis.FromSamples(state.holder.Version()+1, samples, idx.opts.metric)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Rebase installs b as the model's current basis and re-projects all of the
// model's rows against it. The job checkpoints progress and resumes after
// interruption; see maintenance.Rebaser.
func (idx *Index) Rebase(ctx context.Context, modelID model.ModelID, b *basis.Basis) error {
	start := time.Now()

	state, err := idx.modelState(modelID)
	if err != nil {
		idx.opts.metricsCollector.RecordRebase(time.Since(start), err)
		return err
	}

	err = state.rebaser.Rebase(ctx, modelID, b)

	idx.opts.metricsCollector.RecordRebase(time.Since(start), err)
	idx.opts.logger.LogRebase(ctx, modelID, b.Version, err)
	return err
}

// ModelStats summarizes one model's index state.
type ModelStats struct {
	ModelID      model.ModelID
	Dimension    int
	Rows         int
	BasisVersion uint64
	StaleRows    uint64
	ByVersion    map[uint64]int
	GridCells    int
	MaxPerCell   int
}

// Stats summarizes the index state, feeding external tuning decisions
// (radius, precision bits, rebase scheduling).
type Stats struct {
	Atoms  int
	Models []ModelStats
}

// Stats returns current index statistics.
func (idx *Index) Stats(ctx context.Context) (Stats, error) {
	count, err := idx.atoms.Count(ctx)
	if err != nil {
		return Stats{}, translateError(err)
	}

	stats := Stats{Atoms: count}

	for _, modelID := range idx.embeddings.Models() {
		state, err := idx.modelState(modelID)
		if err != nil {
			continue
		}

		dim, _ := idx.embeddings.Dimension(modelID)
		version := state.holder.Version()

		var staleCount uint64
		if stale, err := idx.embeddings.StaleIDs(modelID, version); err == nil {
			staleCount = stale.GetCardinality()
		}

		cells, maxPerCell := state.index.Occupancy()

		stats.Models = append(stats.Models, ModelStats{
			ModelID:      modelID,
			Dimension:    dim,
			Rows:         idx.embeddings.Count(modelID),
			BasisVersion: version,
			StaleRows:    staleCount,
			ByVersion:    idx.embeddings.CountByVersion(modelID),
			GridCells:    cells,
			MaxPerCell:   maxPerCell,
		})
	}

	return stats, nil
}

type recordDumper interface {
	All(ctx context.Context) ([]model.Atom, error)
}

type recordRestorer interface {
	Restore(ctx context.Context, atoms []model.Atom) error
}

// SaveSnapshot persists the full index state (atoms, models, embedding
// rows, basis history) under key in the configured blob store.
func (idx *Index) SaveSnapshot(ctx context.Context, key string) error {
	dumper, ok := idx.opts.records.(recordDumper)
	if !ok {
		return fmt.Errorf("record backend %T does not support snapshots", idx.opts.records)
	}

	atoms, err := dumper.All(ctx)
	if err != nil {
		return translateError(err)
	}

	snap := &persistence.Snapshot{
		CreatedAt:  time.Now().UTC(),
		Atoms:      atoms,
		Models:     make(map[model.ModelID]int),
		Embeddings: make(map[model.ModelID][]model.Embedding),
		Bases:      make(map[model.ModelID][]*basis.Basis),
	}

	for _, modelID := range idx.embeddings.Models() {
		dim, err := idx.embeddings.Dimension(modelID)
		if err != nil {
			return translateError(err)
		}
		rows, err := idx.embeddings.Snapshot(modelID)
		if err != nil {
			return translateError(err)
		}

		state, err := idx.modelState(modelID)
		if err != nil {
			return err
		}

		snap.Models[modelID] = dim
		snap.Embeddings[modelID] = rows
		snap.Bases[modelID] = state.holder.History()
	}

	err = persistence.Save(ctx, idx.opts.blobs, key, snap, func(o *persistence.Options) {
		o.Codec = idx.opts.codec
	})

	idx.opts.logger.LogSnapshot(ctx, key, err)
	return err
}

// LoadSnapshot restores index state saved by SaveSnapshot. It is meant for
// a freshly constructed index; existing models and rows are replaced.
func (idx *Index) LoadSnapshot(ctx context.Context, key string) error {
	restorer, ok := idx.opts.records.(recordRestorer)
	if !ok {
		return fmt.Errorf("record backend %T does not support snapshots", idx.opts.records)
	}

	snap, err := persistence.Load(ctx, idx.opts.blobs, key)
	if err != nil {
		return err
	}

	if err := restorer.Restore(ctx, snap.Atoms); err != nil {
		return translateError(err)
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	for modelID, dim := range snap.Models {
		if err := idx.embeddings.RegisterModel(modelID, dim); err != nil {
			return translateError(err)
		}

		history := snap.Bases[modelID]
		if len(history) == 0 {
			return fmt.Errorf("snapshot has no basis history for model %s", modelID)
		}

		holder := basis.NewHolder(history[0])
		for _, b := range history[1:] {
			if err := holder.Install(b); err != nil {
				return fmt.Errorf("restore basis history for model %s: %w", modelID, err)
			}
		}

		state, err := idx.newModelState(holder)
		if err != nil {
			return err
		}

		for i := range snap.Embeddings[modelID] {
			row := snap.Embeddings[modelID][i]
			if err := idx.embeddings.Put(&row); err != nil {
				return translateError(err)
			}
			state.index.Insert(row.AtomID, row.Point)
		}

		idx.models[modelID] = state
	}

	return nil
}
