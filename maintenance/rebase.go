// Package maintenance runs the background jobs that keep the spatial index
// consistent with the installed landmark basis.
//
// A rebase re-projects every embedding row of a model against a new basis
// version. The job is resumable: progress is checkpointed to a blob store,
// and a restarted job continues from the last committed checkpoint instead
// of re-projecting the whole corpus. Each row's spatial entry is moved
// before its version stamp is updated, so a cancelled job leaves a mix of
// old and new versions but never a torn row.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/blobstore"
	"github.com/hupe1980/geosem/codec"
	"github.com/hupe1980/geosem/curve"
	"github.com/hupe1980/geosem/embedding"
	"github.com/hupe1980/geosem/model"
	"github.com/hupe1980/geosem/projector"
	"github.com/hupe1980/geosem/spatial"
)

// Checkpoint is the persisted progress of one rebase job.
type Checkpoint struct {
	ModelID      model.ModelID `json:"model_id"`
	BasisVersion uint64        `json:"basis_version"`
	Pending      []byte        `json:"pending"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Options contains configuration options for the rebaser.
type Options struct {
	// Workers bounds concurrent row re-projections.
	Workers int
	// CheckpointEvery is the number of completed rows between checkpoint
	// writes. Zero disables checkpointing.
	CheckpointEvery int
	// RateLimit paces row processing. Inf means unpaced.
	RateLimit rate.Limit
	// Codec encodes checkpoints. Defaults to codec.Default.
	Codec codec.Codec
	// Logger receives job progress. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions contains the default configuration options for the rebaser.
var DefaultOptions = Options{
	Workers:         4,
	CheckpointEvery: 256,
	RateLimit:       rate.Inf,
}

// Rebaser re-projects embedding rows after a basis change.
type Rebaser struct {
	embeddings  *embedding.Store
	index       *spatial.Index
	proj        *projector.Projector
	enc         *curve.Encoder
	holder      *basis.Holder
	checkpoints blobstore.Store
	opts        Options
}

// New creates a rebaser. The checkpoint store may be nil, which disables
// resumption.
func New(embeddings *embedding.Store, index *spatial.Index, proj *projector.Projector, enc *curve.Encoder, holder *basis.Holder, checkpoints blobstore.Store, optFns ...func(o *Options)) (*Rebaser, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Workers < 1 {
		return nil, fmt.Errorf("workers must be positive, got %d", opts.Workers)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Rebaser{
		embeddings:  embeddings,
		index:       index,
		proj:        proj,
		enc:         enc,
		holder:      holder,
		checkpoints: checkpoints,
		opts:        opts,
	}, nil
}

func checkpointKey(modelID model.ModelID, version uint64) string {
	return fmt.Sprintf("maintenance/rebase/%s/v%d", modelID, version)
}

// Rebase installs b as the current basis and re-projects all rows of
// modelID against it. When b's version is already installed, the call
// resumes a previously interrupted job. On cancellation the current
// progress is checkpointed and the context error returned; already
// re-projected rows stay on the new version.
func (r *Rebaser) Rebase(ctx context.Context, modelID model.ModelID, b *basis.Basis) error {
	if err := r.holder.Install(b); err != nil {
		if !errors.Is(err, basis.ErrVersionConflict) || r.holder.Version() != b.Version {
			return err
		}
		// Same version already installed: resume.
	}

	pending, resumed, err := r.pendingSet(ctx, modelID, b.Version)
	if err != nil {
		return err
	}

	total := pending.GetCardinality()
	r.opts.Logger.InfoContext(ctx, "rebase started",
		slog.String("model_id", string(modelID)),
		slog.Uint64("basis_version", b.Version),
		slog.Uint64("rows", total),
		slog.Bool("resumed", resumed),
	)

	if total == 0 {
		return r.clearCheckpoint(ctx, modelID, b.Version)
	}

	progress := &progressTracker{pending: pending}
	limiter := rate.NewLimiter(r.opts.RateLimit, 1)
	sem := semaphore.NewWeighted(int64(r.opts.Workers))

	g, gctx := errgroup.WithContext(ctx)

	ids := pending.ToArray()
	for _, raw := range ids {
		id := model.AtomID(raw)

		if err := limiter.Wait(gctx); err != nil {
			break
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer sem.Release(1)

			if err := r.reprojectRow(id, modelID, b); err != nil {
				return err
			}

			if done := progress.complete(uint64(id)); done && r.opts.CheckpointEvery > 0 && progress.sinceCheckpoint(r.opts.CheckpointEvery) {
				if err := r.writeCheckpoint(gctx, modelID, b.Version, progress.snapshot()); err != nil {
					r.opts.Logger.WarnContext(gctx, "rebase checkpoint write failed", slog.Any("error", err))
				}
			}
			return nil
		})
	}

	runErr := g.Wait()
	if ctxErr := ctx.Err(); ctxErr != nil && runErr == nil {
		runErr = ctxErr
	}

	if runErr != nil {
		if err := r.writeCheckpoint(context.WithoutCancel(ctx), modelID, b.Version, progress.snapshot()); err != nil {
			r.opts.Logger.WarnContext(ctx, "rebase checkpoint write failed", slog.Any("error", err))
		}
		return runErr
	}

	r.opts.Logger.InfoContext(ctx, "rebase finished",
		slog.String("model_id", string(modelID)),
		slog.Uint64("basis_version", b.Version),
		slog.Uint64("rows", total),
	)

	return r.clearCheckpoint(ctx, modelID, b.Version)
}

// reprojectRow recomputes one row's geometry. The spatial entry moves
// first; the row's version stamp follows, so a crash between the two leaves
// the row marked stale and it is simply re-projected on resume.
func (r *Rebaser) reprojectRow(id model.AtomID, modelID model.ModelID, b *basis.Basis) error {
	row, err := r.embeddings.Get(id, modelID)
	if err != nil {
		var notFound *embedding.ErrNotFound
		if errors.As(err, &notFound) {
			// Row deleted mid-job.
			return nil
		}
		return err
	}

	if row.BasisVersion >= b.Version {
		return nil
	}

	point, err := r.proj.ProjectTo3D(row.Vector, b)
	if err != nil {
		return fmt.Errorf("re-project atom %d: %w", id, err)
	}

	bucket := r.enc.Bucket(point)
	curveValue := r.enc.EncodeFine(point)

	r.index.Move(id, point)
	return r.embeddings.UpdateProjection(id, modelID, point, bucket, curveValue, b.Version)
}

// pendingSet returns the rows still to process, preferring a stored
// checkpoint over a fresh stale scan.
func (r *Rebaser) pendingSet(ctx context.Context, modelID model.ModelID, version uint64) (*roaring64.Bitmap, bool, error) {
	if r.checkpoints != nil {
		data, err := r.checkpoints.Get(ctx, checkpointKey(modelID, version))
		if err == nil {
			var cp Checkpoint
			if err := r.opts.Codec.Unmarshal(data, &cp); err != nil {
				return nil, false, fmt.Errorf("decode checkpoint: %w", err)
			}
			if cp.BasisVersion == version && cp.ModelID == modelID {
				bm := roaring64.New()
				if err := bm.UnmarshalBinary(cp.Pending); err != nil {
					return nil, false, fmt.Errorf("decode checkpoint bitmap: %w", err)
				}
				return bm, true, nil
			}
		} else if !errors.Is(err, blobstore.ErrNotFound) {
			return nil, false, fmt.Errorf("read checkpoint: %w", err)
		}
	}

	bm, err := r.embeddings.StaleIDs(modelID, version)
	if err != nil {
		return nil, false, err
	}
	return bm, false, nil
}

func (r *Rebaser) writeCheckpoint(ctx context.Context, modelID model.ModelID, version uint64, pending *roaring64.Bitmap) error {
	if r.checkpoints == nil {
		return nil
	}

	raw, err := pending.MarshalBinary()
	if err != nil {
		return err
	}

	data, err := r.opts.Codec.Marshal(Checkpoint{
		ModelID:      modelID,
		BasisVersion: version,
		Pending:      raw,
		UpdatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	return r.checkpoints.Put(ctx, checkpointKey(modelID, version), data)
}

func (r *Rebaser) clearCheckpoint(ctx context.Context, modelID model.ModelID, version uint64) error {
	if r.checkpoints == nil {
		return nil
	}

	err := r.checkpoints.Delete(ctx, checkpointKey(modelID, version))
	if err != nil && !errors.Is(err, blobstore.ErrNotFound) {
		return err
	}
	return nil
}

// progressTracker maintains the not-yet-completed set across workers.
type progressTracker struct {
	mu        sync.Mutex
	pending   *roaring64.Bitmap
	completed int
}

func (p *progressTracker) complete(id uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.pending.Contains(id) {
		return false
	}
	p.pending.Remove(id)
	p.completed++
	return true
}

func (p *progressTracker) sinceCheckpoint(every int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed%every == 0
}

func (p *progressTracker) snapshot() *roaring64.Bitmap {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending.Clone()
}
