// Package spatial provides the concurrent spatial index over projected 3-D
// points: a uniform grid of coarse cells with sharded locking, plus a
// curve-value ordered view for cheap one-dimensional pre-filtering.
//
// Range queries visit only the occupied cells whose bounding box intersects
// the query ball. With bounded cell occupancy this gives logarithmic-class
// candidate selection; degenerate radii that cover the whole space degrade
// toward a full scan, which is the documented tradeoff of the two-stage
// search.
package spatial

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/geosem/curve"
	"github.com/hupe1980/geosem/model"
)

// Entry is one indexed point.
type Entry struct {
	ID         model.AtomID
	Point      model.Point3
	CurveValue uint64
}

// Options contains configuration options for the index.
type Options struct {
	// Shards is the number of lock shards. More shards reduce write
	// contention at the cost of fan-out on queries.
	Shards int
}

// DefaultOptions contains the default configuration options for the index.
var DefaultOptions = Options{
	Shards: 16,
}

type shard struct {
	mu      sync.RWMutex
	entries map[model.AtomID]Entry
	cells   map[model.Bucket3]map[model.AtomID]struct{}
}

// Index is the concurrent grid index. Reads run in parallel; writes contend
// only within one shard.
type Index struct {
	enc    *curve.Encoder
	shards []*shard
	count  atomic.Int64

	// Curve-ordered view. The bitmap holds every occupied curve value; the
	// map resolves values back to ids.
	curveMu sync.RWMutex
	curves  *roaring64.Bitmap
	byCurve map[uint64][]model.AtomID
}

// New creates a new spatial index over the encoder's geometry.
func New(enc *curve.Encoder, optFns ...func(o *Options)) *Index {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Shards < 1 {
		opts.Shards = 1
	}

	shards := make([]*shard, opts.Shards)
	for i := range shards {
		shards[i] = &shard{
			entries: make(map[model.AtomID]Entry),
			cells:   make(map[model.Bucket3]map[model.AtomID]struct{}),
		}
	}

	return &Index{
		enc:     enc,
		shards:  shards,
		curves:  roaring64.New(),
		byCurve: make(map[uint64][]model.AtomID),
	}
}

func (idx *Index) shardFor(id model.AtomID) *shard {
	return idx.shards[uint64(id)%uint64(len(idx.shards))]
}

// Len returns the number of indexed points.
func (idx *Index) Len() int {
	return int(idx.count.Load())
}

// Insert adds or replaces the point for id. Replacement is absorbed here so
// concurrent duplicate inserts never surface a conflict to callers.
func (idx *Index) Insert(id model.AtomID, point model.Point3) {
	entry := Entry{
		ID:         id,
		Point:      point,
		CurveValue: idx.enc.EncodeFine(point),
	}
	cell := idx.enc.Bucket(point)

	s := idx.shardFor(id)
	s.mu.Lock()
	prev, existed := s.entries[id]
	if existed {
		idx.removeFromCell(s, prev, id)
	}
	s.entries[id] = entry
	ids, ok := s.cells[cell]
	if !ok {
		ids = make(map[model.AtomID]struct{})
		s.cells[cell] = ids
	}
	ids[id] = struct{}{}
	s.mu.Unlock()

	if existed {
		idx.dropCurve(prev.CurveValue, id)
	} else {
		idx.count.Add(1)
	}
	idx.addCurve(entry.CurveValue, id)
}

// Remove deletes the point for id. Removing an unknown id is a no-op.
func (idx *Index) Remove(id model.AtomID) {
	s := idx.shardFor(id)
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
		idx.removeFromCell(s, entry, id)
	}
	s.mu.Unlock()

	if ok {
		idx.count.Add(-1)
		idx.dropCurve(entry.CurveValue, id)
	}
}

// Move atomically relocates id to a new point, as used by index maintenance
// when a basis change re-projects existing rows.
func (idx *Index) Move(id model.AtomID, point model.Point3) {
	idx.Insert(id, point)
}

// Get returns the entry for id.
func (idx *Index) Get(id model.AtomID) (Entry, bool) {
	s := idx.shardFor(id)
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	return entry, ok
}

// removeFromCell must run under the shard write lock.
func (idx *Index) removeFromCell(s *shard, entry Entry, id model.AtomID) {
	cell := idx.enc.Bucket(entry.Point)
	if ids, ok := s.cells[cell]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(s.cells, cell)
		}
	}
}

// RangeQuery returns all entries within radius of center. Cells whose box
// cannot intersect the query ball are skipped without touching their
// entries. The context is checked between cells so oversized queries honor
// cancellation.
func (idx *Index) RangeQuery(ctx context.Context, center model.Point3, radius float64) ([]Entry, error) {
	if radius < 0 {
		return nil, nil
	}

	var out []Entry

	for _, s := range idx.shards {
		s.mu.RLock()
		for cell, ids := range s.cells {
			if err := ctx.Err(); err != nil {
				s.mu.RUnlock()
				return out, err
			}
			if idx.cellDistance(cell, center) > radius {
				continue
			}
			for id := range ids {
				entry := s.entries[id]
				if entry.Point.Distance(center) <= radius {
					out = append(out, entry)
				}
			}
		}
		s.mu.RUnlock()
	}

	return out, nil
}

// CellEntries returns the entries of all occupied cells that overlap the
// ball, without the exact per-point distance filter. This is the coarse
// funnel stage of multi-resolution search.
func (idx *Index) CellEntries(ctx context.Context, center model.Point3, radius float64) ([]Entry, error) {
	var out []Entry

	for _, s := range idx.shards {
		s.mu.RLock()
		for cell, ids := range s.cells {
			if err := ctx.Err(); err != nil {
				s.mu.RUnlock()
				return out, err
			}
			if idx.cellDistance(cell, center) > radius {
				continue
			}
			for id := range ids {
				out = append(out, s.entries[id])
			}
		}
		s.mu.RUnlock()
	}

	return out, nil
}

// cellDistance returns the distance from center to the closest point of the
// cell's bounding box; zero when center lies inside the cell. Points outside
// the bounding range quantize into boundary cells, so a boundary cell's box
// extends to infinity on its outward side to keep the prune a true lower
// bound for such entries.
func (idx *Index) cellDistance(cell model.Bucket3, center model.Point3) float64 {
	bits := idx.enc.CoarseBits()
	half := idx.enc.CellSize(bits) / 2
	mid := idx.enc.CellCenter(cell, bits)
	last := uint32(1)<<bits - 1

	var sum float64
	for i := range 3 {
		lo, hi := mid[i]-half, mid[i]+half
		if cell[i] == 0 {
			lo = math.Inf(-1)
		}
		if cell[i] == last {
			hi = math.Inf(1)
		}
		if d := lo - center[i]; d > 0 {
			sum += d * d
		} else if d := center[i] - hi; d > 0 {
			sum += d * d
		}
	}
	return math.Sqrt(sum)
}

// CurveRange returns the ids of all entries whose fine curve value lies in
// [lo, hi]. Because the curve preserves locality only approximately, this
// is a cheap pre-filter, not an exact window.
func (idx *Index) CurveRange(lo, hi uint64) []model.AtomID {
	idx.curveMu.RLock()
	defer idx.curveMu.RUnlock()

	var out []model.AtomID

	it := idx.curves.Iterator()
	it.AdvanceIfNeeded(lo)
	for it.HasNext() {
		v := it.Next()
		if v > hi {
			break
		}
		out = append(out, idx.byCurve[v]...)
	}

	return out
}

func (idx *Index) addCurve(v uint64, id model.AtomID) {
	idx.curveMu.Lock()
	defer idx.curveMu.Unlock()

	idx.curves.Add(v)
	idx.byCurve[v] = append(idx.byCurve[v], id)
}

func (idx *Index) dropCurve(v uint64, id model.AtomID) {
	idx.curveMu.Lock()
	defer idx.curveMu.Unlock()

	ids := idx.byCurve[v]
	for i, cur := range ids {
		if cur == id {
			ids = append(ids[:i], ids[i+1:]...)
			break
		}
	}

	if len(ids) == 0 {
		delete(idx.byCurve, v)
		idx.curves.Remove(v)
	} else {
		idx.byCurve[v] = ids
	}
}

// Occupancy returns the number of occupied coarse cells and the largest
// cell population. Feeds tuning decisions for radius and precision.
func (idx *Index) Occupancy() (cells, maxPerCell int) {
	for _, s := range idx.shards {
		s.mu.RLock()
		cells += len(s.cells)
		for _, ids := range s.cells {
			if len(ids) > maxPerCell {
				maxPerCell = len(ids)
			}
		}
		s.mu.RUnlock()
	}
	return cells, maxPerCell
}
