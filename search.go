// This file implements the fluent search API and the two-stage query
// engine: spatial range query over projected points, then exact cosine
// scoring of the candidates.
package geosem

import (
	"context"
	"sort"
	"time"

	"github.com/hupe1980/geosem/distance"
	"github.com/hupe1980/geosem/model"
	"github.com/hupe1980/geosem/spatial"
)

// Search creates a new fluent search builder for the given query vector.
//
// Example:
//
//	results, err := idx.Search("text-embed-v1", query).
//	    TopK(10).
//	    Radius(0.5).
//	    Execute(ctx)
//
// The stage-one radius trades recall against cost: too small and true
// neighbors beyond the projected ball are missed, too large and stage two
// degrades toward a full scan. Start from the default and tune with the
// candidate counts reported by the metrics collector.
func (idx *Index) Search(modelID model.ModelID, query []float32) *SearchBuilder {
	return &SearchBuilder{
		idx:     idx,
		modelID: modelID,
		query:   query,
		topK:    10,
		radius:  idx.opts.defaultRadius,
	}
}

// SearchBuilder is a fluent builder for constructing search queries.
type SearchBuilder struct {
	idx      *Index
	modelID  model.ModelID
	query    []float32
	topK     int
	radius   float64
	multiRes bool
}

// TopK sets the number of results to return. Zero yields an empty result
// set; a value larger than the corpus returns the full corpus.
func (sb *SearchBuilder) TopK(k int) *SearchBuilder {
	sb.topK = k
	return sb
}

// Radius sets the stage-one search radius in projected space.
func (sb *SearchBuilder) Radius(r float64) *SearchBuilder {
	sb.radius = r
	return sb
}

// MultiResolution enables the three-stage funnel: coarse cell prefilter,
// fine distance filter, exact scoring. Useful at large corpus sizes where
// it bounds the candidate set visited by the fine stage.
func (sb *SearchBuilder) MultiResolution() *SearchBuilder {
	sb.multiRes = true
	return sb
}

// Execute runs the search and returns the results, ordered by similarity
// descending with ties broken by spatial distance ascending, then atom id
// ascending.
func (sb *SearchBuilder) Execute(ctx context.Context) ([]model.Result, error) {
	start := time.Now()

	results, candidates, err := sb.idx.search(ctx, sb)

	sb.idx.opts.metricsCollector.RecordSearch(sb.topK, candidates, time.Since(start), err)
	sb.idx.opts.logger.LogSearch(ctx, sb.topK, candidates, len(results), err)
	return results, err
}

// First returns only the best result, or ErrNotFound if none match.
func (sb *SearchBuilder) First(ctx context.Context) (model.Result, error) {
	sb.topK = 1

	results, err := sb.Execute(ctx)
	if err != nil {
		return model.Result{}, err
	}
	if len(results) == 0 {
		return model.Result{}, ErrNotFound
	}
	return results[0], nil
}

// Count executes the search and returns the number of results.
func (sb *SearchBuilder) Count(ctx context.Context) (int, error) {
	results, err := sb.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(results), nil
}

func (idx *Index) search(ctx context.Context, sb *SearchBuilder) ([]model.Result, int, error) {
	if sb.topK < 0 {
		return nil, 0, ErrInvalidTopK
	}
	if sb.topK == 0 {
		return []model.Result{}, 0, nil
	}

	state, err := idx.modelState(sb.modelID)
	if err != nil {
		return nil, 0, err
	}

	expected, err := idx.embeddings.Dimension(sb.modelID)
	if err != nil {
		return nil, 0, translateError(err)
	}
	if len(sb.query) != expected {
		return nil, 0, &ErrDimensionMismatch{Expected: expected, Actual: len(sb.query)}
	}

	b := state.holder.Current()

	queryPoint, err := idx.proj.ProjectTo3D(sb.query, b)
	if err != nil {
		return nil, 0, err
	}

	// Stage 1: candidate selection in projected space.
	var entries []spatial.Entry
	if sb.multiRes {
		coarse, err := state.index.CellEntries(ctx, queryPoint, sb.radius)
		if err != nil {
			return nil, len(coarse), err
		}
		entries = coarse[:0]
		for _, e := range coarse {
			if e.Point.Distance(queryPoint) <= sb.radius {
				entries = append(entries, e)
			}
		}
	} else {
		entries, err = state.index.RangeQuery(ctx, queryPoint, sb.radius)
		if err != nil {
			return nil, len(entries), err
		}
	}

	// Stage 2: exact scoring on the original vectors.
	results := make([]model.Result, 0, len(entries))
	for i, entry := range entries {
		if i%64 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, len(entries), err
			}
		}

		row, err := idx.embeddings.Get(entry.ID, sb.modelID)
		if err != nil {
			// Row removed between stages.
			continue
		}

		results = append(results, model.Result{
			AtomID:          entry.ID,
			Similarity:      distance.CosineSimilarity(sb.query, row.Vector),
			SpatialDistance: entry.Point.Distance(queryPoint),
			Stale:           row.BasisVersion < b.Version,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		if results[i].SpatialDistance != results[j].SpatialDistance {
			return results[i].SpatialDistance < results[j].SpatialDistance
		}
		return results[i].AtomID < results[j].AtomID
	})

	if len(results) > sb.topK {
		results = results[:sb.topK]
	}

	return results, len(entries), nil
}
