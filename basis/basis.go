// Package basis manages the landmark basis: a small, versioned set of anchor
// vectors in embedding space, one per output axis. Every projection reads a
// complete, immutable basis snapshot; replacing the basis bumps the version
// and is followed by index maintenance, never by in-place mutation.
package basis

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/geosem/distance"
	"github.com/hupe1980/geosem/model"
)

// Axes is the number of output axes, one anchor per axis.
const Axes = 3

var (
	// ErrVersionConflict is returned when installing a basis whose version
	// does not advance the current one.
	ErrVersionConflict = errors.New("basis version must advance")

	// ErrTooFewSamples is returned when sample-based construction has fewer
	// samples than axes.
	ErrTooFewSamples = errors.New("not enough samples for basis construction")
)

// Basis is an immutable, versioned set of anchor vectors. It must never be
// mutated after construction; projectors hold it across calls.
type Basis struct {
	Version   uint64
	Anchors   [Axes][]float32
	Metric    distance.Metric
	Dimension int
	CreatedAt time.Time
}

// FromAnchors builds a basis from explicit anchor vectors.
// Anchors are cloned so the caller cannot mutate the basis afterwards.
func FromAnchors(version uint64, anchors [Axes][]float32, metric distance.Metric) (*Basis, error) {
	dim := len(anchors[0])
	if dim == 0 {
		return nil, errors.New("anchor dimension must be positive")
	}

	b := &Basis{
		Version:   version,
		Metric:    metric,
		Dimension: dim,
		CreatedAt: time.Now().UTC(),
	}

	for i, a := range anchors {
		if len(a) != dim {
			return nil, fmt.Errorf("anchor %d dimension %d != %d", i, len(a), dim)
		}
		b.Anchors[i] = slices.Clone(a)
	}

	for i := 0; i < Axes; i++ {
		for j := i + 1; j < Axes; j++ {
			if distance.SquaredL2(b.Anchors[i], b.Anchors[j]) == 0 {
				return nil, fmt.Errorf("anchors %d and %d coincide", i, j)
			}
		}
	}

	return b, nil
}

// Seeded builds a deterministic basis of pseudo-random unit anchors.
// The same (dim, seed) pair always yields the same anchors, so independent
// processes can agree on a basis without coordination.
func Seeded(version uint64, dim int, seed int64, metric distance.Metric) (*Basis, error) {
	if dim < Axes {
		return nil, fmt.Errorf("dimension %d below axis count %d", dim, Axes)
	}

	rng := rand.New(rand.NewSource(seed))

	var anchors [Axes][]float32
	for i := range anchors {
		// Redraw until the axis normalizes; a zero-norm draw is practically
		// unreachable for Gaussian samples.
		for anchors[i] == nil {
			a := make([]float32, dim)
			for j := range a {
				a[j] = float32(rng.NormFloat64())
			}
			if distance.NormalizeL2InPlace(a) {
				anchors[i] = a
			}
		}
	}

	return FromAnchors(version, anchors, metric)
}

// FromSamples selects well-separated anchors from sample embeddings by
// greedy farthest-point traversal: the first anchor is the sample farthest
// from the sample mean, each further anchor maximizes the minimum distance
// to those already chosen. Deterministic for a fixed sample order.
func FromSamples(version uint64, samples [][]float32, metric distance.Metric) (*Basis, error) {
	if len(samples) < Axes {
		return nil, ErrTooFewSamples
	}

	dim := len(samples[0])
	for i, s := range samples {
		if len(s) != dim {
			return nil, fmt.Errorf("sample %d dimension %d != %d", i, len(s), dim)
		}
	}

	mean := make([]float32, dim)
	for _, s := range samples {
		for j, v := range s {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= float32(len(samples))
	}

	chosen := make([]int, 0, Axes)
	first, best := 0, float32(-1)
	for i, s := range samples {
		if d := distance.SquaredL2(s, mean); d > best {
			first, best = i, d
		}
	}
	chosen = append(chosen, first)

	for len(chosen) < Axes {
		next, best := -1, float32(-1)
		for i, s := range samples {
			minDist := float32(math.MaxFloat32)
			for _, c := range chosen {
				if d := distance.SquaredL2(s, samples[c]); d < minDist {
					minDist = d
				}
			}
			if minDist > best {
				next, best = i, minDist
			}
		}
		if best == 0 {
			return nil, errors.New("samples collapse to fewer distinct points than axes")
		}
		chosen = append(chosen, next)
	}

	var anchors [Axes][]float32
	for i, c := range chosen {
		anchors[i] = samples[c]
	}

	return FromAnchors(version, anchors, metric)
}

// Separation returns the minimum pairwise anchor distance. Small values
// indicate a poorly conditioned multilateration system; the projector
// compensates with regularization, but re-basing is advisable.
func (b *Basis) Separation() float64 {
	minDist := math.MaxFloat64
	for i := 0; i < Axes; i++ {
		for j := i + 1; j < Axes; j++ {
			if d := float64(distance.L2(b.Anchors[i], b.Anchors[j])); d < minDist {
				minDist = d
			}
		}
	}
	return minDist
}

// AnchorDistances returns the distance from v to each anchor under the
// basis metric.
func (b *Basis) AnchorDistances(v []float32) (model.Point3, error) {
	fn, err := distance.Provider(b.Metric)
	if err != nil {
		return model.Point3{}, err
	}

	var out model.Point3
	for i, a := range b.Anchors {
		out[i] = fn(v, a)
	}
	return out, nil
}

// Holder publishes the current basis snapshot to concurrent readers and
// retains historical versions for inspection. Install is exclusive; reads
// are lock-free.
type Holder struct {
	current atomic.Pointer[Basis]

	mu      sync.Mutex
	history []*Basis
}

// NewHolder creates a holder with an initial basis.
func NewHolder(b *Basis) *Holder {
	h := &Holder{}
	h.current.Store(b)
	h.history = []*Basis{b}
	return h
}

// Current returns the current basis snapshot. The returned basis is
// immutable and remains valid after later installs.
func (h *Holder) Current() *Basis {
	return h.current.Load()
}

// Version returns the current basis version.
func (h *Holder) Version() uint64 {
	return h.current.Load().Version
}

// Install makes b the current basis. It fails unless b.Version advances the
// current version, and b's dimension and metric match.
func (h *Holder) Install(b *Basis) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	cur := h.current.Load()
	if b.Version <= cur.Version {
		return fmt.Errorf("%w: have %d, got %d", ErrVersionConflict, cur.Version, b.Version)
	}
	if b.Dimension != cur.Dimension {
		return fmt.Errorf("basis dimension %d != %d", b.Dimension, cur.Dimension)
	}
	if b.Metric != cur.Metric {
		return fmt.Errorf("basis metric %v != %v", b.Metric, cur.Metric)
	}

	h.history = append(h.history, b)
	h.current.Store(b)
	return nil
}

// History returns all installed versions, oldest first.
func (h *Holder) History() []*Basis {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.history)
}

// At returns the basis with the given version, or nil.
func (h *Holder) At(version uint64) *Basis {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, b := range h.history {
		if b.Version == version {
			return b
		}
	}
	return nil
}
