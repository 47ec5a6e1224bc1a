package projector

import (
	"testing"

	"gonum.org/v1/gonum/stat"

	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/distance"
	"github.com/hupe1980/geosem/model"
	"github.com/hupe1980/geosem/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBasis(t *testing.T, dim int) *basis.Basis {
	t.Helper()
	b, err := basis.Seeded(1, dim, 42, distance.MetricL2)
	require.NoError(t, err)
	return b
}

func TestNew(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		p, err := New()
		require.NoError(t, err)
		sites := p.Sites()
		assert.Equal(t, model.Point3{2, 0, 0}, sites[0])
		assert.Equal(t, model.Point3{0, 0, 2}, sites[2])
	})

	t.Run("InvalidOptions", func(t *testing.T) {
		_, err := New(func(o *Options) { o.SiteScale = 0 })
		assert.Error(t, err)

		_, err = New(func(o *Options) { o.Iterations = 0 })
		assert.Error(t, err)

		_, err = New(func(o *Options) { o.Damping = -1 })
		assert.Error(t, err)
	})
}

func TestProjectTo3D(t *testing.T) {
	p, err := New()
	require.NoError(t, err)

	t.Run("Deterministic", func(t *testing.T) {
		b := newTestBasis(t, 64)
		v := testutil.NewRNG(7).GaussianVectors(1, 64)[0]

		first, err := p.ProjectTo3D(v, b)
		require.NoError(t, err)

		for range 10 {
			again, err := p.ProjectTo3D(v, b)
			require.NoError(t, err)
			assert.Equal(t, first, again, "projection must be bit-identical across calls")
		}
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		b := newTestBasis(t, 64)
		_, err := p.ProjectTo3D(make([]float32, 32), b)
		assert.Error(t, err)
	})

	t.Run("EmbeddingOnAnchor", func(t *testing.T) {
		// Coinciding with an anchor zeroes one distance; the solve must
		// recover via damping, not fail.
		b := newTestBasis(t, 64)
		pt, err := p.ProjectTo3D(b.Anchors[0], b)
		require.NoError(t, err)
		for _, c := range pt {
			assert.False(t, c != c, "coordinates must not be NaN")
		}
	})

	t.Run("NearDegenerateAnchors", func(t *testing.T) {
		// Anchors almost coincide: the sphere system is ill-conditioned and
		// exercises the Tikhonov fallback.
		a1 := []float32{1, 0, 0, 0}
		a2 := []float32{1, 1e-7, 0, 0}
		a3 := []float32{1, 0, 1e-7, 0}
		b, err := basis.FromAnchors(1, [basis.Axes][]float32{a1, a2, a3}, distance.MetricL2)
		require.NoError(t, err)

		pt, err := p.ProjectTo3D([]float32{0, 0, 0, 1}, b)
		require.NoError(t, err)
		for _, c := range pt {
			assert.False(t, c != c, "coordinates must not be NaN")
			assert.Less(t, c, 1e6, "regularized solution must stay bounded")
			assert.Greater(t, c, -1e6)
		}
	})

	t.Run("BoundedOutput", func(t *testing.T) {
		b := newTestBasis(t, 32)
		for _, v := range testutil.NewRNG(3).GaussianVectors(200, 32) {
			pt, err := p.ProjectTo3D(v, b)
			require.NoError(t, err)
			for _, c := range pt {
				assert.Less(t, c, 4.0)
				assert.Greater(t, c, -4.0)
			}
		}
	})

	t.Run("CloserAnchorPullsCoordinate", func(t *testing.T) {
		b := newTestBasis(t, 64)

		near0, err := p.ProjectTo3D(b.Anchors[0], b)
		require.NoError(t, err)
		near1, err := p.ProjectTo3D(b.Anchors[1], b)
		require.NoError(t, err)

		// An embedding at anchor 0 must land closer to site 0 than an
		// embedding at anchor 1 does.
		sites := p.Sites()
		assert.Less(t, near0.Distance(sites[0]), near1.Distance(sites[0]))
	})
}

func TestProjectionCorrelation(t *testing.T) {
	// Rank preservation is probabilistic, not exact: require a clearly
	// positive correlation between high-dimensional distance and projected
	// distance over a clustered corpus, not per-pair monotonicity.
	const (
		dim       = 48
		corpus    = 120
		threshold = 0.35
	)

	p, err := New()
	require.NoError(t, err)

	rng := testutil.NewRNG(99)
	vectors := rng.ClusteredVectors(corpus, dim, 6, 0.15)

	b, err := basis.FromSamples(1, vectors, distance.MetricL2)
	require.NoError(t, err)

	points := make([]model.Point3, corpus)
	for i, v := range vectors {
		points[i], err = p.ProjectTo3D(v, b)
		require.NoError(t, err)
	}

	var highDim, projected []float64
	for i := 0; i < corpus; i++ {
		for j := i + 1; j < corpus; j++ {
			highDim = append(highDim, float64(distance.L2(vectors[i], vectors[j])))
			projected = append(projected, points[i].Distance(points[j]))
		}
	}

	r := stat.Correlation(highDim, projected, nil)
	assert.GreaterOrEqual(t, r, threshold,
		"projected distances must correlate with high-dimensional distances")
}
