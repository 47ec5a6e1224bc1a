package basis

import (
	"sync"
	"testing"

	"github.com/hupe1980/geosem/distance"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAnchors(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		b, err := FromAnchors(1, [Axes][]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
		}, distance.MetricL2)
		require.NoError(t, err)
		assert.Equal(t, uint64(1), b.Version)
		assert.Equal(t, 4, b.Dimension)
	})

	t.Run("ClonesAnchors", func(t *testing.T) {
		a := []float32{1, 0, 0}
		b, err := FromAnchors(1, [Axes][]float32{a, {0, 1, 0}, {0, 0, 1}}, distance.MetricL2)
		require.NoError(t, err)

		a[0] = 99
		assert.Equal(t, float32(1), b.Anchors[0][0])
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		_, err := FromAnchors(1, [Axes][]float32{{1, 0}, {0, 1, 0}, {0, 0, 1}}, distance.MetricL2)
		assert.Error(t, err)
	})

	t.Run("CoincidingAnchors", func(t *testing.T) {
		_, err := FromAnchors(1, [Axes][]float32{{1, 0, 0}, {1, 0, 0}, {0, 0, 1}}, distance.MetricL2)
		assert.Error(t, err)
	})
}

func TestSeeded(t *testing.T) {
	t.Run("Deterministic", func(t *testing.T) {
		a, err := Seeded(1, 64, 1234, distance.MetricCosine)
		require.NoError(t, err)
		b, err := Seeded(1, 64, 1234, distance.MetricCosine)
		require.NoError(t, err)
		assert.Equal(t, a.Anchors, b.Anchors)
	})

	t.Run("DifferentSeeds", func(t *testing.T) {
		a, err := Seeded(1, 64, 1, distance.MetricL2)
		require.NoError(t, err)
		b, err := Seeded(1, 64, 2, distance.MetricL2)
		require.NoError(t, err)
		assert.NotEqual(t, a.Anchors, b.Anchors)
	})

	t.Run("UnitNorm", func(t *testing.T) {
		b, err := Seeded(1, 32, 7, distance.MetricL2)
		require.NoError(t, err)
		for _, a := range b.Anchors {
			assert.InDelta(t, 1.0, float64(distance.Dot(a, a)), 1e-5)
		}
	})

	t.Run("EveryAnchorPopulated", func(t *testing.T) {
		// The redraw loop must leave no axis unset regardless of seed.
		for seed := int64(0); seed < 50; seed++ {
			b, err := Seeded(1, Axes, seed, distance.MetricL2)
			require.NoError(t, err)
			for i, a := range b.Anchors {
				require.Lenf(t, a, Axes, "seed %d axis %d", seed, i)
				assert.InDelta(t, 1.0, float64(distance.Dot(a, a)), 1e-5)
			}
		}
	})

	t.Run("DimensionTooSmall", func(t *testing.T) {
		_, err := Seeded(1, 2, 7, distance.MetricL2)
		assert.Error(t, err)
	})
}

func TestFromSamples(t *testing.T) {
	t.Run("SelectsWellSeparated", func(t *testing.T) {
		samples := [][]float32{
			{0.1, 0, 0},
			{10, 0, 0},
			{0, 10, 0},
			{0, 0, 10},
			{0.2, 0.1, 0},
		}
		b, err := FromSamples(1, samples, distance.MetricL2)
		require.NoError(t, err)
		assert.Greater(t, b.Separation(), 5.0)
	})

	t.Run("TooFewSamples", func(t *testing.T) {
		_, err := FromSamples(1, [][]float32{{1, 0}}, distance.MetricL2)
		assert.ErrorIs(t, err, ErrTooFewSamples)
	})

	t.Run("DuplicatedSamples", func(t *testing.T) {
		_, err := FromSamples(1, [][]float32{{1, 0}, {1, 0}, {1, 0}}, distance.MetricL2)
		assert.Error(t, err)
	})
}

func TestHolder(t *testing.T) {
	newBasis := func(version uint64) *Basis {
		b, err := Seeded(version, 16, 42, distance.MetricL2)
		require.NoError(t, err)
		return b
	}

	t.Run("InstallAdvancesVersion", func(t *testing.T) {
		h := NewHolder(newBasis(1))
		require.NoError(t, h.Install(newBasis(2)))
		assert.Equal(t, uint64(2), h.Version())
		assert.Len(t, h.History(), 2)
	})

	t.Run("RejectsStaleVersion", func(t *testing.T) {
		h := NewHolder(newBasis(2))
		assert.ErrorIs(t, h.Install(newBasis(2)), ErrVersionConflict)
		assert.ErrorIs(t, h.Install(newBasis(1)), ErrVersionConflict)
	})

	t.Run("At", func(t *testing.T) {
		h := NewHolder(newBasis(1))
		require.NoError(t, h.Install(newBasis(2)))
		assert.Equal(t, uint64(1), h.At(1).Version)
		assert.Nil(t, h.At(3))
	})

	t.Run("ConcurrentReaders", func(t *testing.T) {
		h := NewHolder(newBasis(1))

		var wg sync.WaitGroup
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for range 1000 {
					b := h.Current()
					// A snapshot is always complete: version and anchors
					// belong together.
					assert.Equal(t, 16, b.Dimension)
					assert.NotNil(t, b.Anchors[2])
				}
			}()
		}
		for v := uint64(2); v < 10; v++ {
			require.NoError(t, h.Install(newBasis(v)))
		}
		wg.Wait()
		assert.Equal(t, uint64(9), h.Version())
	})
}
