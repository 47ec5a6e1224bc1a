// Package testutil provides deterministic fixtures for tests: a seeded,
// thread-safe RNG and embedding-corpus generators.
package testutil

import (
	"math/rand"
	"sync"

	"github.com/hupe1980/geosem/distance"
)

// RNG struct encapsulates the random number generator and seed.
// It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Float64 returns a pseudo-random number in [0.0,1.0).
func (r *RNG) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Float64()
}

// NormFloat64 returns a standard-normal pseudo-random number.
func (r *RNG) NormFloat64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.NormFloat64()
}

// UniformVectors generates random vectors with values in range [-1, 1).
func (r *RNG) UniformVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range vectors {
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = r.rand.Float32()*2 - 1
		}
		vectors[i] = vec
	}
	return vectors
}

// GaussianVectors generates random vectors with standard-normal components.
func (r *RNG) GaussianVectors(num, dimensions int) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	vectors := make([][]float32, num)
	for i := range vectors {
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = float32(r.rand.NormFloat64())
		}
		vectors[i] = vec
	}
	return vectors
}

// ClusteredVectors generates a corpus grouped around numClusters Gaussian
// centers with the given per-component noise. Vector i belongs to cluster
// i % numClusters, making cluster membership reproducible.
func (r *RNG) ClusteredVectors(num, dimensions, numClusters int, noise float64) [][]float32 {
	r.mu.Lock()
	defer r.mu.Unlock()

	centers := make([][]float32, numClusters)
	for i := range centers {
		c := make([]float32, dimensions)
		for j := range c {
			c[j] = float32(r.rand.NormFloat64())
		}
		centers[i] = c
	}

	vectors := make([][]float32, num)
	for i := range vectors {
		center := centers[i%numClusters]
		vec := make([]float32, dimensions)
		for j := range vec {
			vec[j] = center[j] + float32(r.rand.NormFloat64()*noise)
		}
		vectors[i] = vec
	}
	return vectors
}

// AxisVectors returns the classic four-vector fixture: one unit vector per
// coordinate axis plus a 45-degree blend of the first two, all of dimension
// dim (dim >= 3).
func AxisVectors(dim int) (axis1, axis2, axis3, blend []float32) {
	axis1 = make([]float32, dim)
	axis2 = make([]float32, dim)
	axis3 = make([]float32, dim)
	blend = make([]float32, dim)

	axis1[0] = 1
	axis2[1] = 1
	axis3[2] = 1
	blend[0], blend[1] = 1, 1
	distance.NormalizeL2InPlace(blend)

	return axis1, axis2, axis3, blend
}
