// Package projector reduces high-dimensional embeddings to 3-D points by
// landmark multilateration: the distance from the embedding to each basis
// anchor constrains a sphere around that anchor's fixed 3-D site, and the
// projected point is the least-squares solution of the resulting system,
// solved by damped Gauss-Newton iteration.
//
// The reduction is lossy by construction. It preserves relative distance
// ordering only probabilistically: embeddings that are close in the original
// space are likely, but not guaranteed, to project to nearby points. Exact
// ranking is restored downstream by scoring candidates on the original
// vectors.
package projector

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/hupe1980/geosem/basis"
	"github.com/hupe1980/geosem/model"
)

// Options contains configuration options for the projector.
type Options struct {
	// SiteScale places anchor i's 3-D site at SiteScale * e_i.
	SiteScale float64

	// Iterations is the fixed Gauss-Newton iteration count. A fixed count
	// keeps the projection bit-deterministic for identical inputs.
	Iterations int

	// Damping is the Tikhonov term added to the normal equations when the
	// undamped system is singular or near-singular.
	Damping float64

	// Tolerance stops iteration early once the step norm falls below it.
	Tolerance float64
}

// DefaultOptions contains the default configuration options for the projector.
var DefaultOptions = Options{
	SiteScale:  2,
	Iterations: 16,
	Damping:    1e-4,
	Tolerance:  1e-12,
}

// Projector solves the multilateration system for a given basis geometry.
// It is stateless apart from its options and safe for concurrent use.
type Projector struct {
	opts  Options
	sites [basis.Axes]model.Point3
}

// New creates a new projector.
func New(optFns ...func(o *Options)) (*Projector, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.SiteScale <= 0 {
		return nil, fmt.Errorf("site scale must be positive, got %v", opts.SiteScale)
	}
	if opts.Iterations <= 0 {
		return nil, fmt.Errorf("iterations must be positive, got %d", opts.Iterations)
	}
	if opts.Damping <= 0 {
		return nil, fmt.Errorf("damping must be positive, got %v", opts.Damping)
	}

	p := &Projector{opts: opts}
	for i := range p.sites {
		p.sites[i][i] = opts.SiteScale
	}

	return p, nil
}

// Sites returns the fixed 3-D anchor sites.
func (p *Projector) Sites() [basis.Axes]model.Point3 {
	return p.sites
}

// ProjectTo3D projects an embedding into the 3-D metric space defined by b.
//
// Identical (embedding, basis) inputs always yield identical output: the
// iteration count, operand order and fallback policy are fixed, and no
// randomness is involved. Degenerate systems (embedding coinciding with an
// anchor, poorly separated anchors) are absorbed by Tikhonov damping rather
// than surfaced as errors.
func (p *Projector) ProjectTo3D(embedding []float32, b *basis.Basis) (model.Point3, error) {
	if len(embedding) != b.Dimension {
		return model.Point3{}, fmt.Errorf("embedding dimension %d != basis dimension %d", len(embedding), b.Dimension)
	}

	dists, err := b.AnchorDistances(embedding)
	if err != nil {
		return model.Point3{}, err
	}

	return p.solve(normalizeDistances(dists)), nil
}

// normalizeDistances rescales the measured anchor distances so their mean is
// 1. Raw distances depend on the embedding scale of the model; solving in a
// normalized frame keeps every projection inside the same bounded region
// regardless of model.
func normalizeDistances(d model.Point3) model.Point3 {
	mean := (d[0] + d[1] + d[2]) / 3
	if mean <= 0 {
		// All distances zero: the embedding coincides with all anchors,
		// which FromAnchors rules out, but guard the division anyway.
		return model.Point3{1, 1, 1}
	}
	return model.Point3{d[0] / mean, d[1] / mean, d[2] / mean}
}

// solve runs damped Gauss-Newton on the sphere system
// |x - site_i| = d_i, i = 0..2.
//
// Three sites always span a plane, so the sphere intersection has a mirror
// ambiguity across it. The initial guess is offset to the positive side of
// the site plane, which resolves the ambiguity deterministically.
func (p *Projector) solve(d model.Point3) model.Point3 {
	s := p.opts.SiteScale

	// Start at the site centroid, lifted off the site plane.
	x := model.Point3{s / 3, s / 3, s / 3}
	for i := range x {
		x[i] += 0.25 * s
	}

	jac := mat.NewDense(basis.Axes, 3, nil)
	res := mat.NewVecDense(basis.Axes, nil)
	normal := mat.NewSymDense(3, nil)
	rhs := mat.NewVecDense(3, nil)
	step := mat.NewVecDense(3, nil)

	for range p.opts.Iterations {
		for i, site := range p.sites {
			diff := x.Sub(site)
			dist := diff.Distance(model.Point3{})
			if dist < 1e-12 {
				// The iterate sits exactly on a site; the Jacobian row is
				// undefined. Nudge along the axis and recompute.
				diff[i] += 1e-9
				dist = diff.Distance(model.Point3{})
			}

			res.SetVec(i, dist-d[i])
			for j := range 3 {
				jac.Set(i, j, diff[j]/dist)
			}
		}

		// Normal equations: (J^T J) step = -J^T r.
		for j := range 3 {
			for k := j; k < 3; k++ {
				var sum float64
				for i := range basis.Axes {
					sum += jac.At(i, j) * jac.At(i, k)
				}
				normal.SetSym(j, k, sum)
			}
			var sum float64
			for i := range basis.Axes {
				sum += jac.At(i, j) * res.AtVec(i)
			}
			rhs.SetVec(j, -sum)
		}

		var chol mat.Cholesky
		if !chol.Factorize(normal) {
			// Singular or near-singular system: regularized fallback.
			damped := mat.NewSymDense(3, nil)
			damped.CopySym(normal)
			for j := range 3 {
				damped.SetSym(j, j, damped.At(j, j)+p.opts.Damping)
			}
			if !chol.Factorize(damped) {
				// Cannot happen for positive damping, but do not loop on it.
				break
			}
		}

		if err := chol.SolveVecTo(step, rhs); err != nil {
			break
		}

		// Near-singular systems can factorize yet produce wild steps; clamp
		// to a trust region of one site scale.
		if n := step.Norm(2); n > p.opts.SiteScale {
			step.ScaleVec(p.opts.SiteScale/n, step)
		}

		for j := range 3 {
			x[j] += step.AtVec(j)
		}

		if step.Norm(2) < p.opts.Tolerance {
			break
		}
	}

	return x
}
