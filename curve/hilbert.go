// Package curve implements the spatial encoder: quantization of projected
// 3-D points and their mapping onto a 3-D Hilbert space-filling curve.
//
// The curve value is a single scalar whose ordering approximately preserves
// spatial locality: points in nearby cells tend to receive nearby values.
// The guarantee is probabilistic, not strict; adjacent cells separated by a
// curve-boundary transition can map to distant values.
package curve

import (
	"fmt"

	"github.com/hupe1980/geosem/model"
)

const (
	// MaxBits is the maximum precision per axis. Three axes at 21 bits each
	// fill 63 bits of the scalar curve value.
	MaxBits = 21

	dims = 3
)

// Options contains configuration options for the encoder.
type Options struct {
	// FineBits is the per-axis precision of the fine resolution used for
	// curve values and exact spatial cells.
	FineBits uint

	// CoarseBits is the per-axis precision of the coarse buckets used by the
	// first stage of multi-resolution search. Must be <= FineBits.
	CoarseBits uint

	// Min and Max bound the coordinate range covered by the quantizer.
	// Points outside the range are clamped to the boundary cells.
	Min, Max float64
}

// DefaultOptions contains the default configuration options for the encoder.
var DefaultOptions = Options{
	FineBits:   10,
	CoarseBits: 4,
	Min:        -4,
	Max:        4,
}

// Encoder quantizes 3-D points over a fixed bounding range and encodes them
// along a Hilbert curve. It is immutable and safe for concurrent use.
type Encoder struct {
	opts Options
}

// New creates a new encoder.
func New(optFns ...func(o *Options)) (*Encoder, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.FineBits == 0 || opts.FineBits > MaxBits {
		return nil, fmt.Errorf("fine bits must be in [1, %d], got %d", MaxBits, opts.FineBits)
	}

	if opts.CoarseBits == 0 || opts.CoarseBits > opts.FineBits {
		return nil, fmt.Errorf("coarse bits must be in [1, %d], got %d", opts.FineBits, opts.CoarseBits)
	}

	if opts.Max <= opts.Min {
		return nil, fmt.Errorf("invalid bounding range [%v, %v]", opts.Min, opts.Max)
	}

	return &Encoder{opts: opts}, nil
}

// FineBits returns the per-axis precision of the fine resolution.
func (e *Encoder) FineBits() uint { return e.opts.FineBits }

// CoarseBits returns the per-axis precision of the coarse resolution.
func (e *Encoder) CoarseBits() uint { return e.opts.CoarseBits }

// Quantize maps a point to its cell coordinates at the given precision.
// Out-of-range coordinates are clamped.
func (e *Encoder) Quantize(p model.Point3, bits uint) model.Bucket3 {
	var cell model.Bucket3

	cells := float64(uint64(1) << bits)
	scale := cells / (e.opts.Max - e.opts.Min)

	for i := range 3 {
		v := (p[i] - e.opts.Min) * scale
		switch {
		case v < 0:
			cell[i] = 0
		case v >= cells:
			cell[i] = uint32(cells) - 1
		default:
			cell[i] = uint32(v)
		}
	}

	return cell
}

// CellCenter returns the center point of a cell at the given precision.
func (e *Encoder) CellCenter(cell model.Bucket3, bits uint) model.Point3 {
	size := (e.opts.Max - e.opts.Min) / float64(uint64(1)<<bits)

	return model.Point3{
		e.opts.Min + (float64(cell[0])+0.5)*size,
		e.opts.Min + (float64(cell[1])+0.5)*size,
		e.opts.Min + (float64(cell[2])+0.5)*size,
	}
}

// CellSize returns the side length of a cell at the given precision.
func (e *Encoder) CellSize(bits uint) float64 {
	return (e.opts.Max - e.opts.Min) / float64(uint64(1)<<bits)
}

// Encode quantizes p at the given precision and returns its Hilbert curve
// value. Spatially close cells tend to receive close values.
func (e *Encoder) Encode(p model.Point3, bits uint) uint64 {
	return CurveValue(e.Quantize(p, bits), bits)
}

// EncodeFine returns the curve value of p at the fine resolution.
func (e *Encoder) EncodeFine(p model.Point3) uint64 {
	return e.Encode(p, e.opts.FineBits)
}

// Bucket returns the coarse-resolution cell of p.
func (e *Encoder) Bucket(p model.Point3) model.Bucket3 {
	return e.Quantize(p, e.opts.CoarseBits)
}

// Decode maps a curve value back to its cell coordinates.
func (e *Encoder) Decode(d uint64, bits uint) model.Bucket3 {
	return CurveCell(d, bits)
}

// CurveValue maps cell coordinates to their Hilbert curve value using the
// transpose-based formulation (Skilling, AIP Conf. Proc. 707, 2004).
func CurveValue(cell model.Bucket3, bits uint) uint64 {
	x := [dims]uint32{cell[0], cell[1], cell[2]}

	m := uint32(1) << (bits - 1)

	// Inverse undo excess work.
	for q := m; q > 1; q >>= 1 {
		p := q - 1
		for i := range dims {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}

	// Gray encode.
	for i := 1; i < dims; i++ {
		x[i] ^= x[i-1]
	}
	var t uint32
	for q := uint32(2); q != m<<1; q <<= 1 {
		if x[dims-1]&q != 0 {
			t ^= q - 1
		}
	}
	for i := range dims {
		x[i] ^= t
	}

	// Interleave the transposed bits, axis 0 most significant.
	var d uint64
	for bit := int(bits) - 1; bit >= 0; bit-- {
		for i := range dims {
			d = d<<1 | uint64(x[i]>>uint(bit)&1)
		}
	}

	return d
}

// CurveCell inverts CurveValue, mapping a curve value back to cell
// coordinates.
func CurveCell(d uint64, bits uint) model.Bucket3 {
	var x [dims]uint32

	// De-interleave into the transposed form.
	pos := dims*int(bits) - 1
	for bit := int(bits) - 1; bit >= 0; bit-- {
		for i := range dims {
			x[i] |= uint32(d>>uint(pos)&1) << uint(bit)
			pos--
		}
	}

	n := uint32(2) << (bits - 1)

	// Gray decode by H ^ (H/2).
	t := x[dims-1] >> 1
	for i := dims - 1; i > 0; i-- {
		x[i] ^= x[i-1]
	}
	x[0] ^= t

	// Undo excess work.
	for q := uint32(2); q != n; q <<= 1 {
		p := q - 1
		for i := dims - 1; i >= 0; i-- {
			if x[i]&q != 0 {
				x[0] ^= p
			} else {
				t := (x[0] ^ x[i]) & p
				x[0] ^= t
				x[i] ^= t
			}
		}
	}

	return model.Bucket3{x[0], x[1], x[2]}
}
