package linop

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Norm selects the scaling convention of the Fourier operators.
type Norm int

const (
	// NormNone applies no scaling in either direction. The adjoint uses the
	// unscaled inverse-exponent transform, so a round trip multiplies by the
	// number of transformed elements.
	NormNone Norm = iota
	// NormOrtho scales both directions by 1/sqrt(n), making the transform
	// unitary and round trips energy preserving.
	NormOrtho
)

func (n Norm) valid() bool { return n == NormNone || n == NormOrtho }

// ErrNorm reports an unsupported normalization mode.
var ErrNorm = errors.New("linop: unsupported normalization mode")

// Fourier computes the centered N-dimensional discrete Fourier transform
// over the trailing rank axes of its domain, optionally followed by a
// boolean sampling mask. The zero frequency is at the center of the
// transformed axes. The adjoint masks first and applies the
// inverse-exponent transform.
type Fourier struct {
	domain Shape
	rank   int
	mask   *BoolArray
	batch  Shape
	norm   Norm
	scale  float64
}

// NewFourier constructs a Fourier operator with the given domain shape.
// The transform runs over the trailing rank axes (1, 2 or 3) of the domain;
// leading domain axes are carried through untransformed. The trailing
// dimensions of an optional mask must broadcast with the domain shape; any
// leading mask dimensions become the operator's batch shape.
func NewFourier(domain Shape, rank int, mask *BoolArray, norm Norm) (*Fourier, error) {
	if !domain.IsFullyDefined() || domain.Rank() == 0 {
		return nil, fmt.Errorf("%w: domain shape %v must be fully defined", ErrShape, domain)
	}
	if rank < 1 || rank > 3 || rank > domain.Rank() {
		return nil, fmt.Errorf("%w: transform rank %d for domain %v", ErrShape, rank, domain)
	}
	if !norm.valid() {
		return nil, fmt.Errorf("%w: %d", ErrNorm, norm)
	}
	op := &Fourier{domain: domain.Clone(), rank: rank, mask: mask, norm: norm, batch: Shape{}}
	if mask != nil {
		k := min(mask.Shape.Rank(), domain.Rank())
		trailing := Shape(mask.Shape[mask.Shape.Rank()-k:])
		if _, err := BroadcastShapes(domain, trailing); err != nil {
			return nil, fmt.Errorf("%w: mask %v does not broadcast with domain %v",
				ErrShape, mask.Shape, domain)
		}
		if mask.Shape.Rank() > domain.Rank() {
			op.batch = Shape(mask.Shape[:mask.Shape.Rank()-domain.Rank()]).Clone()
		}
	}
	op.scale = 1
	if norm == NormOrtho {
		op.scale = 1 / math.Sqrt(float64(Shape(domain[domain.Rank()-rank:]).Size()))
	}
	return op, nil
}

func (op *Fourier) DomainShape() Shape { return op.domain }
func (op *Fourier) RangeShape() Shape  { return op.domain }
func (op *Fourier) BatchShape() Shape  { return op.batch }

func (op *Fourier) IsSelfAdjoint() bool      { return false }
func (op *Fourier) IsPositiveDefinite() bool { return false }
func (op *Fourier) IsSquare() bool           { return true }

// Rank returns the spatial dimensionality of the transform.
func (op *Fourier) Rank() int { return op.rank }

// Mask returns the sampling mask, or nil.
func (op *Fourier) Mask() *BoolArray { return op.mask }

// Norm returns the normalization mode.
func (op *Fourier) Norm() Norm { return op.norm }

func (op *Fourier) Transform(x *Array, adjoint bool) (*Array, error) {
	if err := checkTrailing(x, op.domain); err != nil {
		return nil, err
	}
	var err error
	if adjoint {
		if op.mask != nil {
			if x, err = mulMaskBroadcast(x, op.mask); err != nil {
				return nil, err
			}
		}
		x = dftTrailing(x, op.rank, true)
		if op.scale != 1 {
			x.Scale(complex(op.scale, 0))
		}
		return x, nil
	}
	x = dftTrailing(x, op.rank, false)
	if op.scale != 1 {
		x.Scale(complex(op.scale, 0))
	}
	if op.mask != nil {
		if x, err = mulMaskBroadcast(x, op.mask); err != nil {
			return nil, err
		}
	}
	return x, nil
}

// InverseTransform applies the exact inverse. Only defined for fully
// sampled operators; a masked transform is singular.
func (op *Fourier) InverseTransform(x *Array, adjoint bool) (*Array, error) {
	if op.mask != nil {
		return nil, fmt.Errorf("%w: masked Fourier operator", ErrNonInvertible)
	}
	if err := checkTrailing(x, op.domain); err != nil {
		return nil, err
	}
	n := Shape(op.domain[op.domain.Rank()-op.rank:]).Size()
	scale := op.scale // ortho: inverse equals adjoint scaling
	if op.norm == NormNone {
		scale = 1 / float64(n)
	}
	x = dftTrailing(x, op.rank, !adjoint)
	x.Scale(complex(scale, 0))
	return x, nil
}

// DFT computes the centered, unnormalized discrete Fourier transform of x
// over the trailing rank axes, or the inverse-exponent transform when
// adjoint is set. With NormOrtho both directions are scaled by 1/sqrt(n).
func DFT(x *Array, rank int, adjoint bool, norm Norm) (*Array, error) {
	if rank < 1 || rank > x.Rank() {
		return nil, fmt.Errorf("%w: transform rank %d for input %v", ErrShape, rank, x.Shape)
	}
	if !norm.valid() {
		return nil, fmt.Errorf("%w: %d", ErrNorm, norm)
	}
	out := dftTrailing(x, rank, adjoint)
	if norm == NormOrtho {
		n := Shape(x.Shape[x.Rank()-rank:]).Size()
		out.Scale(complex(1/math.Sqrt(float64(n)), 0))
	}
	return out, nil
}

// DFTAxis computes the centered transform along a single axis, or the
// inverse-exponent transform when adjoint is set. With NormOrtho the result
// is scaled by 1/sqrt(n) where n is the axis length.
func DFTAxis(x *Array, axis int, adjoint bool, norm Norm) (*Array, error) {
	if axis < 0 || axis >= x.Rank() {
		return nil, fmt.Errorf("%w: axis %d for input %v", ErrShape, axis, x.Shape)
	}
	if !norm.valid() {
		return nil, fmt.Errorf("%w: %d", ErrNorm, norm)
	}
	out := x.Clone()
	dftAxis(out, axis, adjoint)
	if norm == NormOrtho {
		out.Scale(complex(1/math.Sqrt(float64(x.Shape[axis])), 0))
	}
	return out, nil
}

// dftTrailing transforms the trailing rank axes, one axis at a time.
func dftTrailing(x *Array, rank int, adjoint bool) *Array {
	out := x.Clone()
	for axis := x.Rank() - rank; axis < x.Rank(); axis++ {
		dftAxis(out, axis, adjoint)
	}
	return out
}

// dftAxis transforms one axis of x in place with the centered convention:
// ifftshift, transform, fftshift. Plans are created per call; their cost is
// negligible next to the transform and it keeps concurrent calls
// self-contained.
func dftAxis(x *Array, axis int, adjoint bool) {
	n := x.Shape[axis]
	if n == 1 {
		return
	}
	plan := fourier.NewCmplxFFT(n)
	inner := Shape(x.Shape[axis+1:]).Size()
	outer := Shape(x.Shape[:axis]).Size()
	src := make([]complex128, n)
	dst := make([]complex128, n)
	pre := n / 2     // ifftshift: src[k] = fiber[(k + n/2) % n]
	post := n - n/2  // fftshift: fiber[j] = dst[(j + n - n/2) % n]
	for o := 0; o < outer; o++ {
		for i := 0; i < inner; i++ {
			base := o*n*inner + i
			for k := 0; k < n; k++ {
				src[k] = x.Elems[base+((k+pre)%n)*inner]
			}
			if adjoint {
				plan.Sequence(dst, src)
			} else {
				plan.Coefficients(dst, src)
			}
			for j := 0; j < n; j++ {
				x.Elems[base+j*inner] = dst[(j+post)%n]
			}
		}
	}
}
