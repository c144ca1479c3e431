// Package mri builds MRI encoding operators and image reconstruction
// routines on top of the linop operator algebra and the cg solver.
//
// The central type is Encoding, the forward model of an MRI acquisition:
// optional phase rotation, optional multi-receiver sensitivity modulation,
// a Cartesian FFT or non-Cartesian NUFFT, optional sampling mask and
// optional density compensation, fused into a single traversal.
package mri

import (
	"errors"
	"fmt"
	"math"

	"mrirecon/linop"
)

// DynamicDomain tags the leading extra axis of a dynamic acquisition.
type DynamicDomain int

const (
	// DynamicNone means the extra axes carry no temporal semantics.
	DynamicNone DynamicDomain = iota
	// DynamicTime means the leading extra axis is a time axis matching the
	// acquisition frame order.
	DynamicTime
	// DynamicFrequency means the leading extra axis holds temporal
	// frequencies; a 1-D transform along it is inserted at the head of the
	// forward pipeline.
	DynamicFrequency
)

// ErrEncoding reports invalid or mutually exclusive encoding parameters.
var ErrEncoding = errors.New("mri: invalid encoding parameters")

// EncodingParams configures NewEncoding. All fields are optional; the zero
// value describes a fully sampled single-receiver Cartesian acquisition
// with no normalization.
type EncodingParams struct {
	// ExtraShape prepends extra fully-defined axes to the image domain,
	// typically a frame axis for dynamic imaging.
	ExtraShape linop.Shape

	// Mask is the Cartesian sampling mask, shaped [batch..., image...].
	// Mutually exclusive with Trajectory.
	Mask *linop.BoolArray

	// Trajectory holds non-Cartesian sample coordinates, shaped
	// [batch..., samples, rank], each coordinate in [-pi, pi).
	Trajectory *linop.RealArray

	// Density holds sampling densities over the trajectory samples
	// (non-Cartesian, [batch..., samples]) or over the grid (Cartesian,
	// [batch..., image...]). The operator applies the reciprocal square
	// root of the density in both directions.
	Density *linop.RealArray

	// Sensitivities holds per-receiver maps, shaped
	// [batch..., receivers, image...]. Presence enables multi-receiver
	// mode.
	Sensitivities *linop.Array

	// Phase is a phase estimate in radians, shaped [batch..., image...].
	// Presence enables phase-constrained mode: the domain is treated as
	// real-valued and the adjoint output has zero imaginary part.
	Phase *linop.RealArray

	// Norm selects the FFT/NUFFT normalization.
	Norm linop.Norm

	// SensNorm divides the sensitivities by their root sum of squares
	// over receivers.
	SensNorm bool

	// Dynamic tags the leading extra axis as time or frequency. Requires
	// a non-empty ExtraShape.
	Dynamic DynamicDomain
}

// Encoding is the MRI forward model. Its domain is [extra..., image...]
// and its range is the acquired k-space, [extra..., receivers?, image...]
// for Cartesian or [extra..., receivers?, samples] for non-Cartesian
// acquisitions. The pipeline is fused rather than composed from leaf
// operators so that each step runs once per traversal.
type Encoding struct {
	image      linop.Shape
	extra      linop.Shape
	domain     linop.Shape
	rangeShape linop.Shape
	batch      linop.Shape
	rank       int

	fourier *linop.Fourier
	nufft   *linop.NUFFT
	sense   *linop.SensitivityModulation
	weights *linop.RealArray
	rotor   *linop.Array
	norm    linop.Norm
	dynamic DynamicDomain
}

// NewEncoding constructs the encoding operator for an image of the given
// shape (rank 2 or 3). Supplying both a mask and a trajectory is an error;
// supplying neither yields a fully sampled Cartesian operator.
func NewEncoding(imageShape linop.Shape, p EncodingParams) (*Encoding, error) {
	if !imageShape.IsFullyDefined() {
		return nil, fmt.Errorf("%w: image shape %v must be fully defined", ErrEncoding, imageShape)
	}
	rank := imageShape.Rank()
	if rank < 2 || rank > 3 {
		return nil, fmt.Errorf("%w: image rank must be 2 or 3, got %d", ErrEncoding, rank)
	}
	if p.Mask != nil && p.Trajectory != nil {
		return nil, fmt.Errorf("%w: mask and trajectory are mutually exclusive", ErrEncoding)
	}
	extra := p.ExtraShape.Clone()
	if extra == nil {
		extra = linop.Shape{}
	}
	if !extra.IsFullyDefined() {
		return nil, fmt.Errorf("%w: extra shape %v must be fully defined", ErrEncoding, p.ExtraShape)
	}
	if p.Dynamic != DynamicNone && extra.Rank() == 0 {
		return nil, fmt.Errorf("%w: dynamic domain requires an extra leading axis", ErrEncoding)
	}

	op := &Encoding{
		image:   imageShape.Clone(),
		extra:   extra,
		domain:  extra.Clone().Concat(imageShape),
		rank:    rank,
		norm:    p.Norm,
		dynamic: p.Dynamic,
		batch:   linop.Shape{},
	}

	// Number of axes between an input's batch dims and its trailing dims
	// once the k-space acquires the extra and receiver axes.
	coilAxes := 0
	if p.Sensitivities != nil {
		coilAxes = 1
	}
	inner := extra.Rank() + coilAxes

	if p.Sensitivities != nil {
		s := p.Sensitivities
		if s.Rank() < rank+1 {
			return nil, fmt.Errorf("%w: sensitivities %v must be shaped [..., receivers, image...]",
				ErrEncoding, s.Shape)
		}
		maps, err := insertOnes(s, s.Rank()-rank-1, extra.Rank())
		if err != nil {
			return nil, err
		}
		sense, err := linop.NewSensitivityModulation(maps, rank, p.SensNorm)
		if err != nil {
			return nil, err
		}
		if !sense.DomainShape().CompatibleWith(imageShape) {
			return nil, fmt.Errorf("%w: sensitivities %v do not match image shape %v",
				ErrEncoding, s.Shape, imageShape)
		}
		op.sense = sense
		if err := op.mergeBatch(linop.Shape(s.Shape[:s.Rank()-rank-1])); err != nil {
			return nil, err
		}
	}

	// The transform sees the extra and receiver axes as carried-through
	// leading dims of its domain.
	innerDomain := extra.Clone()
	if coilAxes == 1 {
		innerDomain = innerDomain.Concat(linop.Shape{op.sense.NumCoils()})
	}
	innerDomain = innerDomain.Concat(imageShape)

	switch {
	case p.Trajectory != nil:
		t := p.Trajectory
		if t.Shape.Rank() < 2 || t.Shape[t.Shape.Rank()-1] != rank {
			return nil, fmt.Errorf("%w: trajectory %v must be shaped [..., samples, %d]",
				ErrEncoding, t.Shape, rank)
		}
		points, err := insertOnesReal(t, t.Shape.Rank()-2, inner)
		if err != nil {
			return nil, err
		}
		nufft, err := linop.NewNUFFT(innerDomain, points, p.Norm)
		if err != nil {
			return nil, err
		}
		op.nufft = nufft
		if err := op.mergeBatch(nufft.BatchShape()); err != nil {
			return nil, err
		}
		op.rangeShape = extra.Clone()
		if coilAxes == 1 {
			op.rangeShape = op.rangeShape.Concat(linop.Shape{op.sense.NumCoils()})
		}
		op.rangeShape = op.rangeShape.Concat(linop.Shape{t.Shape[t.Shape.Rank()-2]})

	default:
		var mask *linop.BoolArray
		if p.Mask != nil {
			if p.Mask.Shape.Rank() < rank {
				return nil, fmt.Errorf("%w: mask %v must be shaped [..., image...]",
					ErrEncoding, p.Mask.Shape)
			}
			m, err := insertOnesBool(p.Mask, p.Mask.Shape.Rank()-rank, inner)
			if err != nil {
				return nil, err
			}
			mask = m
		}
		fft, err := linop.NewFourier(innerDomain, rank, mask, p.Norm)
		if err != nil {
			return nil, err
		}
		op.fourier = fft
		if err := op.mergeBatch(fft.BatchShape()); err != nil {
			return nil, err
		}
		op.rangeShape = innerDomain.Clone()
	}

	if p.Density != nil {
		d := p.Density
		trailing := 1
		if op.fourier != nil {
			trailing = rank
		}
		if d.Shape.Rank() < trailing {
			return nil, fmt.Errorf("%w: density %v has too few dims", ErrEncoding, d.Shape)
		}
		w := sqrtReciprocal(d)
		w, err := insertOnesReal(w, w.Shape.Rank()-trailing, inner)
		if err != nil {
			return nil, err
		}
		op.weights = w
		if err := op.mergeBatch(linop.Shape(d.Shape[:d.Shape.Rank()-trailing])); err != nil {
			return nil, err
		}
	}

	if p.Phase != nil {
		ph := p.Phase
		if ph.Shape.Rank() < rank {
			return nil, fmt.Errorf("%w: phase %v must be shaped [..., image...]",
				ErrEncoding, ph.Shape)
		}
		rotor := linop.NewArray(linop.Shape(ph.Shape).Clone())
		for i, v := range ph.Elems {
			rotor.Elems[i] = complex(math.Cos(v), math.Sin(v))
		}
		rotor, err := insertOnes(rotor, rotor.Rank()-rank, extra.Rank())
		if err != nil {
			return nil, err
		}
		op.rotor = rotor
		if err := op.mergeBatch(linop.Shape(ph.Shape[:ph.Shape.Rank()-rank])); err != nil {
			return nil, err
		}
	}

	return op, nil
}

func (op *Encoding) mergeBatch(s linop.Shape) error {
	b, err := linop.BroadcastShapes(op.batch, s)
	if err != nil {
		return fmt.Errorf("%w: incompatible parameter batch shapes", ErrEncoding)
	}
	op.batch = b
	return nil
}

func (op *Encoding) DomainShape() linop.Shape { return op.domain }
func (op *Encoding) RangeShape() linop.Shape  { return op.rangeShape }
func (op *Encoding) BatchShape() linop.Shape  { return op.batch }

func (op *Encoding) IsSelfAdjoint() bool      { return false }
func (op *Encoding) IsPositiveDefinite() bool { return false }
func (op *Encoding) IsSquare() bool           { return op.domain.Size() == op.rangeShape.Size() }

// ImageShape returns the spatial shape of the images the operator acts on.
func (op *Encoding) ImageShape() linop.Shape { return op.image }

// ExtraShape returns the extra leading axes of the domain.
func (op *Encoding) ExtraShape() linop.Shape { return op.extra }

// Rank returns the spatial dimensionality.
func (op *Encoding) Rank() int { return op.rank }

// NumCoils returns the receiver count, or 0 in single-receiver mode.
func (op *Encoding) NumCoils() int {
	if op.sense == nil {
		return 0
	}
	return op.sense.NumCoils()
}

// IsCartesian reports whether the operator samples on a regular grid.
func (op *Encoding) IsCartesian() bool { return op.nufft == nil }

// IsPhaseConstrained reports whether a phase map constrains the domain to
// real-valued images.
func (op *Encoding) IsPhaseConstrained() bool { return op.rotor != nil }

// Norm returns the transform normalization mode.
func (op *Encoding) Norm() linop.Norm { return op.norm }

// Sensitivities returns the aligned, possibly normalized receiver maps, or
// nil in single-receiver mode.
func (op *Encoding) Sensitivities() *linop.Array {
	if op.sense == nil {
		return nil
	}
	return op.sense.Maps()
}

// DensityWeights returns the aligned reciprocal square-root density
// weights, or nil if no density was supplied.
func (op *Encoding) DensityWeights() *linop.RealArray { return op.weights }

func (op *Encoding) Transform(x *linop.Array, adjoint bool) (*linop.Array, error) {
	if adjoint {
		return op.applyAdjoint(x)
	}
	return op.applyForward(x)
}

func (op *Encoding) applyForward(x *linop.Array) (*linop.Array, error) {
	if err := checkTrailing(x, op.domain); err != nil {
		return nil, err
	}
	var err error
	if op.dynamic == DynamicFrequency {
		axis := x.Rank() - op.domain.Rank()
		if x, err = linop.DFTAxis(x, axis, true, op.norm); err != nil {
			return nil, err
		}
	}
	if op.rotor != nil {
		if x, err = linop.Mul(x, op.rotor); err != nil {
			return nil, err
		}
	}
	if op.sense != nil {
		if x, err = op.sense.Transform(x, false); err != nil {
			return nil, err
		}
	}
	if op.nufft != nil {
		x, err = op.nufft.Transform(x, false)
	} else {
		x, err = op.fourier.Transform(x, false)
	}
	if err != nil {
		return nil, err
	}
	if op.weights != nil {
		if x, err = linop.MulReal(x, op.weights); err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (op *Encoding) applyAdjoint(y *linop.Array) (*linop.Array, error) {
	if err := checkTrailing(y, op.rangeShape); err != nil {
		return nil, err
	}
	var err error
	if op.weights != nil {
		if y, err = linop.MulReal(y, op.weights); err != nil {
			return nil, err
		}
	}
	if op.nufft != nil {
		y, err = op.nufft.Transform(y, true)
	} else {
		y, err = op.fourier.Transform(y, true)
	}
	if err != nil {
		return nil, err
	}
	if op.sense != nil {
		if y, err = op.sense.Transform(y, true); err != nil {
			return nil, err
		}
	}
	if op.rotor != nil {
		if y, err = linop.MulConj(y, op.rotor); err != nil {
			return nil, err
		}
		for i, v := range y.Elems {
			y.Elems[i] = complex(real(v), 0)
		}
	}
	if op.dynamic == DynamicFrequency {
		axis := y.Rank() - op.domain.Rank()
		if y, err = linop.DFTAxis(y, axis, false, op.norm); err != nil {
			return nil, err
		}
	}
	return y, nil
}

// checkTrailing verifies that the trailing dims of x equal want.
func checkTrailing(x *linop.Array, want linop.Shape) error {
	if x.Rank() < want.Rank() {
		return fmt.Errorf("%w: input %v does not end in %v", linop.ErrShape, x.Shape, want)
	}
	if !want.Equal(linop.Shape(x.Shape[x.Rank()-want.Rank():])) {
		return fmt.Errorf("%w: input %v does not end in %v", linop.ErrShape, x.Shape, want)
	}
	return nil
}

// sqrtReciprocal maps each density to 1/sqrt(d), sending zeros to zero so
// unsampled locations contribute nothing.
func sqrtReciprocal(d *linop.RealArray) *linop.RealArray {
	elems := make([]float64, len(d.Elems))
	for i, v := range d.Elems {
		if v > 0 {
			elems[i] = 1 / math.Sqrt(v)
		}
	}
	w, _ := linop.NewRealArray(elems, linop.Shape(d.Shape).Clone())
	return w
}

// insertOnes returns x reshaped with n size-1 axes inserted at pos, so that
// a parameter's batch dims align past the extra and receiver axes of the
// k-space.
func insertOnes(x *linop.Array, pos, n int) (*linop.Array, error) {
	return x.Reshape(withOnes(x.Shape, pos, n))
}

func insertOnesReal(x *linop.RealArray, pos, n int) (*linop.RealArray, error) {
	return x.Reshape(withOnes(x.Shape, pos, n))
}

func insertOnesBool(x *linop.BoolArray, pos, n int) (*linop.BoolArray, error) {
	return x.Reshape(withOnes(x.Shape, pos, n))
}

func withOnes(s linop.Shape, pos, n int) linop.Shape {
	if n == 0 {
		return s.Clone()
	}
	out := make(linop.Shape, 0, s.Rank()+n)
	out = append(out, s[:pos]...)
	for i := 0; i < n; i++ {
		out = append(out, 1)
	}
	return append(out, s[pos:]...)
}
