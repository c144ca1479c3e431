package linop

import (
	"fmt"
)

// Difference computes first-order finite differences along one axis of its
// domain, a derivative-like operator used for regularization. The range
// loses one element along that axis; the adjoint is the pad-and-subtract
// transpose.
type Difference struct {
	domain     Shape
	rangeShape Shape
	axis       int
}

// NewDifference constructs the operator over the given domain shape. axis
// may be negative to count from the end; it is canonicalized at
// construction.
func NewDifference(domain Shape, axis int) (*Difference, error) {
	if !domain.IsFullyDefined() || domain.Rank() == 0 {
		return nil, fmt.Errorf("%w: domain shape %v must be fully defined", ErrShape, domain)
	}
	if axis < -domain.Rank() || axis >= domain.Rank() {
		return nil, fmt.Errorf("%w: axis %d for domain %v", ErrShape, axis, domain)
	}
	if axis < 0 {
		axis += domain.Rank()
	}
	if domain[axis] < 2 {
		return nil, fmt.Errorf("%w: axis %d of domain %v is too short to difference",
			ErrShape, axis, domain)
	}
	rangeShape := domain.Clone()
	rangeShape[axis]--
	return &Difference{domain: domain.Clone(), rangeShape: rangeShape, axis: axis}, nil
}

func (op *Difference) DomainShape() Shape { return op.domain }
func (op *Difference) RangeShape() Shape  { return op.rangeShape }
func (op *Difference) BatchShape() Shape  { return Shape{} }

func (op *Difference) IsSelfAdjoint() bool      { return false }
func (op *Difference) IsPositiveDefinite() bool { return false }
func (op *Difference) IsSquare() bool           { return false }

// Axis returns the canonical difference axis within the domain.
func (op *Difference) Axis() int { return op.axis }

func (op *Difference) Transform(x *Array, adjoint bool) (*Array, error) {
	in, out := op.domain, op.rangeShape
	if adjoint {
		in, out = out, in
	}
	if err := checkTrailing(x, in); err != nil {
		return nil, err
	}
	axis := x.Rank() - in.Rank() + op.axis
	nIn := x.Shape[axis]
	nOut := out[op.axis]

	shape := x.Shape.Clone()
	shape[axis] = nOut
	y := NewArray(shape)

	inner := Shape(x.Shape[axis+1:]).Size()
	outer := Shape(x.Shape[:axis]).Size()
	for o := 0; o < outer; o++ {
		xb := x.Elems[o*nIn*inner : (o+1)*nIn*inner]
		yb := y.Elems[o*nOut*inner : (o+1)*nOut*inner]
		if adjoint {
			// Transpose of the forward difference: y[0] = -x[0],
			// y[k] = x[k-1] - x[k], y[n-1] = x[n-2].
			for k := 0; k < nOut; k++ {
				for i := 0; i < inner; i++ {
					var v complex128
					if k > 0 {
						v += xb[(k-1)*inner+i]
					}
					if k < nIn {
						v -= xb[k*inner+i]
					}
					yb[k*inner+i] = v
				}
			}
		} else {
			for k := 0; k < nOut; k++ {
				for i := 0; i < inner; i++ {
					yb[k*inner+i] = xb[(k+1)*inner+i] - xb[k*inner+i]
				}
			}
		}
	}
	return y, nil
}
