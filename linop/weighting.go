package linop

import (
	"fmt"
)

// RealWeighting multiplies by a real-valued weight array. It is diagonal,
// square and self-adjoint: forward and adjoint apply the same weights.
// Typical uses are sampling density compensation (weights are the
// element-wise reciprocal square root of the density, applied symmetrically
// so the composed system stays balanced) and intensity correction after
// coil combination.
type RealWeighting struct {
	weights *RealArray
	domain  Shape
	batch   Shape
	posDef  bool
}

// NewRealWeighting constructs the operator. argShape declares the
// domain/range shape; if nil it defaults to the weight shape. The trailing
// weight dimensions must broadcast with argShape; leading weight dimensions
// become the operator's batch shape.
func NewRealWeighting(weights *RealArray, argShape Shape) (*RealWeighting, error) {
	if weights == nil {
		return nil, fmt.Errorf("%w: nil weights", ErrShape)
	}
	if argShape == nil {
		argShape = weights.Shape
	}
	if !argShape.IsFullyDefined() || argShape.Rank() == 0 {
		return nil, fmt.Errorf("%w: arg shape %v must be fully defined", ErrShape, argShape)
	}
	k := min(weights.Shape.Rank(), argShape.Rank())
	trailing := Shape(weights.Shape[weights.Shape.Rank()-k:])
	if _, err := BroadcastShapes(argShape, trailing); err != nil {
		return nil, fmt.Errorf("%w: weights %v do not broadcast with arg shape %v",
			ErrShape, weights.Shape, argShape)
	}
	batch := Shape{}
	if weights.Shape.Rank() > argShape.Rank() {
		batch = Shape(weights.Shape[:weights.Shape.Rank()-argShape.Rank()]).Clone()
	}
	posDef := true
	for _, w := range weights.Elems {
		if w <= 0 {
			posDef = false
			break
		}
	}
	return &RealWeighting{
		weights: weights,
		domain:  argShape.Clone(),
		batch:   batch,
		posDef:  posDef,
	}, nil
}

func (op *RealWeighting) DomainShape() Shape { return op.domain }
func (op *RealWeighting) RangeShape() Shape  { return op.domain }
func (op *RealWeighting) BatchShape() Shape  { return op.batch }

func (op *RealWeighting) IsSelfAdjoint() bool      { return true }
func (op *RealWeighting) IsPositiveDefinite() bool { return op.posDef }
func (op *RealWeighting) IsSquare() bool           { return true }

// Weights returns the weight array.
func (op *RealWeighting) Weights() *RealArray { return op.weights }

func (op *RealWeighting) Transform(x *Array, adjoint bool) (*Array, error) {
	if err := checkTrailing(x, op.domain); err != nil {
		return nil, err
	}
	return mulRealBroadcast(x, op.weights)
}

// InverseTransform divides by the weights. Only defined when every weight
// is strictly positive.
func (op *RealWeighting) InverseTransform(x *Array, adjoint bool) (*Array, error) {
	if !op.posDef {
		return nil, fmt.Errorf("%w: weighting with non-positive weights", ErrNonInvertible)
	}
	if err := checkTrailing(x, op.domain); err != nil {
		return nil, err
	}
	shape, err := BroadcastShapes(x.Shape, op.weights.Shape)
	if err != nil {
		return nil, err
	}
	out := NewArray(shape)
	broadcastIter(shape, x.Shape, op.weights.Shape, func(i, ix, iw int) {
		out.Elems[i] = x.Elems[ix] / complex(op.weights.Elems[iw], 0)
	})
	return out, nil
}
