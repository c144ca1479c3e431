package linop

import (
	"fmt"

	"gonum.org/v1/gonum/cmplxs"
)

// Gram wraps an operator A as its normal-equations operator A^H A,
// optionally plus lambda*I for Tikhonov-style regularization. It is
// declared self-adjoint and positive definite unconditionally; when
// lambda is zero and A does not have full column rank the system is only
// positive semi-definite and an iterative solver will stagnate rather
// than fail.
type Gram struct {
	op     Operator
	lambda float64
}

// NewGram wraps op as op^H op + lambda*I. lambda is real and by convention
// non-negative; this is not enforced.
func NewGram(op Operator, lambda float64) (*Gram, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: nil operator", ErrShape)
	}
	return &Gram{op: op, lambda: lambda}, nil
}

func (g *Gram) DomainShape() Shape { return g.op.DomainShape() }
func (g *Gram) RangeShape() Shape  { return g.op.DomainShape() }
func (g *Gram) BatchShape() Shape  { return g.op.BatchShape() }

func (g *Gram) IsSelfAdjoint() bool      { return true }
func (g *Gram) IsPositiveDefinite() bool { return true }
func (g *Gram) IsSquare() bool           { return true }

// Operator returns the wrapped operator.
func (g *Gram) Operator() Operator { return g.op }

// Lambda returns the regularization weight.
func (g *Gram) Lambda() float64 { return g.lambda }

func (g *Gram) Transform(x *Array, adjoint bool) (*Array, error) {
	// Self-adjoint: both directions compute A^H A x + lambda x.
	y, err := g.op.Transform(x, false)
	if err != nil {
		return nil, err
	}
	y, err = g.op.Transform(y, true)
	if err != nil {
		return nil, err
	}
	if g.lambda != 0 {
		if y.Shape.Equal(x.Shape) {
			cmplxs.AddScaled(y.Elems, complex(g.lambda, 0), x.Elems)
		} else {
			// The operator batch broadcast grew the output; add with
			// broadcasting.
			lx := x.Clone()
			lx.Scale(complex(g.lambda, 0))
			sum, err := addBroadcast(y, lx)
			if err != nil {
				return nil, err
			}
			y = sum
		}
	}
	return y, nil
}
