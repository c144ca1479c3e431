package linop

import (
	"fmt"
	"math/cmplx"
)

// FullMatrix is a dense operator over an explicit complex matrix shaped
// [rows, cols]. It exists for small systems, preconditioners and solver
// cross-checks; the matrix-free leaves should be preferred everywhere
// else. Algebraic flags are declared by the caller and not verified.
type FullMatrix struct {
	a           *Array
	rows, cols  int
	selfAdjoint bool
	posDef      bool
}

// NewFullMatrix wraps a rank-2 array as an operator.
func NewFullMatrix(a *Array, selfAdjoint, positiveDefinite bool) (*FullMatrix, error) {
	if a == nil || a.Rank() != 2 {
		return nil, fmt.Errorf("%w: matrix must have rank 2", ErrShape)
	}
	return &FullMatrix{
		a:           a,
		rows:        a.Shape[0],
		cols:        a.Shape[1],
		selfAdjoint: selfAdjoint,
		posDef:      positiveDefinite,
	}, nil
}

func (op *FullMatrix) DomainShape() Shape { return Shape{op.cols} }
func (op *FullMatrix) RangeShape() Shape  { return Shape{op.rows} }
func (op *FullMatrix) BatchShape() Shape  { return Shape{} }

func (op *FullMatrix) IsSelfAdjoint() bool      { return op.selfAdjoint }
func (op *FullMatrix) IsPositiveDefinite() bool { return op.posDef }
func (op *FullMatrix) IsSquare() bool           { return op.rows == op.cols }

// Matrix returns the wrapped matrix.
func (op *FullMatrix) Matrix() *Array { return op.a }

func (op *FullMatrix) Transform(x *Array, adjoint bool) (*Array, error) {
	in, out := op.cols, op.rows
	if adjoint {
		in, out = out, in
	}
	if err := checkTrailing(x, Shape{in}); err != nil {
		return nil, err
	}
	batch := len(x.Elems) / in
	shape := Shape(x.Shape[:x.Rank()-1]).Concat(Shape{out})
	y := NewArray(shape)
	for b := 0; b < batch; b++ {
		xb := x.Elems[b*in : (b+1)*in]
		yb := y.Elems[b*out : (b+1)*out]
		for i := 0; i < out; i++ {
			var acc complex128
			for j := 0; j < in; j++ {
				if adjoint {
					acc += cmplx.Conj(op.a.Elems[j*op.cols+i]) * xb[j]
				} else {
					acc += op.a.Elems[i*op.cols+j] * xb[j]
				}
			}
			yb[i] = acc
		}
	}
	return y, nil
}
