package linop

import (
	"errors"
	"fmt"
)

// ErrNonInvertible is returned by SolveVec for operators that do not expose
// an inverse transform.
var ErrNonInvertible = errors.New("linop: operator is not invertible")

// Operator is a linear map between structured arrays.
//
// Transform maps an array shaped batch+domain to batch+range, or
// batch+range to batch+domain when adjoint is set. The leading batch
// dimensions of the argument must broadcast with the operator's own batch
// shape. Implementations are immutable after construction.
type Operator interface {
	// DomainShape is the structured input shape.
	DomainShape() Shape
	// RangeShape is the structured output shape.
	RangeShape() Shape
	// BatchShape is the leading shape broadcast across problem instances.
	BatchShape() Shape

	// Transform applies the operator, or its adjoint when adjoint is set.
	Transform(x *Array, adjoint bool) (*Array, error)

	// IsSelfAdjoint reports whether the operator equals its own adjoint.
	IsSelfAdjoint() bool
	// IsPositiveDefinite reports whether the quadratic form is strictly
	// positive.
	IsPositiveDefinite() bool
	// IsSquare reports whether domain and range have equal size.
	IsSquare() bool
}

// Inverter is an Operator that can also apply its inverse.
type Inverter interface {
	Operator
	// InverseTransform applies the inverse of the operator, or the inverse
	// of its adjoint when adjoint is set.
	InverseTransform(x *Array, adjoint bool) (*Array, error)
}

// checkTrailing validates that the trailing dimensions of x match want.
func checkTrailing(x *Array, want Shape) error {
	if x.Rank() < want.Rank() {
		return fmt.Errorf("%w: input %v has lower rank than expected shape %v",
			ErrShape, x.Shape, want)
	}
	got := Shape(x.Shape[x.Rank()-want.Rank():])
	if !want.CompatibleWith(got) {
		return fmt.Errorf("%w: input trailing shape %v, expected %v", ErrShape, got, want)
	}
	return nil
}

// MatVec applies the vectorized operator to x, shaped [batch..., n] with n
// the flattened domain size (range size if adjoint). The trailing dimension
// is expanded to the structured shape, transformed, and flattened back.
func MatVec(op Operator, x *Array, adjoint bool) (*Array, error) {
	in, out := op.DomainShape(), op.RangeShape()
	if adjoint {
		in, out = out, in
	}
	xs, err := ExpandTrailing(x, in)
	if err != nil {
		return nil, err
	}
	ys, err := op.Transform(xs, adjoint)
	if err != nil {
		return nil, err
	}
	return FlattenTrailing(ys, out.Rank()), nil
}

// SolveVec solves op·y = x for y, with x shaped [batch..., n]. The operator
// must expose an inverse transform; see Inverter.
func SolveVec(op Operator, x *Array, adjoint bool) (*Array, error) {
	inv, ok := op.(Inverter)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNonInvertible, op)
	}
	in, out := op.RangeShape(), op.DomainShape()
	if adjoint {
		in, out = out, in
	}
	xs, err := ExpandTrailing(x, in)
	if err != nil {
		return nil, err
	}
	ys, err := inv.InverseTransform(xs, adjoint)
	if err != nil {
		return nil, err
	}
	return FlattenTrailing(ys, out.Rank()), nil
}

// Adjoint returns a view of op with domain and range swapped and Transform
// direction flipped. Self-adjoint operators are returned unchanged.
func Adjoint(op Operator) Operator {
	if op.IsSelfAdjoint() {
		return op
	}
	if a, ok := op.(*adjointOp); ok {
		return a.op
	}
	return &adjointOp{op: op}
}

type adjointOp struct {
	op Operator
}

func (a *adjointOp) DomainShape() Shape { return a.op.RangeShape() }
func (a *adjointOp) RangeShape() Shape  { return a.op.DomainShape() }
func (a *adjointOp) BatchShape() Shape  { return a.op.BatchShape() }

func (a *adjointOp) Transform(x *Array, adjoint bool) (*Array, error) {
	return a.op.Transform(x, !adjoint)
}

func (a *adjointOp) IsSelfAdjoint() bool      { return a.op.IsSelfAdjoint() }
func (a *adjointOp) IsPositiveDefinite() bool { return a.op.IsPositiveDefinite() }
func (a *adjointOp) IsSquare() bool           { return a.op.IsSquare() }

func (a *adjointOp) InverseTransform(x *Array, adjoint bool) (*Array, error) {
	inv, ok := a.op.(Inverter)
	if !ok {
		return nil, fmt.Errorf("%w: %T", ErrNonInvertible, a.op)
	}
	return inv.InverseTransform(x, !adjoint)
}
