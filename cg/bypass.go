package cg

import (
	"errors"
	"io"

	"mrirecon/linop"
)

// ErrBypassOptions is returned when a preconditioner or initial guess is
// combined with gradient bypass; either would break the linearity argument
// the bypass relies on.
var ErrBypassOptions = errors.New("cg: gradient bypass forbids a preconditioner and an initial guess")

// BypassSolver couples a forward solve with an explicit backward solve,
// for use inside larger differentiable pipelines. Because the solve
// x = A^{-1} b is linear in b and A is self-adjoint, the gradient of any
// loss with respect to b is A^{-1} applied to the upstream gradient; the
// backward pass therefore re-runs conjugate gradient instead of
// differentiating through the iteration. The two solves share no state.
type BypassSolver struct {
	op      linop.Operator
	tol     float64
	maxIter int
	debug   io.Writer
}

// NewBypassSolver validates the options and builds the solver. A
// preconditioner or a non-zero initial guess is rejected.
func NewBypassSolver(op linop.Operator, opts Options) (*BypassSolver, error) {
	if !op.IsSelfAdjoint() || !op.IsPositiveDefinite() {
		return nil, ErrOperatorFlags
	}
	if opts.Preconditioner != nil || opts.X0 != nil {
		return nil, ErrBypassOptions
	}
	return &BypassSolver{op: op, tol: opts.Tol, maxIter: opts.MaxIter, debug: opts.Debug}, nil
}

// Solve runs the forward conjugate gradient solve. The result is
// numerically identical to Solve with the same options.
func (s *BypassSolver) Solve(rhs *linop.Array) (*State, error) {
	return Solve(s.op, rhs, Options{Tol: s.tol, MaxIter: s.maxIter, Debug: s.debug})
}

// Gradient maps the upstream gradient with respect to the solution to the
// gradient with respect to the right-hand side, by an independent solve of
// the same system.
func (s *BypassSolver) Gradient(upstream *linop.Array) (*linop.Array, error) {
	state, err := Solve(s.op, upstream, Options{Tol: s.tol, MaxIter: s.maxIter, Debug: s.debug})
	if err != nil {
		return nil, err
	}
	return state.X, nil
}
