/*
Package cg solves linear systems with self-adjoint, positive definite
operators by the conjugate gradient method, matrix-free.

The solver works over real or complex fields (inner products are
conjugate-symmetric) and over batches of independent systems: a right-hand
side shaped [batch..., n] is solved element-wise with a relative tolerance
per batch element. Non-convergence is not an error; the returned state is
the current best estimate and callers inspect the residual to decide
whether to extend iterations.
*/
package cg

import (
	"errors"
	"fmt"
	"io"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/cmplxs"

	"mrirecon/linop"
)

var (
	// ErrOperatorFlags is returned when the operator is not flagged
	// self-adjoint and positive definite.
	ErrOperatorFlags = errors.New("cg: operator must be flagged self-adjoint and positive definite")
	// ErrRHS is returned when the right-hand side does not match the
	// operator's domain.
	ErrRHS = errors.New("cg: right-hand side does not match operator domain")
)

// State is the solver state after the final iteration.
type State struct {
	// I is the number of iterations executed.
	I int
	// X is the solution estimate, shaped [batch..., n].
	X *linop.Array
	// R is the residual rhs - A·x.
	R *linop.Array
	// P is the A-conjugate search direction.
	P *linop.Array
	// Gamma is the per-batch-element inner product of the residual with the
	// preconditioned residual; equal to the squared residual norm without a
	// preconditioner.
	Gamma []complex128
}

// Options configures a solve. The zero value selects no preconditioner, a
// zero initial guess, tolerance 1e-5 and at most 20 iterations.
type Options struct {
	// Preconditioner approximates the inverse of the operator. Must itself
	// be self-adjoint and positive definite to preserve the CG invariants.
	Preconditioner linop.Operator
	// X0 is the initial guess, shaped like the right-hand side. Defaults to
	// zero.
	X0 *linop.Array
	// Tol is the relative convergence tolerance: iteration stops once every
	// batch element satisfies ||r|| <= Tol*||r0||.
	Tol float64
	// MaxIter caps the number of iterations.
	MaxIter int
	// Debug receives one line per iteration when non-nil.
	Debug io.Writer
}

// Solve runs (preconditioned) conjugate gradient on operator·x = rhs.
// rhs is shaped [batch..., n] with n the flattened domain size; its leading
// dimensions must broadcast with the operator's batch shape. The loop is
// vectorized across the batch: it runs until the slowest element converges
// or MaxIter is reached, and converged elements keep iterating.
func Solve(op linop.Operator, rhs *linop.Array, opts Options) (*State, error) {
	if !op.IsSelfAdjoint() || !op.IsPositiveDefinite() {
		return nil, ErrOperatorFlags
	}
	tol := opts.Tol
	if tol == 0 {
		tol = 1e-5
	}
	maxIter := opts.MaxIter
	if maxIter == 0 {
		maxIter = 20
	}

	n := op.DomainShape().Size()
	if rhs.Rank() == 0 || rhs.Shape[rhs.Rank()-1] != n {
		return nil, fmt.Errorf("%w: rhs %v, domain size %d", ErrRHS, rhs.Shape, n)
	}

	// Fix the element shapes once so every iteration works on equal shapes.
	shapes := []linop.Shape{rhs.Shape[:rhs.Rank()-1], op.BatchShape()}
	if opts.Preconditioner != nil {
		shapes = append(shapes, opts.Preconditioner.BatchShape())
	}
	batch := linop.Shape{}
	for _, s := range shapes {
		var err error
		if batch, err = linop.BroadcastShapes(batch, s); err != nil {
			return nil, err
		}
	}
	full := batch.Concat(linop.Shape{n})
	nb := batch.Size()

	r, err := linop.BroadcastTo(rhs, full)
	if err != nil {
		return nil, err
	}
	var x *linop.Array
	if opts.X0 != nil {
		if x, err = linop.BroadcastTo(opts.X0, full); err != nil {
			return nil, err
		}
		ax, err := linop.MatVec(op, x, false)
		if err != nil {
			return nil, err
		}
		cmplxs.Sub(r.Elems, ax.Elems)
	} else {
		x = linop.NewArray(full)
	}

	p := r.Clone()
	if opts.Preconditioner != nil {
		if p, err = linop.MatVec(opts.Preconditioner, r, false); err != nil {
			return nil, err
		}
	}

	gamma := make([]complex128, nb)
	tols := make([]float64, nb)
	for e := 0; e < nb; e++ {
		gamma[e] = dotc(r.Elems[e*n:(e+1)*n], p.Elems[e*n:(e+1)*n])
		tols[e] = tol * norm2(r.Elems[e*n:(e+1)*n])
	}

	state := &State{I: 0, X: x, R: r, P: p, Gamma: gamma}
	for state.I < maxIter && !converged(state.R, n, tols) {
		z, err := linop.MatVec(op, state.P, false)
		if err != nil {
			return nil, err
		}
		for e := 0; e < nb; e++ {
			pe := state.P.Elems[e*n : (e+1)*n]
			ze := z.Elems[e*n : (e+1)*n]
			alpha := safeDiv(state.Gamma[e], dotc(pe, ze))
			cmplxs.AddScaled(state.X.Elems[e*n:(e+1)*n], alpha, pe)
			cmplxs.AddScaled(state.R.Elems[e*n:(e+1)*n], -alpha, ze)
		}
		q := state.R
		if opts.Preconditioner != nil {
			if q, err = linop.MatVec(opts.Preconditioner, state.R, false); err != nil {
				return nil, err
			}
		}
		for e := 0; e < nb; e++ {
			re := state.R.Elems[e*n : (e+1)*n]
			qe := q.Elems[e*n : (e+1)*n]
			pe := state.P.Elems[e*n : (e+1)*n]
			next := dotc(re, qe)
			beta := safeDiv(next, state.Gamma[e])
			for i := range pe {
				pe[i] = qe[i] + beta*pe[i]
			}
			state.Gamma[e] = next
		}
		state.I++
		if opts.Debug != nil {
			fmt.Fprintf(opts.Debug, "cg: iter %d, max residual %g\n",
				state.I, maxResidual(state.R, n))
		}
	}
	return state, nil
}

func converged(r *linop.Array, n int, tols []float64) bool {
	for e := range tols {
		if norm2(r.Elems[e*n:(e+1)*n]) > tols[e] {
			return false
		}
	}
	return true
}

func maxResidual(r *linop.Array, n int) float64 {
	var m float64
	for e := 0; e < len(r.Elems)/n; e++ {
		m = math.Max(m, norm2(r.Elems[e*n:(e+1)*n]))
	}
	return m
}

// dotc is the conjugate-symmetric inner product conj(x)·y.
func dotc(x, y []complex128) complex128 {
	var acc complex128
	for i := range x {
		acc += cmplx.Conj(x[i]) * y[i]
	}
	return acc
}

func norm2(x []complex128) float64 {
	var acc float64
	for _, v := range x {
		acc += real(v)*real(v) + imag(v)*imag(v)
	}
	return math.Sqrt(acc)
}

// safeDiv keeps exactly-converged batch elements stationary: once the
// residual (and hence the search direction) is identically zero both
// quotient terms vanish and the update must be a no-op, not NaN.
func safeDiv(a, b complex128) complex128 {
	if b == 0 {
		return 0
	}
	return a / b
}
