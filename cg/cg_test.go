package cg

import (
	"bytes"
	"math/cmplx"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"mrirecon/linop"
)

const eps = 1e-8

// randSPD builds a random self-adjoint positive-definite system M^T M and
// its dense gonum counterpart for direct-solve cross-checks.
func randSPD(rnd *rand.Rand, n int) (*linop.FullMatrix, *mat.Dense) {
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			m.Set(i, j, rnd.Float64()*2-1)
		}
	}
	var a mat.Dense
	a.Mul(m.T(), m)
	// Shift the spectrum away from zero to keep the condition number small.
	for i := 0; i < n; i++ {
		a.Set(i, i, a.At(i, i)+1)
	}

	elems := make([]complex128, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			elems[i*n+j] = complex(a.At(i, j), 0)
		}
	}
	arr, _ := linop.NewArrayElems(elems, linop.Shape{n, n})
	op, _ := linop.NewFullMatrix(arr, true, true)
	return op, &a
}

func randRHS(rnd *rand.Rand, n int) *linop.Array {
	elems := make([]complex128, n)
	for i := range elems {
		elems[i] = complex(rnd.Float64()*2-1, 0)
	}
	rhs, _ := linop.NewArrayElems(elems, linop.Shape{n})
	return rhs
}

func directSolve(a *mat.Dense, rhs *linop.Array) []complex128 {
	n := len(rhs.Elems)
	b := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		b.SetVec(i, real(rhs.Elems[i]))
	}
	var x mat.VecDense
	if err := x.SolveVec(a, b); err != nil {
		panic(err)
	}
	out := make([]complex128, n)
	for i := 0; i < n; i++ {
		out[i] = complex(x.AtVec(i), 0)
	}
	return out
}

func testSolutionClose(t *testing.T, want []complex128, got *linop.Array, tol float64) {
	t.Helper()
	if len(want) != len(got.Elems) {
		t.Fatalf("lengths differ: want %d, got %d", len(want), len(got.Elems))
	}
	for i := range want {
		if cmplx.Abs(want[i]-got.Elems[i]) > tol {
			t.Fatalf("element %d differs: want %v, got %v", i, want[i], got.Elems[i])
		}
	}
}

func TestSolve_matchesDirectSolve(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for _, n := range []int{1, 4, 10} {
		op, a := randSPD(rnd, n)
		rhs := randRHS(rnd, n)
		want := directSolve(a, rhs)

		state, err := Solve(op, rhs, Options{Tol: 1e-12, MaxIter: 2 * n})
		require.NoError(t, err)
		testSolutionClose(t, want, state.X, eps)
	}
}

func TestSolve_residualWithinTolerance(t *testing.T) {
	rnd := rand.New(rand.NewSource(2))
	op, _ := randSPD(rnd, 6)
	rhs := randRHS(rnd, 6)
	tol := 1e-6

	state, err := Solve(op, rhs, Options{Tol: tol, MaxIter: 50})
	require.NoError(t, err)
	var rnorm, bnorm float64
	for i := range rhs.Elems {
		rnorm += real(state.R.Elems[i])*real(state.R.Elems[i]) +
			imag(state.R.Elems[i])*imag(state.R.Elems[i])
		bnorm += real(rhs.Elems[i])*real(rhs.Elems[i]) +
			imag(rhs.Elems[i])*imag(rhs.Elems[i])
	}
	if rnorm > tol*tol*bnorm {
		t.Fatalf("residual exceeds tolerance: %g > %g", rnorm, tol*tol*bnorm)
	}
}

func TestSolve_jacobiPreconditioner(t *testing.T) {
	rnd := rand.New(rand.NewSource(3))
	op, a := randSPD(rnd, 8)
	rhs := randRHS(rnd, 8)
	want := directSolve(a, rhs)

	jac := make([]complex128, 8*8)
	for i := 0; i < 8; i++ {
		jac[i*8+i] = complex(1/a.At(i, i), 0)
	}
	jacArr, _ := linop.NewArrayElems(jac, linop.Shape{8, 8})
	pre, _ := linop.NewFullMatrix(jacArr, true, true)

	state, err := Solve(op, rhs, Options{Preconditioner: pre, Tol: 1e-12, MaxIter: 40})
	require.NoError(t, err)
	testSolutionClose(t, want, state.X, eps)
}

func TestSolve_zeroRHS(t *testing.T) {
	rnd := rand.New(rand.NewSource(4))
	op, _ := randSPD(rnd, 4)
	rhs := linop.NewArray(linop.Shape{4})

	state, err := Solve(op, rhs, Options{})
	require.NoError(t, err)
	if state.I != 0 {
		t.Fatalf("zero rhs must converge immediately, ran %d iterations", state.I)
	}
	for i, v := range state.X.Elems {
		if v != 0 {
			t.Fatalf("element %d of solution is %v, want 0", i, v)
		}
	}
}

func TestSolve_initialGuess(t *testing.T) {
	rnd := rand.New(rand.NewSource(5))
	op, a := randSPD(rnd, 5)
	rhs := randRHS(rnd, 5)
	want := directSolve(a, rhs)

	x0 := randRHS(rnd, 5)
	state, err := Solve(op, rhs, Options{X0: x0, Tol: 1e-12, MaxIter: 30})
	require.NoError(t, err)
	testSolutionClose(t, want, state.X, eps)
}

func TestSolve_batched(t *testing.T) {
	rnd := rand.New(rand.NewSource(6))
	op, a := randSPD(rnd, 4)

	rhs0 := randRHS(rnd, 4)
	rhs1 := randRHS(rnd, 4)
	elems := append(append([]complex128{}, rhs0.Elems...), rhs1.Elems...)
	rhs, _ := linop.NewArrayElems(elems, linop.Shape{2, 4})

	state, err := Solve(op, rhs, Options{Tol: 1e-12, MaxIter: 20})
	require.NoError(t, err)
	if !state.X.Shape.Equal(linop.Shape{2, 4}) {
		t.Fatalf("solution shape: got %v", state.X.Shape)
	}
	x0, _ := linop.NewArrayElems(state.X.Elems[:4], linop.Shape{4})
	x1, _ := linop.NewArrayElems(state.X.Elems[4:], linop.Shape{4})
	testSolutionClose(t, directSolve(a, rhs0), x0, eps)
	testSolutionClose(t, directSolve(a, rhs1), x1, eps)
}

func TestSolve_complexSystem(t *testing.T) {
	// A = M^H M for a complex M is self-adjoint positive definite; verify
	// the residual vanishes, which only happens if the complex conjugate
	// inner products are right.
	rnd := rand.New(rand.NewSource(7))
	n := 4
	elems := make([]complex128, n*n)
	for i := range elems {
		elems[i] = complex(rnd.Float64()*2-1, rnd.Float64()*2-1)
	}
	m, _ := linop.NewArrayElems(elems, linop.Shape{n, n})
	dense, _ := linop.NewFullMatrix(m, false, false)
	g, _ := linop.NewGram(dense, 0.1)

	rhsElems := make([]complex128, n)
	for i := range rhsElems {
		rhsElems[i] = complex(rnd.Float64(), rnd.Float64())
	}
	rhs, _ := linop.NewArrayElems(rhsElems, linop.Shape{n})

	state, err := Solve(g, rhs, Options{Tol: 1e-12, MaxIter: 40})
	require.NoError(t, err)
	gx, err := linop.MatVec(g, state.X, false)
	require.NoError(t, err)
	for i := range rhsElems {
		if cmplx.Abs(gx.Elems[i]-rhsElems[i]) > 1e-8 {
			t.Fatalf("residual element %d: %v", i, gx.Elems[i]-rhsElems[i])
		}
	}
}

func TestSolve_rejectsUnflaggedOperator(t *testing.T) {
	a, _ := linop.NewArrayElems([]complex128{1, 0, 0, 1}, linop.Shape{2, 2})
	op, _ := linop.NewFullMatrix(a, false, false)
	rhs := linop.NewArray(linop.Shape{2})
	_, err := Solve(op, rhs, Options{})
	require.ErrorIs(t, err, ErrOperatorFlags)
}

func TestSolve_rejectsBadRHSLength(t *testing.T) {
	rnd := rand.New(rand.NewSource(8))
	op, _ := randSPD(rnd, 4)
	rhs := linop.NewArray(linop.Shape{3})
	_, err := Solve(op, rhs, Options{})
	require.ErrorIs(t, err, ErrRHS)
}

func TestSolve_debugTrace(t *testing.T) {
	rnd := rand.New(rand.NewSource(9))
	op, _ := randSPD(rnd, 4)
	rhs := randRHS(rnd, 4)

	var buf bytes.Buffer
	_, err := Solve(op, rhs, Options{Debug: &buf})
	require.NoError(t, err)
	if !strings.Contains(buf.String(), "iter 1") {
		t.Fatalf("debug trace missing iteration lines: %q", buf.String())
	}
}

func TestSolve_maxIterStops(t *testing.T) {
	rnd := rand.New(rand.NewSource(10))
	op, _ := randSPD(rnd, 10)
	rhs := randRHS(rnd, 10)

	state, err := Solve(op, rhs, Options{Tol: 1e-15, MaxIter: 2})
	require.NoError(t, err)
	if state.I != 2 {
		t.Fatalf("iterations: want 2, got %d", state.I)
	}
}
