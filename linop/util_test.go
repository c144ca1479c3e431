package linop

import (
	"math/cmplx"
	"math/rand"
	"testing"
)

const eps = 1e-9

func randArray(shape Shape) *Array {
	x := NewArray(shape)
	for i := range x.Elems {
		x.Elems[i] = complex(rand.NormFloat64(), rand.NormFloat64())
	}
	return x
}

func randRealArray(shape Shape) *RealArray {
	elems := make([]float64, shape.Size())
	for i := range elems {
		elems[i] = rand.NormFloat64()
	}
	a, _ := NewRealArray(elems, shape)
	return a
}

// dotConj computes the conjugate-symmetric inner product over all elements.
func dotConj(x, y *Array) complex128 {
	var sum complex128
	for i := range x.Elems {
		sum += cmplx.Conj(x.Elems[i]) * y.Elems[i]
	}
	return sum
}

func testShapesEq(t *testing.T, want, got Shape) {
	t.Helper()
	if !want.Equal(got) {
		t.Fatalf("shapes differ: want %v, got %v", want, got)
	}
}

func testArraysClose(t *testing.T, want, got *Array, tol float64) {
	t.Helper()
	testShapesEq(t, want.Shape, got.Shape)
	for i := range want.Elems {
		if cmplx.Abs(want.Elems[i]-got.Elems[i]) > tol {
			t.Fatalf("element %d differs: want %v, got %v", i, want.Elems[i], got.Elems[i])
		}
	}
}

func testElemsClose(t *testing.T, want []complex128, got *Array, tol float64) {
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

// testAdjointIdentity checks <Ax, y> == <x, A^H y> for random x, y.
func testAdjointIdentity(t *testing.T, op Operator) {
	t.Helper()
	x := randArray(op.BatchShape().Concat(op.DomainShape()))
	y := randArray(op.BatchShape().Concat(op.RangeShape()))
	ax, err := op.Transform(x, false)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	ay, err := op.Transform(y, true)
	if err != nil {
		t.Fatalf("adjoint: %v", err)
	}
	lhs := dotConj(ax, y)
	rhs := dotConj(x, ay)
	if cmplx.Abs(lhs-rhs) > eps*(1+cmplx.Abs(lhs)) {
		t.Fatalf("adjoint identity violated: <Ax,y>=%v, <x,A^H y>=%v", lhs, rhs)
	}
}
