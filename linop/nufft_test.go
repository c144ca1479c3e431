package linop

import (
	"errors"
	"math"
	"testing"
)

// gridPoints builds the trajectory whose samples coincide with the centered
// DFT frequencies of an n0 x n1 grid, in row-major frequency order.
func gridPoints2D(n0, n1 int) *RealArray {
	elems := make([]float64, 0, n0*n1*2)
	for j0 := 0; j0 < n0; j0++ {
		for j1 := 0; j1 < n1; j1++ {
			elems = append(elems,
				2*math.Pi*float64(j0-n0/2)/float64(n0),
				2*math.Pi*float64(j1-n1/2)/float64(n1))
		}
	}
	pts, _ := NewRealArray(elems, Shape{n0 * n1, 2})
	return pts
}

func TestNUFFT_onGridMatchesFFT(t *testing.T) {
	for _, dims := range [][2]int{{2, 2}, {3, 3}, {2, 3}, {4, 3}} {
		n0, n1 := dims[0], dims[1]
		domain := Shape{n0, n1}
		nufft, err := NewNUFFT(domain, gridPoints2D(n0, n1), NormNone)
		if err != nil {
			t.Fatal(err)
		}
		fft, _ := NewFourier(domain, 2, nil, NormNone)

		x := randArray(domain)
		want, err := fft.Transform(x, false)
		if err != nil {
			t.Fatal(err)
		}
		got, err := nufft.Transform(x, false)
		if err != nil {
			t.Fatal(err)
		}
		testShapesEq(t, Shape{n0 * n1}, got.Shape)
		flat := FlattenTrailing(want, 2)
		testArraysClose(t, flat, got, 1e-8)
	}
}

func TestNUFFT_onGrid2x2Vector(t *testing.T) {
	nufft, err := NewNUFFT(Shape{2, 2}, gridPoints2D(2, 2), NormNone)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := NewArrayElems([]complex128{1, 2, 4, 4}, Shape{2, 2})
	y, err := nufft.Transform(x, false)
	if err != nil {
		t.Fatal(err)
	}
	testElemsClose(t, []complex128{-1, 5, 1, 11}, y, 1e-9)
}

func TestNUFFT_orthoRoundTripOnGrid(t *testing.T) {
	nufft, err := NewNUFFT(Shape{2, 2}, gridPoints2D(2, 2), NormOrtho)
	if err != nil {
		t.Fatal(err)
	}
	x := randArray(Shape{2, 2})
	y, err := nufft.Transform(x, false)
	if err != nil {
		t.Fatal(err)
	}
	back, err := nufft.Transform(y, true)
	if err != nil {
		t.Fatal(err)
	}
	testArraysClose(t, x, back, 1e-9)
}

func TestNUFFT_adjointIdentity(t *testing.T) {
	elems := make([]float64, 10)
	for i := range elems {
		elems[i] = -math.Pi + 2*math.Pi*float64(i)/10
	}
	pts, _ := NewRealArray(elems, Shape{5, 2})
	op, err := NewNUFFT(Shape{3, 4}, pts, NormOrtho)
	if err != nil {
		t.Fatal(err)
	}
	testAdjointIdentity(t, op)
}

func TestNUFFT_batchSplit(t *testing.T) {
	// Points [5, 3, M, 2] over domain [3, n0, n1]: the trailing point batch
	// joins the transform batch, the leftover lead becomes operator batch.
	elems := make([]float64, 5*3*4*2)
	for i := range elems {
		elems[i] = -math.Pi / 2
	}
	pts, _ := NewRealArray(elems, Shape{5, 3, 4, 2})
	op, err := NewNUFFT(Shape{3, 2, 2}, pts, NormNone)
	if err != nil {
		t.Fatal(err)
	}
	testShapesEq(t, Shape{3, 2, 2}, op.DomainShape())
	testShapesEq(t, Shape{3, 4}, op.RangeShape())
	testShapesEq(t, Shape{5}, op.BatchShape())

	x := randArray(Shape{3, 2, 2})
	y, err := op.Transform(x, false)
	if err != nil {
		t.Fatal(err)
	}
	testShapesEq(t, Shape{5, 3, 4}, y.Shape)
	testAdjointIdentity(t, op)
}

func TestNUFFT_rankFromTrailingDim(t *testing.T) {
	pts, _ := NewRealArray(make([]float64, 6*3), Shape{6, 3})
	op, err := NewNUFFT(Shape{2, 2, 2}, pts, NormNone)
	if err != nil {
		t.Fatal(err)
	}
	if op.Rank() != 3 {
		t.Fatalf("rank: want 3, got %d", op.Rank())
	}
	testShapesEq(t, Shape{2, 2, 2}, op.GridShape())
}

func TestNUFFT_badPoints(t *testing.T) {
	pts, _ := NewRealArray(make([]float64, 4*4), Shape{4, 4})
	if _, err := NewNUFFT(Shape{2, 2}, pts, NormNone); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}
