package linop

import (
	"errors"
	"testing"
)

func TestDifference_forward(t *testing.T) {
	op, err := NewDifference(Shape{4}, 0)
	if err != nil {
		t.Fatal(err)
	}
	testShapesEq(t, Shape{4}, op.DomainShape())
	testShapesEq(t, Shape{3}, op.RangeShape())

	x, _ := NewArrayElems([]complex128{1, 4, 9, 16}, Shape{4})
	y, err := op.Transform(x, false)
	if err != nil {
		t.Fatal(err)
	}
	testElemsClose(t, []complex128{3, 5, 7}, y, 0)
}

func TestDifference_adjoint(t *testing.T) {
	op, _ := NewDifference(Shape{4}, 0)
	y, _ := NewArrayElems([]complex128{1, 2, 3}, Shape{3})
	x, err := op.Transform(y, true)
	if err != nil {
		t.Fatal(err)
	}
	// Transpose of the forward difference matrix.
	testElemsClose(t, []complex128{-1, -1, -1, 3}, x, 0)
}

func TestDifference_negativeAxis(t *testing.T) {
	op, err := NewDifference(Shape{3, 5}, -1)
	if err != nil {
		t.Fatal(err)
	}
	if op.Axis() != 1 {
		t.Fatalf("axis: want 1, got %d", op.Axis())
	}
	testShapesEq(t, Shape{3, 4}, op.RangeShape())
}

func TestDifference_innerAxis(t *testing.T) {
	op, err := NewDifference(Shape{3, 2}, 0)
	if err != nil {
		t.Fatal(err)
	}
	x, _ := NewArrayElems([]complex128{1, 2, 10, 20, 100, 200}, Shape{3, 2})
	y, err := op.Transform(x, false)
	if err != nil {
		t.Fatal(err)
	}
	testShapesEq(t, Shape{2, 2}, y.Shape)
	testElemsClose(t, []complex128{9, 18, 90, 180}, y, 0)
}

func TestDifference_adjointIdentity(t *testing.T) {
	for _, axis := range []int{0, 1, -1} {
		op, err := NewDifference(Shape{4, 5}, axis)
		if err != nil {
			t.Fatal(err)
		}
		testAdjointIdentity(t, op)
	}
}

func TestDifference_shortAxis(t *testing.T) {
	if _, err := NewDifference(Shape{1, 4}, 0); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}
