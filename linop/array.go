package linop

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/cmplxs"
)

// Array is a structured N-dimensional complex array with row-major layout.
// Elems holds the flat data; Shape must be fully defined.
type Array struct {
	Elems []complex128
	Shape Shape
}

// NewArray returns a zero-filled array of the given shape.
func NewArray(shape Shape) *Array {
	if !shape.IsFullyDefined() {
		panic(fmt.Sprintf("linop: cannot allocate array of shape %v", shape))
	}
	return &Array{Elems: make([]complex128, shape.Size()), Shape: shape.Clone()}
}

// NewArrayElems wraps a flat slice as an array of the given shape.
func NewArrayElems(elems []complex128, shape Shape) (*Array, error) {
	if !shape.IsFullyDefined() || len(elems) != shape.Size() {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShape, len(elems), shape)
	}
	return &Array{Elems: elems, Shape: shape.Clone()}, nil
}

// Rank returns the number of dimensions.
func (a *Array) Rank() int { return len(a.Shape) }

// At returns the element at the given multi-index.
func (a *Array) At(idx ...int) complex128 { return a.Elems[a.offset(idx)] }

// Set assigns the element at the given multi-index.
func (a *Array) Set(v complex128, idx ...int) { a.Elems[a.offset(idx)] = v }

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("linop: index rank %d for shape %v", len(idx), a.Shape))
	}
	off := 0
	for i, strides := 0, a.Shape.Strides(); i < len(idx); i++ {
		off += idx[i] * strides[i]
	}
	return off
}

// Clone returns a deep copy.
func (a *Array) Clone() *Array {
	out := NewArray(a.Shape)
	copy(out.Elems, a.Elems)
	return out
}

// Reshape returns a view of the same elements with a new shape of equal size.
func (a *Array) Reshape(shape Shape) (*Array, error) {
	if !shape.IsFullyDefined() || shape.Size() != len(a.Elems) {
		return nil, fmt.Errorf("%w: reshape %v to %v", ErrShape, a.Shape, shape)
	}
	return &Array{Elems: a.Elems, Shape: shape.Clone()}, nil
}

// Scale multiplies every element by alpha in place.
func (a *Array) Scale(alpha complex128) { cmplxs.Scale(alpha, a.Elems) }

// RealArray is a structured N-dimensional real array with row-major layout.
type RealArray struct {
	Elems []float64
	Shape Shape
}

// NewRealArray wraps a flat real slice as an array of the given shape.
func NewRealArray(elems []float64, shape Shape) (*RealArray, error) {
	if !shape.IsFullyDefined() || len(elems) != shape.Size() {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShape, len(elems), shape)
	}
	return &RealArray{Elems: elems, Shape: shape.Clone()}, nil
}

// Reshape returns a view of the same elements with a new shape of equal size.
func (a *RealArray) Reshape(shape Shape) (*RealArray, error) {
	if !shape.IsFullyDefined() || shape.Size() != len(a.Elems) {
		return nil, fmt.Errorf("%w: reshape %v to %v", ErrShape, a.Shape, shape)
	}
	return &RealArray{Elems: a.Elems, Shape: shape.Clone()}, nil
}

// Complex returns the array promoted to complex with zero imaginary parts.
func (a *RealArray) Complex() *Array {
	out := NewArray(a.Shape)
	for i, v := range a.Elems {
		out.Elems[i] = complex(v, 0)
	}
	return out
}

// BoolArray is a structured N-dimensional boolean array, used for sampling
// masks.
type BoolArray struct {
	Elems []bool
	Shape Shape
}

// NewBoolArray wraps a flat boolean slice as an array of the given shape.
func NewBoolArray(elems []bool, shape Shape) (*BoolArray, error) {
	if !shape.IsFullyDefined() || len(elems) != shape.Size() {
		return nil, fmt.Errorf("%w: %d elements for shape %v", ErrShape, len(elems), shape)
	}
	return &BoolArray{Elems: elems, Shape: shape.Clone()}, nil
}

// Reshape returns a view of the same elements with a new shape of equal size.
func (a *BoolArray) Reshape(shape Shape) (*BoolArray, error) {
	if !shape.IsFullyDefined() || shape.Size() != len(a.Elems) {
		return nil, fmt.Errorf("%w: reshape %v to %v", ErrShape, a.Shape, shape)
	}
	return &BoolArray{Elems: a.Elems, Shape: shape.Clone()}, nil
}

// Complex returns the mask cast to complex, true mapping to 1 and false to 0.
func (a *BoolArray) Complex() *Array {
	out := NewArray(a.Shape)
	for i, v := range a.Elems {
		if v {
			out.Elems[i] = 1
		}
	}
	return out
}

// broadcastStrides returns strides for indexing `in` from a linear walk over
// `out`, right-aligning the shapes and using stride 0 on broadcast
// dimensions. The shapes must be broadcast compatible.
func broadcastStrides(out, in Shape) []int {
	strides := make([]int, len(out))
	inStrides := in.Strides()
	for i := 1; i <= len(in); i++ {
		if in[len(in)-i] != 1 {
			strides[len(out)-i] = inStrides[len(in)-i]
		}
	}
	return strides
}

// broadcastIter walks the broadcast of two arrays, calling f with the flat
// output index and the flat indices into each input.
func broadcastIter(out, a, b Shape, f func(i, ia, ib int)) {
	sa := broadcastStrides(out, a)
	sb := broadcastStrides(out, b)
	idx := make([]int, len(out))
	n := out.Size()
	ia, ib := 0, 0
	for i := 0; i < n; i++ {
		f(i, ia, ib)
		for d := len(out) - 1; d >= 0; d-- {
			idx[d]++
			ia += sa[d]
			ib += sb[d]
			if idx[d] < out[d] {
				break
			}
			idx[d] = 0
			ia -= sa[d] * out[d]
			ib -= sb[d] * out[d]
		}
	}
}

// Mul returns the broadcast element-wise product x*y.
func Mul(x, y *Array) (*Array, error) { return mulBroadcast(x, y, false) }

// MulConj returns the broadcast element-wise product x*conj(y).
func MulConj(x, y *Array) (*Array, error) { return mulBroadcast(x, y, true) }

// MulReal returns the broadcast element-wise product of x with a real
// array.
func MulReal(x *Array, w *RealArray) (*Array, error) { return mulRealBroadcast(x, w) }

// MulMask returns x with elements zeroed where the mask is false, with
// broadcasting.
func MulMask(x *Array, m *BoolArray) (*Array, error) { return mulMaskBroadcast(x, m) }

// mulBroadcast returns x*y with broadcasting. If conjY is set the second
// factor is conjugated.
func mulBroadcast(x, y *Array, conjY bool) (*Array, error) {
	shape, err := BroadcastShapes(x.Shape, y.Shape)
	if err != nil {
		return nil, err
	}
	out := NewArray(shape)
	broadcastIter(shape, x.Shape, y.Shape, func(i, ix, iy int) {
		v := y.Elems[iy]
		if conjY {
			v = cmplx.Conj(v)
		}
		out.Elems[i] = x.Elems[ix] * v
	})
	return out, nil
}

// BroadcastTo returns x broadcast to the given shape, copying elements.
func BroadcastTo(x *Array, shape Shape) (*Array, error) {
	b, err := BroadcastShapes(x.Shape, shape)
	if err != nil || !b.Equal(shape) {
		return nil, fmt.Errorf("%w: cannot broadcast %v to %v", ErrShape, x.Shape, shape)
	}
	out := NewArray(shape)
	broadcastIter(shape, x.Shape, shape, func(i, ix, _ int) {
		out.Elems[i] = x.Elems[ix]
	})
	return out, nil
}

// addBroadcast returns x+y with broadcasting.
func addBroadcast(x, y *Array) (*Array, error) {
	shape, err := BroadcastShapes(x.Shape, y.Shape)
	if err != nil {
		return nil, err
	}
	out := NewArray(shape)
	broadcastIter(shape, x.Shape, y.Shape, func(i, ix, iy int) {
		out.Elems[i] = x.Elems[ix] + y.Elems[iy]
	})
	return out, nil
}

// mulRealBroadcast returns x*w with broadcasting, w real.
func mulRealBroadcast(x *Array, w *RealArray) (*Array, error) {
	shape, err := BroadcastShapes(x.Shape, w.Shape)
	if err != nil {
		return nil, err
	}
	out := NewArray(shape)
	broadcastIter(shape, x.Shape, w.Shape, func(i, ix, iw int) {
		out.Elems[i] = x.Elems[ix] * complex(w.Elems[iw], 0)
	})
	return out, nil
}

// mulMaskBroadcast returns x with elements zeroed where the mask is false,
// with broadcasting.
func mulMaskBroadcast(x *Array, m *BoolArray) (*Array, error) {
	shape, err := BroadcastShapes(x.Shape, m.Shape)
	if err != nil {
		return nil, err
	}
	out := NewArray(shape)
	broadcastIter(shape, x.Shape, m.Shape, func(i, ix, im int) {
		if m.Elems[im] {
			out.Elems[i] = x.Elems[ix]
		}
	})
	return out, nil
}

// SumAxis sums out one axis of the array.
func SumAxis(x *Array, axis int) *Array {
	if axis < 0 {
		axis += x.Rank()
	}
	outShape := x.Shape[:axis].Concat(x.Shape[axis+1:])
	out := NewArray(outShape)
	inner := Shape(x.Shape[axis+1:]).Size()
	outer := Shape(x.Shape[:axis]).Size()
	n := x.Shape[axis]
	for o := 0; o < outer; o++ {
		for k := 0; k < n; k++ {
			base := (o*n + k) * inner
			cmplxs.Add(out.Elems[o*inner:(o+1)*inner], x.Elems[base:base+inner])
		}
	}
	return out
}

// expandAxis inserts a size-1 axis at the given position.
func expandAxis(x *Array, axis int) *Array {
	if axis < 0 {
		axis += x.Rank() + 1
	}
	shape := x.Shape[:axis].Concat(Shape{1}).Concat(x.Shape[axis:])
	out, err := x.Reshape(shape)
	if err != nil {
		panic(err)
	}
	return out
}

// FlattenTrailing merges the last k dimensions into one.
func FlattenTrailing(x *Array, k int) *Array {
	lead := x.Shape[:x.Rank()-k]
	flat := Shape(x.Shape[x.Rank()-k:]).Size()
	out, err := x.Reshape(lead.Concat(Shape{flat}))
	if err != nil {
		panic(err)
	}
	return out
}

// ExpandTrailing replaces the last dimension with a structured shape of the
// same total size.
func ExpandTrailing(x *Array, shape Shape) (*Array, error) {
	if x.Rank() == 0 || x.Shape[x.Rank()-1] != shape.Size() {
		return nil, fmt.Errorf("%w: cannot expand trailing dimension of %v to %v",
			ErrShape, x.Shape, shape)
	}
	return x.Reshape(x.Shape[:x.Rank()-1].Concat(shape))
}
