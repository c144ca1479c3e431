package linop

import (
	"fmt"
	"math"
	"math/cmplx"
)

// NUFFT evaluates the Fourier transform of a structured array at a set of
// nonuniform frequency locations (type 2). The adjoint accumulates samples
// back onto the regular grid (type 1); it reverses the forward operation
// but is not its inverse.
//
// The transform is evaluated exactly by direct summation, with the same
// centered convention as Fourier: a trajectory point lying on the integer
// grid reproduces the corresponding centered DFT coefficient.
type NUFFT struct {
	domain     Shape
	rangeShape Shape
	batch      Shape
	points     *RealArray
	rank       int
	numPoints  int
	norm       Norm
	scale      float64
}

// NewNUFFT constructs a nonuniform Fourier operator. points holds one
// frequency coordinate tuple per sample, shaped [batch..., M, rank], with
// each coordinate in radians spanning one period [-pi, pi). The transform
// rank is the size of the trailing points dimension. Leading domain axes
// beyond the grid participate in the transform's own batching; leading
// points dimensions not consumed by that batching become the operator's
// batch shape.
func NewNUFFT(domain Shape, points *RealArray, norm Norm) (*NUFFT, error) {
	if !domain.IsFullyDefined() || domain.Rank() == 0 {
		return nil, fmt.Errorf("%w: domain shape %v must be fully defined", ErrShape, domain)
	}
	if points == nil || points.Shape.Rank() < 2 {
		return nil, fmt.Errorf("%w: points must be shaped [..., samples, rank]", ErrShape)
	}
	if !norm.valid() {
		return nil, fmt.Errorf("%w: %d", ErrNorm, norm)
	}
	rank := points.Shape[points.Shape.Rank()-1]
	if rank < 1 || rank > 3 || rank > domain.Rank() {
		return nil, fmt.Errorf("%w: transform rank %d for domain %v", ErrShape, rank, domain)
	}
	numPoints := points.Shape[points.Shape.Rank()-2]

	// The inner (transform-level) batch is the non-grid part of the domain.
	innerBatch := Shape(domain[:domain.Rank()-rank])
	pointsBatch := Shape(points.Shape[:points.Shape.Rank()-2])

	var opBatch, innerPart Shape
	if k := pointsBatch.Rank() - innerBatch.Rank(); k > 0 {
		opBatch = Shape(pointsBatch[:k]).Clone()
		innerPart = Shape(pointsBatch[k:])
	} else {
		opBatch = Shape{}
		innerPart = pointsBatch
	}
	// The inner part of the points batch must broadcast with the inner batch
	// without expanding it.
	for i := 1; i <= innerPart.Rank(); i++ {
		d, b := innerPart[innerPart.Rank()-i], innerBatch[innerBatch.Rank()-i]
		if d != 1 && d != b {
			return nil, fmt.Errorf(
				"%w: points batch %v does not broadcast with the batch part %v of domain %v",
				ErrShape, pointsBatch, innerBatch, domain)
		}
	}

	op := &NUFFT{
		domain:     domain.Clone(),
		rangeShape: innerBatch.Clone().Concat(Shape{numPoints}),
		batch:      opBatch,
		points:     points,
		rank:       rank,
		numPoints:  numPoints,
		norm:       norm,
		scale:      1,
	}
	if norm == NormOrtho {
		op.scale = 1 / math.Sqrt(float64(op.GridShape().Size()))
	}
	return op, nil
}

func (op *NUFFT) DomainShape() Shape { return op.domain }
func (op *NUFFT) RangeShape() Shape  { return op.rangeShape }
func (op *NUFFT) BatchShape() Shape  { return op.batch }

func (op *NUFFT) IsSelfAdjoint() bool      { return false }
func (op *NUFFT) IsPositiveDefinite() bool { return false }
func (op *NUFFT) IsSquare() bool           { return op.domain.Size() == op.rangeShape.Size() }

// Rank returns the spatial dimensionality of the transform.
func (op *NUFFT) Rank() int { return op.rank }

// Points returns the sampling trajectory.
func (op *NUFFT) Points() *RealArray { return op.points }

// GridShape returns the trailing grid part of the domain.
func (op *NUFFT) GridShape() Shape { return Shape(op.domain[op.domain.Rank()-op.rank:]) }

// Norm returns the normalization mode.
func (op *NUFFT) Norm() Norm { return op.norm }

func (op *NUFFT) Transform(x *Array, adjoint bool) (*Array, error) {
	in, out := op.domain, op.rangeShape
	if adjoint {
		in, out = out, in
	}
	if err := checkTrailing(x, in); err != nil {
		return nil, err
	}

	grid := op.GridShape()
	gridSize := grid.Size()

	// Leading shape of the output: everything before the transformed block,
	// broadcast against the leading dimensions of the trajectory.
	xLead := Shape(x.Shape[:x.Rank()-op.trailingRank(adjoint)])
	pLead := Shape(op.points.Shape[:op.points.Shape.Rank()-2])
	lead, err := BroadcastShapes(xLead, pLead)
	if err != nil {
		return nil, fmt.Errorf("%w: input %v does not broadcast with points %v",
			ErrShape, x.Shape, op.points.Shape)
	}

	blockIn, blockOut := gridSize, op.numPoints
	if adjoint {
		blockIn, blockOut = op.numPoints, gridSize
	}
	outShape := lead.Clone()
	if adjoint {
		outShape = outShape.Concat(grid)
	} else {
		outShape = outShape.Concat(Shape{op.numPoints})
	}
	y := NewArray(outShape)

	xStrides := broadcastStrides(lead, xLead)
	pStrides := broadcastStrides(lead, pLead)
	pInner := op.numPoints * op.rank // block size of one trajectory

	dims := make([]int, op.rank)
	copy(dims, grid)

	idx := make([]int, lead.Rank())
	nLead := lead.Size()
	xOff, pOff := 0, 0
	for b := 0; b < nLead; b++ {
		src := x.Elems[xOff*blockIn : xOff*blockIn+blockIn]
		dst := y.Elems[b*blockOut : (b+1)*blockOut]
		pts := op.points.Elems[pOff*pInner : pOff*pInner+pInner]
		if adjoint {
			nudftType1(dst, src, pts, dims, op.scale)
		} else {
			nudftType2(dst, src, pts, dims, op.scale)
		}
		for d := lead.Rank() - 1; d >= 0; d-- {
			idx[d]++
			xOff += xStrides[d]
			pOff += pStrides[d]
			if idx[d] < lead[d] {
				break
			}
			idx[d] = 0
			xOff -= xStrides[d] * lead[d]
			pOff -= pStrides[d] * lead[d]
		}
	}
	return y, nil
}

// trailingRank is the number of trailing structured dimensions consumed
// from the input in each direction.
func (op *NUFFT) trailingRank(adjoint bool) int {
	if adjoint {
		return 1 // [samples]
	}
	return op.rank // grid
}

// nudftType2 evaluates the centered Fourier transform of a grid block at
// each trajectory point: dst[m] = sum_n src[n] exp(-i k_m . (n - c)).
func nudftType2(dst, src []complex128, pts []float64, dims []int, scale float64) {
	rank := len(dims)
	n := make([]int, rank)
	for m := range dst {
		k := pts[m*rank : m*rank+rank]
		var acc complex128
		for i := range n {
			n[i] = 0
		}
		for j := range src {
			var phase float64
			for d := 0; d < rank; d++ {
				phase += k[d] * float64(n[d]-dims[d]/2)
			}
			acc += src[j] * cmplx.Exp(complex(0, -phase))
			for d := rank - 1; d >= 0; d-- {
				n[d]++
				if n[d] < dims[d] {
					break
				}
				n[d] = 0
			}
		}
		dst[m] = acc * complex(scale, 0)
	}
}

// nudftType1 accumulates samples back onto the grid:
// dst[n] = sum_m src[m] exp(+i k_m . (n - c)).
func nudftType1(dst, src []complex128, pts []float64, dims []int, scale float64) {
	rank := len(dims)
	for j := range dst {
		dst[j] = 0
	}
	n := make([]int, rank)
	for m := range src {
		k := pts[m*rank : m*rank+rank]
		for i := range n {
			n[i] = 0
		}
		for j := range dst {
			var phase float64
			for d := 0; d < rank; d++ {
				phase += k[d] * float64(n[d]-dims[d]/2)
			}
			dst[j] += src[m] * cmplx.Exp(complex(0, phase))
			for d := rank - 1; d >= 0; d-- {
				n[d]++
				if n[d] < dims[d] {
					break
				}
				n[d] = 0
			}
		}
	}
	if scale != 1 {
		for j := range dst {
			dst[j] *= complex(scale, 0)
		}
	}
}
