package linop

import (
	"fmt"
	"math"
)

// SensitivityModulation weights an image by per-receiver complex
// sensitivity maps. The forward transform inserts a receiver axis and
// multiplies by the maps; the adjoint multiplies by their conjugate and
// sums the receiver axis out.
type SensitivityModulation struct {
	maps       *Array
	rank       int
	numCoils   int
	domain     Shape
	rangeShape Shape
	batch      Shape
}

// NewSensitivityModulation constructs the operator from maps shaped
// [batch..., receivers, *image]. rank is the spatial dimensionality of the
// image; if 0 it defaults to maps.Rank()-1, interpreting axis 0 as the
// receiver axis. If normalize is set, each receiver map is divided by the
// per-pixel root sum of squares across receivers.
func NewSensitivityModulation(maps *Array, rank int, normalize bool) (*SensitivityModulation, error) {
	if maps == nil || maps.Rank() < 2 {
		return nil, fmt.Errorf("%w: maps must be shaped [..., receivers, image...]", ErrShape)
	}
	if rank == 0 {
		rank = maps.Rank() - 1
	}
	if rank < 1 || rank >= maps.Rank() {
		return nil, fmt.Errorf("%w: spatial rank %d for maps %v", ErrShape, rank, maps.Shape)
	}
	if normalize {
		maps = normalizeMaps(maps, rank)
	}
	image := Shape(maps.Shape[maps.Rank()-rank:]).Clone()
	numCoils := maps.Shape[maps.Rank()-rank-1]
	return &SensitivityModulation{
		maps:       maps,
		rank:       rank,
		numCoils:   numCoils,
		domain:     image,
		rangeShape: Shape{numCoils}.Concat(image),
		batch:      Shape(maps.Shape[:maps.Rank()-rank-1]).Clone(),
	}, nil
}

// normalizeMaps divides each receiver map by the root sum of squares over
// receivers, so that a flat image maps to unit combined gain. Pixels where
// every receiver is zero stay zero.
func normalizeMaps(maps *Array, rank int) *Array {
	out := maps.Clone()
	pixels := Shape(maps.Shape[maps.Rank()-rank:]).Size()
	coils := maps.Shape[maps.Rank()-rank-1]
	outer := len(maps.Elems) / (pixels * coils)
	for o := 0; o < outer; o++ {
		block := out.Elems[o*coils*pixels : (o+1)*coils*pixels]
		for p := 0; p < pixels; p++ {
			var ss float64
			for c := 0; c < coils; c++ {
				v := block[c*pixels+p]
				ss += real(v)*real(v) + imag(v)*imag(v)
			}
			if ss == 0 {
				continue
			}
			r := complex(1/math.Sqrt(ss), 0)
			for c := 0; c < coils; c++ {
				block[c*pixels+p] *= r
			}
		}
	}
	return out
}

func (op *SensitivityModulation) DomainShape() Shape { return op.domain }
func (op *SensitivityModulation) RangeShape() Shape  { return op.rangeShape }
func (op *SensitivityModulation) BatchShape() Shape  { return op.batch }

func (op *SensitivityModulation) IsSelfAdjoint() bool      { return false }
func (op *SensitivityModulation) IsPositiveDefinite() bool { return false }
func (op *SensitivityModulation) IsSquare() bool           { return false }

// NumCoils returns the number of receivers.
func (op *SensitivityModulation) NumCoils() int { return op.numCoils }

// Maps returns the (possibly normalized) sensitivity maps.
func (op *SensitivityModulation) Maps() *Array { return op.maps }

func (op *SensitivityModulation) Transform(x *Array, adjoint bool) (*Array, error) {
	if adjoint {
		if err := checkTrailing(x, op.rangeShape); err != nil {
			return nil, err
		}
		y, err := mulBroadcast(x, op.maps, true)
		if err != nil {
			return nil, err
		}
		return SumAxis(y, y.Rank()-op.rank-1), nil
	}
	if err := checkTrailing(x, op.domain); err != nil {
		return nil, err
	}
	return mulBroadcast(expandAxis(x, x.Rank()-op.rank), op.maps, false)
}
