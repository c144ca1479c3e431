package mri

import (
	"errors"
	"math"
	"math/cmplx"

	"mrirecon/cg"
	"mrirecon/linop"
)

// ErrRecon reports a reconstruction request the operator cannot serve.
var ErrRecon = errors.New("mri: reconstruction requires receiver sensitivities")

// ReconAdjoint reconstructs an image as x = A^H b, the zero-filled
// reconstruction. Missing k-space samples are treated as zero, so the
// result aliases when the acquisition is undersampled. When the operator
// carries density weights, the data is weighted once more before the
// adjoint so that the net compensation is the full reciprocal density.
func ReconAdjoint(kspace *linop.Array, op *Encoding) (*linop.Array, error) {
	var err error
	if w := op.DensityWeights(); w != nil {
		if kspace, err = linop.MulReal(kspace, w); err != nil {
			return nil, err
		}
	}
	return op.Transform(kspace, true)
}

// CGOptions configures ReconCG. The zero value selects no regularization
// and the solver defaults.
type CGOptions struct {
	// Lambda adds Tikhonov regularization to the normal equations.
	Lambda float64
	// Tol is the relative convergence tolerance.
	Tol float64
	// MaxIter caps the solver iterations.
	MaxIter int
}

// ReconCG reconstructs an image by conjugate gradient on the normal
// equations of the intensity-corrected, density-compensated encoding
// operator (CG-SENSE). The operator must be multi-receiver. Returns the
// reconstructed image together with the final solver state; callers decide
// from the residual whether more iterations are warranted.
func ReconCG(kspace *linop.Array, op *Encoding, opts CGOptions) (*linop.Array, *cg.State, error) {
	if op.NumCoils() == 0 {
		return nil, nil, ErrRecon
	}
	intensity, err := intensityCorrection(op)
	if err != nil {
		return nil, nil, err
	}

	// The system operator is right^H right with right the intensity
	// corrected encoding; solving it and correcting once more recovers
	// the solution of the original system.
	right, err := linop.Compose(op, intensity)
	if err != nil {
		return nil, nil, err
	}
	gram, err := linop.NewGram(right, opts.Lambda)
	if err != nil {
		return nil, nil, err
	}

	b := kspace
	if w := op.DensityWeights(); w != nil {
		if b, err = linop.MulReal(b, w); err != nil {
			return nil, nil, err
		}
	}
	bvec := linop.FlattenTrailing(b, op.RangeShape().Rank())
	rhs, err := linop.MatVec(right, bvec, true)
	if err != nil {
		return nil, nil, err
	}

	state, err := cg.Solve(gram, rhs, cg.Options{Tol: opts.Tol, MaxIter: opts.MaxIter})
	if err != nil {
		return nil, nil, err
	}

	xvec, err := linop.MatVec(intensity, state.X, false)
	if err != nil {
		return nil, nil, err
	}
	image, err := linop.ExpandTrailing(xvec, op.DomainShape())
	if err != nil {
		return nil, nil, err
	}
	return image, state, nil
}

// intensityCorrection builds the diagonal operator with weights
// 1/sqrt(sum_c |s_c|^2), the reciprocal root of the combined receiver
// gain. Pixels not covered by any receiver get weight zero.
func intensityCorrection(op *Encoding) (*linop.RealWeighting, error) {
	maps := op.Sensitivities()
	sq := linop.NewArray(maps.Shape.Clone())
	for i, v := range maps.Elems {
		a := cmplx.Abs(v)
		sq.Elems[i] = complex(a*a, 0)
	}
	gain := linop.SumAxis(sq, maps.Rank()-op.Rank()-1)
	elems := make([]float64, len(gain.Elems))
	for i, v := range gain.Elems {
		if g := real(v); g > 0 {
			elems[i] = 1 / math.Sqrt(g)
		}
	}
	weights, err := linop.NewRealArray(elems, gain.Shape.Clone())
	if err != nil {
		return nil, err
	}
	return linop.NewRealWeighting(weights, op.DomainShape())
}
