// Package optim provides gradient-based parameter updates for the
// trainable matrices of a model.SequenceModel.
//
// An Optimizer reads the accumulated Grad of every parameter and updates
// Value in place. Clearing gradients is the caller's job.
package optim

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Optimizer performs one update of params per Apply call.
type Optimizer interface {
	Apply(params []*model.Param) error
}

// valueOrDefault returns v unless it is zero.
func valueOrDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// checkGrads rejects NaN/Inf gradients before any parameter is touched.
func checkGrads(op string, params []*model.Param, iteration int) error {
	for _, p := range params {
		if err := errors.CheckNumericalStability(op, p.Grad.RawMatrix().Data, iteration); err != nil {
			return errors.Wrapf(err, "gradient of %s", p.Name)
		}
	}
	return nil
}

// clipGrads rescales every gradient so that its L2 norm is at most maxNorm.
func clipGrads(params []*model.Param, maxNorm float64) {
	if maxNorm <= 0 {
		return
	}
	for _, p := range params {
		errors.ClipGradient(p.Grad.RawMatrix().Data, maxNorm)
	}
}

// slot returns the state matrix for p, allocating it on first use.
func slot(slots map[*model.Param]*mat.Dense, p *model.Param) *mat.Dense {
	s, ok := slots[p]
	if !ok {
		r, c := p.Value.Dims()
		s = mat.NewDense(r, c, nil)
		slots[p] = s
	}
	return s
}
