package optim

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

const (
	adamDefaultBeta1   = 0.9
	adamDefaultBeta2   = 0.999
	adamDefaultEpsilon = 1e-8
)

// Adam implements the adaptive moment estimation update of
// https://arxiv.org/abs/1412.6980 with bias-corrected step size.
//
// Zero-valued Beta1, Beta2 and Epsilon fall back to the defaults from the
// paper.
type Adam struct {
	LearningRate float64
	Beta1, Beta2 float64
	Epsilon      float64

	// ClipNorm limits the per-parameter gradient norm; 0 disables clipping.
	ClipNorm float64

	first     map[*model.Param]*mat.Dense
	second    map[*model.Param]*mat.Dense
	iteration int
}

// NewAdam creates an Adam optimizer with the default moment decay rates.
func NewAdam(learningRate float64) (*Adam, error) {
	if learningRate <= 0 || math.IsNaN(learningRate) || math.IsInf(learningRate, 0) {
		return nil, errors.NewValidationError("learning_rate", "must be a positive finite number", learningRate)
	}
	return &Adam{LearningRate: learningRate}, nil
}

// Iteration returns the number of updates applied so far.
func (a *Adam) Iteration() int {
	return a.iteration
}

// Apply performs one Adam update of params using their accumulated
// gradients.
func (a *Adam) Apply(params []*model.Param) error {
	if err := checkGrads("adam_update", params, a.iteration+1); err != nil {
		return err
	}
	clipGrads(params, a.ClipNorm)

	if a.first == nil {
		a.first = make(map[*model.Param]*mat.Dense)
		a.second = make(map[*model.Param]*mat.Dense)
	}
	b1 := valueOrDefault(a.Beta1, adamDefaultBeta1)
	b2 := valueOrDefault(a.Beta2, adamDefaultBeta2)
	eps := valueOrDefault(a.Epsilon, adamDefaultEpsilon)

	a.iteration++
	t := float64(a.iteration)
	stepSize := a.LearningRate * math.Sqrt(1-math.Pow(b2, t)) / (1 - math.Pow(b1, t))

	for _, p := range params {
		m := slot(a.first, p).RawMatrix().Data
		v := slot(a.second, p).RawMatrix().Data
		g := p.Grad.RawMatrix().Data
		w := p.Value.RawMatrix().Data
		for i, gi := range g {
			m[i] = b1*m[i] + (1-b1)*gi
			v[i] = b2*v[i] + (1-b2)*gi*gi
			w[i] -= stepSize * m[i] / (math.Sqrt(v[i]) + eps)
		}
	}
	return nil
}
