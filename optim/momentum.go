package optim

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Momentum is SGD with classical momentum:
//
//	v = Momentum*v + g
//	w = w - LearningRate*v
//
// Momentum 0 is plain SGD.
type Momentum struct {
	LearningRate float64
	Momentum     float64
	ClipNorm     float64

	velocity  map[*model.Param]*mat.Dense
	iteration int
}

// NewMomentum creates a momentum optimizer.
func NewMomentum(learningRate, momentum float64) (*Momentum, error) {
	if learningRate <= 0 {
		return nil, errors.NewValidationError("learning_rate", "must be positive", learningRate)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, errors.NewValidationError("momentum", "must be in [0, 1)", momentum)
	}
	return &Momentum{LearningRate: learningRate, Momentum: momentum}, nil
}

// Apply performs one update of params.
func (o *Momentum) Apply(params []*model.Param) error {
	if err := checkGrads("momentum_update", params, o.iteration+1); err != nil {
		return err
	}
	clipGrads(params, o.ClipNorm)
	if o.velocity == nil {
		o.velocity = make(map[*model.Param]*mat.Dense)
	}
	o.iteration++

	for _, p := range params {
		v := slot(o.velocity, p).RawMatrix().Data
		floats.Scale(o.Momentum, v)
		floats.Add(v, p.Grad.RawMatrix().Data)
		floats.AddScaled(p.Value.RawMatrix().Data, -o.LearningRate, v)
	}
	return nil
}
