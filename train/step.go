// Package train drives optimization and evaluation of a sequence model
// under the CTC objective.
package train

import (
	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/ctc"
	"github.com/YuminosukeSato/crnn/optim"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Step performs one optimization step: forward, CTC loss, backward and
// exactly one optimizer update.
type Step struct {
	Model     model.SequenceModel
	Optimizer optim.Optimizer

	// Blank is the class index of the CTC blank.
	Blank int

	// AllowDegenerate lets labels that cannot fit into the model's output
	// length through: those samples contribute +Inf loss and no gradient,
	// the mean loss becomes +Inf and the remaining samples still update
	// the model. When false such a batch is rejected with a
	// *errors.LabelLengthError before any parameter changes.
	AllowDegenerate bool

	// DisableUpdates skips backward and the optimizer so that repeated
	// calls on the same batch return the same loss.
	DisableUpdates bool

	// LastLosses holds the per-sample losses of the most recent call.
	LastLosses []float64
}

// NewStep creates a step with the default settings.
func NewStep(m model.SequenceModel, opt optim.Optimizer, blank int) *Step {
	return &Step{Model: m, Optimizer: opt, Blank: blank}
}

// Run executes the step on images x with ragged labels y and returns the
// mean loss computed before the update.
func (s *Step) Run(x *tensor.Images, y *tensor.Labels) (float64, error) {
	var logits *tensor.Logits
	err := errors.SafeExecute("model.Forward", func() error {
		var ferr error
		logits, ferr = s.Model.Forward(x, !s.DisableUpdates)
		return ferr
	})
	if err != nil {
		return 0, errors.Wrap(err, "forward")
	}
	if logits.Batch != y.Len() {
		return 0, errors.NewDimensionError("train.Step", y.Len(), logits.Batch, 0)
	}
	if err := y.Validate(logits.Classes); err != nil {
		return 0, err
	}
	if s.Blank != logits.Classes-1 {
		return 0, errors.NewValidationError("blank", "must be the last class", s.Blank)
	}

	if !s.AllowDegenerate {
		for b := 0; b < y.Len(); b++ {
			if need := ctc.MinFrames(y.Label(b)); need > logits.Time {
				return 0, errors.NewLabelLengthError(b, need, logits.Time)
			}
		}
	}

	res, err := ctc.Loss(logits.TimeMajor(), y, nil, s.Blank)
	if err != nil {
		return 0, err
	}
	s.LastLosses = res.Losses
	loss := res.Mean()
	if s.DisableUpdates {
		return loss, nil
	}

	// The loss is a mean over the batch.
	scale := 1 / float64(y.Len())
	for _, m := range res.Grad.Steps {
		m.Scale(scale, m)
	}

	params := s.Model.Params()
	model.ZeroGrads(params)
	defer model.ZeroGrads(params)

	err = errors.SafeExecute("model.Backward", func() error {
		return s.Model.Backward(res.Grad.BatchMajor())
	})
	if err != nil {
		return loss, errors.Wrap(err, "backward")
	}
	if err := s.Optimizer.Apply(params); err != nil {
		return loss, errors.Wrap(err, "optimizer update")
	}
	return loss, nil
}
