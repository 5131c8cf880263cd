// Package encoder provides ColumnEncoder, a small reference implementation
// of model.SequenceModel.
//
// The image is cut into vertical strips of ColumnWidth pixels; each strip
// becomes one timestep. A timestep sees its own strip plus Context strips
// on either side (zero padded at the borders) and passes them through one
// ReLU hidden layer followed by a linear projection onto the classes.
package encoder

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/pkg/errors"
	"github.com/YuminosukeSato/crnn/pkg/log"
)

// Config describes the shape of a ColumnEncoder.
type Config struct {
	Height      int
	Width       int
	ColumnWidth int
	Context     int
	Hidden      int
	Classes     int
	Seed        uint64
}

// TimeSteps returns the number of timesteps produced for the configured
// image width.
func (c Config) TimeSteps() int {
	if c.ColumnWidth <= 0 {
		return 0
	}
	return c.Width / c.ColumnWidth
}

// Features returns the width of one timestep's input vector.
func (c Config) Features() int {
	return c.Height * c.ColumnWidth * (2*c.Context + 1)
}

// Validate checks that the configuration describes a usable model.
func (c Config) Validate() error {
	switch {
	case c.Height <= 0:
		return errors.NewValidationError("height", "must be positive", c.Height)
	case c.ColumnWidth <= 0:
		return errors.NewValidationError("column_width", "must be positive", c.ColumnWidth)
	case c.Width < c.ColumnWidth:
		return errors.NewValidationError("width", "must be at least column_width", c.Width)
	case c.Context < 0:
		return errors.NewValidationError("context", "must be non-negative", c.Context)
	case c.Hidden <= 0:
		return errors.NewValidationError("hidden", "must be positive", c.Hidden)
	case c.Classes < 2:
		return errors.NewValidationError("classes", "need at least one symbol and the blank", c.Classes)
	}
	return nil
}

// ColumnEncoder is a column-wise MLP sequence model.
type ColumnEncoder struct {
	cfg Config

	w1, b1 *model.Param
	w2, b2 *model.Param

	// cache of the last training forward pass
	batch  int
	input  *mat.Dense // (B*T)×F
	preAct *mat.Dense // (B*T)×H
	hidden *mat.Dense // (B*T)×H

	logger log.Logger
}

// New creates a ColumnEncoder with Glorot-normal weights and zero biases.
func New(cfg Config) (*ColumnEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &ColumnEncoder{
		cfg:    cfg,
		w1:     model.NewParam("encoder/hidden/kernel", cfg.Features(), cfg.Hidden),
		b1:     model.NewParam("encoder/hidden/bias", 1, cfg.Hidden),
		w2:     model.NewParam("encoder/logits/kernel", cfg.Hidden, cfg.Classes),
		b2:     model.NewParam("encoder/logits/bias", 1, cfg.Classes),
		logger: log.GetLoggerWithName("encoder"),
	}
	src := rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)
	glorot(e.w1.Value, src)
	glorot(e.w2.Value, src)

	e.logger.Debug("ColumnEncoder initialized",
		log.TimeStepsKey, cfg.TimeSteps(),
		log.ClassesKey, cfg.Classes,
		"params", model.CountParams(e.Params()),
	)
	return e, nil
}

func glorot(m *mat.Dense, src rand.Source) {
	fanIn, fanOut := m.Dims()
	dist := distuv.Normal{Mu: 0, Sigma: math.Sqrt(2 / float64(fanIn+fanOut)), Src: src}
	data := m.RawMatrix().Data
	for i := range data {
		data[i] = dist.Rand()
	}
}

// Name returns the model type recorded in checkpoints.
func (e *ColumnEncoder) Name() string {
	return "ColumnEncoder"
}

// Config returns the shape of the model.
func (e *ColumnEncoder) Config() Config {
	return e.cfg
}

// Params returns the trainable parameters in a stable order.
func (e *ColumnEncoder) Params() []*model.Param {
	return []*model.Param{e.w1, e.b1, e.w2, e.b2}
}

// Forward computes logits of shape (batch, TimeSteps, Classes).
func (e *ColumnEncoder) Forward(x *tensor.Images, training bool) (*tensor.Logits, error) {
	if x == nil || x.Len() == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "ColumnEncoder.Forward")
	}
	if x.Height != e.cfg.Height {
		return nil, errors.NewDimensionError("ColumnEncoder.Forward", e.cfg.Height, x.Height, 1)
	}
	if x.Width != e.cfg.Width {
		return nil, errors.NewDimensionError("ColumnEncoder.Forward", e.cfg.Width, x.Width, 2)
	}

	steps := e.cfg.TimeSteps()
	input := e.columns(x)

	preAct := mat.NewDense(x.Len()*steps, e.cfg.Hidden, nil)
	preAct.Mul(input, e.w1.Value)
	addBias(preAct, e.b1.Value.RawRowView(0))

	hidden := mat.NewDense(x.Len()*steps, e.cfg.Hidden, nil)
	hidden.Apply(func(_, _ int, v float64) float64 { return math.Max(0, v) }, preAct)

	out := mat.NewDense(x.Len()*steps, e.cfg.Classes, nil)
	out.Mul(hidden, e.w2.Value)
	addBias(out, e.b2.Value.RawRowView(0))

	logits := tensor.NewLogits(x.Len(), steps, e.cfg.Classes)
	for b := range logits.Data {
		logits.Data[b].Copy(out.Slice(b*steps, (b+1)*steps, 0, e.cfg.Classes))
	}

	if training {
		e.batch = x.Len()
		e.input, e.preAct, e.hidden = input, preAct, hidden
	} else {
		e.input, e.preAct, e.hidden = nil, nil, nil
	}
	return logits, nil
}

// Backward accumulates parameter gradients for dLoss/dLogits of the last
// training Forward call.
func (e *ColumnEncoder) Backward(grad *tensor.Logits) error {
	if e.input == nil {
		return errors.NewModelError("ColumnEncoder.Backward", "no training forward pass to differentiate", nil)
	}
	steps := e.cfg.TimeSteps()
	if grad.Batch != e.batch {
		return errors.NewDimensionError("ColumnEncoder.Backward", e.batch, grad.Batch, 0)
	}
	if grad.Time != steps {
		return errors.NewDimensionError("ColumnEncoder.Backward", steps, grad.Time, 1)
	}
	if grad.Classes != e.cfg.Classes {
		return errors.NewDimensionError("ColumnEncoder.Backward", e.cfg.Classes, grad.Classes, 2)
	}

	dOut := mat.NewDense(e.batch*steps, e.cfg.Classes, nil)
	for b, g := range grad.Data {
		dOut.Slice(b*steps, (b+1)*steps, 0, e.cfg.Classes).(*mat.Dense).Copy(g)
	}

	accumulate(e.w2.Grad, e.hidden.T(), dOut)
	addColumnSums(e.b2.Grad, dOut)

	dHidden := mat.NewDense(e.batch*steps, e.cfg.Hidden, nil)
	dHidden.Mul(dOut, e.w2.Value.T())
	dHidden.Apply(func(i, j int, v float64) float64 {
		if e.preAct.At(i, j) <= 0 {
			return 0
		}
		return v
	}, dHidden)

	accumulate(e.w1.Grad, e.input.T(), dHidden)
	addColumnSums(e.b1.Grad, dHidden)

	e.input, e.preAct, e.hidden = nil, nil, nil
	return nil
}

// columns builds the (B*T)×F input matrix. Row b*T+t holds, for each
// strip in the context window, the strip's pixels in row-major order.
func (e *ColumnEncoder) columns(x *tensor.Images) *mat.Dense {
	steps := e.cfg.TimeSteps()
	cw, ctx, h := e.cfg.ColumnWidth, e.cfg.Context, e.cfg.Height
	out := mat.NewDense(x.Len()*steps, e.cfg.Features(), nil)
	for b, img := range x.Data {
		for t := 0; t < steps; t++ {
			row := out.RawRowView(b*steps + t)
			i := 0
			for k := t - ctx; k <= t+ctx; k++ {
				for y := 0; y < h; y++ {
					for dx := 0; dx < cw; dx++ {
						if k >= 0 && k < steps {
							row[i] = img.At(y, k*cw+dx)
						}
						i++
					}
				}
			}
		}
	}
	return out
}

func addBias(m *mat.Dense, bias []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), bias)
	}
}

// accumulate adds a*b to dst.
func accumulate(dst *mat.Dense, a, b mat.Matrix) {
	r, c := dst.Dims()
	tmp := mat.NewDense(r, c, nil)
	tmp.Mul(a, b)
	dst.Add(dst, tmp)
}

func addColumnSums(dst *mat.Dense, m *mat.Dense) {
	r, _ := m.Dims()
	sums := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		floats.Add(sums, m.RawRowView(i))
	}
}
