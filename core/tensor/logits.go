package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Logits holds per-timestep class scores in batch-major layout.
type Logits struct {
	Batch   int
	Time    int
	Classes int
	// Data[b] is a Time×Classes matrix.
	Data []*mat.Dense
}

// NewLogits allocates zeroed logits.
func NewLogits(batch, time, classes int) *Logits {
	data := make([]*mat.Dense, batch)
	for b := range data {
		data[b] = mat.NewDense(time, classes, nil)
	}
	return &Logits{Batch: batch, Time: time, Classes: classes, Data: data}
}

// LogitsFromMatrices wraps per-sample matrices, which must share a shape.
func LogitsFromMatrices(data []*mat.Dense) (*Logits, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "logits")
	}
	t, c := data[0].Dims()
	for _, m := range data[1:] {
		r, k := m.Dims()
		if r != t {
			return nil, errors.NewDimensionError("LogitsFromMatrices", t, r, 1)
		}
		if k != c {
			return nil, errors.NewDimensionError("LogitsFromMatrices", c, k, 2)
		}
	}
	return &Logits{Batch: len(data), Time: t, Classes: c, Data: data}, nil
}

// At returns the score of class k at timestep t for sample b.
func (l *Logits) At(b, t, k int) float64 {
	return l.Data[b].At(t, k)
}

// TimeMajor reorders the logits to (time, batch, classes).
func (l *Logits) TimeMajor() *TimeMajor {
	steps := make([]*mat.Dense, l.Time)
	for t := range steps {
		steps[t] = mat.NewDense(l.Batch, l.Classes, nil)
	}
	for b, m := range l.Data {
		for t := 0; t < l.Time; t++ {
			steps[t].SetRow(b, m.RawRowView(t))
		}
	}
	return &TimeMajor{Time: l.Time, Batch: l.Batch, Classes: l.Classes, Steps: steps}
}

// TimeMajor holds per-timestep class scores in time-major layout, the
// layout consumed by the CTC routines.
type TimeMajor struct {
	Time    int
	Batch   int
	Classes int
	// Steps[t] is a Batch×Classes matrix.
	Steps []*mat.Dense
}

// NewTimeMajor allocates zeroed time-major scores.
func NewTimeMajor(time, batch, classes int) *TimeMajor {
	steps := make([]*mat.Dense, time)
	for t := range steps {
		steps[t] = mat.NewDense(batch, classes, nil)
	}
	return &TimeMajor{Time: time, Batch: batch, Classes: classes, Steps: steps}
}

// Row returns the class scores of sample b at timestep t. The slice
// aliases the underlying matrix.
func (tm *TimeMajor) Row(t, b int) []float64 {
	return tm.Steps[t].RawRowView(b)
}

// BatchMajor reorders back to (batch, time, classes).
func (tm *TimeMajor) BatchMajor() *Logits {
	out := NewLogits(tm.Batch, tm.Time, tm.Classes)
	for t, m := range tm.Steps {
		for b := 0; b < tm.Batch; b++ {
			out.Data[b].SetRow(t, m.RawRowView(b))
		}
	}
	return out
}
