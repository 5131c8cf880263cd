package train

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/dataset"
	"github.com/YuminosukeSato/crnn/encoder"
	"github.com/YuminosukeSato/crnn/vocab"
)

const (
	toyHeight = 4
	toyWidth  = 12
)

// toyImage draws each character of text into its own horizontal slot:
// 'a' lights the top half of the slot, 'b' the bottom half.
func toyImage(text string) *mat.Dense {
	m := mat.NewDense(toyHeight, toyWidth, nil)
	slot := toyWidth / len(text)
	for i, ch := range text {
		rows := [2]int{0, toyHeight / 2}
		if ch == 'b' {
			rows = [2]int{toyHeight / 2, toyHeight}
		}
		for y := rows[0]; y < rows[1]; y++ {
			for x := i * slot; x < (i+1)*slot; x++ {
				m.Set(y, x, 1)
			}
		}
	}
	return m
}

func toyVocab(t *testing.T) *vocab.Vocabulary {
	t.Helper()
	v, err := vocab.New([]string{"a", "b", "-"})
	require.NoError(t, err)
	return v
}

func toyBatch(t *testing.T, v *vocab.Vocabulary, texts ...string) *dataset.Batch {
	t.Helper()
	images := make([]*mat.Dense, len(texts))
	seqs := make([][]int, len(texts))
	for i, text := range texts {
		images[i] = toyImage(text)
		seq, err := v.Encode(text)
		require.NoError(t, err)
		seqs[i] = seq
	}
	x, err := tensor.NewImages(images)
	require.NoError(t, err)
	return &dataset.Batch{Images: x, Labels: tensor.LabelsFromSequences(seqs), Texts: texts}
}

func toyEncoder(t *testing.T, v *vocab.Vocabulary) *encoder.ColumnEncoder {
	t.Helper()
	e, err := encoder.New(encoder.Config{
		Height:      toyHeight,
		Width:       toyWidth,
		ColumnWidth: 2,
		Context:     1,
		Hidden:      16,
		Classes:     v.NumClasses(),
		Seed:        1,
	})
	require.NoError(t, err)
	return e
}

func snapshotValues(m model.SequenceModel) [][]float64 {
	var out [][]float64
	for _, p := range m.Params() {
		out = append(out, append([]float64(nil), p.Value.RawMatrix().Data...))
	}
	return out
}

// countingOptimizer records how many updates were requested.
type countingOptimizer struct {
	calls int
}

func (c *countingOptimizer) Apply([]*model.Param) error {
	c.calls++
	return nil
}

// panicModel panics inside Forward.
type panicModel struct{}

func (panicModel) Forward(*tensor.Images, bool) (*tensor.Logits, error) { panic("boom") }

func (panicModel) Backward(*tensor.Logits) error { return nil }

func (panicModel) Params() []*model.Param { return nil }
