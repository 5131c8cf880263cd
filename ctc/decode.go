package ctc

import (
	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/crnn/core/tensor"
)

// Decoded is the output of GreedyDecode.
type Decoded struct {
	// Sequences[b] is the collapsed label of sample b, without padding.
	Sequences [][]int

	// NegSumLogits[b] is minus the sum over timesteps of the maximum
	// score, the confidence measure reported by best-path decoders.
	NegSumLogits []float64

	blank int
}

// Labels returns the decoded sequences in ragged form.
func (d *Decoded) Labels() *tensor.Labels {
	return tensor.LabelsFromSequences(d.Sequences)
}

// Padded returns the sequences right-padded with the blank index to the
// longest decoded length. When every sequence is empty the result still
// has one (empty) row per sample.
func (d *Decoded) Padded() [][]int {
	rows := tensor.DenseRows(d.Labels().Dense(d.blank))
	if rows == nil {
		rows = make([][]int, len(d.Sequences))
		for i := range rows {
			rows[i] = []int{}
		}
	}
	return rows
}

// GreedyDecode performs best-path decoding on batch-major logits: per
// timestep argmax, then Collapse. Every sample uses all logits.Time steps.
func GreedyDecode(logits *tensor.Logits, blank int) *Decoded {
	d := &Decoded{
		Sequences:    make([][]int, logits.Batch),
		NegSumLogits: make([]float64, logits.Batch),
		blank:        blank,
	}
	for b, m := range logits.Data {
		path := make([]int, logits.Time)
		var score float64
		for t := 0; t < logits.Time; t++ {
			row := m.RawRowView(t)
			path[t] = floats.MaxIdx(row)
			score += row[path[t]]
		}
		d.Sequences[b] = Collapse(path, blank)
		d.NegSumLogits[b] = -score
	}
	return d
}

// BestPath returns the per-timestep argmax classes of every sample.
func BestPath(logits *tensor.Logits) [][]int {
	paths := make([][]int, logits.Batch)
	for b, m := range logits.Data {
		paths[b] = make([]int, logits.Time)
		for t := range paths[b] {
			paths[b][t] = floats.MaxIdx(m.RawRowView(t))
		}
	}
	return paths
}

// Collapse applies the merge-repeated rule to a class path: a class equal
// to the one at the previous timestep is dropped, then blanks are removed.
// A symbol repeated in the output therefore needs a blank (or another
// class) between its occurrences in the path: [a a - a] -> [a a].
func Collapse(path []int, blank int) []int {
	out := make([]int, 0, len(path))
	prev := -1
	for _, k := range path {
		if k != blank && k != prev {
			out = append(out, k)
		}
		prev = k
	}
	return out
}
