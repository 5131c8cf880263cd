package tensor

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Labels is a batch of variable-length label sequences in ragged form:
// the label of sample i is Values[Offsets[i]:Offsets[i+1]].
type Labels struct {
	Values  []int
	Offsets []int
}

// LabelsFromSequences packs sequences into ragged form.
func LabelsFromSequences(seqs [][]int) *Labels {
	offsets := make([]int, len(seqs)+1)
	total := 0
	for i, s := range seqs {
		total += len(s)
		offsets[i+1] = total
	}
	values := make([]int, 0, total)
	for _, s := range seqs {
		values = append(values, s...)
	}
	return &Labels{Values: values, Offsets: offsets}
}

// Len returns the number of samples.
func (l *Labels) Len() int {
	if len(l.Offsets) == 0 {
		return 0
	}
	return len(l.Offsets) - 1
}

// Label returns the label of sample i. The slice aliases Values.
func (l *Labels) Label(i int) []int {
	return l.Values[l.Offsets[i]:l.Offsets[i+1]]
}

// Length returns the length of sample i's label.
func (l *Labels) Length(i int) int {
	return l.Offsets[i+1] - l.Offsets[i]
}

// MaxLength returns the longest label length in the batch.
func (l *Labels) MaxLength() int {
	maxLen := 0
	for i := 0; i < l.Len(); i++ {
		if n := l.Length(i); n > maxLen {
			maxLen = n
		}
	}
	return maxLen
}

// Sequences unpacks the labels into independent slices.
func (l *Labels) Sequences() [][]int {
	out := make([][]int, l.Len())
	for i := range out {
		out[i] = append([]int(nil), l.Label(i)...)
	}
	return out
}

// Validate checks the offsets and that every value lies in [0, numClasses-1),
// i.e. no label uses the blank class.
func (l *Labels) Validate(numClasses int) error {
	if len(l.Offsets) == 0 || l.Offsets[0] != 0 {
		return errors.NewValidationError("labels.offsets", "must start with 0", l.Offsets)
	}
	for i := 1; i < len(l.Offsets); i++ {
		if l.Offsets[i] < l.Offsets[i-1] {
			return errors.NewValidationError("labels.offsets", "must be non-decreasing", l.Offsets)
		}
	}
	if last := l.Offsets[len(l.Offsets)-1]; last != len(l.Values) {
		return errors.NewDimensionError("Labels.Validate", len(l.Values), last, 0)
	}
	for _, v := range l.Values {
		if v < 0 || v >= numClasses-1 {
			return errors.NewValidationError("labels.values", "class index out of range or blank", v)
		}
	}
	return nil
}

// Dense returns a len×maxLength matrix with shorter rows right-padded
// with pad. The padding value is a display sentinel only.
func (l *Labels) Dense(pad int) *mat.Dense {
	rows, cols := l.Len(), l.MaxLength()
	if rows == 0 || cols == 0 {
		return &mat.Dense{}
	}
	d := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		label := l.Label(i)
		for j := 0; j < cols; j++ {
			v := pad
			if j < len(label) {
				v = label[j]
			}
			d.Set(i, j, float64(v))
		}
	}
	return d
}

// DenseRows converts a padded matrix back to integer rows, keeping the
// padding values.
func DenseRows(d *mat.Dense) [][]int {
	if d.IsEmpty() {
		return nil
	}
	r, c := d.Dims()
	out := make([][]int, r)
	for i := range out {
		out[i] = make([]int, c)
		for j := range out[i] {
			out[i][j] = int(d.At(i, j))
		}
	}
	return out
}
