package ctc

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/YuminosukeSato/crnn/core/parallel"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// parallelThreshold is the batch size above which samples are evaluated
// concurrently.
const parallelThreshold = 4

// Result holds per-sample losses and dLoss_b/dLogits for every sample b.
type Result struct {
	// Losses[b] is -log p(label_b | logits_b). It is +Inf when the label
	// cannot be aligned within the sample's logit length.
	Losses []float64

	// Grad has the same layout as the input logits. Rows of infeasible
	// samples and timesteps beyond a sample's logit length are zero.
	Grad *tensor.TimeMajor
}

// Feasible reports whether sample b has a finite loss.
func (r *Result) Feasible(b int) bool {
	return !math.IsInf(r.Losses[b], 1)
}

// Mean returns the arithmetic mean of the per-sample losses.
func (r *Result) Mean() float64 {
	if len(r.Losses) == 0 {
		return 0
	}
	return floats.Sum(r.Losses) / float64(len(r.Losses))
}

// Loss computes the CTC loss of every sample in a time-major batch.
//
// Label lengths are taken from the ragged label structure. logitLengths
// gives the number of valid timesteps per sample; nil means every sample
// uses all logits.Time steps.
func Loss(logits *tensor.TimeMajor, labels *tensor.Labels, logitLengths []int, blank int) (*Result, error) {
	if err := validate(logits, labels, logitLengths, blank); err != nil {
		return nil, err
	}

	res := &Result{
		Losses: make([]float64, logits.Batch),
		Grad:   tensor.NewTimeMajor(logits.Time, logits.Batch, logits.Classes),
	}
	parallel.ParallelizeWithThreshold(logits.Batch, parallelThreshold, func(start, end int) {
		for b := start; b < end; b++ {
			length := logits.Time
			if logitLengths != nil {
				length = logitLengths[b]
			}
			res.Losses[b] = sampleLoss(logits, res.Grad, b, length, labels.Label(b), blank)
		}
	})
	return res, nil
}

// MinFrames returns the minimum number of timesteps needed to emit label:
// one per symbol plus one blank between each pair of equal neighbours.
func MinFrames(label []int) int {
	n := len(label)
	for i := 1; i < len(label); i++ {
		if label[i] == label[i-1] {
			n++
		}
	}
	return n
}

func validate(logits *tensor.TimeMajor, labels *tensor.Labels, logitLengths []int, blank int) error {
	if labels.Len() != logits.Batch {
		return errors.NewDimensionError("ctc.Loss", logits.Batch, labels.Len(), 0)
	}
	if blank < 0 || blank >= logits.Classes {
		return errors.NewValidationError("blank", "out of class range", blank)
	}
	if logitLengths != nil {
		if len(logitLengths) != logits.Batch {
			return errors.NewDimensionError("ctc.Loss", logits.Batch, len(logitLengths), 0)
		}
		for _, n := range logitLengths {
			if n < 0 || n > logits.Time {
				return errors.NewValidationError("logit_length", "must be within [0, time]", n)
			}
		}
	}
	for _, v := range labels.Values {
		if v < 0 || v >= logits.Classes || v == blank {
			return errors.NewValidationError("labels", "class index out of range or blank", v)
		}
	}
	return nil
}

// sampleLoss runs the forward-backward recursion for sample b and writes
// its gradient into grad. It returns the negative log likelihood.
//
// The label is extended with blanks at both ends and between symbols
// (length S = 2L+1). alpha[t][s] is the log probability of all prefixes
// ending at extended position s at time t, including frame t; beta[t][s]
// is the log probability of completing the label from s after frame t.
func sampleLoss(logits, grad *tensor.TimeMajor, b, length int, label []int, blank int) float64 {
	if length == 0 {
		if len(label) == 0 {
			return 0
		}
		return math.Inf(1)
	}

	classes := logits.Classes
	logProbs := make([][]float64, length)
	for t := range logProbs {
		logProbs[t] = logSoftmax(logits.Row(t, b))
	}

	S := 2*len(label) + 1
	ext := make([]int, S)
	for s := range ext {
		if s%2 == 0 {
			ext[s] = blank
		} else {
			ext[s] = label[s/2]
		}
	}
	// canSkip[s] is true when position s may be entered from s-2.
	canSkip := make([]bool, S)
	for s := 2; s < S; s++ {
		canSkip[s] = ext[s] != blank && ext[s] != ext[s-2]
	}

	negInf := math.Inf(-1)
	alpha := newLogTable(length, S)
	alpha[0][0] = logProbs[0][blank]
	if S > 1 {
		alpha[0][1] = logProbs[0][ext[1]]
	}
	for t := 1; t < length; t++ {
		prev, cur := alpha[t-1], alpha[t]
		for s := 0; s < S; s++ {
			sum := prev[s]
			if s > 0 {
				sum = errors.LogAddExp(sum, prev[s-1])
			}
			if canSkip[s] {
				sum = errors.LogAddExp(sum, prev[s-2])
			}
			if sum == negInf {
				continue
			}
			cur[s] = sum + logProbs[t][ext[s]]
		}
	}

	last := alpha[length-1]
	logP := last[S-1]
	if S > 1 {
		logP = errors.LogAddExp(logP, last[S-2])
	}
	if math.IsInf(logP, -1) {
		return math.Inf(1)
	}

	beta := newLogTable(length, S)
	beta[length-1][S-1] = 0
	if S > 1 {
		beta[length-1][S-2] = 0
	}
	for t := length - 2; t >= 0; t-- {
		next, cur := beta[t+1], beta[t]
		lp := logProbs[t+1]
		for s := 0; s < S; s++ {
			sum := next[s] + lp[ext[s]]
			if s+1 < S {
				sum = errors.LogAddExp(sum, next[s+1]+lp[ext[s+1]])
			}
			if s+2 < S && canSkip[s+2] {
				sum = errors.LogAddExp(sum, next[s+2]+lp[ext[s+2]])
			}
			cur[s] = sum
		}
	}

	// dLoss/dLogit[t][k] = softmax[t][k] - sum_{s: ext[s]=k} alpha*beta / p
	occupancy := make([]float64, classes)
	for t := 0; t < length; t++ {
		for k := range occupancy {
			occupancy[k] = negInf
		}
		for s := 0; s < S; s++ {
			occupancy[ext[s]] = errors.LogAddExp(occupancy[ext[s]], alpha[t][s]+beta[t][s])
		}
		row := grad.Row(t, b)
		for k := 0; k < classes; k++ {
			row[k] = math.Exp(logProbs[t][k]) - math.Exp(occupancy[k]-logP)
		}
	}
	return -logP
}

func newLogTable(rows, cols int) [][]float64 {
	table := make([][]float64, rows)
	backing := make([]float64, rows*cols)
	for i := range backing {
		backing[i] = math.Inf(-1)
	}
	for r := range table {
		table[r] = backing[r*cols : (r+1)*cols]
	}
	return table
}

// logSoftmax returns log(softmax(x)) without modifying x.
func logSoftmax(x []float64) []float64 {
	out := make([]float64, len(x))
	norm := errors.LogSumExp(x)
	for i, v := range x {
		out[i] = v - norm
	}
	return out
}
