// Package model defines the sequence-model capability consumed by the
// training step and the decoder, its trainable parameters, and the
// snapshot format used by checkpoints.
package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/tensor"
)

// SequenceModel maps a batch of images to per-timestep class scores.
//
// The number of timesteps is fixed by the model and does not depend on the
// labels. Backward must be called at most once after a Forward with
// training=true and accumulates into the Grad of every parameter.
type SequenceModel interface {
	// Forward computes logits of shape (batch, time, classes).
	Forward(x *tensor.Images, training bool) (*tensor.Logits, error)

	// Backward propagates dLoss/dLogits of the last training Forward.
	Backward(grad *tensor.Logits) error

	// Params returns the trainable parameters in a stable order.
	Params() []*Param
}

// Named is implemented by models that report a type name for logs and
// checkpoint metadata.
type Named interface {
	Name() string
}

// Param is a trainable matrix and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParam allocates a zero-valued r×c parameter.
func NewParam(name string, r, c int) *Param {
	return &Param{
		Name:  name,
		Value: mat.NewDense(r, c, nil),
		Grad:  mat.NewDense(r, c, nil),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	p.Grad.Zero()
}

// Size returns the number of scalar entries.
func (p *Param) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// ZeroGrads clears the gradients of params.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CountParams returns the total number of scalars in params.
func CountParams(params []*Param) int {
	n := 0
	for _, p := range params {
		n += p.Size()
	}
	return n
}
