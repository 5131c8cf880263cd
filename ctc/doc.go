// Package ctc implements Connectionist Temporal Classification: the
// alignment-free negative log-likelihood loss with its gradient, and greedy
// (best path) decoding.
//
// Scores are unnormalized logits; a log-softmax over the class axis is
// applied internally. The blank class is passed explicitly and is usually
// the last class of the vocabulary.
//
// See Graves et al., "Connectionist Temporal Classification: Labelling
// Unsegmented Sequence Data with Recurrent Neural Networks" (ICML 2006).
package ctc
