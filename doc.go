// Package crnn trains and evaluates image-to-text sequence recognizers
// with the Connectionist Temporal Classification (CTC) objective.
//
// The module is organized around the training and inference control
// logic; the recognition model itself is a pluggable collaborator.
//
// # Packages
//
//   - vocab: the character table; the last symbol is the CTC blank
//   - core/tensor: logits, ragged labels and image batches on gonum matrices
//   - core/model: the SequenceModel interface, parameters and snapshots
//   - encoder: ColumnEncoder, a small reference SequenceModel
//   - ctc: CTC loss with analytic gradients, greedy decoding
//   - optim: Adam and momentum SGD
//   - train: the training step and the train/test drivers
//   - checkpoint: per-run snapshots with bounded FIFO retention
//   - summary: scalar and image events plus a rendered loss curve
//   - dataset: annotation files, image decoding and batching
//   - metrics: edit distance, character error rate, sequence accuracy
//   - config: defaults, CRNN_* environment variables and flags
//
// # Quick Start
//
// Training from Go:
//
//	v, _ := vocab.Load("table.txt")
//	enc, _ := encoder.New(encoder.Config{
//	    Height: 32, Width: 100, ColumnWidth: 4, Context: 1,
//	    Hidden: 128, Classes: v.NumClasses(),
//	})
//	adam, _ := optim.NewAdam(1e-4)
//	step := train.NewStep(enc, adam, v.BlankIndex())
//	tr := train.NewTrainer(enc, step, v, 100)
//	report, err := tr.Train(ctx, source)
//
// The crnn command wires the same pieces from flags:
//
//	crnn -mode train -annotation_path train.txt -table_path table.txt
//	crnn -mode test -annotation_path test.txt -table_path table.txt \
//	    -checkpoint_path ckpt/2024-01-02-03-04-05
//
// # Error Handling
//
// Errors carry stack traces from github.com/cockroachdb/errors. Typed
// errors in pkg/errors (ConfigError, LabelLengthError, DimensionError,
// ValidationError) can be inspected with errors.As:
//
//	if _, err := step.Run(x, y); err != nil {
//	    var lenErr *errors.LabelLengthError
//	    if errors.As(err, &lenErr) {
//	        // label of sample lenErr.Sample does not fit the model output
//	    }
//	}
package crnn
