package train

import (
	"context"
	"time"

	"github.com/YuminosukeSato/crnn/checkpoint"
	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/ctc"
	"github.com/YuminosukeSato/crnn/dataset"
	"github.com/YuminosukeSato/crnn/metrics"
	"github.com/YuminosukeSato/crnn/pkg/errors"
	"github.com/YuminosukeSato/crnn/pkg/log"
	"github.com/YuminosukeSato/crnn/summary"
	"github.com/YuminosukeSato/crnn/vocab"
)

// ImageTag is the tag of the per-epoch input image event.
const ImageTag = "train_image"

// Trainer runs the training and test loops.
type Trainer struct {
	Model model.SequenceModel
	Step  *Step
	Vocab *vocab.Vocabulary

	// Epochs is the number of passes over the training source.
	Epochs int

	// Checkpoints receives one snapshot per epoch; nil disables saving.
	Checkpoints *checkpoint.Manager

	// Summary receives loss scalars and image events; nil disables them.
	Summary *summary.Writer

	// State records whether Model holds usable weights.
	State *model.StateManager

	Logger log.Logger
}

// NewTrainer creates a trainer with a fresh StateManager.
func NewTrainer(m model.SequenceModel, step *Step, v *vocab.Vocabulary, epochs int) *Trainer {
	return &Trainer{
		Model:  m,
		Step:   step,
		Vocab:  v,
		Epochs: epochs,
		State:  model.NewStateManager(),
		Logger: log.GetLoggerWithName("train"),
	}
}

// TrainReport summarizes a training run.
type TrainReport struct {
	Epochs    int
	Steps     int
	EpochLoss []float64

	// LastCheckpoint is the snapshot written after the final epoch.
	LastCheckpoint string
	// Retained lists the snapshots still on disk, oldest first.
	Retained []string
}

// Train runs Epochs passes over src. Every step records a loss scalar at
// the global step; every epoch logs the mean loss, saves a checkpoint
// tagged with the epoch and records the epoch's last image batch.
//
// ctx is checked between steps. When it is cancelled Train returns the
// report so far together with ctx's error; work since the last checkpoint
// is not saved.
func (t *Trainer) Train(ctx context.Context, src dataset.Source) (*TrainReport, error) {
	if t.Epochs <= 0 {
		return nil, errors.NewValidationError("epoches", "must be positive", t.Epochs)
	}
	logger := t.logger().With(log.OperationKey, log.OperationTrain, log.PhaseKey, log.PhaseTraining)
	report := &TrainReport{}

	step := 0
	for epoch := 0; epoch < t.Epochs; epoch++ {
		var sum float64
		var n int
		var last *dataset.Batch

		it := src.Epoch()
		for it.Next() {
			if err := ctx.Err(); err != nil {
				logger.Warn("Training interrupted", log.EpochKey, epoch, log.StepKey, step)
				return report, errors.Wrap(err, "training interrupted")
			}
			batch := it.Batch()
			loss, err := t.Step.Run(batch.Images, batch.Labels)
			if err != nil {
				return report, errors.Wrapf(err, "epoch %d step %d", epoch, step)
			}
			if err := errors.CheckScalar("ctc_loss", loss, step); err != nil {
				errors.Warn(errors.NewNonFiniteLossWarning(epoch, step, loss))
			}
			if t.Summary != nil {
				if err := t.Summary.Scalar(summary.LossTag, step, loss); err != nil {
					return report, err
				}
			}
			logger.Debug("Step finished", log.StepKey, step, log.LossKey, loss, log.BatchSizeKey, batch.Len())

			sum += loss
			n++
			step++
			last = batch
		}
		if err := it.Err(); err != nil {
			return report, errors.Wrapf(err, "epoch %d", epoch)
		}
		if n == 0 {
			return report, errors.Wrapf(errors.ErrEmptyData, "epoch %d produced no batches", epoch)
		}

		mean := sum / float64(n)
		report.Epochs = epoch + 1
		report.Steps = step
		report.EpochLoss = append(report.EpochLoss, mean)
		logger.Info("Epoch finished",
			log.EpochKey, epoch,
			log.EpochsKey, t.Epochs,
			log.LossKey, mean,
		)

		if t.Checkpoints != nil {
			path, err := t.Checkpoints.Save(t.Model, epoch)
			if err != nil {
				return report, errors.Wrapf(err, "epoch %d", epoch)
			}
			report.LastCheckpoint = path
			report.Retained = t.Checkpoints.Checkpoints()
			logger.Info("Model saved", log.CheckpointPathKey, path, log.EpochKey, epoch)
		}
		if t.Summary != nil {
			if err := t.Summary.Image(ImageTag, step, last.Images, summary.DefaultMaxImages); err != nil {
				return report, err
			}
		}
		t.state().MarkTrained(epoch)
	}
	return report, nil
}

// TestReport summarizes a test pass.
type TestReport struct {
	Batches  int
	Samples  int
	CER      float64
	Accuracy float64
	Elapsed  time.Duration
}

// Test runs one pass over src in inference mode. For every batch it logs
// the wall-clock time of forward plus decode together with the ground
// truth and decoded strings; the whole pass is scored with CER and
// exact-sequence accuracy, counted in vocabulary symbols.
func (t *Trainer) Test(ctx context.Context, src dataset.Source) (*TestReport, error) {
	if err := t.state().RequireReady("Trainer.Test"); err != nil {
		return nil, err
	}
	logger := t.logger().With(log.OperationKey, log.OperationTest, log.PhaseKey, log.PhaseInference)

	var acc metrics.Accumulator
	report := &TestReport{}
	it := src.Epoch()
	for it.Next() {
		if err := ctx.Err(); err != nil {
			return report, errors.Wrap(err, "test interrupted")
		}
		batch := it.Batch()

		start := time.Now()
		decoded, err := t.Predict(batch)
		if err != nil {
			return report, errors.Wrapf(err, "batch %d", report.Batches)
		}
		elapsed := time.Since(start)

		refs := batch.Labels.Sequences()
		if err := acc.AddBatch(refs, decoded.Sequences); err != nil {
			return report, err
		}
		truth := t.Vocab.MapBatch(refs)
		predicted := t.Vocab.MapBatch(decoded.Sequences)
		logger.Info("Batch decoded",
			log.PredsBatchKey, report.Batches,
			log.DurationMsKey, float64(elapsed.Microseconds())/1000,
			log.GroundTruthKey, truth,
			log.DecodedKey, predicted,
		)
		report.Batches++
		report.Elapsed += elapsed
	}
	if err := it.Err(); err != nil {
		return report, err
	}

	report.Samples = acc.Samples
	report.CER = acc.CER()
	report.Accuracy = acc.SequenceAccuracy()
	logger.Info("Test finished",
		log.SamplesKey, report.Samples,
		log.CERKey, report.CER,
		log.AccuracyKey, report.Accuracy,
	)
	return report, nil
}

// Predict runs the model in inference mode and greedily decodes the batch.
func (t *Trainer) Predict(batch *dataset.Batch) (*ctc.Decoded, error) {
	var decoded *ctc.Decoded
	err := errors.SafeExecute("model.Forward", func() error {
		logits, err := t.Model.Forward(batch.Images, false)
		if err != nil {
			return err
		}
		decoded = ctc.GreedyDecode(logits, t.Vocab.BlankIndex())
		return nil
	})
	return decoded, err
}

func (t *Trainer) logger() log.Logger {
	if t.Logger == nil {
		t.Logger = log.GetLoggerWithName("train")
	}
	return t.Logger
}

func (t *Trainer) state() *model.StateManager {
	if t.State == nil {
		t.State = model.NewStateManager()
	}
	return t.State
}
