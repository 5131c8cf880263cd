package train

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/crnn/checkpoint"
	"github.com/YuminosukeSato/crnn/core/run"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/dataset"
	"github.com/YuminosukeSato/crnn/optim"
	"github.com/YuminosukeSato/crnn/pkg/errors"
	"github.com/YuminosukeSato/crnn/pkg/log"
	"github.com/YuminosukeSato/crnn/summary"
)

func newToyTrainer(t *testing.T, epochs int) (*Trainer, *dataset.SliceSource, *log.TestLogger) {
	t.Helper()
	v := toyVocab(t)
	m := toyEncoder(t, v)
	adam, err := optim.NewAdam(0.05)
	require.NoError(t, err)

	src := dataset.NewSliceSource(
		toyBatch(t, v, "ab", "ba"),
		toyBatch(t, v, "aa", "b"),
	)
	tr := NewTrainer(m, NewStep(m, adam, v.BlankIndex()), v, epochs)
	logger, _ := log.NewTestLogger(log.LevelDebug)
	tr.Logger = logger
	return tr, src, logger
}

func TestTrainWritesCheckpointsAndEvents(t *testing.T) {
	tr, src, logger := newToyTrainer(t, 7)
	r := run.Start()

	ckptDir := r.CheckpointDir(t.TempDir())
	mgr, err := checkpoint.NewManager(ckptDir, checkpoint.DefaultMaxToKeep, checkpoint.WithRun(r))
	require.NoError(t, err)
	tr.Checkpoints = mgr

	logDir := r.LogDir(t.TempDir())
	w, err := summary.NewWriter(logDir, r)
	require.NoError(t, err)
	tr.Summary = w

	report, err := tr.Train(context.Background(), src)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, 7, report.Epochs)
	assert.Equal(t, 14, report.Steps)
	assert.Len(t, report.EpochLoss, 7)
	assert.Less(t, report.EpochLoss[6], report.EpochLoss[0])
	assert.Equal(t, filepath.Join(ckptDir, "ckpt-6.gob"), report.LastCheckpoint)
	assert.Len(t, report.Retained, 5)
	assert.Equal(t, 7, logger.CountMessage("Epoch finished"))
	assert.Equal(t, 14, logger.CountMessage("Step finished"))

	latest, err := checkpoint.Latest(ckptDir)
	require.NoError(t, err)
	assert.Equal(t, report.LastCheckpoint, latest)

	for _, name := range []string{summary.EventsFile, summary.LossPlotFile, filepath.Join("images", "train_image-14.png")} {
		_, err := os.Stat(filepath.Join(logDir, name))
		assert.NoError(t, err, name)
	}
	assert.True(t, tr.State.IsReady())
}

func TestTrainStopsOnCancel(t *testing.T) {
	tr, src, _ := newToyTrainer(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := tr.Train(ctx, src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, report.Steps)
	assert.False(t, tr.State.IsReady())
}

func TestTrainEmptySource(t *testing.T) {
	tr, _, _ := newToyTrainer(t, 1)
	_, err := tr.Train(context.Background(), dataset.NewSliceSource())
	assert.True(t, errors.Is(err, errors.ErrEmptyData))
}

func TestTrainWarnsOnNonFiniteLoss(t *testing.T) {
	tr, _, _ := newToyTrainer(t, 1)
	tr.Step.AllowDegenerate = true
	batch := toyBatch(t, tr.Vocab, "ab")
	batch.Labels = tensor.LabelsFromSequences([][]int{{0, 0, 0, 0}})

	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(nil)

	report, err := tr.Train(context.Background(), dataset.NewSliceSource(batch))
	require.NoError(t, err)
	assert.True(t, math.IsInf(report.EpochLoss[0], 1))
	require.Len(t, warnings, 1)
	var w *errors.NonFiniteLossWarning
	assert.True(t, errors.As(warnings[0], &w))
}

func TestTestRequiresWeights(t *testing.T) {
	tr, src, _ := newToyTrainer(t, 1)
	_, err := tr.Test(context.Background(), src)
	var modelErr *errors.ModelError
	assert.True(t, errors.As(err, &modelErr))
}

func TestTestReportsDecodedBatches(t *testing.T) {
	tr, src, logger := newToyTrainer(t, 40)
	_, err := tr.Train(context.Background(), src)
	require.NoError(t, err)

	report, err := tr.Test(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Batches)
	assert.Equal(t, 4, report.Samples)
	assert.GreaterOrEqual(t, report.CER, 0.0)
	assert.LessOrEqual(t, report.Accuracy, 1.0)
	assert.Equal(t, 2, logger.CountMessage("Batch decoded"))
	assert.True(t, logger.ContainsMessage("Test finished"))
}

func TestTestAfterRestore(t *testing.T) {
	trained, src, _ := newToyTrainer(t, 2)
	dir := t.TempDir()
	mgr, err := checkpoint.NewManager(dir, 0)
	require.NoError(t, err)
	trained.Checkpoints = mgr
	_, err = trained.Train(context.Background(), src)
	require.NoError(t, err)

	fresh, _, _ := newToyTrainer(t, 1)
	path, snap, err := checkpoint.RestoreLatest(fresh.Model, dir)
	require.NoError(t, err)
	fresh.State.MarkRestored(path, snap.Step)

	want, err := trained.Predict(src.Batches[0])
	require.NoError(t, err)
	got, err := fresh.Predict(src.Batches[0])
	require.NoError(t, err)
	assert.Equal(t, want.Sequences, got.Sequences)

	_, err = fresh.Test(context.Background(), src)
	assert.NoError(t, err)
}
