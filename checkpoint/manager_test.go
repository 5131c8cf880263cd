package checkpoint

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/core/run"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

type stubModel struct {
	params []*model.Param
}

func newStubModel(cols int, fill float64) *stubModel {
	w := model.NewParam("w", 2, cols)
	for i := range w.Value.RawMatrix().Data {
		w.Value.RawMatrix().Data[i] = fill + float64(i)
	}
	return &stubModel{params: []*model.Param{w}}
}

func (s *stubModel) Forward(x *tensor.Images, _ bool) (*tensor.Logits, error) {
	return tensor.NewLogits(x.Len(), 1, 2), nil
}

func (s *stubModel) Backward(*tensor.Logits) error { return nil }

func (s *stubModel) Params() []*model.Param { return s.params }

func listFiles(t *testing.T, dir string) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, "ckpt-*.gob"))
	require.NoError(t, err)
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = filepath.Base(m)
	}
	return names
}

func TestRetentionKeepsFiveNewest(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	m, err := NewManager(dir, DefaultMaxToKeep)
	require.NoError(t, err)

	sm := newStubModel(3, 0)
	for step := 0; step < 7; step++ {
		path, err := m.Save(sm, step)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, fmt.Sprintf("ckpt-%d.gob", step)), path)
	}

	assert.ElementsMatch(t, []string{"ckpt-2.gob", "ckpt-3.gob", "ckpt-4.gob", "ckpt-5.gob", "ckpt-6.gob"}, listFiles(t, dir))
	assert.Len(t, m.Checkpoints(), 5)
	assert.Equal(t, filepath.Join(dir, "ckpt-2.gob"), m.Checkpoints()[0])

	latest, err := Latest(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ckpt-6.gob"), latest)
}

func TestManagerResumesMetadata(t *testing.T) {
	dir := t.TempDir()
	sm := newStubModel(3, 0)

	first, err := NewManager(dir, 2)
	require.NoError(t, err)
	for step := 0; step < 2; step++ {
		_, err := first.Save(sm, step)
		require.NoError(t, err)
	}

	second, err := NewManager(dir, 2)
	require.NoError(t, err)
	_, err = second.Save(sm, 2)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"ckpt-1.gob", "ckpt-2.gob"}, listFiles(t, dir))
}

func TestSaveSameStepTwice(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 5)
	require.NoError(t, err)

	sm := newStubModel(3, 0)
	_, err = m.Save(sm, 1)
	require.NoError(t, err)
	_, err = m.Save(sm, 1)
	require.NoError(t, err)
	assert.Len(t, m.Checkpoints(), 1)
}

func TestMetadataFile(t *testing.T) {
	dir := t.TempDir()
	r := run.New(time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC))
	m, err := NewManager(dir, 5, WithRun(r), WithMetadata(map[string]string{"hidden": "128"}))
	require.NoError(t, err)

	path, err := m.Save(newStubModel(3, 0), 3)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, MetadataFile))
	require.NoError(t, err)
	var md Metadata
	require.NoError(t, json.Unmarshal(data, &md))
	assert.Equal(t, "ckpt-3.gob", md.Latest)
	assert.Equal(t, []string{"ckpt-3.gob"}, md.Retained)
	assert.Equal(t, r.ID.String(), md.RunID)
	assert.Equal(t, "2024-05-06-07-08-09", md.RunName)

	snap, err := model.LoadSnapshot(path)
	require.NoError(t, err)
	assert.Equal(t, r.ID.String(), snap.RunID)
	assert.Equal(t, "128", snap.Metadata["hidden"])
	assert.Equal(t, 3, snap.Step)
}

func TestLatestErrors(t *testing.T) {
	tests := []struct {
		name string
		dir  func(t *testing.T) string
	}{
		{"missing directory", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope") }},
		{"empty directory", func(t *testing.T) string { return t.TempDir() }},
		{"empty history", func(t *testing.T) string {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataFile), []byte(`{"latest":""}`), 0o644))
			return dir
		}},
		{"latest file deleted", func(t *testing.T) string {
			dir := t.TempDir()
			m, err := NewManager(dir, 5)
			require.NoError(t, err)
			path, err := m.Save(newStubModel(3, 0), 0)
			require.NoError(t, err)
			require.NoError(t, os.Remove(path))
			return dir
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Latest(tt.dir(t))
			var cfgErr *errors.ConfigError
			assert.True(t, errors.As(err, &cfgErr), "got %v", err)
		})
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 5)
	require.NoError(t, err)
	src := newStubModel(3, 1)
	_, err = m.Save(src, 4)
	require.NoError(t, err)

	dst := newStubModel(3, 100)
	path, snap, err := RestoreLatest(dst, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ckpt-4.gob"), path)
	assert.Equal(t, 4, snap.Step)
	assert.Equal(t, src.params[0].Value.RawMatrix().Data, dst.params[0].Value.RawMatrix().Data)
}

func TestRestoreShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, 5)
	require.NoError(t, err)
	path, err := m.Save(newStubModel(3, 0), 0)
	require.NoError(t, err)

	_, err = Restore(newStubModel(4, 0), path)
	var dimErr *errors.DimensionError
	require.True(t, errors.As(err, &dimErr), "got %v", err)
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Got)
}

func TestRestoreMissingFile(t *testing.T) {
	_, err := Restore(newStubModel(3, 0), filepath.Join(t.TempDir(), "ckpt-0.gob"))
	var cfgErr *errors.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRunsInSameSecondKeepSeparateHistories(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2026, 10, 18, 4, 55, 59, 0, time.Local)
	a, err := run.Reserve(run.New(start), root)
	require.NoError(t, err)
	b, err := run.Reserve(run.New(start), root)
	require.NoError(t, err)
	require.NotEqual(t, a.CheckpointDir(root), b.CheckpointDir(root))

	sm := newStubModel(3, 0)
	ma, err := NewManager(a.CheckpointDir(root), DefaultMaxToKeep, WithRun(a))
	require.NoError(t, err)
	for step := 0; step < 5; step++ {
		_, err := ma.Save(sm, step)
		require.NoError(t, err)
	}
	mb, err := NewManager(b.CheckpointDir(root), DefaultMaxToKeep, WithRun(b))
	require.NoError(t, err)
	for step := 100; step < 103; step++ {
		_, err := mb.Save(sm, step)
		require.NoError(t, err)
	}

	assert.ElementsMatch(t,
		[]string{"ckpt-0.gob", "ckpt-1.gob", "ckpt-2.gob", "ckpt-3.gob", "ckpt-4.gob"},
		listFiles(t, a.CheckpointDir(root)))
	assert.ElementsMatch(t,
		[]string{"ckpt-100.gob", "ckpt-101.gob", "ckpt-102.gob"},
		listFiles(t, b.CheckpointDir(root)))

	latest, err := Latest(a.CheckpointDir(root))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.CheckpointDir(root), "ckpt-4.gob"), latest)
}

func TestManagerRejectsAnotherRunsDirectory(t *testing.T) {
	dir := t.TempDir()
	start := time.Date(2026, 10, 18, 4, 55, 59, 0, time.Local)
	a, b := run.New(start), run.New(start)

	ma, err := NewManager(dir, DefaultMaxToKeep, WithRun(a))
	require.NoError(t, err)
	_, err = ma.Save(newStubModel(3, 0), 0)
	require.NoError(t, err)

	_, err = NewManager(dir, DefaultMaxToKeep, WithRun(b))
	var cfgErr *errors.ConfigError
	require.True(t, errors.As(err, &cfgErr), "got %v", err)
	assert.Contains(t, cfgErr.Reason, a.ID.String())

	// The owning run can still resume.
	resumed, err := NewManager(dir, DefaultMaxToKeep, WithRun(a))
	require.NoError(t, err)
	assert.Equal(t, ma.Checkpoints(), resumed.Checkpoints())
}

func TestSaveKeepsHistoryWhenRemovalFails(t *testing.T) {
	dir := t.TempDir()
	sm := newStubModel(3, 0)
	m, err := NewManager(dir, 5)
	require.NoError(t, err)
	for step := 0; step < 5; step++ {
		_, err := m.Save(sm, step)
		require.NoError(t, err)
	}

	// Resuming with a smaller limit forces evictions on the next save.
	shrunk, err := NewManager(dir, 2)
	require.NoError(t, err)
	before := shrunk.Checkpoints()

	// A non-empty directory in place of the oldest snapshot cannot be removed.
	oldest := filepath.Join(dir, "ckpt-0.gob")
	require.NoError(t, os.Remove(oldest))
	require.NoError(t, os.Mkdir(oldest, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(oldest, "pin"), []byte("x"), 0o644))

	_, err = shrunk.Save(sm, 1)
	require.Error(t, err)
	assert.Equal(t, before, shrunk.Checkpoints())
}
