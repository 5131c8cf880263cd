package summary

import (
	"bufio"
	"encoding/json"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/run"
	"github.com/YuminosukeSato/crnn/core/tensor"
)

func readEvents(t *testing.T, dir string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(dir, EventsFile))
	require.NoError(t, err)
	defer f.Close()

	var events []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestScalarEvents(t *testing.T) {
	dir := t.TempDir()
	r := run.New(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	w, err := NewWriter(dir, r)
	require.NoError(t, err)

	require.NoError(t, w.Scalar(LossTag, 0, 3.5))
	require.NoError(t, w.Scalar(LossTag, 1, 2.5))
	require.NoError(t, w.Scalar(LossTag, 2, math.Inf(1)))
	require.NoError(t, w.Close())

	events := readEvents(t, dir)
	require.Len(t, events, 3)
	assert.Equal(t, "scalar", events[0]["kind"])
	assert.Equal(t, "loss", events[0]["tag"])
	assert.Equal(t, 1.0, events[1]["step"])
	assert.Equal(t, 2.5, events[1]["value"])
	assert.Equal(t, r.Name, events[0]["run"])

	_, err = os.Stat(filepath.Join(dir, LossPlotFile))
	assert.NoError(t, err)

	assert.Error(t, w.Scalar(LossTag, 3, 1))
	assert.NoError(t, w.Close())
}

func TestImageEvent(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir, run.Start())
	require.NoError(t, err)

	data := make([]*mat.Dense, 5)
	for i := range data {
		data[i] = mat.NewDense(4, 6, nil)
		data[i].Set(0, 0, 1)
	}
	images, err := tensor.NewImages(data)
	require.NoError(t, err)

	require.NoError(t, w.Image("input_image", 7, images, 0))
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, "images", "input_image-7.png"))
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 4*DefaultMaxImages, img.Bounds().Dy())

	events := readEvents(t, dir)
	require.Len(t, events, 1)
	assert.Equal(t, "image", events[0]["kind"])
	assert.Equal(t, 3.0, events[0]["count"])

	// No loss scalars, no plot.
	_, err = os.Stat(filepath.Join(dir, LossPlotFile))
	assert.True(t, os.IsNotExist(err))
}

func TestImageRejectsEmptyBatch(t *testing.T) {
	w, err := NewWriter(t.TempDir(), run.Start())
	require.NoError(t, err)
	defer w.Close()
	assert.Error(t, w.Image("x", 0, nil, 1))
}
