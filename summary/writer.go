// Package summary writes the per-run event stream consumed by dashboards:
// scalar and image events as JSON lines, image batches as PNG files and a
// rendered loss curve.
//
// Layout of a log directory:
//
//	events.jsonl          one JSON object per event
//	images/<tag>-<step>.png
//	loss.png              written by Close when loss scalars were recorded
package summary

import (
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/crnn/core/run"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

const (
	// EventsFile is the event stream inside a log directory.
	EventsFile = "events.jsonl"
	// LossPlotFile is the loss curve rendered on Close.
	LossPlotFile = "loss.png"
	// LossTag is the scalar tag plotted into LossPlotFile.
	LossTag = "loss"
	// DefaultMaxImages mirrors the three images a dashboard shows per event.
	DefaultMaxImages = 3
)

// Writer appends events to a log directory. It is safe for concurrent use.
type Writer struct {
	dir string

	mu     sync.Mutex
	file   *os.File
	events zerolog.Logger
	losses plotter.XYs
	closed bool
}

// NewWriter creates dir and opens its event stream for appending.
func NewWriter(dir string, r run.Run) (*Writer, error) {
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return nil, errors.NewConfigError("log_dir", "cannot create "+dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, EventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.NewConfigError("log_dir", "cannot open event stream in "+dir, err)
	}
	events := zerolog.New(f).With().
		Timestamp().
		Str("run", r.Name).
		Logger()
	return &Writer{dir: dir, file: f, events: events}, nil
}

// Dir returns the log directory.
func (w *Writer) Dir() string {
	return w.dir
}

// Scalar records value under tag at step.
func (w *Writer) Scalar(tag string, step int, value float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("summary: writer is closed")
	}
	w.events.Log().
		Str("kind", "scalar").
		Str("tag", tag).
		Int("step", step).
		Float64("value", value).
		Send()
	if tag == LossTag && !math.IsNaN(value) && !math.IsInf(value, 0) {
		w.losses = append(w.losses, plotter.XY{X: float64(step), Y: value})
	}
	return nil
}

// Image writes up to maxImages images of the batch, stacked vertically, to
// images/<tag>-<step>.png and records an image event pointing at it.
// maxImages <= 0 selects DefaultMaxImages.
func (w *Writer) Image(tag string, step int, images *tensor.Images, maxImages int) error {
	if images == nil || images.Len() == 0 {
		return errors.Wrap(errors.ErrEmptyData, "summary image")
	}
	if maxImages <= 0 {
		maxImages = DefaultMaxImages
	}
	n := min(maxImages, images.Len())

	tile := image.NewGray(image.Rect(0, 0, images.Width, images.Height*n))
	for i := 0; i < n; i++ {
		r := image.Rect(0, i*images.Height, images.Width, (i+1)*images.Height)
		draw.Draw(tile, r, images.Gray(i), image.Point{}, draw.Src)
	}

	rel := filepath.Join("images", fmt.Sprintf("%s-%d.png", tag, step))

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("summary: writer is closed")
	}
	f, err := os.Create(filepath.Join(w.dir, rel))
	if err != nil {
		return errors.Wrapf(err, "create %s", rel)
	}
	if err := png.Encode(f, tile); err != nil {
		f.Close()
		return errors.Wrapf(err, "encode %s", rel)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", rel)
	}

	w.events.Log().
		Str("kind", "image").
		Str("tag", tag).
		Int("step", step).
		Int("count", n).
		Str("path", rel).
		Send()
	return nil
}

// Close renders the loss curve and closes the event stream.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	var plotErr error
	if len(w.losses) > 0 {
		plotErr = renderLoss(filepath.Join(w.dir, LossPlotFile), w.losses)
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "close event stream")
	}
	return plotErr
}

func renderLoss(path string, points plotter.XYs) error {
	p := plot.New()
	p.Title.Text = "Training loss"
	p.X.Label.Text = "step"
	p.Y.Label.Text = "CTC loss"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(points)
	if err != nil {
		return errors.Wrap(err, "loss plot")
	}
	p.Add(line)

	if err := p.Save(8*vg.Inch, 4*vg.Inch, path); err != nil {
		return errors.Wrap(err, "save loss plot")
	}
	return nil
}
