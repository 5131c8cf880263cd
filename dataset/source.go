// Package dataset supplies batches of images and ragged labels to the
// training and test drivers.
//
// A Source is restartable: every call to Epoch returns a fresh Iterator
// that walks the whole dataset once.
package dataset

import (
	"math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/parallel"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/pkg/errors"
	"github.com/YuminosukeSato/crnn/pkg/log"
	"github.com/YuminosukeSato/crnn/preprocessing"
	"github.com/YuminosukeSato/crnn/vocab"
)

// Batch is one mini-batch.
type Batch struct {
	Images *tensor.Images
	Labels *tensor.Labels

	// Texts and Paths are informational and may be empty.
	Texts []string
	Paths []string
}

// Len returns the number of samples in the batch.
func (b *Batch) Len() int {
	return b.Labels.Len()
}

// Source produces one Iterator per epoch.
type Source interface {
	Epoch() Iterator
}

// Iterator walks the batches of one epoch.
//
//	it := src.Epoch()
//	for it.Next() {
//	    b := it.Batch()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	Next() bool
	Batch() *Batch
	Err() error
}

// Options configures an AnnotationSource.
type Options struct {
	Height    int
	Width     int
	BatchSize int

	// Shuffle reorders samples at the start of every epoch.
	Shuffle bool
	Seed    uint64

	// Scaler normalizes every decoded image; nil means Identity.
	Scaler preprocessing.ImageScaler
}

// AnnotationSource loads images listed in an annotation file.
type AnnotationSource struct {
	samples []Sample
	labels  [][]int
	opts    Options

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAnnotationSource encodes every label with v up front so that an
// unknown character fails before training starts.
func NewAnnotationSource(samples []Sample, v *vocab.Vocabulary, opts Options) (*AnnotationSource, error) {
	if len(samples) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "annotation source")
	}
	if opts.BatchSize <= 0 {
		return nil, errors.NewValidationError("batch_size", "must be positive", opts.BatchSize)
	}
	if opts.Height <= 0 || opts.Width <= 0 {
		return nil, errors.NewValidationError("image_size", "height and width must be positive", [2]int{opts.Height, opts.Width})
	}
	if opts.Scaler == nil {
		opts.Scaler = preprocessing.Identity{}
	}

	labels := make([][]int, len(samples))
	for i, s := range samples {
		idx, err := v.Encode(s.Label)
		if err != nil {
			return nil, errors.Wrapf(err, "label of %s", s.Path)
		}
		labels[i] = idx
	}

	log.GetLoggerWithName("dataset").Info("Annotation source ready",
		log.SamplesKey, len(samples),
		log.BatchSizeKey, opts.BatchSize,
		"scaler", opts.Scaler.String(),
	)
	return &AnnotationSource{
		samples: samples,
		labels:  labels,
		opts:    opts,
		rng:     rand.New(rand.NewPCG(opts.Seed, opts.Seed+1)),
	}, nil
}

// Len returns the number of samples.
func (s *AnnotationSource) Len() int {
	return len(s.samples)
}

// Epoch starts a new pass over the samples. The final batch may be
// smaller than BatchSize.
func (s *AnnotationSource) Epoch() Iterator {
	order := make([]int, len(s.samples))
	for i := range order {
		order[i] = i
	}
	if s.opts.Shuffle {
		s.mu.Lock()
		s.rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		s.mu.Unlock()
	}
	return &annotationIterator{src: s, order: order}
}

type annotationIterator struct {
	src   *AnnotationSource
	order []int
	pos   int
	cur   *Batch
	err   error
}

func (it *annotationIterator) Next() bool {
	if it.err != nil || it.pos >= len(it.order) {
		it.cur = nil
		return false
	}
	end := min(it.pos+it.src.opts.BatchSize, len(it.order))
	it.cur, it.err = it.src.load(it.order[it.pos:end])
	it.pos = end
	return it.err == nil
}

func (it *annotationIterator) Batch() *Batch { return it.cur }

func (it *annotationIterator) Err() error { return it.err }

// load decodes the images of one batch concurrently.
func (s *AnnotationSource) load(indices []int) (*Batch, error) {
	n := len(indices)
	images := make([]*mat.Dense, n)
	errs := make([]error, n)
	parallel.ParallelizeWithThreshold(n, 8, func(start, end int) {
		for i := start; i < end; i++ {
			sample := s.samples[indices[i]]
			img, err := LoadImage(sample.Path, s.opts.Height, s.opts.Width)
			if err != nil {
				errs[i] = err
				continue
			}
			s.opts.Scaler.Scale(img)
			images[i] = img
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	seqs := make([][]int, n)
	texts := make([]string, n)
	paths := make([]string, n)
	for i, idx := range indices {
		seqs[i] = s.labels[idx]
		texts[i] = s.samples[idx].Label
		paths[i] = s.samples[idx].Path
	}
	imgs, err := tensor.NewImages(images)
	if err != nil {
		return nil, err
	}
	return &Batch{
		Images: imgs,
		Labels: tensor.LabelsFromSequences(seqs),
		Texts:  texts,
		Paths:  paths,
	}, nil
}

// SliceSource replays a fixed list of batches every epoch.
type SliceSource struct {
	Batches []*Batch
}

// NewSliceSource returns a Source over in-memory batches.
func NewSliceSource(batches ...*Batch) *SliceSource {
	return &SliceSource{Batches: batches}
}

// Epoch returns an iterator over the batches in order.
func (s *SliceSource) Epoch() Iterator {
	return &sliceIterator{batches: s.Batches, pos: -1}
}

type sliceIterator struct {
	batches []*Batch
	pos     int
}

func (it *sliceIterator) Next() bool {
	if it.pos+1 >= len(it.batches) {
		it.pos = len(it.batches)
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Batch() *Batch {
	if it.pos < 0 || it.pos >= len(it.batches) {
		return nil
	}
	return it.batches[it.pos]
}

func (it *sliceIterator) Err() error { return nil }
