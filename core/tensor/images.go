package tensor

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// Images is a batch of single-channel images with intensities in [0, 1].
type Images struct {
	Height int
	Width  int
	// Data[b] is a Height×Width matrix.
	Data []*mat.Dense
}

// NewImages wraps equally sized matrices.
func NewImages(data []*mat.Dense) (*Images, error) {
	if len(data) == 0 {
		return nil, errors.Wrap(errors.ErrEmptyData, "images")
	}
	h, w := data[0].Dims()
	for _, m := range data[1:] {
		r, c := m.Dims()
		if r != h {
			return nil, errors.NewDimensionError("NewImages", h, r, 1)
		}
		if c != w {
			return nil, errors.NewDimensionError("NewImages", w, c, 2)
		}
	}
	return &Images{Height: h, Width: w, Data: data}, nil
}

// Len returns the batch size.
func (im *Images) Len() int {
	return len(im.Data)
}

// Gray converts image b back to an 8-bit grayscale image.
func (im *Images) Gray(b int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, im.Width, im.Height))
	m := im.Data[b]
	for y := 0; y < im.Height; y++ {
		for x := 0; x < im.Width; x++ {
			v := math.Max(0, math.Min(1, m.At(y, x)))
			g.SetGray(x, y, color.Gray{Y: uint8(math.Round(v * 255))})
		}
	}
	return g
}
