package dataset

import (
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"

	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// LoadImage decodes the image at path, converts it to grayscale, resizes
// it to height×width with bilinear interpolation and returns intensities
// in [0, 1].
func LoadImage(path string, height, width int) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open image %s", path)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode image %s", path)
	}
	return ToMatrix(src, height, width), nil
}

// ToMatrix resizes src to height×width grayscale.
func ToMatrix(src image.Image, height, width int) *mat.Dense {
	gray := image.NewGray(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(gray, gray.Bounds(), src, src.Bounds(), draw.Src, nil)

	m := mat.NewDense(height, width, nil)
	for y := 0; y < height; y++ {
		row := m.RawRowView(y)
		pix := gray.Pix[y*gray.Stride : y*gray.Stride+width]
		for x, p := range pix {
			row[x] = float64(p) / 255
		}
	}
	return m
}
