// Package preprocessing normalizes grayscale images before they reach the
// sequence model.
//
// Scalers work on a single image at a time: the statistics come from the
// image itself, so no fitting pass over the dataset is needed.
package preprocessing

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/crnn/pkg/errors"
)

// ImageScaler rescales pixel intensities in place.
type ImageScaler interface {
	Scale(img *mat.Dense)
	String() string
}

// Identity leaves the image unchanged ([0, 1] intensities from the decoder).
type Identity struct{}

// Scale does nothing.
func (Identity) Scale(*mat.Dense) {}

func (Identity) String() string { return "Identity()" }

// StandardScaler は画像ごとに平均0、標準偏差1へ変換する
type StandardScaler struct {
	// Epsilon は標準偏差が0の場合のゼロ除算を防ぐ (デフォルト: 1e-8)
	Epsilon float64
}

// NewStandardScaler は新しいStandardScalerを作成する
func NewStandardScaler() *StandardScaler {
	return &StandardScaler{Epsilon: 1e-8}
}

// Scale は画像を標準化する。一様な画像は0になる。
func (s *StandardScaler) Scale(img *mat.Dense) {
	data := img.RawMatrix().Data
	if len(data) == 0 {
		return
	}
	mean, std := stat.PopMeanStdDev(data, nil)
	floats.AddConst(-mean, data)
	if std > s.Epsilon {
		floats.Scale(1/std, data)
	}
}

func (s *StandardScaler) String() string {
	return fmt.Sprintf("StandardScaler(epsilon=%g)", s.Epsilon)
}

// MinMaxScaler は画像ごとに画素値を指定範囲に引き伸ばす（コントラスト正規化）
type MinMaxScaler struct {
	// FeatureRange は変換後の範囲 (デフォルト: [0, 1])
	FeatureRange [2]float64
}

// NewMinMaxScaler は新しいMinMaxScalerを作成する
func NewMinMaxScaler(featureRange [2]float64) (*MinMaxScaler, error) {
	if featureRange[0] >= featureRange[1] {
		return nil, errors.NewValidationError("feature_range", "min must be smaller than max", featureRange)
	}
	return &MinMaxScaler{FeatureRange: featureRange}, nil
}

// Scale maps the darkest pixel to FeatureRange[0] and the brightest to
// FeatureRange[1]. A uniform image maps to FeatureRange[0].
func (m *MinMaxScaler) Scale(img *mat.Dense) {
	data := img.RawMatrix().Data
	if len(data) == 0 {
		return
	}
	lo, hi := floats.Min(data), floats.Max(data)
	span := hi - lo
	out := m.FeatureRange[1] - m.FeatureRange[0]
	for i, v := range data {
		if span == 0 || math.IsNaN(v) {
			data[i] = m.FeatureRange[0]
			continue
		}
		data[i] = m.FeatureRange[0] + (v-lo)/span*out
	}
}

func (m *MinMaxScaler) String() string {
	return fmt.Sprintf("MinMaxScaler(feature_range=[%g, %g])", m.FeatureRange[0], m.FeatureRange[1])
}

// ParseScaler returns the scaler named by s: "none", "minmax" or "standard".
func ParseScaler(s string) (ImageScaler, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "identity":
		return Identity{}, nil
	case "minmax":
		return NewMinMaxScaler([2]float64{0, 1})
	case "standard":
		return NewStandardScaler(), nil
	}
	return nil, errors.NewValidationError("normalize", "unknown scaler (want none, minmax or standard)", s)
}
