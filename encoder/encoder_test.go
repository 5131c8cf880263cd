package encoder

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/crnn/core/model"
	"github.com/YuminosukeSato/crnn/core/tensor"
	"github.com/YuminosukeSato/crnn/pkg/errors"
)

func testConfig() Config {
	return Config{Height: 3, Width: 8, ColumnWidth: 2, Context: 1, Hidden: 5, Classes: 4, Seed: 7}
}

func randomImages(t *testing.T, rng *rand.Rand, n, h, w int) *tensor.Images {
	t.Helper()
	data := make([]*mat.Dense, n)
	for i := range data {
		data[i] = mat.NewDense(h, w, nil)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				data[i].Set(y, x, rng.Float64())
			}
		}
	}
	images, err := tensor.NewImages(data)
	require.NoError(t, err)
	return images
}

// weightedSum is the scalar sum_b,t,k weights*logits used for gradient checks.
func weightedSum(l, weights *tensor.Logits) float64 {
	s := 0.0
	for b := range l.Data {
		s += mat.Sum(mulElem(l.Data[b], weights.Data[b]))
	}
	return s
}

func mulElem(a, b *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(a, b)
	return out
}

func TestForwardShape(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	x := randomImages(t, rand.New(rand.NewPCG(1, 1)), 3, 3, 8)

	logits, err := e.Forward(x, false)
	require.NoError(t, err)
	assert.Equal(t, 3, logits.Batch)
	assert.Equal(t, 4, logits.Time)
	assert.Equal(t, 4, logits.Classes)
	assert.Equal(t, "ColumnEncoder", e.Name())
	assert.Equal(t, 4, len(e.Params()))
}

func TestForwardDeterministicSeed(t *testing.T) {
	a, err := New(testConfig())
	require.NoError(t, err)
	b, err := New(testConfig())
	require.NoError(t, err)
	for i, p := range a.Params() {
		assert.True(t, mat.Equal(p.Value, b.Params()[i].Value))
	}
}

func TestForwardRejectsWrongShape(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	x := randomImages(t, rand.New(rand.NewPCG(1, 1)), 1, 4, 8)

	_, err = e.Forward(x, true)
	var dimErr *errors.DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 3, dimErr.Expected)
	assert.Equal(t, 4, dimErr.Got)
}

func TestBackwardWithoutForward(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	err = e.Backward(tensor.NewLogits(1, 4, 4))
	var modelErr *errors.ModelError
	assert.True(t, errors.As(err, &modelErr))

	// Inference passes leave nothing to differentiate either.
	_, err = e.Forward(randomImages(t, rand.New(rand.NewPCG(2, 2)), 1, 3, 8), false)
	require.NoError(t, err)
	assert.Error(t, e.Backward(tensor.NewLogits(1, 4, 4)))
}

func TestBackwardMatchesFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))
	e, err := New(testConfig())
	require.NoError(t, err)
	x := randomImages(t, rng, 2, 3, 8)

	weights := tensor.NewLogits(2, 4, 4)
	for _, m := range weights.Data {
		for i := range m.RawMatrix().Data {
			m.RawMatrix().Data[i] = rng.NormFloat64()
		}
	}

	_, err = e.Forward(x, true)
	require.NoError(t, err)
	require.NoError(t, e.Backward(weights))

	const eps = 1e-6
	for _, p := range e.Params() {
		data := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		for i := 0; i < len(data); i += 3 {
			orig := data[i]
			data[i] = orig + eps
			plus, err := e.Forward(x, false)
			require.NoError(t, err)
			data[i] = orig - eps
			minus, err := e.Forward(x, false)
			require.NoError(t, err)
			data[i] = orig

			numeric := (weightedSum(plus, weights) - weightedSum(minus, weights)) / (2 * eps)
			assert.InDelta(t, numeric, grad[i], 1e-5, "%s[%d]", p.Name, i)
		}
	}
}

func TestBackwardAccumulates(t *testing.T) {
	e, err := New(testConfig())
	require.NoError(t, err)
	x := randomImages(t, rand.New(rand.NewPCG(5, 6)), 1, 3, 8)
	g := tensor.NewLogits(1, 4, 4)
	g.Data[0].Set(0, 1, 1)

	for i := 0; i < 2; i++ {
		_, err = e.Forward(x, true)
		require.NoError(t, err)
		require.NoError(t, e.Backward(g))
	}
	assert.Equal(t, 2.0, e.b2.Grad.At(0, 1))

	model.ZeroGrads(e.Params())
	assert.Equal(t, 0.0, e.b2.Grad.At(0, 1))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero height", func(c *Config) { c.Height = 0 }},
		{"narrow image", func(c *Config) { c.Width = 1 }},
		{"negative context", func(c *Config) { c.Context = -1 }},
		{"no hidden units", func(c *Config) { c.Hidden = 0 }},
		{"one class", func(c *Config) { c.Classes = 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.modify(&cfg)
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
	assert.Equal(t, 4, testConfig().TimeSteps())
	assert.Equal(t, 18, testConfig().Features())
}
