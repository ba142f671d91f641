package detect

import (
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/imaging"
)

func TestHistogramExtractor_Deterministic(t *testing.T) {
	img := pattern(64, 48)
	a, err := HistogramExtractor{}.Extract(img)
	require.NoError(t, err)
	b, err := HistogramExtractor{}.Extract(img)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	var sum float64
	for _, v := range a {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestHistogramExtractor_DistinguishesColors(t *testing.T) {
	red, err := HistogramExtractor{}.Extract(imaging.Uniform(20, 20, color.RGBA{255, 0, 0, 255}))
	require.NoError(t, err)
	blue, err := HistogramExtractor{}.Extract(imaging.Uniform(20, 20, color.RGBA{0, 0, 255, 255}))
	require.NoError(t, err)
	assert.Less(t, Cosine(red, blue), 0.5)
}

func TestNewExtractor_FallsBackWithoutModel(t *testing.T) {
	ex := NewExtractor("", "", zap.NewNop())
	assert.IsType(t, HistogramExtractor{}, ex)

	ex = NewExtractor("/nonexistent/model.onnx", "", zap.NewNop())
	assert.IsType(t, HistogramExtractor{}, ex)
}
