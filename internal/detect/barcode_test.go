package detect

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/roi"
)

type stubDecoder struct {
	values []string
	err    error
}

func (s stubDecoder) Decode([]byte) ([]string, error) { return s.values, s.err }

func barcodeROI() roi.ROI {
	return roi.ROI{
		ID:              1,
		Type:            roi.TypeBarcode,
		Coords:          roi.Rect{X1: 0, Y1: 0, X2: 50, Y2: 50},
		DeviceID:        1,
		IsDeviceBarcode: true,
	}
}

func TestBarcode_PassOnValue(t *testing.T) {
	det := NewBarcodeDetector(stubDecoder{values: []string{"TS-0042"}})
	frame := imaging.Uniform(100, 100, color.RGBA{255, 255, 255, 255})

	res := det.Detect(context.Background(), frame, barcodeROI(), Env{})
	assert.True(t, res.Passed)
	assert.Equal(t, []string{"TS-0042"}, res.Barcodes)
	assert.True(t, res.IsDeviceBarcode)
}

func TestBarcode_FailOnEmpty(t *testing.T) {
	det := NewBarcodeDetector(stubDecoder{})
	frame := imaging.Uniform(100, 100, color.RGBA{255, 255, 255, 255})

	res := det.Detect(context.Background(), frame, barcodeROI(), Env{})
	assert.False(t, res.Passed)
	assert.Empty(t, res.Barcodes)
	assert.Empty(t, res.Error)
}

func TestBarcode_DecoderErrorIsolated(t *testing.T) {
	det := NewBarcodeDetector(stubDecoder{err: errors.New("reader crashed")})
	frame := imaging.Uniform(100, 100, color.RGBA{255, 255, 255, 255})

	res := det.Detect(context.Background(), frame, barcodeROI(), Env{})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "reader crashed")
}

// renderMatrix rasterizes a zxing bit matrix with a quiet zone, as a camera
// would see a printed label.
func renderMatrix(t *testing.T, m *gozxing.BitMatrix) image.Image {
	t.Helper()
	const margin = 16
	w, h := m.GetWidth(), m.GetHeight()
	img := image.NewRGBA(image.Rect(0, 0, w+2*margin, h+2*margin))
	for y := 0; y < h+2*margin; y++ {
		for x := 0; x < w+2*margin; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if m.Get(x, y) {
				img.Set(x+margin, y+margin, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	return img
}

func TestZXingDecoder_Code128RoundTrip(t *testing.T) {
	writer := oned.NewCode128Writer()
	matrix, err := writer.Encode("TS-AOI-77", gozxing.BarcodeFormat_CODE_128, 240, 60, nil)
	require.NoError(t, err)

	data, err := imaging.EncodeJPEG(renderMatrix(t, matrix))
	require.NoError(t, err)

	values, err := ZXingDecoder{}.Decode(data)
	require.NoError(t, err)
	require.NotEmpty(t, values)
	assert.Equal(t, "TS-AOI-77", values[0])
}

func TestZXingDecoder_BlankImage(t *testing.T) {
	data, err := imaging.EncodeJPEG(imaging.Uniform(120, 60, color.RGBA{255, 255, 255, 255}))
	require.NoError(t, err)

	values, err := ZXingDecoder{}.Decode(data)
	require.NoError(t, err)
	assert.Empty(t, values)
}
