package detect

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/golden"
	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/metrics"
	"github.com/technosupport/ts-aoi/internal/roi"
)

// countingExtractor counts Extract calls so tests can observe short-circuit
// behaviour.
type countingExtractor struct {
	inner Extractor
	calls int
}

func (c *countingExtractor) Extract(img image.Image) ([]float64, error) {
	c.calls++
	return c.inner.Extract(img)
}

// pattern builds a deterministic gradient frame; unlike a uniform fill its
// histogram spreads across bins, so JPEG noise barely moves the similarity.
func pattern(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 7) % 256),
				G: uint8((y * 5) % 256),
				B: uint8(((x + y) * 3) % 256),
				A: 255,
			})
		}
	}
	return img
}

// jpegStable round-trips an image through JPEG so in-memory pixels match
// what a decoded capture would contain.
func jpegStable(t *testing.T, img image.Image) image.Image {
	t.Helper()
	data, err := imaging.EncodeJPEG(img)
	require.NoError(t, err)
	out, err := imaging.DecodeJPEG(data)
	require.NoError(t, err)
	return out
}

func compareFixture(t *testing.T) (*CompareDetector, *countingExtractor, *golden.Store, image.Image, roi.ROI) {
	t.Helper()
	store := golden.NewStore(t.TempDir(), zap.NewNop())
	ex := &countingExtractor{inner: HistogramExtractor{}}
	det := NewCompareDetector(store, ex, nil, zap.NewNop())

	frame := jpegStable(t, pattern(200, 160))
	threshold := 0.9
	r := roi.ROI{
		ID:          7,
		Type:        roi.TypeCompare,
		Coords:      roi.Rect{X1: 20, Y1: 20, X2: 120, Y2: 100},
		AIThreshold: &threshold,
		DeviceID:    1,
	}
	return det, ex, store, frame, r
}

func TestCompare_MatchAgainstBest(t *testing.T) {
	det, ex, store, frame, r := compareFixture(t)

	crop := imaging.Crop(frame, 20, 20, 120, 100)
	_, err := store.SaveInitial("widget", r.ID, crop)
	require.NoError(t, err)

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	assert.True(t, res.Passed)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.Similarity)
	assert.Greater(t, *res.Similarity, 0.9)

	// Matching the best sample computes features for exactly two images:
	// the capture and best_golden.jpg. No other golden is touched.
	assert.Equal(t, 2, ex.calls)

	// Matching the best must not promote.
	dir, err := store.Dir("widget", r.ID)
	require.NoError(t, err)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestCompare_BestShortCircuit(t *testing.T) {
	det, ex, store, frame, r := compareFixture(t)

	crop := imaging.Crop(frame, 20, 20, 120, 100)
	_, err := store.SaveInitial("widget", r.ID, crop)
	require.NoError(t, err)

	// Extra samples behind the best; none should be featurized when the
	// best already matches.
	dir, err := store.Dir("widget", r.ID)
	require.NoError(t, err)
	for _, name := range []string{"1000_golden_sample.jpg", "2000_golden_sample.jpg"} {
		require.NoError(t, imaging.SaveJPEG(filepath.Join(dir, name), crop))
	}

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	assert.True(t, res.Passed)
	assert.Equal(t, 2, ex.calls)
}

func TestCompare_PromotesMatchingAlternative(t *testing.T) {
	det, _, store, frame, r := compareFixture(t)

	// Best golden is unrelated; an older sample matches the capture.
	_, err := store.SaveInitial("widget", r.ID, imaging.Uniform(100, 80, color.RGBA{0, 0, 0, 255}))
	require.NoError(t, err)

	dir, err := store.Dir("widget", r.ID)
	require.NoError(t, err)
	crop := imaging.Crop(frame, 20, 20, 120, 100)
	candidate := filepath.Join(dir, "1000_golden_sample.jpg")
	require.NoError(t, imaging.SaveJPEG(candidate, crop))

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	assert.True(t, res.Passed)

	// The matching sample is now the best; the former best survives as a
	// timestamped backup.
	_, err = os.Stat(candidate)
	assert.True(t, os.IsNotExist(err))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var haveBest, haveBackup bool
	for _, e := range entries {
		if e.Name() == golden.BestName {
			haveBest = true
		}
		if strings.HasSuffix(e.Name(), "_golden_sample.jpg") && e.Name() != "1000_golden_sample.jpg" {
			haveBackup = true
		}
	}
	assert.True(t, haveBest)
	assert.True(t, haveBackup)
}

func TestCompare_PromotionIncrementsCounter(t *testing.T) {
	store := golden.NewStore(t.TempDir(), zap.NewNop())
	met := metrics.New()
	det := NewCompareDetector(store, &countingExtractor{inner: HistogramExtractor{}}, met, zap.NewNop())

	frame := jpegStable(t, pattern(200, 160))
	threshold := 0.9
	r := roi.ROI{
		ID:          7,
		Type:        roi.TypeCompare,
		Coords:      roi.Rect{X1: 20, Y1: 20, X2: 120, Y2: 100},
		AIThreshold: &threshold,
		DeviceID:    1,
	}

	crop := imaging.Crop(frame, 20, 20, 120, 100)
	_, err := store.SaveInitial("widget", r.ID, imaging.Uniform(100, 80, color.RGBA{0, 0, 0, 255}))
	require.NoError(t, err)
	dir, err := store.Dir("widget", r.ID)
	require.NoError(t, err)
	require.NoError(t, imaging.SaveJPEG(filepath.Join(dir, "1000_golden_sample.jpg"), crop))

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	require.True(t, res.Passed)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.GoldenPromotions))

	// The promoted sample is now the best; matching it again is not a
	// promotion.
	res = det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	require.True(t, res.Passed)
	assert.Equal(t, 1.0, testutil.ToFloat64(met.GoldenPromotions))
}

func TestCompare_NoGoldens(t *testing.T) {
	det, _, _, frame, r := compareFixture(t)

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	assert.False(t, res.Passed)
	assert.Empty(t, res.Error)
	require.NotNil(t, res.Similarity)
	assert.Equal(t, 0.0, *res.Similarity)
}

func TestCompare_ResizesMismatchedGolden(t *testing.T) {
	det, _, store, frame, r := compareFixture(t)

	// Golden stored at half resolution still compares without error.
	crop := imaging.Crop(frame, 20, 20, 120, 100)
	_, err := store.SaveInitial("widget", r.ID, imaging.Resize(crop, 50, 40))
	require.NoError(t, err)

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	assert.Empty(t, res.Error)
	require.NotNil(t, res.Similarity)
}

func TestCompare_NoThresholdUsesDefault(t *testing.T) {
	det, _, store, frame, r := compareFixture(t)
	r.AIThreshold = nil

	crop := imaging.Crop(frame, 20, 20, 120, 100)
	_, err := store.SaveInitial("widget", r.ID, crop)
	require.NoError(t, err)

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget"})
	assert.True(t, res.Passed)
	require.NotNil(t, res.Threshold)
	assert.Equal(t, DefaultCompareThreshold, *res.Threshold)
}

func TestCompare_WritesCropArtifacts(t *testing.T) {
	det, _, store, frame, r := compareFixture(t)
	out := t.TempDir()

	crop := imaging.Crop(frame, 20, 20, 120, 100)
	_, err := store.SaveInitial("widget", r.ID, crop)
	require.NoError(t, err)

	res := det.Detect(context.Background(), frame, r, Env{Product: "widget", OutputDir: out})
	assert.Equal(t, filepath.Join(out, "roi_7_captured.jpg"), res.CapturedCrop)
	assert.Equal(t, filepath.Join(out, "roi_7_reference.jpg"), res.ReferenceCrop)
	_, err = os.Stat(res.CapturedCrop)
	assert.NoError(t, err)
	_, err = os.Stat(res.ReferenceCrop)
	assert.NoError(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2, 3}, []float64{2, 4, 6}), 1e-12)
	assert.InDelta(t, 0.0, Cosine([]float64{1, 0}, []float64{0, 1}), 1e-12)
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 1}))
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
}
