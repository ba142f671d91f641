package detect

import (
	"context"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/roi"
)

func colorROI(cfg *roi.ColorConfig) roi.ROI {
	return roi.ROI{
		ID:       5,
		Type:     roi.TypeColor,
		Coords:   roi.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100},
		DeviceID: 1,
		Color:    cfg,
	}
}

func TestColor_ExpectedRedPasses(t *testing.T) {
	frame := imaging.Uniform(100, 100, color.RGBA{240, 20, 20, 255})
	expected := [3]int{255, 0, 0}
	r := colorROI(&roi.ColorConfig{
		ExpectedColor:      &expected,
		MinPixelPercentage: 5.0,
	})

	res := NewColorDetector().Detect(context.Background(), frame, r, Env{})
	assert.True(t, res.Passed)
	assert.Equal(t, "Red", res.DetectedColor)
	require.NotNil(t, res.MatchPercentage)
	assert.InDelta(t, 100.0, *res.MatchPercentage, 0.01)
	require.NotNil(t, res.DominantRGB)
	assert.Equal(t, [3]int{240, 20, 20}, *res.DominantRGB)
}

func TestColor_ExpectedMismatchFails(t *testing.T) {
	// Blue surface against a red expectation: nothing falls in the Red box.
	frame := imaging.Uniform(100, 100, color.RGBA{20, 20, 240, 255})
	expected := [3]int{255, 0, 0}
	r := colorROI(&roi.ColorConfig{ExpectedColor: &expected, MinPixelPercentage: 5.0})

	res := NewColorDetector().Detect(context.Background(), frame, r, Env{})
	assert.False(t, res.Passed)
	assert.Equal(t, "Red", res.DetectedColor)
	assert.InDelta(t, 0.0, *res.MatchPercentage, 0.01)
}

func TestColor_DefaultMinPercentage(t *testing.T) {
	frame := imaging.Uniform(100, 100, color.RGBA{240, 20, 20, 255})
	expected := [3]int{255, 0, 0}
	r := colorROI(&roi.ColorConfig{ExpectedColor: &expected})

	res := NewColorDetector().Detect(context.Background(), frame, r, Env{})
	require.NotNil(t, res.Threshold)
	assert.Equal(t, roi.DefaultMinPixelPct, *res.Threshold)
}

func TestClassifyExpected(t *testing.T) {
	// A value inside a box wins by containment.
	assert.Equal(t, "Red", classifyExpected([3]int{255, 0, 0}).name)
	assert.Equal(t, "Black", classifyExpected([3]int{10, 10, 10}).name)
	assert.Equal(t, "White", classifyExpected([3]int{250, 250, 250}).name)
	assert.Equal(t, "Blue", classifyExpected([3]int{0, 0, 255}).name)
	assert.Equal(t, "Gray", classifyExpected([3]int{130, 135, 128}).name)

	// A value outside every box falls to the nearest midpoint.
	assert.Equal(t, "Green", classifyExpected([3]int{120, 200, 60}).name)
}

func TestColor_LegacyRangesSummed(t *testing.T) {
	// Two overlapping boxes share the name "Red": both mask 100% of the
	// uniform crop, so the raw sum is 200 and the display caps at 100.
	frame := imaging.Uniform(50, 50, color.RGBA{200, 30, 30, 255})
	r := colorROI(&roi.ColorConfig{
		Ranges: []roi.ColorRange{
			{Name: "Red", Lower: [3]int{150, 0, 0}, Upper: [3]int{255, 80, 80}, Threshold: 50},
			{Name: "Red", Lower: [3]int{180, 0, 0}, Upper: [3]int{255, 60, 60}, Threshold: 90},
			{Name: "Blue", Lower: [3]int{0, 0, 150}, Upper: [3]int{80, 80, 255}, Threshold: 50},
		},
	})

	res := NewColorDetector().Detect(context.Background(), frame, r, Env{})
	assert.True(t, res.Passed)
	assert.Equal(t, "Red", res.DetectedColor)
	require.NotNil(t, res.RawPercentage)
	assert.InDelta(t, 200.0, *res.RawPercentage, 0.1)
	assert.InDelta(t, 100.0, *res.MatchPercentage, 0.01)
	// The first-seen threshold for "Red" (50) applies, not the second (90).
	require.NotNil(t, res.Threshold)
	assert.Equal(t, 50.0, *res.Threshold)
}

func TestColor_LegacyBelowThresholdFails(t *testing.T) {
	frame := imaging.Uniform(50, 50, color.RGBA{200, 30, 30, 255})
	r := colorROI(&roi.ColorConfig{
		Ranges: []roi.ColorRange{
			{Name: "Red", Lower: [3]int{150, 0, 0}, Upper: [3]int{255, 80, 80}, Threshold: 150},
		},
	})

	res := NewColorDetector().Detect(context.Background(), frame, r, Env{})
	assert.False(t, res.Passed)
}

func TestColor_MissingConfigIsolated(t *testing.T) {
	frame := imaging.Uniform(50, 50, color.RGBA{200, 30, 30, 255})
	res := NewColorDetector().Detect(context.Background(), frame, colorROI(nil), Env{})
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Error)
}

func TestColor_EmptyLegacyRanges(t *testing.T) {
	frame := imaging.Uniform(50, 50, color.RGBA{200, 30, 30, 255})
	res := NewColorDetector().Detect(context.Background(), frame, colorROI(&roi.ColorConfig{}), Env{})
	assert.False(t, res.Passed)
	assert.NotEmpty(t, res.Error)
}
