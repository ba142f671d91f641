package detect

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/roi"
)

const colorDenoiseStrength = 5

// ColorRange is an inclusive RGB box with a display name.
type colorRange struct {
	name  string
	lower [3]int
	upper [3]int
}

// The twelve predefined ranges for expected-color mode. Boundaries are part
// of the external contract; changing them changes verdicts.
var predefinedRanges = []colorRange{
	{"Black", [3]int{0, 0, 0}, [3]int{60, 60, 60}},
	{"White", [3]int{200, 200, 200}, [3]int{255, 255, 255}},
	{"Gray", [3]int{90, 90, 90}, [3]int{180, 180, 180}},
	{"Red", [3]int{170, 0, 0}, [3]int{255, 90, 90}},
	{"Green", [3]int{0, 140, 0}, [3]int{100, 255, 100}},
	{"Blue", [3]int{0, 0, 150}, [3]int{90, 90, 255}},
	{"Yellow", [3]int{180, 180, 0}, [3]int{255, 255, 110}},
	{"Orange", [3]int{200, 90, 0}, [3]int{255, 180, 80}},
	{"Purple", [3]int{100, 0, 100}, [3]int{200, 90, 200}},
	{"Pink", [3]int{200, 100, 150}, [3]int{255, 200, 230}},
	{"Brown", [3]int{100, 50, 0}, [3]int{170, 110, 70}},
	{"Cyan", [3]int{0, 170, 170}, [3]int{110, 255, 255}},
}

func (c colorRange) contains(rgb [3]int) bool {
	for i := 0; i < 3; i++ {
		if rgb[i] < c.lower[i] || rgb[i] > c.upper[i] {
			return false
		}
	}
	return true
}

func (c colorRange) midpoint() [3]float64 {
	return [3]float64{
		float64(c.lower[0]+c.upper[0]) / 2,
		float64(c.lower[1]+c.upper[1]) / 2,
		float64(c.lower[2]+c.upper[2]) / 2,
	}
}

// classifyExpected maps an expected RGB to a predefined range: a range that
// contains the value wins outright, otherwise the nearest midpoint.
func classifyExpected(rgb [3]int) colorRange {
	for _, c := range predefinedRanges {
		if c.contains(rgb) {
			return c
		}
	}
	best := predefinedRanges[0]
	bestDist := math.Inf(1)
	for _, c := range predefinedRanges {
		mid := c.midpoint()
		dx := float64(rgb[0]) - mid[0]
		dy := float64(rgb[1]) - mid[1]
		dz := float64(rgb[2]) - mid[2]
		if dist := dx*dx + dy*dy + dz*dz; dist < bestDist {
			bestDist = dist
			best = c
		}
	}
	return best
}

// maskPercentage is the share of pixels inside the inclusive box, in percent.
func maskPercentage(img image.Image, lower, upper [3]int) float64 {
	b := img.Bounds()
	var inRange, total float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			rgb := [3]int{int(pr >> 8), int(pg >> 8), int(pb >> 8)}
			if (colorRange{lower: lower, upper: upper}).contains(rgb) {
				inRange++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return inRange / total * 100
}

// ColorDetector verifies that a region shows the configured color, either
// against one of the predefined ranges or against legacy per-product ranges.
type ColorDetector struct{}

func NewColorDetector() *ColorDetector {
	return &ColorDetector{}
}

func (d *ColorDetector) Type() roi.Type { return roi.TypeColor }

func (d *ColorDetector) Detect(ctx context.Context, frame image.Image, r roi.ROI, env Env) Result {
	if r.Color == nil {
		return errResult(r, fmt.Errorf("color roi %d has no color_config", r.ID))
	}

	crop := imaging.Crop(frame, r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2)
	denoised := imaging.Denoise(crop, colorDenoiseStrength)

	mr, mg, mb := imaging.MeanRGB(denoised)
	dominant := [3]int{int(mr), int(mg), int(mb)}

	res := baseResult(r)
	res.DominantRGB = &dominant

	if r.Color.ExpectedColor != nil {
		return d.detectExpected(denoised, r, res)
	}
	return d.detectLegacy(denoised, r, res)
}

func (d *ColorDetector) detectExpected(img image.Image, r roi.ROI, res Result) Result {
	expected := *r.Color.ExpectedColor
	rng := classifyExpected(expected)

	minPct := r.Color.MinPixelPercentage
	if minPct <= 0 {
		minPct = roi.DefaultMinPixelPct
	}

	pct := maskPercentage(img, rng.lower, rng.upper)
	res.DetectedColor = rng.name
	res.ExpectedColor = &expected
	res.MatchPercentage = &pct
	res.RawPercentage = &pct
	res.Threshold = &minPct
	res.Passed = pct >= minPct
	return res
}

// detectLegacy sums masked percentages across ranges sharing a name; the
// highest sum wins and is judged against that name's first-seen threshold.
// The raw sum can exceed 100 when boxes overlap; display is capped.
func (d *ColorDetector) detectLegacy(img image.Image, r roi.ROI, res Result) Result {
	sums := make(map[string]float64)
	thresholds := make(map[string]float64)
	var order []string

	for _, cr := range r.Color.Ranges {
		pct := maskPercentage(img, cr.Lower, cr.Upper)
		if _, seen := sums[cr.Name]; !seen {
			order = append(order, cr.Name)
			thresholds[cr.Name] = cr.Threshold
		}
		sums[cr.Name] += pct
	}

	if len(order) == 0 {
		return errResult(r, fmt.Errorf("color roi %d has empty color_ranges", r.ID))
	}

	winner := order[0]
	for _, name := range order[1:] {
		if sums[name] > sums[winner] {
			winner = name
		}
	}

	raw := sums[winner]
	display := raw
	if display > 100 {
		display = 100
	}
	threshold := thresholds[winner]

	res.DetectedColor = winner
	res.MatchPercentage = &display
	res.RawPercentage = &raw
	res.Threshold = &threshold
	res.Passed = raw >= threshold
	return res
}
