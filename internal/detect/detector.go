// Package detect implements the four ROI detectors: barcode, compare
// (golden-sample similarity), OCR and color. Detectors never fail an
// inspection; a failing detector is reported as a not-passed result with an
// error string.
package detect

import (
	"context"
	"fmt"
	"image"

	"github.com/technosupport/ts-aoi/internal/roi"
)

// Env carries the per-inspection context detectors need beyond the frame and
// the ROI itself.
type Env struct {
	Product string
	// OutputDir, when set, receives per-ROI crop artifacts
	// (roi_<id>_captured.jpg, roi_<id>_reference.jpg).
	OutputDir string
}

// Result is the outcome for one ROI. Fields beyond RoiID/Type/Passed are
// populated per detector type; unused fields are omitted on the wire.
type Result struct {
	RoiID           int       `json:"roi_id"`
	Type            string    `json:"roi_type"`
	Passed          bool      `json:"passed"`
	Error           string    `json:"error,omitempty"`
	DeviceID        int       `json:"device_id"`
	IsDeviceBarcode bool      `json:"is_device_barcode,omitempty"`

	// Barcode.
	Barcodes []string `json:"barcodes,omitempty"`

	// Compare.
	Similarity    *float64 `json:"similarity,omitempty"`
	Threshold     *float64 `json:"threshold,omitempty"`
	CapturedCrop  string   `json:"captured_crop,omitempty"`
	ReferenceCrop string   `json:"reference_crop,omitempty"`

	// OCR.
	Text     string `json:"text,omitempty"`
	Expected string `json:"expected,omitempty"`
	Rotation int    `json:"rotation,omitempty"`

	// Color.
	DetectedColor   string   `json:"detected_color,omitempty"`
	MatchPercentage *float64 `json:"match_percentage,omitempty"`
	RawPercentage   *float64 `json:"raw_percentage,omitempty"`
	DominantRGB     *[3]int  `json:"dominant_rgb,omitempty"`
	ExpectedColor   *[3]int  `json:"expected_color,omitempty"`
}

// Detector inspects one region of one frame.
type Detector interface {
	Type() roi.Type
	Detect(ctx context.Context, frame image.Image, r roi.ROI, env Env) Result
}

// Registry maps ROI types to their detectors.
type Registry map[roi.Type]Detector

func NewRegistry(detectors ...Detector) Registry {
	reg := make(Registry, len(detectors))
	for _, d := range detectors {
		reg[d.Type()] = d
	}
	return reg
}

// For returns the detector for t, or an error result factory when no
// detector is registered.
func (reg Registry) For(t roi.Type) (Detector, error) {
	d, ok := reg[t]
	if !ok {
		return nil, fmt.Errorf("no detector registered for roi type %s", t.Name())
	}
	return d, nil
}

// baseResult pre-fills the fields every detector reports.
func baseResult(r roi.ROI) Result {
	return Result{
		RoiID:           r.ID,
		Type:            r.Type.Name(),
		DeviceID:        r.DeviceID,
		IsDeviceBarcode: r.IsDeviceBarcode,
	}
}

// errResult marks the ROI failed with an error string, isolating the failure
// to this one region.
func errResult(r roi.ROI, err error) Result {
	res := baseResult(r)
	res.Passed = false
	res.Error = err.Error()
	return res
}
