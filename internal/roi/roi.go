package roi

import (
	"errors"
	"fmt"
)

var ErrInvalidROI = errors.New("invalid roi")

// Type selects exactly one detector for a region.
type Type int

const (
	TypeBarcode Type = 1
	TypeCompare Type = 2
	TypeOCR     Type = 3
	TypeColor   Type = 4
)

var typeNames = map[Type]string{
	TypeBarcode: "barcode",
	TypeCompare: "compare",
	TypeOCR:     "ocr",
	TypeColor:   "color",
}

var typesByName = map[string]Type{
	"barcode": TypeBarcode,
	"compare": TypeCompare,
	"ocr":     TypeOCR,
	"color":   TypeColor,
}

func (t Type) Name() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("unknown(%d)", int(t))
}

func (t Type) Valid() bool {
	_, ok := typeNames[t]
	return ok
}

// TypeByName resolves the client-side type vocabulary ("barcode", "compare",
// "ocr", "color") back to the numeric type.
func TypeByName(name string) (Type, bool) {
	t, ok := typesByName[name]
	return t, ok
}

// Rect is a pixel rectangle [x1,y1,x2,y2] in the captured frame.
type Rect struct {
	X1, Y1, X2, Y2 int
}

func (r Rect) Width() int  { return r.X2 - r.X1 }
func (r Rect) Height() int { return r.Y2 - r.Y1 }

// Within reports whether the rectangle lies inside a w*h frame.
func (r Rect) Within(w, h int) bool {
	return r.X1 >= 0 && r.Y1 >= 0 && r.X2 <= w && r.Y2 <= h
}

// ColorRange is one named RGB box in the legacy color_ranges mode.
type ColorRange struct {
	Name      string `json:"name"`
	Lower     [3]int `json:"lower"`
	Upper     [3]int `json:"upper"`
	Threshold float64 `json:"threshold"`
}

// ColorConfig is a discriminated union: expected-color mode carries
// ExpectedColor, legacy mode carries Ranges. Exactly one side is populated.
type ColorConfig struct {
	ExpectedColor       *[3]int      `json:"expected_color,omitempty"`
	ColorTolerance      float64      `json:"color_tolerance,omitempty"`
	MinPixelPercentage  float64      `json:"min_pixel_percentage,omitempty"`
	Ranges              []ColorRange `json:"color_ranges,omitempty"`
}

// Defaults applied when a serialized form omits optional fields.
const (
	DefaultFocus           = 305
	DefaultExposure        = 1200
	DefaultDetectionMethod = "opencv"
	DefaultDeviceID        = 1
	DefaultMinPixelPct     = 5.0
)

// ROI is the canonical in-memory region of interest. Every accepted
// serialized shape normalizes to this; no other package sees the wire
// vocabularies.
type ROI struct {
	ID              int
	Type            Type
	Coords          Rect
	Focus           int
	Exposure        int
	AIThreshold     *float64
	DetectionMethod string
	Rotation        int
	DeviceID        int
	ExpectedText    *string
	IsDeviceBarcode bool
	Color           *ColorConfig
}

// GroupKey is the capture-group key for this ROI's camera settings.
func (r ROI) GroupKey() string {
	return GroupKey(r.Focus, r.Exposure)
}

// NextID returns the id a newly added ROI should take.
func NextID(rois []ROI) int {
	next := 0
	for _, r := range rois {
		if r.ID >= next {
			next = r.ID + 1
		}
	}
	return next
}
