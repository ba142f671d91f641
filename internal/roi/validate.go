package roi

import (
	"fmt"
	"strings"
)

// ValidationErrors carries every violated rule for one ROI, not just the
// first; batch saves surface all of them together.
type ValidationErrors struct {
	RoiID  int
	Errors []string
}

func (v *ValidationErrors) Error() string {
	return fmt.Sprintf("roi %d: %s", v.RoiID, strings.Join(v.Errors, "; "))
}

func (v *ValidationErrors) add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate applies the per-field rules. A nil return means the ROI is valid.
func Validate(r ROI) *ValidationErrors {
	v := &ValidationErrors{RoiID: r.ID}

	if r.ID < 0 {
		v.add("roi_id must be >= 0, got %d", r.ID)
	}
	if !r.Type.Valid() {
		v.add("roi_type must be 1..4, got %d", int(r.Type))
	}
	if r.Coords.X1 >= r.Coords.X2 || r.Coords.Y1 >= r.Coords.Y2 {
		v.add("coords must satisfy x1<x2 and y1<y2, got [%d,%d,%d,%d]",
			r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2)
	}
	if r.Coords.X1 < 0 || r.Coords.Y1 < 0 {
		v.add("coords must be non-negative")
	}
	if r.Focus < 0 || r.Focus > 1000 {
		v.add("focus must be in [0,1000], got %d", r.Focus)
	}
	if r.Exposure < 0 || r.Exposure > 10000 {
		v.add("exposure must be in [0,10000], got %d", r.Exposure)
	}
	if r.DeviceID < 1 || r.DeviceID > 4 {
		v.add("device_location must be 1..4, got %d", r.DeviceID)
	}
	if r.AIThreshold != nil && (*r.AIThreshold < 0 || *r.AIThreshold > 1) {
		v.add("ai_threshold must be in [0.0,1.0], got %g", *r.AIThreshold)
	}
	switch r.Rotation {
	case 0, 90, 180, 270:
	default:
		v.add("rotation must be a multiple of 90 in {0,90,180,270}, got %d", r.Rotation)
	}

	// Type/optional-field consistency.
	if r.Type == TypeColor {
		if r.Color == nil {
			v.add("color roi requires color_config")
		} else if r.Color.ExpectedColor == nil && len(r.Color.Ranges) == 0 {
			v.add("color_config needs expected_color or color_ranges")
		}
	}
	if r.Type != TypeColor && r.Color != nil {
		v.add("color_config is only valid for color rois")
	}
	if r.Type != TypeCompare && r.AIThreshold != nil {
		v.add("ai_threshold is only valid for compare rois")
	}

	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// ValidateAll validates a batch, returning one ValidationErrors per invalid
// ROI and flagging duplicate ids across the batch.
func ValidateAll(rois []ROI) []*ValidationErrors {
	var out []*ValidationErrors
	seen := make(map[int]bool, len(rois))
	for _, r := range rois {
		v := Validate(r)
		if seen[r.ID] {
			if v == nil {
				v = &ValidationErrors{RoiID: r.ID}
			}
			v.add("duplicate roi_id %d", r.ID)
		}
		seen[r.ID] = true
		if v != nil {
			out = append(out, v)
		}
	}
	return out
}
