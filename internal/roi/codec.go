package roi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ServerROI is the server-side wire vocabulary.
type ServerROI struct {
	Idx             int          `json:"idx"`
	Type            int          `json:"type"`
	Coords          [4]int       `json:"coords"`
	Focus           int          `json:"focus"`
	Exposure        int          `json:"exposure"`
	AIThreshold     *float64     `json:"ai_threshold"`
	FeatureMethod   string       `json:"feature_method"`
	Rotation        int          `json:"rotation"`
	DeviceLocation  int          `json:"device_location"`
	ExpectedText    *string      `json:"expected_text"`
	IsDeviceBarcode bool         `json:"is_device_barcode"`
	ColorConfig     *ColorConfig `json:"color_config,omitempty"`
}

// ClientROI is the client/UI wire vocabulary for the same entity.
type ClientROI struct {
	RoiID           int          `json:"roi_id"`
	RoiTypeName     string       `json:"roi_type_name"`
	Coordinates     [4]int       `json:"coordinates"`
	Focus           int          `json:"focus"`
	Exposure        int          `json:"exposure"`
	AIThreshold     *float64     `json:"ai_threshold"`
	DetectionMethod string       `json:"detection_method"`
	Rotation        int          `json:"rotation"`
	DeviceID        int          `json:"device_id"`
	ExpectedText    *string      `json:"expected_text"`
	IsDeviceBarcode bool         `json:"is_device_barcode"`
	ColorConfig     *ColorConfig `json:"color_config,omitempty"`
}

// ToServer emits the server-side field names.
func ToServer(r ROI) ServerROI {
	return ServerROI{
		Idx:             r.ID,
		Type:            int(r.Type),
		Coords:          [4]int{r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2},
		Focus:           r.Focus,
		Exposure:        r.Exposure,
		AIThreshold:     r.AIThreshold,
		FeatureMethod:   r.DetectionMethod,
		Rotation:        r.Rotation,
		DeviceLocation:  r.DeviceID,
		ExpectedText:    r.ExpectedText,
		IsDeviceBarcode: r.IsDeviceBarcode,
		ColorConfig:     r.Color,
	}
}

// ToClient emits the client/UI field names, mapping the numeric type to its
// name via {1:barcode, 2:compare, 3:ocr, 4:color}.
func ToClient(r ROI) ClientROI {
	return ClientROI{
		RoiID:           r.ID,
		RoiTypeName:     r.Type.Name(),
		Coordinates:     [4]int{r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2},
		Focus:           r.Focus,
		Exposure:        r.Exposure,
		AIThreshold:     r.AIThreshold,
		DetectionMethod: r.DetectionMethod,
		Rotation:        r.Rotation,
		DeviceID:        r.DeviceID,
		ExpectedText:    r.ExpectedText,
		IsDeviceBarcode: r.IsDeviceBarcode,
		ColorConfig:     r.Color,
	}
}

// Normalize accepts any serialized ROI shape — legacy positional array
// (length 3..12), server-named object, or client-named object — and returns
// the canonical form with defaults filled. Numeric strings are coerced.
func Normalize(raw json.RawMessage) (ROI, error) {
	trimmed := strings.TrimLeft(string(raw), " \t\r\n")
	if trimmed == "" {
		return ROI{}, fmt.Errorf("%w: empty value", ErrInvalidROI)
	}
	switch trimmed[0] {
	case '[':
		return normalizeArray(raw)
	case '{':
		return normalizeObject(raw)
	default:
		return ROI{}, fmt.Errorf("%w: expected array or object", ErrInvalidROI)
	}
}

// NormalizeAll normalizes a JSON array of ROIs in any accepted shape.
func NormalizeAll(raw json.RawMessage) ([]ROI, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: not a list: %v", ErrInvalidROI, err)
	}
	out := make([]ROI, 0, len(items))
	for i, item := range items {
		r, err := Normalize(item)
		if err != nil {
			return nil, fmt.Errorf("roi %d: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

// Legacy array positions:
// [idx, type, coords, focus, exposure, ai_threshold, feature_method,
//  rotation, device_location, expected_text, is_device_barcode, color_config]
func normalizeArray(raw json.RawMessage) (ROI, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return ROI{}, fmt.Errorf("%w: %v", ErrInvalidROI, err)
	}
	if len(fields) < 3 || len(fields) > 12 {
		return ROI{}, fmt.Errorf("%w: legacy array has %d positions, want 3..12", ErrInvalidROI, len(fields))
	}

	r := ROI{
		Focus:           DefaultFocus,
		Exposure:        DefaultExposure,
		DetectionMethod: DefaultDetectionMethod,
		DeviceID:        DefaultDeviceID,
		IsDeviceBarcode: true,
	}

	id, err := coerceInt(fields[0])
	if err != nil {
		return ROI{}, fmt.Errorf("%w: position 0 (idx): %v", ErrInvalidROI, err)
	}
	r.ID = id

	typ, err := coerceInt(fields[1])
	if err != nil {
		return ROI{}, fmt.Errorf("%w: position 1 (type): %v", ErrInvalidROI, err)
	}
	r.Type = Type(typ)

	coords, err := coerceCoords(fields[2])
	if err != nil {
		return ROI{}, fmt.Errorf("%w: position 2 (coords): %v", ErrInvalidROI, err)
	}
	r.Coords = coords

	if len(fields) > 3 && !isNull(fields[3]) {
		if r.Focus, err = coerceInt(fields[3]); err != nil {
			return ROI{}, fmt.Errorf("%w: position 3 (focus): %v", ErrInvalidROI, err)
		}
	}
	if len(fields) > 4 && !isNull(fields[4]) {
		if r.Exposure, err = coerceInt(fields[4]); err != nil {
			return ROI{}, fmt.Errorf("%w: position 4 (exposure): %v", ErrInvalidROI, err)
		}
	}
	if len(fields) > 5 && !isNull(fields[5]) {
		v, err := coerceFloat(fields[5])
		if err != nil {
			return ROI{}, fmt.Errorf("%w: position 5 (ai_threshold): %v", ErrInvalidROI, err)
		}
		r.AIThreshold = &v
	}
	if len(fields) > 6 && !isNull(fields[6]) {
		if err := json.Unmarshal(fields[6], &r.DetectionMethod); err != nil {
			return ROI{}, fmt.Errorf("%w: position 6 (feature_method): %v", ErrInvalidROI, err)
		}
	}
	if len(fields) > 7 && !isNull(fields[7]) {
		if r.Rotation, err = coerceInt(fields[7]); err != nil {
			return ROI{}, fmt.Errorf("%w: position 7 (rotation): %v", ErrInvalidROI, err)
		}
	}
	if len(fields) > 8 && !isNull(fields[8]) {
		if r.DeviceID, err = coerceInt(fields[8]); err != nil {
			return ROI{}, fmt.Errorf("%w: position 8 (device_location): %v", ErrInvalidROI, err)
		}
	}
	if len(fields) > 9 && !isNull(fields[9]) {
		var txt string
		if err := json.Unmarshal(fields[9], &txt); err != nil {
			return ROI{}, fmt.Errorf("%w: position 9 (expected_text): %v", ErrInvalidROI, err)
		}
		r.ExpectedText = &txt
	}
	if len(fields) > 10 && !isNull(fields[10]) {
		if err := json.Unmarshal(fields[10], &r.IsDeviceBarcode); err != nil {
			return ROI{}, fmt.Errorf("%w: position 10 (is_device_barcode): %v", ErrInvalidROI, err)
		}
	}
	if len(fields) > 11 && !isNull(fields[11]) {
		var cc ColorConfig
		if err := json.Unmarshal(fields[11], &cc); err != nil {
			return ROI{}, fmt.Errorf("%w: position 11 (color_config): %v", ErrInvalidROI, err)
		}
		r.Color = &cc
	}

	return r, nil
}

// wireObject accepts both the server and the client vocabulary; whichever
// side is present wins, so a mixed object still normalizes deterministically
// (server names take precedence).
type wireObject struct {
	// Server names.
	Idx            *json.RawMessage `json:"idx"`
	Type           *json.RawMessage `json:"type"`
	Coords         *json.RawMessage `json:"coords"`
	FeatureMethod  *string          `json:"feature_method"`
	DeviceLocation *json.RawMessage `json:"device_location"`

	// Client names.
	RoiID           *json.RawMessage `json:"roi_id"`
	RoiTypeName     *string          `json:"roi_type_name"`
	Coordinates     *json.RawMessage `json:"coordinates"`
	DetectionMethod *string          `json:"detection_method"`
	DeviceID        *json.RawMessage `json:"device_id"`

	// Shared names.
	Focus           *json.RawMessage `json:"focus"`
	Exposure        *json.RawMessage `json:"exposure"`
	AIThreshold     *json.RawMessage `json:"ai_threshold"`
	Rotation        *json.RawMessage `json:"rotation"`
	ExpectedText    *string          `json:"expected_text"`
	IsDeviceBarcode *bool            `json:"is_device_barcode"`
	ColorConfig     *ColorConfig     `json:"color_config"`
}

func normalizeObject(raw json.RawMessage) (ROI, error) {
	var w wireObject
	if err := json.Unmarshal(raw, &w); err != nil {
		return ROI{}, fmt.Errorf("%w: %v", ErrInvalidROI, err)
	}

	r := ROI{
		Focus:           DefaultFocus,
		Exposure:        DefaultExposure,
		DetectionMethod: DefaultDetectionMethod,
		DeviceID:        DefaultDeviceID,
		IsDeviceBarcode: true,
	}

	idRaw := firstRaw(w.Idx, w.RoiID)
	if idRaw == nil {
		return ROI{}, fmt.Errorf("%w: missing idx/roi_id", ErrInvalidROI)
	}
	id, err := coerceInt(*idRaw)
	if err != nil {
		return ROI{}, fmt.Errorf("%w: idx: %v", ErrInvalidROI, err)
	}
	r.ID = id

	switch {
	case w.Type != nil && !isNull(*w.Type):
		typ, err := coerceInt(*w.Type)
		if err != nil {
			return ROI{}, fmt.Errorf("%w: type: %v", ErrInvalidROI, err)
		}
		r.Type = Type(typ)
	case w.RoiTypeName != nil:
		t, ok := TypeByName(*w.RoiTypeName)
		if !ok {
			return ROI{}, fmt.Errorf("%w: unknown roi_type_name %q", ErrInvalidROI, *w.RoiTypeName)
		}
		r.Type = t
	default:
		return ROI{}, fmt.Errorf("%w: missing type/roi_type_name", ErrInvalidROI)
	}

	coordsRaw := firstRaw(w.Coords, w.Coordinates)
	if coordsRaw == nil {
		return ROI{}, fmt.Errorf("%w: missing coords/coordinates", ErrInvalidROI)
	}
	if r.Coords, err = coerceCoords(*coordsRaw); err != nil {
		return ROI{}, fmt.Errorf("%w: coords: %v", ErrInvalidROI, err)
	}

	if w.Focus != nil && !isNull(*w.Focus) {
		if r.Focus, err = coerceInt(*w.Focus); err != nil {
			return ROI{}, fmt.Errorf("%w: focus: %v", ErrInvalidROI, err)
		}
	}
	if w.Exposure != nil && !isNull(*w.Exposure) {
		if r.Exposure, err = coerceInt(*w.Exposure); err != nil {
			return ROI{}, fmt.Errorf("%w: exposure: %v", ErrInvalidROI, err)
		}
	}
	if w.AIThreshold != nil && !isNull(*w.AIThreshold) {
		v, err := coerceFloat(*w.AIThreshold)
		if err != nil {
			return ROI{}, fmt.Errorf("%w: ai_threshold: %v", ErrInvalidROI, err)
		}
		r.AIThreshold = &v
	}
	if w.FeatureMethod != nil {
		r.DetectionMethod = *w.FeatureMethod
	} else if w.DetectionMethod != nil {
		r.DetectionMethod = *w.DetectionMethod
	}
	if w.Rotation != nil && !isNull(*w.Rotation) {
		if r.Rotation, err = coerceInt(*w.Rotation); err != nil {
			return ROI{}, fmt.Errorf("%w: rotation: %v", ErrInvalidROI, err)
		}
	}
	devRaw := firstRaw(w.DeviceLocation, w.DeviceID)
	if devRaw != nil && !isNull(*devRaw) {
		if r.DeviceID, err = coerceInt(*devRaw); err != nil {
			return ROI{}, fmt.Errorf("%w: device_location: %v", ErrInvalidROI, err)
		}
	}
	if w.ExpectedText != nil {
		r.ExpectedText = w.ExpectedText
	}
	if w.IsDeviceBarcode != nil {
		r.IsDeviceBarcode = *w.IsDeviceBarcode
	}
	if w.ColorConfig != nil {
		r.Color = w.ColorConfig
	}

	return r, nil
}

func firstRaw(candidates ...*json.RawMessage) *json.RawMessage {
	for _, c := range candidates {
		if c != nil {
			return c
		}
	}
	return nil
}

func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

func coerceInt(raw json.RawMessage) (int, error) {
	var i int
	if err := json.Unmarshal(raw, &i); err == nil {
		return i, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f), nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		i, convErr := strconv.Atoi(strings.TrimSpace(s))
		if convErr != nil {
			return 0, fmt.Errorf("cannot coerce %q to int", s)
		}
		return i, nil
	}
	return 0, fmt.Errorf("cannot coerce %s to int", string(raw))
}

func coerceFloat(raw json.RawMessage) (float64, error) {
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, convErr := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if convErr != nil {
			return 0, fmt.Errorf("cannot coerce %q to float", s)
		}
		return f, nil
	}
	return 0, fmt.Errorf("cannot coerce %s to float", string(raw))
}

func coerceCoords(raw json.RawMessage) (Rect, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Rect{}, fmt.Errorf("coords must be a 4-element array: %v", err)
	}
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("coords must have 4 elements, got %d", len(parts))
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := coerceInt(p)
		if err != nil {
			return Rect{}, err
		}
		vals[i] = v
	}
	return Rect{X1: vals[0], Y1: vals[1], X2: vals[2], Y2: vals[3]}, nil
}
