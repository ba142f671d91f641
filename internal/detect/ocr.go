package detect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/roi"
)

// Engine recognizes text in a crop, returning one string per detected line
// or region.
type Engine interface {
	Recognize(ctx context.Context, img image.Image) ([]string, error)
}

// HTTPEngine calls an OCR sidecar: POST JPEG bytes, JSON response
// {"texts": ["...", ...]}.
type HTTPEngine struct {
	url    string
	client *http.Client
}

func NewHTTPEngine(url string, timeout time.Duration) *HTTPEngine {
	return &HTTPEngine{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

func (e *HTTPEngine) Recognize(ctx context.Context, img image.Image) ([]string, error) {
	data, err := imaging.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "image/jpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr engine request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ocr engine returned status %d", resp.StatusCode)
	}

	var body struct {
		Texts []string `json:"texts"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	return body.Texts, nil
}

// OCRDetector rotates the crop upright, runs the engine and applies the
// expected-text contract: case-insensitive substring match, with the verdict
// tagged into the result text.
type OCRDetector struct {
	engine Engine
}

func NewOCRDetector(engine Engine) *OCRDetector {
	return &OCRDetector{engine: engine}
}

func (d *OCRDetector) Type() roi.Type { return roi.TypeOCR }

func (d *OCRDetector) Detect(ctx context.Context, frame image.Image, r roi.ROI, env Env) Result {
	crop := imaging.Crop(frame, r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2)
	rotated := imaging.Rotate(crop, r.Rotation)

	texts, err := d.engine.Recognize(ctx, rotated)
	if err != nil {
		return errResult(r, fmt.Errorf("ocr: %w", err))
	}
	detected := strings.Join(texts, " ")

	res := baseResult(r)
	res.Rotation = r.Rotation

	if r.ExpectedText != nil && *r.ExpectedText != "" {
		expected := *r.ExpectedText
		res.Expected = expected
		if strings.Contains(strings.ToLower(detected), strings.ToLower(expected)) {
			res.Passed = true
			res.Text = fmt.Sprintf("%s [PASS: Contains '%s']", detected, expected)
		} else {
			res.Passed = false
			res.Text = fmt.Sprintf("[FAIL: Expected '%s', detected '%s']", expected, detected)
		}
		return res
	}

	// No expectation configured: presence of any text passes.
	if strings.TrimSpace(detected) != "" {
		res.Passed = true
		res.Text = fmt.Sprintf("%s [PASS: Text detected]", detected)
	} else {
		res.Passed = false
		res.Text = "[FAIL: No text detected]"
	}
	return res
}
