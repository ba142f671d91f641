package api

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/aggregate"
	"github.com/technosupport/ts-aoi/internal/detect"
	"github.com/technosupport/ts-aoi/internal/dispatch"
	"github.com/technosupport/ts-aoi/internal/events"
	"github.com/technosupport/ts-aoi/internal/platform/paths"
	"github.com/technosupport/ts-aoi/internal/roi"
)

type capturedGroup struct {
	Focus     int             `json:"focus"`
	Exposure  int             `json:"exposure"`
	ImagePath string          `json:"image_path"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	ROIs      json.RawMessage `json:"rois"`
}

type deviceBarcode struct {
	DeviceID int    `json:"device_id"`
	Barcode  string `json:"barcode"`
}

type inspectRequest struct {
	SessionID      string                   `json:"session_id"`
	Product        string                   `json:"product"`
	CapturedImages map[string]capturedGroup `json:"captured_images"`
	CaptureTime    float64                  `json:"capture_time"`

	// A pointer distinguishes "key absent" from "key present and empty";
	// the two mean different things for barcode overrides.
	DeviceBarcodes *[]deviceBarcode `json:"device_barcodes"`
}

// POST /api/inspect
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.SessionID == "" || len(req.CapturedImages) == 0 {
		respondError(w, http.StatusBadRequest, "session_id and captured_images are required")
		return
	}

	sess, err := s.Sessions.Get(req.SessionID)
	if err != nil {
		respondMapped(w, err)
		return
	}
	product := req.Product
	if product == "" {
		product = sess.Product
	}

	groups, err := s.buildGroups(req.CapturedImages)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	env := detect.Env{Product: product, OutputDir: sess.OutputDir()}
	results := s.Dispatcher.Run(r.Context(), groups, env)

	overrides := aggregate.Overrides{}
	if req.DeviceBarcodes != nil {
		overrides.Provided = true
		overrides.Values = make(map[int]string, len(*req.DeviceBarcodes))
		for _, db := range *req.DeviceBarcodes {
			overrides.Values[db.DeviceID] = db.Barcode
		}
	} else {
		overrides.Cached = sess.CachedBarcodes()
	}
	summary := s.Aggregator.Aggregate(r.Context(), results, overrides)
	processing := time.Since(start).Seconds()

	resolved := make(map[int]string, len(summary.Devices))
	for _, dev := range summary.Devices {
		resolved[dev.DeviceID] = dev.RawBarcode
	}
	sess.CacheBarcodes(resolved)

	response := map[string]any{
		"device_summaries": summary.Devices,
		"summary": map[string]any{
			"passed":      summary.Passed,
			"total_rois":  summary.TotalROIs,
			"passed_rois": summary.PassedROIs,
			"failed_rois": summary.FailedROIs,
			"devices":     summary.DeviceCount,
		},
		"capture_time":    req.CaptureTime,
		"processing_time": processing,
		"total_time":      req.CaptureTime + processing,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}

	s.writeResults(sess.OutputDir(), response)
	if s.Metrics != nil {
		s.Metrics.ObserveInspection(summary.Passed, time.Since(start))
	}
	if s.Events != nil {
		s.Events.Publish(events.InspectionEvent{
			SessionID:   sess.ID,
			Product:     product,
			Passed:      summary.Passed,
			DeviceCount: summary.DeviceCount,
			FailedROIs:  summary.FailedROIs,
			Timestamp:   time.Now().UTC(),
		})
	}

	respondJSON(w, http.StatusOK, response)
}

// buildGroups validates each capture group's image path and ROI list. Group
// order follows the sorted group keys so runs are deterministic.
func (s *Server) buildGroups(captured map[string]capturedGroup) ([]dispatch.Group, error) {
	keys := make([]string, 0, len(captured))
	for key := range captured {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	groups := make([]dispatch.Group, 0, len(keys))
	for _, key := range keys {
		payload := captured[key]

		imagePath, err := s.resolveCapturePath(payload.ImagePath)
		if err != nil {
			return nil, err
		}
		rois, err := roi.NormalizeAll(payload.ROIs)
		if err != nil {
			return nil, err
		}

		groups = append(groups, dispatch.Group{
			Key:       key,
			Focus:     payload.Focus,
			Exposure:  payload.Exposure,
			ImagePath: imagePath,
			Width:     payload.Width,
			Height:    payload.Height,
			ROIs:      rois,
		})
	}
	return groups, nil
}

// resolveCapturePath confines capture paths to the shared mount. Relative
// paths are joined under it; absolute paths must already be inside it.
func (s *Server) resolveCapturePath(p string) (string, error) {
	if !filepath.IsAbs(p) {
		return paths.SafeJoin(s.SharedRoot, p)
	}
	cleaned := filepath.Clean(p)
	rel, err := filepath.Rel(s.SharedRoot, cleaned)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &pathError{path: p}
	}
	return cleaned, nil
}

type pathError struct {
	path string
}

func (e *pathError) Error() string {
	return "image_path escapes the shared folder: " + e.path
}

// writeResults persists the response next to the crop artifacts so an
// inspection can be reviewed after its session closes.
func (s *Server) writeResults(outputDir string, response map[string]any) {
	data, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		return
	}
	path := filepath.Join(outputDir, "results.json")
	if err := os.WriteFile(path, data, 0640); err != nil {
		s.Log.Warn("failed to write results.json", zap.String("path", path), zap.Error(err))
	}
}
