// Package client is the operator-side half of the system: a thin typed
// wrapper over the server's HTTP API plus the capture orchestrator that
// drives the camera through a product's settings groups.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/roi"
)

const (
	metadataTimeout = 10 * time.Second

	// Inspections run detectors over every group; the budget matches the
	// server's own inspect handler timeout.
	inspectTimeout = 180 * time.Second
)

// ErrServerBusy maps the server's 409 responses (camera held by another
// client, or a session conflict). Retry after a few seconds.
var ErrServerBusy = errors.New("server busy")

// API is the typed client for the inspection server.
type API struct {
	baseURL string
	meta    *http.Client
	inspect *http.Client
	log     *zap.Logger
}

func NewAPI(baseURL string, log *zap.Logger) *API {
	return &API{
		baseURL: baseURL,
		meta:    &http.Client{Timeout: metadataTimeout},
		inspect: &http.Client{Timeout: inspectTimeout},
		log:     log,
	}
}

// SessionInfo is the server's answer to a session create.
type SessionInfo struct {
	SessionID          string `json:"session_id"`
	ROIGroupsCount     int    `json:"roi_groups_count"`
	DevicesNeedBarcode []int  `json:"devices_need_barcode"`
}

// ROIGroup is one capture-settings group of a product config.
type ROIGroup struct {
	Key      string          `json:"group_key"`
	Focus    int             `json:"focus"`
	Exposure int             `json:"exposure"`
	ROIs     []roi.ClientROI `json:"rois"`
}

// InspectGroup is the per-group payload of an inspect request. ImagePath is
// relative to the shared mount.
type InspectGroup struct {
	Focus     int             `json:"focus"`
	Exposure  int             `json:"exposure"`
	ImagePath string          `json:"image_path"`
	Width     int             `json:"width"`
	Height    int             `json:"height"`
	ROIs      []roi.ClientROI `json:"rois"`
}

// DeviceBarcode is a manual barcode entry for one device position.
type DeviceBarcode struct {
	DeviceID int    `json:"device_id"`
	Barcode  string `json:"barcode"`
}

// InspectRequest mirrors the server's inspect body. DeviceBarcodes nil means
// "use the optical readings"; non-nil (even empty) replaces them.
type InspectRequest struct {
	SessionID      string                  `json:"session_id"`
	Product        string                  `json:"product"`
	CapturedImages map[string]InspectGroup `json:"captured_images"`
	DeviceBarcodes *[]DeviceBarcode        `json:"device_barcodes,omitempty"`
	CaptureTime    float64                 `json:"capture_time"`
}

// DeviceVerdict is the server's per-device summary.
type DeviceVerdict struct {
	DeviceID   int               `json:"device_id"`
	Barcode    string            `json:"barcode"`
	RawBarcode string            `json:"raw_barcode"`
	Linked     bool              `json:"barcode_linked"`
	Passed     bool              `json:"device_passed"`
	Results    []json.RawMessage `json:"roi_results"`
}

// InspectSummary is the whole-inspection verdict.
type InspectSummary struct {
	Passed     bool `json:"passed"`
	TotalROIs  int  `json:"total_rois"`
	PassedROIs int  `json:"passed_rois"`
	FailedROIs int  `json:"failed_rois"`
	Devices    int  `json:"devices"`
}

// InspectResponse is the server's answer to an inspect request.
type InspectResponse struct {
	DeviceSummaries []DeviceVerdict `json:"device_summaries"`
	Summary         InspectSummary  `json:"summary"`
	CaptureTime     float64         `json:"capture_time"`
	ProcessingTime  float64         `json:"processing_time"`
	TotalTime       float64         `json:"total_time"`
	Timestamp       string          `json:"timestamp"`
}

func (a *API) Health(ctx context.Context) error {
	return a.do(ctx, a.meta, http.MethodGet, "/api/health", nil, nil)
}

func (a *API) CreateSession(ctx context.Context, product, clientInfo string) (*SessionInfo, error) {
	var info SessionInfo
	err := a.do(ctx, a.meta, http.MethodPost, "/api/sessions", map[string]string{
		"product_name": product,
		"client_info":  clientInfo,
	}, &info)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

func (a *API) CloseSession(ctx context.Context, id string) error {
	return a.do(ctx, a.meta, http.MethodDelete, "/api/sessions/"+id, nil, nil)
}

func (a *API) ROIGroups(ctx context.Context, product string) ([]ROIGroup, error) {
	var out struct {
		Groups []ROIGroup `json:"roi_groups"`
	}
	if err := a.do(ctx, a.meta, http.MethodGet, "/api/products/"+product+"/roi-groups", nil, &out); err != nil {
		return nil, err
	}
	return out.Groups, nil
}

func (a *API) Inspect(ctx context.Context, req InspectRequest) (*InspectResponse, error) {
	var resp InspectResponse
	if err := a.do(ctx, a.inspect, http.MethodPost, "/api/inspect", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (a *API) do(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return a.asError(method, path, resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

func (a *API) asError(method, path string, resp *http.Response) error {
	var payload struct {
		Error string `json:"error"`
	}
	json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&payload)
	if payload.Error == "" {
		payload.Error = resp.Status
	}
	if resp.StatusCode == http.StatusConflict {
		return fmt.Errorf("%w: %s", ErrServerBusy, payload.Error)
	}
	return fmt.Errorf("%s %s: %s (status %d)", method, path, payload.Error, resp.StatusCode)
}
