package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/camera"
	"github.com/technosupport/ts-aoi/internal/imaging"
)

// Options configures an Orchestrator.
type Options struct {
	Product      string
	ClientInfo   string
	CameraSerial string
	// SharedRoot is the client's view of the mount both sides share;
	// captures are written here and referenced by relative path.
	SharedRoot string
}

// Orchestrator runs one full inspection cycle: open a session, walk the
// product's settings groups capturing one frame per group into the shared
// folder, submit the inspect request and cache the resolved barcodes.
type Orchestrator struct {
	api *API
	cam *camera.Controller
	opt Options
	log *zap.Logger

	mu       sync.Mutex
	barcodes map[int]string
}

func NewOrchestrator(api *API, cam *camera.Controller, opt Options, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		api:      api,
		cam:      cam,
		opt:      opt,
		log:      log,
		barcodes: make(map[int]string),
	}
}

// SetBarcode records a manually entered barcode for a device position. It is
// sent as an override on the next inspection.
func (o *Orchestrator) SetBarcode(deviceID int, code string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.barcodes[deviceID] = code
}

// Barcodes returns a copy of the cached per-device barcodes.
func (o *Orchestrator) Barcodes() map[int]string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[int]string, len(o.barcodes))
	for k, v := range o.barcodes {
		out[k] = v
	}
	return out
}

// Run executes one inspection cycle and returns the server's verdict.
func (o *Orchestrator) Run(ctx context.Context) (*InspectResponse, error) {
	groups, err := o.api.ROIGroups(ctx, o.opt.Product)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return nil, fmt.Errorf("product %s has no rois configured", o.opt.Product)
	}

	sess, err := o.api.CreateSession(ctx, o.opt.Product, o.opt.ClientInfo)
	if err != nil {
		return nil, err
	}

	captureStart := time.Now()
	captured, err := o.captureGroups(ctx, sess.SessionID, groups)
	if err != nil {
		return nil, err
	}
	captureTime := time.Since(captureStart).Seconds()

	req := InspectRequest{
		SessionID:      sess.SessionID,
		Product:        o.opt.Product,
		CapturedImages: captured,
		CaptureTime:    captureTime,
	}
	if overrides := o.overrides(); len(overrides) > 0 {
		req.DeviceBarcodes = &overrides
	}

	resp, err := o.api.Inspect(ctx, req)
	if err != nil {
		return nil, err
	}
	o.cacheBarcodes(resp.DeviceSummaries)

	// Close only after a completed cycle. A failed run leaves the session
	// open so its captures stay on disk for a retry or a look at what went
	// wrong; the server's sweeper reclaims it if nobody does.
	o.closeSession(sess.SessionID)

	// Return the optics to the first group's settings in the background so
	// the next cycle starts without a settle wait.
	go o.revert(groups[0].Focus, groups[0].Exposure)

	return resp, nil
}

// captureGroups holds the camera for the whole walk; a concurrent client
// gets ErrBusy rather than interleaved settings changes.
func (o *Orchestrator) captureGroups(ctx context.Context, sessionID string, groups []ROIGroup) (map[string]InspectGroup, error) {
	capturesDir := filepath.Join(o.opt.SharedRoot, "sessions", sessionID, "captures")
	if err := os.MkdirAll(capturesDir, 0750); err != nil {
		return nil, fmt.Errorf("create captures dir: %w", err)
	}

	captured := make(map[string]InspectGroup, len(groups))

	err := o.cam.WithExclusive(func(drv camera.Driver) error {
		if err := o.ensurePipeline(ctx, drv, groups[0].Focus, groups[0].Exposure); err != nil {
			return err
		}

		for _, g := range groups {
			st := drv.Status()
			// The first group's settings were applied at init; skipping
			// the settle wait there saves seconds on every cycle.
			skip := st.Focus == g.Focus && st.Exposure == g.Exposure
			if err := drv.SetProperties(ctx, g.Focus, g.Exposure, skip); err != nil {
				return fmt.Errorf("group %s: set properties: %w", g.Key, err)
			}

			frame, err := drv.Capture(ctx)
			if err != nil {
				return fmt.Errorf("group %s: capture: %w", g.Key, err)
			}

			name := fmt.Sprintf("group_%d_%d.jpg", g.Focus, g.Exposure)
			relPath := filepath.Join("sessions", sessionID, "captures", name)
			if err := imaging.SaveJPEG(filepath.Join(o.opt.SharedRoot, relPath), frame); err != nil {
				return fmt.Errorf("group %s: save capture: %w", g.Key, err)
			}

			bounds := frame.Bounds()
			captured[g.Key] = InspectGroup{
				Focus:     g.Focus,
				Exposure:  g.Exposure,
				ImagePath: filepath.ToSlash(relPath),
				Width:     bounds.Dx(),
				Height:    bounds.Dy(),
				ROIs:      g.ROIs,
			}
			o.log.Debug("group captured",
				zap.String("group", g.Key), zap.String("path", relPath))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return captured, nil
}

// ensurePipeline reuses a playing pipeline when it can. A stopped pipeline
// gets a restart first; only when that fails is it torn down and rebuilt.
func (o *Orchestrator) ensurePipeline(ctx context.Context, drv camera.Driver, focus, exposure int) error {
	switch drv.Status().PipelineState {
	case camera.StatePlaying:
		return nil
	case camera.StateInitialized:
		if err := drv.RestartPipeline(ctx); err == nil {
			return nil
		}
		o.log.Warn("pipeline restart failed, rebuilding")
	}

	if err := drv.ResetPipeline(ctx); err != nil {
		return fmt.Errorf("reset pipeline: %w", err)
	}
	if err := drv.Initialize(ctx, o.opt.CameraSerial, focus, exposure); err != nil {
		return fmt.Errorf("initialize camera: %w", err)
	}
	return nil
}

func (o *Orchestrator) overrides() []DeviceBarcode {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.barcodes) == 0 {
		return nil
	}
	out := make([]DeviceBarcode, 0, len(o.barcodes))
	for id, code := range o.barcodes {
		out = append(out, DeviceBarcode{DeviceID: id, Barcode: code})
	}
	return out
}

// cacheBarcodes keeps each device's resolved barcode so the operator does
// not rekey it on the next board of the same batch.
func (o *Orchestrator) cacheBarcodes(devices []DeviceVerdict) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, d := range devices {
		if d.Barcode != "" {
			o.barcodes[d.DeviceID] = d.Barcode
		}
	}
}

func (o *Orchestrator) revert(focus, exposure int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := o.cam.WithExclusive(func(drv camera.Driver) error {
		return drv.SetProperties(ctx, focus, exposure, false)
	})
	if err != nil {
		o.log.Debug("settings revert skipped", zap.Error(err))
	}
}

func (o *Orchestrator) closeSession(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), metadataTimeout)
	defer cancel()
	if err := o.api.CloseSession(ctx, id); err != nil {
		o.log.Warn("session close failed", zap.String("session_id", id), zap.Error(err))
	}
}
