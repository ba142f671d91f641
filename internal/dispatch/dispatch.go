// Package dispatch fans one inspection out over its capture groups and ROIs.
// Each group's frame is decoded once; detectors run on a bounded worker pool
// and a failing or panicking detector is confined to its own ROI result.
package dispatch

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/technosupport/ts-aoi/internal/detect"
	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/metrics"
	"github.com/technosupport/ts-aoi/internal/roi"
)

// Group is one capture group: a frame on disk plus the ROIs inspected on it.
type Group struct {
	Key       string
	Focus     int
	Exposure  int
	ImagePath string
	Width     int
	Height    int
	ROIs      []roi.ROI
}

type Dispatcher struct {
	registry detect.Registry
	metrics  *metrics.Set
	workers  int
	log      *zap.Logger
}

// New builds a dispatcher. workers <= 0 sizes the pool to the CPU count.
// m may be nil.
func New(registry detect.Registry, m *metrics.Set, workers int, log *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Dispatcher{registry: registry, metrics: m, workers: workers, log: log}
}

// Run produces one result per configured ROI, ordered by roi_id. It never
// returns an error: every failure mode lands in the affected ROI's result.
func (d *Dispatcher) Run(ctx context.Context, groups []Group, env detect.Env) []detect.Result {
	var mu sync.Mutex
	var results []detect.Result

	pool, poolCtx := errgroup.WithContext(ctx)
	pool.SetLimit(d.workers)

	for _, group := range groups {
		frame, err := imaging.LoadJPEG(group.ImagePath)
		if err != nil {
			d.log.Error("capture frame unreadable, failing its rois",
				zap.String("group", group.Key), zap.String("path", group.ImagePath), zap.Error(err))
			mu.Lock()
			for _, r := range group.ROIs {
				results = append(results, failedResult(r, fmt.Errorf("read capture: %w", err)))
			}
			mu.Unlock()
			continue
		}

		for _, r := range group.ROIs {
			r := r
			pool.Go(func() error {
				res := d.detectOne(poolCtx, frame, r, env)
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
				return nil
			})
		}
	}

	// Tasks never return errors; Wait only synchronizes.
	_ = pool.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].RoiID < results[j].RoiID })
	return results
}

// detectOne runs a single detector, converting panics and missing
// registrations into failed results.
func (d *Dispatcher) detectOne(ctx context.Context, frame image.Image, r roi.ROI, env detect.Env) (res detect.Result) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("detector panicked",
				zap.Int("roi_id", r.ID), zap.String("type", r.Type.Name()), zap.Any("panic", rec))
			res = failedResult(r, fmt.Errorf("detector panic: %v", rec))
		}
	}()

	det, err := d.registry.For(r.Type)
	if err != nil {
		return failedResult(r, err)
	}

	start := time.Now()
	res = det.Detect(ctx, frame, r, env)
	if d.metrics != nil {
		d.metrics.ObserveDetector(res.Type, res.Passed, time.Since(start))
	}
	return res
}

func failedResult(r roi.ROI, err error) detect.Result {
	return detect.Result{
		RoiID:           r.ID,
		Type:            r.Type.Name(),
		DeviceID:        r.DeviceID,
		IsDeviceBarcode: r.IsDeviceBarcode,
		Passed:          false,
		Error:           err.Error(),
	}
}
