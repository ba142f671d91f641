// Package aggregate rolls per-ROI detector results up into per-device and
// overall verdicts, resolving each device's barcode along the way.
package aggregate

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/detect"
)

// Linker resolves a raw barcode to its canonical form; "" means no link and
// the raw value stands.
type Linker interface {
	Lookup(ctx context.Context, raw string) string
}

// Overrides carries the request's device_barcodes key. The key is
// tri-state: not provided at all, provided empty, or provided with entries.
// Provided distinguishes the first case from the other two. Cached holds
// the session's previously resolved barcodes and is consulted only when
// the key is absent.
type Overrides struct {
	Provided bool
	Values   map[int]string
	Cached   map[int]string
}

// DeviceSummary is the verdict for one physical device position.
type DeviceSummary struct {
	DeviceID   int             `json:"device_id"`
	Barcode    string          `json:"barcode,omitempty"`
	RawBarcode string          `json:"raw_barcode,omitempty"`
	Linked     bool            `json:"barcode_linked,omitempty"`
	Passed     bool            `json:"device_passed"`
	Results    []detect.Result `json:"roi_results"`
}

// Summary is the whole-inspection verdict.
type Summary struct {
	Devices     []DeviceSummary `json:"device_summaries"`
	Passed      bool            `json:"passed"`
	TotalROIs   int             `json:"total_rois"`
	PassedROIs  int             `json:"passed_rois"`
	FailedROIs  int             `json:"failed_rois"`
	DeviceCount int             `json:"device_count"`
}

type Aggregator struct {
	link Linker
	log  *zap.Logger
}

func New(link Linker, log *zap.Logger) *Aggregator {
	return &Aggregator{link: link, log: log}
}

// Aggregate groups results by device, picks each device's barcode and
// computes verdicts. Failed ROIs sort ahead of passed ones within a device
// so operators see defects first.
func (a *Aggregator) Aggregate(ctx context.Context, results []detect.Result, overrides Overrides) Summary {
	byDevice := make(map[int][]detect.Result)
	var deviceIDs []int
	for _, res := range results {
		if _, seen := byDevice[res.DeviceID]; !seen {
			deviceIDs = append(deviceIDs, res.DeviceID)
		}
		byDevice[res.DeviceID] = append(byDevice[res.DeviceID], res)
	}
	sort.Ints(deviceIDs)

	summary := Summary{Passed: true}
	for _, id := range deviceIDs {
		device := a.summarizeDevice(ctx, id, byDevice[id], overrides)
		summary.Devices = append(summary.Devices, device)
		if !device.Passed {
			summary.Passed = false
		}
	}

	summary.DeviceCount = len(summary.Devices)
	summary.TotalROIs = len(results)
	for _, res := range results {
		if res.Passed {
			summary.PassedROIs++
		} else {
			summary.FailedROIs++
		}
	}
	return summary
}

func (a *Aggregator) summarizeDevice(ctx context.Context, id int, results []detect.Result, overrides Overrides) DeviceSummary {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Passed != results[j].Passed {
			return !results[i].Passed
		}
		return results[i].RoiID < results[j].RoiID
	})

	device := DeviceSummary{DeviceID: id, Passed: true, Results: results}
	for _, res := range results {
		if !res.Passed {
			device.Passed = false
			break
		}
	}

	device.RawBarcode = a.rawBarcode(results, id, overrides)
	if device.RawBarcode != "" {
		if linked := a.link.Lookup(ctx, device.RawBarcode); linked != "" {
			device.Barcode = linked
			device.Linked = true
		} else {
			device.Barcode = device.RawBarcode
		}
	}
	return device
}

// rawBarcode applies the override contract: a provided device_barcodes key
// replaces the optical reading entirely, even when it names no barcode for
// this device. With the key absent, a session-cached barcode replays ahead
// of the optical reading (the cache exists to spare the operator rekeying
// a manual entry).
func (a *Aggregator) rawBarcode(results []detect.Result, id int, overrides Overrides) string {
	if overrides.Provided {
		return overrides.Values[id]
	}
	if code := overrides.Cached[id]; code != "" {
		return code
	}
	for _, res := range results {
		if !res.IsDeviceBarcode || res.Type != "barcode" {
			continue
		}
		for _, v := range res.Barcodes {
			if v != "" {
				return v
			}
		}
	}
	return ""
}
