package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/golden"
	"github.com/technosupport/ts-aoi/internal/imaging"
	"github.com/technosupport/ts-aoi/internal/metrics"
	"github.com/technosupport/ts-aoi/internal/roi"
)

const (
	// DefaultCompareThreshold applies when an ROI carries no ai_threshold.
	DefaultCompareThreshold = 0.8

	// similarityEpsilon absorbs float noise at the threshold boundary.
	similarityEpsilon = 1e-8

	compareDenoiseStrength = 10
	goldenCacheSize        = 256
)

// CompareDetector scores a crop against the ROI's golden set. The best
// golden is tried first; a match against any other sample promotes it.
type CompareDetector struct {
	goldens *golden.Store
	extract Extractor
	cache   *lru.Cache[string, []float64]
	met     *metrics.Set
	log     *zap.Logger
}

func NewCompareDetector(goldens *golden.Store, extract Extractor, met *metrics.Set, log *zap.Logger) *CompareDetector {
	cache, _ := lru.New[string, []float64](goldenCacheSize)
	return &CompareDetector{goldens: goldens, extract: extract, cache: cache, met: met, log: log}
}

func (d *CompareDetector) Type() roi.Type { return roi.TypeCompare }

func (d *CompareDetector) Detect(ctx context.Context, frame image.Image, r roi.ROI, env Env) Result {
	crop := imaging.Crop(frame, r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2)
	denoised := imaging.Denoise(crop, compareDenoiseStrength)

	vec, err := d.extract.Extract(denoised)
	if err != nil {
		return errResult(r, fmt.Errorf("extract features: %w", err))
	}

	threshold := DefaultCompareThreshold
	if r.AIThreshold != nil {
		threshold = *r.AIThreshold
	}

	res := baseResult(r)
	res.Threshold = &threshold
	res.CapturedCrop = d.writeCrop(env, r.ID, "captured", crop)

	samples, err := d.goldens.List(env.Product, r.ID)
	if err != nil {
		return errResult(r, fmt.Errorf("list golden samples: %w", err))
	}
	if len(samples) == 0 {
		// An ROI without goldens is a configured-but-untrained state,
		// not a detector failure.
		zero := 0.0
		res.Similarity = &zero
		res.Passed = false
		return res
	}

	w, h := crop.Bounds().Dx(), crop.Bounds().Dy()
	bestSim := 0.0
	for i, samplePath := range samples {
		if err := ctx.Err(); err != nil {
			return errResult(r, err)
		}
		gv, err := d.goldenVector(samplePath, w, h)
		if err != nil {
			d.log.Warn("skipping unreadable golden sample",
				zap.String("path", samplePath), zap.Error(err))
			continue
		}
		sim := Cosine(vec, gv)
		if sim > bestSim {
			bestSim = sim
		}
		if sim+similarityEpsilon >= threshold {
			// A match against a non-best sample makes that sample the
			// new best for subsequent inspections.
			if i > 0 || filepath.Base(samplePath) != golden.BestName {
				if err := d.goldens.Promote(env.Product, r.ID, samplePath); err != nil {
					d.log.Error("golden promotion failed",
						zap.String("product", env.Product), zap.Int("roi_id", r.ID), zap.Error(err))
				} else if d.met != nil {
					d.met.GoldenPromotions.Inc()
				}
			}
			res.Similarity = &sim
			res.Passed = true
			res.ReferenceCrop = d.copyReference(env, r.ID, samplePath)
			return res
		}
	}

	res.Similarity = &bestSim
	res.Passed = false
	res.ReferenceCrop = d.copyReference(env, r.ID, samples[0])
	return res
}

// goldenVector loads, size-matches and featurizes one golden sample, caching
// by path, mtime and target dimensions.
func (d *CompareDetector) goldenVector(path string, w, h int) ([]float64, error) {
	key := path
	if info, err := os.Stat(path); err == nil {
		key = fmt.Sprintf("%s|%d|%dx%d", path, info.ModTime().UnixNano(), w, h)
	}
	if vec, ok := d.cache.Get(key); ok {
		return vec, nil
	}

	img, err := imaging.LoadJPEG(path)
	if err != nil {
		return nil, err
	}
	if img.Bounds().Dx() != w || img.Bounds().Dy() != h {
		img = imaging.Resize(img, w, h)
	}
	vec, err := d.extract.Extract(imaging.Denoise(img, compareDenoiseStrength))
	if err != nil {
		return nil, err
	}
	d.cache.Add(key, vec)
	return vec, nil
}

// writeCrop persists the captured crop artifact; failures degrade to an
// empty path, never to a failed result.
func (d *CompareDetector) writeCrop(env Env, roiID int, kind string, img image.Image) string {
	if env.OutputDir == "" {
		return ""
	}
	path := filepath.Join(env.OutputDir, fmt.Sprintf("roi_%d_%s.jpg", roiID, kind))
	if err := imaging.SaveJPEG(path, img); err != nil {
		d.log.Warn("failed to write crop artifact", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

func (d *CompareDetector) copyReference(env Env, roiID int, samplePath string) string {
	if env.OutputDir == "" {
		return ""
	}
	data, err := os.ReadFile(samplePath)
	if err != nil {
		return ""
	}
	path := filepath.Join(env.OutputDir, fmt.Sprintf("roi_%d_reference.jpg", roiID))
	if err := os.WriteFile(path, data, 0640); err != nil {
		d.log.Warn("failed to write reference artifact", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}
