// Package metrics exposes the inspection pipeline's counters and latency
// histograms on a dedicated registry, keeping the /metrics surface free of
// default Go collectors from linked libraries.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Set holds every metric the server reports.
type Set struct {
	registry *prometheus.Registry

	Inspections      *prometheus.CounterVec
	RoiResults       *prometheus.CounterVec
	GoldenPromotions prometheus.Counter
	LinkLookups      *prometheus.CounterVec

	InspectionSeconds prometheus.Histogram
	DetectorSeconds   *prometheus.HistogramVec
}

func New() *Set {
	reg := prometheus.NewRegistry()
	s := &Set{registry: reg}

	s.Inspections = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aoi_inspections_total",
		Help: "Completed inspections by overall result",
	}, []string{"result"})
	reg.MustRegister(s.Inspections)

	s.RoiResults = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aoi_roi_results_total",
		Help: "Per-ROI detector outcomes",
	}, []string{"type", "passed"})
	reg.MustRegister(s.RoiResults)

	s.GoldenPromotions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aoi_golden_promotions_total",
		Help: "Golden samples promoted to best",
	})
	reg.MustRegister(s.GoldenPromotions)

	s.LinkLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "aoi_link_lookups_total",
		Help: "Barcode-link lookups by outcome (linked, unlinked, cached, failed)",
	}, []string{"outcome"})
	reg.MustRegister(s.LinkLookups)

	s.InspectionSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aoi_inspection_seconds",
		Help:    "Wall time of whole inspections",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
	reg.MustRegister(s.InspectionSeconds)

	s.DetectorSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aoi_detector_seconds",
		Help:    "Wall time of individual detector runs",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"type"})
	reg.MustRegister(s.DetectorSeconds)

	return s
}

func (s *Set) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ObserveDetector records one detector run.
func (s *Set) ObserveDetector(roiType string, passed bool, elapsed time.Duration) {
	label := "false"
	if passed {
		label = "true"
	}
	s.RoiResults.WithLabelValues(roiType, label).Inc()
	s.DetectorSeconds.WithLabelValues(roiType).Observe(elapsed.Seconds())
}

// ObserveInspection records one completed inspection.
func (s *Set) ObserveInspection(passed bool, elapsed time.Duration) {
	result := "fail"
	if passed {
		result = "pass"
	}
	s.Inspections.WithLabelValues(result).Inc()
	s.InspectionSeconds.Observe(elapsed.Seconds())
}
