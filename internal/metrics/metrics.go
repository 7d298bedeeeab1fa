// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload results
const (
	UploadNew       = "new"
	UploadDuplicate = "duplicate"
	UploadError     = "error"
)

var (
	// UploadsTotal counts staged files by classification.
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "face_lapse_uploads_total",
		Help: "Staged upload files by result.",
	}, []string{"result"})

	// AlignmentOutcomesTotal counts per-image alignment outcomes.
	AlignmentOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "face_lapse_alignment_outcomes_total",
		Help: "Alignment outcomes by status (aligned, no_face, error).",
	}, []string{"status"})

	// AlignmentDuration observes the time spent on one image.
	AlignmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "face_lapse_alignment_duration_seconds",
		Help:    "Duration of aligning a single image, detection included.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	// VideoRendersTotal counts compose calls by result.
	VideoRendersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "face_lapse_video_renders_total",
		Help: "Video renders by result (success, refused, error).",
	}, []string{"result"})

	// VideoRenderDuration observes successful and failed encodes.
	VideoRenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "face_lapse_video_render_duration_seconds",
		Help:    "Duration of rendering the timelapse.",
		Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
	})

	// HTTPRequestsTotal counts API requests by route pattern.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "face_lapse_http_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration observes API request latency by route pattern.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "face_lapse_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	// LibraryImages reports the record count seen by the last list request.
	LibraryImages = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "face_lapse_library_images",
		Help: "Number of images in the library at the last listing.",
	})
)
