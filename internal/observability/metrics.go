package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chirp",
		Name:      "scrape_items_total",
		Help:      "Scrape job items finished, by outcome",
	}, []string{"outcome"})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chirp",
		Name:      "faces_detected_total",
		Help:      "Total number of faces detected and stored",
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chirp",
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chirp",
		Name:      "scrape_job_duration_seconds",
		Help:      "Wall time of scrape job runs, by final status",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"status"})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chirp",
		Name:      "active_scrape_jobs",
		Help:      "Number of scrape jobs currently executing",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chirp",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chirp",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
