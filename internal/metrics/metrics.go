// Package metrics exposes batch processing counters through Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Results recorded by ObserveImage
const (
	ResultCropped  = "cropped"
	ResultSkipped  = "skipped"
	ResultTooSmall = "too_small"
	ResultFailed   = "failed"
)

// Metrics holds the collectors of one pipeline run on a private registry
type Metrics struct {
	registry *prometheus.Registry

	images       *prometheus.CounterVec
	faces        prometheus.Histogram
	cropDuration prometheus.Histogram
	detectTime   prometheus.Histogram
}

// New creates and registers the collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wallcrop",
			Name:      "images_processed_total",
			Help:      "Images processed, by result",
		}, []string{"result"}),
		faces: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wallcrop",
			Name:      "faces_detected",
			Help:      "Faces detected per image",
			Buckets:   prometheus.LinearBuckets(0, 1, 10),
		}),
		cropDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wallcrop",
			Name:      "crop_duration_seconds",
			Help:      "Time spent computing the crops of one image",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}),
		detectTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "wallcrop",
			Name:      "detect_duration_seconds",
			Help:      "Time spent detecting faces",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}

	m.registry.MustRegister(m.images, m.faces, m.cropDuration, m.detectTime)
	return m
}

// Registry returns the registry holding the collectors
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveImage counts one processed image
func (m *Metrics) ObserveImage(result string) {
	m.images.WithLabelValues(result).Inc()
}

// ObserveFaces records the number of faces found in one image
func (m *Metrics) ObserveFaces(n int) {
	m.faces.Observe(float64(n))
}

// ObserveCrop records how long the crops of one image took
func (m *Metrics) ObserveCrop(d time.Duration) {
	m.cropDuration.Observe(d.Seconds())
}

// ObserveDetect records how long face detection took
func (m *Metrics) ObserveDetect(d time.Duration) {
	m.detectTime.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
