package session

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry             *prometheus.Registry
	messagesTotal        *prometheus.CounterVec
	batchesTotal         *prometheus.CounterVec
	batchDuration        prometheus.Histogram
	activeSessions       prometheus.Gauge
	imagesProcessedTotal prometheus.Counter
	imagesSkippedTotal   prometheus.Counter
	pixelsProcessedTotal prometheus.Counter
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logostamp_messages_total",
			Help: "Total inbound messages by kind.",
		}, []string{"kind"}),
		batchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "logostamp_batches_total",
			Help: "Total batch runs by outcome.",
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "logostamp_batch_duration_seconds",
			Help:    "Total processing duration for each batch run.",
			Buckets: prometheus.DefBuckets,
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "logostamp_active_sessions",
			Help: "Current number of sessions with a non-empty batch.",
		}),
		imagesProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logostamp_images_processed_total",
			Help: "Total base images composited successfully.",
		}),
		imagesSkippedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logostamp_images_skipped_total",
			Help: "Total base images skipped due to per-image failures.",
		}),
		pixelsProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "logostamp_pixels_processed_total",
			Help: "Total output pixels produced across all batch runs.",
		}),
	}

	registry.MustRegister(
		m.messagesTotal,
		m.batchesTotal,
		m.batchDuration,
		m.activeSessions,
		m.imagesProcessedTotal,
		m.imagesSkippedTotal,
		m.pixelsProcessedTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
