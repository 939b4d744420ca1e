// Package selftelemetry records the library's own operational metrics
// (bytes shipped, flush errors, queue-full counts) on a
// caller-supplied Prometheus registry. It is ambient self-observability,
// not part of the metrics-shipping data path itself.
package selftelemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "metricpipe"

// Recorder exposes the counters and histograms the collector and
// handlers update as they run. A nil *Recorder is valid and records
// nothing, so callers that don't want self-telemetry can leave it
// unset.
type Recorder struct {
	bytesShipped   *prometheus.CounterVec
	flushErrors    *prometheus.CounterVec
	queueFulls     *prometheus.CounterVec
	flushDuration  *prometheus.HistogramVec
	bufferedItems  *prometheus.GaugeVec
}

// NewRecorder builds a Recorder and registers its collectors on reg.
// Pass prometheus.NewRegistry() in tests to avoid colliding with the
// default global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		bytesShipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_shipped_total",
			Help:      "Total bytes successfully sent to a backend, by handler and payload class.",
		}, []string{"handler", "class"}),
		flushErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flush_errors_total",
			Help:      "Total failed payload-class sends, by handler and payload class.",
		}, []string{"handler", "class"}),
		queueFulls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_full_total",
			Help:      "Total QueueFullError occurrences, by handler and payload class.",
		}, []string{"handler", "class"}),
		flushDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Duration of a single payload-class send, by handler and payload class.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"handler", "class"}),
		bufferedItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_items",
			Help:      "Items currently buffered awaiting flush, by handler.",
		}, []string{"handler"}),
	}
	reg.MustRegister(r.bytesShipped, r.flushErrors, r.queueFulls, r.flushDuration, r.bufferedItems)
	return r
}

// ObserveSend records the outcome of one payload-class send.
func (r *Recorder) ObserveSend(handlerName, class string, bytesWritten int, seconds float64, err error) {
	if r == nil {
		return
	}
	r.bytesShipped.WithLabelValues(handlerName, class).Add(float64(bytesWritten))
	r.flushDuration.WithLabelValues(handlerName, class).Observe(seconds)
	if err != nil {
		r.flushErrors.WithLabelValues(handlerName, class).Inc()
	}
}

// ObserveQueueFull records one QueueFullError for handlerName/class.
func (r *Recorder) ObserveQueueFull(handlerName, class string) {
	if r == nil {
		return
	}
	r.queueFulls.WithLabelValues(handlerName, class).Inc()
}

// SetBufferedItems records the current buffered-item count for
// handlerName, typically read from handler.HandlerStatus.
func (r *Recorder) SetBufferedItems(handlerName string, count int) {
	if r == nil {
		return
	}
	r.bufferedItems.WithLabelValues(handlerName).Set(float64(count))
}
