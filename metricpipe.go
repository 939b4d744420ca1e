// Package metricpipe is a process-embedded telemetry library: declare
// strongly-typed counters and gauges, accumulate their values with
// lock-free or lock-minimal kernels, and ship periodic snapshots to
// one or more backends (Bosun, DataDog, SignalFx, StatsD) with retry
// and backpressure. This file wires the pieces in pkg/metrics,
// pkg/handler, and pkg/collector into one convenience entry point;
// every piece also works standalone for callers who want finer
// control.
package metricpipe

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/andrewpike/metricpipe/internal/selftelemetry"
	"github.com/andrewpike/metricpipe/pkg/collector"
	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// Pipeline bundles a MetricSource, a Collector, and the configured
// handlers behind a single Start/Stop lifecycle.
type Pipeline struct {
	Source    *metrics.MetricSource
	Collector *collector.Collector
	Recorder  *selftelemetry.Recorder
	logger    Logger
}

// New builds a Pipeline from cfg: one MetricSource tagged with
// cfg.DefaultTags, one handler per configured backend, and a
// Collector driving both on cfg's intervals. log may be nil, in which
// case logging is silently discarded.
func New(cfg *Config, log Logger) *Pipeline {
	if log == nil {
		log = NewNopLogger()
	}

	source := metrics.NewMetricSource(metrics.SourceOptions{DefaultTags: cfg.DefaultTags})
	recorder := selftelemetry.NewRecorder(prometheus.NewRegistry())

	p := &Pipeline{Source: source, Recorder: recorder, logger: log}

	handlers := cfg.Handlers()

	col := collector.New(collector.Options{
		SnapshotInterval: cfg.SnapshotInterval.Duration,
		FlushInterval:    cfg.FlushInterval.Duration,
		AfterSend: func(info handler.AfterSendInfo) {
			recorder.ObserveSend(info.HandlerName, info.Class.String(), info.BytesWritten, info.Duration.Seconds(), info.Err)
			if info.Err != nil {
				log.Warnw("metricpipe: send failed", "handler", info.HandlerName, "class", info.Class.String(), "err", info.Err)
			}
			if h, ok := handlers[info.HandlerName]; ok {
				status := h.Status()
				total := 0
				for _, n := range status.BufferedItems {
					total += n
				}
				recorder.SetBufferedItems(info.HandlerName, total)
			}
		},
		OnException: func(err error) {
			if qf, ok := err.(*handler.QueueFullError); ok {
				recorder.ObserveQueueFull(qf.HandlerName, qf.Class.String())
			}
			log.Errorw("metricpipe: collector exception", "err", err)
		},
	})
	col.AddSource(source)

	for name, h := range handlers {
		col.AddHandler(name, h)
	}

	p.Collector = col
	return p
}

// Start begins the collector's background snapshot/flush loops.
func (p *Pipeline) Start() { p.Collector.Start() }

// Stop cancels the background loops and performs a final flush.
func (p *Pipeline) Stop(ctx context.Context) error { return p.Collector.Stop(ctx) }
