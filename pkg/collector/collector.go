// Package collector implements the scheduler that drives metric
// sources and handlers: periodic snapshot, metadata, and flush ticks,
// plus the lifecycle and event hooks that tie them together.
package collector

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// Default tick intervals.
const (
	DefaultSnapshotInterval = 30 * time.Second
	DefaultFlushInterval    = 10 * time.Second
	DefaultMetadataInterval = 24 * time.Hour
)

// Handler is the subset of *handler.BufferedHandler the collector
// drives. An interface so tests can substitute a fake without
// standing up real transports.
type Handler interface {
	BeginBatch() *handler.Batch
	SerializeMetadata(md []metrics.Metadata) error
	Flush(ctx context.Context, afterSend func(handler.AfterSendInfo), onException func(error)) error
	Status() handler.HandlerStatus
}

// Source is the subset of *metrics.MetricSource the collector drives.
type Source interface {
	WriteReadings(batch metrics.ReadingBatch, now time.Time)
	Metadata() []metrics.Metadata
	Attach(c metrics.SnapshotAttacher)
	Detach()
}

// SerializationInfo is reported to AfterSerialization once per
// snapshot tick.
type SerializationInfo struct {
	Count     int
	Duration  time.Duration
	StartedAt time.Time
}

// Options configures a Collector. Zero-value durations fall back to
// the package defaults.
type Options struct {
	SnapshotInterval time.Duration
	FlushInterval    time.Duration
	MetadataInterval time.Duration

	// Clock lets tests substitute a mock clock; defaults to the real
	// wall clock.
	Clock clock.Clock

	BeforeSerialization func()
	AfterSerialization  func(SerializationInfo)
	AfterSend           func(handler.AfterSendInfo)
	OnException         func(error)
}

func (o *Options) normalize() {
	if o.SnapshotInterval <= 0 {
		o.SnapshotInterval = DefaultSnapshotInterval
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = DefaultFlushInterval
	}
	if o.MetadataInterval <= 0 {
		o.MetadataInterval = DefaultMetadataInterval
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

type namedHandler struct {
	name    string
	handler Handler
}

// Collector owns the set of sources and handlers and runs the
// snapshot, metadata, and flush ticks. Its zero value is not usable;
// construct with New.
type Collector struct {
	id   uuid.UUID
	opts Options

	mu       sync.Mutex
	sources  []Source
	handlers []namedHandler

	metadataSent   bool
	lastMetadataAt time.Time

	flushNow map[string]bool // handlers due for an immediate out-of-cycle flush

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Collector. Call AddSource/AddHandler before Start.
func New(opts Options) *Collector {
	opts.normalize()
	return &Collector{
		id:       uuid.New(),
		opts:     opts,
		flushNow: make(map[string]bool),
	}
}

// ID identifies this collector instance, useful for correlating log
// lines and self-telemetry when a process runs more than one.
func (c *Collector) ID() uuid.UUID { return c.id }

// Now implements metrics.SnapshotAttacher.
func (c *Collector) Now() time.Time { return c.opts.Clock.Now() }

// AddSource registers s; sources added after Start are attached
// immediately.
func (c *Collector) AddSource(s Source) {
	c.mu.Lock()
	c.sources = append(c.sources, s)
	started := c.stopCh != nil
	c.mu.Unlock()
	if started {
		s.Attach(c)
	}
}

// AddHandler registers a named handler. Names must be unique; the
// collector does not enforce this, callers own their naming scheme.
func (c *Collector) AddHandler(name string, h Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, namedHandler{name: name, handler: h})
	c.mu.Unlock()
}

// Start attaches every source and spawns the snapshot and flush
// loops. Start is not safe to call twice.
func (c *Collector) Start() {
	c.mu.Lock()
	c.stopCh = make(chan struct{})
	sources := append([]Source(nil), c.sources...)
	c.mu.Unlock()

	for _, s := range sources {
		s.Attach(c)
	}

	c.wg.Add(2)
	go c.runSnapshotLoop()
	go c.runFlushLoop()
}

// Stop cancels both loops cooperatively, detaches every source, runs
// one last snapshot (which also serializes metadata if it is due), and
// performs one final flush before returning.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	stopCh := c.stopCh
	sources := append([]Source(nil), c.sources...)
	c.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	c.wg.Wait()

	for _, s := range sources {
		s.Detach()
	}

	c.snapshotTick()
	return c.flushAll(ctx)
}

func (c *Collector) runSnapshotLoop() {
	defer c.wg.Done()
	t := c.opts.Clock.Ticker(c.opts.SnapshotInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			c.snapshotTick()
		}
	}
}

func (c *Collector) runFlushLoop() {
	defer c.wg.Done()
	t := c.opts.Clock.Ticker(c.opts.FlushInterval)
	defer t.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-t.C:
			_ = c.flushAll(context.Background())
		}
	}
}

func (c *Collector) snapshotTick() {
	if c.opts.BeforeSerialization != nil {
		c.opts.BeforeSerialization()
	}
	start := c.opts.Clock.Now()
	now := start.UTC()

	c.mu.Lock()
	sources := append([]Source(nil), c.sources...)
	handlers := append([]namedHandler(nil), c.handlers...)
	c.mu.Unlock()

	count := 0
	for _, hn := range handlers {
		batch := hn.handler.BeginBatch()
		for _, s := range sources {
			s.WriteReadings(batch, now)
			if _, full := batch.Err().(*handler.QueueFullError); full {
				// Abort the remainder of this snapshot for this handler
				// only; other handlers are unaffected.
				break
			}
		}
		count += batch.MetricsWritten()
		if err := batch.Err(); err != nil {
			if _, full := err.(*handler.QueueFullError); full {
				c.scheduleImmediateFlush(hn.name)
			}
			if c.opts.OnException != nil {
				c.opts.OnException(err)
			}
		}
	}

	c.maybeSendMetadata(sources, handlers, now)

	if c.opts.AfterSerialization != nil {
		c.opts.AfterSerialization(SerializationInfo{
			Count:     count,
			Duration:  c.opts.Clock.Now().Sub(start),
			StartedAt: start,
		})
	}

	c.flushScheduledHandlers()
}

func (c *Collector) scheduleImmediateFlush(name string) {
	c.mu.Lock()
	c.flushNow[name] = true
	c.mu.Unlock()
}

// flushScheduledHandlers flushes only the handlers marked by
// scheduleImmediateFlush, ahead of the next regular flush tick.
func (c *Collector) flushScheduledHandlers() {
	c.mu.Lock()
	var due []namedHandler
	for _, hn := range c.handlers {
		if c.flushNow[hn.name] {
			due = append(due, hn)
			delete(c.flushNow, hn.name)
		}
	}
	c.mu.Unlock()
	for _, hn := range due {
		c.flushOne(context.Background(), hn)
	}
}

func (c *Collector) maybeSendMetadata(sources []Source, handlers []namedHandler, now time.Time) {
	c.mu.Lock()
	due := !c.metadataSent || now.Sub(c.lastMetadataAt) >= c.opts.MetadataInterval
	c.mu.Unlock()
	if !due {
		return
	}

	md := collectMetadata(sources)
	for _, hn := range handlers {
		if err := hn.handler.SerializeMetadata(md); err != nil {
			if c.opts.OnException != nil {
				c.opts.OnException(err)
			}
		}
	}

	c.mu.Lock()
	c.metadataSent = true
	c.lastMetadataAt = now
	c.mu.Unlock()
}

// collectMetadata flattens and deduplicates metadata across sources by
// (name-with-suffix, kind, tags).
func collectMetadata(sources []Source) []metrics.Metadata {
	seen := make(map[string]bool)
	var out []metrics.Metadata
	for _, s := range sources {
		for _, m := range s.Metadata() {
			key := m.NameWithSuffix + "\x1e" + string(m.Kind) + "\x1e" + m.Tags.Key()
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, m)
		}
	}
	return out
}

// flushAll flushes every handler concurrently; one handler's error
// never prevents the others from flushing.
func (c *Collector) flushAll(ctx context.Context) error {
	c.mu.Lock()
	handlers := append([]namedHandler(nil), c.handlers...)
	c.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	var errs error
	for _, hn := range handlers {
		hn := hn
		g.Go(func() error {
			if err := c.flushOne(gctx, hn); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errs
}

func (c *Collector) flushOne(ctx context.Context, hn namedHandler) error {
	return hn.handler.Flush(ctx, c.opts.AfterSend, c.opts.OnException)
}

// Status reports every handler's current buffering state, keyed by
// the name it was registered under.
func (c *Collector) Status() map[string]handler.HandlerStatus {
	c.mu.Lock()
	handlers := append([]namedHandler(nil), c.handlers...)
	c.mu.Unlock()

	out := make(map[string]handler.HandlerStatus, len(handlers))
	for _, hn := range handlers {
		out[hn.name] = hn.handler.Status()
	}
	return out
}
