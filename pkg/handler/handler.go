// Package handler implements the buffered, chunked-flush transport
// engine shared by every concrete metrics backend (HTTP/JSON and
// StatsD). A BufferedHandler owns one byte buffer per payload class,
// slices it into transport-sized payloads at flush time, and retries
// a whole payload class's detached sequence on transient failure.
package handler

import (
	"context"
	"sync"
	"time"

	"github.com/andrewpike/metricpipe/pkg/metrics"
)

const (
	// DefaultMaxPayloadSize is the default per-payload byte ceiling.
	DefaultMaxPayloadSize = 8000
	// MinMaxPayloadSize is the enforced floor for MaxPayloadSize.
	MinMaxPayloadSize = 1000
	// DefaultMaxPayloadCount is the default per-class buffered item ceiling.
	DefaultMaxPayloadCount = 240
	// DefaultMaxRetries is the default per-payload-class retry cap.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the default sleep between retries.
	DefaultRetryDelay = 5 * time.Second
)

// Serializer renders readings and metadata into a payload class's
// buffer and may trim a detached sequence before it is sent. It is
// supplied by each concrete backend (Bosun, DataDog, SignalFx, StatsD).
type Serializer interface {
	// SerializeMetric writes reading's wire representation to w and
	// returns the number of bytes written, or a *SerializationError if
	// reading cannot be represented (the item is then skipped, not
	// buffered).
	SerializeMetric(w *BufferWriter, reading metrics.Reading) (int, error)
	// SerializeMetadata writes md's wire representation to w for the
	// given payload class and returns the number of bytes written.
	SerializeMetadata(w *BufferWriter, class metrics.PayloadClass, md []metrics.Metadata) (int, error)
	// PrepareSequence may trim leading/trailing separators (e.g. a
	// stray comma) from a detached chunk before it is sent.
	PrepareSequence(seq []byte, class metrics.PayloadClass) []byte
}

// Sender ships one already-prepared payload for class and reports how
// many bytes were actually written to the wire. A returned error
// wrapped via newSkippableTransportError is retried without invoking
// the caller's exception handler.
type Sender interface {
	Send(ctx context.Context, class metrics.PayloadClass, seq []byte) (bytesWritten int, err error)
}

// AfterSendInfo describes the outcome of one payload send, reported to
// the afterSend hook passed to Flush.
type AfterSendInfo struct {
	HandlerName  string
	Class        metrics.PayloadClass
	BytesWritten int
	Duration     time.Duration
	Err          error
}

// HandlerStatus is a point-in-time snapshot of a handler's buffering
// state, useful for health/diagnostic endpoints.
type HandlerStatus struct {
	Name          string
	BufferedItems map[metrics.PayloadClass]int
	BufferedBytes map[metrics.PayloadClass]int
	LastFlushErr  error
	LastFlushAt   time.Time
}

// Options configures the limits a BufferedHandler enforces. A zero or
// negative limit selects its default, except MaxRetries: 0 disables
// retries and only a negative value selects DefaultMaxRetries.
type Options struct {
	Name            string
	MaxPayloadSize  int
	MaxPayloadCount int
	MaxRetries      int
	RetryDelay      time.Duration
	BlockSize       int
	// SharedBuffers groups payload classes that alias the same
	// underlying buffer (e.g. counters and gauges sharing one
	// endpoint); the QueueFull check then uses the sum of items
	// across every class in the group.
	SharedBuffers [][]metrics.PayloadClass
}

func (o *Options) normalize() {
	if o.MaxPayloadSize <= 0 {
		o.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if o.MaxPayloadSize < MinMaxPayloadSize {
		o.MaxPayloadSize = MinMaxPayloadSize
	}
	if o.MaxPayloadCount <= 0 {
		o.MaxPayloadCount = DefaultMaxPayloadCount
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.BlockSize <= 0 {
		o.BlockSize = defaultBlockSize
	}
}

// BufferedHandler is the central engine: per-payload-class buffering,
// item-count and byte-size limits, and serialized (never concurrent)
// flushing across payload classes for a single handler instance.
type BufferedHandler struct {
	opts       Options
	serializer Serializer
	sender     Sender

	mu        sync.Mutex
	buffers   map[metrics.PayloadClass]*classBuffer
	lastErr   error
	lastFlush time.Time
}

// New builds a BufferedHandler. serializer and sender are supplied by
// the concrete backend; opts is normalized against the documented
// defaults and minimums.
func New(serializer Serializer, sender Sender, opts Options) *BufferedHandler {
	opts.normalize()
	h := &BufferedHandler{
		opts:       opts,
		serializer: serializer,
		sender:     sender,
		buffers:    make(map[metrics.PayloadClass]*classBuffer),
	}
	for _, class := range metrics.PayloadClassOrder {
		h.buffers[class] = newClassBuffer(opts.BlockSize)
	}
	// SharedBuffers aliases every class in a group onto the first
	// class's buffer, so the QueueFull check (cb.count) naturally sums
	// over the whole group.
	for _, share := range opts.SharedBuffers {
		if len(share) == 0 {
			continue
		}
		buf := h.buffers[share[0]]
		for _, class := range share {
			h.buffers[class] = buf
		}
	}
	return h
}

// Batch is a lightweight ReadingBatch that routes each reading to the
// handler's per-class buffer and tallies bytes/metrics written.
type Batch struct {
	h              *BufferedHandler
	bytesWritten   int
	metricsWritten int
	err            error
}

func (b *Batch) Add(r metrics.Reading) {
	n, err := b.h.serializeMetric(r)
	if err != nil {
		b.err = err
		return
	}
	b.bytesWritten += n
	b.metricsWritten++
}

// BytesWritten returns the cumulative bytes buffered through this batch.
func (b *Batch) BytesWritten() int { return b.bytesWritten }

// MetricsWritten returns the cumulative reading count buffered through
// this batch.
func (b *Batch) MetricsWritten() int { return b.metricsWritten }

// Err returns the last error observed by Add, if any (QueueFullError or
// SerializationError); readings after the first error are still
// attempted.
func (b *Batch) Err() error { return b.err }

// BeginBatch returns a new Batch bound to this handler.
func (h *BufferedHandler) BeginBatch() *Batch { return &Batch{h: h} }

// SerializeMetric buffers a single reading without batch statistics.
func (h *BufferedHandler) SerializeMetric(r metrics.Reading) error {
	_, err := h.serializeMetric(r)
	return err
}

func (h *BufferedHandler) serializeMetric(r metrics.Reading) (int, error) {
	class := r.PayloadClass()

	rendered, err := h.renderMetric(r)
	if err != nil {
		var serr *SerializationError
		if ok := asSerializationError(err, &serr); ok {
			return 0, serr
		}
		return 0, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	cb := h.buffers[class]
	// cb is the same *classBuffer instance across every payload class
	// in a shared-buffer group (see New), so cb.count here is already
	// the group-wide total, which is what the queue-full check wants.
	if !cb.reserve(len(rendered), h.opts.MaxPayloadSize, h.opts.MaxPayloadCount) {
		return 0, &QueueFullError{HandlerName: h.opts.Name, Class: class, Count: cb.count}
	}
	n, _ := cb.buf.Write(rendered)
	cb.recordWrite()
	return n, nil
}

func (h *BufferedHandler) renderMetric(r metrics.Reading) ([]byte, error) {
	scratch := NewBufferWriter(h.opts.BlockSize)
	if _, err := h.serializer.SerializeMetric(scratch, r); err != nil {
		return nil, err
	}
	return scratch.Detach(), nil
}

func asSerializationError(err error, out **SerializationError) bool {
	if se, ok := err.(*SerializationError); ok {
		*out = se
		return true
	}
	return false
}

// SerializeMetadata buffers a metadata record into the metadata class
// buffer.
func (h *BufferedHandler) SerializeMetadata(md []metrics.Metadata) error {
	if len(md) == 0 {
		return nil
	}
	class := metrics.PayloadClassMetadata
	scratch := NewBufferWriter(h.opts.BlockSize)
	if _, err := h.serializer.SerializeMetadata(scratch, class, md); err != nil {
		return err
	}
	rendered := scratch.Detach()

	h.mu.Lock()
	defer h.mu.Unlock()
	cb := h.buffers[class]
	if !cb.reserve(len(rendered), h.opts.MaxPayloadSize, h.opts.MaxPayloadCount) {
		return &QueueFullError{HandlerName: h.opts.Name, Class: class, Count: cb.count}
	}
	cb.buf.Write(rendered)
	cb.recordWrite()
	return nil
}

// Flush drains every non-empty payload class in the fixed order
// metrics.PayloadClassOrder, splitting each detached sequence into
// maxPayloadSize-bounded chunks and sending them one at a time. A
// chunk send failure retries the whole detached sequence (not just the
// failing chunk) up to MaxRetries times with RetryDelay between
// attempts; flushes across classes are strictly serialized within one
// call. onException is skipped for errors the sender marks transient.
func (h *BufferedHandler) Flush(ctx context.Context, afterSend func(AfterSendInfo), onException func(error)) error {
	var firstErr error
	h.lastFlush = time.Now()

	seenBuffers := make(map[*classBuffer]bool)
	for _, class := range metrics.PayloadClassOrder {
		h.mu.Lock()
		cb := h.buffers[class]
		if seenBuffers[cb] || cb.buf.Len() == 0 {
			seenBuffers[cb] = true
			h.mu.Unlock()
			continue
		}
		seenBuffers[cb] = true
		data, offsets := cb.detach()
		h.mu.Unlock()

		err := h.flushClass(ctx, class, data, offsets, afterSend, onException)

		h.mu.Lock()
		cb.markEmpty()
		h.mu.Unlock()

		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	h.lastErr = firstErr
	return firstErr
}

func (h *BufferedHandler) flushClass(ctx context.Context, class metrics.PayloadClass, data []byte, offsets []int, afterSend func(AfterSendInfo), onException func(error)) error {
	chunks := splitChunks(data, offsets)
	attempt := 0
	for {
		err := h.sendChunks(ctx, class, chunks, afterSend)
		if err == nil {
			return nil
		}
		if !wantsSkipExceptionHandler(err) && onException != nil {
			onException(err)
		}
		attempt++
		if attempt > h.opts.MaxRetries {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(h.opts.RetryDelay):
		}
	}
}

func (h *BufferedHandler) sendChunks(ctx context.Context, class metrics.PayloadClass, chunks [][]byte, afterSend func(AfterSendInfo)) error {
	for _, chunk := range chunks {
		prepared := h.serializer.PrepareSequence(chunk, class)
		start := time.Now()
		n, err := h.sender.Send(ctx, class, prepared)
		duration := time.Since(start)
		if afterSend != nil {
			afterSend(AfterSendInfo{HandlerName: h.opts.Name, Class: class, BytesWritten: n, Duration: duration, Err: err})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Status returns a point-in-time snapshot of buffered item/byte counts
// per payload class and the outcome of the last Flush call.
func (h *BufferedHandler) Status() HandlerStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	items := make(map[metrics.PayloadClass]int, len(h.buffers))
	bytes := make(map[metrics.PayloadClass]int, len(h.buffers))
	for _, class := range metrics.PayloadClassOrder {
		cb := h.buffers[class]
		items[class] = cb.count
		bytes[class] = cb.buf.Len()
	}
	return HandlerStatus{
		Name:          h.opts.Name,
		BufferedItems: items,
		BufferedBytes: bytes,
		LastFlushErr:  h.lastErr,
		LastFlushAt:   h.lastFlush,
	}
}
