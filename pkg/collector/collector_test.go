package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

type fakeSource struct {
	mu       sync.Mutex
	writes   int
	attached metrics.SnapshotAttacher
	detached bool
	md       []metrics.Metadata
}

func (s *fakeSource) WriteReadings(batch metrics.ReadingBatch, now time.Time) {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *fakeSource) Metadata() []metrics.Metadata { return s.md }
func (s *fakeSource) Attach(c metrics.SnapshotAttacher) {
	s.mu.Lock()
	s.attached = c
	s.mu.Unlock()
}
func (s *fakeSource) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

type fakeHandler struct {
	mu            sync.Mutex
	batches       int
	metadataCalls int
	flushes       int
	flushErr      error
}

func (h *fakeHandler) BeginBatch() *handler.Batch {
	h.mu.Lock()
	h.batches++
	h.mu.Unlock()
	return (&handler.BufferedHandler{}).BeginBatch()
}

func (h *fakeHandler) SerializeMetadata(md []metrics.Metadata) error {
	h.mu.Lock()
	h.metadataCalls++
	h.mu.Unlock()
	return nil
}

func (h *fakeHandler) Flush(ctx context.Context, afterSend func(handler.AfterSendInfo), onException func(error)) error {
	h.mu.Lock()
	h.flushes++
	err := h.flushErr
	h.mu.Unlock()
	return err
}

func (h *fakeHandler) Status() handler.HandlerStatus { return handler.HandlerStatus{} }

func (h *fakeHandler) flushCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.flushes
}

func (h *fakeHandler) metadataCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.metadataCalls
}

func TestCollector_SnapshotTickWritesEverySourceToEveryHandler(t *testing.T) {
	mc := clock.NewMock()
	var serializations int
	c := New(Options{
		SnapshotInterval: time.Second,
		FlushInterval:    time.Hour,
		Clock:            mc,
		AfterSerialization: func(SerializationInfo) {
			serializations++
		},
	})
	src := &fakeSource{}
	h := &fakeHandler{}
	c.AddSource(src)
	c.AddHandler("h1", h)
	c.Start()
	defer c.Stop(context.Background())

	mc.Add(time.Second)
	require.Eventually(t, func() bool { return serializations >= 1 }, time.Second, time.Millisecond)
	src.mu.Lock()
	writes := src.writes
	src.mu.Unlock()
	assert.GreaterOrEqual(t, writes, 1)
}

func TestCollector_StartAttachesSourcesAndStopDetaches(t *testing.T) {
	mc := clock.NewMock()
	c := New(Options{Clock: mc, SnapshotInterval: time.Hour, FlushInterval: time.Hour})
	src := &fakeSource{}
	c.AddSource(src)
	c.Start()

	src.mu.Lock()
	attached := src.attached
	src.mu.Unlock()
	assert.Equal(t, c, attached)

	require.NoError(t, c.Stop(context.Background()))
	src.mu.Lock()
	detached := src.detached
	src.mu.Unlock()
	assert.True(t, detached)
}

func TestCollector_MetadataSentOnFirstSnapshotThenNotAgainSoon(t *testing.T) {
	mc := clock.NewMock()
	c := New(Options{SnapshotInterval: time.Second, FlushInterval: time.Hour, Clock: mc})
	h := &fakeHandler{}
	c.AddSource(&fakeSource{})
	c.AddHandler("h1", h)
	c.Start()
	defer c.Stop(context.Background())

	mc.Add(time.Second)
	require.Eventually(t, func() bool { return h.metadataCount() == 1 }, time.Second, time.Millisecond)

	mc.Add(time.Second)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, 1, h.metadataCount(), "metadata is not re-sent until 24h have passed")
}

func TestCollector_FlushAllRunsEveryHandlerEvenIfOneErrors(t *testing.T) {
	mc := clock.NewMock()
	c := New(Options{Clock: mc, SnapshotInterval: time.Hour, FlushInterval: time.Hour})
	bad := &fakeHandler{flushErr: assert.AnError}
	good := &fakeHandler{}
	c.AddHandler("bad", bad)
	c.AddHandler("good", good)

	err := c.flushAll(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, bad.flushCount())
	assert.Equal(t, 1, good.flushCount())
}

func TestCollector_StatusReportsOnePerHandler(t *testing.T) {
	c := New(Options{})
	c.AddHandler("a", &fakeHandler{})
	c.AddHandler("b", &fakeHandler{})
	st := c.Status()
	assert.Len(t, st, 2)
	assert.Contains(t, st, "a")
	assert.Contains(t, st, "b")
}

func TestCollector_IDIsStableAcrossCalls(t *testing.T) {
	c := New(Options{})
	assert.Equal(t, c.ID(), c.ID())
}
