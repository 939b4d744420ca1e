package handler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// lineSerializer renders readings as "<name>=<value>;" and metadata as
// a fixed sentinel, trimming a trailing separator in PrepareSequence.
type lineSerializer struct{}

func (lineSerializer) SerializeMetric(w *BufferWriter, r metrics.Reading) (int, error) {
	return w.Write([]byte(fmt.Sprintf("%s=%d;", r.Name(), int(r.Value()))))
}

func (lineSerializer) SerializeMetadata(w *BufferWriter, class metrics.PayloadClass, md []metrics.Metadata) (int, error) {
	return w.Write([]byte("meta;"))
}

func (lineSerializer) PrepareSequence(seq []byte, class metrics.PayloadClass) []byte {
	if len(seq) > 0 && seq[len(seq)-1] == ';' {
		return seq[:len(seq)-1]
	}
	return seq
}

type recordingSender struct {
	sent       [][]byte
	failTimes  int
	skippable  bool
}

func (s *recordingSender) Send(_ context.Context, _ metrics.PayloadClass, seq []byte) (int, error) {
	if s.failTimes > 0 {
		s.failTimes--
		if s.skippable {
			return 0, newSkippableTransportError(metrics.PayloadClassCounter, fmt.Errorf("transient"))
		}
		return 0, &TransportError{Class: metrics.PayloadClassCounter, Cause: fmt.Errorf("boom")}
	}
	cp := append([]byte(nil), seq...)
	s.sent = append(s.sent, cp)
	return len(seq), nil
}

func newTestReading(name string, value int) metrics.Reading {
	return metrics.NewReading(name, metrics.MetricTypeCounter, float64(value), metrics.TagSet{}, time.Now(), "")
}

// Serializing many small readings under the smallest allowed
// maxPayloadSize produces multiple bounded payloads.
func TestBufferedHandler_FlushSlicesIntoBoundedPayloads(t *testing.T) {
	sender := &recordingSender{}
	h := New(lineSerializer{}, sender, Options{MaxPayloadSize: MinMaxPayloadSize, MaxPayloadCount: 1000})

	for i := 0; i < 200; i++ {
		require.NoError(t, h.SerializeMetric(newTestReading("counter.x", i)))
	}

	err := h.Flush(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Greater(t, len(sender.sent), 1)
	for _, chunk := range sender.sent {
		assert.LessOrEqual(t, len(chunk), MinMaxPayloadSize)
	}
}

// QueueFullError is raised once maxPayloadCount would be exceeded.
func TestBufferedHandler_QueueFullAtMaxPayloadCount(t *testing.T) {
	sender := &recordingSender{}
	h := New(lineSerializer{}, sender, Options{MaxPayloadCount: 10})

	for i := 0; i < 10; i++ {
		require.NoError(t, h.SerializeMetric(newTestReading("counter.x", i)))
	}
	err := h.SerializeMetric(newTestReading("counter.x", 99))
	require.Error(t, err)
	var qfe *QueueFullError
	require.ErrorAs(t, err, &qfe)
	assert.Equal(t, metrics.PayloadClassCounter, qfe.Class)
	assert.Equal(t, 10, qfe.Count)
}

// A transient failure retries the whole detached sequence; once a
// retry succeeds, every chunk is delivered exactly once.
func TestBufferedHandler_RetriesWholeSequenceOnTransientFailure(t *testing.T) {
	sender := &recordingSender{failTimes: 1}
	h := New(lineSerializer{}, sender, Options{MaxPayloadSize: 8000, MaxRetries: 1, RetryDelay: time.Millisecond})

	require.NoError(t, h.SerializeMetric(newTestReading("counter.x", 1)))
	require.NoError(t, h.SerializeMetric(newTestReading("counter.y", 2)))

	var exceptions []error
	err := h.Flush(context.Background(), nil, func(e error) { exceptions = append(exceptions, e) })
	require.NoError(t, err)
	require.Len(t, sender.sent, 1)
	assert.Len(t, exceptions, 1)
}

func TestBufferedHandler_SkippableErrorDoesNotInvokeOnException(t *testing.T) {
	sender := &recordingSender{failTimes: 1, skippable: true}
	h := New(lineSerializer{}, sender, Options{MaxRetries: 1, RetryDelay: time.Millisecond})

	require.NoError(t, h.SerializeMetric(newTestReading("counter.x", 1)))

	called := false
	err := h.Flush(context.Background(), nil, func(e error) { called = true })
	require.NoError(t, err)
	assert.False(t, called, "transient race is retried silently")
}

func TestBufferedHandler_FlushExhaustsRetriesAndReturnsError(t *testing.T) {
	sender := &recordingSender{failTimes: 100}
	h := New(lineSerializer{}, sender, Options{MaxRetries: 2, RetryDelay: time.Millisecond})

	require.NoError(t, h.SerializeMetric(newTestReading("counter.x", 1)))
	err := h.Flush(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestBufferedHandler_EmptyClassesAreSkippedOnFlush(t *testing.T) {
	sender := &recordingSender{}
	h := New(lineSerializer{}, sender, Options{})
	err := h.Flush(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
}

func TestBufferedHandler_StatusReportsBufferedCounts(t *testing.T) {
	sender := &recordingSender{}
	h := New(lineSerializer{}, sender, Options{Name: "test"})
	require.NoError(t, h.SerializeMetric(newTestReading("counter.x", 1)))

	st := h.Status()
	assert.Equal(t, "test", st.Name)
	assert.Equal(t, 1, st.BufferedItems[metrics.PayloadClassCounter])
	assert.Greater(t, st.BufferedBytes[metrics.PayloadClassCounter], 0)
}

func TestBufferedHandler_SharedBufferSumsQueueFullAcrossClasses(t *testing.T) {
	sender := &recordingSender{}
	h := New(lineSerializer{}, sender, Options{
		MaxPayloadCount: 2,
		SharedBuffers:   [][]metrics.PayloadClass{{metrics.PayloadClassCounter, metrics.PayloadClassGauge}},
	})

	require.NoError(t, h.SerializeMetric(newTestReading("counter.x", 1)))
	gaugeReading := metrics.NewReading("gauge.x", metrics.MetricTypeGauge, 1, metrics.TagSet{}, time.Now(), "")
	require.NoError(t, h.SerializeMetric(gaugeReading))

	err := h.SerializeMetric(newTestReading("counter.x", 2))
	require.Error(t, err)
	var qfe *QueueFullError
	require.ErrorAs(t, err, &qfe)
}
