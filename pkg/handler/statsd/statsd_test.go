package statsd

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

func mustTags(t *testing.T, pairs map[string]string) metrics.TagSet {
	t.Helper()
	ts, err := metrics.NewTagSet(metrics.Validator{}, pairs)
	require.NoError(t, err)
	return ts
}

func TestFormatValue_IntegralVsFixedPoint(t *testing.T) {
	assert.Equal(t, "7", formatValue(7))
	assert.Equal(t, "7", formatValue(7.0))
	assert.Equal(t, "3.14000", formatValue(3.14))
}

func TestSerializer_RejectsUnsupportedMetricType(t *testing.T) {
	s := NewSerializer()
	w := handler.NewBufferWriter(256)
	r := metrics.NewReading("m", metrics.MetricType(99), 1, mustTags(t, map[string]string{"h": "1"}), time.Now(), "")
	_, err := s.SerializeMetric(w, r)
	require.Error(t, err)
	var se *handler.SerializationError
	require.ErrorAs(t, err, &se)
}

// A tagged counter reading serializes to the exact StatsD line format,
// including the "|#k:v" tag suffix.
func TestSerializer_CounterLineFormat(t *testing.T) {
	s := NewSerializer()
	w := handler.NewBufferWriter(256)
	r := metrics.NewReading("req", metrics.MetricTypeCounter, 7, mustTags(t, map[string]string{"env": "p"}), time.Now(), "")
	n, err := s.SerializeMetric(w, r)
	require.NoError(t, err)
	assert.Equal(t, "req:7|c|#env:p\n", string(w.Detach()))
	assert.Equal(t, len("req:7|c|#env:p\n"), n)
}

func TestSerializer_GaugeLineFixedPointWithTagsSuffix(t *testing.T) {
	s := NewSerializer()
	w := handler.NewBufferWriter(256)
	r := metrics.NewReading("load", metrics.MetricTypeGauge, 0.5, mustTags(t, map[string]string{"h": "x"}), time.Now(), "")
	_, err := s.SerializeMetric(w, r)
	require.NoError(t, err)
	assert.Equal(t, "load:0.50000|g|#h:x\n", string(w.Detach()))
}

func TestSerializer_MetadataIsNoOp(t *testing.T) {
	s := NewSerializer()
	w := handler.NewBufferWriter(256)
	n, err := s.SerializeMetadata(w, metrics.PayloadClassMetadata, []metrics.Metadata{{NameWithSuffix: "m"}})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSender_EmptyAddrIsNoOp(t *testing.T) {
	s := NewSender("")
	n, err := s.Send(context.Background(), metrics.PayloadClassCounter, []byte("req:7|c\n"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandler_FlushSendsExactlyOneDatagram(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer pc.Close()

	h := NewHandler(pc.LocalAddr().String(), handler.Options{})
	r := metrics.NewReading("req", metrics.MetricTypeCounter, 7, mustTags(t, map[string]string{"env": "p"}), time.Now(), "")
	require.NoError(t, h.SerializeMetric(r))

	datagrams := make(chan string, 4)
	go func() {
		buf := make([]byte, 2048)
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			return
		}
		datagrams <- string(buf[:n])
	}()

	require.NoError(t, h.Flush(context.Background(), nil, nil))

	select {
	case body := <-datagrams:
		assert.Equal(t, "req:7|c|#env:p\n", body)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for datagram")
	}
}

func TestSender_SetEndpointInvalidatesCachedSocket(t *testing.T) {
	s := NewSender("127.0.0.1:9")
	s.SetEndpoint("127.0.0.1:10")
	s.mu.Lock()
	addr := s.addr
	conn := s.conn
	s.mu.Unlock()
	assert.Equal(t, "127.0.0.1:10", addr)
	assert.Nil(t, conn)
}
