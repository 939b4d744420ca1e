package httpjson

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
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

func TestBosunSerializer_RejectsOutOfRangeTimestamp(t *testing.T) {
	s := NewBosunSerializer(BosunOptions{BaseURI: "http://x", EnableExternalCounters: true})
	r := metrics.NewReading("m", metrics.MetricTypeCounter, 1, mustTags(t, map[string]string{"h": "1"}),
		time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC), "")

	w := handler.NewBufferWriter(256)
	_, err := s.SerializeMetric(w, r)
	require.Error(t, err)
	var se *handler.SerializationError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "bosun-timestamp-out-of-range", se.Reason)
}

// Successive CumulativeCounter deltas accumulate into a monotonically
// increasing running total in the rendered Bosun payload.
func TestBosunSerializer_CumulativeCounterRunningTotal(t *testing.T) {
	s := NewBosunSerializer(BosunOptions{BaseURI: "http://x", EnableExternalCounters: true})
	tags := mustTags(t, map[string]string{"host": "x"})

	w := handler.NewBufferWriter(256)
	first := metrics.NewReading("ext", metrics.MetricTypeCumulativeCounter, 3, tags, time.Now(), "")
	_, err := s.SerializeMetric(w, first)
	require.NoError(t, err)
	body := string(w.Detach())
	assert.Contains(t, body, `"value":3`)
	assert.NotContains(t, body, `"host"`, "host tag is stripped from cumulative counter readings")

	w2 := handler.NewBufferWriter(256)
	second := metrics.NewReading("ext", metrics.MetricTypeCumulativeCounter, 2, tags, time.Now(), "")
	_, err = s.SerializeMetric(w2, second)
	require.NoError(t, err)
	assert.Contains(t, string(w2.Detach()), `"value":5`)
}

func TestBosunSerializer_DisabledExternalCountersDropsReadingAndMetadata(t *testing.T) {
	s := NewBosunSerializer(BosunOptions{BaseURI: "http://x", EnableExternalCounters: false})
	tags := mustTags(t, map[string]string{"host": "x"})

	w := handler.NewBufferWriter(256)
	r := metrics.NewReading("ext", metrics.MetricTypeCumulativeCounter, 3, tags, time.Now(), "")
	n, err := s.SerializeMetric(w, r)
	require.NoError(t, err)
	assert.Zero(t, n)

	mw := handler.NewBufferWriter(256)
	md := []metrics.Metadata{{NameWithSuffix: "ext", Kind: metrics.MetadataKindDesc, Tags: tags, Value: "d"}}
	n, err = s.SerializeMetadata(mw, metrics.PayloadClassMetadata, md)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDataDogSerializer_DropsUnknownUnitFromMetadata(t *testing.T) {
	s := NewDataDogSerializer(DataDogOptions{BaseURI: "http://x"})
	w := handler.NewBufferWriter(256)
	md := []metrics.Metadata{
		{NameWithSuffix: "m", Kind: metrics.MetadataKindUnit, Value: "furlongs-per-fortnight"},
	}
	n, err := s.SerializeMetadata(w, metrics.PayloadClassMetadata, md)
	require.NoError(t, err)
	assert.Zero(t, n, "the only record is a disallowed unit, so nothing is buffered")
}

func TestDataDogSerializer_SentinelByteTriggersFlushPath(t *testing.T) {
	s := NewDataDogSerializer(DataDogOptions{BaseURI: "http://x"})
	w := handler.NewBufferWriter(256)
	md := []metrics.Metadata{{NameWithSuffix: "m", Kind: metrics.MetadataKindUnit, Value: "count"}}
	n, err := s.SerializeMetadata(w, metrics.PayloadClassMetadata, md)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, s.PendingMetadata(), 1)
}

func TestSignalFxFraming_PerClassPreamble(t *testing.T) {
	f := signalFxFraming{}
	assert.Equal(t, `{"counter":[`, string(f.Preamble(metrics.PayloadClassCounter)))
	assert.Equal(t, `{"cumulative_counter":[`, string(f.Preamble(metrics.PayloadClassCumulativeCounter)))
	assert.Equal(t, `{"gauge":[`, string(f.Preamble(metrics.PayloadClassGauge)))
	assert.Equal(t, `]}`, string(f.Postamble(metrics.PayloadClassGauge)))
}

// An end-to-end SignalFx handler flush produces one gzip-decodable
// request body with the per-class framing applied.
func TestSignalFxHandler_FlushSendsFramedBody(t *testing.T) {
	var gotPath, gotToken string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-SF-TOKEN")
		body, _ := io.ReadAll(decodeBody(t, r))
		gotBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := NewSignalFxHandler(SignalFxOptions{BaseURI: srv.URL, AccessToken: "tok"}, handler.Options{})
	tags := mustTags(t, map[string]string{"h": "1"})
	r := metrics.NewReading("req", metrics.MetricTypeCounter, 7, tags, time.Now(), "")
	require.NoError(t, h.SerializeMetric(r))

	err := h.Flush(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "/v2/datapoint", gotPath)
	assert.Equal(t, "tok", gotToken)
	assert.Contains(t, string(gotBody), `{"counter":[`)
	assert.Contains(t, string(gotBody), `"metric":"req"`)
}

func decodeBody(t *testing.T, r *http.Request) io.Reader {
	t.Helper()
	if r.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(r.Body)
		require.NoError(t, err)
		return gz
	}
	return r.Body
}
