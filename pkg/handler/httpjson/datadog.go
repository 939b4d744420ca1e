package httpjson

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// DataDogAllowedUnits is the fixed allowlist of unit strings DataDog's
// metadata endpoint accepts. A unit outside this set is dropped from
// the metadata record rather than rejecting the whole metric.
var DataDogAllowedUnits = map[string]bool{
	"":        true,
	"byte":    true,
	"count":   true,
	"event":   true,
	"ms":      true,
	"second":  true,
	"percent": true,
	"req":     true,
}

// DataDogOptions configures the shared-series endpoint, auth, and the
// global host tag DataDog injects into every reading at serialize time.
type DataDogOptions struct {
	BaseURI       string
	APIKey        string
	AppKey        string
	GlobalHostTag string
}

type datadogFraming struct{ opts DataDogOptions }

// Endpoint: Counter/CumulativeCounter/Gauge share one series endpoint;
// metadata uses a distinct per-metric PUT, but that URL is built by
// dataDogSender.Send from the pending list, not from a fixed string
// here — the metadata send path does not consult Endpoint at all.
func (f datadogFraming) Endpoint(class metrics.PayloadClass) (string, string, bool) {
	q := url.Values{"api_key": {f.opts.APIKey}}
	switch class {
	case metrics.PayloadClassCounter, metrics.PayloadClassCumulativeCounter, metrics.PayloadClassGauge:
		return f.opts.BaseURI + "/api/v1/series?" + q.Encode(), http.MethodPost, true
	case metrics.PayloadClassMetadata:
		// placeholder; the metadata Sender overrides request construction.
		return f.opts.BaseURI + "/api/v1/metrics", http.MethodPut, true
	}
	return "", "", false
}

func (datadogFraming) Preamble(class metrics.PayloadClass) []byte {
	if class == metrics.PayloadClassMetadata {
		return nil
	}
	return []byte(`{"series":[`)
}

func (datadogFraming) Postamble(class metrics.PayloadClass) []byte {
	if class == metrics.PayloadClassMetadata {
		return nil
	}
	return []byte(`]}`)
}

func (datadogFraming) Gzip(metrics.PayloadClass) bool { return true }

// DataDogSerializer renders Counter/CumulativeCounter/Gauge readings
// into the shared `{"series":[...]}` envelope. Metadata is handled
// specially: SerializeMetadata writes a one-byte sentinel into the
// metadata buffer purely to trigger the collector's flush path, and
// retains the real records in pending for dataDogSender to read
// directly when it builds the per-metric PUT requests.
type DataDogSerializer struct {
	opts DataDogOptions

	mu      sync.Mutex
	pending []metrics.Metadata
}

// NewDataDogSerializer builds a DataDogSerializer for opts.
func NewDataDogSerializer(opts DataDogOptions) *DataDogSerializer {
	return &DataDogSerializer{opts: opts}
}

func (s *DataDogSerializer) SerializeMetric(w *handler.BufferWriter, r metrics.Reading) (int, error) {
	tags := r.Tags()
	if s.opts.GlobalHostTag != "" {
		merged := metrics.MergeTags(map[string]string{"host": s.opts.GlobalHostTag}, tagsToMap(tags))
		if withHost, err := metrics.NewTagSet(metrics.Validator{}, merged); err == nil {
			tags = withHost
		}
	}
	obj := fmt.Sprintf(`{"metric":"%s","points":[[%d,%s]],"tags":%s},`,
		jsonEscape(r.NameWithSuffix()), epochSeconds(r.Timestamp()), formatValue(r.Value()), tagsArrayJSON(tags))
	return w.Write([]byte(obj))
}

// PendingMetadata drains and returns the metadata records accumulated
// since the last call, for dataDogSender to build real PUT requests
// from.
func (s *DataDogSerializer) PendingMetadata() []metrics.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

func (s *DataDogSerializer) SerializeMetadata(w *handler.BufferWriter, class metrics.PayloadClass, md []metrics.Metadata) (int, error) {
	filtered := make([]metrics.Metadata, 0, len(md))
	for _, m := range md {
		if m.Kind == metrics.MetadataKindUnit && !DataDogAllowedUnits[m.Value] {
			continue
		}
		filtered = append(filtered, m)
	}
	if len(filtered) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	s.pending = append(s.pending, filtered...)
	s.mu.Unlock()
	return w.Write([]byte{'M'})
}

func (s *DataDogSerializer) PrepareSequence(seq []byte, class metrics.PayloadClass) []byte {
	return commaTrimmer(seq)
}

func tagsToMap(tags metrics.TagSet) map[string]string {
	out := make(map[string]string, tags.Len())
	tags.Each(func(name, value string) { out[name] = value })
	return out
}

func tagsArrayJSON(tags metrics.TagSet) string {
	var b []byte
	b = append(b, '[')
	first := true
	tags.Each(func(name, value string) {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, '"')
		b = append(b, jsonEscape(name+":"+value)...)
		b = append(b, '"')
	})
	b = append(b, ']')
	return string(b)
}

// dataDogSender intercepts metadata-class sends and builds the real
// one-metric-per-request PUT bodies from the serializer's pending
// list instead of the sentinel bytes buffered for flush-triggering.
type dataDogSender struct {
	*Sender
	serializer *DataDogSerializer
	opts       DataDogOptions
}

func (s *dataDogSender) Send(ctx context.Context, class metrics.PayloadClass, seq []byte) (int, error) {
	if class != metrics.PayloadClassMetadata {
		return s.Sender.Send(ctx, class, seq)
	}
	records := s.serializer.PendingMetadata()
	byName := make(map[string][]metrics.Metadata)
	for _, m := range records {
		byName[m.NameWithSuffix] = append(byName[m.NameWithSuffix], m)
	}
	total := 0
	for name, recs := range byName {
		body := dataDogMetadataBody(recs)
		q := url.Values{"api_key": {s.opts.APIKey}, "application_key": {s.opts.AppKey}}
		reqURL := fmt.Sprintf("%s/api/v1/metrics/%s?%s", s.opts.BaseURI, url.PathEscape(name), q.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, reqURL, strings.NewReader(body))
		if err != nil {
			return total, &handler.TransportError{Class: class, Cause: err}
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := s.Client.Do(req)
		if err != nil {
			return total, &handler.TransportError{Class: class, Cause: err}
		}
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return total, &handler.TransportError{Class: class, StatusCode: resp.StatusCode}
		}
		total += len(body)
	}
	return total, nil
}

func dataDogMetadataBody(recs []metrics.Metadata) string {
	fields := map[string]string{}
	for _, r := range recs {
		switch r.Kind {
		case metrics.MetadataKindDesc:
			fields["description"] = r.Value
		case metrics.MetadataKindUnit:
			fields["unit"] = r.Value
		case metrics.MetadataKindRate:
			fields["type"] = r.Value
		}
	}
	return fmt.Sprintf(`{"description":"%s","unit":"%s","type":"%s"}`,
		jsonEscape(fields["description"]), jsonEscape(fields["unit"]), jsonEscape(fields["type"]))
}

// NewDataDogHandler wires a DataDogSerializer and its metadata-aware
// Sender into a BufferedHandler, sharing one buffer across
// Counter/CumulativeCounter/Gauge since they post to the same
// endpoint.
func NewDataDogHandler(opts DataDogOptions, hopts handler.Options) *handler.BufferedHandler {
	serializer := NewDataDogSerializer(opts)
	base := NewSender(datadogFraming{opts: opts}, nil)
	sender := &dataDogSender{Sender: base, serializer: serializer, opts: opts}
	if hopts.Name == "" {
		hopts.Name = "datadog"
	}
	hopts.SharedBuffers = append(hopts.SharedBuffers, []metrics.PayloadClass{
		metrics.PayloadClassCounter, metrics.PayloadClassCumulativeCounter, metrics.PayloadClassGauge,
	})
	return handler.New(serializer, sender, hopts)
}
