package httpjson

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

var bosunMinTimestamp = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
var bosunMaxTimestamp = time.Date(2250, 1, 1, 0, 0, 0, 0, time.UTC)

// BosunOptions configures the Bosun-specific handler rules: whether
// cumulative counters are forwarded at all, and the base relay URI.
type BosunOptions struct {
	BaseURI                string
	EnableExternalCounters bool
}

// bosunFraming implements Framing for Bosun's three endpoints.
type bosunFraming struct{ opts BosunOptions }

func (f bosunFraming) Endpoint(class metrics.PayloadClass) (string, string, bool) {
	switch class {
	case metrics.PayloadClassCounter, metrics.PayloadClassGauge:
		return f.opts.BaseURI + "/api/put", http.MethodPost, true
	case metrics.PayloadClassCumulativeCounter:
		if !f.opts.EnableExternalCounters {
			return "", "", false
		}
		return f.opts.BaseURI + "/api/count", http.MethodPost, true
	case metrics.PayloadClassMetadata:
		return f.opts.BaseURI + "/api/metadata/put", http.MethodPost, true
	}
	return "", "", false
}

func (bosunFraming) Preamble(metrics.PayloadClass) []byte  { return []byte("[") }
func (bosunFraming) Postamble(metrics.PayloadClass) []byte { return []byte("]") }

// Gzip is disabled for metadata per the spec's explicit Bosun rule;
// reading payloads may be gzipped.
func (bosunFraming) Gzip(class metrics.PayloadClass) bool {
	return class != metrics.PayloadClassMetadata
}

// BosunSerializer renders Counter/Gauge/CumulativeCounter readings
// into Bosun's flat JSON object shape and maintains the per-(name,tags)
// running total a CumulativeCounter reports on the wire.
type BosunSerializer struct {
	opts BosunOptions

	mu      sync.Mutex
	totals  map[string]float64
	extSeen map[string]bool // name -> ever observed as a CumulativeCounter, for metadata filtering
}

// NewBosunSerializer builds a BosunSerializer for opts.
func NewBosunSerializer(opts BosunOptions) *BosunSerializer {
	return &BosunSerializer{opts: opts, totals: make(map[string]float64), extSeen: make(map[string]bool)}
}

func (s *BosunSerializer) SerializeMetric(w *handler.BufferWriter, r metrics.Reading) (int, error) {
	if r.Timestamp().Before(bosunMinTimestamp) || r.Timestamp().After(bosunMaxTimestamp) {
		return 0, newBosunTimestampError(r)
	}

	tags := r.Tags()
	value := r.Value()

	if r.Type() == metrics.MetricTypeCumulativeCounter {
		s.mu.Lock()
		s.extSeen[r.Name()] = true
		if !s.opts.EnableExternalCounters {
			s.mu.Unlock()
			return 0, nil
		}
		tags = tags.Without("host")
		key := r.Name() + "\x1e" + tags.Key()
		s.totals[key] += value
		value = s.totals[key]
		s.mu.Unlock()
	}

	obj := fmt.Sprintf(`{"metric":"%s","value":%s,"tags":%s,"timestamp":%d},`,
		jsonEscape(r.NameWithSuffix()), formatValue(value), tagsJSON(tags), epochSeconds(r.Timestamp()))
	return w.Write([]byte(obj))
}

func (s *BosunSerializer) SerializeMetadata(w *handler.BufferWriter, class metrics.PayloadClass, md []metrics.Metadata) (int, error) {
	n := 0
	for _, m := range md {
		s.mu.Lock()
		suppressed := !s.opts.EnableExternalCounters && s.extSeen[baseName(m.NameWithSuffix)]
		s.mu.Unlock()
		if suppressed {
			continue
		}
		obj := fmt.Sprintf(`{"metric":"%s","name":"%s","value":"%s","tags":%s},`,
			jsonEscape(m.NameWithSuffix), string(m.Kind), jsonEscape(m.Value), tagsJSON(m.Tags))
		written, err := w.Write([]byte(obj))
		if err != nil {
			return n, err
		}
		n += written
	}
	return n, nil
}

func (s *BosunSerializer) PrepareSequence(seq []byte, class metrics.PayloadClass) []byte {
	return commaTrimmer(seq)
}

// baseName maps a metadata record's name back to the reading name it
// describes. CumulativeCounter readings never carry a suffix, so for
// the external-counter case this filters, the two are identical.
func baseName(nameWithSuffix string) string { return nameWithSuffix }

func newBosunTimestampError(r metrics.Reading) error {
	return handler.NewSerializationError("bosun-timestamp-out-of-range", "reading %q has timestamp %s outside [%s, %s]",
		r.Name(), r.Timestamp(), bosunMinTimestamp, bosunMaxTimestamp)
}

// NewBosunHandler wires a BosunSerializer and an HTTP Sender into a
// BufferedHandler configured for Bosun's three endpoints.
func NewBosunHandler(opts BosunOptions, hopts handler.Options) *handler.BufferedHandler {
	serializer := NewBosunSerializer(opts)
	sender := NewSender(bosunFraming{opts: opts}, nil)
	if hopts.Name == "" {
		hopts.Name = "bosun"
	}
	return handler.New(serializer, sender, hopts)
}
