// Package statsd implements the StatsD UDP line-protocol handler: a
// BufferedHandler specialized to format readings as newline-separated
// lines and ship them as UDP datagrams instead of HTTP requests.
package statsd

import (
	"fmt"
	"math"
	"strconv"

	"github.com/andrewpike/metricpipe/pkg/handler"
	"github.com/andrewpike/metricpipe/pkg/metrics"
)

// MaxPayloadSize is the buffer ceiling for StatsD: a single UDP
// datagram must stay within one Ethernet-MTU-sized packet to avoid IP
// fragmentation, well under the generic handler's 8000-byte default.
const MaxPayloadSize = 1400

// Serializer renders readings as StatsD line protocol
// (`<name>:<value>|<c|g>[|#<k>:<v>,...]\n`). StatsD has no metadata
// channel, so SerializeMetadata always writes zero bytes.
type Serializer struct{}

// NewSerializer builds a Serializer.
func NewSerializer() *Serializer { return &Serializer{} }

func (Serializer) SerializeMetric(w *handler.BufferWriter, r metrics.Reading) (int, error) {
	var kind byte
	switch r.Type() {
	case metrics.MetricTypeCounter, metrics.MetricTypeCumulativeCounter:
		kind = 'c'
	case metrics.MetricTypeGauge:
		kind = 'g'
	default:
		return 0, handler.NewSerializationError("statsd-unsupported-type",
			"metric type %v has no StatsD line representation", r.Type())
	}
	line := fmt.Sprintf("%s:%s|%c%s\n", r.NameWithSuffix(), formatValue(r.Value()), kind, tagsSuffix(r.Tags()))
	return w.Write([]byte(line))
}

// SerializeMetadata is a no-op: StatsD carries no metadata.
func (Serializer) SerializeMetadata(*handler.BufferWriter, metrics.PayloadClass, []metrics.Metadata) (int, error) {
	return 0, nil
}

// PrepareSequence returns seq unchanged. Chunk splits happen on the
// flush-offsets recorded after each line write, so a chunk never ends
// mid-line the way comma-joined HTTP bodies can.
func (Serializer) PrepareSequence(seq []byte, _ metrics.PayloadClass) []byte { return seq }

func formatValue(v float64) string {
	if v == math.Trunc(v) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 5, 64)
}

func tagsSuffix(tags metrics.TagSet) string {
	if tags.Len() == 0 {
		return ""
	}
	b := make([]byte, 0, 32)
	b = append(b, '|', '#')
	first := true
	tags.Each(func(name, value string) {
		if !first {
			b = append(b, ',')
		}
		first = false
		b = append(b, name...)
		b = append(b, ':')
		b = append(b, value...)
	})
	return string(b)
}

// NewHandler wires a Serializer and a UDP Sender into a
// BufferedHandler pinned to MaxPayloadSize. addr is host:port; an
// empty addr makes the handler a no-op.
func NewHandler(addr string, hopts handler.Options) *handler.BufferedHandler {
	hopts.MaxPayloadSize = MaxPayloadSize
	if hopts.Name == "" {
		hopts.Name = "statsd"
	}
	return handler.New(NewSerializer(), NewSender(addr), hopts)
}
