package metrics

import "time"

// MetricType is the wire-level type of a reading. It is distinct from
// the kernel type that produced it: SamplingGauge, EventGauge, and
// AggregateGauge all emit MetricTypeGauge readings.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeCumulativeCounter
	MetricTypeGauge
)

func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeCumulativeCounter:
		return "cumulative_counter"
	case MetricTypeGauge:
		return "gauge"
	default:
		return "unknown"
	}
}

// PayloadClass is the routing key used by the buffered handler engine
// to pick a byte buffer and, ultimately, a remote endpoint.
type PayloadClass int

const (
	PayloadClassCounter PayloadClass = iota
	PayloadClassCumulativeCounter
	PayloadClassGauge
	PayloadClassMetadata
)

func (c PayloadClass) String() string {
	switch c {
	case PayloadClassCounter:
		return "counter"
	case PayloadClassCumulativeCounter:
		return "cumulative_counter"
	case PayloadClassGauge:
		return "gauge"
	case PayloadClassMetadata:
		return "metadata"
	default:
		return "unknown"
	}
}

// PayloadClassOrder is the fixed traversal order Flush uses
// across payload classes (metadata last: readings should usually
// reach the backend before the metadata that describes them, though
// no ordering guarantee is made across classes).
var PayloadClassOrder = [...]PayloadClass{
	PayloadClassCounter,
	PayloadClassCumulativeCounter,
	PayloadClassGauge,
	PayloadClassMetadata,
}

// payloadClassForMetricType implements the fixed MetricType->PayloadClass
// mapping for readings (metadata is its own class, chosen explicitly by
// callers serializing metadata rather than readings).
func payloadClassForMetricType(t MetricType) PayloadClass {
	switch t {
	case MetricTypeCounter:
		return PayloadClassCounter
	case MetricTypeCumulativeCounter:
		return PayloadClassCumulativeCounter
	default:
		return PayloadClassGauge
	}
}

// Reading is one (name, value, tags, timestamp) tuple produced by a
// kernel during a snapshot. It is immutable once constructed.
type Reading struct {
	name           string
	metricType     MetricType
	value          float64
	tags           TagSet
	timestamp      time.Time
	suffix         string
	nameWithSuffix string
}

// NewReading constructs a Reading. suffix may be empty.
func NewReading(name string, metricType MetricType, value float64, tags TagSet, timestamp time.Time, suffix string) Reading {
	return Reading{
		name:           name,
		metricType:     metricType,
		value:          value,
		tags:           tags,
		timestamp:      timestamp,
		suffix:         suffix,
		nameWithSuffix: name + suffix,
	}
}

func (r Reading) Name() string             { return r.name }
func (r Reading) NameWithSuffix() string   { return r.nameWithSuffix }
func (r Reading) Suffix() string           { return r.suffix }
func (r Reading) Type() MetricType         { return r.metricType }
func (r Reading) Value() float64           { return r.value }
func (r Reading) Tags() TagSet             { return r.tags }
func (r Reading) Timestamp() time.Time     { return r.timestamp }
func (r Reading) PayloadClass() PayloadClass { return payloadClassForMetricType(r.metricType) }

// WithValue returns a new Reading with an updated value/timestamp,
// preserving name, type, tags, and suffix identity.
func (r Reading) WithValue(value float64, timestamp time.Time) Reading {
	r.value = value
	r.timestamp = timestamp
	return r
}
