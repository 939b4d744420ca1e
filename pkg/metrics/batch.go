package metrics

import "time"

// ReadingBatch is the sink interface a kernel writes into during
// serialization. Concrete handlers supply batches that forward each
// reading into their own per-payload-class serializer while tallying
// bytes/metrics written.
type ReadingBatch interface {
	Add(r Reading)
}

// Writer is anything a MetricSource can hold: a single kernel or a
// TaggedFactory of kernels. Both expose the same write/describe
// contract.
type Writer interface {
	WriteReadings(batch ReadingBatch, now time.Time)
	Metadata() []Metadata
}

// Kernel is the common contract every metric type satisfies. Kernels
// never rename themselves, never mutate their tags after construction,
// and are destroyed only with their owning Source.
type Kernel interface {
	Writer
	Name() string
	Unit() string
	Description() string
	Tags() TagSet
	MetricType() MetricType
	SuffixMetadata() []SuffixMeta
}
