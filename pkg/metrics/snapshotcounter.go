package metrics

import "time"

// SnapshotCounterProvider returns the current value of an externally
// tracked counter. The second return value reports whether a value is
// currently available; when false, the kernel emits nothing for this
// interval. The provider runs on the snapshot goroutine: callers own
// any concurrency inside it.
type SnapshotCounterProvider func() (value int64, ok bool)

// SnapshotCounter reports whatever an externally supplied provider
// function returns, rather than accumulating increments itself.
type SnapshotCounter struct {
	name        string
	unit        string
	description string
	tags        TagSet
	provider    SnapshotCounterProvider
}

// NewSnapshotCounter builds a SnapshotCounter backed by provider.
func NewSnapshotCounter(name, unit, description string, tags TagSet, provider SnapshotCounterProvider) *SnapshotCounter {
	return &SnapshotCounter{name: name, unit: unit, description: description, tags: tags, provider: provider}
}

func (c *SnapshotCounter) Name() string           { return c.name }
func (c *SnapshotCounter) Unit() string           { return c.unit }
func (c *SnapshotCounter) Description() string    { return c.description }
func (c *SnapshotCounter) Tags() TagSet           { return c.tags }
func (c *SnapshotCounter) MetricType() MetricType { return MetricTypeCounter }

func (c *SnapshotCounter) SuffixMetadata() []SuffixMeta {
	return []SuffixMeta{{NameWithSuffix: c.name, Unit: c.unit, Description: c.description}}
}

// WriteReadings invokes the provider and emits one reading iff the
// result is present and non-zero.
func (c *SnapshotCounter) WriteReadings(batch ReadingBatch, now time.Time) {
	v, ok := c.provider()
	if !ok || v == 0 {
		return
	}
	batch.Add(NewReading(c.name, MetricTypeCounter, float64(v), c.tags, now, ""))
}

func (c *SnapshotCounter) Metadata() []Metadata {
	return buildMetadata(MetricTypeCounter, c.tags, c.SuffixMetadata())
}
