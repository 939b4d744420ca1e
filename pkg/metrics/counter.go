package metrics

import (
	"time"

	"go.uber.org/atomic"
)

// Counter is a monotonic delta counter: application code calls
// Increment, and each snapshot reports (and resets) the accumulated
// delta since the previous snapshot. An idle counter emits nothing,
// avoiding zero-spam for metrics that aren't currently active.
type Counter struct {
	name        string
	unit        string
	description string
	tags        TagSet
	value       atomic.Int64
}

// NewCounter builds a Counter. Most callers go through
// MetricSource.NewCounter, which merges default tags and enforces the
// (name, tags) uniqueness invariant.
func NewCounter(name, unit, description string, tags TagSet) *Counter {
	return &Counter{name: name, unit: unit, description: description, tags: tags}
}

func (c *Counter) Name() string        { return c.name }
func (c *Counter) Unit() string        { return c.unit }
func (c *Counter) Description() string { return c.description }
func (c *Counter) Tags() TagSet        { return c.tags }
func (c *Counter) MetricType() MetricType { return MetricTypeCounter }

// Inc increments the counter by 1.
func (c *Counter) Inc() { c.Increment(1) }

// Increment adds delta to the counter. delta may be negative, though
// the documented contract for most uses is non-negative increments.
func (c *Counter) Increment(delta int64) { c.value.Add(delta) }

// SuffixMetadata returns the single unsuffixed reading this kernel emits.
func (c *Counter) SuffixMetadata() []SuffixMeta {
	return []SuffixMeta{{NameWithSuffix: c.name, Unit: c.unit, Description: c.description}}
}

// WriteReadings atomically swaps the accumulator with 0 and emits one
// reading carrying the delta, unless the delta is zero.
func (c *Counter) WriteReadings(batch ReadingBatch, now time.Time) {
	delta := c.value.Swap(0)
	if delta == 0 {
		return
	}
	batch.Add(NewReading(c.name, MetricTypeCounter, float64(delta), c.tags, now, ""))
}

// Metadata implements Writer.
func (c *Counter) Metadata() []Metadata {
	return buildMetadata(MetricTypeCounter, c.tags, c.SuffixMetadata())
}
