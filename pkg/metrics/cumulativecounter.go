package metrics

import (
	"time"

	"go.uber.org/atomic"
)

// CumulativeCounter is a low-volume counter that only ever increments
// by 1. Its reported value is still a per-snapshot delta; it is the
// *receiver* (e.g. the Bosun handler) that turns the delta stream into
// a monotonically increasing total.
type CumulativeCounter struct {
	name        string
	unit        string
	description string
	tags        TagSet
	value       atomic.Int64
}

// NewCumulativeCounter builds a CumulativeCounter.
func NewCumulativeCounter(name, unit, description string, tags TagSet) *CumulativeCounter {
	return &CumulativeCounter{name: name, unit: unit, description: description, tags: tags}
}

func (c *CumulativeCounter) Name() string           { return c.name }
func (c *CumulativeCounter) Unit() string           { return c.unit }
func (c *CumulativeCounter) Description() string    { return c.description }
func (c *CumulativeCounter) Tags() TagSet           { return c.tags }
func (c *CumulativeCounter) MetricType() MetricType { return MetricTypeCumulativeCounter }

// Increment adds exactly 1 to the counter.
func (c *CumulativeCounter) Increment() { c.value.Add(1) }

func (c *CumulativeCounter) SuffixMetadata() []SuffixMeta {
	return []SuffixMeta{{NameWithSuffix: c.name, Unit: c.unit, Description: c.description}}
}

// WriteReadings swaps the accumulator with 0 and emits the delta if
// positive.
func (c *CumulativeCounter) WriteReadings(batch ReadingBatch, now time.Time) {
	delta := c.value.Swap(0)
	if delta <= 0 {
		return
	}
	batch.Add(NewReading(c.name, MetricTypeCumulativeCounter, float64(delta), c.tags, now, ""))
}

func (c *CumulativeCounter) Metadata() []Metadata {
	return buildMetadata(MetricTypeCumulativeCounter, c.tags, c.SuffixMetadata())
}
