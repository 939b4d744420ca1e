package metrics

import (
	"sync"
	"time"
)

// eventSample is one recorded (value, time) pair in an EventGauge.
type eventSample struct {
	value float64
	at    time.Time
}

// EventGauge emits one reading per recorded event, each carrying the
// event's own timestamp rather than the snapshot time. Insertion order
// within a single flush is best-effort only; the per-event timestamp
// is the authoritative order.
type EventGauge struct {
	name        string
	unit        string
	description string
	tags        TagSet

	mu      sync.Mutex
	samples []eventSample
}

// NewEventGauge builds an EventGauge.
func NewEventGauge(name, unit, description string, tags TagSet) *EventGauge {
	return &EventGauge{name: name, unit: unit, description: description, tags: tags}
}

func (g *EventGauge) Name() string           { return g.name }
func (g *EventGauge) Unit() string           { return g.unit }
func (g *EventGauge) Description() string    { return g.description }
func (g *EventGauge) Tags() TagSet           { return g.tags }
func (g *EventGauge) MetricType() MetricType { return MetricTypeGauge }

// Record appends value with the current time as its event time.
func (g *EventGauge) Record(value float64) { g.RecordAt(value, time.Now().UTC()) }

// RecordAt appends value with an explicit event time.
func (g *EventGauge) RecordAt(value float64, at time.Time) {
	g.mu.Lock()
	g.samples = append(g.samples, eventSample{value: value, at: at})
	g.mu.Unlock()
}

func (g *EventGauge) SuffixMetadata() []SuffixMeta {
	return []SuffixMeta{{NameWithSuffix: g.name, Unit: g.unit, Description: g.description}}
}

// WriteReadings atomically swaps the sample bag with an empty one and
// emits one reading per element, in whatever order the bag iterates.
// now is unused for the reading timestamps (each sample keeps its own)
// but is accepted to satisfy the Writer contract.
func (g *EventGauge) WriteReadings(batch ReadingBatch, _ time.Time) {
	g.mu.Lock()
	samples := g.samples
	g.samples = reuseEventSlice(samples)
	g.mu.Unlock()

	for _, s := range samples {
		batch.Add(NewReading(g.name, MetricTypeGauge, s.value, g.tags, s.at, ""))
	}
}

// reuseEventSlice keeps the backing array (re-sliced to zero length)
// when its spare capacity is at least half of the slice's previous
// length, otherwise starts fresh.
func reuseEventSlice(old []eventSample) []eventSample {
	n := len(old)
	if n == 0 {
		return old[:0]
	}
	spare := cap(old) - n
	if spare >= n/2 {
		return old[:0]
	}
	return make([]eventSample, 0, n)
}

func (g *EventGauge) Metadata() []Metadata {
	return buildMetadata(MetricTypeGauge, g.tags, g.SuffixMetadata())
}
