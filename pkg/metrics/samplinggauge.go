package metrics

import (
	"math"
	"time"

	"go.uber.org/atomic"
)

// SamplingGauge reports the most recently recorded value at every
// snapshot; the value is not cleared between snapshots. Recording NaN
// disables emission until a non-NaN value is recorded again.
type SamplingGauge struct {
	name        string
	unit        string
	description string
	tags        TagSet
	bits        atomic.Uint64 // math.Float64bits(value)
}

// NewSamplingGauge builds a SamplingGauge with an initial value of NaN.
func NewSamplingGauge(name, unit, description string, tags TagSet) *SamplingGauge {
	g := &SamplingGauge{name: name, unit: unit, description: description, tags: tags}
	g.bits.Store(math.Float64bits(math.NaN()))
	return g
}

func (g *SamplingGauge) Name() string           { return g.name }
func (g *SamplingGauge) Unit() string           { return g.unit }
func (g *SamplingGauge) Description() string    { return g.description }
func (g *SamplingGauge) Tags() TagSet           { return g.tags }
func (g *SamplingGauge) MetricType() MetricType { return MetricTypeGauge }

// Record atomically stores x as the current value.
func (g *SamplingGauge) Record(x float64) { g.bits.Store(math.Float64bits(x)) }

func (g *SamplingGauge) SuffixMetadata() []SuffixMeta {
	return []SuffixMeta{{NameWithSuffix: g.name, Unit: g.unit, Description: g.description}}
}

// WriteReadings emits the current value unless it is NaN.
func (g *SamplingGauge) WriteReadings(batch ReadingBatch, now time.Time) {
	v := math.Float64frombits(g.bits.Load())
	if math.IsNaN(v) {
		return
	}
	batch.Add(NewReading(g.name, MetricTypeGauge, v, g.tags, now, ""))
}

func (g *SamplingGauge) Metadata() []Metadata {
	return buildMetadata(MetricTypeGauge, g.tags, g.SuffixMetadata())
}
