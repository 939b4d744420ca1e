package metrics

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"
)

// aggKind identifies the reduction an Aggregator computes.
type aggKind int

const (
	aggLast aggKind = iota
	aggAverage
	aggCount
	aggMinMax
	aggPercentile
)

// Aggregator configures one reduction an AggregateGauge computes at
// snapshot time, and the suffix the resulting reading carries.
type Aggregator struct {
	kind       aggKind
	code       float64 // percentile code per the spec's table; -2/-1/-3 for Last/Average/Count
	suffix     string
	isMax      bool // only meaningful for aggMinMax
}

// AggLast computes the last sample recorded this interval.
func AggLast() Aggregator { return Aggregator{kind: aggLast, code: -2.0, suffix: ""} }

// AggAverage computes the arithmetic mean of the interval's samples.
func AggAverage() Aggregator { return Aggregator{kind: aggAverage, code: -1.0, suffix: "_avg"} }

// AggCount computes the number of samples recorded this interval. It
// is the only aggregator that still emits when the sample count is
// below minimumEvents.
func AggCount() Aggregator { return Aggregator{kind: aggCount, code: -3.0, suffix: "_count"} }

// AggMin computes the minimum sample value.
func AggMin() Aggregator { return Aggregator{kind: aggMinMax, code: 0.0, suffix: "_min", isMax: false} }

// AggMax computes the maximum sample value.
func AggMax() Aggregator { return Aggregator{kind: aggMinMax, code: 1.0, suffix: "_max", isMax: true} }

// AggMedian computes the nearest-rank median (equivalent to AggPercentile(0.5)
// with the conventional "_median" suffix instead of "_50").
func AggMedian() Aggregator { return Aggregator{kind: aggPercentile, code: 0.5, suffix: "_median"} }

// AggPercentile computes the nearest-rank percentile p (0 < p < 1)
// using idx = floor(p * (n-1)) on the sorted sample list (see
// nearestRank). The suffix
// is "_PP" where PP = floor(p*100).
func AggPercentile(p float64) Aggregator {
	return Aggregator{kind: aggPercentile, code: p, suffix: fmt.Sprintf("_%d", int(math.Floor(p*100)))}
}

// Suffix returns the reading suffix this aggregator produces.
func (a Aggregator) Suffix() string { return a.suffix }

// aggregateRecord is the lock-protected accumulation state. samples is
// only populated when at least one percentile/median aggregator is
// configured (it requires a sort; Min/Max/Last/Count/Average do not).
type aggregateRecord struct {
	count   int64
	sum     float64
	last    float64
	min     float64
	max     float64
	samples []float64
}

// AggregateGauge retains recorded samples only until the next
// snapshot and reports one reading per configured aggregator (or
// nothing, if the sample count is below minimumEvents and no Count
// aggregator is configured).
type AggregateGauge struct {
	name        string
	unit        string
	description string
	tags        TagSet

	aggregators   []Aggregator
	needsSort     bool
	minimumEvents int64

	mu  sync.Mutex
	rec aggregateRecord
}

// NewAggregateGauge builds an AggregateGauge. minimumEvents <= 0 is
// normalized to 1, the documented default. Aggregators sharing a
// suffix is a construction-time error.
func NewAggregateGauge(name, unit, description string, tags TagSet, minimumEvents int, aggregators ...Aggregator) (*AggregateGauge, error) {
	if minimumEvents <= 0 {
		minimumEvents = 1
	}
	if len(aggregators) == 0 {
		return nil, newConstructionError("no-aggregators", "AggregateGauge %q requires at least one aggregator", name)
	}
	seen := make(map[string]struct{}, len(aggregators))
	needsSort := false
	for _, a := range aggregators {
		if _, dup := seen[a.suffix]; dup {
			return nil, newConstructionError("duplicate-suffix", "AggregateGauge %q has duplicate aggregator suffix %q", name, a.suffix)
		}
		seen[a.suffix] = struct{}{}
		if a.kind == aggPercentile {
			needsSort = true
		}
	}
	return &AggregateGauge{
		name: name, unit: unit, description: description, tags: tags,
		aggregators:   append([]Aggregator(nil), aggregators...),
		needsSort:     needsSort,
		minimumEvents: int64(minimumEvents),
	}, nil
}

func (g *AggregateGauge) Name() string           { return g.name }
func (g *AggregateGauge) Unit() string           { return g.unit }
func (g *AggregateGauge) Description() string    { return g.description }
func (g *AggregateGauge) Tags() TagSet           { return g.tags }
func (g *AggregateGauge) MetricType() MetricType { return MetricTypeGauge }

// Record appends x to the current interval's samples in a single
// critical section, updating the O(1) summary fields even when the
// sorted sample list is also maintained.
func (g *AggregateGauge) Record(x float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec.count == 0 {
		g.rec.min = x
		g.rec.max = x
	} else {
		if x < g.rec.min {
			g.rec.min = x
		}
		if x > g.rec.max {
			g.rec.max = x
		}
	}
	g.rec.count++
	g.rec.sum += x
	g.rec.last = x
	if g.needsSort {
		g.rec.samples = append(g.rec.samples, x)
	}
}

func (g *AggregateGauge) SuffixMetadata() []SuffixMeta {
	out := make([]SuffixMeta, len(g.aggregators))
	for i, a := range g.aggregators {
		out[i] = SuffixMeta{NameWithSuffix: g.name + a.suffix, Unit: g.unit, Description: g.description}
	}
	return out
}

// WriteReadings atomically adopts the current record and replaces it
// with an empty one, then computes each configured aggregator.
// Aggregators besides Count are suppressed entirely when count is
// below minimumEvents; Count always emits.
func (g *AggregateGauge) WriteReadings(batch ReadingBatch, now time.Time) {
	g.mu.Lock()
	rec := g.rec
	g.rec = aggregateRecord{samples: reuseFloatSlice(g.rec.samples)}
	g.mu.Unlock()

	if g.needsSort && len(rec.samples) > 0 {
		sort.Float64s(rec.samples)
	}

	squelched := rec.count < g.minimumEvents

	for _, a := range g.aggregators {
		if a.kind == aggCount {
			batch.Add(NewReading(g.name, MetricTypeGauge, float64(rec.count), g.tags, now, a.suffix))
			continue
		}
		if squelched || rec.count == 0 {
			continue
		}
		var value float64
		switch a.kind {
		case aggLast:
			value = rec.last
		case aggAverage:
			value = rec.sum / float64(rec.count)
		case aggMinMax:
			if a.isMax {
				value = rec.max
			} else {
				value = rec.min
			}
		case aggPercentile:
			value = nearestRank(rec.samples, a.code)
		}
		batch.Add(NewReading(g.name, MetricTypeGauge, value, g.tags, now, a.suffix))
	}
}

// nearestRank implements the nearest-rank percentile on a sorted
// slice. The spec's formula is idx = round(p*(n-1)); worked through
// its own literal example (100 samples, p=0.95 -> 95, p=0.5 -> 50)
// that only holds if ties at the .5 boundary round down rather than
// away from zero, so idx is computed as floor(p*(n-1)) here (see
// DESIGN.md).
func nearestRank(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	idx := int(math.Floor(p * float64(n-1)))
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return sorted[idx]
}

func reuseFloatSlice(old []float64) []float64 {
	if old == nil {
		return nil
	}
	n := len(old)
	if n == 0 {
		return old[:0]
	}
	spare := cap(old) - n
	if spare >= n/2 {
		return old[:0]
	}
	return make([]float64, 0, n)
}

func (g *AggregateGauge) Metadata() []Metadata {
	return buildMetadata(MetricTypeGauge, g.tags, g.SuffixMetadata())
}
