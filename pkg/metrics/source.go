package metrics

import (
	"sync"
	"time"
)

// SourceOptions configures how a MetricSource validates and tags the
// metrics registered against it.
type SourceOptions struct {
	// DefaultTags are merged into every metric's local tags; local
	// tags win on key collision.
	DefaultTags map[string]string
	Validator   Validator
}

// SnapshotAttacher is implemented by collectors a Source can attach
// to for snapshot-time pre-processing. It is intentionally the only
// point of contact between a Source and its Collector, avoiding a
// cyclic metric<->collector reference: the Source depends on this
// tiny interface, never on a concrete Collector type.
type SnapshotAttacher interface {
	// Now returns the collector's notion of the current time, letting
	// attached sources align any internal bookkeeping with it.
	Now() time.Time
}

// MetricSource is a registry of kernels and tagged factories. It
// enforces that every (name, tags) pair is registered at most once
// across every writer registered against it.
type MetricSource struct {
	opts SourceOptions

	mu       sync.Mutex
	writers  []Writer
	seen     map[string]struct{} // name + "\x1e" + tags.Key()

	attachMu sync.Mutex
	attached SnapshotAttacher
	onAttach func(SnapshotAttacher)
	onDetach func()
}

// NewMetricSource builds an empty MetricSource.
func NewMetricSource(opts SourceOptions) *MetricSource {
	return &MetricSource{opts: opts, seen: make(map[string]struct{})}
}

// SetAttachHooks installs callbacks invoked by Attach/Detach. Used by
// adapters that need to know when a collector starts driving
// snapshots.
func (s *MetricSource) SetAttachHooks(onAttach func(SnapshotAttacher), onDetach func()) {
	s.onAttach = onAttach
	s.onDetach = onDetach
}

// Attach is called by a Collector when it starts. It is a no-op if no
// attach hook was installed.
func (s *MetricSource) Attach(c SnapshotAttacher) {
	s.attachMu.Lock()
	s.attached = c
	hook := s.onAttach
	s.attachMu.Unlock()
	if hook != nil {
		hook(c)
	}
}

// Detach is called by a Collector when it stops.
func (s *MetricSource) Detach() {
	s.attachMu.Lock()
	s.attached = nil
	hook := s.onDetach
	s.attachMu.Unlock()
	if hook != nil {
		hook()
	}
}

func (s *MetricSource) effectiveTags(local map[string]string) (TagSet, error) {
	merged := MergeTags(s.opts.DefaultTags, local)
	return newTagSet(s.opts.Validator, merged)
}

func (s *MetricSource) register(name string, tags TagSet, w Writer) error {
	key := name + "\x1e" + tags.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return newConstructionError("duplicate-metric", "metric %q with tags %q already registered on this source", name, tags.Key())
	}
	s.seen[key] = struct{}{}
	s.writers = append(s.writers, w)
	return nil
}

// markTagTuple reserves a (name, tags) pair for a factory-created
// kernel without adding a new top-level writer (the factory itself is
// the writer). It still enforces I1 across the whole source.
func (s *MetricSource) markTagTuple(name string, tags TagSet) error {
	key := name + "\x1e" + tags.Key()
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[key]; dup {
		return newConstructionError("duplicate-metric", "metric %q with tags %q already registered on this source", name, tags.Key())
	}
	s.seen[key] = struct{}{}
	return nil
}

func (s *MetricSource) name(raw string) (string, error) {
	return s.opts.Validator.metricName(raw)
}

// NewCounter registers and returns a new Counter.
func (s *MetricSource) NewCounter(name, unit, description string, tags map[string]string) (*Counter, error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	ts, err := s.effectiveTags(tags)
	if err != nil {
		return nil, err
	}
	k := NewCounter(n, unit, description, ts)
	if err := s.register(n, ts, k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewCumulativeCounter registers and returns a new CumulativeCounter.
func (s *MetricSource) NewCumulativeCounter(name, unit, description string, tags map[string]string) (*CumulativeCounter, error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	ts, err := s.effectiveTags(tags)
	if err != nil {
		return nil, err
	}
	k := NewCumulativeCounter(n, unit, description, ts)
	if err := s.register(n, ts, k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewSnapshotCounter registers and returns a new SnapshotCounter.
func (s *MetricSource) NewSnapshotCounter(name, unit, description string, tags map[string]string, provider SnapshotCounterProvider) (*SnapshotCounter, error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	ts, err := s.effectiveTags(tags)
	if err != nil {
		return nil, err
	}
	k := NewSnapshotCounter(n, unit, description, ts, provider)
	if err := s.register(n, ts, k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewSamplingGauge registers and returns a new SamplingGauge.
func (s *MetricSource) NewSamplingGauge(name, unit, description string, tags map[string]string) (*SamplingGauge, error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	ts, err := s.effectiveTags(tags)
	if err != nil {
		return nil, err
	}
	k := NewSamplingGauge(n, unit, description, ts)
	if err := s.register(n, ts, k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewEventGauge registers and returns a new EventGauge.
func (s *MetricSource) NewEventGauge(name, unit, description string, tags map[string]string) (*EventGauge, error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	ts, err := s.effectiveTags(tags)
	if err != nil {
		return nil, err
	}
	k := NewEventGauge(n, unit, description, ts)
	if err := s.register(n, ts, k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewAggregateGauge registers and returns a new AggregateGauge.
func (s *MetricSource) NewAggregateGauge(name, unit, description string, tags map[string]string, minimumEvents int, aggregators ...Aggregator) (*AggregateGauge, error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	ts, err := s.effectiveTags(tags)
	if err != nil {
		return nil, err
	}
	k, err := NewAggregateGauge(n, unit, description, ts, minimumEvents, aggregators...)
	if err != nil {
		return nil, err
	}
	if err := s.register(n, ts, k); err != nil {
		return nil, err
	}
	return k, nil
}

// NewTaggedCounterFactory registers a TaggedFactory of Counters keyed
// by tagNames, under (staticTags ∪ tagNames).
func (s *MetricSource) NewTaggedCounterFactory(name, unit, description string, staticTags map[string]string, tagNames ...string) (*TaggedFactory[*Counter], error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	f := NewTaggedFactory[*Counter](n, tagNames, func(tagValues []string) (*Counter, error) {
		local := MergeTags(staticTags, zipTags(tagNames, tagValues))
		ts, err := s.effectiveTags(local)
		if err != nil {
			return nil, err
		}
		if err := s.markTagTuple(n, ts); err != nil {
			return nil, err
		}
		return NewCounter(n, unit, description, ts), nil
	})
	s.mu.Lock()
	s.writers = append(s.writers, f)
	s.mu.Unlock()
	return f, nil
}

// NewTaggedGaugeFactory registers a TaggedFactory of SamplingGauges
// keyed by tagNames.
func (s *MetricSource) NewTaggedGaugeFactory(name, unit, description string, staticTags map[string]string, tagNames ...string) (*TaggedFactory[*SamplingGauge], error) {
	n, err := s.name(name)
	if err != nil {
		return nil, err
	}
	f := NewTaggedFactory[*SamplingGauge](n, tagNames, func(tagValues []string) (*SamplingGauge, error) {
		local := MergeTags(staticTags, zipTags(tagNames, tagValues))
		ts, err := s.effectiveTags(local)
		if err != nil {
			return nil, err
		}
		if err := s.markTagTuple(n, ts); err != nil {
			return nil, err
		}
		return NewSamplingGauge(n, unit, description, ts), nil
	})
	s.mu.Lock()
	s.writers = append(s.writers, f)
	s.mu.Unlock()
	return f, nil
}

func zipTags(names, values []string) map[string]string {
	out := make(map[string]string, len(names))
	for i, n := range names {
		if i < len(values) {
			out[n] = values[i]
		}
	}
	return out
}

// WriteReadings sequentially dispatches to every registered writer.
func (s *MetricSource) WriteReadings(batch ReadingBatch, now time.Time) {
	s.mu.Lock()
	writers := append([]Writer(nil), s.writers...)
	s.mu.Unlock()
	for _, w := range writers {
		w.WriteReadings(batch, now)
	}
}

// Metadata flat-maps metadata over every registered writer.
func (s *MetricSource) Metadata() []Metadata {
	s.mu.Lock()
	writers := append([]Writer(nil), s.writers...)
	s.mu.Unlock()
	var out []Metadata
	for _, w := range writers {
		out = append(out, w.Metadata()...)
	}
	return out
}
