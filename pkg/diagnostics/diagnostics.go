// Package diagnostics implements a push-style runtime-metrics adapter
// contract: a bridge between an external event stream (e.g. a runtime
// counter feed) and the metric kernels that should observe it. The
// package defines only the registration contract; the event source
// and the kernels it drives are supplied by the caller.
package diagnostics

import "sync"

// EventSpec names one event source a Dispatcher can route: a provider
// (the subsystem emitting the event, e.g. "gc" or "runtime") and a
// name within that provider (e.g. "pause_ns").
type EventSpec struct {
	Provider string
	Name     string
}

// Dispatcher routes named numeric events from registered sources to
// registered counter/gauge callbacks. Registration is additive and
// concurrent-safe; Shutdown removes every callback.
type Dispatcher struct {
	mu       sync.RWMutex
	sources  map[EventSpec]bool
	counters map[EventSpec][]func(float64)
	gauges   map[EventSpec][]func(float64)
	shutdown bool
}

// New builds an empty Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		sources:  make(map[EventSpec]bool),
		counters: make(map[EventSpec][]func(float64)),
		gauges:   make(map[EventSpec][]func(float64)),
	}
}

// AddSource registers interest in spec. Idempotent: registering the
// same spec twice has no additional effect.
func (d *Dispatcher) AddSource(spec EventSpec) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return
	}
	d.sources[spec] = true
}

// AddCounterCallback registers fn to be invoked with the raw event
// value whenever a matching (provider, name) event arrives. fn is
// typically a Counter's Increment/Inc wired through a small closure,
// e.g. func(v float64) { counter.Increment(int64(v)) }.
func (d *Dispatcher) AddCounterCallback(provider, name string, fn func(value float64)) {
	d.addCallback(d.counters, provider, name, fn)
}

// AddGaugeCallback registers fn to be invoked with the raw event value
// whenever a matching (provider, name) event arrives, typically
// wrapping a SamplingGauge's Record.
func (d *Dispatcher) AddGaugeCallback(provider, name string, fn func(value float64)) {
	d.addCallback(d.gauges, provider, name, fn)
}

func (d *Dispatcher) addCallback(target map[EventSpec][]func(float64), provider, name string, fn func(float64)) {
	spec := EventSpec{Provider: provider, Name: name}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return
	}
	target[spec] = append(target[spec], fn)
}

// Dispatch delivers value to every counter and gauge callback
// registered for (provider, name). It is the entry point the external
// event stream calls; unknown (provider, name) pairs are silently
// dropped.
func (d *Dispatcher) Dispatch(provider, name string, value float64) {
	spec := EventSpec{Provider: provider, Name: name}
	d.mu.RLock()
	counters := append([]func(float64){}, d.counters[spec]...)
	gauges := append([]func(float64){}, d.gauges[spec]...)
	d.mu.RUnlock()
	for _, fn := range counters {
		fn(value)
	}
	for _, fn := range gauges {
		fn(value)
	}
}

// Sources returns the set of registered EventSpecs, for adapters that
// need to subscribe to an external feed on the caller's behalf.
func (d *Dispatcher) Sources() []EventSpec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]EventSpec, 0, len(d.sources))
	for spec := range d.sources {
		out = append(out, spec)
	}
	return out
}

// Shutdown removes every registered source and callback. Safe to call
// more than once; subsequent registrations after Shutdown are no-ops.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.shutdown = true
	d.sources = make(map[EventSpec]bool)
	d.counters = make(map[EventSpec][]func(float64))
	d.gauges = make(map[EventSpec][]func(float64))
}
