package mqttconn

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// atomicFloat64 is a float64 with atomic add/load/store, stored as IEEE 754
// bits in a uint64.
type atomicFloat64 struct {
	bits atomic.Uint64
}

func (f *atomicFloat64) add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}

func (f *atomicFloat64) store(value float64) {
	f.bits.Store(math.Float64bits(value))
}

func (f *atomicFloat64) load() float64 {
	return math.Float64frombits(f.bits.Load())
}

// MemoryMetrics is an in-memory implementation of Metrics. It backs the
// connection manager's test assertions: every series the manager records
// (connect attempts, active connections, pending operations, connect
// latency) can be read back by name and labels.
type MemoryMetrics struct {
	mu     sync.RWMutex
	series map[string]any
}

// NewMemoryMetrics creates a new in-memory metrics instance.
func NewMemoryMetrics() *MemoryMetrics {
	return &MemoryMetrics{series: make(map[string]any)}
}

// labelsKey flattens a metric name and its labels into a series key.
func labelsKey(name string, labels MetricLabels) string {
	if len(labels) == 0 {
		return name
	}

	key := name
	for k, v := range labels {
		key += "|" + k + "=" + v
	}

	return key
}

// Counter returns the counter series for the name and labels, creating it
// on first use.
func (m *MemoryMetrics) Counter(name string, labels MetricLabels) Counter {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.series[key].(*memoryCounter); ok {
		return c
	}

	c := &memoryCounter{}
	m.series[key] = c

	return c
}

// Gauge returns the gauge series for the name and labels, creating it on
// first use.
func (m *MemoryMetrics) Gauge(name string, labels MetricLabels) Gauge {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if g, ok := m.series[key].(*memoryGauge); ok {
		return g
	}

	g := &memoryGauge{}
	m.series[key] = g

	return g
}

// Histogram returns the histogram series for the name and labels, creating
// it on first use.
func (m *MemoryMetrics) Histogram(name string, labels MetricLabels) Histogram {
	key := labelsKey(name, labels)

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.series[key].(*memoryHistogram); ok {
		return h
	}

	h := &memoryHistogram{}
	m.series[key] = h

	return h
}

// GetCounter returns a recorded counter series, or nil if nothing was
// recorded under the name and labels.
func (m *MemoryMetrics) GetCounter(name string, labels MetricLabels) Counter {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, _ := m.series[labelsKey(name, labels)].(*memoryCounter)
	if c == nil {
		return nil
	}
	return c
}

// GetGauge returns a recorded gauge series, or nil if nothing was recorded
// under the name and labels.
func (m *MemoryMetrics) GetGauge(name string, labels MetricLabels) Gauge {
	m.mu.RLock()
	defer m.mu.RUnlock()

	g, _ := m.series[labelsKey(name, labels)].(*memoryGauge)
	if g == nil {
		return nil
	}
	return g
}

// GetHistogram returns a recorded histogram series, or nil if nothing was
// recorded under the name and labels.
func (m *MemoryMetrics) GetHistogram(name string, labels MetricLabels) Histogram {
	m.mu.RLock()
	defer m.mu.RUnlock()

	h, _ := m.series[labelsKey(name, labels)].(*memoryHistogram)
	if h == nil {
		return nil
	}
	return h
}

type memoryCounter struct {
	value atomicFloat64
}

func (c *memoryCounter) Inc()              { c.value.add(1) }
func (c *memoryCounter) Add(delta float64) { c.value.add(delta) }
func (c *memoryCounter) Value() float64    { return c.value.load() }

type memoryGauge struct {
	value atomicFloat64
}

func (g *memoryGauge) Set(value float64) { g.value.store(value) }
func (g *memoryGauge) Inc()              { g.value.add(1) }
func (g *memoryGauge) Dec()              { g.value.add(-1) }
func (g *memoryGauge) Add(delta float64) { g.value.add(delta) }
func (g *memoryGauge) Sub(delta float64) { g.value.add(-delta) }
func (g *memoryGauge) Value() float64    { return g.value.load() }

type memoryHistogram struct {
	count atomic.Uint64
	sum   atomicFloat64
}

func (h *memoryHistogram) Observe(value float64) {
	h.count.Add(1)
	h.sum.add(value)
}

func (h *memoryHistogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

func (h *memoryHistogram) Count() uint64 { return h.count.Load() }
func (h *memoryHistogram) Sum() float64  { return h.sum.load() }
