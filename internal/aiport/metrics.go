package aiport

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// latencyRingSize bounds the per-operation latency sample buffer.
const latencyRingSize = 1024

// opMetrics holds counters and latency samples for one AI operation.
type opMetrics struct {
	success     atomic.Int64
	errors      atomic.Int64
	timeouts    atomic.Int64
	cacheHits   atomic.Int64
	cacheMisses atomic.Int64
	fallbacks   atomic.Int64
	circuitOpen atomic.Int64

	mu        sync.Mutex
	latencies []time.Duration // ring buffer
	next      int
	filled    bool
}

func (m *opMetrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.latencies == nil {
		m.latencies = make([]time.Duration, latencyRingSize)
	}
	m.latencies[m.next] = d
	m.next++
	if m.next == latencyRingSize {
		m.next = 0
		m.filled = true
	}
}

// percentiles returns P50/P95/P99 over the buffered samples, zero when no
// samples exist.
func (m *opMetrics) percentiles() (p50, p95, p99 time.Duration) {
	m.mu.Lock()
	n := m.next
	if m.filled {
		n = latencyRingSize
	}
	samples := make([]time.Duration, n)
	copy(samples, m.latencies[:n])
	m.mu.Unlock()

	if len(samples) == 0 {
		return 0, 0, 0
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	idx := func(p float64) int {
		i := int(float64(len(samples)) * p)
		if i >= len(samples) {
			i = len(samples) - 1
		}
		return i
	}
	return samples[idx(0.50)], samples[idx(0.95)], samples[idx(0.99)]
}

// Metrics aggregates per-operation counters for the AI facade. All methods
// are safe for concurrent use.
type Metrics struct {
	ops map[string]*opMetrics
}

// NewMetrics creates metrics for the fixed set of operations.
func NewMetrics(operations ...string) *Metrics {
	ops := make(map[string]*opMetrics, len(operations))
	for _, op := range operations {
		ops[op] = &opMetrics{}
	}
	return &Metrics{ops: ops}
}

func (m *Metrics) op(operation string) *opMetrics {
	return m.ops[operation]
}

func (m *Metrics) Success(op string, latency time.Duration) {
	if o := m.op(op); o != nil {
		o.success.Add(1)
		o.recordLatency(latency)
	}
}

func (m *Metrics) Error(op string) {
	if o := m.op(op); o != nil {
		o.errors.Add(1)
	}
}

func (m *Metrics) Timeout(op string) {
	if o := m.op(op); o != nil {
		o.timeouts.Add(1)
	}
}

func (m *Metrics) CacheHit(op string) {
	if o := m.op(op); o != nil {
		o.cacheHits.Add(1)
	}
}

func (m *Metrics) CacheMiss(op string) {
	if o := m.op(op); o != nil {
		o.cacheMisses.Add(1)
	}
}

func (m *Metrics) Fallback(op string) {
	if o := m.op(op); o != nil {
		o.fallbacks.Add(1)
	}
}

func (m *Metrics) CircuitOpen(op string) {
	if o := m.op(op); o != nil {
		o.circuitOpen.Add(1)
	}
}

// OperationSnapshot is the exported view of one operation's metrics.
type OperationSnapshot struct {
	Success     int64 `json:"success"`
	Errors      int64 `json:"errors"`
	Timeouts    int64 `json:"timeouts"`
	CacheHits   int64 `json:"cacheHits"`
	CacheMisses int64 `json:"cacheMisses"`
	Fallbacks   int64 `json:"fallbacks"`
	CircuitOpen int64 `json:"circuitOpen"`

	LatencyP50Ms float64 `json:"latencyP50Ms"`
	LatencyP95Ms float64 `json:"latencyP95Ms"`
	LatencyP99Ms float64 `json:"latencyP99Ms"`
}

// Snapshot returns a point-in-time copy of all operation metrics.
func (m *Metrics) Snapshot() map[string]OperationSnapshot {
	out := make(map[string]OperationSnapshot, len(m.ops))
	for name, o := range m.ops {
		p50, p95, p99 := o.percentiles()
		out[name] = OperationSnapshot{
			Success:      o.success.Load(),
			Errors:       o.errors.Load(),
			Timeouts:     o.timeouts.Load(),
			CacheHits:    o.cacheHits.Load(),
			CacheMisses:  o.cacheMisses.Load(),
			Fallbacks:    o.fallbacks.Load(),
			CircuitOpen:  o.circuitOpen.Load(),
			LatencyP50Ms: float64(p50) / float64(time.Millisecond),
			LatencyP95Ms: float64(p95) / float64(time.Millisecond),
			LatencyP99Ms: float64(p99) / float64(time.Millisecond),
		}
	}
	return out
}
