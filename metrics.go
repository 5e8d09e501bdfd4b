package blkio

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets are the upper bounds of the latency histogram, from 1us to
// 10s in decades.
var LatencyBuckets = [...]time.Duration{
	time.Microsecond,
	10 * time.Microsecond,
	100 * time.Microsecond,
	time.Millisecond,
	10 * time.Millisecond,
	100 * time.Millisecond,
	time.Second,
	10 * time.Second,
}

// opCounters accumulates completions of one transfer direction
type opCounters struct {
	ops    atomic.Uint64
	bytes  atomic.Uint64 // successful completions only
	errors atomic.Uint64 // completions carrying an errno
	short  atomic.Uint64 // errno-free completions that moved fewer bytes than asked
}

func (c *opCounters) record(comp *Completion) {
	c.ops.Add(1)
	switch {
	case comp.Succeeded():
		c.bytes.Add(uint64(comp.BytesTransferred))
	case comp.Errno != 0:
		c.errors.Add(1)
	default:
		c.short.Add(1)
	}
}

func (c *opCounters) reset() {
	c.ops.Store(0)
	c.bytes.Store(0)
	c.errors.Store(0)
	c.short.Store(0)
}

// latencyHistogram counts samples per bucket. Counts are not cumulative; the
// last slot holds samples above the largest bound.
type latencyHistogram struct {
	counts [len(LatencyBuckets) + 1]atomic.Uint64
	total  atomic.Uint64 // nanoseconds
	n      atomic.Uint64
}

func (h *latencyHistogram) observe(d time.Duration) {
	i := 0
	for i < len(LatencyBuckets) && d > LatencyBuckets[i] {
		i++
	}
	h.counts[i].Add(1)
	h.total.Add(uint64(d))
	h.n.Add(1)
}

// quantile estimates the latency below which q of the samples fall,
// interpolating linearly inside the bucket that crosses the target.
func quantile(counts []uint64, n uint64, q float64) time.Duration {
	if n == 0 {
		return 0
	}
	target := uint64(float64(n) * q)
	var seen uint64
	var lower time.Duration
	for i, c := range counts {
		if i == len(LatencyBuckets) {
			break
		}
		upper := LatencyBuckets[i]
		if c > 0 && seen+c >= target {
			frac := float64(target-seen) / float64(c)
			return lower + time.Duration(frac*float64(upper-lower))
		}
		seen += c
		lower = upper
	}
	return LatencyBuckets[len(LatencyBuckets)-1]
}

func (h *latencyHistogram) reset() {
	for i := range h.counts {
		h.counts[i].Store(0)
	}
	h.total.Store(0)
	h.n.Store(0)
}

// Metrics tracks completion-side performance of an Engine. Queue-time
// accounting lives in Stats; Metrics only sees requests that reached the OS
// plus those the backend refused.
type Metrics struct {
	ops           [2]opCounters // indexed by Op
	submitRejects atomic.Uint64

	depthSum     atomic.Uint64
	depthSamples atomic.Uint64
	maxDepth     atomic.Int64

	latency latencyHistogram

	started atomic.Int64 // UnixNano
	stopped atomic.Int64 // UnixNano, zero while open
}

// NewMetrics creates a metrics instance whose clock starts now
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.started.Store(time.Now().UnixNano())
	return m
}

// RecordCompletion counts one harvested completion
func (m *Metrics) RecordCompletion(c *Completion) {
	if int(c.Op) >= len(m.ops) {
		return
	}
	m.ops[c.Op].record(c)
	m.latency.observe(c.Latency())
}

// RecordSubmitReject counts a request that never reached the backend
func (m *Metrics) RecordSubmitReject() {
	m.submitRejects.Add(1)
}

// RecordQueueDepth samples the number of outstanding requests
func (m *Metrics) RecordQueueDepth(depth int) {
	m.depthSum.Add(uint64(depth))
	m.depthSamples.Add(1)
	for {
		cur := m.maxDepth.Load()
		if int64(depth) <= cur || m.maxDepth.CompareAndSwap(cur, int64(depth)) {
			return
		}
	}
}

// Stop freezes the uptime clock
func (m *Metrics) Stop() {
	m.stopped.Store(time.Now().UnixNano())
}

// Reset zeroes every counter and restarts the clock
func (m *Metrics) Reset() {
	for i := range m.ops {
		m.ops[i].reset()
	}
	m.submitRejects.Store(0)
	m.depthSum.Store(0)
	m.depthSamples.Store(0)
	m.maxDepth.Store(0)
	m.latency.reset()
	m.started.Store(time.Now().UnixNano())
	m.stopped.Store(0)
}

// OpSnapshot is the completion summary of one transfer direction
type OpSnapshot struct {
	Ops       uint64  `json:"ops"`
	Bytes     uint64  `json:"bytes"`
	Errors    uint64  `json:"errors"`
	Short     uint64  `json:"short"`
	IOPS      float64 `json:"iops"`
	Bandwidth float64 `json:"bandwidth"` // bytes per second
}

// Failed is the number of completions that did not move every byte
func (s OpSnapshot) Failed() uint64 { return s.Errors + s.Short }

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Read  OpSnapshot `json:"read"`
	Write OpSnapshot `json:"write"`

	SubmitRejects uint64 `json:"submit_rejects"`

	AvgQueueDepth float64 `json:"avg_queue_depth"`
	MaxQueueDepth int     `json:"max_queue_depth"`

	AvgLatency  time.Duration `json:"avg_latency"`
	LatencyP50  time.Duration `json:"latency_p50"`
	LatencyP99  time.Duration `json:"latency_p99"`
	LatencyP999 time.Duration `json:"latency_p999"`

	// LatencyHistogram[i] counts samples in (LatencyBuckets[i-1], LatencyBuckets[i]];
	// the final entry counts samples above the largest bucket.
	LatencyHistogram [len(LatencyBuckets) + 1]uint64 `json:"latency_histogram"`

	Uptime    time.Duration `json:"uptime"`
	ErrorRate float64       `json:"error_rate"` // percent of completions that failed
}

// TotalOps is the number of completions of either direction
func (s MetricsSnapshot) TotalOps() uint64 { return s.Read.Ops + s.Write.Ops }

// TotalBytes is the number of bytes moved by successful completions
func (s MetricsSnapshot) TotalBytes() uint64 { return s.Read.Bytes + s.Write.Bytes }

// Snapshot copies the current counters and derives rates from them
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot

	stop := m.stopped.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	snap.Uptime = time.Duration(stop - m.started.Load())

	fill := func(c *opCounters) OpSnapshot {
		s := OpSnapshot{
			Ops:    c.ops.Load(),
			Bytes:  c.bytes.Load(),
			Errors: c.errors.Load(),
			Short:  c.short.Load(),
		}
		if secs := snap.Uptime.Seconds(); secs > 0 {
			s.IOPS = float64(s.Ops) / secs
			s.Bandwidth = float64(s.Bytes) / secs
		}
		return s
	}
	snap.Read = fill(&m.ops[OpRead])
	snap.Write = fill(&m.ops[OpWrite])
	snap.SubmitRejects = m.submitRejects.Load()

	if n := m.depthSamples.Load(); n > 0 {
		snap.AvgQueueDepth = float64(m.depthSum.Load()) / float64(n)
	}
	snap.MaxQueueDepth = int(m.maxDepth.Load())

	if total := snap.TotalOps(); total > 0 {
		snap.ErrorRate = float64(snap.Read.Failed()+snap.Write.Failed()) / float64(total) * 100
	}

	var samples uint64
	for i := range m.latency.counts {
		snap.LatencyHistogram[i] = m.latency.counts[i].Load()
		samples += snap.LatencyHistogram[i]
	}
	if n := m.latency.n.Load(); n > 0 {
		snap.AvgLatency = time.Duration(m.latency.total.Load() / n)
	}
	if samples > 0 {
		counts := snap.LatencyHistogram[:]
		snap.LatencyP50 = quantile(counts, samples, 0.50)
		snap.LatencyP99 = quantile(counts, samples, 0.99)
		snap.LatencyP999 = quantile(counts, samples, 0.999)
	}
	return snap
}

// Observer receives engine events for external metrics collection. Calls are
// made on the goroutine driving Submit and Poll.
type Observer interface {
	// ObserveCompletion is called for each harvested completion, before
	// its callback runs
	ObserveCompletion(c *Completion)

	// ObserveSubmitReject is called when a request fails at queue time
	ObserveSubmitReject(op Op)

	// ObserveQueueDepth is called after each accepted submission
	ObserveQueueDepth(outstanding int)
}

// NoOpObserver discards every event
type NoOpObserver struct{}

func (NoOpObserver) ObserveCompletion(*Completion) {}
func (NoOpObserver) ObserveSubmitReject(Op)        {}
func (NoOpObserver) ObserveQueueDepth(int)         {}

// MetricsObserver records events into a Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to m
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveCompletion(c *Completion) { o.metrics.RecordCompletion(c) }
func (o *MetricsObserver) ObserveSubmitReject(Op)          { o.metrics.RecordSubmitReject() }
func (o *MetricsObserver) ObserveQueueDepth(n int)         { o.metrics.RecordQueueDepth(n) }

var (
	_ Observer = (*MetricsObserver)(nil)
	_ Observer = NoOpObserver{}
)
