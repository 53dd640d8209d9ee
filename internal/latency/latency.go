// Package latency tracks a bounded ring of latency samples with lazily
// cached percentile statistics. Directly adapted from a LatencyHistogram
// shape (sliding window, lazy-dirty stats cache, sorted-array quantiles),
// extended with a by-source pivot and a signal/order kind dimension.
package latency

import (
	"log"
	"sort"
	"sync"
	"time"

	"copybridge/internal/domain"
)

const maxSamples = 1000

// warnThreshold is the single-sample latency above which a warning is
// logged.
const warnThreshold = 5 * time.Second

// Stats summarises a window of samples.
type Stats struct {
	Count int
	Min   float64
	Max   float64
	Mean  float64
	P50   float64
	P95   float64
	P99   float64
}

// Monitor is the bounded latency ring plus its lazily-recomputed stats
// cache.
type Monitor struct {
	mu      sync.Mutex
	samples []domain.LatencySample
	dirty   bool
	cached  Stats
}

func New() *Monitor {
	return &Monitor{dirty: true}
}

// RecordSignal records signal-stage latency: now - signal.timestamp.
func (m *Monitor) RecordSignal(source string, signalTimestamp time.Time, now time.Time) {
	totalMs := float64(now.Sub(signalTimestamp).Milliseconds())
	m.record(domain.LatencySample{
		Kind:           domain.LatencySignal,
		Source:         source,
		TotalLatencyMs: totalMs,
		At:             now,
	})
}

// RecordOrder records order-stage latency split into queue and processing
// components: queue = started-created, processing = completed-started.
func (m *Monitor) RecordOrder(source string, created, started, completed time.Time) {
	queueMs := float64(started.Sub(created).Milliseconds())
	procMs := float64(completed.Sub(started).Milliseconds())
	totalMs := float64(completed.Sub(created).Milliseconds())
	m.record(domain.LatencySample{
		Kind:                domain.LatencyOrder,
		Source:              source,
		TotalLatencyMs:      totalMs,
		QueueLatencyMs:      &queueMs,
		ProcessingLatencyMs: &procMs,
		At:                  completed,
	})
}

func (m *Monitor) record(sample domain.LatencySample) {
	if sample.TotalLatencyMs > float64(warnThreshold.Milliseconds()) {
		log.Printf("⚠️ latency: %s/%s sample exceeded 5s: %.0fms", sample.Kind, sample.Source, sample.TotalLatencyMs)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples = append(m.samples, sample)
	if len(m.samples) > maxSamples {
		m.samples = m.samples[len(m.samples)-maxSamples:]
	}
	m.dirty = true
}

// Stats returns percentile/aggregate stats over all retained samples. The
// computation is cached and only redone when new samples have arrived
// since the last call.
func (m *Monitor) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dirty {
		return m.cached
	}
	m.cached = computeStats(m.samples, nil)
	m.dirty = false
	return m.cached
}

// StatsBySource is an independent pivot of the same ring, filtered to one
// source tag. It is always recomputed (no cache) since the source
// dimension changes more rarely than the global aggregate is queried.
func (m *Monitor) StatsBySource(source string) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return computeStats(m.samples, func(s domain.LatencySample) bool { return s.Source == source })
}

func computeStats(samples []domain.LatencySample, filter func(domain.LatencySample) bool) Stats {
	values := make([]float64, 0, len(samples))
	for _, s := range samples {
		if filter != nil && !filter(s) {
			continue
		}
		values = append(values, s.TotalLatencyMs)
	}
	if len(values) == 0 {
		return Stats{}
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return Stats{
		Count: len(values),
		Min:   values[0],
		Max:   values[len(values)-1],
		Mean:  sum / float64(len(values)),
		P50:   percentile(values, 0.50),
		P95:   percentile(values, 0.95),
		P99:   percentile(values, 0.99),
	}
}

// percentile returns the element at index floor(p*(n-1)) of an
// already-sorted slice, without interpolation.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
