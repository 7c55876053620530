package metrics

import (
	"encoding/json"
	"math/big"
	"sync"
	"time"
)

// Counter families kept by the Collector.
const (
	FamilyReceipts      = "receipts_posted"
	FamilyDisputes      = "disputes_opened"
	FamilyResolutions   = "dispute_resolutions"
	FamilyEscrow        = "escrow_transitions"
	FamilyNotifications = "notifications"
	FamilyRequests      = "api_requests"
)

// Collector aggregates engine activity for the JSON stats endpoint.
type Collector struct {
	mu       sync.RWMutex
	counters map[string]map[string]uint64
	slashed  *big.Int

	// API latencies by route
	latencies   map[string]*LatencyHistogram
	latenciesMu sync.RWMutex

	startTime time.Time
}

// LatencyHistogram tracks request latencies in buckets
type LatencyHistogram struct {
	// Buckets: [0-1ms], [1-5ms], [5-10ms], [10-25ms], [25-50ms], [50-100ms],
	// [100-250ms], [250-500ms], [500-1000ms], [1000ms+]
	buckets [10]uint64
	sum     uint64 // nanoseconds
	count   uint64
	mu      sync.Mutex
}

// bucket boundaries in milliseconds
var bucketBoundaries = []int64{1, 5, 10, 25, 50, 100, 250, 500, 1000}

var bucketLabels = []string{
	"0-1ms", "1-5ms", "5-10ms", "10-25ms", "25-50ms",
	"50-100ms", "100-250ms", "250-500ms", "500-1000ms", "1000ms+",
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]map[string]uint64),
		slashed:   new(big.Int),
		latencies: make(map[string]*LatencyHistogram),
		startTime: time.Now(),
	}
}

// Inc adds one to the labelled counter of family.
func (c *Collector) Inc(family, label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := c.counters[family]
	if f == nil {
		f = make(map[string]uint64)
		c.counters[family] = f
	}
	f[label]++
}

// Count returns one labelled counter.
func (c *Collector) Count(family, label string) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.counters[family][label]
}

// AddSlashed adds to the total slashed value in wei.
func (c *Collector) AddSlashed(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slashed.Add(c.slashed, amount)
}

// RecordLatency records the latency for a request
func (c *Collector) RecordLatency(route string, duration time.Duration) {
	c.latenciesMu.Lock()
	hist, exists := c.latencies[route]
	if !exists {
		hist = &LatencyHistogram{}
		c.latencies[route] = hist
	}
	c.latenciesMu.Unlock()

	hist.Record(duration)
}

// Record records a latency value in the histogram
func (h *LatencyHistogram) Record(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ms := d.Milliseconds()
	idx := len(bucketBoundaries)
	for i, boundary := range bucketBoundaries {
		if ms < boundary {
			idx = i
			break
		}
	}
	h.buckets[idx]++
	h.sum += uint64(d.Nanoseconds())
	h.count++
}

// Metrics is a point-in-time copy of the collector.
type Metrics struct {
	Uptime           string                       `json:"uptime"`
	UptimeSeconds    float64                      `json:"uptime_seconds"`
	Counters         map[string]map[string]uint64 `json:"counters"`
	SlashedWei       string                       `json:"slashed_wei"`
	RequestLatencies map[string]LatencyStats      `json:"request_latencies"`
	CollectedAt      time.Time                    `json:"collected_at"`
}

// LatencyStats contains latency statistics for a route
type LatencyStats struct {
	Count   uint64            `json:"count"`
	SumMs   float64           `json:"sum_ms"`
	AvgMs   float64           `json:"avg_ms"`
	Buckets map[string]uint64 `json:"buckets"`
}

// GetMetrics returns the current metrics as a Metrics struct
func (c *Collector) GetMetrics() *Metrics {
	uptime := time.Since(c.startTime)

	counters := make(map[string]map[string]uint64)
	c.mu.RLock()
	for family, labels := range c.counters {
		out := make(map[string]uint64, len(labels))
		for label, n := range labels {
			out[label] = n
		}
		counters[family] = out
	}
	slashed := c.slashed.String()
	c.mu.RUnlock()

	latencies := make(map[string]LatencyStats)
	c.latenciesMu.RLock()
	for route, hist := range c.latencies {
		hist.mu.Lock()
		stats := LatencyStats{
			Count:   hist.count,
			SumMs:   float64(hist.sum) / float64(time.Millisecond),
			Buckets: make(map[string]uint64),
		}
		if hist.count > 0 {
			stats.AvgMs = float64(hist.sum) / float64(hist.count) / float64(time.Millisecond)
		}
		for i, count := range hist.buckets {
			if count > 0 {
				stats.Buckets[bucketLabels[i]] = count
			}
		}
		hist.mu.Unlock()
		latencies[route] = stats
	}
	c.latenciesMu.RUnlock()

	return &Metrics{
		Uptime:           uptime.Round(time.Second).String(),
		UptimeSeconds:    uptime.Seconds(),
		Counters:         counters,
		SlashedWei:       slashed,
		RequestLatencies: latencies,
		CollectedAt:      time.Now(),
	}
}

// GetMetricsJSON returns the current metrics as JSON
func (c *Collector) GetMetricsJSON() ([]byte, error) {
	return json.Marshal(c.GetMetrics())
}
