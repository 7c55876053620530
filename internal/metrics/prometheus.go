package metrics

import (
	"math/big"
	"net/http"
	"runtime"
	"time"

	"github.com/moltbunker/solverbond/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "solverbond"

// PrometheusCollector records engine activity in both the JSON Collector and
// a dedicated Prometheus registry.
type PrometheusCollector struct {
	collector *Collector
	registry  *prometheus.Registry

	receiptsPosted  prometheus.Counter
	disputesOpened  *prometheus.CounterVec
	resolutions     *prometheus.CounterVec
	slashedWei      prometheus.Counter
	escrow          *prometheus.CounterVec
	notifications   *prometheus.CounterVec
	requestCount    *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	goroutineCount prometheus.GaugeFunc
	uptimeSeconds  prometheus.GaugeFunc
}

// NewPrometheusCollector creates a PrometheusCollector wrapping c. Metrics
// are registered in a dedicated registry, not the global one.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	if c == nil {
		c = NewCollector()
	}
	reg := prometheus.NewRegistry()
	start := time.Now()

	p := &PrometheusCollector{
		collector: c,
		registry:  reg,
		receiptsPosted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_posted_total",
			Help:      "Receipts accepted by the hub.",
		}),
		disputesOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disputes_opened_total",
			Help:      "Hub disputes opened by reason.",
		}, []string{"reason"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispute_resolutions_total",
			Help:      "Dispute and receipt resolutions by outcome.",
		}, []string{"outcome"}),
		slashedWei: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slashed_wei_total",
			Help:      "Solver bond slashed, in wei.",
		}),
		escrow: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "escrow_transitions_total",
			Help:      "Escrow transitions by resulting status.",
		}, []string{"status"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Outcome notifications by result (delivered, failed, dropped).",
		}, []string{"result"}),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Read API requests by route.",
		}, []string{"route"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "api_request_duration_seconds",
			Help:      "Read API latency by route.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"route"}),
		goroutineCount: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutine_count",
			Help:      "Number of goroutines.",
		}, func() float64 { return float64(runtime.NumGoroutine()) }),
		uptimeSeconds: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since the daemon started in seconds.",
		}, func() float64 { return time.Since(start).Seconds() }),
	}

	reg.MustRegister(
		p.receiptsPosted,
		p.disputesOpened,
		p.resolutions,
		p.slashedWei,
		p.escrow,
		p.notifications,
		p.requestCount,
		p.requestDuration,
		p.goroutineCount,
		p.uptimeSeconds,
	)
	return p
}

// Registry returns the Prometheus registry used by this collector.
func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Collector returns the underlying JSON Collector.
func (p *PrometheusCollector) Collector() *Collector {
	return p.collector
}

// RecordReceiptPosted counts an accepted receipt.
func (p *PrometheusCollector) RecordReceiptPosted() {
	p.collector.Inc(FamilyReceipts, "all")
	p.receiptsPosted.Inc()
}

// RecordDisputeOpened counts a hub dispute by reason.
func (p *PrometheusCollector) RecordDisputeOpened(reason types.DisputeReason) {
	p.collector.Inc(FamilyDisputes, reason.String())
	p.disputesOpened.WithLabelValues(reason.String()).Inc()
}

// RecordResolution counts a resolution: finalized, slashed, rejected,
// challenger_wins, solver_wins, arbitration_timeout.
func (p *PrometheusCollector) RecordResolution(outcome string) {
	p.collector.Inc(FamilyResolutions, outcome)
	p.resolutions.WithLabelValues(outcome).Inc()
}

// RecordSlash adds slashed bond.
func (p *PrometheusCollector) RecordSlash(amount *big.Int) {
	if amount == nil || amount.Sign() <= 0 {
		return
	}
	p.collector.AddSlashed(amount)
	f, _ := new(big.Float).SetInt(amount).Float64()
	p.slashedWei.Add(f)
}

// RecordEscrow counts an escrow transition.
func (p *PrometheusCollector) RecordEscrow(status types.EscrowStatus) {
	p.collector.Inc(FamilyEscrow, status.String())
	p.escrow.WithLabelValues(status.String()).Inc()
}

// RecordNotification counts a notifier result.
func (p *PrometheusCollector) RecordNotification(result string) {
	p.collector.Inc(FamilyNotifications, result)
	p.notifications.WithLabelValues(result).Inc()
}

// RecordRequest counts a read API request and its latency.
func (p *PrometheusCollector) RecordRequest(route string, duration time.Duration) {
	p.collector.Inc(FamilyRequests, route)
	p.collector.RecordLatency(route, duration)
	p.requestCount.WithLabelValues(route).Inc()
	p.requestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// PrometheusHandler serves the registry in the Prometheus text format.
func (p *PrometheusCollector) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
