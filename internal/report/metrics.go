package report

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"btstest/internal/session"
)

// Metrics collects run statistics in a private registry. It implements
// rpc.Observer and node.StartupObserver and provides a session mismatch hook.
type Metrics struct {
	registry *prometheus.Registry

	RPCCalls     *prometheus.CounterVec
	RPCLatency   *prometheus.HistogramVec
	Mismatches   *prometheus.CounterVec
	NodeStartup  *prometheus.HistogramVec
	TestResults  *prometheus.CounterVec
	TestDuration prometheus.Histogram
}

// NewMetrics registers every btstest metric on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RPCCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btstest_rpc_calls_total",
			Help: "RPC calls made to nodes",
		}, []string{"method", "outcome"}),
		RPCLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btstest_rpc_call_seconds",
			Help:    "RPC call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		Mismatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btstest_expectation_mismatches_total",
			Help: "Expectation mismatches by client and whether they were counted as failures",
		}, []string{"client", "counted"}),
		NodeStartup: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "btstest_node_startup_seconds",
			Help:    "Time from spawn until the node answered get_info",
			Buckets: []float64{0.25, 1, 5, 10, 20, 60, 120, 300},
		}, []string{"outcome"}),
		TestResults: f.NewCounterVec(prometheus.CounterOpts{
			Name: "btstest_test_results_total",
			Help: "Test directory results by outcome",
		}, []string{"outcome"}),
		TestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "btstest_test_duration_seconds",
			Help:    "Wall time of each test directory",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCall records one RPC call.
func (m *Metrics) ObserveCall(method string, d time.Duration, err error) {
	m.RPCCalls.WithLabelValues(method, outcome(err)).Inc()
	m.RPCLatency.WithLabelValues(method).Observe(d.Seconds())
}

// ObserveStartup records how long a node took to become ready.
func (m *Metrics) ObserveStartup(_ string, d time.Duration, err error) {
	m.NodeStartup.WithLabelValues(outcome(err)).Observe(d.Seconds())
}

// ObserveMismatch is a session mismatch hook.
func (m *Metrics) ObserveMismatch(mm *session.Mismatch) {
	m.Mismatches.WithLabelValues(mm.Client, fmt.Sprint(mm.Counted)).Inc()
}

// ObserveResult records the outcome of one test directory.
func (m *Metrics) ObserveResult(r *Result) {
	m.TestResults.WithLabelValues(string(r.Outcome())).Inc()
	m.TestDuration.Observe(r.Duration.Seconds())
}

// WriteFile writes the registry in node_exporter textfile format.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
