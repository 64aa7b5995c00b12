// Package metrics holds the Prometheus collectors of CertifyChain. All
// Observe methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "certifychain"

type Metrics struct {
	registry *prometheus.Registry

	httpRequests  *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
	chainCalls    *prometheus.CounterVec
	chainLatency  *prometheus.HistogramVec
	flowOutcomes  *prometheus.CounterVec
	uploadedBytes prometheus.Counter
}

// New creates a registry with process and Go runtime collectors plus the
// application metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := &Metrics{registry: reg}
	m.init(reg)
	return m
}

func (m *Metrics) init(promRegistry prometheus.Registerer) {
	promautoFactory := promauto.With(promRegistry)
	m.httpRequests = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status",
	}, []string{"method", "route", "status"})
	m.httpLatency = promautoFactory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})
	m.chainCalls = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "chain_calls_total",
		Help:      "registry contract calls by method and result",
	}, []string{"method", "result"})
	m.chainLatency = promautoFactory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "chain_call_duration_seconds",
		Help:      "registry contract call latency, including confirmation waits for writes",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5.5m
	}, []string{"method"})
	m.flowOutcomes = promautoFactory.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_outcomes_total",
		Help:      "reconciliation outcomes by operation and consistency",
	}, []string{"operation", "consistency"})
	m.uploadedBytes = promautoFactory.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "bytes of certificate documents stored",
	})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Counters returns the values of the application counter name (without the
// namespace), keyed by its label values joined with "/". Processes without a
// scrape endpoint log it on exit.
func (m *Metrics) Counters(name string) map[string]float64 {
	out := map[string]float64{}
	if m == nil {
		return out
	}
	families, err := m.registry.Gather()
	if err != nil {
		return out
	}
	for _, family := range families {
		if family.GetName() != namespace+"_"+name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() == nil {
				continue
			}
			values := make([]string, 0, len(metric.GetLabel()))
			for _, label := range metric.GetLabel() {
				values = append(values, label.GetValue())
			}
			out[strings.Join(values, "/")] = metric.GetCounter().GetValue()
		}
	}
	return out
}

func (m *Metrics) ObserveHTTP(method, route string, status int, latency time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(latency.Seconds())
}

func (m *Metrics) ObserveChainCall(method string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.chainCalls.WithLabelValues(method, result).Inc()
	m.chainLatency.WithLabelValues(method).Observe(latency.Seconds())
}

func (m *Metrics) ObserveFlow(operation, consistency string) {
	if m == nil {
		return
	}
	m.flowOutcomes.WithLabelValues(operation, consistency).Inc()
}

func (m *Metrics) ObserveUpload(size int64) {
	if m == nil {
		return
	}
	m.uploadedBytes.Add(float64(size))
}
