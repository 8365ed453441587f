package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// VaultMetrics records loan-operation activity for the RPC surface.
type VaultMetrics struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

var (
	vaultMetricsOnce sync.Once
	vaultRegistry    *VaultMetrics
)

// Vault returns the lazily-initialised vault metrics registry.
func Vault() *VaultMetrics {
	vaultMetricsOnce.Do(func() {
		vaultRegistry = &VaultMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "operations_total",
				Help:      "Total vault operations segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "synthvault",
				Subsystem: "vault",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for vault operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(vaultRegistry.operations, vaultRegistry.latency)
	})
	return vaultRegistry
}

// Observe records one completed operation with its outcome and duration.
func (m *VaultMetrics) Observe(method, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(took.Seconds())
}
