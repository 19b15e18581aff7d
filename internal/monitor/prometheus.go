package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics holds all Prometheus metrics for the facade.
type PrometheusMetrics struct {
	// Registry for this instance
	Registry *prometheus.Registry

	// System metrics
	CPUUsage      prometheus.Gauge
	MemoryUsed    prometheus.Gauge
	ProcessMemory prometheus.Gauge
	Goroutines    prometheus.Gauge

	// Facade metrics
	CacheHits        prometheus.Counter
	CacheMisses      prometheus.Counter
	TokenRefreshes   prometheus.Counter
	SecurityAuths    prometheus.Counter
	UpstreamRequests *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec

	monitor *Monitor
}

// NewPrometheusMetrics creates and registers Prometheus metrics.
func NewPrometheusMetrics(mon *Monitor) *PrometheusMetrics {
	// Separate registry to avoid conflicts with the default one
	registry := prometheus.NewRegistry()

	pm := &PrometheusMetrics{
		Registry: registry,
		monitor:  mon,
	}

	pm.CPUUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msixvcdl_cpu_usage_percent",
		Help: "Current CPU usage percentage",
	})
	registry.MustRegister(pm.CPUUsage)

	pm.MemoryUsed = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msixvcdl_memory_used_bytes",
		Help: "Used system memory in bytes",
	})
	registry.MustRegister(pm.MemoryUsed)

	pm.ProcessMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msixvcdl_process_memory_bytes",
		Help: "Resident memory of the facade process in bytes",
	})
	registry.MustRegister(pm.ProcessMemory)

	pm.Goroutines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "msixvcdl_goroutines",
		Help: "Number of goroutines",
	})
	registry.MustRegister(pm.Goroutines)

	pm.CacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msixvcdl_cache_hits_total",
		Help: "Package cache hits",
	})
	registry.MustRegister(pm.CacheHits)

	pm.CacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msixvcdl_cache_misses_total",
		Help: "Package cache misses",
	})
	registry.MustRegister(pm.CacheMisses)

	pm.TokenRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msixvcdl_token_refreshes_total",
		Help: "Successful access token refreshes",
	})
	registry.MustRegister(pm.TokenRefreshes)

	pm.SecurityAuths = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "msixvcdl_security_auths_total",
		Help: "Successful user/XSTS token derivations",
	})
	registry.MustRegister(pm.SecurityAuths)

	pm.UpstreamRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "msixvcdl_upstream_requests_total",
		Help: "Upstream requests by target",
	}, []string{"target"})
	registry.MustRegister(pm.UpstreamRequests)

	pm.RequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "msixvcdl_request_duration_seconds",
		Help:    "Inbound request duration by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	registry.MustRegister(pm.RequestDuration)

	return pm
}

// UpdateSystemMetrics refreshes the system gauges from the monitor.
func (pm *PrometheusMetrics) UpdateSystemMetrics() {
	if pm.monitor == nil {
		return
	}

	if cpuStats, err := pm.monitor.GetCPUUsage(); err == nil {
		pm.CPUUsage.Set(cpuStats.UsagePercent)
	}
	if memStats, err := pm.monitor.GetMemoryUsage(); err == nil {
		pm.MemoryUsed.Set(float64(memStats.Used))
	}
	if procInfo, err := pm.monitor.GetProcessInfo(); err == nil {
		pm.ProcessMemory.Set(float64(procInfo.MemoryBytes))
	}
	pm.Goroutines.Set(float64(pm.monitor.GetRuntimeStats().GoroutineCount))
}

// IncTokenRefresh implements the auth metrics sink.
func (pm *PrometheusMetrics) IncTokenRefresh() {
	pm.TokenRefreshes.Inc()
}

// IncSecurityAuth implements the auth metrics sink.
func (pm *PrometheusMetrics) IncSecurityAuth() {
	pm.SecurityAuths.Inc()
}
