package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Download metrics
	Downloads        *prometheus.CounterVec
	DownloadBytes    prometheus.Counter
	DownloadDuration prometheus.Histogram

	// Install metrics
	Installs  *prometheus.CounterVec
	Rollbacks prometheus.Counter

	// Version check metrics
	VersionChecks    *prometheus.CounterVec
	VersionEvictions prometheus.Counter

	// Module loading metrics
	ModuleLoads *prometheus.CounterVec

	// Index server metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Snapshot for JSON API - track current values
	snapshot Snapshot
	mu       sync.RWMutex
}

// Snapshot holds current counter values for the CLI and health endpoint.
type Snapshot struct {
	Downloads       int64
	DownloadFailure int64
	BytesDownloaded int64
	Installs        int64
	Rollbacks       int64
	Evictions       int64
	ModuleLoads     int64
}

// NewMetrics creates a metrics collector registered against reg. Passing
// nil registers against the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		Downloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_downloads_total",
				Help: "Total number of package downloads by outcome",
			},
			[]string{"outcome"},
		),
		DownloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "modhost_download_bytes_total",
				Help: "Total bytes streamed from the package index",
			},
		),
		DownloadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "modhost_download_duration_seconds",
				Help:    "Package download duration in seconds",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
		),
		Installs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_installs_total",
				Help: "Total number of envelope installs by outcome",
			},
			[]string{"outcome"},
		),
		Rollbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "modhost_rollbacks_total",
				Help: "Total number of packages removed by failed resolution attempts",
			},
		),
		VersionChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_version_checks_total",
				Help: "Total number of version-check cycles by outcome",
			},
			[]string{"outcome"},
		),
		VersionEvictions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "modhost_version_evictions_total",
				Help: "Total number of stale packages evicted",
			},
		),
		ModuleLoads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_module_loads_total",
				Help: "Total number of module loads by source",
			},
			[]string{"source"},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "modhost_index_requests_total",
				Help: "Total number of index server requests",
			},
			[]string{"method", "route", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "modhost_index_request_duration_seconds",
				Help:    "Index server request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "route"},
		),
	}
}

// RecordDownload records a finished download attempt
func (m *Metrics) RecordDownload(outcome string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(outcome).Inc()
	m.DownloadBytes.Add(float64(bytes))
	m.DownloadDuration.Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.BytesDownloaded += bytes
	if outcome == OutcomeSuccess {
		m.snapshot.Downloads++
	} else {
		m.snapshot.DownloadFailure++
	}
	m.mu.Unlock()
}

// RecordInstall records an envelope install
func (m *Metrics) RecordInstall(outcome string) {
	if m == nil {
		return
	}
	m.Installs.WithLabelValues(outcome).Inc()
	if outcome == OutcomeSuccess {
		m.mu.Lock()
		m.snapshot.Installs++
		m.mu.Unlock()
	}
}

// AddRollbacks records packages removed by a failed attempt
func (m *Metrics) AddRollbacks(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Rollbacks.Add(float64(n))
	m.mu.Lock()
	m.snapshot.Rollbacks += int64(n)
	m.mu.Unlock()
}

// RecordVersionCheck records a version-check cycle
func (m *Metrics) RecordVersionCheck(outcome string, evicted int) {
	if m == nil {
		return
	}
	m.VersionChecks.WithLabelValues(outcome).Inc()
	if evicted > 0 {
		m.VersionEvictions.Add(float64(evicted))
		m.mu.Lock()
		m.snapshot.Evictions += int64(evicted)
		m.mu.Unlock()
	}
}

// RecordModuleLoad records a module load by source (disk, cache, builtin)
func (m *Metrics) RecordModuleLoad(source string) {
	if m == nil {
		return
	}
	m.ModuleLoads.WithLabelValues(source).Inc()
	m.mu.Lock()
	m.snapshot.ModuleLoads++
	m.mu.Unlock()
}

// RecordHTTPRequest records an index server request
func (m *Metrics) RecordHTTPRequest(method, route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, route, status).Inc()
	m.RequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// Snapshot returns a copy of the current counter values
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot
}

// Outcome labels
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Module load sources
const (
	SourceDisk    = "disk"
	SourceCache   = "cache"
	SourceBuiltin = "builtin"
)
