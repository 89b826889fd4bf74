package symsrv

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Download outcomes used as the status label.
const (
	StatusSuccess           = "success"
	StatusErrorNotFound     = "error:not_found"
	StatusErrorUnauthorized = "error:unauthorized"
	StatusErrorRateLimited  = "error:rate_limited"
	StatusErrorClientError  = "error:client_error"
	StatusErrorServerError  = "error:server_error"
	StatusErrorHTTPOther    = "error:http_other"
	StatusErrorCanceled     = "error:canceled"
	StatusErrorTimeout      = "error:timeout"
	StatusErrorInvalid      = "error:invalid_pdb"
	StatusErrorOther        = "error:other"
)

// Metrics records symbol server traffic. A nil *Metrics records nothing.
type Metrics struct {
	requestDuration *prometheus.HistogramVec
	fileSize        prometheus.Histogram
	lookups         *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
// Collectors that are already registered are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "symsrv_download_duration_seconds",
			Help:    "Time spent fetching PDB files from symbol servers",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"status"}),
		fileSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "symsrv_download_size_bytes",
			Help:    "Size of PDB files fetched from symbol servers",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
		}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "symsrv_lookups_total",
			Help: "PDB lookups by where the file was found",
		}, []string{"source"}),
	}
	if reg != nil {
		m.requestDuration = registerOrGet(reg, m.requestDuration)
		m.fileSize = registerOrGet(reg, m.fileSize)
		m.lookups = registerOrGet(reg, m.lookups)
	}
	return m
}

func registerOrGet[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) observeDownload(status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(status).Observe(seconds)
}

func (m *Metrics) observeSize(n int64) {
	if m == nil {
		return
	}
	m.fileSize.Observe(float64(n))
}

func (m *Metrics) found(source string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(source).Inc()
}
