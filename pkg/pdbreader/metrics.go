package pdbreader

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	cacheSymbols = "symbols"
	cacheTypes   = "types"
	cacheFields  = "fields"

	resultHit  = "hit"
	resultMiss = "miss"
)

// Metrics counts cache traffic of a Reader. A nil *Metrics is valid and records nothing.
type Metrics struct {
	cacheLookups *prometheus.CounterVec
	indexSize    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg when it is not nil.
// Collectors that are already registered are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pdbreader_cache_lookups_total",
			Help: "Resolver cache lookups by cache and result",
		}, []string{"cache", "result"}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pdbreader_function_index_entries",
			Help: "Number of entries in the function address index",
		}),
	}
	if reg != nil {
		m.cacheLookups = registerOrGet(reg, m.cacheLookups)
		m.indexSize = registerOrGet(reg, m.indexSize)
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

func (m *Metrics) lookup(cache string, hit bool) {
	if m == nil {
		return
	}
	result := resultMiss
	if hit {
		result = resultHit
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

func (m *Metrics) indexBuilt(entries int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(entries))
}
