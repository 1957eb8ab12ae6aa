package clientpool

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	currentClients prometheus.Gauge
	gcActive       prometheus.Gauge
	gcTotal        prometheus.Histogram
	eventsTotal    *prometheus.CounterVec
	lookupsTotal   *prometheus.CounterVec
	requestsTotal  *prometheus.CounterVec

	maxClients prometheus.Gauge
	autoClose  prometheus.Gauge
}

var _ prometheus.Collector = (*metrics)(nil)

func newMetrics(o Options) *metrics {
	var m metrics

	m.currentClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_clientpool_clients",
		Help: "Current number of peers with a pooled client",
	})
	m.gcActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_clientpool_gc_active",
		Help: "1 if the clientpool GC is running",
	})
	m.gcTotal = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_clientpool_gc_duration_seconds",
		Help:    "Histogram of the latency for GCs",
		Buckets: prometheus.DefBuckets,
	})
	m.eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_clientpool_events_total",
		Help: "Total number of times clients were opened or closed.",
	}, []string{"event"})
	m.lookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_clientpool_lookups_total",
		Help: "Total number of lookups for a client. result will be one of: success, error_max_clients, or error_other.",
	}, []string{"result"})
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_clientpool_requests_total",
		Help: "Total number of requests made through the pool by result.",
	}, []string{"result"})

	m.maxClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_clientpool_max_clients",
		Help: "Maximum number of clients the clientpool can hold. 0 = unlimited",
	})

	m.autoClose = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_clientpool_auto_close",
		Help: "When 1, the least-recently-used client will be removed when creating a new client and the client limit is reached.",
	})

	// Set constants
	m.maxClients.Set(float64(o.MaxClients))
	m.autoClose.Set(boolToFloat64(o.CleanupLRU))

	return &m
}

func boolToFloat64(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.currentClients.Describe(ch)
	m.gcActive.Describe(ch)
	m.gcTotal.Describe(ch)
	m.eventsTotal.Describe(ch)
	m.lookupsTotal.Describe(ch)
	m.requestsTotal.Describe(ch)
	m.maxClients.Describe(ch)
	m.autoClose.Describe(ch)
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.currentClients.Collect(ch)
	m.gcActive.Collect(ch)
	m.gcTotal.Collect(ch)
	m.eventsTotal.Collect(ch)
	m.lookupsTotal.Collect(ch)
	m.requestsTotal.Collect(ch)
	m.maxClients.Collect(ch)
	m.autoClose.Collect(ch)
}
