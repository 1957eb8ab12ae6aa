package tally

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	files             prometheus.Gauge
	peers             prometheus.Gauge
	results           prometheus.Gauge
	total             prometheus.Gauge
	queueLength       prometheus.GaugeFunc
	discoveries       prometheus.Counter
	chunksDiscovered  prometheus.Counter
	discoveryErrors   prometheus.Counter
	workAssigned      prometheus.Counter
	submissionsTotal  *prometheus.CounterVec
	propagationsTotal *prometheus.CounterVec
	gossipRounds      prometheus.Counter
	gossipDuration    prometheus.Histogram
}

var _ prometheus.Collector = (*metrics)(nil)

func newMetrics(queueLen func() float64) *metrics {
	var m metrics

	m.files = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_files",
		Help: "Number of files registered with the node.",
	})
	m.peers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_peers",
		Help: "Number of peers known by the node.",
	})
	m.results = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_results",
		Help: "Number of chunks with a stored value.",
	})
	m.total = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tally_total",
		Help: "Sum of all stored chunk values.",
	})
	m.queueLength = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "tally_work_queue_length",
		Help: "Number of work items waiting to be assigned.",
	}, queueLen)
	m.discoveries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_discoveries_started_total",
		Help: "Total number of file discovery loops started.",
	})
	m.chunksDiscovered = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_chunks_discovered_total",
		Help: "Total number of new chunks discovered across all files.",
	})
	m.discoveryErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_discovery_errors_total",
		Help: "Total number of failed discovery reads.",
	})
	m.workAssigned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_work_assigned_total",
		Help: "Total number of chunks handed out to workers.",
	})
	m.submissionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_submissions_total",
		Help: "Total number of chunk values received. status is one of accepted, duplicate, or propagated.",
	}, []string{"status"})
	m.propagationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tally_propagations_total",
		Help: "Total number of values pushed to peers by result.",
	}, []string{"result"})
	m.gossipRounds = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tally_gossip_rounds_total",
		Help: "Total number of gossip rounds.",
	})
	m.gossipDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "tally_gossip_round_duration_seconds",
		Help:    "Histogram of the latency of gossip rounds.",
		Buckets: prometheus.DefBuckets,
	})

	return &m
}

func (m *metrics) Describe(ch chan<- *prometheus.Desc) {
	m.files.Describe(ch)
	m.peers.Describe(ch)
	m.results.Describe(ch)
	m.total.Describe(ch)
	m.queueLength.Describe(ch)
	m.discoveries.Describe(ch)
	m.chunksDiscovered.Describe(ch)
	m.discoveryErrors.Describe(ch)
	m.workAssigned.Describe(ch)
	m.submissionsTotal.Describe(ch)
	m.propagationsTotal.Describe(ch)
	m.gossipRounds.Describe(ch)
	m.gossipDuration.Describe(ch)
}

func (m *metrics) Collect(ch chan<- prometheus.Metric) {
	m.files.Collect(ch)
	m.peers.Collect(ch)
	m.results.Collect(ch)
	m.total.Collect(ch)
	m.queueLength.Collect(ch)
	m.discoveries.Collect(ch)
	m.chunksDiscovered.Collect(ch)
	m.discoveryErrors.Collect(ch)
	m.workAssigned.Collect(ch)
	m.submissionsTotal.Collect(ch)
	m.propagationsTotal.Collect(ch)
	m.gossipRounds.Collect(ch)
	m.gossipDuration.Collect(ch)
}
