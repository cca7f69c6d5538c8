package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors on a dedicated registry. All helpers
// are nil-safe so components can run without metrics in tests.
type Metrics struct {
	Registry *prometheus.Registry

	UploadsTotal     *prometheus.CounterVec
	RecordsExtracted prometheus.Counter
	ManualEdits      prometheus.Counter
	RemoteRequests   *prometheus.CounterVec
	RemoteDuration   prometheus.Histogram
	JobPollsTotal    *prometheus.CounterVec
	JobsTotal        *prometheus.CounterVec
}

// New constructs and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	uploads := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesheet_uploads_total",
			Help: "Spreadsheet uploads by result.",
		},
		[]string{"result"},
	)
	extracted := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storesheet_records_extracted_total",
			Help: "Product records extracted across all uploads.",
		},
	)
	edits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storesheet_manual_edits_total",
			Help: "Manual price/stock edits applied.",
		},
	)
	remote := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesheet_remote_requests_total",
			Help: "Remote service calls by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)
	remoteDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "storesheet_remote_request_duration_seconds",
			Help:    "Latency of remote service calls.",
			Buckets: prometheus.DefBuckets,
		},
	)
	polls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesheet_job_polls_total",
			Help: "Price-search status polls by result.",
		},
		[]string{"result"},
	)
	jobs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storesheet_jobs_total",
			Help: "Price-search jobs by terminal outcome.",
		},
		[]string{"outcome"},
	)

	registry.MustRegister(uploads, extracted, edits, remote, remoteDuration, polls, jobs)

	return &Metrics{
		Registry:         registry,
		UploadsTotal:     uploads,
		RecordsExtracted: extracted,
		ManualEdits:      edits,
		RemoteRequests:   remote,
		RemoteDuration:   remoteDuration,
		JobPollsTotal:    polls,
		JobsTotal:        jobs,
	}
}

func (m *Metrics) IncUpload(result string) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddExtracted(n int) {
	if m == nil {
		return
	}
	m.RecordsExtracted.Add(float64(n))
}

func (m *Metrics) IncManualEdit() {
	if m == nil {
		return
	}
	m.ManualEdits.Inc()
}

func (m *Metrics) IncRemote(endpoint, result string) {
	if m == nil {
		return
	}
	m.RemoteRequests.WithLabelValues(endpoint, result).Inc()
}

func (m *Metrics) ObserveRemote(d time.Duration) {
	if m == nil {
		return
	}
	m.RemoteDuration.Observe(d.Seconds())
}

func (m *Metrics) IncPoll(result string) {
	if m == nil {
		return
	}
	m.JobPollsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncJob(outcome string) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(outcome).Inc()
}
