package queue

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the queue runtime's prometheus collectors.
type Metrics struct {
	JobsTotal   *prometheus.CounterVec
	JobDuration *prometheus.HistogramVec
	QueueDepth  *prometheus.GaugeVec
}

// NewMetrics creates and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_queue_jobs_total",
			Help: "Terminal job outcomes per queue.",
		}, []string{"queue", "result"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sync_queue_job_duration_seconds",
			Help:    "Job processing duration per queue.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"queue"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Waiting jobs per queue.",
		}, []string{"queue"}),
	}
	if reg != nil {
		reg.MustRegister(m.JobsTotal, m.JobDuration, m.QueueDepth)
	}
	return m
}
