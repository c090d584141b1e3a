package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/psantana5/ffmpeg-rife/pkg/models"
	"github.com/psantana5/ffmpeg-rife/pkg/store"
)

// JobsCollector reports registry contents at scrape time
type JobsCollector struct {
	store store.Store
	jobs  *prometheus.Desc
}

// NewJobsCollector creates a collector over s
func NewJobsCollector(s store.Store) *JobsCollector {
	return &JobsCollector{
		store: s,
		jobs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "jobs"),
			"Jobs currently in the registry, by kind and status",
			[]string{"kind", "status"}, nil,
		),
	}
}

// Describe implements prometheus.Collector
func (c *JobsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.jobs
}

// Collect implements prometheus.Collector
func (c *JobsCollector) Collect(ch chan<- prometheus.Metric) {
	type key struct {
		kind   models.JobKind
		status models.JobStatus
	}
	counts := map[key]int{}
	for _, kind := range []models.JobKind{models.JobKindVideo, models.JobKindFramePair} {
		for _, status := range []models.JobStatus{models.JobStatusRunning, models.JobStatusDone, models.JobStatusError} {
			counts[key{kind, status}] = 0
		}
	}
	for _, j := range c.store.GetAllJobs() {
		counts[key{j.Kind, j.Status}]++
	}
	for k, n := range counts {
		ch <- prometheus.MustNewConstMetric(c.jobs, prometheus.GaugeValue, float64(n), string(k.kind), string(k.status))
	}
}
