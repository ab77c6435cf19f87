package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"traceproc/internal/kernel/proctrack"
	"traceproc/internal/storage"
)

// TrackerCollector implements prometheus.Collector for process tracker and
// trace storage statistics. All values are read from atomics, so a scrape
// never blocks or races the ingestion goroutine.
type TrackerCollector struct {
	tracker *proctrack.Tracker
	storage *storage.TraceStorage

	// Metric Descriptors
	threadsStartedDesc   *prometheus.Desc
	processesStartedDesc *prometheus.Desc
	pendingAssocsDesc    *prometheus.Desc
	livePidsDesc         *prometheus.Desc
	internedStringsDesc  *prometheus.Desc
	statDesc             *prometheus.Desc
}

// NewTrackerCollector creates a collector reading from the given tracker and
// storage.
func NewTrackerCollector(tracker *proctrack.Tracker, st *storage.TraceStorage) *TrackerCollector {
	return &TrackerCollector{
		tracker: tracker,
		storage: st,

		threadsStartedDesc: prometheus.NewDesc(
			"traceproc_threads_started_total",
			"Total number of thread rows allocated by the process tracker.",
			nil, nil,
		),
		processesStartedDesc: prometheus.NewDesc(
			"traceproc_processes_started_total",
			"Total number of process rows allocated by the process tracker.",
			nil, nil,
		),
		pendingAssocsDesc: prometheus.NewDesc(
			"traceproc_pending_associations",
			"Current number of thread and parent associations waiting for a process binding.",
			nil, nil,
		),
		livePidsDesc: prometheus.NewDesc(
			"traceproc_live_pids",
			"Current number of pids with a live process instance.",
			nil, nil,
		),
		internedStringsDesc: prometheus.NewDesc(
			"traceproc_interned_strings",
			"Current number of unique strings in the interning pool.",
			nil, nil,
		),
		statDesc: prometheus.NewDesc(
			"traceproc_stat_total",
			"Named trace ingestion statistics, including soft error counts.",
			[]string{"stat"}, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *TrackerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.threadsStartedDesc
	ch <- c.processesStartedDesc
	ch <- c.pendingAssocsDesc
	ch <- c.livePidsDesc
	ch <- c.internedStringsDesc
	ch <- c.statDesc
}

// Collect implements prometheus.Collector.
// It is called by Prometheus on each scrape.
func (c *TrackerCollector) Collect(ch chan<- prometheus.Metric) {
	counts := c.tracker.Counts()

	ch <- prometheus.MustNewConstMetric(
		c.threadsStartedDesc,
		prometheus.CounterValue,
		float64(counts.ThreadsStarted),
	)
	ch <- prometheus.MustNewConstMetric(
		c.processesStartedDesc,
		prometheus.CounterValue,
		float64(counts.ProcessesStarted),
	)
	ch <- prometheus.MustNewConstMetric(
		c.pendingAssocsDesc,
		prometheus.GaugeValue,
		float64(counts.PendingAssociations),
	)
	ch <- prometheus.MustNewConstMetric(
		c.livePidsDesc,
		prometheus.GaugeValue,
		float64(counts.LivePids),
	)
	ch <- prometheus.MustNewConstMetric(
		c.internedStringsDesc,
		prometheus.GaugeValue,
		float64(c.storage.Strings.Len()),
	)

	for _, stat := range storage.AllStats() {
		ch <- prometheus.MustNewConstMetric(
			c.statDesc,
			prometheus.CounterValue,
			float64(c.storage.Stats.Value(stat)),
			stat.String(),
		)
	}
}
