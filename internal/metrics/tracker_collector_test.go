package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"traceproc/internal/kernel/proctrack"
	"traceproc/internal/storage"
)

func TestTrackerCollector(t *testing.T) {
	st := storage.NewTraceStorage()
	tracker := proctrack.New(st)

	tracker.UpdateThread(10, 10)
	st.Stats.Increment(storage.ProcessTrackerErrors)

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewTrackerCollector(tracker, st)); err != nil {
		t.Fatalf("Failed to register collector: %v", err)
	}

	expected := `
# HELP traceproc_stat_total Named trace ingestion statistics, including soft error counts.
# TYPE traceproc_stat_total counter
traceproc_stat_total{stat="ingest_unknown_event_types"} 0
traceproc_stat_total{stat="process_tracker_errors"} 1
# HELP traceproc_threads_started_total Total number of thread rows allocated by the process tracker.
# TYPE traceproc_threads_started_total counter
traceproc_threads_started_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"traceproc_threads_started_total", "traceproc_stat_total")
	if err != nil {
		t.Fatalf("Unexpected metric output: %v", err)
	}
}

func TestTrackerCollectorGauges(t *testing.T) {
	st := storage.NewTraceStorage()
	tracker := proctrack.New(st)

	tracker.UpdateThread(20, 20)
	tracker.UpdateThread(30, 30)
	st.Strings.InternString([]byte("name"))

	reg := prometheus.NewPedanticRegistry()
	if err := reg.Register(NewTrackerCollector(tracker, st)); err != nil {
		t.Fatalf("Failed to register collector: %v", err)
	}

	expected := `
# HELP traceproc_interned_strings Current number of unique strings in the interning pool.
# TYPE traceproc_interned_strings gauge
traceproc_interned_strings 1
# HELP traceproc_live_pids Current number of pids with a live process instance.
# TYPE traceproc_live_pids gauge
traceproc_live_pids 2
# HELP traceproc_pending_associations Current number of thread and parent associations waiting for a process binding.
# TYPE traceproc_pending_associations gauge
traceproc_pending_associations 0
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"traceproc_live_pids", "traceproc_pending_associations", "traceproc_interned_strings")
	if err != nil {
		t.Fatalf("Unexpected metric output: %v", err)
	}
}
