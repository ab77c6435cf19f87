// This file defines TraceStorage, the shared backing store for one ingestion
// session. It bundles the row tables, the string pool, the args accumulator
// and the stats counters. The storage outlives every tracker and ingester
// that holds a reference to it.
package storage

// UniqueTid is a stable, dense thread id allocated by the thread table.
// Once handed out it never changes meaning and is never freed.
type UniqueTid uint32

// UniquePid is a stable, dense process id allocated by the process table.
type UniquePid uint32

// TraceStorage is the single owner of all row data for an ingestion session.
// It is mutated only from the trace-parsing goroutine; the stats counters and
// the string pool's Len are the parts that may be read concurrently (by the
// metrics collector).
type TraceStorage struct {
	Threads   *ThreadTable
	Processes *ProcessTable
	Strings   *StringPool
	Args      *ArgTable
	Stats     *Stats
}

// NewTraceStorage creates an empty storage. Reserved rows (the idle/swapper
// slot) are inserted by the tracker, not here.
func NewTraceStorage() *TraceStorage {
	return &TraceStorage{
		Threads:   &ThreadTable{},
		Processes: &ProcessTable{},
		Strings:   NewStringPool(),
		Args:      &ArgTable{},
		Stats:     &Stats{},
	}
}
