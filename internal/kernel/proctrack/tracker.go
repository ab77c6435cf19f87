// This file defines the Tracker, the identity resolver that maps the unstable
// (tid, pid) namespace of a trace onto stable UniqueTid/UniquePid handles.
// Kernel thread and process ids are recycled during a trace and evidence about
// thread->process membership can arrive out of order; the tracker keeps every
// already-emitted handle valid and reconciles late evidence through pending
// association buffers.
package proctrack

import (
	"sync/atomic"

	"github.com/phuslu/log"

	"traceproc/internal/logger"
	"traceproc/internal/maps"
	"traceproc/internal/storage"
)

// Tracker owns the live tid/pid index, the thread-name priorities, the
// pending association buffers, the namespace maps and the trusted-pid
// sideband. All methods except the trusted-pid pair and Counts must be called
// from the single trace-parsing goroutine, in the driver's canonical event
// order.
type Tracker struct {
	storage *storage.TraceStorage
	args    *storage.ArgsAccumulator

	// Live index. tids keeps the UniqueTids allocated for a tid that have not
	// ended, oldest first; EndThread removes a thread from its list, while
	// threads of a replaced process instance stay and are skipped by
	// IsThreadAlive. pids holds only the current process instance per pid.
	tids map[uint32][]storage.UniqueTid
	pids map[uint32]storage.UniquePid

	// Priority of the source that last named each thread, parallel to the
	// thread table.
	namePriorities []NamePriority

	// Relationships waiting for one side to gain a process binding.
	pendingAssocs       []threadPair
	pendingParentAssocs []parentChild

	// PID-namespace state, see namespace.go.
	namespacedProcesses map[uint32]*NamespacedProcess
	namespacedThreads   map[uint32]*NamespacedThread
	nsResolveCache      *nsResolveCache

	// Producer sideband: uuid -> self-reported pid. Written by the session
	// that owns the producer connection, read by the parser.
	trustedPids maps.ConcurrentMap[uint64, uint32]

	counts counters

	log *log.Logger
}

type threadPair struct {
	a, b storage.UniqueTid
}

type parentChild struct {
	parent storage.UniqueTid
	child  storage.UniquePid
}

// counters are hot-path gauges readable from a concurrent metrics scrape.
type counters struct {
	threadsStarted   atomic.Uint64
	processesStarted atomic.Uint64
	pendingAssocs    atomic.Int64
	livePids         atomic.Int64
}

// Counts is a snapshot of tracker activity.
type Counts struct {
	ThreadsStarted      uint64
	ProcessesStarted    uint64
	PendingAssociations int64
	LivePids            int64
}

// New creates a tracker bound to the given storage. It reserves UniqueTid 0
// and UniquePid 0 for the idle (swapper) slot; embedders exclude those rows
// from thread views, and SetPidZeroIsUpidZeroIdleProcess maps tid0/pid0 onto
// them for kernel traces that actually emit idle events.
func New(st *storage.TraceStorage) *Tracker {
	t := &Tracker{
		storage:             st,
		args:                storage.NewArgsAccumulator(st.Args),
		tids:                make(map[uint32][]storage.UniqueTid),
		pids:                make(map[uint32]storage.UniquePid),
		namespacedProcesses: make(map[uint32]*NamespacedProcess),
		namespacedThreads:   make(map[uint32]*NamespacedThread),
		nsResolveCache:      newNsResolveCache(),
		trustedPids:         maps.NewConcurrentMap[uint64, uint32](),
		log:                 logger.NewLoggerCtx("process_tracker"),
	}

	utid := st.Threads.Insert(storage.ThreadRow{
		Tid:          0,
		Upid:         storage.Some(storage.UniquePid(0)),
		IsMainThread: storage.Some(true),
	})
	assert(utid == 0, "reserved thread row must be row 0")

	upid := st.Processes.Insert(storage.ProcessRow{Pid: 0})
	assert(upid == 0, "reserved process row must be row 0")

	// A priority slot to match the reserved utid 0.
	t.namePriorities = append(t.namePriorities, NamePriorityOther)
	return t
}

// SetPidZeroIsUpidZeroIdleProcess maps tid 0 and pid 0 onto the reserved
// idle rows and names the idle thread "swapper". Only linux-trace ingesters
// call this; other trace types leave tid/pid 0 free so a real tid-0 event
// allocates a fresh row.
func (t *Tracker) SetPidZeroIsUpidZeroIdleProcess() {
	t.tids[0] = []storage.UniqueTid{0}
	t.pids[0] = 0
	t.counts.livePids.Store(int64(len(t.pids)))

	swapper := t.storage.Strings.InternString([]byte("swapper"))
	t.UpdateThreadName(0, swapper, NamePriorityTraceProcessorConstant)
}

// AddArgsTo returns an inserter accumulating args against the given process.
func (t *Tracker) AddArgsTo(upid storage.UniquePid) storage.BoundInserter {
	return t.args.AddArgsTo(upid)
}

// NotifyEndOfFile flushes the args accumulator. No row data is modified.
func (t *Tracker) NotifyEndOfFile() {
	t.args.Flush()
}

// Counts returns a snapshot of the activity gauges. Safe to call from any
// goroutine.
func (t *Tracker) Counts() Counts {
	return Counts{
		ThreadsStarted:      t.counts.threadsStarted.Load(),
		ProcessesStarted:    t.counts.processesStarted.Load(),
		PendingAssociations: t.counts.pendingAssocs.Load(),
		LivePids:            t.counts.livePids.Load(),
	}
}
