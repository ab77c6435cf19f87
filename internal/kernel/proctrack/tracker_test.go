package proctrack

import (
	"testing"

	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceproc/internal/storage"
)

func newTestTracker() (*Tracker, *storage.TraceStorage) {
	st := storage.NewTraceStorage()
	return New(st), st
}

func TestReservedIdleRows(t *testing.T) {
	tr, st := newTestTracker()

	require.Equal(t, 1, st.Threads.Len())
	require.Equal(t, 1, st.Processes.Len())

	tassert.Equal(t, uint32(0), st.Threads.Tid(0))
	tassert.Equal(t, storage.UniquePid(0), st.Threads.Upid(0).Value())
	tassert.True(t, st.Threads.IsMainThread(0).Value())
	tassert.Equal(t, uint32(0), st.Processes.Pid(0))

	// The reserved rows are not in the live index until the idle install.
	_, ok := tr.GetThreadOrNull(0)
	tassert.False(t, ok)
}

func TestIdleProcessInstall(t *testing.T) {
	tr, st := newTestTracker()
	tr.SetPidZeroIsUpidZeroIdleProcess()

	utid, ok := tr.GetThreadOrNull(0)
	require.True(t, ok)
	tassert.Equal(t, storage.UniqueTid(0), utid)

	name := st.Threads.Name(utid)
	require.True(t, name.Has())
	tassert.Equal(t, "swapper", st.Strings.Get(name.Value()))
	tassert.Equal(t, storage.UniquePid(0), tr.GetOrCreateProcess(0))
}

func TestFreshMainThreadThenFork(t *testing.T) {
	tr, st := newTestTracker()

	name := st.Strings.InternString([]byte("main"))
	upid := tr.StartNewProcess(storage.Some(int64(100)), storage.None[uint32](),
		10, name, NamePriorityTraceProcessorConstant)
	tassert.Equal(t, storage.UniquePid(1), upid)
	tassert.Equal(t, int64(100), st.Processes.StartTs(upid).Value())
	tassert.Equal(t, name, st.Processes.Name(upid).Value())

	forked := tr.UpdateThread(11, 10)
	tassert.Equal(t, upid, st.Threads.Upid(forked).Value())
	tassert.False(t, st.Threads.IsMainThread(forked).Value())

	main, ok := tr.GetThreadOrNull(10)
	require.True(t, ok)
	tassert.True(t, st.Threads.IsMainThread(main).Value())
}

func TestTidRecycledAfterEnd(t *testing.T) {
	tr, st := newTestTracker()

	a := tr.StartNewThread(storage.None[int64](), 42)
	tr.EndThread(200, 42)
	b := tr.StartNewThread(storage.None[int64](), 42)

	tassert.NotEqual(t, a, b)
	tassert.Equal(t, int64(200), st.Threads.EndTs(a).Value())

	cur, ok := tr.GetThreadOrNull(42)
	require.True(t, ok)
	tassert.Equal(t, b, cur)
	tassert.Equal(t, []storage.UniqueTid{b}, tr.tids[42])
}

func TestUtidUniqueness(t *testing.T) {
	tr, _ := newTestTracker()

	seen := make(map[storage.UniqueTid]struct{})
	for i := 0; i < 4; i++ {
		utid := tr.StartNewThread(storage.None[int64](), 7)
		_, dup := seen[utid]
		tassert.False(t, dup)
		seen[utid] = struct{}{}
	}
}

func TestLateSiblingThenProcess(t *testing.T) {
	tr, st := newTestTracker()

	a := tr.StartNewThread(storage.None[int64](), 7)
	b := tr.StartNewThread(storage.None[int64](), 8)
	tr.AssociateThreads(a, b)

	tassert.Len(t, tr.pendingAssocs, 1)

	tr.UpdateThread(7, 100)
	upid := tr.GetOrCreateProcess(100)

	tassert.Equal(t, upid, st.Threads.Upid(a).Value())
	tassert.Equal(t, upid, st.Threads.Upid(b).Value())
	tassert.Empty(t, tr.pendingAssocs)
}

func TestAssociationTransitivity(t *testing.T) {
	tr, st := newTestTracker()

	a := tr.StartNewThread(storage.None[int64](), 1)
	b := tr.StartNewThread(storage.None[int64](), 2)
	c := tr.StartNewThread(storage.None[int64](), 3)
	tr.AssociateThreads(a, b)
	tr.AssociateThreads(b, c)

	tr.UpdateThread(2, 500)
	upid := tr.GetOrCreateProcess(500)

	tassert.Equal(t, upid, st.Threads.Upid(a).Value())
	tassert.Equal(t, upid, st.Threads.Upid(b).Value())
	tassert.Equal(t, upid, st.Threads.Upid(c).Value())
	tassert.Empty(t, tr.pendingAssocs)
}

func TestAssociateOneSideBoundPropagates(t *testing.T) {
	tr, st := newTestTracker()

	bound := tr.UpdateThread(20, 200)
	loose := tr.StartNewThread(storage.None[int64](), 21)

	tr.AssociateThreads(bound, loose)

	tassert.Equal(t, st.Threads.Upid(bound).Value(), st.Threads.Upid(loose).Value())
	tassert.Empty(t, tr.pendingAssocs)
}

func TestConflictingAssociation(t *testing.T) {
	tr, st := newTestTracker()

	a := tr.UpdateThread(1, 100)
	b := tr.UpdateThread(2, 200)
	upidA := st.Threads.Upid(a).Value()
	upidB := st.Threads.Upid(b).Value()

	tr.AssociateThreads(a, b)

	tassert.Equal(t, upidA, st.Threads.Upid(a).Value())
	tassert.Equal(t, upidB, st.Threads.Upid(b).Value())
	tassert.Empty(t, tr.pendingAssocs)
	tassert.Equal(t, uint64(1), st.Stats.Value(storage.ProcessTrackerErrors))
}

func TestPidReuseKillsOldThreads(t *testing.T) {
	tr, st := newTestTracker()

	tr.UpdateThread(50, 50)
	x := tr.GetOrCreateProcess(50)
	old51 := tr.UpdateThread(51, 50)

	name := st.Strings.InternString([]byte("new"))
	y := tr.StartNewProcess(storage.None[int64](), storage.None[uint32](),
		50, name, NamePriorityProcessTree)

	tassert.NotEqual(t, x, y)
	tassert.False(t, tr.IsThreadAlive(old51))

	_, ok := tr.GetThreadOrNull(51)
	tassert.False(t, ok)
}

func TestEndMainThreadEndsProcess(t *testing.T) {
	tr, st := newTestTracker()

	utid := tr.UpdateThread(30, 30)
	upid := st.Threads.Upid(utid).Value()

	tr.EndThread(900, 30)

	tassert.Equal(t, int64(900), st.Processes.EndTs(upid).Value())
	_, ok := tr.GetThreadOrNull(30)
	tassert.False(t, ok)

	// A later event for pid 30 is a new process instance.
	again := tr.GetOrCreateProcess(30)
	tassert.NotEqual(t, upid, again)
}

func TestEndThreadUnknownTidIgnored(t *testing.T) {
	tr, st := newTestTracker()
	tr.EndThread(100, 999)
	tassert.Equal(t, 1, st.Threads.Len())
}

func TestNamePriority(t *testing.T) {
	tr, st := newTestTracker()

	high := st.Strings.InternString([]byte("from-tree"))
	low := st.Strings.InternString([]byte("from-ftrace"))
	replacement := st.Strings.InternString([]byte("from-tree-2"))

	utid := tr.UpdateThreadName(5, high, NamePriorityProcessTree)
	tassert.Equal(t, high, st.Threads.Name(utid).Value())

	// A lower-priority source never overwrites.
	tr.UpdateThreadName(5, low, NamePriorityFtraceSystemInfo)
	tassert.Equal(t, high, st.Threads.Name(utid).Value())

	// An equal-priority source does.
	tr.UpdateThreadName(5, replacement, NamePriorityProcessTree)
	tassert.Equal(t, replacement, st.Threads.Name(utid).Value())

	// A null name is a no-op at any priority.
	tr.UpdateThreadName(5, storage.NullStringId, NamePriorityTraceProcessorConstant)
	tassert.Equal(t, replacement, st.Threads.Name(utid).Value())
}

func TestThreadNamePropagatesToProcess(t *testing.T) {
	tr, st := newTestTracker()

	utid := tr.UpdateThread(60, 60)
	upid := st.Threads.Upid(utid).Value()

	name := st.Strings.InternString([]byte("server"))
	tr.UpdateThreadNameAndMaybeProcessName(60, name, NamePriorityFtraceCommit)

	tassert.Equal(t, name, st.Threads.Name(utid).Value())
	tassert.Equal(t, name, st.Processes.Name(upid).Value())

	// A non-main thread's name stays off the process row.
	other := tr.UpdateThread(61, 60)
	otherName := st.Strings.InternString([]byte("worker"))
	tr.UpdateThreadNameAndMaybeProcessName(61, otherName, NamePriorityFtraceCommit)

	tassert.Equal(t, otherName, st.Threads.Name(other).Value())
	tassert.Equal(t, name, st.Processes.Name(upid).Value())
}

func TestStartNewProcessPendingParent(t *testing.T) {
	tr, st := newTestTracker()

	// The parent thread exists but its process is unknown.
	parent := tr.StartNewThread(storage.None[int64](), 70)

	name := st.Strings.InternString([]byte("child"))
	child := tr.StartNewProcess(storage.None[int64](), storage.Some(uint32(70)),
		71, name, NamePriorityProcessTree)

	tassert.False(t, st.Processes.ParentUpid(child).Has())
	tassert.Len(t, tr.pendingParentAssocs, 1)

	// Binding the parent thread resolves the link.
	tr.UpdateThread(70, 70)
	parentUpid := st.Threads.Upid(parent).Value()

	tassert.Equal(t, parentUpid, st.Processes.ParentUpid(child).Value())
	tassert.Empty(t, tr.pendingParentAssocs)
}

func TestParentConflictFromMetadata(t *testing.T) {
	tr, st := newTestTracker()

	// The parent thread exists but its process is unknown, so the link waits.
	tr.StartNewThread(storage.None[int64](), 70)
	name := st.Strings.InternString([]byte("child"))
	child := tr.StartNewProcess(storage.None[int64](), storage.Some(uint32(70)),
		71, name, NamePriorityProcessTree)
	require.Len(t, tr.pendingParentAssocs, 1)

	// A process-tree snapshot names a different parent before the pending
	// link resolves.
	other := tr.GetOrCreateProcess(5)
	tr.SetProcessMetadata(71, storage.Some(uint32(5)), []byte("child"), nil)
	require.Equal(t, other, st.Processes.ParentUpid(child).Value())

	// Binding the stale parent thread drops the contradicting link instead
	// of overwriting the recorded parent.
	tr.UpdateThread(70, 70)

	tassert.Equal(t, other, st.Processes.ParentUpid(child).Value())
	tassert.Empty(t, tr.pendingParentAssocs)
	tassert.Equal(t, uint64(1), st.Stats.Value(storage.ProcessTrackerErrors))
}

func TestStartNewProcessKnownParent(t *testing.T) {
	tr, st := newTestTracker()

	tr.UpdateThread(80, 80)
	parentUpid := tr.GetOrCreateProcess(80)

	name := st.Strings.InternString([]byte("child"))
	child := tr.StartNewProcess(storage.Some(int64(50)), storage.Some(uint32(80)),
		81, name, NamePriorityProcessTree)

	tassert.Equal(t, parentUpid, st.Processes.ParentUpid(child).Value())
	tassert.Equal(t, int64(50), st.Processes.StartTs(child).Value())
}

func TestSetProcessMetadata(t *testing.T) {
	tr, st := newTestTracker()

	upid := tr.SetProcessMetadata(90, storage.Some(uint32(1)),
		[]byte("daemon"), []byte("/usr/bin/daemon --flag"))

	tassert.Equal(t, "daemon", st.Strings.Get(st.Processes.Name(upid).Value()))
	tassert.Equal(t, "/usr/bin/daemon --flag", st.Strings.Get(st.Processes.Cmdline(upid).Value()))
	tassert.Equal(t, tr.GetOrCreateProcess(1), st.Processes.ParentUpid(upid).Value())

	// Metadata never invalidates the current instance.
	tassert.Equal(t, upid, tr.GetOrCreateProcess(90))
}

func TestSetProcessUid(t *testing.T) {
	tr, st := newTestTracker()

	upid := tr.GetOrCreateProcess(95)
	tr.SetProcessUid(upid, 1010123)

	tassert.Equal(t, uint32(1010123), st.Processes.Uid(upid).Value())
	tassert.Equal(t, uint32(10123), st.Processes.AndroidAppid(upid).Value())
}

func TestSetIfUnsetHelpers(t *testing.T) {
	tr, st := newTestTracker()

	upid := tr.GetOrCreateProcess(96)
	first := st.Strings.InternString([]byte("first"))
	second := st.Strings.InternString([]byte("second"))

	tr.SetProcessNameIfUnset(upid, first)
	tr.SetProcessNameIfUnset(upid, second)
	tassert.Equal(t, first, st.Processes.Name(upid).Value())

	tr.SetStartTsIfUnset(upid, 111)
	tr.SetStartTsIfUnset(upid, 222)
	tassert.Equal(t, int64(111), st.Processes.StartTs(upid).Value())
}

func TestNamespaceResolve(t *testing.T) {
	tr, _ := newTestTracker()

	tr.UpdateNamespacedProcess(100, []uint32{100, 1})
	tr.UpdateNamespacedThread(100, 101, []uint32{101, 2})

	got, ok := tr.ResolveNamespacedTid(100, 1)
	require.True(t, ok)
	tassert.Equal(t, uint32(100), got)

	got, ok = tr.ResolveNamespacedTid(100, 2)
	require.True(t, ok)
	tassert.Equal(t, uint32(101), got)

	_, ok = tr.ResolveNamespacedTid(100, 3)
	tassert.False(t, ok)

	_, ok = tr.ResolveNamespacedTid(0, 1)
	tassert.False(t, ok)

	_, ok = tr.ResolveNamespacedTid(999, 1)
	tassert.False(t, ok)
}

func TestNamespaceCacheInvalidation(t *testing.T) {
	tr, _ := newTestTracker()

	tr.UpdateNamespacedProcess(100, []uint32{100, 1})
	tr.UpdateNamespacedThread(100, 101, []uint32{101, 2})

	got, ok := tr.ResolveNamespacedTid(100, 2)
	require.True(t, ok)
	require.Equal(t, uint32(101), got)

	// Re-registering the thread under a new ns-local id must not serve the
	// old answer from the cache.
	tr.UpdateNamespacedThread(100, 101, []uint32{101, 3})

	_, ok = tr.ResolveNamespacedTid(100, 2)
	tassert.False(t, ok)

	got, ok = tr.ResolveNamespacedTid(100, 3)
	require.True(t, ok)
	tassert.Equal(t, uint32(101), got)
}

func TestTrustedPid(t *testing.T) {
	tr, _ := newTestTracker()

	_, ok := tr.GetTrustedPid(0xabc)
	tassert.False(t, ok)

	tr.UpdateTrustedPid(123, 0xabc)
	pid, ok := tr.GetTrustedPid(0xabc)
	require.True(t, ok)
	tassert.Equal(t, uint32(123), pid)

	// Last write wins on a uuid remap.
	tr.UpdateTrustedPid(456, 0xabc)
	pid, _ = tr.GetTrustedPid(0xabc)
	tassert.Equal(t, uint32(456), pid)
}

func TestArgsFlushOnEndOfFile(t *testing.T) {
	tr, st := newTestTracker()

	upid := tr.GetOrCreateProcess(40)
	inserter := tr.AddArgsTo(upid)
	inserter.AddInt(st.Strings.InternString([]byte("oom_score")), 42)
	inserter.AddString(st.Strings.InternString([]byte("cgroup")),
		st.Strings.InternString([]byte("/sys/fs/cgroup/a")))

	tassert.Equal(t, 0, st.Args.Len())
	tr.NotifyEndOfFile()
	require.Equal(t, 2, st.Args.Len())

	row := st.Args.Row(0)
	tassert.Equal(t, upid, row.Upid)
	tassert.Equal(t, int64(42), row.IntValue.Value())
}

func TestCountsSnapshot(t *testing.T) {
	tr, _ := newTestTracker()

	tr.UpdateThread(10, 10)
	tr.UpdateThread(11, 10)
	a := tr.StartNewThread(storage.None[int64](), 20)
	b := tr.StartNewThread(storage.None[int64](), 21)
	tr.AssociateThreads(a, b)

	counts := tr.Counts()
	tassert.Equal(t, uint64(4), counts.ThreadsStarted)
	tassert.Equal(t, uint64(1), counts.ProcessesStarted)
	tassert.Equal(t, int64(1), counts.PendingAssociations)
	tassert.Equal(t, int64(1), counts.LivePids)
}
