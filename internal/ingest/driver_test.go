package ingest

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"traceproc/internal/kernel/proctrack"
	"traceproc/internal/storage"
)

func newTestDriver(format Format) (*Driver, *proctrack.Tracker, *storage.TraceStorage) {
	st := storage.NewTraceStorage()
	tracker := proctrack.New(st)
	return NewDriver(tracker, st, format), tracker, st
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("linux")
	require.NoError(t, err)
	assert.Equal(t, FormatLinux, f)

	f, err = ParseFormat("generic")
	require.NoError(t, err)
	assert.Equal(t, FormatGeneric, f)

	_, err = ParseFormat("perf")
	assert.Error(t, err)
}

func TestRunDispatchesEvents(t *testing.T) {
	d, tracker, st := newTestDriver(FormatLinux)

	trace := strings.Join([]string{
		`{"type":"process_start","ts":100,"pid":10,"name":"init","name_source":"process_tree"}`,
		`{"type":"sched","tid":11,"pid":10}`,
		`{"type":"thread_name","tid":11,"name":"worker","name_source":"ftrace_commit"}`,
		``,
		`{"type":"process_tree","pid":20,"ppid":10,"name":"daemon","cmdline":"/bin/daemon","uid":1000}`,
		`{"type":"ns_process","pid":10,"nspid":[10,1]}`,
		`{"type":"ns_thread","pid":10,"tid":11,"nstid":[11,2]}`,
		`{"type":"trusted_pid","uuid":77,"trusted_pid":10}`,
		`{"type":"thread_end","ts":500,"tid":11}`,
		`{"type":"bogus"}`,
	}, "\n")

	err := d.Run(context.Background(), strings.NewReader(trace))
	require.NoError(t, err)
	assert.Equal(t, uint64(9), d.Lines())

	// Linux format installs the idle slot.
	idle, ok := tracker.GetThreadOrNull(0)
	require.True(t, ok)
	assert.Equal(t, "swapper", st.Strings.Get(st.Threads.Name(idle).Value()))

	// The exec'd process got its name and the sched thread joined it.
	initUpid := tracker.GetOrCreateProcess(10)
	assert.Equal(t, "init", st.Strings.Get(st.Processes.Name(initUpid).Value()))

	// Thread 11 was named, then ended at ts 500.
	_, ok = tracker.GetThreadOrNull(11)
	assert.False(t, ok)

	// Process-tree metadata including uid/appid.
	daemonUpid := tracker.GetOrCreateProcess(20)
	assert.Equal(t, "daemon", st.Strings.Get(st.Processes.Name(daemonUpid).Value()))
	assert.Equal(t, "/bin/daemon", st.Strings.Get(st.Processes.Cmdline(daemonUpid).Value()))
	assert.Equal(t, uint32(1000), st.Processes.Uid(daemonUpid).Value())
	assert.Equal(t, initUpid, st.Processes.ParentUpid(daemonUpid).Value())

	// Namespace and sideband state.
	root, ok := tracker.ResolveNamespacedTid(10, 2)
	require.True(t, ok)
	assert.Equal(t, uint32(11), root)

	pid, ok := tracker.GetTrustedPid(77)
	require.True(t, ok)
	assert.Equal(t, uint32(10), pid)

	// The bogus line was counted, not fatal.
	assert.Equal(t, uint64(1), st.Stats.Value(storage.IngestUnknownEventTypes))
}

func TestGenericFormatLeavesTidZeroFree(t *testing.T) {
	d, tracker, _ := newTestDriver(FormatGeneric)

	err := d.Run(context.Background(), strings.NewReader(""))
	require.NoError(t, err)

	_, ok := tracker.GetThreadOrNull(0)
	assert.False(t, ok)
}

func TestThreadStartSiblingHint(t *testing.T) {
	d, tracker, st := newTestDriver(FormatGeneric)

	trace := strings.Join([]string{
		`{"type":"thread_start","ts":10,"tid":7,"name":"a"}`,
		`{"type":"thread_start","ts":11,"tid":8,"sibling_tid":7}`,
		`{"type":"sched","tid":7,"pid":100}`,
	}, "\n")

	err := d.Run(context.Background(), strings.NewReader(trace))
	require.NoError(t, err)

	upid := tracker.GetOrCreateProcess(100)
	a, ok := tracker.GetThreadOrNull(7)
	require.True(t, ok)
	b, ok := tracker.GetThreadOrNull(8)
	require.True(t, ok)

	assert.Equal(t, upid, st.Threads.Upid(a).Value())
	assert.Equal(t, upid, st.Threads.Upid(b).Value())
	assert.Equal(t, "a", st.Strings.Get(st.Threads.Name(a).Value()))
}

func TestThreadStartWithPidBindsImmediately(t *testing.T) {
	d, tracker, st := newTestDriver(FormatGeneric)

	trace := `{"type":"thread_start","ts":10,"tid":30,"pid":30,"name":"main"}`
	err := d.Run(context.Background(), strings.NewReader(trace))
	require.NoError(t, err)

	utid, ok := tracker.GetThreadOrNull(30)
	require.True(t, ok)
	assert.True(t, st.Threads.IsMainThread(utid).Value())
	assert.Equal(t, int64(10), st.Threads.StartTs(utid).Value())
}

func TestRunMalformedLineFails(t *testing.T) {
	d, _, _ := newTestDriver(FormatGeneric)

	trace := "{\"type\":\"sched\",\"tid\":1,\"pid\":1}\nnot json\n"
	err := d.Run(context.Background(), strings.NewReader(trace))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestRunHonorsCancellation(t *testing.T) {
	d, _, _ := newTestDriver(FormatGeneric)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.Run(ctx, strings.NewReader(`{"type":"sched","tid":1,"pid":1}`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunFlushesArgsAtEOF(t *testing.T) {
	d, tracker, st := newTestDriver(FormatGeneric)

	// Buffer args through the tracker, then let EOF flush them.
	upid := tracker.GetOrCreateProcess(5)
	tracker.AddArgsTo(upid).AddInt(st.Strings.InternString([]byte("k")), 1)
	require.Equal(t, 0, st.Args.Len())

	err := d.Run(context.Background(), strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 1, st.Args.Len())
}
