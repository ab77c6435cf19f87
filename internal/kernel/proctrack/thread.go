// Thread allocation, liveness and naming.
package proctrack

import "traceproc/internal/storage"

// NamePriority ranks the sources that can name a thread. A lower-ranked
// source never overwrites a name set by a higher-ranked one.
type NamePriority uint8

const (
	NamePriorityOther NamePriority = iota
	NamePriorityFtraceSystemInfo
	NamePriorityOtherKernelRecord
	NamePriorityFtraceCommit
	NamePriorityProcessTree
	NamePriorityTrustedProducerName
	NamePriorityTraceProcessorConstant
)

// StartNewThread appends a fresh thread row for tid and pushes it onto the
// live list. The returned UniqueTid is never a recycled one.
func (t *Tracker) StartNewThread(ts storage.Optional[int64], tid uint32) storage.UniqueTid {
	utid := t.storage.Threads.Insert(storage.ThreadRow{
		Tid:     tid,
		StartTs: ts,
	})
	t.tids[tid] = append(t.tids[tid], utid)

	assert(len(t.namePriorities) == int(utid), "name priority vector out of sync with thread table")
	t.namePriorities = append(t.namePriorities, NamePriorityOther)

	t.counts.threadsStarted.Add(1)
	t.log.Trace().Uint32("tid", tid).Uint32("utid", uint32(utid)).Msg("Thread started")
	return utid
}

// EndThread finalises the live thread for tid at the given timestamp. If the
// thread is the main thread of its process, the process ends with it. A tid
// with no live thread is ignored; frees can trail the process end.
func (t *Tracker) EndThread(ts int64, tid uint32) {
	tt := t.storage.Threads
	pt := t.storage.Processes

	utid, ok := t.GetThreadOrNull(tid)
	if !ok {
		return
	}
	tt.SetEndTs(utid, ts)

	// Any later event for this tid refers to a new thread instance.
	live := t.tids[tid]
	for i, u := range live {
		if u == utid {
			t.tids[tid] = append(live[:i], live[i+1:]...)
			break
		}
	}

	upid, hasUpid := tt.Upid(utid).Get()
	if !hasUpid || pt.Pid(upid) != tid {
		return
	}

	// tid == pid: the main thread ended, so the process is gone too.
	assert(tt.IsMainThread(utid).Value(), "main thread ended without is_main_thread set")
	pt.SetEndTs(upid, ts)
	delete(t.pids, tid)
	t.counts.livePids.Store(int64(len(t.pids)))
}

// GetThreadOrNull returns the most recent live thread for tid, if any.
func (t *Tracker) GetThreadOrNull(tid uint32) (storage.UniqueTid, bool) {
	utid, ok := t.getThreadOrNull(tid, storage.None[uint32]())
	if !ok {
		return 0, false
	}

	tt := t.storage.Threads
	assert(tt.Tid(utid) == tid, "live index returned a thread with the wrong tid")
	assert(!tt.EndTs(utid).Has(), "live index returned an ended thread")
	return utid, true
}

// GetOrCreateThread returns the live thread for tid, creating one if needed.
func (t *Tracker) GetOrCreateThread(tid uint32) storage.UniqueTid {
	if utid, ok := t.GetThreadOrNull(tid); ok {
		return utid
	}
	return t.StartNewThread(storage.None[int64](), tid)
}

// getThreadOrNull scans the live list for tid newest-first and returns the
// first alive thread that is compatible with the given pid. Newest-first
// biases resolution toward the most recent recycling of the tid.
func (t *Tracker) getThreadOrNull(tid uint32, pid storage.Optional[uint32]) (storage.UniqueTid, bool) {
	tt := t.storage.Threads
	pt := t.storage.Processes

	vector, ok := t.tids[tid]
	if !ok {
		return 0, false
	}

	for i := len(vector) - 1; i >= 0; i-- {
		utid := vector[i]
		assert(!tt.EndTs(utid).Has(), "ended thread still on the live list")

		if !t.IsThreadAlive(utid) {
			continue
		}

		// A thread with no process yet matches any pid.
		upid, hasUpid := tt.Upid(utid).Get()
		if !hasUpid {
			return utid, true
		}

		wantPid, hasPid := pid.Get()
		if !hasPid || pt.Pid(upid) == wantPid {
			return utid, true
		}
	}
	return 0, false
}

// IsThreadAlive reports whether utid can still receive events. A thread dies
// when it ends, when its process ends, or when its process's pid has been
// taken over by a newer process instance.
func (t *Tracker) IsThreadAlive(utid storage.UniqueTid) bool {
	tt := t.storage.Threads
	pt := t.storage.Processes

	if tt.EndTs(utid).Has() {
		return false
	}

	// Without a known parent process the thread must be considered alive.
	upid, hasUpid := tt.Upid(utid).Get()
	if !hasUpid {
		return true
	}

	if pt.EndTs(upid).Has() {
		return false
	}

	// The pid was re-used by a newer process; this thread died with the old
	// one even though no end event was seen.
	if cur, ok := t.pids[pt.Pid(upid)]; ok && cur != upid {
		return false
	}
	return true
}

// UpdateThreadName names the live thread for tid (creating it if needed),
// subject to the priority rules.
func (t *Tracker) UpdateThreadName(tid uint32, nameID storage.StringId, priority NamePriority) storage.UniqueTid {
	utid := t.GetOrCreateThread(tid)
	t.UpdateThreadNameByUtid(utid, nameID, priority)
	return utid
}

// UpdateThreadNameByUtid names a thread by handle. A null name is a no-op;
// an equal-or-higher priority source overwrites and raises the recorded
// priority.
func (t *Tracker) UpdateThreadNameByUtid(utid storage.UniqueTid, nameID storage.StringId, priority NamePriority) {
	if nameID.IsNull() {
		return
	}
	if priority >= t.namePriorities[utid] {
		t.storage.Threads.SetName(utid, nameID)
		t.namePriorities[utid] = priority
	}
}

// UpdateThreadNameAndMaybeProcessName names the thread and, when the thread
// is the main thread of a known process, propagates the name to the process.
func (t *Tracker) UpdateThreadNameAndMaybeProcessName(tid uint32, nameID storage.StringId, priority NamePriority) {
	tt := t.storage.Threads
	pt := t.storage.Processes

	utid := t.UpdateThreadName(tid, nameID, priority)
	upid, hasUpid := tt.Upid(utid).Get()
	if hasUpid && pt.Pid(upid) == tid {
		assert(tt.IsMainThread(utid).Value(), "main thread without is_main_thread set")
		pt.SetName(upid, nameID)
	}
}
