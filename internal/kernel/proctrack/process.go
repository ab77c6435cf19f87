// Process allocation and metadata.
package proctrack

import "traceproc/internal/storage"

// GetOrCreateProcess returns the current process instance for pid, creating
// a fresh row (and its main-thread binding) on first sight.
func (t *Tracker) GetOrCreateProcess(pid uint32) storage.UniquePid {
	pt := t.storage.Processes

	if upid, ok := t.pids[pid]; ok {
		assert(!pt.EndTs(upid).Has(), "live pid index points at an ended process")
		return upid
	}

	upid := pt.Insert(storage.ProcessRow{Pid: pid})
	t.pids[pid] = upid
	t.counts.processesStarted.Add(1)
	t.counts.livePids.Store(int64(len(t.pids)))

	// Make sure a main-thread row exists and is bound. The main thread (and
	// siblings) may have been seen long before this call; process-tree dumps
	// arrive late, so this must reuse an existing unbound thread rather than
	// always allocating one.
	t.UpdateThread(pid, pid)
	return upid
}

// StartNewProcess handles an exec-style event: a brand new process instance
// for pid, overriding whatever instance currently holds that pid. Returns
// the fresh UniquePid.
func (t *Tracker) StartNewProcess(ts storage.Optional[int64], parentTid storage.Optional[uint32],
	pid uint32, mainThreadName storage.StringId, priority NamePriority) storage.UniquePid {

	tt := t.storage.Threads
	pt := t.storage.Processes

	// A new exec of the same pid always wins over an earlier instance. Old
	// rows stay in the tids index and are filtered out at query time by
	// IsThreadAlive.
	delete(t.pids, pid)

	// A fresh main-thread row, so a recycled tid never aliases the old one.
	utid := t.StartNewThread(ts, pid)
	t.UpdateThreadNameByUtid(utid, mainThreadName, priority)

	// The pid was erased above, so this allocates a new process instance.
	upid := t.GetOrCreateProcess(pid)

	assert(!pt.Name(upid).Has(), "fresh process already has a name")
	assert(!pt.StartTs(upid).Has(), "fresh process already has a start_ts")

	if startTs, ok := ts.Get(); ok {
		pt.SetStartTs(upid, startTs)
	}
	pt.SetName(upid, mainThreadName)
	t.log.Trace().Uint32("pid", pid).Uint32("upid", uint32(upid)).Msg("Process exec'd")

	if ptid, ok := parentTid.Get(); ok {
		parentUtid := t.GetOrCreateThread(ptid)
		if parentUpid, ok := tt.Upid(parentUtid).Get(); ok {
			pt.SetParentUpid(upid, parentUpid)
		} else {
			// The parent thread's process is not known yet; link up once it
			// gains a binding.
			t.pendingParentAssocs = append(t.pendingParentAssocs, parentChild{parent: parentUtid, child: upid})
			t.counts.pendingAssocs.Store(int64(len(t.pendingAssocs) + len(t.pendingParentAssocs)))
		}
	}
	return upid
}

// SetProcessMetadata records a process-tree style snapshot: name, cmdline and
// optionally the parent process. Values overwrite unconditionally. Unlike
// StartNewProcess this never invalidates the current instance for pid.
func (t *Tracker) SetProcessMetadata(pid uint32, ppid storage.Optional[uint32], name, cmdline []byte) storage.UniquePid {
	var parentUpid storage.Optional[storage.UniquePid]
	if p, ok := ppid.Get(); ok {
		parentUpid = storage.Some(t.GetOrCreateProcess(p))
	}

	upid := t.GetOrCreateProcess(pid)
	pt := t.storage.Processes

	pt.SetName(upid, t.storage.Strings.InternString(name))
	pt.SetCmdline(upid, t.storage.Strings.InternString(cmdline))
	if parent, ok := parentUpid.Get(); ok {
		pt.SetParentUpid(upid, parent)
	}
	return upid
}

// SetProcessUid records the owning uid and the appid derived from it.
func (t *Tracker) SetProcessUid(upid storage.UniquePid, uid uint32) {
	pt := t.storage.Processes
	pt.SetUid(upid, uid)

	// Android app ids repeat every 100000 per user, matching the platform's
	// UserHandle encoding.
	pt.SetAndroidAppid(upid, uid%100000)
}

// SetProcessNameIfUnset writes the name only when none was recorded yet.
func (t *Tracker) SetProcessNameIfUnset(upid storage.UniquePid, nameID storage.StringId) {
	pt := t.storage.Processes
	if !pt.Name(upid).Has() {
		pt.SetName(upid, nameID)
	}
}

// SetStartTsIfUnset writes the start timestamp only when none was recorded.
func (t *Tracker) SetStartTsIfUnset(upid storage.UniquePid, startTs int64) {
	pt := t.storage.Processes
	if !pt.StartTs(upid).Has() {
		pt.SetStartTs(upid, startTs)
	}
}

// UpdateThread is the hot path for sched and fork events: it resolves tid
// within thread group pid, creating and binding rows as needed, and drains
// any pending associations unblocked by the binding.
func (t *Tracker) UpdateThread(tid, pid uint32) storage.UniqueTid {
	tt := t.storage.Threads

	utid, ok := t.getThreadOrNull(tid, storage.Some(pid))
	if !ok {
		utid = t.StartNewThread(storage.None[int64](), tid)
	}
	assert(tt.Tid(utid) == tid, "resolved thread has the wrong tid")

	if !tt.Upid(utid).Has() {
		t.associateThreadToProcess(utid, t.GetOrCreateProcess(pid))
	}

	t.resolvePendingAssociations(utid, tt.Upid(utid).Value())
	return utid
}
