// Deferred thread<->process association.
//
// Evidence that two threads share a process, or that one process spawned
// another, can arrive before either side is bound to a process. Such
// relationships wait in unordered buffers and are drained transitively the
// moment any involved thread gains a binding.
package proctrack

import "traceproc/internal/storage"

// AssociateThreads records that two threads belong to the same, possibly
// still unknown, process. If exactly one side is already bound, the binding
// propagates immediately; contradictory evidence is counted and dropped.
func (t *Tracker) AssociateThreads(utid1, utid2 storage.UniqueTid) {
	tt := t.storage.Threads

	upid1, has1 := tt.Upid(utid1).Get()
	upid2, has2 := tt.Upid(utid2).Get()

	if has1 && !has2 {
		t.associateThreadToProcess(utid2, upid1)
		t.resolvePendingAssociations(utid2, upid1)
		return
	}

	if has2 && !has1 {
		t.associateThreadToProcess(utid1, upid2)
		t.resolvePendingAssociations(utid1, upid2)
		return
	}

	if has1 && upid1 != upid2 {
		// Two threads claimed to be siblings but live in different
		// processes. The trace is contradicting itself; drop the request.
		t.log.Error().
			Uint32("tid1", tt.Tid(utid1)).
			Uint32("tid2", tt.Tid(utid2)).
			Msg("Cannot associate threads of two different processes")
		t.storage.Stats.Increment(storage.ProcessTrackerErrors)
		return
	}

	t.pendingAssocs = append(t.pendingAssocs, threadPair{a: utid1, b: utid2})
	t.counts.pendingAssocs.Store(int64(len(t.pendingAssocs) + len(t.pendingParentAssocs)))
}

// resolvePendingAssociations drains every pending entry reachable from utid
// now that it is bound to upid. Worklist-driven: each newly bound thread is
// pushed so its own pending entries drain in the same pass.
func (t *Tracker) resolvePendingAssociations(utid storage.UniqueTid, upid storage.UniquePid) {
	tt := t.storage.Threads
	pt := t.storage.Processes
	assert(tt.Upid(utid).Value() == upid, "resolving against a thread not bound to upid")

	worklist := []storage.UniqueTid{utid}
	for len(worklist) > 0 {
		current := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		// Parent links waiting on this thread's process. Swap-erase keeps
		// the scan O(n) without invalidating the index under iteration.
		for i := 0; i < len(t.pendingParentAssocs); {
			pa := t.pendingParentAssocs[i]
			if pa.parent != current {
				i++
				continue
			}

			if existing, ok := pt.ParentUpid(pa.child).Get(); ok && existing != upid {
				// A process-tree snapshot or an earlier drain already recorded
				// a different parent. Keep the recorded one, drop the link.
				t.log.Error().
					Uint32("pid", pt.Pid(pa.child)).
					Uint32("parent_tid", tt.Tid(pa.parent)).
					Msg("Pending parent link contradicts recorded parent process")
				t.storage.Stats.Increment(storage.ProcessTrackerErrors)
			} else if pa.child == upid {
				t.log.Error().
					Uint32("pid", pt.Pid(pa.child)).
					Msg("Process claims its own thread as parent")
				t.storage.Stats.Increment(storage.ProcessTrackerErrors)
			} else {
				pt.SetParentUpid(pa.child, upid)
			}

			last := len(t.pendingParentAssocs) - 1
			t.pendingParentAssocs[i] = t.pendingParentAssocs[last]
			t.pendingParentAssocs = t.pendingParentAssocs[:last]
		}

		// Sibling pairs containing this thread. Entries are swapped into a
		// dead zone past |end| and truncated only when the scan finishes.
		end := len(t.pendingAssocs)
		for i := 0; i < end; {
			pair := t.pendingAssocs[i]
			var other storage.UniqueTid
			switch current {
			case pair.a:
				other = pair.b
			case pair.b:
				other = pair.a
			default:
				i++
				continue
			}

			if otherUpid, ok := tt.Upid(other).Get(); ok && otherUpid != upid {
				t.log.Error().
					Uint32("tid1", tt.Tid(current)).
					Uint32("tid2", tt.Tid(other)).
					Msg("Pending sibling already bound to a different process")
				t.storage.Stats.Increment(storage.ProcessTrackerErrors)
			} else if other != current {
				t.associateThreadToProcess(other, upid)
				// Other threads may be waiting on the one just bound.
				worklist = append(worklist, other)
			}

			end--
			t.pendingAssocs[i], t.pendingAssocs[end] = t.pendingAssocs[end], t.pendingAssocs[i]
		}
		t.pendingAssocs = t.pendingAssocs[:end]
	}

	t.counts.pendingAssocs.Store(int64(len(t.pendingAssocs) + len(t.pendingParentAssocs)))
}

// associateThreadToProcess binds utid to upid and recomputes the main-thread
// flag from the tid/pid equality.
func (t *Tracker) associateThreadToProcess(utid storage.UniqueTid, upid storage.UniquePid) {
	tt := t.storage.Threads
	pt := t.storage.Processes

	tt.SetUpid(utid, upid)
	tt.SetIsMainThread(utid, tt.Tid(utid) == pt.Pid(upid))
}
