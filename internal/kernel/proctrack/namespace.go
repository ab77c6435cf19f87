// PID-namespace resolution.
//
// Traces recorded from inside PID namespaces carry ns-local ids. The tracker
// keeps, per root-level process, the chain of ns-local pids (outermost first)
// and the set of its root-level threads, and answers "which root-level tid
// does this ns-local id refer to".
package proctrack

import (
	"encoding/binary"

	"github.com/elastic/go-freelru"
	"github.com/zeebo/xxh3"
)

// NamespacedProcess is one root-level process observed inside namespaces.
type NamespacedProcess struct {
	Pid     uint32
	Nspid   []uint32 // outermost .. innermost
	Threads map[uint32]struct{}
}

// NamespacedThread is one root-level thread with its ns-local tid chain, in
// the same nesting order as the owning process's Nspid.
type NamespacedThread struct {
	Pid   uint32
	Tid   uint32
	Nstid []uint32
}

const nsResolveCacheSize = 1024

type nsQuery struct {
	rootPid uint32
	tid     uint32
}

// nsResolveCache memoises successful resolutions. Any namespace update
// purges it wholesale; updates are rare next to sched-event lookups.
type nsResolveCache struct {
	lru *freelru.LRU[nsQuery, uint32]
}

func hashNsQuery(q nsQuery) uint32 {
	var b [8]byte
	binary.LittleEndian.PutUint32(b[0:], q.rootPid)
	binary.LittleEndian.PutUint32(b[4:], q.tid)
	return uint32(xxh3.Hash(b[:]))
}

func newNsResolveCache() *nsResolveCache {
	lru, err := freelru.New[nsQuery, uint32](nsResolveCacheSize, hashNsQuery)
	if err != nil {
		panic(err)
	}
	return &nsResolveCache{lru: lru}
}

// UpdateNamespacedProcess registers or replaces the nspid chain for a
// root-level pid. The thread set starts empty; thread entries re-register
// through UpdateNamespacedThread.
func (t *Tracker) UpdateNamespacedProcess(pid uint32, nspid []uint32) {
	t.namespacedProcesses[pid] = &NamespacedProcess{
		Pid:     pid,
		Nspid:   nspid,
		Threads: make(map[uint32]struct{}),
	}
	t.nsResolveCache.lru.Purge()
}

// UpdateNamespacedThread registers a thread of an already registered
// namespaced process.
func (t *Tracker) UpdateNamespacedThread(pid, tid uint32, nstid []uint32) {
	proc, ok := t.namespacedProcesses[pid]
	assert(ok, "namespaced thread for an unregistered process")
	if !ok {
		return
	}
	proc.Threads[tid] = struct{}{}

	t.namespacedThreads[tid] = &NamespacedThread{Pid: pid, Tid: tid, Nstid: nstid}
	t.nsResolveCache.lru.Purge()
}

// ResolveNamespacedTid maps an ns-local thread id, as seen by the process
// with the given root-level pid, back to the root-level tid. Returns false
// when the process is not known to be namespaced or no thread matches.
func (t *Tracker) ResolveNamespacedTid(rootPid, tid uint32) (uint32, bool) {
	if rootPid == 0 {
		return 0, false
	}

	if resolved, ok := t.nsResolveCache.lru.Get(nsQuery{rootPid: rootPid, tid: tid}); ok {
		return resolved, true
	}

	proc, ok := t.namespacedProcesses[rootPid]
	if !ok {
		return 0, false
	}

	// The innermost level is the one the querying process sees.
	depth := len(proc.Nspid) - 1
	if proc.Nspid[depth] == tid {
		t.nsResolveCache.lru.Add(nsQuery{rootPid: rootPid, tid: tid}, rootPid)
		return rootPid, true
	}

	for rootTid := range proc.Threads {
		thread := t.namespacedThreads[rootTid]
		if len(thread.Nstid) <= depth {
			assert(false, "namespaced thread chain shorter than its process's")
			continue
		}
		if thread.Nstid[depth] == tid {
			t.nsResolveCache.lru.Add(nsQuery{rootPid: rootPid, tid: tid}, thread.Tid)
			return thread.Tid, true
		}
	}
	return 0, false
}
