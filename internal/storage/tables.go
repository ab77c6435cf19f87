// This file defines the columnar thread and process tables. Both are
// append-only: Insert allocates the next dense id and the id is never
// reused, so downstream rows can store it as a foreign key for the whole
// session. Individual columns stay mutable through typed setters.
package storage

// ThreadRow is the insert-time shape of a thread table row. Columns not
// present here (end_ts, name) always start unset.
type ThreadRow struct {
	Tid          uint32
	StartTs      Optional[int64]
	Upid         Optional[UniquePid]
	IsMainThread Optional[bool]
}

// ThreadTable stores one row per observed thread instance, keyed by UniqueTid.
type ThreadTable struct {
	tid          []uint32
	startTs      []Optional[int64]
	endTs        []Optional[int64]
	name         []Optional[StringId]
	upid         []Optional[UniquePid]
	isMainThread []Optional[bool]
}

// Insert appends a row and returns its UniqueTid.
func (t *ThreadTable) Insert(row ThreadRow) UniqueTid {
	utid := UniqueTid(len(t.tid))
	t.tid = append(t.tid, row.Tid)
	t.startTs = append(t.startTs, row.StartTs)
	t.endTs = append(t.endTs, Optional[int64]{})
	t.name = append(t.name, Optional[StringId]{})
	t.upid = append(t.upid, row.Upid)
	t.isMainThread = append(t.isMainThread, row.IsMainThread)
	return utid
}

// Len returns the number of rows.
func (t *ThreadTable) Len() int { return len(t.tid) }

func (t *ThreadTable) Tid(u UniqueTid) uint32 { return t.tid[u] }

func (t *ThreadTable) StartTs(u UniqueTid) Optional[int64] { return t.startTs[u] }

func (t *ThreadTable) SetStartTs(u UniqueTid, ts int64) { t.startTs[u] = Some(ts) }

func (t *ThreadTable) EndTs(u UniqueTid) Optional[int64] { return t.endTs[u] }

func (t *ThreadTable) SetEndTs(u UniqueTid, ts int64) { t.endTs[u] = Some(ts) }

func (t *ThreadTable) Name(u UniqueTid) Optional[StringId] { return t.name[u] }

func (t *ThreadTable) SetName(u UniqueTid, id StringId) { t.name[u] = Some(id) }

func (t *ThreadTable) Upid(u UniqueTid) Optional[UniquePid] { return t.upid[u] }

func (t *ThreadTable) SetUpid(u UniqueTid, p UniquePid) { t.upid[u] = Some(p) }

func (t *ThreadTable) IsMainThread(u UniqueTid) Optional[bool] { return t.isMainThread[u] }

func (t *ThreadTable) SetIsMainThread(u UniqueTid, main bool) { t.isMainThread[u] = Some(main) }

// ProcessRow is the insert-time shape of a process table row.
type ProcessRow struct {
	Pid uint32
}

// ProcessTable stores one row per observed process instance, keyed by
// UniquePid. A recycled OS pid gets a fresh row; the old row keeps its id.
type ProcessTable struct {
	pid          []uint32
	parentUpid   []Optional[UniquePid]
	startTs      []Optional[int64]
	endTs        []Optional[int64]
	name         []Optional[StringId]
	cmdline      []Optional[StringId]
	uid          []Optional[uint32]
	androidAppid []Optional[uint32]
}

// Insert appends a row and returns its UniquePid.
func (t *ProcessTable) Insert(row ProcessRow) UniquePid {
	upid := UniquePid(len(t.pid))
	t.pid = append(t.pid, row.Pid)
	t.parentUpid = append(t.parentUpid, Optional[UniquePid]{})
	t.startTs = append(t.startTs, Optional[int64]{})
	t.endTs = append(t.endTs, Optional[int64]{})
	t.name = append(t.name, Optional[StringId]{})
	t.cmdline = append(t.cmdline, Optional[StringId]{})
	t.uid = append(t.uid, Optional[uint32]{})
	t.androidAppid = append(t.androidAppid, Optional[uint32]{})
	return upid
}

// Len returns the number of rows.
func (t *ProcessTable) Len() int { return len(t.pid) }

func (t *ProcessTable) Pid(p UniquePid) uint32 { return t.pid[p] }

func (t *ProcessTable) ParentUpid(p UniquePid) Optional[UniquePid] { return t.parentUpid[p] }

func (t *ProcessTable) SetParentUpid(p, parent UniquePid) { t.parentUpid[p] = Some(parent) }

func (t *ProcessTable) StartTs(p UniquePid) Optional[int64] { return t.startTs[p] }

func (t *ProcessTable) SetStartTs(p UniquePid, ts int64) { t.startTs[p] = Some(ts) }

func (t *ProcessTable) EndTs(p UniquePid) Optional[int64] { return t.endTs[p] }

func (t *ProcessTable) SetEndTs(p UniquePid, ts int64) { t.endTs[p] = Some(ts) }

func (t *ProcessTable) Name(p UniquePid) Optional[StringId] { return t.name[p] }

func (t *ProcessTable) SetName(p UniquePid, id StringId) { t.name[p] = Some(id) }

func (t *ProcessTable) Cmdline(p UniquePid) Optional[StringId] { return t.cmdline[p] }

func (t *ProcessTable) SetCmdline(p UniquePid, id StringId) { t.cmdline[p] = Some(id) }

func (t *ProcessTable) Uid(p UniquePid) Optional[uint32] { return t.uid[p] }

func (t *ProcessTable) SetUid(p UniquePid, uid uint32) { t.uid[p] = Some(uid) }

func (t *ProcessTable) AndroidAppid(p UniquePid) Optional[uint32] { return t.androidAppid[p] }

func (t *ProcessTable) SetAndroidAppid(p UniquePid, appid uint32) { t.androidAppid[p] = Some(appid) }
