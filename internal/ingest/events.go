package ingest

// Event is one line of a JSON-lines trace. Only the fields relevant to the
// event's type are set; the rest stay at their zero value.
type Event struct {
	Type string `json:"type"`

	// Nanosecond trace timestamp. A pointer distinguishes "absent" from 0.
	Ts *int64 `json:"ts,omitempty"`

	Tid uint32 `json:"tid,omitempty"`
	Pid uint32 `json:"pid,omitempty"`

	// thread_start sibling hint: this thread shares a process with
	// SiblingTid even if neither is bound yet.
	SiblingTid *uint32 `json:"sibling_tid,omitempty"`

	// process_start / process_tree parentage.
	ParentTid *uint32 `json:"parent_tid,omitempty"`
	Ppid      *uint32 `json:"ppid,omitempty"`

	Name    string `json:"name,omitempty"`
	Cmdline string `json:"cmdline,omitempty"`

	// Source of a thread_name record, ranked by the tracker's name
	// priorities. One of "ftrace_system_info", "kernel", "ftrace_commit",
	// "process_tree", "producer". Anything else ranks lowest.
	NameSource string `json:"name_source,omitempty"`

	Uid *uint32 `json:"uid,omitempty"`

	// PID-namespace chains, outermost first.
	Nspid []uint32 `json:"nspid,omitempty"`
	Nstid []uint32 `json:"nstid,omitempty"`

	// trusted_pid sideband.
	Uuid       uint64 `json:"uuid,omitempty"`
	TrustedPid uint32 `json:"trusted_pid,omitempty"`
}

const (
	eventThreadStart  = "thread_start"
	eventThreadEnd    = "thread_end"
	eventThreadName   = "thread_name"
	eventSched        = "sched"
	eventProcessStart = "process_start"
	eventProcessTree  = "process_tree"
	eventNsProcess    = "ns_process"
	eventNsThread     = "ns_thread"
	eventTrustedPid   = "trusted_pid"
)
