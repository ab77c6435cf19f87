// JSON-lines trace driver.
//
// Reads one event object per line and dispatches onto the process tracker.
// The driver is the single trace-parsing goroutine the tracker's threading
// model requires; only the trusted_pid sideband may also arrive from a
// producer session.
package ingest

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/phuslu/log"

	"traceproc/internal/kernel/proctrack"
	"traceproc/internal/logger"
	"traceproc/internal/storage"
)

// Format selects trace-type specific behavior.
type Format int

const (
	// FormatLinux maps tid 0 and pid 0 onto the reserved idle rows before
	// the first event.
	FormatLinux Format = iota

	// FormatGeneric leaves tid 0 free; a real tid-0 event allocates rows.
	FormatGeneric
)

// ParseFormat maps a config string to a Format.
func ParseFormat(s string) (Format, error) {
	switch s {
	case "linux":
		return FormatLinux, nil
	case "generic":
		return FormatGeneric, nil
	}
	return 0, fmt.Errorf("unknown trace format %q", s)
}

// Driver feeds a JSON-lines trace into the tracker.
type Driver struct {
	tracker *proctrack.Tracker
	storage *storage.TraceStorage
	format  Format

	lines uint64

	log *log.Logger
}

// NewDriver creates a driver bound to the tracker and its storage.
func NewDriver(tracker *proctrack.Tracker, st *storage.TraceStorage, format Format) *Driver {
	return &Driver{
		tracker: tracker,
		storage: st,
		format:  format,
		log:     logger.NewLoggerCtx("ingest"),
	}
}

// Run reads events from r until EOF or context cancellation. At EOF the
// tracker is notified so buffered args flush. A malformed line aborts the
// run; trace files are machine-written, so a bad line means truncation or
// the wrong file.
func (d *Driver) Run(ctx context.Context, r io.Reader) error {
	if d.format == FormatLinux {
		d.tracker.SetPidZeroIsUpidZeroIdleProcess()
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		d.lines++

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return fmt.Errorf("line %d: %w", d.lines, err)
		}
		d.dispatch(&ev)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("line %d: %w", d.lines, err)
	}

	d.tracker.NotifyEndOfFile()
	d.log.Info().
		Uint64("events", d.lines).
		Msg("Trace ingested")
	return nil
}

// Lines returns the number of non-empty lines consumed so far.
func (d *Driver) Lines() uint64 {
	return d.lines
}

func (d *Driver) dispatch(ev *Event) {
	switch ev.Type {
	case eventThreadStart:
		d.handleThreadStart(ev)

	case eventThreadEnd:
		if ev.Ts == nil {
			d.log.Warn().Uint32("tid", ev.Tid).Msg("thread_end without timestamp, dropped")
			return
		}
		d.tracker.EndThread(*ev.Ts, ev.Tid)

	case eventThreadName:
		nameID := d.storage.Strings.InternString([]byte(ev.Name))
		d.tracker.UpdateThreadNameAndMaybeProcessName(ev.Tid, nameID, namePriority(ev.NameSource))

	case eventSched:
		d.tracker.UpdateThread(ev.Tid, ev.Pid)

	case eventProcessStart:
		nameID := d.storage.Strings.InternString([]byte(ev.Name))
		d.tracker.StartNewProcess(optTs(ev.Ts), optU32(ev.ParentTid), ev.Pid, nameID, namePriority(ev.NameSource))

	case eventProcessTree:
		upid := d.tracker.SetProcessMetadata(ev.Pid, optU32(ev.Ppid), []byte(ev.Name), []byte(ev.Cmdline))
		if ev.Uid != nil {
			d.tracker.SetProcessUid(upid, *ev.Uid)
		}

	case eventNsProcess:
		d.tracker.UpdateNamespacedProcess(ev.Pid, ev.Nspid)

	case eventNsThread:
		d.tracker.UpdateNamespacedThread(ev.Pid, ev.Tid, ev.Nstid)

	case eventTrustedPid:
		d.tracker.UpdateTrustedPid(ev.TrustedPid, ev.Uuid)

	default:
		d.storage.Stats.Increment(storage.IngestUnknownEventTypes)
		d.log.Debug().Str("type", ev.Type).Msg("Unknown event type")
	}
}

func (d *Driver) handleThreadStart(ev *Event) {
	utid := d.tracker.StartNewThread(optTs(ev.Ts), ev.Tid)

	if ev.Name != "" {
		nameID := d.storage.Strings.InternString([]byte(ev.Name))
		d.tracker.UpdateThreadNameByUtid(utid, nameID, namePriority(ev.NameSource))
	}

	// An explicit thread group binds immediately; a sibling hint may have
	// to wait in the pending buffers until either side learns its process.
	if ev.Pid != 0 {
		d.tracker.UpdateThread(ev.Tid, ev.Pid)
	} else if ev.SiblingTid != nil {
		sibling := d.tracker.GetOrCreateThread(*ev.SiblingTid)
		d.tracker.AssociateThreads(utid, sibling)
	}
}

func namePriority(source string) proctrack.NamePriority {
	switch source {
	case "ftrace_system_info":
		return proctrack.NamePriorityFtraceSystemInfo
	case "kernel":
		return proctrack.NamePriorityOtherKernelRecord
	case "ftrace_commit":
		return proctrack.NamePriorityFtraceCommit
	case "process_tree":
		return proctrack.NamePriorityProcessTree
	case "producer":
		return proctrack.NamePriorityTrustedProducerName
	}
	return proctrack.NamePriorityOther
}

func optTs(ts *int64) storage.Optional[int64] {
	if ts == nil {
		return storage.None[int64]()
	}
	return storage.Some(*ts)
}

func optU32(v *uint32) storage.Optional[uint32] {
	if v == nil {
		return storage.None[uint32]()
	}
	return storage.Some(*v)
}
