// The args sidecar. Ingesters attach free-form key/value arguments to a
// process row through a BoundInserter; the accumulator buffers them and
// writes them out in one batch when flushed at end of file.
package storage

// ArgRow is one flushed argument.
type ArgRow struct {
	Upid        UniquePid
	Key         StringId
	IntValue    Optional[int64]
	StringValue Optional[StringId]
}

// ArgTable is the append-only destination of flushed args.
type ArgTable struct {
	rows []ArgRow
}

// Len returns the number of flushed rows.
func (t *ArgTable) Len() int { return len(t.rows) }

// Row returns the i-th flushed row.
func (t *ArgTable) Row(i int) ArgRow { return t.rows[i] }

// ArgsAccumulator buffers argument rows until Flush.
type ArgsAccumulator struct {
	table   *ArgTable
	pending []ArgRow
}

// NewArgsAccumulator creates an accumulator writing into the given table.
func NewArgsAccumulator(table *ArgTable) *ArgsAccumulator {
	return &ArgsAccumulator{table: table}
}

// BoundInserter adds args for one specific process row.
type BoundInserter struct {
	acc  *ArgsAccumulator
	upid UniquePid
}

// AddArgsTo returns an inserter bound to the given process.
func (a *ArgsAccumulator) AddArgsTo(upid UniquePid) BoundInserter {
	return BoundInserter{acc: a, upid: upid}
}

// AddInt buffers an integer-valued argument.
func (b BoundInserter) AddInt(key StringId, v int64) {
	b.acc.pending = append(b.acc.pending, ArgRow{
		Upid:     b.upid,
		Key:      key,
		IntValue: Some(v),
	})
}

// AddString buffers a string-valued argument.
func (b BoundInserter) AddString(key, v StringId) {
	b.acc.pending = append(b.acc.pending, ArgRow{
		Upid:        b.upid,
		Key:         key,
		StringValue: Some(v),
	})
}

// Flush appends all buffered rows to the table and empties the buffer.
func (a *ArgsAccumulator) Flush() {
	a.table.rows = append(a.table.rows, a.pending...)
	a.pending = a.pending[:0]
}

// PendingCount returns the number of buffered, not yet flushed rows.
func (a *ArgsAccumulator) PendingCount() int { return len(a.pending) }
