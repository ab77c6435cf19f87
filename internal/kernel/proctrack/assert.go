package proctrack

// assert checks invariants that only internal tracker state can violate.
// Contradictory trace evidence is never asserted on; it is logged and counted
// so a bad trace degrades instead of aborting the ingestion. The checks
// compile away unless the trackerdebug build tag is set.
func assert(cond bool, msg string) {
	if debugChecks && !cond {
		panic("proctrack: " + msg)
	}
}
