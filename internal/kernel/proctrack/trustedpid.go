// Trusted-pid sideband.
//
// Producers self-report their pid when they connect; the pid arrives keyed by
// the producer's uuid and is later consulted while parsing packets from that
// producer. The connection handler and the parser run on different
// goroutines, so this is the one tracker surface backed by a concurrent map.
package proctrack

// UpdateTrustedPid records the pid self-reported by the producer with the
// given uuid. A uuid seen again with a different pid is overwritten; producer
// restarts legitimately re-announce under a recycled uuid.
func (t *Tracker) UpdateTrustedPid(trustedPid uint32, uuid uint64) {
	if prev, ok := t.trustedPids.Load(uuid); ok && prev != trustedPid {
		t.log.Debug().
			Uint64("uuid", uuid).
			Uint32("prev_pid", prev).
			Uint32("new_pid", trustedPid).
			Msg("Producer uuid remapped to a different pid")
	}
	t.trustedPids.Store(uuid, trustedPid)
}

// GetTrustedPid returns the pid recorded for uuid, if any.
func (t *Tracker) GetTrustedPid(uuid uint64) (uint32, bool) {
	return t.trustedPids.Load(uuid)
}
