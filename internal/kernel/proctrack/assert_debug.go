//go:build trackerdebug

package proctrack

const debugChecks = true
