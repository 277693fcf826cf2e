package app

import "sync/atomic"

// Diagnostics is a snapshot of the conditions a session absorbs silently.
type Diagnostics struct {
	StaleSignals uint64 `json:"stale_signals"`
	StaleLeaves  uint64 `json:"stale_leaves"`
	LinkErrors   uint64 `json:"link_errors"`
	LinkFailures uint64 `json:"link_failures"`
	Disconnects  uint64 `json:"disconnects"`
}

type counters struct {
	staleSignals atomic.Uint64
	staleLeaves  atomic.Uint64
	linkErrors   atomic.Uint64
	linkFailures atomic.Uint64
	disconnects  atomic.Uint64
}

func (c *counters) snapshot() Diagnostics {
	return Diagnostics{
		StaleSignals: c.staleSignals.Load(),
		StaleLeaves:  c.staleLeaves.Load(),
		LinkErrors:   c.linkErrors.Load(),
		LinkFailures: c.linkFailures.Load(),
		Disconnects:  c.disconnects.Load(),
	}
}
