package cache

import (
	"sync/atomic"

	"github.com/any-hub/bufcache/internal/policy"
)

type counters struct {
	hits              atomic.Uint64
	misses            atomic.Uint64
	evictions         atomic.Uint64
	writeBacks        atomic.Uint64
	writeBackFailures atomic.Uint64
	passthrough       atomic.Uint64
}

// Stats is a point-in-time snapshot of engine activity.
type Stats struct {
	Policy            policy.Policy `json:"policy"`
	ChunkSize         int           `json:"chunkSize"`
	Capacity          int           `json:"capacity"`
	Created           int           `json:"created"`
	Occupied          int           `json:"occupied"`
	Hits              uint64        `json:"hits"`
	Misses            uint64        `json:"misses"`
	Evictions         uint64        `json:"evictions"`
	WriteBacks        uint64        `json:"writeBacks"`
	WriteBackFailures uint64        `json:"writeBackFailures"`
	Passthrough       uint64        `json:"passthrough"`
}

// HitRatio returns hits / (hits + misses), or 0 before any cached access.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns the current counters. Slot counts are read without locking, so
// callers serialize it with Read/Write like any other engine call.
func (e *Engine) Stats() Stats {
	return Stats{
		Policy:            e.opts.Policy,
		ChunkSize:         e.opts.ChunkSize,
		Capacity:          e.slots.Capacity(),
		Created:           e.slots.Created(),
		Occupied:          e.slots.Occupied(),
		Hits:              e.stats.hits.Load(),
		Misses:            e.stats.misses.Load(),
		Evictions:         e.stats.evictions.Load(),
		WriteBacks:        e.stats.writeBacks.Load(),
		WriteBackFailures: e.stats.writeBackFailures.Load(),
		Passthrough:       e.stats.passthrough.Load(),
	}
}
