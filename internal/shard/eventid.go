package shard

import "go.uber.org/atomic"

// eventCounterMask isolates the 48-bit monotonic counter portion of an
// event_id from its 16-bit shard-id prefix (spec.md §4.1).
const eventCounterMask = (uint64(1) << 48) - 1

// eventIDGen produces event_ids composing (shard_id: u16, counter: u48),
// per spec.md §4.1. The counter is seeded from the highest counter value
// observed during WAL replay, so ids stay strictly increasing across a
// restart even though they are never persisted on their own.
type eventIDGen struct {
	shardID uint16
	counter atomic.Uint64
}

func newEventIDGen(shardID uint16, startCounter uint64) *eventIDGen {
	g := &eventIDGen{shardID: shardID}
	g.counter.Store(startCounter)
	return g
}

// Next returns the next event_id, strictly greater than every id this
// generator has returned before.
func (g *eventIDGen) Next() uint64 {
	c := g.counter.Inc()
	return (uint64(g.shardID) << 48) | (c & eventCounterMask)
}
