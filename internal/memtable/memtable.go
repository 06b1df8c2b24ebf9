// Package memtable implements SnelDB's ordered write buffer and its
// passive-buffer handoff set (spec.md §3, §4.3), grounded on the teacher's
// Replica abstraction (internal/datanode/segment_replica.go), which tracks
// in-memory segment state transitioning from "new" to "flushed" the same
// way a memtable transitions to a passive buffer awaiting flush.
package memtable

import (
	"sort"
	"sync"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
)

// Memtable is an ordered buffer keyed by context_id, bounded by capacity.
type Memtable struct {
	mu       sync.RWMutex
	capacity int
	byCtx    map[string][]event.Event
	count    int
}

// New creates an empty Memtable bounded by capacity total events.
func New(capacity int) *Memtable {
	return &Memtable{capacity: capacity, byCtx: make(map[string][]event.Event)}
}

// Insert appends ev under its context_id. Callers must check IsFull after
// insertion and trigger rotation if needed (spec.md §4.3).
func (m *Memtable) Insert(ev event.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byCtx[ev.ContextID] = append(m.byCtx[ev.ContextID], ev)
	m.count++
}

// IsFull reports whether total count has reached capacity.
func (m *Memtable) IsFull() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count >= m.capacity
}

// Len returns the total number of buffered events.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// Snapshot returns every buffered event across all context_ids, ordered by
// (context_id, timestamp, event_id) — the order the flush pipeline and
// Replay both want.
func (m *Memtable) Snapshot() []event.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]event.Event, 0, m.count)
	for _, evs := range m.byCtx {
		out = append(out, evs...)
	}
	sort.Slice(out, func(i, j int) bool { return event.LessByContext(out[i], out[j]) })
	return out
}

// PassiveSet is a bounded pool of full memtables awaiting flush. A passive
// buffer is cleared only after its segment has been flushed and verified
// queryable (spec.md §4.3, §4.4).
type PassiveSet struct {
	mu    sync.RWMutex
	slots []*Memtable // nil entries are free slots
}

// NewPassiveSet creates a pool with the given number of slots.
func NewPassiveSet(slots int) *PassiveSet {
	return &PassiveSet{slots: make([]*Memtable, slots)}
}

// Admit places a full memtable into a free slot, or returns ErrCapacity
// when none is free. The shard orchestrator then flushes that memtable
// inline, holding up its ingress loop until the flush ends (spec.md §7).
func (p *PassiveSet) Admit(mt *Memtable) (slot int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range p.slots {
		if s == nil {
			p.slots[i] = mt
			return i, nil
		}
	}
	return -1, errs.Wrap(errs.ErrCapacity, "memtable: passive buffer set full")
}

// Clear empties slot after its segment has been verified queryable.
func (p *PassiveSet) Clear(slot int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[slot] = nil
}

// Snapshot returns a stable list of non-empty passive buffers for a query
// to scan alongside the active memtable and segment data (spec.md §4.3).
func (p *PassiveSet) Snapshot() []*Memtable {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Memtable, 0, len(p.slots))
	for _, s := range p.slots {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}
