package query

import (
	"context"
	"encoding/binary"
	"math"
	"sort"
	"sync"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/column"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/zonemeta"
)

// flowChannelSize bounds the executor's output channel, per spec.md
// §4.10's "bounded FlowChannel"; back-pressure propagates to the reader
// once it fills.
const flowChannelSize = 256

var specialFields = []string{"event_type", "context_id", "timestamp", "event_id"}

// Executor runs a compiled FilterGroup against one uid's segment handle,
// per spec.md §4.10.
type Executor struct {
	h      *handle.Handle
	fields schema.MiniSchema

	mu  sync.Mutex
	zfc map[string][]column.ZfcEntry
}

// NewExecutor binds an executor to a segment handle and the schema
// describing its payload fields.
func NewExecutor(h *handle.Handle, fields schema.MiniSchema) *Executor {
	return &Executor{h: h, fields: fields, zfc: make(map[string][]column.ZfcEntry)}
}

// ScanMemory evaluates fg against in-memory events (the memtable and any
// non-empty passive buffers), per spec.md §4.10: "scanned first... in
// shard-local memory... filtered by the same predicate evaluator."
func ScanMemory(fg FilterGroup, events []event.Event) []event.Event {
	var out []event.Event
	for _, ev := range events {
		if Evaluate(fg, ev) {
			out = append(out, ev)
		}
	}
	return out
}

// ScanAllZones drains every event in h's segment for fields, uid by uid's
// zone order, with no predicate applied — the full-segment read compaction
// needs to re-merge a uid's rows into a new segment.
func ScanAllZones(ctx context.Context, h *handle.Handle, fields schema.MiniSchema) ([]event.Event, error) {
	ex := NewExecutor(h, fields)
	fullScan := &Filter{Strategy: StrategyFullScan}
	out, errc := ex.Execute(ctx, fullScan, nil)

	var events []event.Event
	for ev := range out {
		events = append(events, ev)
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return events, nil
}

// Execute streams events matching fg: memory first, then segment zones,
// dedup-unioned by event_id. The returned error channel carries at most
// one error and is closed alongside the event channel.
func (ex *Executor) Execute(ctx context.Context, fg FilterGroup, memory []event.Event) (<-chan event.Event, <-chan error) {
	out := make(chan event.Event, flowChannelSize)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		seen := make(map[uint64]bool, len(memory))
		for _, ev := range memory {
			if !Evaluate(fg, ev) {
				continue
			}
			seen[ev.EventID] = true
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}

		collector := NewCollector(ex.h, ex.fields)
		zones, err := collector.Collect(fg)
		if err != nil {
			errc <- err
			return
		}

		zoneIDs := make([]uint32, 0, len(zones))
		for id, ok := range zones {
			if ok {
				zoneIDs = append(zoneIDs, id)
			}
		}
		sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })

		needed := neededFields(ex.fields)
		for _, zoneID := range zoneIDs {
			if err := ex.emitZone(ctx, zoneID, needed, fg, seen, out); err != nil {
				errc <- err
				return
			}
		}
	}()

	return out, errc
}

func (ex *Executor) emitZone(ctx context.Context, zoneID uint32, fields []string, fg FilterGroup, seen map[uint64]bool, out chan<- event.Event) error {
	meta, ok := zonemeta.Find(ex.h.Zones, zoneID)
	if !ok {
		return nil
	}

	blocks := make(map[string]column.DecodedBlock, len(fields))
	for _, f := range fields {
		blk, err := ex.zoneColumn(f, zoneID)
		if err != nil {
			return err
		}
		blocks[f] = blk
	}

	rowCount := int(meta.RowCount())
	for row := 0; row < rowCount; row++ {
		ev, ok := buildEvent(blocks, row)
		if !ok {
			continue
		}
		if seen[ev.EventID] {
			continue
		}
		if !Evaluate(fg, ev) {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

func (ex *Executor) zoneColumn(field string, zoneID uint32) (column.DecodedBlock, error) {
	colHandle, err := ex.h.Columns.Get(paths.Column(ex.h.Dir, ex.h.UID, field))
	if err != nil {
		return column.DecodedBlock{}, err
	}

	entries, err := ex.zfcEntries(field)
	if err != nil {
		return column.DecodedBlock{}, err
	}
	entry, ok := column.FindZone(entries, zoneID)
	if !ok {
		return column.DecodedBlock{}, nil
	}
	return colHandle.ReadZone(entry)
}

func (ex *Executor) zfcEntries(field string) ([]column.ZfcEntry, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	if entries, ok := ex.zfc[field]; ok {
		return entries, nil
	}
	entries, err := column.ReadZfc(paths.Zfc(ex.h.Dir, ex.h.UID, field))
	if err != nil {
		return nil, err
	}
	ex.zfc[field] = entries
	return entries, nil
}

// neededFields is specialFields followed by every schema field in name
// order: the columns buildEvent needs to reassemble whole events.
func neededFields(fields schema.MiniSchema) []string {
	seen := make(map[string]bool, len(specialFields)+len(fields))
	var out []string
	for _, f := range specialFields {
		seen[f] = true
		out = append(out, f)
	}
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	for _, f := range names {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// buildEvent assembles row from each field's decoded block, routing
// special fields into Event's fixed columns and everything else into
// Payload.
func buildEvent(blocks map[string]column.DecodedBlock, row int) (event.Event, bool) {
	ev := event.Event{Payload: make(map[string]event.Scalar)}
	for field, blk := range blocks {
		if row >= len(blk.Rows) {
			return event.Event{}, false
		}
		scalar, err := decodeScalar(blk.Phys, blk.Rows[row])
		if err != nil {
			return event.Event{}, false
		}
		switch field {
		case "event_type":
			ev.EventType = scalar.String()
		case "context_id":
			ev.ContextID = scalar.String()
		case "timestamp":
			ev.Timestamp = uint64(numericValue(scalar))
		case "event_id":
			ev.EventID = uint64(numericValue(scalar))
		default:
			ev.Payload[field] = scalar
		}
	}
	return ev, true
}

func decodeScalar(phys column.PhysType, raw []byte) (event.Scalar, error) {
	switch phys {
	case column.PhysString:
		return event.FromString(string(raw)), nil
	case column.PhysI64:
		if len(raw) != 8 {
			return event.Scalar{}, errs.Wrap(errs.ErrCorruption, "query: short i64 value")
		}
		return event.FromInt64(int64(binary.LittleEndian.Uint64(raw))), nil
	case column.PhysU64:
		if len(raw) != 8 {
			return event.Scalar{}, errs.Wrap(errs.ErrCorruption, "query: short u64 value")
		}
		return event.FromUint64(binary.LittleEndian.Uint64(raw)), nil
	case column.PhysF64:
		if len(raw) != 8 {
			return event.Scalar{}, errs.Wrap(errs.ErrCorruption, "query: short f64 value")
		}
		return event.FromFloat64(math.Float64frombits(binary.LittleEndian.Uint64(raw))), nil
	case column.PhysBool:
		if len(raw) != 1 {
			return event.Scalar{}, errs.Wrap(errs.ErrCorruption, "query: short bool value")
		}
		return event.FromBool(raw[0] != 0), nil
	default:
		return event.Scalar{}, errs.Wrap(errs.ErrCorruption, "query: unknown physical type")
	}
}
