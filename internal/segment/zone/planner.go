// Package zone partitions a flush batch of events into fixed-size zones
// (spec.md §4.5), grounded on the teacher's row-batching in
// internal/datanode/compactor.go's merge() (a bounded maxRowsPerBinlog
// counter flushing accumulated field content into a new binlog), applied
// here per-uid instead of per-field.
package zone

import "github.com/sneldb/sneldb/internal/event"

// Plan is one zone's row range and the events that belong to it.
type Plan struct {
	ID          uint32
	UID         string
	EventType   string
	SegmentID   uint32
	StartIndex  int
	EndIndex    int // exclusive
	Events      []event.Event
}

// PartitionOptions controls how a batch of events for one uid is split
// into zones.
type PartitionOptions struct {
	EventPerZone int
	// FillFactor controls how small a trailing zone may be before it's
	// merged backward into the previous zone instead of standing alone
	// under-filled (SPEC_FULL.md §C.2, §D.3).
	FillFactor float64
}

// Partition splits events (already sorted for the uid, e.g. by
// (context_id, timestamp, event_id)) into dense zero-based zone plans.
// Fewer rows are allowed in the last zone (spec.md §4.5); if that trailing
// remainder is smaller than FillFactor*EventPerZone and there is a prior
// zone to absorb it, it is merged backward instead of standing alone.
func Partition(segmentID uint32, uid, eventType string, events []event.Event, opts PartitionOptions) []Plan {
	if len(events) == 0 {
		return nil
	}
	perZone := opts.EventPerZone
	if perZone <= 0 {
		perZone = len(events)
	}

	var plans []Plan
	zoneID := uint32(0)
	for start := 0; start < len(events); start += perZone {
		end := start + perZone
		if end > len(events) {
			end = len(events)
		}
		plans = append(plans, Plan{
			ID:         zoneID,
			UID:        uid,
			EventType:  eventType,
			SegmentID:  segmentID,
			StartIndex: start,
			EndIndex:   end,
			Events:     events[start:end],
		})
		zoneID++
	}

	minFill := int(opts.FillFactor * float64(perZone))
	if len(plans) >= 2 && minFill > 0 {
		last := &plans[len(plans)-1]
		if len(last.Events) < minFill {
			prev := &plans[len(plans)-2]
			prev.EndIndex = last.EndIndex
			prev.Events = append(prev.Events, last.Events...)
			plans = plans[:len(plans)-1]
		}
	}
	return plans
}
