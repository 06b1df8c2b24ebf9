package compaction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/flush"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/segindex"
	"github.com/sneldb/sneldb/internal/segment/zone"
)

func seedSegment(t *testing.T, baseDir string, level, segID uint32, uid, eventType string, fields schema.MiniSchema, events []event.Event) segindex.SegmentEntry {
	t.Helper()
	dir := paths.SegmentDir(baseDir, level, segID)
	zoneOpts := zone.PartitionOptions{EventPerZone: 10}
	res, err := flush.FlushUID(dir, uid, eventType, segID, events, fields, zoneOpts, config.Default().Flush)
	require.NoError(t, err)
	require.NotNil(t, res)

	minTS, maxTS := events[0].Timestamp, events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp < minTS {
			minTS = ev.Timestamp
		}
		if ev.Timestamp > maxTS {
			maxTS = ev.Timestamp
		}
	}
	return segindex.SegmentEntry{
		Level: level, Offset: uint64(segID), SegmentID: segID, UIDs: []string{uid},
		MinTS: int64(minTS), MaxTS: int64(maxTS),
	}
}

func TestCompactorMergesLevelIntoOne(t *testing.T) {
	baseDir := t.TempDir()
	eventType := "order"
	enumType, err := schema.Enum([]string{"US", "DE"})
	require.NoError(t, err)
	fields := schema.MiniSchema{"country": enumType}

	reg, err := schema.Open(filepath.Join(baseDir, "schema.db"))
	require.NoError(t, err)
	uid, err := reg.Define(eventType, fields)
	require.NoError(t, err)

	idxPath := filepath.Join(baseDir, "segments.idx")
	idx := segindex.New(idxPath)

	e0 := seedSegment(t, baseDir, 0, 0, uid, eventType, fields, []event.Event{
		{EventType: eventType, ContextID: "c1", Timestamp: 100, EventID: 1, Payload: map[string]event.Scalar{"country": event.FromString("US")}},
		{EventType: eventType, ContextID: "c2", Timestamp: 110, EventID: 2, Payload: map[string]event.Scalar{"country": event.FromString("DE")}},
	})
	e1 := seedSegment(t, baseDir, 0, 1, uid, eventType, fields, []event.Event{
		{EventType: eventType, ContextID: "c3", Timestamp: 200, EventID: 3, Payload: map[string]event.Scalar{"country": event.FromString("US")}},
	})
	idx.Put(e0)
	idx.Put(e1)

	zoneOpts := zone.PartitionOptions{EventPerZone: 10}
	ids := segindex.NewIDAllocator(idx)
	c := New(baseDir, idx, reg, zoneOpts, config.Default().Flush, KWayCountPolicy{K: 2}, &sync.Mutex{}, ids)

	ran, err := c.RunLevel(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ran)

	require.Empty(t, idx.EntriesAt(0))
	merged := idx.EntriesAt(1)
	require.Len(t, merged, 1)
	require.Equal(t, int64(100), merged[0].MinTS)
	require.Equal(t, int64(200), merged[0].MaxTS)

	newDir := paths.SegmentDir(baseDir, 1, merged[0].SegmentID)
	h, err := handle.Open(newDir, uid, merged[0].SegmentID)
	require.NoError(t, err)
	defer h.Close()

	events, err := query.ScanAllZones(context.Background(), h, fields)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestKWayCountPolicy(t *testing.T) {
	p := KWayCountPolicy{K: 4}
	require.False(t, p.ShouldCompact(3))
	require.True(t, p.ShouldCompact(4))
	require.True(t, p.ShouldCompact(5))
}
