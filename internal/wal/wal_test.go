package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
)

func TestAppendAndReplayRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, config.FsyncOnAppend, 0)
	require.NoError(t, err)

	events := []event.Event{
		{EventType: "order", ContextID: "c1", Timestamp: 100, EventID: 1,
			Payload: map[string]event.Scalar{"country": event.FromString("US")}},
		{EventType: "order", ContextID: "c2", Timestamp: 200, EventID: 2,
			Payload: map[string]event.Scalar{"country": event.FromString("DE")}},
	}
	for _, ev := range events {
		require.NoError(t, w.Append(ev))
	}
	require.NoError(t, w.Close())

	var replayed []event.Event
	require.NoError(t, Replay(dir, func(e Entry) error {
		replayed = append(replayed, e.ToEvent())
		return nil
	}))
	require.Len(t, replayed, 2)
	require.Equal(t, events[0].ContextID, replayed[0].ContextID)
	require.Equal(t, events[0].Payload["country"].String(), replayed[0].Payload["country"].String())
	require.Equal(t, events[1].EventID, replayed[1].EventID)
}

func TestReplaySkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, config.FsyncOnAppend, 0)
	require.NoError(t, err)
	require.NoError(t, w.Append(event.Event{EventType: "order", ContextID: "c1", Timestamp: 1, EventID: 1}))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(filepath.Join(dir, "wal-00000.log"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not valid json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var n int
	require.NoError(t, Replay(dir, func(e Entry) error {
		n++
		return nil
	}))
	require.Equal(t, 1, n, "the malformed line must be skipped, not abort replay")
}

func TestRotateClosesCurrentSegmentRegardlessOfSize(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, config.FsyncOnAppend, 1<<30) // rotateAt huge: size alone would never rotate
	require.NoError(t, err)

	require.NoError(t, w.Append(event.Event{EventType: "order", ContextID: "c1", Timestamp: 1, EventID: 1}))
	before, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, before, 1)

	require.NoError(t, w.Rotate())
	after, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, after, 2, "Rotate must force a new segment open even though rotateAt was never hit")
	require.NoError(t, w.Close())
}

func TestTruncateUpToRemovesActiveSegmentOnceRotatedPastIt(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, config.FsyncOnAppend, 1<<30)
	require.NoError(t, err)

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, w.Append(event.Event{EventType: "order", ContextID: "c1", Timestamp: i, EventID: i}))
	}
	// Without a forced rotation, TruncateUpTo leaves the still-open segment
	// untouched no matter how fully it's covered.
	require.NoError(t, w.TruncateUpTo(3))
	segs, err := listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1, "the active segment is never truncated in place")

	require.NoError(t, w.Rotate())
	require.NoError(t, w.TruncateUpTo(3))
	segs, err = listSegments(dir)
	require.NoError(t, err)
	require.Len(t, segs, 1, "exactly the fresh, empty segment opened by Rotate should remain")

	var remaining []uint64
	require.NoError(t, Replay(dir, func(e Entry) error {
		remaining = append(remaining, e.EventID)
		return nil
	}))
	require.Empty(t, remaining, "every entry covered by maxEventID must be gone once its segment was rotated and truncated")
	require.NoError(t, w.Close())
}

func TestTruncateUpToRemovesOnlyFullyCoveredRotatedSegments(t *testing.T) {
	dir := t.TempDir()
	w, err := Open(dir, config.FsyncOnAppend, 40)
	require.NoError(t, err)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, w.Append(event.Event{
			EventType: "order", ContextID: "c1", Timestamp: i, EventID: i,
		}))
	}

	segmentsBefore, err := listSegments(dir)
	require.NoError(t, err)
	require.Greater(t, len(segmentsBefore), 1, "small rotateAt should have rotated at least once")

	require.NoError(t, w.TruncateUpTo(3))

	segmentsAfter, err := listSegments(dir)
	require.NoError(t, err)
	require.Less(t, len(segmentsAfter), len(segmentsBefore), "segments fully covered by event_id<=3 should be removed")

	var remainingIDs []uint64
	require.NoError(t, Replay(dir, func(e Entry) error {
		remainingIDs = append(remainingIDs, e.EventID)
		return nil
	}))
	require.Contains(t, remainingIDs, uint64(5), "entries above maxEventID must survive truncation")
	require.NoError(t, w.Close())
}
