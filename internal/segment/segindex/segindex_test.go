package segindex

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPutAndEntriesAtOrdering(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "segments.idx"))

	idx.Put(SegmentEntry{Level: 0, Offset: 5, SegmentID: 2})
	idx.Put(SegmentEntry{Level: 0, Offset: 1, SegmentID: 1})
	idx.Put(SegmentEntry{Level: 0, Offset: 9, SegmentID: 3})

	entries := idx.EntriesAt(0)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Offset)
	assert.Equal(t, uint64(5), entries[1].Offset)
	assert.Equal(t, uint64(9), entries[2].Offset)
}

func TestRemove(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "segments.idx"))
	idx.Put(SegmentEntry{Level: 1, Offset: 0, SegmentID: 1})
	idx.Remove(1, 0)
	assert.Empty(t, idx.EntriesAt(1))
}

func TestHasUID(t *testing.T) {
	e := SegmentEntry{UIDs: []string{"uid-a", "uid-b"}}
	assert.True(t, e.HasUID("uid-a"))
	assert.True(t, e.HasUID("uid-b"))
	assert.False(t, e.HasUID("uid-c"))
}

func TestEntriesForUIDReturnsOnlySegmentsThatActuallyHoldTheUID(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "segments.idx"))
	idx.Put(SegmentEntry{Level: 0, Offset: 0, SegmentID: 1, UIDs: []string{"order-uid"}})
	idx.Put(SegmentEntry{Level: 0, Offset: 1, SegmentID: 2, UIDs: []string{"payment-uid"}})
	idx.Put(SegmentEntry{Level: 0, Offset: 2, SegmentID: 3, UIDs: []string{"order-uid", "payment-uid"}})

	got := idx.EntriesForUID(0, "order-uid")
	require.Len(t, got, 2)
	assert.Equal(t, uint32(1), got[0].SegmentID)
	assert.Equal(t, uint32(3), got[1].SegmentID)

	assert.Empty(t, idx.EntriesForUID(0, "no-such-uid"))
}

func TestEntriesForUIDSkipsTombstoned(t *testing.T) {
	idx := New(filepath.Join(t.TempDir(), "segments.idx"))
	idx.Put(SegmentEntry{Level: 0, Offset: 0, SegmentID: 1, UIDs: []string{"order-uid"}, Tombstoned: true})

	assert.Empty(t, idx.EntriesForUID(0, "order-uid"))
}

func TestFoldBuildsExactUIDSetAndTimestampSpan(t *testing.T) {
	e, ok := Fold(0, 7, []UIDSpan{
		{UID: "b-uid", MinTS: 50, MaxTS: 150},
		{UID: "a-uid", MinTS: 10, MaxTS: 100},
	})
	require.True(t, ok)
	assert.Equal(t, uint32(7), e.SegmentID)
	assert.Equal(t, []string{"a-uid", "b-uid"}, e.UIDs, "uids must be exact and sorted, not a min/max range")
	assert.EqualValues(t, 10, e.MinTS)
	assert.EqualValues(t, 150, e.MaxTS)
}

func TestFoldEmptySpansReturnsNotOK(t *testing.T) {
	_, ok := Fold(0, 0, nil)
	assert.False(t, ok)
}

func TestSaveLoadRoundTripPreservesExactUIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "segments.idx")
	idx := New(path)
	idx.Put(SegmentEntry{Level: 0, Offset: 0, SegmentID: 1, UIDs: []string{"a-uid", "b-uid"}, MinTS: 10, MaxTS: 20})
	idx.Put(SegmentEntry{Level: 1, Offset: 100, SegmentID: 5, UIDs: []string{"c-uid"}, MinTS: 30, MaxTS: 40})
	idx.Put(SegmentEntry{Level: 1, Offset: 101, SegmentID: 6, MinTS: 0, MaxTS: 0}) // no uids at all

	require.NoError(t, idx.Save())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1}, loaded.Levels())
	require.Len(t, loaded.EntriesAt(0), 1)
	assert.Equal(t, []string{"a-uid", "b-uid"}, loaded.EntriesAt(0)[0].UIDs)
	require.Len(t, loaded.EntriesAt(1), 2)
	assert.Equal(t, []string{"c-uid"}, loaded.EntriesAt(1)[0].UIDs)
	assert.Empty(t, loaded.EntriesAt(1)[1].UIDs)
}

func TestLoadMissingFileYieldsEmptyIndex(t *testing.T) {
	idx, err := Load(filepath.Join(t.TempDir(), "missing.idx"))
	require.NoError(t, err)
	assert.Empty(t, idx.Levels())
}
