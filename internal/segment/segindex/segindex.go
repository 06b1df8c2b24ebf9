// Package segindex implements the shard-wide `segments.idx` file: a
// level-ordered, offset-ordered index of every segment on disk, kept as
// nested ordered maps so range queries ("every segment at level L whose
// span could contain uid U") never need a directory scan (spec.md §4.11).
package segindex

import (
	"encoding/binary"
	"io"
	"os"
	"sync"

	"github.com/google/btree"
	"golang.org/x/exp/slices"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
	"github.com/sneldb/sneldb/internal/ioutil"
)

// SegmentEntry describes one on-disk segment. UIDs is the exact set of
// uids this segment holds — not a range approximation — so a membership
// check against it never produces a false positive the caller has to
// route around with a directory stat.
type SegmentEntry struct {
	Level      uint32
	Offset     uint64
	SegmentID  uint32
	UIDs       []string
	MinTS      int64
	MaxTS      int64
	Tombstoned bool
}

// HasUID reports whether e's segment actually holds uid.
func (e SegmentEntry) HasUID(uid string) bool {
	for _, u := range e.UIDs {
		if u == uid {
			return true
		}
	}
	return false
}

type offsetItem struct {
	offset uint64
	entry  SegmentEntry
}

func (a offsetItem) Less(than btree.Item) bool {
	return a.offset < than.(offsetItem).offset
}

// Index is the in-memory form of segments.idx: BTreeMap<level,
// BTreeMap<offset, SegmentEntry>>, realized as one google/btree tree per
// level keyed by offset.
type Index struct {
	mu     sync.RWMutex
	path   string
	levels map[uint32]*btree.BTree
}

// New creates an empty index bound to path (not yet persisted).
func New(path string) *Index {
	return &Index{path: path, levels: make(map[uint32]*btree.BTree)}
}

// Put inserts or replaces e, keyed by (e.Level, e.Offset).
func (idx *Index) Put(e SegmentEntry) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	t, ok := idx.levels[e.Level]
	if !ok {
		t = btree.New(32)
		idx.levels[e.Level] = t
	}
	t.ReplaceOrInsert(offsetItem{offset: e.Offset, entry: e})
}

// Remove deletes the entry at (level, offset), if present.
func (idx *Index) Remove(level uint32, offset uint64) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	t, ok := idx.levels[level]
	if !ok {
		return
	}
	t.Delete(offsetItem{offset: offset})
}

// Levels returns every level currently holding at least one segment, in
// ascending order.
func (idx *Index) Levels() []uint32 {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	levels := make([]uint32, 0, len(idx.levels))
	for l, t := range idx.levels {
		if t.Len() > 0 {
			levels = append(levels, l)
		}
	}
	slices.Sort(levels)
	return levels
}

// EntriesAt returns every segment entry at level, in ascending offset
// order.
func (idx *Index) EntriesAt(level uint32) []SegmentEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	t, ok := idx.levels[level]
	if !ok {
		return nil
	}
	entries := make([]SegmentEntry, 0, t.Len())
	t.Ascend(func(it btree.Item) bool {
		entries = append(entries, it.(offsetItem).entry)
		return true
	})
	return entries
}

// EntriesForUID returns every live segment at level that actually holds
// uid, per SegmentEntry's exact UIDs set.
func (idx *Index) EntriesForUID(level uint32, uid string) []SegmentEntry {
	var out []SegmentEntry
	for _, e := range idx.EntriesAt(level) {
		if !e.Tombstoned && e.HasUID(uid) {
			out = append(out, e)
		}
	}
	return out
}

// fixedEntrySize is the portion of an entry record that doesn't vary with
// its uid count: Level, Offset, SegmentID, uid count, MinTS, MaxTS,
// Tombstoned.
const fixedEntrySize = 4 + 8 + 4 + 4 + 8 + 8 + 1

// Save atomically rewrites the index file from the current in-memory
// state, via temp-file-then-rename (spec.md §4.11's "updates are
// atomic").
func (idx *Index) Save() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	return ioutil.AtomicReplace(idx.path, func(w io.Writer) error {
		if err := framing.NewHeader(framing.KindShardSegmentIndex, 0).Write(w); err != nil {
			return err
		}
		for _, level := range idx.sortedLevelsLocked() {
			for _, e := range idx.EntriesAt(level) {
				if err := writeEntry(w, e); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (idx *Index) sortedLevelsLocked() []uint32 {
	levels := make([]uint32, 0, len(idx.levels))
	for l := range idx.levels {
		levels = append(levels, l)
	}
	slices.Sort(levels)
	return levels
}

func writeEntry(w io.Writer, e SegmentEntry) error {
	head := make([]byte, fixedEntrySize)
	binary.LittleEndian.PutUint32(head[0:4], e.Level)
	binary.LittleEndian.PutUint64(head[4:12], e.Offset)
	binary.LittleEndian.PutUint32(head[12:16], e.SegmentID)
	binary.LittleEndian.PutUint32(head[16:20], uint32(len(e.UIDs)))
	binary.LittleEndian.PutUint64(head[20:28], uint64(e.MinTS))
	binary.LittleEndian.PutUint64(head[28:36], uint64(e.MaxTS))
	if e.Tombstoned {
		head[36] = 1
	}
	if _, err := w.Write(head); err != nil {
		return errs.Wrap(err, "segindex: write entry header")
	}
	for _, uid := range e.UIDs {
		if err := writeUID(w, uid); err != nil {
			return err
		}
	}
	return nil
}

func writeUID(w io.Writer, uid string) error {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(uid)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return errs.Wrap(err, "segindex: write uid length")
	}
	if _, err := io.WriteString(w, uid); err != nil {
		return errs.Wrap(err, "segindex: write uid")
	}
	return nil
}

func readUID(r io.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", errs.Wrap(errs.ErrCorruption, "segindex: truncated uid length")
	}
	buf := make([]byte, binary.LittleEndian.Uint16(lenBuf[:]))
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errs.Wrap(errs.ErrCorruption, "segindex: truncated uid")
	}
	return string(buf), nil
}

// UIDSpan summarizes one uid's contribution to a SegmentEntry that may
// cover several uids flushed or compacted together into one segment.
type UIDSpan struct {
	UID          string
	MinTS, MaxTS int64
}

// Fold combines spans into the single SegmentEntry the segment they share
// is registered under. ok is false if spans is empty (nothing to fold).
func Fold(level, segmentID uint32, spans []UIDSpan) (e SegmentEntry, ok bool) {
	if len(spans) == 0 {
		return SegmentEntry{}, false
	}
	e = SegmentEntry{
		Level: level, Offset: uint64(segmentID), SegmentID: segmentID,
		UIDs: make([]string, 0, len(spans)),
	}
	for i, sp := range spans {
		e.UIDs = append(e.UIDs, sp.UID)
		if i == 0 || sp.MinTS < e.MinTS {
			e.MinTS = sp.MinTS
		}
		if i == 0 || sp.MaxTS > e.MaxTS {
			e.MaxTS = sp.MaxTS
		}
	}
	slices.Sort(e.UIDs)
	return e, true
}

// IDAllocator hands out segment ids from one shard-wide counter, shared
// between a shard's flush path and its compactor so the two concurrent
// producers of new segments can never collide (spec.md §4.1's "owns its
// segment-id allocator").
type IDAllocator struct {
	mu   sync.Mutex
	next uint32
}

// NewIDAllocator seeds a counter one past the highest segment id already
// present in idx (0 if idx is empty).
func NewIDAllocator(idx *Index) *IDAllocator {
	var max uint32
	found := false
	for _, level := range idx.Levels() {
		for _, e := range idx.EntriesAt(level) {
			if !found || e.SegmentID > max {
				max = e.SegmentID
				found = true
			}
		}
	}
	a := &IDAllocator{}
	if found {
		a.next = max + 1
	}
	return a
}

// Next returns the next unused segment id.
func (a *IDAllocator) Next() uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}

// Load reads path into a fresh Index. A missing file yields an empty
// index, matching a brand-new shard.
func Load(path string) (*Index, error) {
	idx := New(path)

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, errs.Wrap(err, "segindex: open")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindShardSegmentIndex); err != nil {
		return nil, err
	}

	head := make([]byte, fixedEntrySize)
	for {
		_, err := io.ReadFull(f, head)
		if err == io.EOF {
			return idx, nil
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "segindex: truncated entry header")
		}
		var e SegmentEntry
		e.Level = binary.LittleEndian.Uint32(head[0:4])
		e.Offset = binary.LittleEndian.Uint64(head[4:12])
		e.SegmentID = binary.LittleEndian.Uint32(head[12:16])
		uidCount := binary.LittleEndian.Uint32(head[16:20])
		e.MinTS = int64(binary.LittleEndian.Uint64(head[20:28]))
		e.MaxTS = int64(binary.LittleEndian.Uint64(head[28:36]))
		e.Tombstoned = head[36] != 0

		e.UIDs = make([]string, uidCount)
		for i := range e.UIDs {
			uid, err := readUID(f)
			if err != nil {
				return nil, err
			}
			e.UIDs[i] = uid
		}
		idx.Put(e)
	}
}
