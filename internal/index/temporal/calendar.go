package temporal

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// CalendarEntry is one zone's timestamp span within a field's calendar
// file, per spec.md §4.6's "(zone, min_ts, max_ts) triples".
type CalendarEntry struct {
	ZoneID int64
	MinTS  int64
	MaxTS  int64
}

// Calendar is the per-field, whole-segment view: one entry per zone.
type Calendar struct {
	entries []CalendarEntry
}

// NewCalendar builds a Calendar from entries, sorted by zone id.
func NewCalendar(entries []CalendarEntry) *Calendar {
	sorted := append([]CalendarEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ZoneID < sorted[j].ZoneID })
	return &Calendar{entries: sorted}
}

// MayMatch returns the ids of every zone whose timestamp span could
// satisfy op(field, v).
func (c *Calendar) MayMatch(op CompareOp, v int64) []int64 {
	var zones []int64
	for _, e := range c.entries {
		if entryMayMatch(e.MinTS, e.MaxTS, op, v) {
			zones = append(zones, e.ZoneID)
		}
	}
	return zones
}

// MayMatchRange reports which zones could contain a value in [min, max].
func (c *Calendar) MayMatchRange(min, max int64) []int64 {
	var zones []int64
	for _, e := range c.entries {
		if e.MinTS <= max && e.MaxTS >= min {
			zones = append(zones, e.ZoneID)
		}
	}
	return zones
}

// CompareOp mirrors zonesurf.CompareOp; kept distinct to avoid a
// cross-package index-kind coupling.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpLt
	OpLe
	OpGt
	OpGe
)

func entryMayMatch(min, max int64, op CompareOp, v int64) bool {
	switch op {
	case OpEq:
		return min <= v && v <= max
	case OpLt:
		return min < v
	case OpLe:
		return min <= v
	case OpGt:
		return max > v
	case OpGe:
		return max >= v
	default:
		return false
	}
}

const calendarEntrySize = 8 + 8 + 8

// WriteCalendar persists a field's calendar to path.
func WriteCalendar(path string, c *Calendar) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "temporal: create calendar")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindTemporalIndex, 0).Write(f); err != nil {
		return err
	}
	for _, e := range c.entries {
		buf := make([]byte, calendarEntrySize)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(e.ZoneID))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(e.MinTS))
		binary.LittleEndian.PutUint64(buf[16:24], uint64(e.MaxTS))
		if _, err := f.Write(buf); err != nil {
			return errs.Wrap(err, "temporal: write calendar entry")
		}
	}
	return f.Sync()
}

// ReadCalendar loads a calendar from path.
func ReadCalendar(path string) (*Calendar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "temporal: open calendar")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindTemporalIndex); err != nil {
		return nil, err
	}

	var entries []CalendarEntry
	buf := make([]byte, calendarEntrySize)
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			return &Calendar{entries: entries}, nil
		}
		if err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "temporal: truncated calendar entry")
		}
		entries = append(entries, CalendarEntry{
			ZoneID: int64(binary.LittleEndian.Uint64(buf[0:8])),
			MinTS:  int64(binary.LittleEndian.Uint64(buf[8:16])),
			MaxTS:  int64(binary.LittleEndian.Uint64(buf[16:24])),
		})
	}
}

// ZTI is a per-(uid,field,zone) ZoneTemporalIndex: sorted packed keys
// plus fences, enough to answer may_match/may_match_range without a
// column scan.
type ZTI struct {
	sorted []int64
}

// NewZTI builds a ZTI from a zone's timestamp values.
func NewZTI(values []int64) *ZTI {
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &ZTI{sorted: sorted}
}

// MayMatch reports whether op(field, v) could hold for some row.
func (z *ZTI) MayMatch(op CompareOp, v int64) bool {
	if len(z.sorted) == 0 {
		return false
	}
	min, max := z.sorted[0], z.sorted[len(z.sorted)-1]
	switch op {
	case OpEq:
		i := sort.Search(len(z.sorted), func(i int) bool { return z.sorted[i] >= v })
		return i < len(z.sorted) && z.sorted[i] == v
	case OpLt:
		return min < v
	case OpLe:
		return min <= v
	case OpGt:
		return max > v
	case OpGe:
		return max >= v
	default:
		return false
	}
}

// MayMatchRange reports whether some row could fall in [min, max].
func (z *ZTI) MayMatchRange(min, max int64) bool {
	if len(z.sorted) == 0 {
		return false
	}
	return z.sorted[0] <= max && z.sorted[len(z.sorted)-1] >= min
}

// WriteZTI persists one zone's ZoneTemporalIndex to path.
func WriteZTI(path string, z *ZTI) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "temporal: create zti")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindTemporalZoneIndex, 0).Write(f); err != nil {
		return err
	}
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(z.sorted)))
	if _, err := f.Write(countBuf[:]); err != nil {
		return errs.Wrap(err, "temporal: write zti count")
	}
	buf := make([]byte, 8*len(z.sorted))
	for i, v := range z.sorted {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], uint64(v))
	}
	if _, err := f.Write(buf); err != nil {
		return errs.Wrap(err, "temporal: write zti values")
	}
	return f.Sync()
}

// ReadZTI loads a ZoneTemporalIndex from path.
func ReadZTI(path string) (*ZTI, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "temporal: open zti")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindTemporalZoneIndex); err != nil {
		return nil, err
	}
	var countBuf [4]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "temporal: truncated zti count")
	}
	count := binary.LittleEndian.Uint32(countBuf[:])
	buf := make([]byte, 8*count)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "temporal: truncated zti values")
	}
	sorted := make([]int64, count)
	for i := uint32(0); i < count; i++ {
		sorted[i] = int64(binary.LittleEndian.Uint64(buf[i*8 : i*8+8]))
	}
	return &ZTI{sorted: sorted}, nil
}
