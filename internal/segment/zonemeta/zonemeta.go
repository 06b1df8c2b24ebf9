// Package zonemeta implements the per-uid `{uid}.zones` file: a dense list
// of zone summaries (row span, timestamp range) used by the query planner
// to skip zones without touching a column file at all (spec.md §4.6).
package zonemeta

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// ZoneMeta summarizes one zone of one uid's events within a segment.
type ZoneMeta struct {
	ZoneID       uint32
	StartRow     uint32
	EndRow       uint32
	TimestampMin int64
	TimestampMax int64
}

const entrySize = 4 + 4 + 4 + 8 + 8

// Write persists zones, sorted by zone id, to path.
func Write(path string, zones []ZoneMeta) error {
	sorted := make([]ZoneMeta, len(zones))
	copy(sorted, zones)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ZoneID < sorted[j].ZoneID })

	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "zonemeta: create")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindZoneMeta, 0).Write(f); err != nil {
		return err
	}
	for _, z := range sorted {
		buf := make([]byte, entrySize)
		binary.LittleEndian.PutUint32(buf[0:4], z.ZoneID)
		binary.LittleEndian.PutUint32(buf[4:8], z.StartRow)
		binary.LittleEndian.PutUint32(buf[8:12], z.EndRow)
		binary.LittleEndian.PutUint64(buf[12:20], uint64(z.TimestampMin))
		binary.LittleEndian.PutUint64(buf[20:28], uint64(z.TimestampMax))
		if _, err := f.Write(buf); err != nil {
			return errs.Wrap(err, "zonemeta: write entry")
		}
	}
	return f.Sync()
}

// Read loads every zone summary from path.
func Read(path string) ([]ZoneMeta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "zonemeta: open")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindZoneMeta); err != nil {
		return nil, err
	}

	var zones []ZoneMeta
	buf := make([]byte, entrySize)
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			return zones, nil
		}
		if err != nil {
			return zones, errs.Wrap(errs.ErrCorruption, "zonemeta: truncated entry")
		}
		zones = append(zones, ZoneMeta{
			ZoneID:       binary.LittleEndian.Uint32(buf[0:4]),
			StartRow:     binary.LittleEndian.Uint32(buf[4:8]),
			EndRow:       binary.LittleEndian.Uint32(buf[8:12]),
			TimestampMin: int64(binary.LittleEndian.Uint64(buf[12:20])),
			TimestampMax: int64(binary.LittleEndian.Uint64(buf[20:28])),
		})
	}
}

// OverlapsRange reports whether z's timestamp span intersects [lo, hi].
func (z ZoneMeta) OverlapsRange(lo, hi int64) bool {
	return z.TimestampMin <= hi && z.TimestampMax >= lo
}

// RowCount returns the number of rows summarized by z.
func (z ZoneMeta) RowCount() uint32 {
	return z.EndRow - z.StartRow
}

// Find returns the zone summary for zoneID, if present.
func Find(zones []ZoneMeta, zoneID uint32) (ZoneMeta, bool) {
	lo, hi := 0, len(zones)
	for lo < hi {
		mid := (lo + hi) / 2
		if zones[mid].ZoneID < zoneID {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(zones) && zones[lo].ZoneID == zoneID {
		return zones[lo], true
	}
	return ZoneMeta{}, false
}
