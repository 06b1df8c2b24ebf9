package column

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// ZfcEntry is one zone's compressed-block location in a .col file
// (spec.md §3).
type ZfcEntry struct {
	ZoneID    uint32
	BlockStart uint64
	CompLen    uint32
	UncompLen  uint32
	NumRows    uint32
}

const zfcEntrySize = 4 + 8 + 4 + 4 + 4

// WriteZfc persists entries, sorted by zone id, to path.
func WriteZfc(path string, entries []ZfcEntry) error {
	sorted := make([]ZfcEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ZoneID < sorted[j].ZoneID })

	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "column: create zfc")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindZoneCompressedOffsets, 0).Write(f); err != nil {
		return err
	}
	for _, e := range sorted {
		buf := make([]byte, zfcEntrySize)
		binary.LittleEndian.PutUint32(buf[0:4], e.ZoneID)
		binary.LittleEndian.PutUint64(buf[4:12], e.BlockStart)
		binary.LittleEndian.PutUint32(buf[12:16], e.CompLen)
		binary.LittleEndian.PutUint32(buf[16:20], e.UncompLen)
		binary.LittleEndian.PutUint32(buf[20:24], e.NumRows)
		if _, err := f.Write(buf); err != nil {
			return errs.Wrap(err, "column: write zfc entry")
		}
	}
	return f.Sync()
}

// ReadZfc loads every entry from path.
func ReadZfc(path string) ([]ZfcEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "column: open zfc")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindZoneCompressedOffsets); err != nil {
		return nil, err
	}

	var entries []ZfcEntry
	buf := make([]byte, zfcEntrySize)
	for {
		_, err := io.ReadFull(f, buf)
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return entries, errs.Wrap(errs.ErrCorruption, "column: truncated zfc entry")
		}
		entries = append(entries, ZfcEntry{
			ZoneID:     binary.LittleEndian.Uint32(buf[0:4]),
			BlockStart: binary.LittleEndian.Uint64(buf[4:12]),
			CompLen:    binary.LittleEndian.Uint32(buf[12:16]),
			UncompLen:  binary.LittleEndian.Uint32(buf[16:20]),
			NumRows:    binary.LittleEndian.Uint32(buf[20:24]),
		})
	}
}

// FindZone returns the entry for zoneID, if present.
func FindZone(entries []ZfcEntry, zoneID uint32) (ZfcEntry, bool) {
	// entries are sorted by zone id; binary search.
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if entries[mid].ZoneID < zoneID {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && entries[lo].ZoneID == zoneID {
		return entries[lo], true
	}
	return ZfcEntry{}, false
}
