// Package zonesurf implements SnelDB's zone SuRF index (spec.md §4.6):
// "succinct range index supporting <, <=, >, >=, = over sorted keys per
// zone." The Open Question on SuRF internals ("opaque per spec.md §4.6;
// implement as a minimal sorted-fence structure gated behind the same
// IndexKind catalog bit" — see DESIGN.md) is resolved here: rather than a
// full succinct trie, each zone keeps its sorted sortkey-encoded values
// plus min/max fences, enough to answer every comparison operator spec.md
// names without the trie's compression (a real SuRF would add that as a
// storage optimization, not a behavioral one).
package zonesurf

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// CompareOp is one of the range operators spec.md §4.6 requires.
type CompareOp int

const (
	OpEq CompareOp = iota
	OpLt
	OpLe
	OpGt
	OpGe
)

// Zone holds the sorted, deduplicated sortkeys present in one zone,
// alongside the fence (min, max).
type Zone struct {
	ZoneID uint32
	Keys   []uint64 // sorted ascending
}

// Index is a per-(uid,field) collection of per-zone sorted fences.
type Index struct {
	zones []Zone
}

// NewIndex builds an Index from zone-id-to-keys, sorting and
// deduplicating each zone's keys.
func NewIndex(zoneKeys map[uint32][]uint64) *Index {
	zones := make([]Zone, 0, len(zoneKeys))
	for id, keys := range zoneKeys {
		sorted := append([]uint64(nil), keys...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		sorted = dedup(sorted)
		zones = append(zones, Zone{ZoneID: id, Keys: sorted})
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i].ZoneID < zones[j].ZoneID })
	return &Index{zones: zones}
}

func dedup(sorted []uint64) []uint64 {
	if len(sorted) == 0 {
		return sorted
	}
	out := sorted[:1]
	for _, v := range sorted[1:] {
		if v != out[len(out)-1] {
			out = append(out, v)
		}
	}
	return out
}

// MayMatch reports whether zoneID could contain a value satisfying
// op(field, key).
func (idx *Index) MayMatch(zoneID uint32, op CompareOp, key uint64) bool {
	z, ok := idx.zone(zoneID)
	if !ok || len(z.Keys) == 0 {
		return false
	}
	min, max := z.Keys[0], z.Keys[len(z.Keys)-1]
	switch op {
	case OpEq:
		i := sort.Search(len(z.Keys), func(i int) bool { return z.Keys[i] >= key })
		return i < len(z.Keys) && z.Keys[i] == key
	case OpLt:
		return min < key
	case OpLe:
		return min <= key
	case OpGt:
		return max > key
	case OpGe:
		return max >= key
	default:
		return false
	}
}

// MayMatchRange reports whether zoneID could contain a value in [lo, hi].
func (idx *Index) MayMatchRange(zoneID uint32, lo, hi uint64) bool {
	z, ok := idx.zone(zoneID)
	if !ok || len(z.Keys) == 0 {
		return false
	}
	min, max := z.Keys[0], z.Keys[len(z.Keys)-1]
	return min <= hi && max >= lo
}

func (idx *Index) zone(zoneID uint32) (Zone, bool) {
	for _, z := range idx.zones {
		if z.ZoneID == zoneID {
			return z, true
		}
	}
	return Zone{}, false
}

// Write persists idx to path.
func Write(path string, idx *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "zonesurf: create")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindZoneSuRF, 0).Write(f); err != nil {
		return err
	}

	var zoneCountBuf [4]byte
	binary.LittleEndian.PutUint32(zoneCountBuf[:], uint32(len(idx.zones)))
	if _, err := f.Write(zoneCountBuf[:]); err != nil {
		return errs.Wrap(err, "zonesurf: write zone count")
	}
	for _, z := range idx.zones {
		head := make([]byte, 8)
		binary.LittleEndian.PutUint32(head[0:4], z.ZoneID)
		binary.LittleEndian.PutUint32(head[4:8], uint32(len(z.Keys)))
		if _, err := f.Write(head); err != nil {
			return errs.Wrap(err, "zonesurf: write zone header")
		}
		buf := make([]byte, 8*len(z.Keys))
		for i, k := range z.Keys {
			binary.LittleEndian.PutUint64(buf[i*8:i*8+8], k)
		}
		if _, err := f.Write(buf); err != nil {
			return errs.Wrap(err, "zonesurf: write zone keys")
		}
	}
	return f.Sync()
}

// Read loads an Index from path.
func Read(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "zonesurf: open")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindZoneSuRF); err != nil {
		return nil, err
	}

	var zoneCountBuf [4]byte
	if _, err := io.ReadFull(f, zoneCountBuf[:]); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "zonesurf: truncated zone count")
	}
	numZones := binary.LittleEndian.Uint32(zoneCountBuf[:])

	zones := make([]Zone, 0, numZones)
	for i := uint32(0); i < numZones; i++ {
		head := make([]byte, 8)
		if _, err := io.ReadFull(f, head); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "zonesurf: truncated zone header")
		}
		zoneID := binary.LittleEndian.Uint32(head[0:4])
		numKeys := binary.LittleEndian.Uint32(head[4:8])
		buf := make([]byte, 8*numKeys)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "zonesurf: truncated zone keys")
		}
		keys := make([]uint64, numKeys)
		for j := range keys {
			keys[j] = binary.LittleEndian.Uint64(buf[j*8 : j*8+8])
		}
		zones = append(zones, Zone{ZoneID: zoneID, Keys: keys})
	}
	return &Index{zones: zones}, nil
}
