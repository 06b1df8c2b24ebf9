// Package enumbitmap implements SnelDB's per-(uid,field) enum bitmap
// index (spec.md §4.6): "for each zone, an array of packed bitsets, one
// bitset per enum variant." Backed by bits-and-blooms/bitset, the same
// packed-word bitset library the teacher's bloom filters build on.
package enumbitmap

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/bits-and-blooms/bitset"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// ZoneBitmaps holds one bitset per enum variant for a single zone, each
// bit indexed by row offset within the zone.
type ZoneBitmaps struct {
	ZoneID   uint32
	Variants []*bitset.BitSet
}

// Builder accumulates per-zone, per-variant membership as rows are
// appended during a flush.
type Builder struct {
	numVariants int
	zones       map[uint32]*ZoneBitmaps
}

// NewBuilder starts a builder for a field with numVariants enum values.
func NewBuilder(numVariants int) *Builder {
	return &Builder{numVariants: numVariants, zones: make(map[uint32]*ZoneBitmaps)}
}

// Mark records that row (0-based within zoneID) carries variant.
func (b *Builder) Mark(zoneID uint32, row uint32, variant int) {
	z, ok := b.zones[zoneID]
	if !ok {
		z = &ZoneBitmaps{ZoneID: zoneID, Variants: make([]*bitset.BitSet, b.numVariants)}
		for i := range z.Variants {
			z.Variants[i] = bitset.New(0)
		}
		b.zones[zoneID] = z
	}
	z.Variants[variant].Set(uint(row))
}

// Build finalizes the accumulated zones into an Index.
func (b *Builder) Build() *Index {
	zones := make([]ZoneBitmaps, 0, len(b.zones))
	for _, z := range b.zones {
		zones = append(zones, *z)
	}
	return &Index{numVariants: b.numVariants, zones: zones}
}

// Index is the read-side view of an enum bitmap file.
type Index struct {
	numVariants int
	zones       []ZoneBitmaps
}

// HasAny reports whether any row in zoneID carries variant.
func (idx *Index) HasAny(zoneID uint32, variant int) bool {
	z := idx.zone(zoneID)
	if z == nil || variant >= len(z.Variants) {
		return false
	}
	return z.Variants[variant].Any()
}

// RowsWithVariant returns the set of row offsets within zoneID carrying
// variant.
func (idx *Index) RowsWithVariant(zoneID uint32, variant int) *bitset.BitSet {
	z := idx.zone(zoneID)
	if z == nil || variant >= len(z.Variants) {
		return bitset.New(0)
	}
	return z.Variants[variant]
}

func (idx *Index) zone(zoneID uint32) *ZoneBitmaps {
	for i := range idx.zones {
		if idx.zones[i].ZoneID == zoneID {
			return &idx.zones[i]
		}
	}
	return nil
}

// Write persists idx to path.
func Write(path string, idx *Index) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "enumbitmap: create")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindEnumBitmap, 0).Write(f); err != nil {
		return err
	}

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(idx.numVariants))
	if _, err := f.Write(countBuf[:]); err != nil {
		return errs.Wrap(err, "enumbitmap: write variant count")
	}

	var zoneCountBuf [4]byte
	binary.LittleEndian.PutUint32(zoneCountBuf[:], uint32(len(idx.zones)))
	if _, err := f.Write(zoneCountBuf[:]); err != nil {
		return errs.Wrap(err, "enumbitmap: write zone count")
	}

	for _, z := range idx.zones {
		var zoneIDBuf [4]byte
		binary.LittleEndian.PutUint32(zoneIDBuf[:], z.ZoneID)
		if _, err := f.Write(zoneIDBuf[:]); err != nil {
			return errs.Wrap(err, "enumbitmap: write zone id")
		}
		for _, bs := range z.Variants {
			raw, err := bs.MarshalBinary()
			if err != nil {
				return errs.Wrap(err, "enumbitmap: marshal bitset")
			}
			var lenBuf [4]byte
			binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(raw)))
			if _, err := f.Write(lenBuf[:]); err != nil {
				return errs.Wrap(err, "enumbitmap: write bitset length")
			}
			if _, err := f.Write(raw); err != nil {
				return errs.Wrap(err, "enumbitmap: write bitset bytes")
			}
		}
	}
	return f.Sync()
}

// Read loads an enum bitmap index from path.
func Read(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "enumbitmap: open")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindEnumBitmap); err != nil {
		return nil, err
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "enumbitmap: truncated variant count")
	}
	numVariants := int(binary.LittleEndian.Uint32(countBuf[:]))

	var zoneCountBuf [4]byte
	if _, err := io.ReadFull(f, zoneCountBuf[:]); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "enumbitmap: truncated zone count")
	}
	numZones := int(binary.LittleEndian.Uint32(zoneCountBuf[:]))

	zones := make([]ZoneBitmaps, numZones)
	for i := 0; i < numZones; i++ {
		var zoneIDBuf [4]byte
		if _, err := io.ReadFull(f, zoneIDBuf[:]); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "enumbitmap: truncated zone id")
		}
		z := ZoneBitmaps{ZoneID: binary.LittleEndian.Uint32(zoneIDBuf[:]), Variants: make([]*bitset.BitSet, numVariants)}
		for v := 0; v < numVariants; v++ {
			var lenBuf [4]byte
			if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
				return nil, errs.Wrap(errs.ErrCorruption, "enumbitmap: truncated bitset length")
			}
			raw := make([]byte, binary.LittleEndian.Uint32(lenBuf[:]))
			if _, err := io.ReadFull(f, raw); err != nil {
				return nil, errs.Wrap(errs.ErrCorruption, "enumbitmap: truncated bitset bytes")
			}
			bs := &bitset.BitSet{}
			if err := bs.UnmarshalBinary(raw); err != nil {
				return nil, errs.Wrap(errs.ErrCorruption, "enumbitmap: unmarshal bitset")
			}
			z.Variants[v] = bs
		}
		zones[i] = z
	}
	return &Index{numVariants: numVariants, zones: zones}, nil
}
