// Package catalog implements the per-segment `{uid}.icx` index catalog
// (spec.md §4.6): "per-field IndexKind bitset + per-segment global
// IndexKind." The index strategy selector consults this before touching
// any index file, so it knows which ones actually exist for a field.
package catalog

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// IndexKind is a bitmask of index files present for a field, per
// spec.md §4.6.
type IndexKind uint8

const (
	IndexKindXor IndexKind = 1 << iota
	IndexKindZoneXor
	IndexKindZoneSuRF
	IndexKindEnumBitmap
	IndexKindTemporal
	IndexKindRLTE
)

// Has reports whether kind includes bit.
func (kind IndexKind) Has(bit IndexKind) bool {
	return kind&bit != 0
}

// Catalog is one segment's index catalog: a global IndexKind union plus
// per-field bitsets.
type Catalog struct {
	Global IndexKind
	Fields map[string]IndexKind
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{Fields: make(map[string]IndexKind)}
}

// Mark records that field carries the index kinds in bits.
func (c *Catalog) Mark(field string, bits IndexKind) {
	c.Fields[field] |= bits
	c.Global |= bits
}

// KindsFor returns the IndexKind bitmask recorded for field.
func (c *Catalog) KindsFor(field string) IndexKind {
	return c.Fields[field]
}

// Write persists c to path.
func Write(path string, c *Catalog) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "catalog: create")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindIndexCatalog, 0).Write(f); err != nil {
		return err
	}

	fields := make([]string, 0, len(c.Fields))
	for name := range c.Fields {
		fields = append(fields, name)
	}
	sort.Strings(fields)

	head := make([]byte, 5)
	head[0] = byte(c.Global)
	binary.LittleEndian.PutUint32(head[1:5], uint32(len(fields)))
	if _, err := f.Write(head); err != nil {
		return errs.Wrap(err, "catalog: write header fields")
	}

	for _, name := range fields {
		var nameLen [2]byte
		binary.LittleEndian.PutUint16(nameLen[:], uint16(len(name)))
		if _, err := f.Write(nameLen[:]); err != nil {
			return errs.Wrap(err, "catalog: write field name length")
		}
		if _, err := f.Write([]byte(name)); err != nil {
			return errs.Wrap(err, "catalog: write field name")
		}
		if _, err := f.Write([]byte{byte(c.Fields[name])}); err != nil {
			return errs.Wrap(err, "catalog: write field kinds")
		}
	}
	return f.Sync()
}

// Read loads a Catalog from path.
func Read(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "catalog: open")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindIndexCatalog); err != nil {
		return nil, err
	}

	head := make([]byte, 5)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "catalog: truncated header fields")
	}
	c := &Catalog{Global: IndexKind(head[0]), Fields: make(map[string]IndexKind)}
	numFields := binary.LittleEndian.Uint32(head[1:5])

	for i := uint32(0); i < numFields; i++ {
		var nameLen [2]byte
		if _, err := io.ReadFull(f, nameLen[:]); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "catalog: truncated field name length")
		}
		name := make([]byte, binary.LittleEndian.Uint16(nameLen[:]))
		if _, err := io.ReadFull(f, name); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "catalog: truncated field name")
		}
		var kindByte [1]byte
		if _, err := io.ReadFull(f, kindByte[:]); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "catalog: truncated field kinds")
		}
		c.Fields[string(name)] = IndexKind(kindByte[0])
	}
	return c, nil
}
