// Package column implements SnelDB's per-(uid,field) column files
// (spec.md §3, §4.5): length-prefixed row values inside LZ4-compressed
// per-zone blocks, with a `.zfc` catalog mapping zone id to block location.
package column

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/sneldb/sneldb/internal/errs"
)

// PhysType tags a decompressed block's payload layout, per spec.md §4.5's
// "phys type, aux_len, payload alignment per physical type" block header.
type PhysType uint8

const (
	PhysString PhysType = iota
	PhysI64
	PhysU64
	PhysF64
	PhysBool
)

// Alignment returns the byte alignment this physical type's values
// require once the block header is skipped (spec.md §4.5: "8-byte
// alignment for i64/u64/f64").
func (p PhysType) Alignment() int {
	switch p {
	case PhysI64, PhysU64, PhysF64:
		return 8
	default:
		return 1
	}
}

// blockHeaderSize is phys_type(1) + aux_len(4).
const blockHeaderSize = 1 + 4

// EncodeBlock builds the uncompressed payload for one zone's column
// block: a small header followed by 8-byte-aligned padding (if the
// physical type requires it) and then the length-prefixed row values in
// row order.
func EncodeBlock(phys PhysType, aux []byte, rows [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(phys))
	var auxLen [4]byte
	binary.LittleEndian.PutUint32(auxLen[:], uint32(len(aux)))
	buf.Write(auxLen[:])
	buf.Write(aux)

	if align := phys.Alignment(); align > 1 {
		pad := (align - (buf.Len() % align)) % align
		buf.Write(make([]byte, pad))
	}

	for _, row := range rows {
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(row)))
		buf.Write(lenBuf[:])
		buf.Write(row)
	}
	return buf.Bytes()
}

// DecodedBlock is a parsed column block.
type DecodedBlock struct {
	Phys PhysType
	Aux  []byte
	Rows [][]byte
}

// DecodeBlock parses a block previously produced by EncodeBlock.
func DecodeBlock(raw []byte) (DecodedBlock, error) {
	if len(raw) < blockHeaderSize {
		return DecodedBlock{}, errs.Wrap(errs.ErrCorruption, "column: truncated block header")
	}
	phys := PhysType(raw[0])
	auxLen := binary.LittleEndian.Uint32(raw[1:5])
	pos := blockHeaderSize
	if uint32(len(raw)-pos) < auxLen {
		return DecodedBlock{}, errs.Wrap(errs.ErrCorruption, "column: truncated aux bytes")
	}
	aux := raw[pos : pos+int(auxLen)]
	pos += int(auxLen)

	if align := phys.Alignment(); align > 1 {
		pad := (align - (pos % align)) % align
		pos += pad
	}

	var rows [][]byte
	r := bytes.NewReader(raw[pos:])
	for r.Len() > 0 {
		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return DecodedBlock{}, errs.Wrap(errs.ErrCorruption, "column: truncated row length")
		}
		n := binary.LittleEndian.Uint16(lenBuf[:])
		row := make([]byte, n)
		if _, err := io.ReadFull(r, row); err != nil {
			return DecodedBlock{}, errs.Wrap(errs.ErrCorruption, "column: truncated row value")
		}
		rows = append(rows, row)
	}
	return DecodedBlock{Phys: phys, Aux: aux, Rows: rows}, nil
}
