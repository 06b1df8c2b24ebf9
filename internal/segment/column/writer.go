package column

import (
	"os"

	"github.com/pierrec/lz4/v4"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// Writer accumulates compressed zone blocks for one (uid, field) column
// and produces the paired .col/.zfc files, per spec.md §4.5.
type Writer struct {
	colPath string
	zfcPath string

	f       *os.File
	offset  uint64
	entries []ZfcEntry
}

// Create opens colPath/zfcPath for a fresh column.
func Create(colPath, zfcPath string) (*Writer, error) {
	f, err := os.Create(colPath)
	if err != nil {
		return nil, errs.Wrap(err, "column: create col file")
	}
	header := framing.NewHeader(framing.KindSegmentColumn, 0)
	if err := header.Write(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Writer{colPath: colPath, zfcPath: zfcPath, f: f, offset: uint64(framing.HeaderSize)}, nil
}

// WriteZone compresses rawBlock (as produced by EncodeBlock) with LZ4 and
// appends it, recording a .zfc entry for zoneID.
func (w *Writer) WriteZone(zoneID uint32, rawBlock []byte, numRows int) error {
	compressed := make([]byte, lz4.CompressBlockBound(len(rawBlock)))
	var c lz4.Compressor
	n, err := c.CompressBlock(rawBlock, compressed)
	if err != nil {
		return errs.Wrap(err, "column: lz4 compress")
	}
	compressed = compressed[:n]

	if _, err := w.f.Write(compressed); err != nil {
		return errs.Wrap(err, "column: write compressed block")
	}

	w.entries = append(w.entries, ZfcEntry{
		ZoneID:     zoneID,
		BlockStart: w.offset,
		CompLen:    uint32(len(compressed)),
		UncompLen:  uint32(len(rawBlock)),
		NumRows:    uint32(numRows),
	})
	w.offset += uint64(len(compressed))
	return nil
}

// Close flushes the .col file and writes the .zfc catalog.
func (w *Writer) Close() error {
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return errs.Wrap(err, "column: sync col file")
	}
	if err := w.f.Close(); err != nil {
		return errs.Wrap(err, "column: close col file")
	}
	return WriteZfc(w.zfcPath, w.entries)
}
