package xorfilter

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// Write persists f to path under the standard framing header.
func Write(path string, f *Filter) error {
	out, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "xorfilter: create")
	}
	defer out.Close()

	if err := framing.NewHeader(framing.KindXorFilter, 0).Write(out); err != nil {
		return err
	}

	head := make([]byte, 12)
	binary.LittleEndian.PutUint64(head[0:8], f.seed)
	binary.LittleEndian.PutUint32(head[8:12], f.blockLength)
	if _, err := out.Write(head); err != nil {
		return errs.Wrap(err, "xorfilter: write header fields")
	}
	if _, err := out.Write(f.fingerprints); err != nil {
		return errs.Wrap(err, "xorfilter: write fingerprints")
	}
	return out.Sync()
}

// Read loads a filter previously written by Write.
func Read(path string) (*Filter, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "xorfilter: open")
	}
	defer in.Close()

	if _, err := framing.ReadHeader(in, framing.KindXorFilter); err != nil {
		return nil, err
	}

	head := make([]byte, 12)
	if _, err := io.ReadFull(in, head); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "xorfilter: truncated header fields")
	}
	f := &Filter{
		seed:        binary.LittleEndian.Uint64(head[0:8]),
		blockLength: binary.LittleEndian.Uint32(head[8:12]),
	}
	fingerprints, err := io.ReadAll(in)
	if err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "xorfilter: read fingerprints")
	}
	f.fingerprints = fingerprints
	return f, nil
}
