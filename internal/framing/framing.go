// Package framing implements the fixed binary header every SnelDB on-disk
// file begins with (spec.md §4.12), grounded on the teacher's own
// descriptorEvent/eventHeader framing in internal/storage/utils.go: a
// fixed-size struct read/written with encoding/binary, guarded by a CRC of
// the header bytes that precede it.
package framing

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"

	"github.com/sneldb/sneldb/internal/errs"
)

// HeaderSize is the fixed 16-byte header plus its 4-byte CRC footer.
const HeaderSize = 8 + 2 + 2 + 4 + 4

// CurrentVersion is the header version written by this build.
const CurrentVersion uint16 = 1

// FileKind identifies the on-disk file kind via its 8-byte magic, per
// spec.md §6.
type FileKind [8]byte

var (
	KindSegmentColumn         = mustKind("EVDBCOL\x00")
	KindZoneSuRF              = mustKind("EVDBSRF\x00")
	KindZoneCompressedOffsets = mustKind("EVDBZOF\x00")
	KindZoneMeta              = mustKind("EVDBZON\x00")
	KindTemporalZoneIndex     = mustKind("EVDBZTI\x00")
	KindXorFilter             = mustKind("EVDBXRF\x00")
	KindShardSegmentIndex     = mustKind("EVDBSIX\x00")
	KindSchemaStore           = mustKind("EVDBSCH\x00")
	KindEnumBitmap            = mustKind("EVDBEBM\x00")
	KindTemporalIndex         = mustKind("EVDBTFI\x00")
	KindZoneRlte              = mustKind("EVDBRLT\x00")
	KindIndexCatalog          = mustKind("EVDBICX\x00")
	KindMaterializedFrame     = mustKind("EVDBMAT\x00")
	KindMaterializedManifest  = mustKind("EVDBMFM\x00")
	KindMaterializationCtlg   = mustKind("EVDBMCT\x00")
)

func mustKind(s string) FileKind {
	if len(s) != 8 {
		panic("framing: magic must be exactly 8 bytes")
	}
	var k FileKind
	copy(k[:], s)
	return k
}

// Header is the fixed preamble of every SnelDB on-disk file.
type Header struct {
	Magic    FileKind
	Version  uint16
	Flags    uint16
	Reserved uint32
	CRC32    uint32
}

// NewHeader builds a Header for kind with the given flags, computing its
// CRC over the preceding 16 bytes.
func NewHeader(kind FileKind, flags uint16) Header {
	h := Header{Magic: kind, Version: CurrentVersion, Flags: flags}
	h.CRC32 = crc32.ChecksumIEEE(h.bodyBytes())
	return h
}

func (h Header) bodyBytes() []byte {
	buf := make([]byte, 16)
	copy(buf[0:8], h.Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint16(buf[10:12], h.Flags)
	binary.LittleEndian.PutUint32(buf[12:16], h.Reserved)
	return buf
}

// Write serializes the header to w.
func (h Header) Write(w io.Writer) error {
	buf := make([]byte, HeaderSize)
	copy(buf, h.bodyBytes())
	binary.LittleEndian.PutUint32(buf[16:20], h.CRC32)
	_, err := w.Write(buf)
	if err != nil {
		return errs.Wrap(err, "framing: write header")
	}
	return nil
}

// ReadHeader parses and validates a header from r against wantKind. Magic,
// version, and CRC are all checked before any subsequent byte is trusted,
// per spec.md §4.12's reader contract.
func ReadHeader(r io.Reader, wantKind FileKind) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, errs.Wrap(err, "framing: read header")
	}

	var h Header
	copy(h.Magic[:], buf[0:8])
	h.Version = binary.LittleEndian.Uint16(buf[8:10])
	h.Flags = binary.LittleEndian.Uint16(buf[10:12])
	h.Reserved = binary.LittleEndian.Uint32(buf[12:16])
	h.CRC32 = binary.LittleEndian.Uint32(buf[16:20])

	if h.Magic != wantKind {
		return Header{}, errs.Wrapf(errs.ErrCorruption, "framing: bad magic %q want %q", h.Magic[:], wantKind[:])
	}
	if h.Version != CurrentVersion {
		return Header{}, errs.Wrapf(errs.ErrCorruption, "framing: unsupported version %d", h.Version)
	}
	want := crc32.ChecksumIEEE(h.bodyBytes())
	if want != h.CRC32 {
		return Header{}, errs.Wrapf(errs.ErrCorruption, "framing: crc mismatch, got %x want %x", h.CRC32, want)
	}
	return h, nil
}

// Equal reports whether two headers serialize identically.
func (h Header) Equal(o Header) bool {
	return bytes.Equal(h.bodyBytes(), o.bodyBytes()) && h.CRC32 == o.CRC32
}
