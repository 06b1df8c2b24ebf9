package schema

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/sneldb/sneldb/internal/errs"
)

func writeString(buf *bytes.Buffer, s string) {
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf.Write(lenBuf[:])
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := binary.LittleEndian.Uint16(lenBuf[:])
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeFieldType(buf *bytes.Buffer, ft FieldType) {
	buf.WriteByte(byte(ft.Kind))
	switch ft.Kind {
	case KindEnum:
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(ft.Variants)))
		buf.Write(n[:])
		for _, v := range ft.Variants {
			writeString(buf, v)
		}
	case KindOptional:
		writeFieldType(buf, *ft.Inner)
	}
}

func readFieldType(r *bytes.Reader) (FieldType, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return FieldType{}, err
	}
	ft := FieldType{Kind: FieldKind(kindByte)}
	switch ft.Kind {
	case KindEnum:
		var n [2]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return FieldType{}, err
		}
		count := binary.LittleEndian.Uint16(n[:])
		ft.Variants = make([]string, count)
		for i := range ft.Variants {
			v, err := readString(r)
			if err != nil {
				return FieldType{}, err
			}
			ft.Variants[i] = v
		}
	case KindOptional:
		inner, err := readFieldType(r)
		if err != nil {
			return FieldType{}, err
		}
		ft.Inner = &inner
	}
	return ft, nil
}

// EncodeRecord serializes a SchemaRecord to its bincode-like payload bytes
// (everything after the per-record length+crc32 prefix).
func EncodeRecord(rec SchemaRecord) ([]byte, error) {
	if len(rec.UID) != UIDLength {
		return nil, fmt.Errorf("schema: uid must be %d chars, got %d", UIDLength, len(rec.UID))
	}
	var buf bytes.Buffer
	buf.WriteString(rec.UID)
	writeString(&buf, rec.EventType)

	var count [2]byte
	binary.LittleEndian.PutUint16(count[:], uint16(len(rec.Schema)))
	buf.Write(count[:])

	for name, ft := range rec.Schema {
		writeString(&buf, name)
		writeFieldType(&buf, ft)
	}
	return buf.Bytes(), nil
}

// DecodeRecord parses a SchemaRecord from its payload bytes.
func DecodeRecord(payload []byte) (SchemaRecord, error) {
	r := bytes.NewReader(payload)
	uidBuf := make([]byte, UIDLength)
	if _, err := io.ReadFull(r, uidBuf); err != nil {
		return SchemaRecord{}, errs.Wrap(errs.ErrCorruption, "schema: truncated uid")
	}

	eventType, err := readString(r)
	if err != nil {
		return SchemaRecord{}, errs.Wrap(errs.ErrCorruption, "schema: truncated event_type")
	}

	var countBuf [2]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return SchemaRecord{}, errs.Wrap(errs.ErrCorruption, "schema: truncated field count")
	}
	count := binary.LittleEndian.Uint16(countBuf[:])

	fields := make(MiniSchema, count)
	for i := uint16(0); i < count; i++ {
		name, err := readString(r)
		if err != nil {
			return SchemaRecord{}, errs.Wrap(errs.ErrCorruption, "schema: truncated field name")
		}
		ft, err := readFieldType(r)
		if err != nil {
			return SchemaRecord{}, errs.Wrap(errs.ErrCorruption, "schema: truncated field type")
		}
		fields[name] = ft
	}

	return SchemaRecord{UID: string(uidBuf), EventType: eventType, Schema: fields}, nil
}
