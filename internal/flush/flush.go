// Package flush turns one uid's buffered events into a durable segment
// directory: per-field column files, every index file the catalog can
// point a query at, zone metadata, and the index catalog itself — then
// verifies the result by reopening it before the caller is allowed to
// trim its WAL or release the passive buffer slot it came from (spec.md
// §4.4, §4.5, §4.6).
package flush

import (
	"encoding/binary"
	"math"
	"sort"
	"time"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/index/enumbitmap"
	"github.com/sneldb/sneldb/internal/index/rlte"
	"github.com/sneldb/sneldb/internal/index/sortkey"
	"github.com/sneldb/sneldb/internal/index/temporal"
	"github.com/sneldb/sneldb/internal/index/xorfilter"
	"github.com/sneldb/sneldb/internal/index/zonesurf"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/log"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/catalog"
	"github.com/sneldb/sneldb/internal/segment/column"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/zone"
	"github.com/sneldb/sneldb/internal/segment/zonemeta"

	"go.uber.org/zap"
)

// specialFields are the columns every uid carries regardless of its
// MiniSchema; their physical encoding is fixed rather than derived from
// a schema.FieldType.
var specialFields = []string{"event_type", "context_id", "timestamp", "event_id"}

var specialPhys = map[string]column.PhysType{
	"event_type": column.PhysString,
	"context_id": column.PhysString,
	"timestamp":  column.PhysU64,
	"event_id":   column.PhysU64,
}

// Result summarizes one uid's flush for the caller's logging/WAL-trim
// decisions.
type Result struct {
	UID       string
	ZoneCount int
	RowCount  int
}

// FlushUID partitions events (already sorted by event.LessByContext, the
// order Memtable.Snapshot produces) into zones and writes every on-disk
// file for uid within dir, then verifies the result with handle.Open,
// retrying per cfg's backoff schedule. A nil Result with no error means
// there was nothing to flush.
func FlushUID(
	dir, uid, eventType string,
	segmentID uint32,
	events []event.Event,
	fields schema.MiniSchema,
	zoneOpts zone.PartitionOptions,
	cfg config.FlushCfg,
) (*Result, error) {
	plans := zone.Partition(segmentID, uid, eventType, events, zoneOpts)
	if len(plans) == 0 {
		return nil, nil
	}

	zones := make([]zonemeta.ZoneMeta, len(plans))
	for i, p := range plans {
		minTS, maxTS := timestampSpan(p.Events)
		zones[i] = zonemeta.ZoneMeta{
			ZoneID:       p.ID,
			StartRow:     uint32(p.StartIndex),
			EndRow:       uint32(p.EndIndex),
			TimestampMin: minTS,
			TimestampMax: maxTS,
		}
	}

	cat := catalog.New()
	for _, field := range specialFields {
		if err := flushField(dir, uid, field, syntheticType(field), specialPhys[field], plans, cat); err != nil {
			return nil, errs.Wrapf(err, "flush: field %q", field)
		}
	}
	for _, field := range sortedFieldNames(fields) {
		ft := fields[field]
		if err := flushField(dir, uid, field, ft, physTypeFor(ft), plans, cat); err != nil {
			return nil, errs.Wrapf(err, "flush: field %q", field)
		}
	}

	if err := zonemeta.Write(paths.ZoneMeta(dir, uid), zones); err != nil {
		return nil, err
	}
	if err := catalog.Write(paths.Catalog(dir, uid), cat); err != nil {
		return nil, err
	}

	if err := verify(dir, uid, segmentID, cfg); err != nil {
		return nil, err
	}

	log.Debug("flushed uid",
		zap.String("uid", uid), zap.String("event_type", eventType),
		zap.Int("zones", len(plans)), zap.Int("rows", len(events)))
	return &Result{UID: uid, ZoneCount: len(plans), RowCount: len(events)}, nil
}

func sortedFieldNames(fields schema.MiniSchema) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func syntheticType(field string) schema.FieldType {
	switch field {
	case "event_type", "context_id":
		return schema.String()
	default: // timestamp, event_id
		return schema.U64()
	}
}

// resolveKind unwraps one level of Optional, matching schema.FieldType's
// "Optional(inner)" shape (spec.md §3).
func resolveKind(ft schema.FieldType) schema.FieldKind {
	if ft.Kind == schema.KindOptional && ft.Inner != nil {
		return ft.Inner.Kind
	}
	return ft.Kind
}

func variantIndex(ft schema.FieldType, s string) int {
	if ft.Kind == schema.KindOptional && ft.Inner != nil {
		return ft.Inner.VariantIndex(s)
	}
	return ft.VariantIndex(s)
}

func numVariants(ft schema.FieldType) int {
	if ft.Kind == schema.KindOptional && ft.Inner != nil {
		return len(ft.Inner.Variants)
	}
	return len(ft.Variants)
}

// physTypeFor maps a MiniSchema field type to its column physical
// encoding (spec.md §4.5).
func physTypeFor(ft schema.FieldType) column.PhysType {
	switch resolveKind(ft) {
	case schema.KindU64:
		return column.PhysU64
	case schema.KindI64, schema.KindTimestamp, schema.KindDate:
		return column.PhysI64
	case schema.KindF64:
		return column.PhysF64
	case schema.KindBool:
		return column.PhysBool
	default: // String, Enum
		return column.PhysString
	}
}

func scalarFor(field string, ev event.Event) event.Scalar {
	switch field {
	case "event_type":
		return event.FromString(ev.EventType)
	case "context_id":
		return event.FromString(ev.ContextID)
	case "timestamp":
		return event.FromUint64(ev.Timestamp)
	case "event_id":
		return event.FromUint64(ev.EventID)
	default:
		if s, ok := ev.Payload[field]; ok {
			return s
		}
		return event.Null()
	}
}

func encodeScalar(phys column.PhysType, s event.Scalar) []byte {
	switch phys {
	case column.PhysString:
		return []byte(s.String())
	case column.PhysBool:
		if s.Bool {
			return []byte{1}
		}
		return []byte{0}
	case column.PhysI64:
		return le64(uint64(int64Of(s)))
	case column.PhysU64:
		return le64(uint64Of(s))
	case column.PhysF64:
		return le64(f64Bits(s))
	default:
		return nil
	}
}

func timestampSpan(events []event.Event) (min, max int64) {
	if len(events) == 0 {
		return 0, 0
	}
	min, max = int64(events[0].Timestamp), int64(events[0].Timestamp)
	for _, ev := range events[1:] {
		ts := int64(ev.Timestamp)
		if ts < min {
			min = ts
		}
		if ts > max {
			max = ts
		}
	}
	return min, max
}

// flushField writes one field's .col/.zfc pair across every zone and, for
// the field kinds that warrant it, the index files spec.md §4.6
// describes, marking the catalog bits that back each one.
func flushField(
	dir, uid, field string,
	ft schema.FieldType,
	phys column.PhysType,
	plans []zone.Plan,
	cat *catalog.Catalog,
) error {
	isIdentity := field == "event_type" || field == "context_id"
	kind := resolveKind(ft)

	buildZoneXor := isIdentity || kind == schema.KindString || kind == schema.KindEnum
	buildEnum := kind == schema.KindEnum
	buildRange := kind == schema.KindU64 || kind == schema.KindI64 || kind == schema.KindF64
	buildTemporal := kind == schema.KindTimestamp || kind == schema.KindDate

	w, err := column.Create(paths.Column(dir, uid, field), paths.Zfc(dir, uid, field))
	if err != nil {
		return err
	}

	var enumBuilder *enumbitmap.Builder
	if buildEnum {
		enumBuilder = enumbitmap.NewBuilder(numVariants(ft))
	}

	zoneXorKeys := make(map[uint32][]uint64)
	surfKeys := make(map[uint32][]uint64)
	rlteValues := make(map[uint32][]uint64)
	ztiValues := make(map[uint32][]int64)
	var calEntries []temporal.CalendarEntry

	for _, p := range plans {
		rows := make([][]byte, 0, len(p.Events))
		seenXor := make(map[uint64]bool)

		var ztiMin, ztiMax int64
		first := true

		for row, ev := range p.Events {
			s := scalarFor(field, ev)
			rows = append(rows, encodeScalar(phys, s))

			if buildZoneXor {
				key := xorfilter.HashValue(s.String())
				if !seenXor[key] {
					seenXor[key] = true
					zoneXorKeys[p.ID] = append(zoneXorKeys[p.ID], key)
				}
			}
			if buildEnum {
				if variant := variantIndex(ft, s.Str); variant >= 0 {
					enumBuilder.Mark(p.ID, uint32(row), variant)
				}
			}
			if buildRange {
				key := sortkey.EncodeI64(int64(numericOf(s)))
				surfKeys[p.ID] = append(surfKeys[p.ID], key)
				rlteValues[p.ID] = append(rlteValues[p.ID], key)
			}
			if buildTemporal {
				v := int64Of(s)
				if first {
					ztiMin, ztiMax, first = v, v, false
				} else if v < ztiMin {
					ztiMin = v
				} else if v > ztiMax {
					ztiMax = v
				}
				ztiValues[p.ID] = append(ztiValues[p.ID], v)
			}
		}

		block := column.EncodeBlock(phys, nil, rows)
		if err := w.WriteZone(p.ID, block, len(rows)); err != nil {
			return err
		}
		if buildTemporal {
			calEntries = append(calEntries, temporal.CalendarEntry{ZoneID: int64(p.ID), MinTS: ztiMin, MaxTS: ztiMax})
		}
	}

	if err := w.Close(); err != nil {
		return err
	}

	var bits catalog.IndexKind

	if buildZoneXor {
		zi, err := xorfilter.BuildZoneIndex(zoneXorKeys)
		if err != nil {
			return errs.Wrapf(err, "flush: build zone-xor index for %q", field)
		}
		if err := xorfilter.WriteZoneIndex(paths.XorFilter(dir, uid, field), zi); err != nil {
			return err
		}
		bits |= catalog.IndexKindZoneXor
	}

	if buildEnum {
		if err := enumbitmap.Write(paths.EnumBitmap(dir, uid, field), enumBuilder.Build()); err != nil {
			return err
		}
		bits |= catalog.IndexKindEnumBitmap
	}

	if buildRange {
		if err := zonesurf.Write(paths.ZoneSuRF(dir, uid, field), zonesurf.NewIndex(surfKeys)); err != nil {
			return err
		}
		bits |= catalog.IndexKindZoneSuRF

		for _, p := range plans {
			if err := rlte.Write(paths.RLTE(dir, uid, field, p.ID), rlte.Build(rlteValues[p.ID])); err != nil {
				return err
			}
		}
		bits |= catalog.IndexKindRLTE
	}

	if buildTemporal {
		if err := temporal.WriteCalendar(paths.TemporalCalendar(dir, uid, field), temporal.NewCalendar(calEntries)); err != nil {
			return err
		}
		for _, p := range plans {
			if err := temporal.WriteZTI(paths.TemporalZTI(dir, uid, field, p.ID), temporal.NewZTI(ztiValues[p.ID])); err != nil {
				return err
			}
		}
		bits |= catalog.IndexKindTemporal
	}

	if bits != 0 {
		cat.Mark(field, bits)
	}
	return nil
}

// verify reopens the just-written uid via handle.Open, retrying per
// cfg's attempt count and backoff (spec.md §4.4 step 5: "flush must
// verify its own output before declaring success").
func verify(dir, uid string, segmentID uint32, cfg config.FlushCfg) error {
	attempts := cfg.VerifyAttempts
	if attempts <= 0 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && cfg.VerifyBackoff > 0 {
			time.Sleep(cfg.VerifyBackoff)
		}
		h, err := handle.Open(dir, uid, segmentID)
		if err == nil {
			_ = h.Close()
			return nil
		}
		lastErr = err
	}
	return errs.Wrapf(errs.ErrFlushFailed, "flush: verify uid %q after %d attempts: %v", uid, attempts, lastErr)
}

func le64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

func int64Of(s event.Scalar) int64 {
	switch s.Kind {
	case event.ScalarInt64, event.ScalarTimestamp:
		return s.I64
	case event.ScalarUint64:
		return int64(s.U64)
	case event.ScalarFloat64:
		return int64(s.F64)
	default:
		return 0
	}
}

func uint64Of(s event.Scalar) uint64 {
	switch s.Kind {
	case event.ScalarUint64:
		return s.U64
	case event.ScalarInt64, event.ScalarTimestamp:
		return uint64(s.I64)
	default:
		return 0
	}
}

func f64Bits(s event.Scalar) uint64 {
	return math.Float64bits(numericOf(s))
}

// numericOf mirrors query.numericValue (unexported there): the float64
// view used to feed sortkey encoding for any numeric scalar kind.
func numericOf(s event.Scalar) float64 {
	switch s.Kind {
	case event.ScalarInt64, event.ScalarTimestamp:
		return float64(s.I64)
	case event.ScalarUint64:
		return float64(s.U64)
	case event.ScalarFloat64:
		return s.F64
	default:
		return 0
	}
}
