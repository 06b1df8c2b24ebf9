package query

import (
	"github.com/sneldb/sneldb/internal/index/sortkey"
	"github.com/sneldb/sneldb/internal/index/xorfilter"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/zonemeta"
)

// CandidateZone identifies one zone worth scanning, per spec.md §4.9.
type CandidateZone struct {
	ZoneID    uint32
	SegmentID uint32
}

// Collector walks a FilterGroup tree and produces the candidate zone set
// for one uid's segment handle.
type Collector struct {
	h      *handle.Handle
	fields schema.MiniSchema
}

// NewCollector binds a zone collector to one segment handle and the
// schema describing its fields.
func NewCollector(h *handle.Handle, fields schema.MiniSchema) *Collector {
	return &Collector{h: h, fields: fields}
}

// Collect returns the set of zone ids that may satisfy fg.
func (c *Collector) Collect(fg FilterGroup) (map[uint32]bool, error) {
	switch n := fg.(type) {
	case *Filter:
		return c.zonesForFilter(n)
	case *FilterAnd:
		return c.intersectAll(n.Children)
	case *FilterOr:
		return c.unionAll(n.Children)
	case *FilterNot:
		inner, err := c.Collect(n.Child)
		if err != nil {
			return nil, err
		}
		return complement(inner, c.h.AllZoneIDs()), nil
	default:
		return setFromSlice(c.h.AllZoneIDs()), nil
	}
}

func (c *Collector) intersectAll(children []FilterGroup) (map[uint32]bool, error) {
	if len(children) == 0 {
		return setFromSlice(c.h.AllZoneIDs()), nil
	}
	result, err := c.Collect(children[0])
	if err != nil {
		return nil, err
	}
	for _, child := range children[1:] {
		next, err := c.Collect(child)
		if err != nil {
			return nil, err
		}
		result = intersect(result, next)
	}
	return result, nil
}

func (c *Collector) unionAll(children []FilterGroup) (map[uint32]bool, error) {
	result := make(map[uint32]bool)
	for _, child := range children {
		next, err := c.Collect(child)
		if err != nil {
			return nil, err
		}
		for id := range next {
			result[id] = true
		}
	}
	return result, nil
}

func (c *Collector) zonesForFilter(f *Filter) (map[uint32]bool, error) {
	all := c.h.AllZoneIDs()
	if !f.HasValue {
		f.Strategy = StrategyFullScan
		return setFromSlice(all), nil
	}

	if f.Field == "timestamp" {
		f.Strategy = StrategyZoneMeta
		return c.zonesByZoneMeta(f, all)
	}

	kinds := c.h.Catalog.KindsFor(f.Field)
	fieldType := c.fields[f.Field]
	isIdentity := f.Field == "event_type" || f.Field == "context_id"
	f.Strategy = SelectStrategy(kinds, fieldType, f.Op, isIdentity)

	switch f.Strategy {
	case StrategyEnumBitmap:
		return c.zonesByEnumBitmap(f, fieldType, all)
	case StrategyTemporal:
		return c.zonesByTemporal(f, all)
	case StrategyZoneXor:
		return c.zonesByZoneXor(f, all)
	case StrategyZoneSuRF:
		return c.zonesByZoneSuRF(f, all)
	case StrategyRLTE:
		return setFromSlice(all), nil // RLTE bounds row ranges, not zone membership; zone set stays full.
	default:
		return setFromSlice(all), nil
	}
}

func (c *Collector) zonesByEnumBitmap(f *Filter, fieldType schema.FieldType, all []uint32) (map[uint32]bool, error) {
	idx, err := c.h.EnumBitmap(f.Field)
	if err != nil {
		return nil, err
	}
	variant := fieldType.VariantIndex(f.Value.String())
	if variant < 0 {
		return map[uint32]bool{}, nil
	}
	out := make(map[uint32]bool)
	for _, zoneID := range all {
		if idx.HasAny(zoneID, variant) {
			out[zoneID] = true
		}
	}
	return out, nil
}

func (c *Collector) zonesByTemporal(f *Filter, all []uint32) (map[uint32]bool, error) {
	cal, err := c.h.Calendar(f.Field)
	if err != nil {
		return nil, err
	}
	op, ok := toTemporalOp(f.Op)
	if !ok {
		return setFromSlice(all), nil
	}
	matched := cal.MayMatch(op, int64(numericValue(f.Value)))
	out := make(map[uint32]bool, len(matched))
	for _, z := range matched {
		out[uint32(z)] = true
	}
	return out, nil
}

func (c *Collector) zonesByZoneMeta(f *Filter, all []uint32) (map[uint32]bool, error) {
	v := int64(numericValue(f.Value))
	out := make(map[uint32]bool)
	for _, zoneID := range all {
		meta, ok := zonemeta.Find(c.h.Zones, zoneID)
		if ok && zoneMetaMayMatch(meta, f.Op, v) {
			out[zoneID] = true
		}
	}
	return out, nil
}

func zoneMetaMayMatch(meta zonemeta.ZoneMeta, op CompareOp, v int64) bool {
	switch op {
	case OpEq:
		return meta.TimestampMin <= v && v <= meta.TimestampMax
	case OpLt:
		return meta.TimestampMin < v
	case OpLe:
		return meta.TimestampMin <= v
	case OpGt:
		return meta.TimestampMax > v
	case OpGe:
		return meta.TimestampMax >= v
	default:
		return true // OpNe and anything else: not worth pruning, keep the zone
	}
}

func (c *Collector) zonesByZoneXor(f *Filter, all []uint32) (map[uint32]bool, error) {
	zi, err := c.h.ZoneXorIndex(f.Field)
	if err != nil {
		return nil, err
	}
	key := xorfilter.HashValue(f.Value.String())
	out := make(map[uint32]bool)
	for _, zoneID := range all {
		if zi.MayContain(zoneID, key) {
			out[zoneID] = true
		}
	}
	return out, nil
}

func (c *Collector) zonesByZoneSuRF(f *Filter, all []uint32) (map[uint32]bool, error) {
	idx, err := c.h.ZoneSuRF(f.Field)
	if err != nil {
		return nil, err
	}
	op, ok := toZoneSuRFOp(f.Op)
	if !ok {
		return setFromSlice(all), nil
	}
	key := sortkey.EncodeI64(int64(numericValue(f.Value)))
	out := make(map[uint32]bool)
	for _, zoneID := range all {
		if idx.MayMatch(zoneID, op, key) {
			out[zoneID] = true
		}
	}
	return out, nil
}

func setFromSlice(ids []uint32) map[uint32]bool {
	out := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func intersect(a, b map[uint32]bool) map[uint32]bool {
	out := make(map[uint32]bool)
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for id := range small {
		if large[id] {
			out[id] = true
		}
	}
	return out
}

func complement(in map[uint32]bool, all []uint32) map[uint32]bool {
	out := make(map[uint32]bool)
	for _, id := range all {
		if !in[id] {
			out[id] = true
		}
	}
	return out
}
