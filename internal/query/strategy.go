package query

import (
	"github.com/sneldb/sneldb/internal/index/temporal"
	"github.com/sneldb/sneldb/internal/index/zonesurf"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/catalog"
)

// SelectStrategy implements spec.md §4.8's preference order: the first
// index kind both applicable to (fieldType, op) and present in kinds
// wins.
func SelectStrategy(kinds catalog.IndexKind, fieldType schema.FieldType, op CompareOp, isIdentityField bool) IndexStrategy {
	switch {
	case fieldType.Kind == schema.KindEnum && op == OpEq && kinds.Has(catalog.IndexKindEnumBitmap):
		return StrategyEnumBitmap
	case fieldType.IsTemporal() && kinds.Has(catalog.IndexKindTemporal):
		return StrategyTemporal
	case isIdentityField && op == OpEq && kinds.Has(catalog.IndexKindZoneXor):
		return StrategyZoneXor
	case isRangeOp(op) && kinds.Has(catalog.IndexKindZoneSuRF):
		return StrategyZoneSuRF
	case op == OpEq && kinds.Has(catalog.IndexKindZoneXor):
		return StrategyZoneXor
	case kinds.Has(catalog.IndexKindRLTE):
		return StrategyRLTE
	default:
		return StrategyFullScan
	}
}

func isRangeOp(op CompareOp) bool {
	switch op {
	case OpLt, OpLe, OpGt, OpGe:
		return true
	default:
		return false
	}
}

func toZoneSuRFOp(op CompareOp) (zonesurf.CompareOp, bool) {
	switch op {
	case OpEq:
		return zonesurf.OpEq, true
	case OpLt:
		return zonesurf.OpLt, true
	case OpLe:
		return zonesurf.OpLe, true
	case OpGt:
		return zonesurf.OpGt, true
	case OpGe:
		return zonesurf.OpGe, true
	default:
		return 0, false
	}
}

func toTemporalOp(op CompareOp) (temporal.CompareOp, bool) {
	switch op {
	case OpEq:
		return temporal.OpEq, true
	case OpLt:
		return temporal.OpLt, true
	case OpLe:
		return temporal.OpLe, true
	case OpGt:
		return temporal.OpGt, true
	case OpGe:
		return temporal.OpGe, true
	default:
		return 0, false
	}
}
