package query

import (
	"github.com/sneldb/sneldb/internal/event"
)

// Evaluate applies a FilterGroup to a single event, used for the
// memtable/passive-buffer scan path (spec.md §4.10: "Memtable and
// non-empty passive buffers are scanned first... filtered by the same
// predicate evaluator").
func Evaluate(fg FilterGroup, ev event.Event) bool {
	switch n := fg.(type) {
	case *Filter:
		return evaluateFilter(n, ev)
	case *FilterAnd:
		for _, c := range n.Children {
			if !Evaluate(c, ev) {
				return false
			}
		}
		return true
	case *FilterOr:
		if len(n.Children) == 0 {
			return true
		}
		for _, c := range n.Children {
			if Evaluate(c, ev) {
				return true
			}
		}
		return false
	case *FilterNot:
		return !Evaluate(n.Child, ev)
	default:
		return true
	}
}

func evaluateFilter(f *Filter, ev event.Event) bool {
	if !f.HasValue {
		return true // fallback filter: no predicate, always passes (full scan marker)
	}

	actual, ok := fieldValue(f.Field, ev)
	if !ok {
		return false
	}
	return compare(actual, f.Op, f.Value)
}

func fieldValue(field string, ev event.Event) (event.Scalar, bool) {
	switch field {
	case "event_type":
		return event.FromString(ev.EventType), true
	case "context_id":
		return event.FromString(ev.ContextID), true
	case "timestamp":
		return event.FromUint64(ev.Timestamp), true
	default:
		v, ok := ev.Payload[field]
		return v, ok
	}
}

func compare(a event.Scalar, op CompareOp, b event.Scalar) bool {
	c, ok := compareScalars(a, b)
	if !ok {
		return op == OpNe
	}
	switch op {
	case OpEq:
		return c == 0
	case OpNe:
		return c != 0
	case OpLt:
		return c < 0
	case OpLe:
		return c <= 0
	case OpGt:
		return c > 0
	case OpGe:
		return c >= 0
	default:
		return false
	}
}

// compareScalars returns (-1, 0, 1, true) when a and b are order-comparable,
// or (_, false) when their kinds can't be compared (e.g. bool vs string).
func compareScalars(a, b event.Scalar) (int, bool) {
	switch {
	case isNumeric(a) && isNumeric(b):
		af, bf := numericValue(a), numericValue(b)
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		default:
			return 0, true
		}
	case a.Kind == b.Kind:
		return compareSameKind(a, b)
	default:
		return 0, false
	}
}

func isNumeric(s event.Scalar) bool {
	switch s.Kind {
	case event.ScalarInt64, event.ScalarUint64, event.ScalarFloat64, event.ScalarTimestamp:
		return true
	default:
		return false
	}
}

func numericValue(s event.Scalar) float64 {
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

func compareSameKind(a, b event.Scalar) (int, bool) {
	switch a.Kind {
	case event.ScalarString:
		return stringCompare(a.Str, b.Str), true
	case event.ScalarBool:
		if a.Bool == b.Bool {
			return 0, true
		}
		if !a.Bool {
			return -1, true
		}
		return 1, true
	case event.ScalarBytes:
		return stringCompare(string(a.Bytes), string(b.Bytes)), true
	case event.ScalarNull:
		return 0, true
	default:
		return 0, false
	}
}

func stringCompare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
