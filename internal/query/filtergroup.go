package query

import (
	"github.com/samber/lo"

	"github.com/sneldb/sneldb/internal/event"
)

// IndexStrategy names which index file (if any) a leaf filter's zone
// collection step should consult, per spec.md §4.8.
type IndexStrategy int

const (
	StrategyFullScan IndexStrategy = iota
	StrategyEnumBitmap
	StrategyTemporal
	StrategyZoneXor
	StrategyZoneSuRF
	StrategyRLTE
	// StrategyZoneMeta prunes directly off the uid's zonemeta (zone)
	// min/max timestamp span, needing no separate index file — it applies
	// only to the built-in "timestamp" field, which always has a zonemeta
	// entry regardless of what the catalog marks.
	StrategyZoneMeta
)

// Priority records a leaf filter's precedence; a lower value is higher
// precedence. The collector and the predicate evaluator visit a group's
// children in tree order and do not reorder them by Priority.
// PriorityFallback marks filters synthesized for unreferenced schema
// fields (spec.md §4.7.3).
type Priority int

const (
	PriorityEventType Priority = 0
	PriorityContextID Priority = 0
	PriorityTimeSince Priority = 1
	PriorityDefault   Priority = 2
	PriorityFallback  Priority = 1 << 30
)

// FilterGroup is the recursive ADT the planner compiles a WHERE clause
// (plus the implicit event_type/context_id/since filters) into.
type FilterGroup interface {
	isFilterGroup()
}

// Filter is a leaf node: one field, one (optional) comparison, a
// priority, and the strategy the selector picked for it.
type Filter struct {
	Field    string
	Op       CompareOp
	Value    event.Scalar
	HasValue bool
	Priority Priority
	Strategy IndexStrategy
}

// FilterAnd is a conjunction.
type FilterAnd struct {
	Children []FilterGroup
}

// FilterOr is a disjunction.
type FilterOr struct {
	Children []FilterGroup
}

// FilterNot negates its child.
type FilterNot struct {
	Child FilterGroup
}

func (*Filter) isFilterGroup()    {}
func (*FilterAnd) isFilterGroup() {}
func (*FilterOr) isFilterGroup()  {}
func (*FilterNot) isFilterGroup() {}

// Build compiles a WHERE-clause Expr into a FilterGroup, per spec.md
// §4.7.2: Compare -> Filter, In -> flattened Or of equalities, And/Or/Not
// preserved, same-field equality Ors flattened into one n-ary Or.
func Build(e Expr) FilterGroup {
	switch n := e.(type) {
	case Compare:
		return &Filter{Field: n.Field, Op: n.Op, Value: n.Value, HasValue: true, Priority: PriorityDefault}
	case In:
		children := make([]FilterGroup, 0, len(n.Values))
		for _, v := range n.Values {
			children = append(children, &Filter{Field: n.Field, Op: OpEq, Value: v, HasValue: true, Priority: PriorityDefault})
		}
		return flattenOr(&FilterOr{Children: children})
	case And:
		children := make([]FilterGroup, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, Build(c))
		}
		return &FilterAnd{Children: children}
	case Or:
		children := make([]FilterGroup, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, Build(c))
		}
		return flattenOr(&FilterOr{Children: children})
	case Not:
		return &FilterNot{Child: Build(n.Child)}
	default:
		return &FilterAnd{}
	}
}

// flattenOr merges nested Ors whose children are all equality
// comparisons on the same field into a single n-ary Or, per spec.md
// §4.7.2's optimization note.
func flattenOr(or *FilterOr) FilterGroup {
	if !isSameEqualityField(or) {
		return or
	}
	var flat []FilterGroup
	var collect func(fg FilterGroup)
	collect = func(fg FilterGroup) {
		switch n := fg.(type) {
		case *FilterOr:
			for _, c := range n.Children {
				collect(c)
			}
		default:
			flat = append(flat, fg)
		}
	}
	collect(or)
	return &FilterOr{Children: flat}
}

func isSameEqualityField(or *FilterOr) bool {
	var field string
	first := true
	var walk func(fg FilterGroup) bool
	walk = func(fg FilterGroup) bool {
		switch n := fg.(type) {
		case *Filter:
			if n.Op != OpEq {
				return false
			}
			if first {
				field = n.Field
				first = false
				return true
			}
			return n.Field == field
		case *FilterOr:
			for _, c := range n.Children {
				if !walk(c) {
					return false
				}
			}
			return true
		default:
			return false
		}
	}
	return walk(or)
}

// implicitFields are never synthesized as fallback filters: they already
// have a dedicated collection path (event_type/context_id via catalog
// strategies, timestamp via zonemeta).
var implicitFields = map[string]bool{"context_id": true, "event_type": true, "timestamp": true}

// AddFallbacks appends a full-scan fallback filter (spec.md §4.7.3) for
// every schema field not already referenced by root and not one of the
// implicit fields {context_id, event_type, timestamp}.
func AddFallbacks(root FilterGroup, schemaFields []string) FilterGroup {
	referenced := make(map[string]bool)
	collectFields(root, referenced)

	and, ok := root.(*FilterAnd)
	if !ok {
		and = &FilterAnd{Children: []FilterGroup{root}}
	}

	missing := lo.Filter(schemaFields, func(f string, _ int) bool {
		return !implicitFields[f] && !referenced[f]
	})
	for _, f := range missing {
		and.Children = append(and.Children, &Filter{Field: f, Priority: PriorityFallback, Strategy: StrategyFullScan})
	}
	return and
}

// Plan builds the full FilterGroup for one (event_type, uid) pair's scan,
// per spec.md §4.7 item 1-3: the implicit event_type/context_id/since
// filters (fixed priorities, AND-joined), the WHERE clause compiled by
// Build, and a fallback filter appended for every schemaField the WHERE
// clause never referenced. Wildcard event_type expansion and temporal
// literal normalization happen one layer up, where the registry and
// schema are in scope (spec.md §4.7's closing paragraph).
func Plan(cmd Command, schemaFields []string) FilterGroup {
	var implicit []FilterGroup
	if cmd.EventType != "" && cmd.EventType != "*" {
		implicit = append(implicit, &Filter{
			Field: "event_type", Op: OpEq, Value: event.FromString(cmd.EventType),
			HasValue: true, Priority: PriorityEventType,
		})
	}
	if cmd.ContextID != nil {
		implicit = append(implicit, &Filter{
			Field: "context_id", Op: OpEq, Value: event.FromString(*cmd.ContextID),
			HasValue: true, Priority: PriorityContextID,
		})
	}
	if cmd.Since != nil {
		timeField := cmd.TimeField
		if timeField == "" {
			timeField = "timestamp"
		}
		implicit = append(implicit, &Filter{
			Field: timeField, Op: OpGe, Value: event.FromInt64(*cmd.Since),
			HasValue: true, Priority: PriorityTimeSince,
		})
	}
	if cmd.Where != nil {
		implicit = append(implicit, Build(cmd.Where))
	}

	root := FilterGroup(&FilterAnd{Children: implicit})
	return AddFallbacks(root, schemaFields)
}

func collectFields(fg FilterGroup, out map[string]bool) {
	switch n := fg.(type) {
	case *Filter:
		out[n.Field] = true
	case *FilterAnd:
		for _, c := range n.Children {
			collectFields(c, out)
		}
	case *FilterOr:
		for _, c := range n.Children {
			collectFields(c, out)
		}
	case *FilterNot:
		collectFields(n.Child, out)
	}
}
