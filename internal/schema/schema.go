// Package schema implements the MiniSchema type system and the
// SchemaRecord persisted by the registry (spec.md §3).
package schema

import "fmt"

// FieldKind enumerates MiniSchema's scalar field types.
type FieldKind uint8

const (
	KindString FieldKind = iota
	KindU64
	KindI64
	KindF64
	KindBool
	KindTimestamp
	KindDate
	KindEnum
	KindOptional
)

// MaxEnumVariants bounds an Enum field's variant list (spec.md §3).
const MaxEnumVariants = 256

// FieldType describes one MiniSchema field. Enum carries Variants; Optional
// carries Inner (one level, matching spec.md's `Optional(inner)`).
type FieldType struct {
	Kind     FieldKind
	Variants []string
	Inner    *FieldType
}

func String() FieldType    { return FieldType{Kind: KindString} }
func U64() FieldType       { return FieldType{Kind: KindU64} }
func I64() FieldType       { return FieldType{Kind: KindI64} }
func F64() FieldType       { return FieldType{Kind: KindF64} }
func Bool() FieldType      { return FieldType{Kind: KindBool} }
func Timestamp() FieldType { return FieldType{Kind: KindTimestamp} }
func Date() FieldType      { return FieldType{Kind: KindDate} }

// Enum builds an enum field type, validating the variant-count and
// non-empty-name invariants from spec.md §3.
func Enum(variants []string) (FieldType, error) {
	if len(variants) == 0 || len(variants) > MaxEnumVariants {
		return FieldType{}, fmt.Errorf("schema: enum must have 1..%d variants, got %d", MaxEnumVariants, len(variants))
	}
	seen := make(map[string]struct{}, len(variants))
	for _, v := range variants {
		if v == "" {
			return FieldType{}, fmt.Errorf("schema: enum variant must be non-empty")
		}
		if _, dup := seen[v]; dup {
			return FieldType{}, fmt.Errorf("schema: duplicate enum variant %q", v)
		}
		seen[v] = struct{}{}
	}
	cp := make([]string, len(variants))
	copy(cp, variants)
	return FieldType{Kind: KindEnum, Variants: cp}, nil
}

// Optional wraps inner as an optional field.
func Optional(inner FieldType) FieldType {
	return FieldType{Kind: KindOptional, Inner: &inner}
}

// IsTemporal reports whether values of this type normalize to epoch
// seconds on ingestion (spec.md §3).
func (f FieldType) IsTemporal() bool {
	return f.Kind == KindTimestamp || f.Kind == KindDate
}

// VariantIndex returns the 0-based position of v in an enum's variant
// list, or -1 if absent.
func (f FieldType) VariantIndex(v string) int {
	for i, variant := range f.Variants {
		if variant == v {
			return i
		}
	}
	return -1
}

// MiniSchema maps field name to type.
type MiniSchema map[string]FieldType

// Validate enforces the non-empty schema invariant.
func (s MiniSchema) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("schema: must define at least one field")
	}
	return nil
}

// UIDLength is the fixed length of an opaque schema UID.
const UIDLength = 16

// SchemaRecord is the persisted unit in the registry's append log.
type SchemaRecord struct {
	UID       string
	EventType string
	Schema    MiniSchema
}
