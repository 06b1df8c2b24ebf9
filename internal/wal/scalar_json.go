package wal

import (
	"encoding/base64"
	"encoding/json"

	"github.com/sneldb/sneldb/internal/event"
)

// rawScalarJSON is the JSON bridge for event.Scalar values, per spec.md
// §9: "a JSON bridge exists only at ingress/egress." Tagged as
// {"k": kind, "v": value} so every scalar kind round-trips exactly,
// including distinguishing int64 from uint64 and timestamp from plain
// int64.
type rawScalarJSON struct {
	Kind  string          `json:"k"`
	Value json.RawMessage `json:"v,omitempty"`
}

func fromScalar(s event.Scalar) rawScalarJSON {
	switch s.Kind {
	case event.ScalarNull:
		return rawScalarJSON{Kind: "null"}
	case event.ScalarBool:
		v, _ := json.Marshal(s.Bool)
		return rawScalarJSON{Kind: "bool", Value: v}
	case event.ScalarInt64:
		v, _ := json.Marshal(s.I64)
		return rawScalarJSON{Kind: "i64", Value: v}
	case event.ScalarUint64:
		v, _ := json.Marshal(s.U64)
		return rawScalarJSON{Kind: "u64", Value: v}
	case event.ScalarFloat64:
		v, _ := json.Marshal(s.F64)
		return rawScalarJSON{Kind: "f64", Value: v}
	case event.ScalarString:
		v, _ := json.Marshal(s.Str)
		return rawScalarJSON{Kind: "str", Value: v}
	case event.ScalarBytes:
		v, _ := json.Marshal(base64.StdEncoding.EncodeToString(s.Bytes))
		return rawScalarJSON{Kind: "bytes", Value: v}
	case event.ScalarTimestamp:
		v, _ := json.Marshal(s.I64)
		return rawScalarJSON{Kind: "ts", Value: v}
	default:
		return rawScalarJSON{Kind: "null"}
	}
}

func (r rawScalarJSON) toScalar() event.Scalar {
	switch r.Kind {
	case "bool":
		var v bool
		_ = json.Unmarshal(r.Value, &v)
		return event.FromBool(v)
	case "i64":
		var v int64
		_ = json.Unmarshal(r.Value, &v)
		return event.FromInt64(v)
	case "u64":
		var v uint64
		_ = json.Unmarshal(r.Value, &v)
		return event.FromUint64(v)
	case "f64":
		var v float64
		_ = json.Unmarshal(r.Value, &v)
		return event.FromFloat64(v)
	case "str":
		var v string
		_ = json.Unmarshal(r.Value, &v)
		return event.FromString(v)
	case "bytes":
		var s string
		_ = json.Unmarshal(r.Value, &s)
		b, _ := base64.StdEncoding.DecodeString(s)
		return event.FromBytes(b)
	case "ts":
		var v int64
		_ = json.Unmarshal(r.Value, &v)
		return event.FromTimestamp(v)
	default:
		return event.Null()
	}
}
