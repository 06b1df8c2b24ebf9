package query

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sneldb/sneldb/internal/event"
)

func sampleEvent() event.Event {
	return event.Event{
		EventType: "order_placed",
		ContextID: "ctx-1",
		Timestamp: 100,
		EventID:   1,
		Payload: map[string]event.Scalar{
			"amount": event.FromInt64(42),
			"status": event.FromString("shipped"),
		},
	}
}

func TestEvaluateCompareEquality(t *testing.T) {
	fg := Build(Compare{Field: "status", Op: OpEq, Value: event.FromString("shipped")})
	assert.True(t, Evaluate(fg, sampleEvent()))

	fg2 := Build(Compare{Field: "status", Op: OpEq, Value: event.FromString("pending")})
	assert.False(t, Evaluate(fg2, sampleEvent()))
}

func TestEvaluateNumericRange(t *testing.T) {
	fg := Build(Compare{Field: "amount", Op: OpGe, Value: event.FromInt64(40)})
	assert.True(t, Evaluate(fg, sampleEvent()))

	fg2 := Build(Compare{Field: "amount", Op: OpGt, Value: event.FromInt64(100)})
	assert.False(t, Evaluate(fg2, sampleEvent()))
}

func TestEvaluateAndOrNot(t *testing.T) {
	and := Build(And{Children: []Expr{
		Compare{Field: "status", Op: OpEq, Value: event.FromString("shipped")},
		Compare{Field: "amount", Op: OpGt, Value: event.FromInt64(10)},
	}})
	assert.True(t, Evaluate(and, sampleEvent()))

	not := Build(Not{Child: Compare{Field: "status", Op: OpEq, Value: event.FromString("pending")}})
	assert.True(t, Evaluate(not, sampleEvent()))

	or := Build(In{Field: "status", Values: []event.Scalar{event.FromString("pending"), event.FromString("shipped")}})
	assert.True(t, Evaluate(or, sampleEvent()))
}

func TestEvaluateMissingFieldFails(t *testing.T) {
	fg := Build(Compare{Field: "missing", Op: OpEq, Value: event.FromString("x")})
	assert.False(t, Evaluate(fg, sampleEvent()))
}

func TestEvaluateFallbackFilterAlwaysPasses(t *testing.T) {
	fg := &Filter{Field: "unreferenced", Priority: PriorityFallback, Strategy: StrategyFullScan}
	assert.True(t, Evaluate(fg, sampleEvent()))
}

func TestEvaluateImplicitFields(t *testing.T) {
	fg := Build(Compare{Field: "event_type", Op: OpEq, Value: event.FromString("order_placed")})
	assert.True(t, Evaluate(fg, sampleEvent()))

	fg2 := Build(Compare{Field: "timestamp", Op: OpGe, Value: event.FromUint64(50)})
	assert.True(t, Evaluate(fg2, sampleEvent()))
}
