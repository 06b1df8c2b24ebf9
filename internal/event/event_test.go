package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScalarStringRendersEachVariant(t *testing.T) {
	require.Equal(t, "", Null().String())
	require.Equal(t, "true", FromBool(true).String())
	require.Equal(t, "false", FromBool(false).String())
	require.Equal(t, "-7", FromInt64(-7).String())
	require.Equal(t, "42", FromUint64(42).String())
	require.Equal(t, "US", FromString("US").String())
	require.Equal(t, "abc", FromBytes([]byte("abc")).String())
	require.Equal(t, "100", FromTimestamp(100).String())
}

func TestScalarIsNull(t *testing.T) {
	require.True(t, Null().IsNull())
	require.False(t, FromString("x").IsNull())
}

func TestEventValidateRejectsEmptyContextOrType(t *testing.T) {
	require.Error(t, Event{EventType: "order"}.Validate())
	require.Error(t, Event{ContextID: "c1"}.Validate())
	require.NoError(t, Event{EventType: "order", ContextID: "c1"}.Validate())
}

func TestLessOrdersByTimestampThenEventID(t *testing.T) {
	a := Event{Timestamp: 100, EventID: 5}
	b := Event{Timestamp: 100, EventID: 6}
	c := Event{Timestamp: 101, EventID: 1}
	require.True(t, Less(a, b))
	require.False(t, Less(b, a))
	require.True(t, Less(b, c))
}

func TestLessByContextOrdersByContextFirst(t *testing.T) {
	a := Event{ContextID: "c1", Timestamp: 200, EventID: 1}
	b := Event{ContextID: "c2", Timestamp: 100, EventID: 1}
	require.True(t, LessByContext(a, b), "c1 sorts before c2 regardless of timestamp")

	c := Event{ContextID: "c1", Timestamp: 100, EventID: 1}
	d := Event{ContextID: "c1", Timestamp: 200, EventID: 1}
	require.True(t, LessByContext(c, d))
}
