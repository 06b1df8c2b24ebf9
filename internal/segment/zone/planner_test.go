package zone

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
)

func makeEvents(n int) []event.Event {
	out := make([]event.Event, n)
	for i := range out {
		out[i] = event.Event{ContextID: "c1", Timestamp: uint64(i), EventID: uint64(i)}
	}
	return out
}

func TestPartitionSplitsIntoDenseZones(t *testing.T) {
	events := makeEvents(10)
	plans := Partition(1, "uid1", "order", events, PartitionOptions{EventPerZone: 4})
	require.Len(t, plans, 3)
	require.Equal(t, 4, len(plans[0].Events))
	require.Equal(t, 4, len(plans[1].Events))
	require.Equal(t, 2, len(plans[2].Events))
	require.Equal(t, uint32(0), plans[0].ID)
	require.Equal(t, uint32(2), plans[2].ID)
	require.Equal(t, 0, plans[0].StartIndex)
	require.Equal(t, 10, plans[2].EndIndex)
}

func TestPartitionMergesUnderfilledTrailingZoneBackward(t *testing.T) {
	events := makeEvents(9)
	// EventPerZone=4, FillFactor=0.5 => minFill=2; trailing zone has 1
	// event, below minFill, so it merges into the zone before it.
	plans := Partition(1, "uid1", "order", events, PartitionOptions{EventPerZone: 4, FillFactor: 0.5})
	require.Len(t, plans, 2)
	require.Equal(t, 4, len(plans[0].Events))
	require.Equal(t, 5, len(plans[1].Events))
	require.Equal(t, 9, plans[1].EndIndex)
}

func TestPartitionKeepsTrailingZoneWhenAboveFillFactor(t *testing.T) {
	events := makeEvents(7)
	// EventPerZone=4, FillFactor=0.5 => minFill=2; trailing zone has 3
	// events, at or above minFill, so it stands alone.
	plans := Partition(1, "uid1", "order", events, PartitionOptions{EventPerZone: 4, FillFactor: 0.5})
	require.Len(t, plans, 2)
	require.Equal(t, 4, len(plans[0].Events))
	require.Equal(t, 3, len(plans[1].Events))
}

func TestPartitionEmptyEventsReturnsNil(t *testing.T) {
	require.Nil(t, Partition(1, "uid1", "order", nil, PartitionOptions{EventPerZone: 4}))
}

func TestPartitionZeroEventPerZoneFallsBackToOneZone(t *testing.T) {
	events := makeEvents(5)
	plans := Partition(1, "uid1", "order", events, PartitionOptions{})
	require.Len(t, plans, 1)
	require.Equal(t, 5, len(plans[0].Events))
}
