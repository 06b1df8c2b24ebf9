package flush

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/catalog"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/zone"
)

func fixtureEvents() []event.Event {
	mk := func(ctx string, ts, id uint64, country string, amount int64) event.Event {
		return event.Event{
			EventType: "order",
			ContextID: ctx,
			Timestamp: ts,
			EventID:   id,
			Payload: map[string]event.Scalar{
				"country": event.FromString(country),
				"amount":  event.FromInt64(amount),
			},
		}
	}
	return []event.Event{
		mk("c1", 100, 1, "US", 10),
		mk("c1", 110, 2, "US", 20),
		mk("c2", 200, 3, "DE", 30),
		mk("c3", 300, 4, "DE", 40),
		mk("c3", 310, 5, "US", 50),
	}
}

func fixtureFields(t *testing.T) schema.MiniSchema {
	t.Helper()
	enumType, err := schema.Enum([]string{"US", "DE"})
	require.NoError(t, err)
	return schema.MiniSchema{
		"country": enumType,
		"amount":  schema.I64(),
	}
}

func TestFlushUIDRoundTrip(t *testing.T) {
	dir := t.TempDir()
	uid := "uidorders0000000"
	events := fixtureEvents()
	fields := fixtureFields(t)

	cfg := config.Default().Flush
	zoneOpts := zone.PartitionOptions{EventPerZone: 2, FillFactor: 0}

	res, err := FlushUID(dir, uid, "order", 0, events, fields, zoneOpts, cfg)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, uid, res.UID)
	require.Equal(t, len(events), res.RowCount)
	require.Equal(t, 3, res.ZoneCount) // 2,2,1 -> FillFactor 0 keeps the trailing singleton zone

	h, err := handle.Open(dir, uid, 0)
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, 3, len(h.Zones))
	require.Equal(t, catalog.IndexKindEnumBitmap, h.Catalog.KindsFor("country")&catalog.IndexKindEnumBitmap)
	require.NotZero(t, h.Catalog.KindsFor("amount")&catalog.IndexKindZoneSuRF)
	require.NotZero(t, h.Catalog.KindsFor("amount")&catalog.IndexKindRLTE)
	require.NotZero(t, h.Catalog.KindsFor("event_type")&catalog.IndexKindZoneXor)
	require.NotZero(t, h.Catalog.KindsFor("context_id")&catalog.IndexKindZoneXor)

	ex := query.NewExecutor(h, fields)

	fg := &query.Filter{Field: "country", Op: query.OpEq, Value: event.FromString("DE"), HasValue: true}
	out, errc := ex.Execute(context.Background(), fg, nil)

	var got []event.Event
	for ev := range out {
		got = append(got, ev)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 2)
	for _, ev := range got {
		require.Equal(t, "DE", ev.Payload["country"].Str)
	}

	fg2 := &query.Filter{Field: "timestamp", Op: query.OpGe, Value: event.FromUint64(300), HasValue: true}
	zones, err := query.NewCollector(h, fields).Collect(fg2)
	require.NoError(t, err)
	require.Equal(t, query.StrategyZoneMeta, fg2.Strategy)
	require.NotContains(t, zones, uint32(0))
}

func TestFlushUIDEmptyBatchReturnsNil(t *testing.T) {
	dir := t.TempDir()
	res, err := FlushUID(dir, "uidempty00000000", "order", 0, nil, schema.MiniSchema{}, zone.PartitionOptions{EventPerZone: 10}, config.Default().Flush)
	require.NoError(t, err)
	require.Nil(t, res)
}
