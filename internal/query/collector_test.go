package query

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/index/enumbitmap"
	"github.com/sneldb/sneldb/internal/index/sortkey"
	"github.com/sneldb/sneldb/internal/index/xorfilter"
	"github.com/sneldb/sneldb/internal/index/zonesurf"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/catalog"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/zonemeta"
)

func buildFixtureHandle(t *testing.T) *handle.Handle {
	t.Helper()
	dir := t.TempDir()
	uid := "uidorders0000000"

	zones := []zonemeta.ZoneMeta{
		{ZoneID: 0, StartRow: 0, EndRow: 2, TimestampMin: 100, TimestampMax: 200},
		{ZoneID: 1, StartRow: 2, EndRow: 3, TimestampMin: 300, TimestampMax: 300},
	}
	require.NoError(t, zonemeta.Write(paths.ZoneMeta(dir, uid), zones))

	cat := catalog.New()
	cat.Mark("country", catalog.IndexKindEnumBitmap)
	cat.Mark("amount", catalog.IndexKindZoneSuRF)
	cat.Mark("event_type", catalog.IndexKindZoneXor)
	require.NoError(t, catalog.Write(paths.Catalog(dir, uid), cat))

	enumBuilder := enumbitmap.NewBuilder(2) // 0=US, 1=DE
	enumBuilder.Mark(0, 0, 0)
	enumBuilder.Mark(1, 0, 1)
	require.NoError(t, enumbitmap.Write(paths.EnumBitmap(dir, uid, "country"), enumBuilder.Build()))

	surf := zonesurf.NewIndex(map[uint32][]uint64{
		0: {sortkey.EncodeI64(10), sortkey.EncodeI64(20)},
		1: {sortkey.EncodeI64(30)},
	})
	require.NoError(t, zonesurf.Write(paths.ZoneSuRF(dir, uid, "amount"), surf))

	zi, err := xorfilter.BuildZoneIndex(map[uint32][]uint64{
		0: {xorfilter.HashValue("order")},
		1: {xorfilter.HashValue("order")},
	})
	require.NoError(t, err)
	require.NoError(t, xorfilter.WriteZoneIndex(paths.XorFilter(dir, uid, "event_type"), zi))

	h, err := handle.Open(dir, uid, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func fixtureSchema() schema.MiniSchema {
	enumType, _ := schema.Enum([]string{"US", "DE"})
	return schema.MiniSchema{
		"country": enumType,
		"amount":  schema.I64(),
	}
}

func TestCollectorEnumBitmapNarrowsToOneZone(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &Filter{Field: "country", Op: OpEq, Value: event.FromString("US"), HasValue: true}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{0: true}, zones)
	require.Equal(t, StrategyEnumBitmap, fg.Strategy)
}

func TestCollectorAndIntersects(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &FilterAnd{Children: []FilterGroup{
		&Filter{Field: "country", Op: OpEq, Value: event.FromString("US"), HasValue: true},
		&Filter{Field: "amount", Op: OpLt, Value: event.FromInt64(25), HasValue: true},
	}}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{0: true}, zones)
}

func TestCollectorOrUnions(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &FilterOr{Children: []FilterGroup{
		&Filter{Field: "country", Op: OpEq, Value: event.FromString("US"), HasValue: true},
		&Filter{Field: "country", Op: OpEq, Value: event.FromString("DE"), HasValue: true},
	}}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{0: true, 1: true}, zones)
}

func TestCollectorNotComplements(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &FilterNot{Child: &Filter{Field: "country", Op: OpEq, Value: event.FromString("US"), HasValue: true}}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{1: true}, zones)
}

func TestCollectorFallbackFilterMatchesAllZones(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &Filter{Field: "unreferenced", Priority: PriorityFallback, Strategy: StrategyFullScan}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{0: true, 1: true}, zones)
}

func TestCollectorZoneXorNarrowsByEventType(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &Filter{Field: "event_type", Op: OpEq, Value: event.FromString("order"), HasValue: true}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{0: true, 1: true}, zones)
	require.Equal(t, StrategyZoneXor, fg.Strategy)
}

func TestCollectorZoneMetaNarrowsByTimestamp(t *testing.T) {
	h := buildFixtureHandle(t)
	c := NewCollector(h, fixtureSchema())

	fg := &Filter{Field: "timestamp", Op: OpGe, Value: event.FromUint64(250), HasValue: true}
	zones, err := c.Collect(fg)
	require.NoError(t, err)
	require.Equal(t, map[uint32]bool{1: true}, zones)
	require.Equal(t, StrategyZoneMeta, fg.Strategy)
}
