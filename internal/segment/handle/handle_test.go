package handle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/segment/catalog"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/zonemeta"
)

func writeFixture(t *testing.T, dir, uid string) {
	t.Helper()
	zones := []zonemeta.ZoneMeta{
		{ZoneID: 0, StartRow: 0, EndRow: 10, TimestampMin: 1, TimestampMax: 100},
		{ZoneID: 1, StartRow: 10, EndRow: 20, TimestampMin: 101, TimestampMax: 200},
	}
	require.NoError(t, zonemeta.Write(paths.ZoneMeta(dir, uid), zones))

	cat := catalog.New()
	cat.Mark("country", catalog.IndexKindXor)
	require.NoError(t, catalog.Write(paths.Catalog(dir, uid), cat))
}

func TestOpenLoadsZonesAndCatalog(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "u1")

	h, err := Open(dir, "u1", 7)
	require.NoError(t, err)
	defer h.Close()

	require.Equal(t, "u1", h.UID)
	require.EqualValues(t, 7, h.SegmentID)
	require.Len(t, h.Zones, 2)
	require.Equal(t, []uint32{0, 1}, h.AllZoneIDs())
	require.True(t, h.Catalog.KindsFor("country").Has(catalog.IndexKindXor))
}

func TestOpenFailsWhenZoneMetaMissing(t *testing.T) {
	dir := t.TempDir()
	_, err := Open(dir, "missing-uid", 0)
	require.Error(t, err)
}

func TestOpenFailsWhenCatalogMissingEvenIfZoneMetaPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, zonemeta.Write(paths.ZoneMeta(dir, "u1"), []zonemeta.ZoneMeta{
		{ZoneID: 0, StartRow: 0, EndRow: 1, TimestampMin: 1, TimestampMax: 1},
	}))
	_, err := Open(dir, "u1", 0)
	require.Error(t, err)
}

func TestLazyIndexLoadersCacheAfterFirstCall(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "u1")
	h, err := Open(dir, "u1", 0)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.ZoneXorIndex("country")
	require.Error(t, err, "no xor filter file was written, so the first load must fail")

	_, err = h.EnumBitmap("country")
	require.Error(t, err)

	_, err = h.ZoneSuRF("country")
	require.Error(t, err)

	_, err = h.Calendar("created_at")
	require.Error(t, err)
}

func TestRLTEAndZTIAreNotCached(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "u1")
	h, err := Open(dir, "u1", 0)
	require.NoError(t, err)
	defer h.Close()

	_, err = h.RLTE("created_at", 0)
	require.Error(t, err)
	_, err = h.ZTI("created_at", 0)
	require.Error(t, err)
}

func TestCloseReleasesColumnCache(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "u1")
	h, err := Open(dir, "u1", 0)
	require.NoError(t, err)
	require.NoError(t, h.Close())
}
