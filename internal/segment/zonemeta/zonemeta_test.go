package zonemeta

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "uid1.zones")

	zones := []ZoneMeta{
		{ZoneID: 2, StartRow: 200, EndRow: 300, TimestampMin: 20, TimestampMax: 30},
		{ZoneID: 0, StartRow: 0, EndRow: 100, TimestampMin: 0, TimestampMax: 10},
		{ZoneID: 1, StartRow: 100, EndRow: 200, TimestampMin: 10, TimestampMax: 20},
	}

	require.NoError(t, Write(path, zones))

	got, err := Read(path)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint32(0), got[0].ZoneID)
	assert.Equal(t, uint32(1), got[1].ZoneID)
	assert.Equal(t, uint32(2), got[2].ZoneID)
	assert.Equal(t, uint32(100), got[1].RowCount())
}

func TestFind(t *testing.T) {
	zones := []ZoneMeta{
		{ZoneID: 0, StartRow: 0, EndRow: 10},
		{ZoneID: 5, StartRow: 10, EndRow: 20},
		{ZoneID: 9, StartRow: 20, EndRow: 30},
	}

	z, ok := Find(zones, 5)
	require.True(t, ok)
	assert.Equal(t, uint32(10), z.StartRow)

	_, ok = Find(zones, 3)
	assert.False(t, ok)
}

func TestOverlapsRange(t *testing.T) {
	z := ZoneMeta{TimestampMin: 10, TimestampMax: 20}
	assert.True(t, z.OverlapsRange(15, 25))
	assert.True(t, z.OverlapsRange(0, 10))
	assert.False(t, z.OverlapsRange(21, 30))
	assert.False(t, z.OverlapsRange(0, 9))
}

func TestReadRejectsWrongMagic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.zones")
	require.NoError(t, Write(path, nil))

	// Overwrite the file with something else entirely and ensure the
	// reader refuses to treat it as zone metadata.
	require.NoError(t, os.WriteFile(path, []byte("not a zones file at all"), 0o644))
	_, err := Read(path)
	assert.Error(t, err)
}
