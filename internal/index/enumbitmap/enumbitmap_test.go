package enumbitmap

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderHasAnyAndRows(t *testing.T) {
	b := NewBuilder(3)
	b.Mark(0, 2, 1)
	b.Mark(0, 5, 1)
	b.Mark(1, 0, 2)

	idx := b.Build()

	assert.True(t, idx.HasAny(0, 1))
	assert.False(t, idx.HasAny(0, 0))
	assert.True(t, idx.HasAny(1, 2))
	assert.False(t, idx.HasAny(2, 0))

	rows := idx.RowsWithVariant(0, 1)
	assert.True(t, rows.Test(2))
	assert.True(t, rows.Test(5))
	assert.False(t, rows.Test(3))
}

func TestWriteReadRoundTrip(t *testing.T) {
	b := NewBuilder(2)
	b.Mark(0, 0, 0)
	b.Mark(0, 1, 1)
	b.Mark(7, 100, 0)
	idx := b.Build()

	path := filepath.Join(t.TempDir(), "uid1_status.ebm")
	require.NoError(t, Write(path, idx))

	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, got.HasAny(0, 0))
	assert.True(t, got.HasAny(0, 1))
	assert.True(t, got.HasAny(7, 0))
	assert.False(t, got.HasAny(7, 1))
}
