package zonesurf

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMayMatchEquality(t *testing.T) {
	idx := NewIndex(map[uint32][]uint64{
		0: {10, 20, 30},
	})
	assert.True(t, idx.MayMatch(0, OpEq, 20))
	assert.False(t, idx.MayMatch(0, OpEq, 25))
	assert.False(t, idx.MayMatch(1, OpEq, 20))
}

func TestMayMatchComparisons(t *testing.T) {
	idx := NewIndex(map[uint32][]uint64{
		0: {10, 20, 30},
	})
	assert.True(t, idx.MayMatch(0, OpLt, 15))
	assert.False(t, idx.MayMatch(0, OpLt, 10))
	assert.True(t, idx.MayMatch(0, OpLe, 10))
	assert.True(t, idx.MayMatch(0, OpGt, 25))
	assert.False(t, idx.MayMatch(0, OpGt, 30))
	assert.True(t, idx.MayMatch(0, OpGe, 30))
}

func TestMayMatchRange(t *testing.T) {
	idx := NewIndex(map[uint32][]uint64{
		0: {10, 20, 30},
	})
	assert.True(t, idx.MayMatchRange(0, 15, 25))
	assert.False(t, idx.MayMatchRange(0, 31, 40))
}

func TestDeduplicatesAndSorts(t *testing.T) {
	idx := NewIndex(map[uint32][]uint64{
		0: {5, 5, 3, 1, 3},
	})
	z, ok := idx.zone(0)
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 3, 5}, z.Keys)
}

func TestWriteReadRoundTrip(t *testing.T) {
	idx := NewIndex(map[uint32][]uint64{
		0: {1, 2, 3},
		1: {100, 200},
	})
	path := filepath.Join(t.TempDir(), "uid1_amount.srf")
	require.NoError(t, Write(path, idx))

	got, err := Read(path)
	require.NoError(t, err)
	assert.True(t, got.MayMatch(0, OpEq, 2))
	assert.True(t, got.MayMatch(1, OpEq, 200))
	assert.False(t, got.MayMatch(1, OpEq, 2))
}
