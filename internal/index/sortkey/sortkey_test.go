package sortkey

import (
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeI64PreservesOrder(t *testing.T) {
	values := []int64{-100, -1, 0, 1, 100, -9000000000, 9000000000}
	sorted := append([]int64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	keys := make([]uint64, len(sorted))
	for i, v := range sorted {
		keys[i] = EncodeI64(v)
	}
	for i := 1; i < len(keys); i++ {
		assert.Less(t, keys[i-1], keys[i])
	}
}

func TestEncodeDecodeI64RoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		v := int64(r.Uint64())
		assert.Equal(t, v, DecodeI64(EncodeI64(v)))
	}
}

func TestEncodeF64PreservesOrder(t *testing.T) {
	values := []float64{-1e9, -1.5, -0.0, 0.0, 1.5, 1e9}
	keys := make([]uint64, len(values))
	for i, v := range values {
		keys[i] = EncodeF64(v)
	}
	for i := 1; i < len(keys); i++ {
		assert.LessOrEqual(t, keys[i-1], keys[i])
	}
}

func TestEncodeDecodeF64RoundTrip(t *testing.T) {
	values := []float64{-1e9, -1.5, 0.0, 1.5, 1e9, 3.14159}
	for _, v := range values {
		assert.Equal(t, v, DecodeF64(EncodeF64(v)))
	}
}
