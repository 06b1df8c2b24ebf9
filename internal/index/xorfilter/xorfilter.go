// Package xorfilter implements SnelDB's per-(uid,field) XOR membership
// filter (spec.md §4.6): "unique stringified values hashed with a stable
// 64-bit hash. Result: contains(value) -> {may_be_present,
// definitely_absent}." No false negatives, bounded false positive rate.
//
// This is the one hand-written domain algorithm in the module: no pack
// example or ecosystem library ships a binary fuse / xor filter
// construction, and the probabilistic data structure is exactly what
// spec.md's testable properties pin down bit-for-bit. The construction
// below is the classic three-wise peeling XOR filter (Graf & Lemire),
// which satisfies the same contract spec.md names "BinaryFuse8" under.
package xorfilter

import (
	"math"

	"github.com/spaolacci/murmur3"

	"github.com/sneldb/sneldb/internal/errs"
)

const maxConstructionRounds = 100

// Filter is a fixed-false-positive, 8-bit-fingerprint XOR filter over a
// fixed key set.
type Filter struct {
	seed         uint64
	blockLength  uint32
	fingerprints []uint8
}

// HashValue derives the stable 64-bit key SnelDB hashes every stringified
// field value through before filter construction or lookup.
func HashValue(s string) uint64 {
	return murmur3.Sum64([]byte(s))
}

// Build constructs a filter over keys. Duplicate keys (after hashing)
// make construction fail after maxConstructionRounds retries.
func Build(keys []uint64) (*Filter, error) {
	size := len(keys)
	if size == 0 {
		return &Filter{blockLength: 1, fingerprints: make([]uint8, 3)}, nil
	}

	capacity := uint32(32 + math.Ceil(1.23*float64(size)))
	capacity = (capacity/3 + 1) * 3
	blockLength := capacity / 3

	f := &Filter{blockLength: blockLength, fingerprints: make([]uint8, capacity)}

	type xorset struct {
		mask  uint64
		count uint32
	}
	type keyIndex struct {
		hash  uint64
		index uint32
	}

	sets := make([]xorset, capacity)
	rngState := uint64(1)
	f.seed = splitmix64(&rngState)

	for round := 0; ; round++ {
		if round >= maxConstructionRounds {
			return nil, errs.Wrap(errs.ErrValidation, "xorfilter: construction did not converge (duplicate keys?)")
		}

		for i := range sets {
			sets[i] = xorset{}
		}
		for _, key := range keys {
			h := f.mix(key)
			h0, h1, h2 := f.indices(h)
			sets[h0].mask ^= h
			sets[h0].count++
			sets[h1].mask ^= h
			sets[h1].count++
			sets[h2].mask ^= h
			sets[h2].count++
		}

		queue := make([]uint32, 0, capacity)
		for i := range sets {
			if sets[i].count == 1 {
				queue = append(queue, uint32(i))
			}
		}

		store := make([]keyIndex, 0, size)
		for len(queue) > 0 {
			idx := queue[len(queue)-1]
			queue = queue[:len(queue)-1]
			if sets[idx].count != 1 {
				continue
			}
			hash := sets[idx].mask
			sets[idx].count = 0
			store = append(store, keyIndex{hash: hash, index: idx})

			h0, h1, h2 := f.indices(hash)
			for _, other := range otherTwo(idx, h0, h1, h2) {
				sets[other].mask ^= hash
				sets[other].count--
				if sets[other].count == 1 {
					queue = append(queue, other)
				}
			}
		}

		if len(store) == size {
			for i := len(store) - 1; i >= 0; i-- {
				ki := store[i]
				h0, h1, h2 := f.indices(ki.hash)
				others := otherTwo(ki.index, h0, h1, h2)
				xv := fingerprint(ki.hash) ^ uint64(f.fingerprints[others[0]]) ^ uint64(f.fingerprints[others[1]])
				f.fingerprints[ki.index] = uint8(xv)
			}
			return f, nil
		}

		f.seed = splitmix64(&rngState)
	}
}

// Contains reports may_be_present (true) or definitely_absent (false).
func (f *Filter) Contains(key uint64) bool {
	if len(f.fingerprints) == 0 {
		return false
	}
	h := f.mix(key)
	h0, h1, h2 := f.indices(h)
	want := uint8(fingerprint(h))
	return f.fingerprints[h0]^f.fingerprints[h1]^f.fingerprints[h2] == want
}

func (f *Filter) mix(key uint64) uint64 {
	return murmurFinalize(key + f.seed)
}

func (f *Filter) indices(h uint64) (uint32, uint32, uint32) {
	h0 := reduce(uint32(h), f.blockLength)
	h1 := reduce(uint32(rotl64(h, 21)), f.blockLength) + f.blockLength
	h2 := reduce(uint32(rotl64(h, 42)), f.blockLength) + 2*f.blockLength
	return h0, h1, h2
}

func otherTwo(idx, h0, h1, h2 uint32) [2]uint32 {
	switch idx {
	case h0:
		return [2]uint32{h1, h2}
	case h1:
		return [2]uint32{h0, h2}
	default:
		return [2]uint32{h0, h1}
	}
}

func fingerprint(h uint64) uint64 {
	return h ^ (h >> 32)
}

func reduce(hash uint32, n uint32) uint32 {
	return uint32((uint64(hash) * uint64(n)) >> 32)
}

func rotl64(v uint64, c uint) uint64 {
	return (v << (c & 63)) | (v >> ((64 - c) & 63))
}

func murmurFinalize(h uint64) uint64 {
	h ^= h >> 33
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	h *= 0xc4ceb9fe1a85ec53
	h ^= h >> 33
	return h
}

func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
