// Package rlte implements SnelDB's rank-ladder tail envelope (spec.md
// §4.6): "per (uid, field, zone) geometric-rank samples of descending
// sortable values. Used for fast LB/UB estimation when no better index
// exists." A bloom/v3 filter over the full zone's values — the same
// per-segment membership pre-check the teacher keeps for PKs in
// segment_replica.go — is built for every ladder and answers "could this
// value even be present" through MayContain; EstimateBounds does not
// consult it.
package rlte

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// Ladder holds the descending-sorted rank samples (ranks 1, 2, 4, 8, ...)
// for one (uid, field, zone), plus a bloom pre-check over every value in
// the zone.
type Ladder struct {
	samples []uint64 // descending
	filter  *bloom.BloomFilter
}

// Build constructs a Ladder from a zone's sortkey-encoded values.
func Build(values []uint64) *Ladder {
	sorted := append([]uint64(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] > sorted[j] })

	var samples []uint64
	for rank := 1; rank <= len(sorted); rank *= 2 {
		samples = append(samples, sorted[rank-1])
	}

	filter := bloom.NewWithEstimates(uint(max(len(sorted), 1)), 0.01)
	buf := make([]byte, 8)
	for _, v := range sorted {
		binary.LittleEndian.PutUint64(buf, v)
		filter.Add(buf)
	}

	return &Ladder{samples: samples, filter: filter}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// MayContain is the bloom pre-check: false means the value is certainly
// absent from the zone.
func (l *Ladder) MayContain(v uint64) bool {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return l.filter.Test(buf)
}

// EstimateBounds returns a coarse [lowerBound, upperBound] estimate for
// where v would rank among the zone's descending values, via binary
// search over the geometric rank samples. Callers use this to decide
// whether a zone is worth a full column scan when no tighter index
// applies.
func (l *Ladder) EstimateBounds(v uint64) (lower, upper int) {
	if len(l.samples) == 0 {
		return 0, 0
	}
	i := sort.Search(len(l.samples), func(i int) bool { return l.samples[i] <= v })
	lower = 1 << uint(max(i-1, 0))
	upper = 1 << uint(i)
	if i >= len(l.samples) {
		upper = 1 << uint(len(l.samples))
	}
	return lower, upper
}

// Write persists l to path. The bloom filter is serialized via its own
// binary codec; samples follow as a flat little-endian u64 array.
func Write(path string, l *Ladder) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "rlte: create")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindZoneRlte, 0).Write(f); err != nil {
		return err
	}

	filterBytes, err := l.filter.MarshalBinary()
	if err != nil {
		return errs.Wrap(err, "rlte: marshal bloom filter")
	}
	head := make([]byte, 8)
	binary.LittleEndian.PutUint32(head[0:4], uint32(len(filterBytes)))
	binary.LittleEndian.PutUint32(head[4:8], uint32(len(l.samples)))
	if _, err := f.Write(head); err != nil {
		return errs.Wrap(err, "rlte: write header fields")
	}
	if _, err := f.Write(filterBytes); err != nil {
		return errs.Wrap(err, "rlte: write bloom filter")
	}
	buf := make([]byte, 8*len(l.samples))
	for i, s := range l.samples {
		binary.LittleEndian.PutUint64(buf[i*8:i*8+8], s)
	}
	if _, err := f.Write(buf); err != nil {
		return errs.Wrap(err, "rlte: write samples")
	}
	return f.Sync()
}

// Read loads a Ladder from path.
func Read(path string) (*Ladder, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "rlte: open")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindZoneRlte); err != nil {
		return nil, err
	}

	head := make([]byte, 8)
	if _, err := io.ReadFull(f, head); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "rlte: truncated header fields")
	}
	filterLen := binary.LittleEndian.Uint32(head[0:4])
	numSamples := binary.LittleEndian.Uint32(head[4:8])

	filterBytes := make([]byte, filterLen)
	if _, err := io.ReadFull(f, filterBytes); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "rlte: truncated bloom filter")
	}
	filter := &bloom.BloomFilter{}
	if err := filter.UnmarshalBinary(filterBytes); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "rlte: unmarshal bloom filter")
	}

	buf := make([]byte, 8*numSamples)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "rlte: truncated samples")
	}
	samples := make([]uint64, numSamples)
	for i := range samples {
		samples[i] = binary.LittleEndian.Uint64(buf[i*8 : i*8+8])
	}
	return &Ladder{samples: samples, filter: filter}, nil
}
