package xorfilter

import (
	"encoding/binary"
	"io"
	"os"
	"sort"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// ZoneIndex replicates a Filter per zone (spec.md §4.6: "same filter
// replicated per zone, allowing zone-level membership pruning"), stored
// as one file per (uid,field) rather than one file per zone.
type ZoneIndex struct {
	zones map[uint32]*Filter
}

// BuildZoneIndex constructs one Filter per zone from zoneKeys.
func BuildZoneIndex(zoneKeys map[uint32][]uint64) (*ZoneIndex, error) {
	zones := make(map[uint32]*Filter, len(zoneKeys))
	for zoneID, keys := range zoneKeys {
		f, err := Build(keys)
		if err != nil {
			return nil, err
		}
		zones[zoneID] = f
	}
	return &ZoneIndex{zones: zones}, nil
}

// MayContain reports whether zoneID's filter may contain key. A missing
// zone (no filter built for it) is treated as definitely-absent.
func (zi *ZoneIndex) MayContain(zoneID uint32, key uint64) bool {
	f, ok := zi.zones[zoneID]
	if !ok {
		return false
	}
	return f.Contains(key)
}

// WriteZoneIndex persists zi to path.
func WriteZoneIndex(path string, zi *ZoneIndex) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(err, "xorfilter: create zone index")
	}
	defer f.Close()

	if err := framing.NewHeader(framing.KindXorFilter, 1).Write(f); err != nil {
		return err
	}

	zoneIDs := make([]uint32, 0, len(zi.zones))
	for id := range zi.zones {
		zoneIDs = append(zoneIDs, id)
	}
	sort.Slice(zoneIDs, func(i, j int) bool { return zoneIDs[i] < zoneIDs[j] })

	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(zoneIDs)))
	if _, err := f.Write(countBuf[:]); err != nil {
		return errs.Wrap(err, "xorfilter: write zone count")
	}

	for _, id := range zoneIDs {
		zf := zi.zones[id]
		head := make([]byte, 4+8+4+4)
		binary.LittleEndian.PutUint32(head[0:4], id)
		binary.LittleEndian.PutUint64(head[4:12], zf.seed)
		binary.LittleEndian.PutUint32(head[12:16], zf.blockLength)
		binary.LittleEndian.PutUint32(head[16:20], uint32(len(zf.fingerprints)))
		if _, err := f.Write(head); err != nil {
			return errs.Wrap(err, "xorfilter: write zone header")
		}
		if _, err := f.Write(zf.fingerprints); err != nil {
			return errs.Wrap(err, "xorfilter: write zone fingerprints")
		}
	}
	return f.Sync()
}

// ReadZoneIndex loads a ZoneIndex from path.
func ReadZoneIndex(path string) (*ZoneIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "xorfilter: open zone index")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindXorFilter); err != nil {
		return nil, err
	}

	var countBuf [4]byte
	if _, err := io.ReadFull(f, countBuf[:]); err != nil {
		return nil, errs.Wrap(errs.ErrCorruption, "xorfilter: truncated zone count")
	}
	count := binary.LittleEndian.Uint32(countBuf[:])

	zones := make(map[uint32]*Filter, count)
	for i := uint32(0); i < count; i++ {
		head := make([]byte, 4+8+4+4)
		if _, err := io.ReadFull(f, head); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "xorfilter: truncated zone header")
		}
		zoneID := binary.LittleEndian.Uint32(head[0:4])
		seed := binary.LittleEndian.Uint64(head[4:12])
		blockLength := binary.LittleEndian.Uint32(head[12:16])
		fpLen := binary.LittleEndian.Uint32(head[16:20])
		fingerprints := make([]byte, fpLen)
		if _, err := io.ReadFull(f, fingerprints); err != nil {
			return nil, errs.Wrap(errs.ErrCorruption, "xorfilter: truncated zone fingerprints")
		}
		zones[zoneID] = &Filter{seed: seed, blockLength: blockLength, fingerprints: fingerprints}
	}
	return &ZoneIndex{zones: zones}, nil
}
