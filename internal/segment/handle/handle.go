// Package handle bundles one (segment, uid)'s on-disk structures —
// zone metadata, index catalog, column cache, and lazily-loaded index
// files — behind a single lookup surface the query planner consults
// (spec.md §4.9-§4.10).
package handle

import (
	"sync"

	"github.com/sneldb/sneldb/internal/index/enumbitmap"
	"github.com/sneldb/sneldb/internal/index/rlte"
	"github.com/sneldb/sneldb/internal/index/temporal"
	"github.com/sneldb/sneldb/internal/index/xorfilter"
	"github.com/sneldb/sneldb/internal/index/zonesurf"
	"github.com/sneldb/sneldb/internal/segment/catalog"
	"github.com/sneldb/sneldb/internal/segment/column"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/zonemeta"
)

// Handle is the read-side view of one uid's files within a segment
// directory.
type Handle struct {
	Dir       string
	UID       string
	SegmentID uint32
	Zones     []zonemeta.ZoneMeta
	Catalog   *catalog.Catalog
	Columns   *column.Cache

	mu          sync.Mutex
	zoneXors    map[string]*xorfilter.ZoneIndex
	enumBitmaps map[string]*enumbitmap.Index
	zoneSuRFs   map[string]*zonesurf.Index
	calendars   map[string]*temporal.Calendar
}

// Open loads a uid's zone metadata and index catalog; index files are
// opened lazily on first use.
func Open(dir, uid string, segmentID uint32) (*Handle, error) {
	zones, err := zonemeta.Read(paths.ZoneMeta(dir, uid))
	if err != nil {
		return nil, err
	}
	cat, err := catalog.Read(paths.Catalog(dir, uid))
	if err != nil {
		return nil, err
	}
	return &Handle{
		Dir: dir, UID: uid, SegmentID: segmentID,
		Zones: zones, Catalog: cat, Columns: column.NewCache(),
		zoneXors:    make(map[string]*xorfilter.ZoneIndex),
		enumBitmaps: make(map[string]*enumbitmap.Index),
		zoneSuRFs:   make(map[string]*zonesurf.Index),
		calendars:   make(map[string]*temporal.Calendar),
	}, nil
}

// AllZoneIDs returns every zone id present for this uid.
func (h *Handle) AllZoneIDs() []uint32 {
	ids := make([]uint32, len(h.Zones))
	for i, z := range h.Zones {
		ids[i] = z.ZoneID
	}
	return ids
}

// ZoneXorIndex lazily loads and caches field's per-zone XOR filter
// replicas.
func (h *Handle) ZoneXorIndex(field string) (*xorfilter.ZoneIndex, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if zi, ok := h.zoneXors[field]; ok {
		return zi, nil
	}
	zi, err := xorfilter.ReadZoneIndex(paths.XorFilter(h.Dir, h.UID, field))
	if err != nil {
		return nil, err
	}
	h.zoneXors[field] = zi
	return zi, nil
}

// EnumBitmap lazily loads and caches field's enum bitmap index.
func (h *Handle) EnumBitmap(field string) (*enumbitmap.Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx, ok := h.enumBitmaps[field]; ok {
		return idx, nil
	}
	idx, err := enumbitmap.Read(paths.EnumBitmap(h.Dir, h.UID, field))
	if err != nil {
		return nil, err
	}
	h.enumBitmaps[field] = idx
	return idx, nil
}

// ZoneSuRF lazily loads and caches field's sorted-fence range index.
func (h *Handle) ZoneSuRF(field string) (*zonesurf.Index, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if idx, ok := h.zoneSuRFs[field]; ok {
		return idx, nil
	}
	idx, err := zonesurf.Read(paths.ZoneSuRF(h.Dir, h.UID, field))
	if err != nil {
		return nil, err
	}
	h.zoneSuRFs[field] = idx
	return idx, nil
}

// Calendar lazily loads and caches a temporal field's whole-segment
// calendar.
func (h *Handle) Calendar(field string) (*temporal.Calendar, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.calendars[field]; ok {
		return c, nil
	}
	c, err := temporal.ReadCalendar(paths.TemporalCalendar(h.Dir, h.UID, field))
	if err != nil {
		return nil, err
	}
	h.calendars[field] = c
	return c, nil
}

// RLTE loads one zone's rank-ladder envelope for field. Not cached: RLTE
// is consulted rarely (only when no better index applies), so the
// allocation is not worth a persistent cache entry.
func (h *Handle) RLTE(field string, zoneID uint32) (*rlte.Ladder, error) {
	return rlte.Read(paths.RLTE(h.Dir, h.UID, field, zoneID))
}

// ZTI loads one zone's ZoneTemporalIndex for a temporal field. Not
// cached, for the same reason as RLTE: the calendar already prunes most
// zones before a ZTI is ever consulted.
func (h *Handle) ZTI(field string, zoneID uint32) (*temporal.ZTI, error) {
	return temporal.ReadZTI(paths.TemporalZTI(h.Dir, h.UID, field, zoneID))
}

// Close releases the column handle cache.
func (h *Handle) Close() error {
	return h.Columns.Close()
}
