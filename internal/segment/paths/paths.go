// Package paths centralizes the on-disk filename conventions for one
// segment directory's per-(uid,field[,zone]) files (spec.md §3). Keeping
// these in one place means the flush writer and the query reader can
// never drift apart on naming.
package paths

import (
	"fmt"
	"path/filepath"
)

// Column returns the path to a field's column file.
func Column(dir, uid, field string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.col", uid, field))
}

// Zfc returns the path to a field's per-zone block catalog.
func Zfc(dir, uid, field string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.zfc", uid, field))
}

// XorFilter returns the path to a field's XOR membership filter.
func XorFilter(dir, uid, field string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.xf", uid, field))
}

// EnumBitmap returns the path to a field's enum bitmap index.
func EnumBitmap(dir, uid, field string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.ebm", uid, field))
}

// ZoneSuRF returns the path to a field's per-zone sorted-fence range
// index.
func ZoneSuRF(dir, uid, field string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.srf", uid, field))
}

// TemporalCalendar returns the path to a temporal field's whole-segment
// calendar.
func TemporalCalendar(dir, uid, field string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.tfi", uid, field))
}

// TemporalZTI returns the path to one zone's ZoneTemporalIndex.
func TemporalZTI(dir, uid, field string, zoneID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%d.tfi", uid, field, zoneID))
}

// RLTE returns the path to one (uid,field,zone) rank-ladder envelope.
func RLTE(dir, uid, field string, zoneID uint32) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s_%d.rlte", uid, field, zoneID))
}

// ZoneMeta returns the path to a uid's zone summary list.
func ZoneMeta(dir, uid string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.zones", uid))
}

// Catalog returns the path to a uid's index catalog.
func Catalog(dir, uid string) string {
	return filepath.Join(dir, fmt.Sprintf("%s.icx", uid))
}

// SegmentDir returns the directory a (level, segmentID) segment's per-uid
// files live under, rooted at a shard's base directory.
func SegmentDir(baseDir string, level, segmentID uint32) string {
	return filepath.Join(baseDir, "segments", fmt.Sprintf("L%d_%06d", level, segmentID))
}
