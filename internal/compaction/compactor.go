// Package compaction implements SnelDB's k-way merge compactor (spec.md
// §4.11): once a level accumulates enough live segments, every uid present
// across them is re-merged — sorted by (context_id, timestamp, event_id) —
// into one new segment one level up, the segment index is swapped
// atomically, and the superseded segment directories are removed.
// Grounded on internal/datanode/compactor.go's compactionTask.compact/
// merge/mergeDeltalogs, which fan out per-field binlog merges the same way
// this fans out per-uid merges, via errgroup.
package compaction

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/flush"
	"github.com/sneldb/sneldb/internal/log"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/segindex"
	"github.com/sneldb/sneldb/internal/segment/zone"
)

// Compactor owns one shard's compaction loop over its segment index.
type Compactor struct {
	baseDir  string
	idx      *segindex.Index
	registry *schema.Registry
	zoneOpts zone.PartitionOptions
	flushCfg config.FlushCfg
	policy   Policy

	// flushMu is the same mutex the shard orchestrator holds while
	// flushing a memtable, so a segment never gets written into and
	// compacted out from under a query in the same instant (spec.md
	// §4.11's flush/compaction exclusion, the mirror image of the
	// teacher's compactor injecting against an in-flight flush).
	flushMu *sync.Mutex

	// ids is shared with the owning shard's flush path, so a segment id
	// this compactor allocates can never collide with one a concurrent
	// flush allocates.
	ids *segindex.IDAllocator
}

// New builds a Compactor over idx, allocating new segment ids from ids
// (shared with the owning shard's flush path).
func New(baseDir string, idx *segindex.Index, registry *schema.Registry, zoneOpts zone.PartitionOptions, flushCfg config.FlushCfg, policy Policy, flushMu *sync.Mutex, ids *segindex.IDAllocator) *Compactor {
	return &Compactor{
		baseDir:  baseDir,
		idx:      idx,
		registry: registry,
		zoneOpts: zoneOpts,
		flushCfg: flushCfg,
		policy:   policy,
		flushMu:  flushMu,
		ids:      ids,
	}
}

func liveEntries(entries []segindex.SegmentEntry) []segindex.SegmentEntry {
	out := make([]segindex.SegmentEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Tombstoned {
			out = append(out, e)
		}
	}
	return out
}

// RunLevel merges level's live segments into level+1 if the Policy says
// there are now enough of them. It reports whether a merge ran.
func (c *Compactor) RunLevel(ctx context.Context, level uint32) (bool, error) {
	live := liveEntries(c.idx.EntriesAt(level))
	if !c.policy.ShouldCompact(len(live)) {
		return false, nil
	}

	c.flushMu.Lock()
	defer c.flushMu.Unlock()

	uids := c.uidsAcross(live)
	if len(uids) == 0 {
		return false, nil
	}

	newSegID := c.ids.Next()
	newLevel := level + 1
	newDir := paths.SegmentDir(c.baseDir, newLevel, newSegID)
	if err := os.MkdirAll(newDir, 0o755); err != nil {
		return false, errs.Wrap(err, "compaction: mkdir new segment")
	}

	g, gctx := errgroup.WithContext(ctx)
	results := make([]uidMergeResult, len(uids))
	for i, uid := range uids {
		i, uid := i, uid
		g.Go(func() error {
			res, err := c.mergeUID(gctx, live, uid, newDir, newSegID)
			if err != nil {
				return errs.Wrapf(err, "compaction: merge uid %q", uid)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return false, err
	}

	entry, ok := summarizeEntry(newLevel, newSegID, results)
	if !ok {
		// Every uid's input turned out empty (fully tombstoned rows):
		// nothing to keep, so drop the new directory and the old
		// entries both.
		_ = os.RemoveAll(newDir)
	} else {
		c.idx.Put(entry)
	}
	for _, e := range live {
		c.idx.Remove(e.Level, e.Offset)
	}
	if err := c.idx.Save(); err != nil {
		return false, err
	}

	for _, e := range live {
		dir := paths.SegmentDir(c.baseDir, e.Level, e.SegmentID)
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("compaction: failed to remove superseded segment dir",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	log.Debug("compacted level",
		zap.Uint32("level", level), zap.Int("inputs", len(live)),
		zap.Uint32("new_segment_id", newSegID), zap.Int("uids", len(uids)))
	return true, nil
}

type uidMergeResult struct {
	uid      string
	rowCount int
	minTS    int64
	maxTS    int64
	ok       bool
}

// uidsAcross lists every uid entries' SegmentEntry.UIDs sets record,
// deduplicated and sorted.
func (c *Compactor) uidsAcross(entries []segindex.SegmentEntry) []string {
	seen := make(map[string]bool)
	for _, e := range entries {
		for _, uid := range e.UIDs {
			seen[uid] = true
		}
	}
	uids := maps.Keys(seen)
	slices.Sort(uids)
	return uids
}

// mergeUID reads uid's rows from every input segment that carries it,
// merges them by event.LessByContext, and flushes the result into newDir
// as part of the segment being built at (newLevel implied by newDir,
// newSegID).
func (c *Compactor) mergeUID(ctx context.Context, entries []segindex.SegmentEntry, uid, newDir string, newSegID uint32) (uidMergeResult, error) {
	rec, ok := c.registry.LookupUID(uid)
	if !ok {
		return uidMergeResult{}, errs.Wrapf(errs.ErrNotFound, "compaction: uid %q not in schema registry", uid)
	}

	var merged []event.Event
	for _, e := range entries {
		if !e.HasUID(uid) {
			continue // this input segment doesn't carry this uid
		}
		dir := paths.SegmentDir(c.baseDir, e.Level, e.SegmentID)
		h, err := handle.Open(dir, uid, e.SegmentID)
		if err != nil {
			return uidMergeResult{}, err
		}
		events, err := query.ScanAllZones(ctx, h, rec.Schema)
		closeErr := h.Close()
		if err != nil {
			return uidMergeResult{}, err
		}
		if closeErr != nil {
			return uidMergeResult{}, closeErr
		}
		merged = append(merged, events...)
	}
	if len(merged) == 0 {
		return uidMergeResult{uid: uid}, nil
	}

	sort.Slice(merged, func(i, j int) bool { return event.LessByContext(merged[i], merged[j]) })

	res, err := flush.FlushUID(newDir, uid, rec.EventType, newSegID, merged, rec.Schema, c.zoneOpts, c.flushCfg)
	if err != nil {
		return uidMergeResult{}, err
	}
	if res == nil {
		return uidMergeResult{uid: uid}, nil
	}

	minTS, maxTS := merged[0].Timestamp, merged[0].Timestamp
	for _, ev := range merged[1:] {
		if ev.Timestamp < minTS {
			minTS = ev.Timestamp
		}
		if ev.Timestamp > maxTS {
			maxTS = ev.Timestamp
		}
	}
	return uidMergeResult{uid: uid, rowCount: res.RowCount, minTS: int64(minTS), maxTS: int64(maxTS), ok: true}, nil
}

// summarizeEntry folds every uid's merge result into the single
// SegmentEntry the new segment is registered under.
func summarizeEntry(level, segID uint32, results []uidMergeResult) (segindex.SegmentEntry, bool) {
	spans := make([]segindex.UIDSpan, 0, len(results))
	for _, r := range results {
		if !r.ok {
			continue
		}
		spans = append(spans, segindex.UIDSpan{UID: r.uid, MinTS: r.minTS, MaxTS: r.maxTS})
	}
	return segindex.Fold(level, segID, spans)
}

// CleanupOrphans removes any segment directory under baseDir/segments that
// isn't referenced by idx, the leftover a crash between writing a new
// segment's files and committing the segment-index swap can produce
// (spec.md §4.11's "orphan cleanup on restart").
func CleanupOrphans(baseDir string, idx *segindex.Index) error {
	live := make(map[[2]uint32]bool)
	for _, level := range idx.Levels() {
		for _, e := range idx.EntriesAt(level) {
			live[[2]uint32{e.Level, e.SegmentID}] = true
		}
	}

	root := filepath.Join(baseDir, "segments")
	dirEntries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errs.Wrap(err, "compaction: read segments dir")
	}

	for _, de := range dirEntries {
		if !de.IsDir() {
			continue
		}
		level, segID, ok := parseSegmentDirName(de.Name())
		if !ok {
			continue
		}
		if live[[2]uint32{level, segID}] {
			continue
		}
		path := filepath.Join(root, de.Name())
		if err := os.RemoveAll(path); err != nil {
			return errs.Wrapf(err, "compaction: remove orphan segment dir %q", path)
		}
		log.Warn("removed orphan segment directory", zap.String("dir", path))
	}
	return nil
}

func parseSegmentDirName(name string) (level, segID uint32, ok bool) {
	if !strings.HasPrefix(name, "L") {
		return 0, 0, false
	}
	parts := strings.SplitN(name[1:], "_", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	l, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	s, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return uint32(l), uint32(s), true
}
