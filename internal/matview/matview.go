// Package matview exposes the materialized-view subsystem's contract at
// the level SnelDB's query core actually needs it (spec.md §4.13): a sink
// frames are appended to, and a frame cache query execution can read
// through without ever decompressing the same frame twice concurrently.
// The subsystem's catalog, manifest and delta-refresh machinery live
// outside this module; only the boundary it presents to SnelDB is
// implemented here.
package matview

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/sneldb/sneldb/internal/errs"
)

// HighWaterMark marks the most recent event a materialized sink has
// observed, used to resume delta refreshes after a restart.
type HighWaterMark struct {
	Timestamp int64
	EventID   uint64
}

// ColumnBatch is one batch of already-columnar rows handed to a sink for
// materialization. Columns holds each field's already-encoded column
// bytes; the sink treats them as opaque.
type ColumnBatch struct {
	SchemaHash string
	RowCount   int
	Columns    map[string][]byte
}

// FrameMeta describes a frame a sink produced from one AppendBatch call.
type FrameMeta struct {
	Name          string
	SchemaHash    string
	RowCount      int
	ByteSize      int64
	HighWaterMark HighWaterMark
}

// FrameSink is the contract SnelDB's query core holds a materialized
// store to (spec.md §4.13): append a batch under a schema snapshot,
// get back the metadata of the frame it landed in. Implementations
// enforce schema-hash consistency across a materialization's frames;
// callers never see that enforcement, only ErrValidation if it fails.
type FrameSink interface {
	AppendBatch(ctx context.Context, name, schemaSnapshot string, batch ColumnBatch) (FrameMeta, error)
}

// Frame is the decompressed payload a FrameSource hands back for one
// frame name — the unit the cache below stores and evicts.
type Frame struct {
	Name     string
	RowCount int
	Columns  map[string][]byte
	ByteSize int64
}

// FrameLoader produces a Frame for name on a cache miss, e.g. by reading
// and decompressing it from the materialization directory.
type FrameLoader func(ctx context.Context, name string) (Frame, error)

// CacheStats exposes the frame cache's externally observable counters
// (spec.md §5: "stats (hits, misses, evictions, current bytes) are
// externally observable"), snapshotted at the instant Stats is called.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
	Bytes     int64
}

// FrameCache is a bounded, global LRU cache of decompressed Frames,
// singleflight-guarded so concurrent misses for the same name collapse
// into one decompression instead of one per caller (spec.md §5).
type FrameCache struct {
	mu       sync.Mutex
	maxBytes int64
	curBytes int64
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
	group    singleflight.Group

	hits      uint64
	misses    uint64
	evictions uint64
}

type cacheEntry struct {
	name  string
	frame Frame
}

// NewFrameCache builds a FrameCache bounded at maxBytes of total frame
// payload across every entry it holds.
func NewFrameCache(maxBytes int64) *FrameCache {
	return &FrameCache{
		maxBytes: maxBytes,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the frame named name, loading it via load on a miss. Two
// concurrent Get calls for the same name while a load is in flight share
// its result rather than both decompressing it.
func (c *FrameCache) Get(ctx context.Context, name string, load FrameLoader) (Frame, error) {
	c.mu.Lock()
	if el, ok := c.items[name]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		frame := el.Value.(*cacheEntry).frame
		c.mu.Unlock()
		return frame, nil
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		frame, err := load(ctx, name)
		if err != nil {
			return Frame{}, errs.Wrapf(err, "matview: load frame %q", name)
		}
		c.put(name, frame)
		return frame, nil
	})
	if err != nil {
		return Frame{}, err
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return v.(Frame), nil
}

func (c *FrameCache) put(name string, frame Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[name]; ok {
		c.curBytes -= el.Value.(*cacheEntry).frame.ByteSize
		el.Value = &cacheEntry{name: name, frame: frame}
		c.ll.MoveToFront(el)
		c.curBytes += frame.ByteSize
	} else {
		el := c.ll.PushFront(&cacheEntry{name: name, frame: frame})
		c.items[name] = el
		c.curBytes += frame.ByteSize
	}

	for c.curBytes > c.maxBytes && c.ll.Len() > 0 {
		back := c.ll.Back()
		if back == nil {
			break
		}
		entry := back.Value.(*cacheEntry)
		c.ll.Remove(back)
		delete(c.items, entry.name)
		c.curBytes -= entry.frame.ByteSize
		c.evictions++
	}
}

// Stats snapshots the cache's counters.
func (c *FrameCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Bytes:     c.curBytes,
	}
}
