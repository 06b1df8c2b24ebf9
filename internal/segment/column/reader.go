package column

import (
	"os"
	"sync"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/pierrec/lz4/v4"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
)

// Handle is a read-only, memory-mapped column file. Its mapping's lifetime
// equals the handle's, per spec.md §3's ownership note.
type Handle struct {
	path string
	f    *os.File
	data mmap.MMap
}

// Open mmaps path read-only and validates its header.
func Open(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(err, "column: open col file")
	}
	if _, err := framing.ReadHeader(f, framing.KindSegmentColumn); err != nil {
		f.Close()
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(err, "column: mmap col file")
	}
	return &Handle{path: path, f: f, data: data}, nil
}

// Close unmaps and closes the column file.
func (h *Handle) Close() error {
	if err := h.data.Unmap(); err != nil {
		return errs.Wrap(err, "column: unmap col file")
	}
	return h.f.Close()
}

// ReadZone decompresses the zone's block given its .zfc entry.
func (h *Handle) ReadZone(e ZfcEntry) (DecodedBlock, error) {
	if e.BlockStart+uint64(e.CompLen) > uint64(len(h.data)) {
		return DecodedBlock{}, errs.Wrap(errs.ErrCorruption, "column: zfc entry out of range")
	}
	compressed := h.data[e.BlockStart : e.BlockStart+uint64(e.CompLen)]
	raw := make([]byte, e.UncompLen)
	n, err := lz4.UncompressBlock(compressed, raw)
	if err != nil {
		return DecodedBlock{}, errs.Wrap(errs.ErrDecompress, "column: lz4 decompress")
	}
	if uint32(n) != e.UncompLen {
		return DecodedBlock{}, errs.Wrap(errs.ErrDecompress, "column: decompressed length mismatch")
	}
	return DecodeBlock(raw)
}

// Cache is a column-handle cache keyed by path, per spec.md §4.10 ("lazy;
// column-handle cache keyed by path").
type Cache struct {
	mu      sync.Mutex
	handles map[string]*Handle
}

// NewCache creates an empty handle cache.
func NewCache() *Cache {
	return &Cache{handles: make(map[string]*Handle)}
}

// Get returns the cached handle for path, opening and caching it on first
// use.
func (c *Cache) Get(path string) (*Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if h, ok := c.handles[path]; ok {
		return h, nil
	}
	h, err := Open(path)
	if err != nil {
		return nil, err
	}
	c.handles[path] = h
	return h, nil
}

// Close releases every cached handle.
func (c *Cache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var firstErr error
	for path, h := range c.handles {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(c.handles, path)
	}
	return firstErr
}
