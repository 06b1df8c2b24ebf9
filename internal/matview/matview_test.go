package matview

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameCacheMissThenHit(t *testing.T) {
	c := NewFrameCache(1 << 20)
	var loads atomic.Int64

	load := func(ctx context.Context, name string) (Frame, error) {
		loads.Add(1)
		return Frame{Name: name, RowCount: 3, ByteSize: 100}, nil
	}

	f1, err := c.Get(context.Background(), "f1", load)
	require.NoError(t, err)
	require.Equal(t, "f1", f1.Name)

	f2, err := c.Get(context.Background(), "f1", load)
	require.NoError(t, err)
	require.Equal(t, f1, f2)

	require.EqualValues(t, 1, loads.Load())
	stats := c.Stats()
	require.EqualValues(t, 1, stats.Misses)
	require.EqualValues(t, 1, stats.Hits)
}

func TestFrameCacheConcurrentMissesCollapse(t *testing.T) {
	c := NewFrameCache(1 << 20)
	var loads atomic.Int64
	start := make(chan struct{})

	load := func(ctx context.Context, name string) (Frame, error) {
		<-start
		loads.Add(1)
		return Frame{Name: name, ByteSize: 10}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Get(context.Background(), "shared", load)
			require.NoError(t, err)
		}()
	}
	close(start)
	wg.Wait()

	require.EqualValues(t, 1, loads.Load(), "singleflight should collapse concurrent misses for the same name")
}

func TestFrameCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewFrameCache(250)
	load := func(ctx context.Context, name string) (Frame, error) {
		return Frame{Name: name, ByteSize: 100}, nil
	}

	_, err := c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "b", load)
	require.NoError(t, err)
	// Touch "a" so it's more recently used than "b".
	_, err = c.Get(context.Background(), "a", load)
	require.NoError(t, err)
	// Adding "c" must push curBytes over 250, evicting "b" (least recently used).
	_, err = c.Get(context.Background(), "c", load)
	require.NoError(t, err)

	stats := c.Stats()
	require.EqualValues(t, 1, stats.Evictions)

	var reloaded bool
	_, err = c.Get(context.Background(), "b", func(ctx context.Context, name string) (Frame, error) {
		reloaded = true
		return Frame{Name: name, ByteSize: 100}, nil
	})
	require.NoError(t, err)
	require.True(t, reloaded, "b should have been evicted and require a reload")
}

type stubSink struct {
	mu     sync.Mutex
	frames []FrameMeta
}

func (s *stubSink) AppendBatch(ctx context.Context, name, schemaSnapshot string, batch ColumnBatch) (FrameMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	meta := FrameMeta{
		Name:       name,
		SchemaHash: schemaSnapshot,
		RowCount:   batch.RowCount,
		ByteSize:   int64(batch.RowCount * 8),
	}
	s.frames = append(s.frames, meta)
	return meta, nil
}

func TestFrameSinkContractAppendBatch(t *testing.T) {
	var sink FrameSink = &stubSink{}
	meta, err := sink.AppendBatch(context.Background(), "orders-2024", "sha:abc", ColumnBatch{
		SchemaHash: "sha:abc",
		RowCount:   5,
		Columns:    map[string][]byte{"country": []byte("US")},
	})
	require.NoError(t, err)
	require.Equal(t, "orders-2024", meta.Name)
	require.Equal(t, 5, meta.RowCount)
}
