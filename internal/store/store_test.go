package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
)

func newTestStore(t *testing.T, shardCount uint16) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.Shard.BaseDir = t.TempDir()
	cfg.Shard.ShardCount = shardCount
	cfg.Memtable.Capacity = 1000

	s, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreRoutesByContextIDConsistently(t *testing.T) {
	s := newTestStore(t, 4)
	a := s.shardFor("same-context")
	b := s.shardFor("same-context")
	require.Same(t, a, b, "the same context_id must always route to the same shard")
}

func TestStorePutAndQueryAcrossShards(t *testing.T) {
	s := newTestStore(t, 4)
	enumType, err := schema.Enum([]string{"US", "DE"})
	require.NoError(t, err)
	_, err = s.Registry().Define("order", schema.MiniSchema{"country": enumType})
	require.NoError(t, err)

	contexts := []string{"c1", "c2", "c3", "c4", "c5", "c6"}
	for i, cid := range contexts {
		_, err := s.Put(event.Event{
			EventType: "order", ContextID: cid, Timestamp: uint64(100 + i),
			Payload: map[string]event.Scalar{"country": event.FromString("US")},
		})
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, errc, err := s.QueryStream(ctx, query.Command{EventType: "order"})
	require.NoError(t, err)

	var n int
	for range out {
		n++
	}
	require.NoError(t, <-errc)
	require.Equal(t, len(contexts), n)
}

func TestStoreQueryScopedToOneContextRoutesSingleShard(t *testing.T) {
	s := newTestStore(t, 4)
	enumType, err := schema.Enum([]string{"US"})
	require.NoError(t, err)
	_, err = s.Registry().Define("order", schema.MiniSchema{"country": enumType})
	require.NoError(t, err)

	_, err = s.Put(event.Event{
		EventType: "order", ContextID: "only-me", Timestamp: 100,
		Payload: map[string]event.Scalar{"country": event.FromString("US")},
	})
	require.NoError(t, err)

	cid := "only-me"
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	out, errc, err := s.QueryStream(ctx, query.Command{EventType: "order", ContextID: &cid})
	require.NoError(t, err)

	var got []event.Event
	for ev := range out {
		got = append(got, ev)
	}
	require.NoError(t, <-errc)
	require.Len(t, got, 1)
	require.Equal(t, "only-me", got[0].ContextID)
}
