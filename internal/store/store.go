// Package store is SnelDB's top-level facade: it owns the schema
// registry, the shared blocking-task pool, and one internal/shard.Shard
// per configured shard, routing each write by context_id and fanning
// queries out across every shard that might hold a match. Grounded on
// the teacher's DataNode, which the same way owns a map of per-channel
// dataSyncServices and a shared msFactory/allocator, routing incoming
// work to the right channel's service rather than handling it itself.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/ioutil"
	"github.com/sneldb/sneldb/internal/log"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/shard"
)

// Store wires a shard group to one schema registry and one shared
// blocking-task pool, and runs a periodic compaction sweep per shard.
type Store struct {
	cfg    config.Config
	reg    *schema.Registry
	pool   *ioutil.Pool
	shards []*shard.Shard

	stopCompaction chan struct{}
	compactWG      sync.WaitGroup
}

// Open loads (or creates) a shard group under cfg.Shard.BaseDir: a schema
// registry, cfg.Shard.ShardCount shards (each replaying its own WAL), and
// a shared blocking-task pool sized for the shard count.
func Open(cfg config.Config) (*Store, error) {
	if cfg.Shard.ShardCount == 0 {
		return nil, errs.Wrap(errs.ErrValidation, "store: shard_count must be > 0")
	}

	reg, err := schema.Open(filepath.Join(cfg.Shard.BaseDir, "schema.db"))
	if err != nil {
		return nil, err
	}

	pool, err := ioutil.NewPool(int(cfg.Shard.ShardCount) * 4)
	if err != nil {
		return nil, err
	}

	shards := make([]*shard.Shard, 0, cfg.Shard.ShardCount)
	for i := uint16(0); i < cfg.Shard.ShardCount; i++ {
		dir := filepath.Join(cfg.Shard.BaseDir, fmt.Sprintf("shard-%d", i))
		s, err := shard.Open(i, dir, cfg, pool)
		if err != nil {
			pool.Release()
			return nil, errs.Wrapf(err, "store: open shard %d", i)
		}
		go s.Run()
		shards = append(shards, s)
	}

	st := &Store{
		cfg:            cfg,
		reg:            reg,
		pool:           pool,
		shards:         shards,
		stopCompaction: make(chan struct{}),
	}
	st.runCompactionLoop()
	return st, nil
}

// Registry returns the schema registry backing this store, so callers
// can Define event types before storing events of that type.
func (s *Store) Registry() *schema.Registry {
	return s.reg
}

// Put validates and durably records ev on the shard its context_id routes
// to, returning its assigned event_id.
func (s *Store) Put(ev event.Event) (uint64, error) {
	return s.shardFor(ev.ContextID).Store(ev, s.reg)
}

// Flush force-flushes every shard's active memtable and blocks until all
// of them complete.
func (s *Store) Flush() error {
	var firstErr error
	for _, sh := range s.shards {
		if err := sh.Flush(s.reg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// QueryStream runs cmd against every shard cmd.ContextID routes to (all
// of them, if ContextID is nil), merging their result streams into one.
// The returned channels close once every shard's scan has completed or
// ctx is cancelled.
func (s *Store) QueryStream(ctx context.Context, cmd query.Command) (<-chan event.Event, <-chan error, error) {
	targets := s.shards
	if cmd.ContextID != nil {
		targets = []*shard.Shard{s.shardFor(*cmd.ContextID)}
	}

	out := make(chan event.Event, s.cfg.Query.StreamChannelDepth)
	errc := make(chan error, len(targets))

	var wg sync.WaitGroup
	for _, sh := range targets {
		evc, shErrc, err := sh.QueryStream(ctx, cmd, s.reg)
		if err != nil {
			close(out)
			close(errc)
			return nil, nil, err
		}
		wg.Add(1)
		go func(evc <-chan event.Event, shErrc <-chan error) {
			defer wg.Done()
			for ev := range evc {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			if err := <-shErrc; err != nil {
				errc <- err
			}
		}(evc, shErrc)
	}

	go func() {
		wg.Wait()
		close(out)
		close(errc)
	}()
	return out, errc, nil
}

// Close stops the compaction loop, shuts down every shard, and releases
// the shared pool.
func (s *Store) Close() error {
	close(s.stopCompaction)
	s.compactWG.Wait()

	var firstErr error
	for _, sh := range s.shards {
		if err := sh.Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.pool.Release()
	return firstErr
}

func (s *Store) shardFor(contextID string) *shard.Shard {
	h := fnv.New64a()
	_, _ = h.Write([]byte(contextID))
	return s.shards[h.Sum64()%uint64(len(s.shards))]
}

// runCompactionLoop starts one background goroutine per shard that ticks
// RunCompaction periodically; the shard itself never schedules its own
// compaction (spec.md §4.11: driven by an external caller).
func (s *Store) runCompactionLoop() {
	for _, sh := range s.shards {
		sh := sh
		s.compactWG.Add(1)
		go func() {
			defer s.compactWG.Done()
			ticker := time.NewTicker(10 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-s.stopCompaction:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					ran, err := sh.RunCompaction(ctx, s.reg)
					cancel()
					if err != nil {
						log.Warn("store: compaction tick failed", zap.Error(err))
					}
					if ran {
						log.Debug("store: compaction ran")
					}
				}
			}
		}()
	}
}
