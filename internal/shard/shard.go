// Package shard implements SnelDB's single-owner shard actor (spec.md
// §4.1): one goroutine owns a shard's WAL, memtable, passive buffers and
// segment index, processing Store/QueryStream/Flush/Shutdown messages off
// one ordered mailbox. Background flushes run on the shared pool and reach
// the WAL, passive set and segment index through their own locks.
// Grounded on internal/datanode/data_sync_service.go's dataSyncService,
// which the same way owns one channel's WAL replay, flush coordination and
// shutdown from a single per-channel goroutine.
package shard

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"go.uber.org/zap"

	"github.com/sneldb/sneldb/internal/compaction"
	"github.com/sneldb/sneldb/internal/config"
	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/event"
	"github.com/sneldb/sneldb/internal/flush"
	"github.com/sneldb/sneldb/internal/ioutil"
	"github.com/sneldb/sneldb/internal/log"
	"github.com/sneldb/sneldb/internal/memtable"
	"github.com/sneldb/sneldb/internal/query"
	"github.com/sneldb/sneldb/internal/schema"
	"github.com/sneldb/sneldb/internal/segment/handle"
	"github.com/sneldb/sneldb/internal/segment/paths"
	"github.com/sneldb/sneldb/internal/segment/segindex"
	"github.com/sneldb/sneldb/internal/segment/zone"
	"github.com/sneldb/sneldb/internal/wal"
)

// mailboxDepth bounds the shard's message mailbox.
const mailboxDepth = 64

// Shard owns one shard's write and read path end to end. Every exported
// method sends a message through inbox and waits for its reply; Run is
// the one goroutine that handles those messages and swaps active. The
// background flushes rotate hands to the pool also reach w, passive,
// segIdx and ids, through those types' own locks.
type Shard struct {
	id       uint16
	baseDir  string
	cfg      config.Config
	zoneOpts zone.PartitionOptions
	pool     *ioutil.Pool

	w       *wal.WAL
	active  *memtable.Memtable
	passive *memtable.PassiveSet
	segIdx  *segindex.Index
	ids     *segindex.IDAllocator

	// flushMu serializes segments.idx updates between this shard's own
	// flush path and its compactor (spec.md §4.4 step 4, §4.11 step 3b).
	flushMu *sync.Mutex

	idGen *eventIDGen

	compactor    *compaction.Compactor
	compactorReg *schema.Registry

	inbox  chan msg
	doneCh chan struct{}
}

// Open loads (or creates) shard id's on-disk state under baseDir: WAL
// replay into a fresh memtable, the segment index, and an orphan sweep
// for any segment directory a crash left unreferenced. It does not start
// the actor loop — call Run in its own goroutine once Open succeeds.
func Open(id uint16, baseDir string, cfg config.Config, pool *ioutil.Pool) (*Shard, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, errs.Wrap(err, "shard: mkdir base dir")
	}

	walDir := filepath.Join(baseDir, "wal")
	w, err := wal.Open(walDir, cfg.WAL.FsyncPolicy, cfg.WAL.RotateAtBytes)
	if err != nil {
		return nil, err
	}

	active := memtable.New(cfg.Memtable.Capacity)
	var maxCounter uint64
	if err := wal.Replay(walDir, func(e wal.Entry) error {
		active.Insert(e.ToEvent())
		if c := e.EventID & eventCounterMask; c > maxCounter {
			maxCounter = c
		}
		return nil
	}); err != nil {
		return nil, err
	}

	segIdx, err := segindex.Load(filepath.Join(baseDir, "segments.idx"))
	if err != nil {
		return nil, err
	}
	if err := compaction.CleanupOrphans(baseDir, segIdx); err != nil {
		return nil, err
	}

	s := &Shard{
		id:      id,
		baseDir: baseDir,
		cfg:     cfg,
		zoneOpts: zone.PartitionOptions{
			EventPerZone: cfg.Memtable.EventPerZone,
			FillFactor:   cfg.Memtable.FillFactor,
		},
		pool:    pool,
		w:       w,
		active:  active,
		passive: memtable.NewPassiveSet(cfg.Memtable.PassiveSlots),
		segIdx:  segIdx,
		ids:     segindex.NewIDAllocator(segIdx),
		flushMu: &sync.Mutex{},
		idGen:   newEventIDGen(id, maxCounter),
		inbox:   make(chan msg, mailboxDepth),
		doneCh:  make(chan struct{}),
	}
	return s, nil
}

// Run is the shard's single owner goroutine; call it once, in its own
// goroutine, after Open succeeds. It returns once a Shutdown message has
// been processed.
func (s *Shard) Run() {
	for m := range s.inbox {
		if m.apply(s) {
			close(s.doneCh)
			return
		}
	}
}

// Store validates and durably records ev, returning its assigned
// event_id (spec.md §4.1).
func (s *Shard) Store(ev event.Event, reg *schema.Registry) (uint64, error) {
	reply := make(chan storeReply, 1)
	s.inbox <- &storeMsg{ev: ev, reg: reg, reply: reply}
	r := <-reply
	return r.eventID, r.err
}

// QueryStream builds a plan for cmd and returns a streaming handle: an
// event channel and an error channel, both closed when the scan
// completes or ctx is cancelled (spec.md §4.1, §5's cancellation rule).
func (s *Shard) QueryStream(ctx context.Context, cmd query.Command, reg *schema.Registry) (<-chan event.Event, <-chan error, error) {
	reply := make(chan queryReply, 1)
	s.inbox <- &queryMsg{ctx: ctx, cmd: cmd, reg: reg, reply: reply}
	r := <-reply
	return r.events, r.errs, r.err
}

// Flush force-rotates the active memtable even if it isn't full yet, and
// blocks until the resulting segment (if any) is written and verified.
func (s *Shard) Flush(reg *schema.Registry) error {
	reply := make(chan error, 1)
	s.inbox <- &flushMsg{reg: reg, reply: reply}
	return <-reply
}

// Shutdown persists the segment index and releases the WAL handle. It
// does not wait for background flushes that rotate has already handed to
// the pool. The shard must not be used after Shutdown returns.
func (s *Shard) Shutdown() error {
	reply := make(chan error, 1)
	s.inbox <- &shutdownMsg{reply: reply}
	err := <-reply
	<-s.doneCh
	return err
}

// --- actor-goroutine-only handlers below; never call these directly ---

func (s *Shard) handleStore(ev event.Event, reg *schema.Registry) (uint64, error) {
	if _, ok := reg.Lookup(ev.EventType); !ok {
		return 0, errs.Wrapf(errs.ErrValidation, "shard: unknown event_type %q", ev.EventType)
	}
	if err := ev.Validate(); err != nil {
		return 0, errs.Wrap(err, "shard: invalid event")
	}

	ev.EventID = s.idGen.Next()
	if err := s.w.Append(ev); err != nil {
		return 0, err
	}
	s.active.Insert(ev)

	if s.active.IsFull() {
		s.rotate(reg)
	}
	return ev.EventID, nil
}

// rotate swaps the full active memtable into a passive slot and hands
// the flush off to the shared blocking-task pool, without blocking the
// actor loop on the flush itself (spec.md §4.1: "flush task enqueued").
func (s *Shard) rotate(reg *schema.Registry) {
	full := s.active
	s.active = memtable.New(s.cfg.Memtable.Capacity)

	slot, err := s.passive.Admit(full)
	if err != nil {
		// No free passive slot: flush inline rather than drop data, per
		// spec.md §7 ("never silently drop user data"). This blocks the
		// actor loop, but only in the passive-set-exhausted edge case.
		log.Warn("shard: passive buffer set full, flushing inline", zap.Uint16("shard", s.id))
		if ferr := s.flushMemtable(full, -1, reg); ferr != nil {
			log.Error("shard: inline flush failed", zap.Uint16("shard", s.id), zap.Error(ferr))
		}
		return
	}

	go func() {
		_ = s.pool.Submit(func() {
			if err := s.flushMemtable(full, slot, reg); err != nil {
				log.Error("shard: background flush failed", zap.Uint16("shard", s.id), zap.Error(err))
			}
		})
	}()
}

func (s *Shard) handleFlush(reg *schema.Registry) error {
	full := s.active
	s.active = memtable.New(s.cfg.Memtable.Capacity)
	return s.flushMemtable(full, -1, reg)
}

// flushMemtable writes mt's contents into a fresh segment directory,
// commits the new SegmentEntry, truncates the WAL, and clears slot (if
// it came from the passive set) — spec.md §4.4 steps 1-6. slot < 0 means
// mt was flushed without ever occupying a passive slot (explicit Flush,
// or the passive-set-exhausted inline path).
func (s *Shard) flushMemtable(mt *memtable.Memtable, slot int, reg *schema.Registry) error {
	events := mt.Snapshot()
	if len(events) == 0 {
		if slot >= 0 {
			s.passive.Clear(slot)
		}
		return nil
	}

	byType := make(map[string][]event.Event)
	var maxEventID uint64
	for _, ev := range events {
		byType[ev.EventType] = append(byType[ev.EventType], ev)
		if ev.EventID > maxEventID {
			maxEventID = ev.EventID
		}
	}

	segID := s.ids.Next()
	dir := paths.SegmentDir(s.baseDir, 0, segID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.Wrap(err, "shard: mkdir segment dir")
	}

	g := new(errgroup.Group)
	var mu sync.Mutex
	var spans []segindex.UIDSpan
	for eventType, evs := range byType {
		eventType, evs := eventType, evs
		g.Go(func() error {
			rec, ok := reg.Lookup(eventType)
			if !ok {
				return errs.Wrapf(errs.ErrNotFound, "shard: event_type %q not in registry", eventType)
			}
			res, err := flush.FlushUID(dir, rec.UID, eventType, segID, evs, rec.Schema, s.zoneOpts, s.cfg.Flush)
			if err != nil {
				return errs.Wrapf(err, "shard: flush uid %q", rec.UID)
			}
			if res == nil {
				return nil
			}
			minTS, maxTS := evs[0].Timestamp, evs[0].Timestamp
			for _, ev := range evs[1:] {
				if ev.Timestamp < minTS {
					minTS = ev.Timestamp
				}
				if ev.Timestamp > maxTS {
					maxTS = ev.Timestamp
				}
			}
			mu.Lock()
			spans = append(spans, segindex.UIDSpan{UID: rec.UID, MinTS: int64(minTS), MaxTS: int64(maxTS)})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		// spec.md §4.4 step 7: retain the passive buffer, don't touch the
		// index. The partial directory (if any files were written) is
		// swept by CleanupOrphans on the next startup.
		return err
	}

	if entry, ok := segindex.Fold(0, segID, spans); ok {
		s.flushMu.Lock()
		s.segIdx.Put(entry)
		err := s.segIdx.Save()
		s.flushMu.Unlock()
		if err != nil {
			return err
		}
	} else {
		_ = os.RemoveAll(dir)
	}

	// Force the active segment closed before truncating: otherwise entries
	// this flush just covered would sit in the open segment until it
	// happens to hit RotateAtBytes on its own, well past spec.md §4.4 step 6.
	if err := s.w.Rotate(); err != nil {
		log.Warn("shard: wal rotate before truncate failed", zap.Uint16("shard", s.id), zap.Error(err))
	}
	if err := s.w.TruncateUpTo(maxEventID); err != nil {
		log.Warn("shard: wal truncate failed", zap.Uint16("shard", s.id), zap.Error(err))
	}
	if slot >= 0 {
		s.passive.Clear(slot)
	}
	return nil
}

func (s *Shard) handleQuery(ctx context.Context, cmd query.Command, reg *schema.Registry) (<-chan event.Event, <-chan error, error) {
	var recs []schema.SchemaRecord
	if cmd.EventType == "*" || cmd.EventType == "" {
		for _, et := range reg.EventTypes() {
			if rec, ok := reg.Lookup(et); ok {
				recs = append(recs, rec)
			}
		}
	} else {
		rec, ok := reg.Lookup(cmd.EventType)
		if !ok {
			return nil, nil, errs.Wrapf(errs.ErrNotFound, "shard: unknown event_type %q", cmd.EventType)
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].UID < recs[j].UID })

	memory := s.memorySnapshot()

	// Segment entries are captured now, on the actor goroutine, so a
	// later flush or compaction never changes what this query sees
	// (spec.md §5: "same snapshot... cloned on entry").
	type uidScan struct {
		rec     schema.SchemaRecord
		fg      query.FilterGroup
		entries []segindex.SegmentEntry
	}
	scans := make([]uidScan, 0, len(recs))
	for _, rec := range recs {
		perCmd := cmd
		perCmd.EventType = rec.EventType
		fg := query.Plan(perCmd, schemaFieldNames(rec.Schema))
		scans = append(scans, uidScan{rec: rec, fg: fg, entries: s.entriesForUID(rec.UID)})
	}

	out := make(chan event.Event, s.cfg.Query.StreamChannelDepth)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		seen := make(map[uint64]bool)
		for _, sc := range scans {
			for _, ev := range query.ScanMemory(sc.fg, memory) {
				if seen[ev.EventID] {
					continue
				}
				seen[ev.EventID] = true
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			for _, e := range sc.entries {
				dir := paths.SegmentDir(s.baseDir, e.Level, e.SegmentID)
				h, err := handle.Open(dir, sc.rec.UID, e.SegmentID)
				if err != nil {
					errc <- err
					return
				}
				ex := query.NewExecutor(h, sc.rec.Schema)
				evc, segErrc := ex.Execute(ctx, sc.fg, nil)
				for ev := range evc {
					if seen[ev.EventID] {
						continue
					}
					seen[ev.EventID] = true
					select {
					case out <- ev:
					case <-ctx.Done():
						_ = h.Close()
						return
					}
				}
				segErr := <-segErrc
				closeErr := h.Close()
				if segErr != nil {
					errc <- segErr
					return
				}
				if closeErr != nil {
					errc <- closeErr
					return
				}
			}
		}
	}()

	return out, errc, nil
}

// entriesForUID lists every live segment entry, across every level, that
// actually holds rows for uid.
func (s *Shard) entriesForUID(uid string) []segindex.SegmentEntry {
	var out []segindex.SegmentEntry
	for _, level := range s.segIdx.Levels() {
		out = append(out, s.segIdx.EntriesForUID(level, uid)...)
	}
	return out
}

func (s *Shard) memorySnapshot() []event.Event {
	events := s.active.Snapshot()
	for _, mt := range s.passive.Snapshot() {
		events = append(events, mt.Snapshot()...)
	}
	return events
}

func schemaFieldNames(ms schema.MiniSchema) []string {
	out := make([]string, 0, len(ms))
	for f := range ms {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// RunCompaction checks every level for compaction eligibility and runs
// at most one merge per call, using the K-way count policy from cfg. A
// caller (typically a periodic background tick) drives this; the shard
// itself never schedules it.
func (s *Shard) RunCompaction(ctx context.Context, reg *schema.Registry) (bool, error) {
	reply := make(chan compactReply, 1)
	s.inbox <- &compactMsg{ctx: ctx, reg: reg, reply: reply}
	r := <-reply
	return r.ran, r.err
}

func (s *Shard) handleCompaction(ctx context.Context, reg *schema.Registry) (bool, error) {
	if s.compactor == nil || s.compactorReg != reg {
		s.compactor = compaction.New(
			s.baseDir, s.segIdx, reg, s.zoneOpts, s.cfg.Flush,
			compaction.KWayCountPolicy{K: s.cfg.Compaction.K}, s.flushMu, s.ids,
		)
		s.compactorReg = reg
	}
	for _, level := range s.segIdx.Levels() {
		ran, err := s.compactor.RunLevel(ctx, level)
		if err != nil {
			return false, err
		}
		if ran {
			return true, nil
		}
	}
	return false, nil
}

func (s *Shard) handleShutdown() error {
	s.flushMu.Lock()
	saveErr := s.segIdx.Save()
	s.flushMu.Unlock()
	if err := s.w.Close(); err != nil {
		if saveErr == nil {
			saveErr = err
		}
	}
	return saveErr
}
