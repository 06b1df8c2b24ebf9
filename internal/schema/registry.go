package schema

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"hash/fnv"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"

	"github.com/sneldb/sneldb/internal/errs"
	"github.com/sneldb/sneldb/internal/framing"
	"github.com/sneldb/sneldb/internal/ioutil"
	"github.com/sneldb/sneldb/internal/log"
)

// Registry persists (event_type, uid, field->type) records, enforcing that
// an event_type is defined at most once (spec.md §3). Concurrent readers
// share an advisory flock.Flock; appenders take it exclusively, matching
// spec.md §9's "advisory file locks" note and the teacher's shared/
// exclusive discipline around its schema-equivalent KV store.
type Registry struct {
	mu   sync.RWMutex
	path string
	lock *flock.Flock

	byEventType map[string]SchemaRecord
	byUID       map[string]SchemaRecord
}

// Open loads path (creating it if absent) and replays valid records.
func Open(path string) (*Registry, error) {
	reg := &Registry{
		path:        path,
		lock:        flock.New(path + ".lock"),
		byEventType: make(map[string]SchemaRecord),
		byUID:       make(map[string]SchemaRecord),
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := reg.writeHeaderOnly(); err != nil {
			return nil, err
		}
		return reg, nil
	}

	if err := reg.lock.RLock(); err != nil {
		return nil, errs.Wrap(err, "schema: acquire shared lock")
	}
	defer reg.lock.Unlock()

	records, truncated, err := Load(path)
	if err != nil {
		return nil, err
	}
	if truncated {
		log.Warn("schema store tail truncated on load", zap.String("path", path))
		if err := quarantineAndRewrite(path, records); err != nil {
			return nil, err
		}
	}
	for _, rec := range records {
		reg.byEventType[rec.EventType] = rec
		reg.byUID[rec.UID] = rec
	}
	return reg, nil
}

func (r *Registry) writeHeaderOnly() error {
	f, err := os.Create(r.path)
	if err != nil {
		return errs.Wrap(err, "schema: create store")
	}
	defer f.Close()
	return framing.NewHeader(framing.KindSchemaStore, 0).Write(f)
}

// Define registers event_type with the given schema, returning the newly
// assigned UID. Redefinition of an already-known event_type is rejected
// per spec.md §3.
func (r *Registry) Define(eventType string, s MiniSchema) (string, error) {
	if eventType == "" {
		return "", errs.Wrap(errs.ErrValidation, "schema: event_type must be non-empty")
	}
	if err := s.Validate(); err != nil {
		return "", errs.Wrap(errs.ErrValidation, err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byEventType[eventType]; exists {
		return "", errs.Wrapf(errs.ErrSchemaConflict, "schema: event_type %q already defined", eventType)
	}

	uid := r.allocateUID(eventType)
	rec := SchemaRecord{UID: uid, EventType: eventType, Schema: s}

	if err := r.lock.Lock(); err != nil {
		return "", errs.Wrap(err, "schema: acquire exclusive lock")
	}
	defer r.lock.Unlock()

	if err := appendRecord(r.path, rec); err != nil {
		return "", err
	}

	r.byEventType[eventType] = rec
	r.byUID[uid] = rec
	return uid, nil
}

// allocateUID derives a 16-character opaque UID deterministically from
// event_type (SPEC_FULL.md §C.1), disambiguating only on an actual hash
// collision against an already-registered UID.
func (r *Registry) allocateUID(eventType string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(eventType))
	sum := h.Sum64()
	for attempt := uint64(0); ; attempt++ {
		uid := fmt.Sprintf("%016x", sum+attempt)
		if _, taken := r.byUID[uid]; !taken {
			return uid
		}
	}
}

// Lookup returns the schema record for event_type.
func (r *Registry) Lookup(eventType string) (SchemaRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byEventType[eventType]
	return rec, ok
}

// LookupUID returns the schema record for uid.
func (r *Registry) LookupUID(uid string) (SchemaRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byUID[uid]
	return rec, ok
}

// EventTypes returns every registered event_type, used to expand the
// wildcard `event_type == "*"` filter (spec.md §4.7).
func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Keys(r.byEventType)
}

func appendRecord(path string, rec SchemaRecord) error {
	payload, err := EncodeRecord(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return errs.Wrap(err, "schema: open for append")
	}
	defer f.Close()

	var prefix [8]byte
	binary.LittleEndian.PutUint32(prefix[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(prefix[4:8], crc32.ChecksumIEEE(payload))

	if _, err := f.Write(prefix[:]); err != nil {
		return errs.Wrap(err, "schema: write record prefix")
	}
	if _, err := f.Write(payload); err != nil {
		return errs.Wrap(err, "schema: write record payload")
	}
	return f.Sync()
}

// Load reads every valid (len, crc, payload) record from path, truncating
// at the first invalid one and preserving the valid prefix (spec.md §7,
// testable property 9).
func Load(path string) (records []SchemaRecord, truncated bool, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, errs.Wrap(err, "schema: open store")
	}
	defer f.Close()

	if _, err := framing.ReadHeader(f, framing.KindSchemaStore); err != nil {
		return nil, false, err
	}

	for {
		var prefix [8]byte
		n, err := io.ReadFull(f, prefix[:])
		if err == io.EOF {
			return records, false, nil
		}
		if err != nil || n != len(prefix) {
			return records, true, nil
		}

		recLen := binary.LittleEndian.Uint32(prefix[0:4])
		recCRC := binary.LittleEndian.Uint32(prefix[4:8])

		payload := make([]byte, recLen)
		if _, err := io.ReadFull(f, payload); err != nil {
			return records, true, nil
		}
		if crc32.ChecksumIEEE(payload) != recCRC {
			return records, true, nil
		}

		rec, err := DecodeRecord(payload)
		if err != nil {
			return records, true, nil
		}
		records = append(records, rec)
	}
}

// quarantineAndRewrite backs up the corrupt file with a `.corrupt-<ts>`
// suffix and rewrites a sanitized copy containing only the valid prefix,
// per spec.md §7.
func quarantineAndRewrite(path string, valid []SchemaRecord) error {
	backup, err := ioutil.QuarantineFile(path, time.Now())
	if err != nil {
		return err
	}
	log.Warn("quarantined corrupt schema store", zap.String("backup", backup))

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(err, "schema: create sanitized store")
	}
	if err := framing.NewHeader(framing.KindSchemaStore, 0).Write(f); err != nil {
		f.Close()
		return err
	}
	for _, rec := range valid {
		payload, err := EncodeRecord(rec)
		if err != nil {
			f.Close()
			return err
		}
		var prefix [8]byte
		binary.LittleEndian.PutUint32(prefix[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(prefix[4:8], crc32.ChecksumIEEE(payload))
		if _, err := f.Write(prefix[:]); err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(payload); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	f.Close()
	return os.Rename(tmp, path)
}
