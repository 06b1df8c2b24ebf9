// Package errs defines SnelDB's error taxonomy. Every kind in spec.md §7
// gets a sentinel so callers can classify failures with errors.Is, while
// wrapping preserves the underlying cause for logs via cockroachdb/errors.
package errs

import "github.com/cockroachdb/errors"

var (
	// ErrValidation: empty context_id/event_type, unknown event_type.
	// Rejected at ingress; no state change.
	ErrValidation = errors.New("sneldb: validation failed")

	// ErrSchemaConflict: redefinition of an already-registered event type.
	ErrSchemaConflict = errors.New("sneldb: schema already defined")

	// ErrCorruption: bad magic, CRC mismatch, or truncated record.
	ErrCorruption = errors.New("sneldb: corrupt data")

	// ErrIO: open/read/write failure. Aborts the enclosing unit of work.
	ErrIO = errors.New("sneldb: i/o failure")

	// ErrDecompress: LZ4 decode failure or length mismatch.
	ErrDecompress = errors.New("sneldb: decompression failed")

	// ErrCapacity: passive-buffer set full.
	ErrCapacity = errors.New("sneldb: capacity exceeded")

	// ErrCancelled: query receiver closed; cooperative unwind, no error
	// surfaced to the caller that closed the channel.
	ErrCancelled = errors.New("sneldb: cancelled")

	// ErrCompaction: partial compaction output, discarded.
	ErrCompaction = errors.New("sneldb: compaction failed")

	// ErrFlushFailed: flush verification did not succeed after retries.
	ErrFlushFailed = errors.New("sneldb: flush failed")

	// ErrNotFound: lookup of a uid/segment/field that doesn't exist.
	ErrNotFound = errors.New("sneldb: not found")
)

// Wrap attaches msg as context to err, preserving err for errors.Is/As.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// Is reports whether err matches target per cockroachdb/errors semantics.
func Is(err, target error) bool { return errors.Is(err, target) }
