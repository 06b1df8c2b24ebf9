// Package ioutil holds small on-disk helpers shared across SnelDB's
// storage packages: corrupt-file quarantine (spec.md §7) and atomic
// temp-file+rename replacement (spec.md §3, segment index invariants).
package ioutil

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sneldb/sneldb/internal/errs"
)

// QuarantineFile renames path to "<path>.corrupt-<unix_ts>" so a fresh
// file can be written in its place, per spec.md §7's corruption policy.
// now is supplied by the caller; the schema registry passes time.Now().
func QuarantineFile(path string, now time.Time) (backupPath string, err error) {
	backupPath = fmt.Sprintf("%s.corrupt-%d", path, now.Unix())
	if err := os.Rename(path, backupPath); err != nil {
		return "", errs.Wrap(err, "ioutil: quarantine file")
	}
	return backupPath, nil
}

// AtomicReplace writes data to "<path>.tmp" then renames it over path,
// the temp-file+rename discipline spec.md §4.4/§4.11 require for
// segments.idx updates.
func AtomicReplace(path string, write func(io.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return errs.Wrap(err, "ioutil: create temp file")
	}
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errs.Wrap(err, "ioutil: sync temp file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errs.Wrap(err, "ioutil: close temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.Wrap(err, "ioutil: rename temp file")
	}
	return nil
}
