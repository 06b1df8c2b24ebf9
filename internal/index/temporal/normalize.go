// Package temporal implements SnelDB's temporal normalization and the
// per-field calendar + per-zone ZoneTemporalIndex (ZTI) that prune zones
// by timestamp range without a column scan (spec.md §4.6, §9).
package temporal

import (
	"strconv"
	"time"

	"github.com/sneldb/sneldb/internal/errs"
)

// Normalize converts a string temporal literal to epoch seconds, per
// spec.md §9: RFC3339 and YYYY-MM-DD are parsed directly; bare integers
// are heuristically rescaled from ms/us/ns to seconds by digit count.
func Normalize(s string) (int64, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.Unix(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.Unix(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errs.Wrapf(errs.ErrValidation, "temporal: %q is not RFC3339, YYYY-MM-DD, or an integer epoch", s)
	}
	return NormalizeInt(n)
}

// NormalizeInt rescales a bare integer epoch value to seconds using the
// digit-count heuristic: 10-11 digits is seconds, 12-14 is milliseconds,
// 15-16 is microseconds, 17-19 is nanoseconds. Magnitudes outside that
// range are rejected.
func NormalizeInt(n int64) (int64, error) {
	digits := digitCount(n)
	switch {
	case digits >= 10 && digits <= 11:
		return n, nil
	case digits >= 12 && digits <= 14:
		return n / 1_000, nil
	case digits >= 15 && digits <= 16:
		return n / 1_000_000, nil
	case digits >= 17 && digits <= 19:
		return n / 1_000_000_000, nil
	default:
		return 0, errs.Wrapf(errs.ErrValidation, "temporal: epoch magnitude %d has an unrecognized digit count", n)
	}
}

func digitCount(n int64) int {
	if n < 0 {
		n = -n
	}
	if n == 0 {
		return 1
	}
	count := 0
	for n > 0 {
		count++
		n /= 10
	}
	return count
}
