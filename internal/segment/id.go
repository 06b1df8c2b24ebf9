// Package segment defines SnelDB's SegmentId (spec.md §3, §9's "Level
// packing" note): an integer id packing LSM level (high bits) and offset
// within the level (low bits, modulo LevelSpan), plus its zero-padded
// decimal label. Segment directories are named by paths.SegmentDir, not
// by Label.
package segment

import (
	"fmt"
	"strconv"

	"github.com/sneldb/sneldb/internal/errs"
)

// ID is a packed (level, offset) pair: level occupies the bits above
// LevelSpan, offset occupies id % LevelSpan.
type ID uint32

// LabelWidth is the zero-padded decimal width of a segment label, e.g.
// "00001".
const LabelWidth = 5

// NewID packs level and offsetInLevel (which must be < levelSpan) into one ID.
func NewID(level uint32, offsetInLevel uint32, levelSpan uint32) ID {
	return ID(level*levelSpan + offsetInLevel)
}

// Level returns the LSM level this id belongs to, given levelSpan.
func (id ID) Level(levelSpan uint32) uint32 {
	return uint32(id) / levelSpan
}

// OffsetInLevel returns the id's offset within its level, given levelSpan.
func (id ID) OffsetInLevel(levelSpan uint32) uint32 {
	return uint32(id) % levelSpan
}

// Label renders the zero-padded decimal directory name for id.
func (id ID) Label() string {
	return fmt.Sprintf("%0*d", LabelWidth, uint32(id))
}

// ParseLabel parses a zero-padded decimal label back into an ID.
func ParseLabel(label string) (ID, error) {
	v, err := strconv.ParseUint(label, 10, 32)
	if err != nil {
		return 0, errs.Wrapf(errs.ErrValidation, "segment: invalid label %q", label)
	}
	return ID(v), nil
}
