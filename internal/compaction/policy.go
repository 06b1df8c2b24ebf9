package compaction

// Policy decides whether a level has accumulated enough live segments to
// trigger a k-way merge into the level above it.
type Policy interface {
	ShouldCompact(liveCount int) bool
}

// KWayCountPolicy triggers a merge once a level holds K live segments,
// mirroring the teacher's segment-count compaction trigger
// (internal/datacoord/compaction.go, compaction_trigger.go) applied here
// per level instead of per collection.
type KWayCountPolicy struct {
	K int
}

// ShouldCompact reports whether liveCount has reached K.
func (p KWayCountPolicy) ShouldCompact(liveCount int) bool {
	return p.K > 0 && liveCount >= p.K
}
