package pointstore

import (
	"sort"

	"github.com/berrydb/berrydb/internal/storage/types"
)

// Snapshot is an immutable view of one stream at one committed version.
// The point slice is sorted ascending by timestamp with unique timestamps
// and is never mutated after construction; readers share it freely without
// locking.
type Snapshot struct {
	version types.Version
	points  []types.Point

	// touched is the time range modified by the commit that produced this
	// snapshot. It is the empty range for the version-0 base snapshot.
	touched types.TimeRange
}

// emptySnapshot is the shared version-0 base for every stream.
var emptySnapshot = &Snapshot{}

// Version returns the snapshot's committed version.
func (s *Snapshot) Version() types.Version {
	return s.version
}

// Len returns the number of points in the snapshot.
func (s *Snapshot) Len() int {
	return len(s.points)
}

// Touched returns the time range modified by the producing commit.
func (s *Snapshot) Touched() types.TimeRange {
	return s.touched
}

// Range returns all points with start <= Time < end, ascending.
// The returned slice aliases the snapshot's backing array; callers must not
// modify it.
func (s *Snapshot) Range(start, end int64) []types.Point {
	if start >= end || len(s.points) == 0 {
		return nil
	}

	lo := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Time >= start
	})
	hi := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Time >= end
	})

	if lo >= hi {
		return nil
	}
	return s.points[lo:hi]
}

// Nearest returns the point nearest to t. With backward set it is the
// latest point with Time <= t; otherwise the earliest point with
// Time >= t. The second return is false when no such point exists.
func (s *Snapshot) Nearest(t int64, backward bool) (types.Point, bool) {
	if len(s.points) == 0 {
		return types.Point{}, false
	}

	// Index of the first point with Time >= t.
	i := sort.Search(len(s.points), func(i int) bool {
		return s.points[i].Time >= t
	})

	if backward {
		if i < len(s.points) && s.points[i].Time == t {
			return s.points[i], true
		}
		if i == 0 {
			return types.Point{}, false
		}
		return s.points[i-1], true
	}

	if i == len(s.points) {
		return types.Point{}, false
	}
	return s.points[i], true
}

// merge produces the successor snapshot resulting from inserting batch.
// The batch need not be sorted; within the batch, later entries win on
// timestamp ties (last-write-wins in caller order). Existing points at a
// batch timestamp are overwritten.
func (s *Snapshot) merge(version types.Version, batch []types.Point) *Snapshot {
	sorted := normalizeBatch(batch)
	if len(sorted) == 0 {
		// An empty commit still produces a new version with identical data.
		return &Snapshot{version: version, points: s.points}
	}

	merged := make([]types.Point, 0, len(s.points)+len(sorted))
	i, j := 0, 0
	for i < len(s.points) && j < len(sorted) {
		switch {
		case s.points[i].Time < sorted[j].Time:
			merged = append(merged, s.points[i])
			i++
		case s.points[i].Time > sorted[j].Time:
			merged = append(merged, sorted[j])
			j++
		default:
			// Overwrite: the batch value replaces the stored one.
			merged = append(merged, sorted[j])
			i++
			j++
		}
	}
	merged = append(merged, s.points[i:]...)
	merged = append(merged, sorted[j:]...)

	return &Snapshot{
		version: version,
		points:  merged,
		touched: types.TimeRange{
			Start: sorted[0].Time,
			End:   sorted[len(sorted)-1].Time + 1,
		},
	}
}

// remove produces the successor snapshot with [start, end) deleted.
func (s *Snapshot) remove(version types.Version, start, end int64) *Snapshot {
	kept := make([]types.Point, 0, len(s.points))
	for _, p := range s.points {
		if p.Time >= start && p.Time < end {
			continue
		}
		kept = append(kept, p)
	}

	return &Snapshot{
		version: version,
		points:  kept,
		touched: types.TimeRange{Start: start, End: end},
	}
}

// normalizeBatch sorts a batch ascending by timestamp and deduplicates,
// keeping the last occurrence of each timestamp in caller order.
func normalizeBatch(batch []types.Point) []types.Point {
	if len(batch) == 0 {
		return nil
	}

	sorted := make([]types.Point, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time < sorted[j].Time
	})

	// Stable sort keeps caller order within equal timestamps, so the last
	// entry of each run is the batch's last write.
	out := sorted[:0]
	for i := 0; i < len(sorted); i++ {
		if i+1 < len(sorted) && sorted[i+1].Time == sorted[i].Time {
			continue
		}
		out = append(out, sorted[i])
	}
	return out
}
