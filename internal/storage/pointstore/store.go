// Package pointstore implements the versioned per-stream point store.
//
// Each stream is a chain of immutable copy-on-write snapshots, one per
// committed version. Readers pin a snapshot and never block on the write
// path; a query racing a commit sees either the pre-commit or post-commit
// snapshot, never a partial batch.
package pointstore

import (
	"sort"
	"sync"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/ledger"
	"github.com/berrydb/berrydb/internal/storage/types"
)

// Options configures the store.
type Options struct {
	// MaxHistory bounds the number of retained snapshots per stream.
	// 0 means every version stays readable for the process lifetime.
	MaxHistory int

	// Strict makes reads of never-inserted streams fail with
	// ErrUnknownStream instead of returning empty data at version 0.
	Strict bool
}

// Store is the registry of per-stream state. Streams are created on first
// insert and live for the process lifetime; there is no implicit deletion.
//
// The store does not serialize writers: callers (the commit coordinator)
// must hold the per-stream commit gate across Insert/DeleteRange. Readers
// need no external locking.
type Store struct {
	opts   Options
	ledger *ledger.Ledger

	mu      sync.RWMutex
	streams map[types.StreamID]*stream
}

// stream holds the snapshot history of one stream.
// history[i] carries version floor+i; the last element is the head.
type stream struct {
	mu      sync.RWMutex
	floor   types.Version
	history []*Snapshot
}

// New creates a store backed by the given ledger.
func New(l *ledger.Ledger, opts Options) *Store {
	return &Store{
		opts:    opts,
		ledger:  l,
		streams: make(map[types.StreamID]*stream),
	}
}

// Insert merges a batch into a stream and returns the new version.
// The batch is applied atomically: the published snapshot contains every
// point or the stream is left untouched. Points must already be validated.
func (s *Store) Insert(id types.StreamID, batch []types.Point) types.Version {
	st := s.getOrCreate(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.head().merge(s.ledger.Advance(id), batch)
	st.publish(next, s.opts.MaxHistory)
	return next.version
}

// DeleteRange removes all points with start <= Time < end and returns the
// new version. Deleting from a nonexistent stream still creates it and
// advances its version, mirroring insert-of-empty semantics.
func (s *Store) DeleteRange(id types.StreamID, start, end int64) types.Version {
	st := s.getOrCreate(id)

	st.mu.Lock()
	defer st.mu.Unlock()

	next := st.head().remove(s.ledger.Advance(id), start, end)
	st.publish(next, s.opts.MaxHistory)
	return next.version
}

// ReadRange returns all points in [start, end) as of the given version,
// ascending, plus the version actually observed. Version 0 pins the
// latest committed snapshot. A nonexistent stream yields an empty result
// at version 0 unless the store is strict.
func (s *Store) ReadRange(id types.StreamID, start, end int64, version types.Version) ([]types.Point, types.Version, error) {
	snap, err := s.SnapshotAt(id, version)
	if err != nil {
		return nil, 0, err
	}

	pts := snap.Range(start, end)
	if len(pts) == 0 {
		return nil, snap.version, nil
	}

	// Copy out of the shared backing array.
	out := make([]types.Point, len(pts))
	copy(out, pts)
	return out, snap.version, nil
}

// Nearest returns the point nearest to t in the pinned snapshot. With
// backward set it is the latest point at or before t, otherwise the
// earliest point at or after t. ok is false when no such point exists.
func (s *Store) Nearest(id types.StreamID, t int64, backward bool, version types.Version) (p types.Point, ok bool, observed types.Version, err error) {
	snap, err := s.SnapshotAt(id, version)
	if err != nil {
		return types.Point{}, false, 0, err
	}

	p, ok = snap.Nearest(t, backward)
	return p, ok, snap.version, nil
}

// ChangedRanges returns the merged time ranges touched by commits with
// from < version <= to, widened outward to multiples of 2^resolution
// nanoseconds. to == 0 pins the latest version.
func (s *Store) ChangedRanges(id types.StreamID, from, to types.Version, resolution uint8) ([]types.TimeRange, types.Version, error) {
	st := s.lookup(id)
	if st == nil {
		if s.opts.Strict {
			return nil, 0, errors.ErrUnknownStream
		}
		if to > 0 {
			return nil, 0, errors.NewInvalidVersion(to, 0)
		}
		return nil, 0, nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	head := st.head().version
	if to == types.LatestVersion {
		to = head
	}
	if to > head {
		return nil, 0, errors.NewInvalidVersion(to, head)
	}
	if from > to {
		return nil, 0, errors.Wrapf(errors.ErrInvalidRange, "from version %d after to version %d", from, to)
	}

	var ranges []types.TimeRange
	for v := from + 1; v <= to; v++ {
		snap, err := st.at(v)
		if err != nil {
			return nil, 0, err
		}
		r := snap.touched
		if r.Start >= r.End {
			continue
		}
		ranges = append(ranges, widen(r, resolution))
	}

	return mergeRanges(ranges), to, nil
}

// SnapshotAt pins a snapshot of a stream at the given version (0 = latest).
// A nonexistent stream yields the empty snapshot at version 0 unless the
// store is strict, in which case requesting any version of it fails.
func (s *Store) SnapshotAt(id types.StreamID, version types.Version) (*Snapshot, error) {
	st := s.lookup(id)
	if st == nil {
		if s.opts.Strict {
			return nil, errors.ErrUnknownStream
		}
		if version > 0 {
			return nil, errors.NewInvalidVersion(version, 0)
		}
		return emptySnapshot, nil
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	if version == types.LatestVersion {
		return st.head(), nil
	}
	return st.at(version)
}

// CurrentVersion returns a stream's latest committed version, 0 for a
// nonexistent stream.
func (s *Store) CurrentVersion(id types.StreamID) types.Version {
	st := s.lookup(id)
	if st == nil {
		return 0
	}

	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.head().version
}

// Streams returns the IDs of all streams ever inserted into.
func (s *Store) Streams() []types.StreamID {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]types.StreamID, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of streams.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams)
}

// =============================================================================
// internals
// =============================================================================

func (s *Store) lookup(id types.StreamID) *stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streams[id]
}

func (s *Store) getOrCreate(id types.StreamID) *stream {
	if st := s.lookup(id); st != nil {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.streams[id]; st != nil {
		return st
	}
	st := &stream{history: []*Snapshot{emptySnapshot}}
	s.streams[id] = st
	return st
}

func (st *stream) head() *Snapshot {
	return st.history[len(st.history)-1]
}

// at returns the snapshot at an exact version. Caller holds st.mu.
func (st *stream) at(version types.Version) (*Snapshot, error) {
	head := st.head().version
	if version > head {
		return nil, errors.NewInvalidVersion(version, head)
	}
	if version < st.floor {
		return nil, errors.Wrapf(errors.ErrInvalidVersion,
			"version %d pruned (retained floor %d)", version, st.floor)
	}
	return st.history[version-st.floor], nil
}

// publish appends a snapshot and prunes history past the retention bound.
// Caller holds st.mu.
func (st *stream) publish(snap *Snapshot, maxHistory int) {
	st.history = append(st.history, snap)

	if maxHistory > 0 && len(st.history) > maxHistory {
		drop := len(st.history) - maxHistory
		st.floor += types.Version(drop)
		st.history = append([]*Snapshot(nil), st.history[drop:]...)
	}
}

// widen expands a range outward to multiples of 2^resolution nanoseconds.
func widen(r types.TimeRange, resolution uint8) types.TimeRange {
	if resolution == 0 || resolution > 62 {
		return r
	}
	mask := int64(1)<<resolution - 1
	start := r.Start &^ mask
	end := r.End
	if end&mask != 0 {
		end = (end | mask) + 1
	}
	return types.TimeRange{Start: start, End: end}
}

// mergeRanges coalesces overlapping or adjacent ranges, ascending by start.
func mergeRanges(ranges []types.TimeRange) []types.TimeRange {
	if len(ranges) <= 1 {
		return ranges
	}

	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].Start < ranges[j].Start
	})

	out := ranges[:1]
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if r.Start <= last.End {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
