// Package ledger tracks per-stream version counters.
//
// A version is a monotonic counter marking a consistent snapshot of a
// stream's data after each committed mutation. The ledger is the single
// authority for advancing counters; it never reuses or decreases a version.
package ledger

import (
	"sync"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/storage/types"
)

// Ledger maps stream IDs to their current committed version.
//
// Policy for unknown streams: Current returns 0, matching the "empty
// stream" semantics of the store. A stream that has never been inserted
// into is indistinguishable from one at version 0. Strict mode callers can
// use CurrentStrict instead.
//
// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	versions map[types.StreamID]types.Version
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		versions: make(map[types.StreamID]types.Version),
	}
}

// Current returns the current version of a stream, or 0 if the stream has
// never been committed to.
func (l *Ledger) Current(id types.StreamID) types.Version {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.versions[id]
}

// CurrentStrict returns the current version of a stream, failing with
// ErrUnknownStream if the stream has never been committed to.
func (l *Ledger) CurrentStrict(id types.StreamID) (types.Version, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	v, ok := l.versions[id]
	if !ok {
		return 0, errors.ErrUnknownStream
	}
	return v, nil
}

// Advance increments a stream's version by exactly 1 and returns the new
// version. The entry is created on first advance.
func (l *Ledger) Advance(id types.StreamID) types.Version {
	l.mu.Lock()
	defer l.mu.Unlock()

	v := l.versions[id] + 1
	l.versions[id] = v
	return v
}

// Restore sets a stream's counter during recovery. It never moves a
// counter backwards.
func (l *Ledger) Restore(id types.StreamID, v types.Version) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v > l.versions[id] {
		l.versions[id] = v
	}
}

// Known reports whether the stream has ever been committed to.
func (l *Ledger) Known(id types.StreamID) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.versions[id]
	return ok
}

// Streams returns the IDs of all known streams.
func (l *Ledger) Streams() []types.StreamID {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := make([]types.StreamID, 0, len(l.versions))
	for id := range l.versions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of known streams.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.versions)
}
