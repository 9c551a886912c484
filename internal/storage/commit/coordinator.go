package commit

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/berrydb/berrydb/internal/errors"
	"github.com/berrydb/berrydb/internal/logging"
	"github.com/berrydb/berrydb/internal/storage/pointstore"
	"github.com/berrydb/berrydb/internal/storage/types"
	"github.com/berrydb/berrydb/internal/storage/wal"
)

// Coordinator serializes commits per stream and drives them through the
// WAL before they become visible in the point store. Commits against
// different streams proceed concurrently; commits against the same stream
// queue on a per-stream gate.
//
// A sync commit returns after the WAL record is flushed and the new
// version is readable. An async commit returns a Receipt immediately and
// the mutation is applied by a worker pool.
type Coordinator struct {
	store *pointstore.Store
	wal   *wal.Writer

	opts Options

	gateMu sync.Mutex
	gates  map[types.StreamID]chan struct{}

	// stopMu orders enqueues against Stop closing the queue. Senders
	// hold the read side; Stop closes the channel under the write side,
	// so no send can race the close.
	stopMu sync.RWMutex
	queue  chan *task

	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	log *slog.Logger

	// Statistics
	stats Stats
}

// Options configures the coordinator.
type Options struct {
	// LockTimeout bounds how long a commit waits for the per-stream gate.
	LockTimeout time.Duration

	// Workers is the number of async apply workers.
	Workers int

	// QueueSize is the capacity of the async commit queue.
	QueueSize int
}

// DefaultOptions returns default coordinator options.
func DefaultOptions() Options {
	return Options{
		LockTimeout: 5 * time.Second,
		Workers:     8,
		QueueSize:   4096,
	}
}

// Stats holds commit statistics.
type Stats struct {
	SyncCommits    atomic.Int64
	AsyncCommits   atomic.Int64
	Deletes        atomic.Int64
	PointsWritten  atomic.Int64
	Rejected       atomic.Int64
	LockTimeouts   atomic.Int64
	Errors         atomic.Int64
}

type task struct {
	entry   *wal.Entry
	receipt *Receipt
}

// Receipt tracks an async commit. Done closes once the mutation has been
// logged and applied; Version and Err are valid after that.
type Receipt struct {
	done    chan struct{}
	version types.Version
	err     error
}

// Done returns a channel closed when the commit has been applied.
func (r *Receipt) Done() <-chan struct{} { return r.done }

// Version returns the version the commit produced. Valid after Done.
func (r *Receipt) Version() types.Version { return r.version }

// Err returns the commit error, if any. Valid after Done.
func (r *Receipt) Err() error { return r.err }

// Wait blocks until the commit completes or ctx is cancelled.
func (r *Receipt) Wait(ctx context.Context) (types.Version, error) {
	select {
	case <-r.done:
		return r.version, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (r *Receipt) complete(v types.Version, err error) {
	r.version = v
	r.err = err
	close(r.done)
}

// New creates a commit coordinator over store and log.
func New(store *pointstore.Store, w *wal.Writer, opts Options) *Coordinator {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultOptions().LockTimeout
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultOptions().QueueSize
	}

	return &Coordinator{
		store: store,
		wal:   w,
		opts:  opts,
		gates: make(map[types.StreamID]chan struct{}),
		queue: make(chan *task, opts.QueueSize),
		log:   logging.Component("commit"),
	}
}

// Start launches the async apply workers.
func (c *Coordinator) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	for i := 0; i < c.opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}

	c.log.Info("commit coordinator started", "workers", c.opts.Workers)
	return nil
}

// Stop drains the async queue and stops the workers. Queued commits are
// applied before Stop returns.
func (c *Coordinator) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return errors.ErrNotRunning
	}

	c.stopMu.Lock()
	close(c.queue)
	c.stopMu.Unlock()

	c.wg.Wait()
	c.cancel()

	c.log.Info("commit coordinator stopped")
	return nil
}

// IsRunning reports whether the coordinator is running.
func (c *Coordinator) IsRunning() bool {
	return c.running.Load()
}

// Insert commits a batch of points to a stream. With DurabilitySync the
// returned version is assigned, logged, flushed, and readable. With
// DurabilityAsync the returned Receipt resolves once a worker has done
// the same. The batch is validated up front and rejected whole on the
// first malformed point.
func (c *Coordinator) Insert(ctx context.Context, id types.StreamID, points []types.Point, durability types.Durability) (types.Version, *Receipt, error) {
	if !c.running.Load() {
		return 0, nil, errors.ErrNotRunning
	}

	if err := validatePoints(points); err != nil {
		c.stats.Rejected.Add(1)
		return 0, nil, err
	}

	entry := &wal.Entry{
		Stream: id,
		Op:     types.OpInsert,
		Points: points,
	}

	if durability == types.DurabilityAsync {
		return c.enqueue(ctx, entry)
	}

	v, err := c.apply(ctx, entry, true)
	if err != nil {
		return 0, nil, err
	}
	c.stats.SyncCommits.Add(1)
	c.stats.PointsWritten.Add(int64(len(points)))
	return v, nil, nil
}

// Delete commits a range delete [start, end) to a stream. Points in the
// range disappear in the new version; history remains queryable.
func (c *Coordinator) Delete(ctx context.Context, id types.StreamID, start, end int64, durability types.Durability) (types.Version, *Receipt, error) {
	if !c.running.Load() {
		return 0, nil, errors.ErrNotRunning
	}

	if start >= end {
		c.stats.Rejected.Add(1)
		return 0, nil, errors.NewValidation("range", "start must precede end")
	}

	entry := &wal.Entry{
		Stream: id,
		Op:     types.OpDelete,
		Start:  start,
		End:    end,
	}

	if durability == types.DurabilityAsync {
		return c.enqueue(ctx, entry)
	}

	v, err := c.apply(ctx, entry, true)
	if err != nil {
		return 0, nil, err
	}
	c.stats.Deletes.Add(1)
	return v, nil, nil
}

// enqueue hands an entry to the worker pool. The running check repeats
// under stopMu: the caller's check races Stop, and sending on the closed
// queue would panic.
func (c *Coordinator) enqueue(ctx context.Context, entry *wal.Entry) (types.Version, *Receipt, error) {
	r := &Receipt{done: make(chan struct{})}
	t := &task{entry: entry, receipt: r}

	c.stopMu.RLock()
	defer c.stopMu.RUnlock()

	if !c.running.Load() {
		return 0, nil, errors.ErrNotRunning
	}

	select {
	case c.queue <- t:
		c.stats.AsyncCommits.Add(1)
		return 0, r, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()

	for t := range c.queue {
		v, err := c.apply(ctx, t.entry, false)
		if err != nil {
			c.stats.Errors.Add(1)
			c.log.Error("async commit failed", "stream", t.entry.Stream, "error", err)
		} else if t.entry.Op == types.OpInsert {
			c.stats.PointsWritten.Add(int64(len(t.entry.Points)))
		}
		t.receipt.complete(v, err)
	}
}

// apply performs one commit under the stream's gate: assign the next
// version, log it, then publish it to the store. The WAL write precedes
// publication so a crash never exposes an unlogged version. A durable
// commit additionally flushes the log before the version is published,
// regardless of the WAL sync mode.
func (c *Coordinator) apply(ctx context.Context, entry *wal.Entry, durable bool) (types.Version, error) {
	release, err := c.acquire(ctx, entry.Stream)
	if err != nil {
		return 0, err
	}
	defer release()

	entry.Version = c.store.CurrentVersion(entry.Stream) + 1

	if err := c.wal.Append(entry); err != nil {
		return 0, errors.Wrap(err, "wal append")
	}
	if durable {
		if err := c.wal.Sync(); err != nil {
			return 0, errors.Wrap(err, "wal sync")
		}
	}

	var v types.Version
	switch entry.Op {
	case types.OpInsert:
		v = c.store.Insert(entry.Stream, entry.Points)
	case types.OpDelete:
		v = c.store.DeleteRange(entry.Stream, entry.Start, entry.End)
	}

	return v, nil
}

// acquire takes the per-stream gate, waiting at most LockTimeout.
func (c *Coordinator) acquire(ctx context.Context, id types.StreamID) (func(), error) {
	c.gateMu.Lock()
	gate, ok := c.gates[id]
	if !ok {
		gate = make(chan struct{}, 1)
		c.gates[id] = gate
	}
	c.gateMu.Unlock()

	timer := time.NewTimer(c.opts.LockTimeout)
	defer timer.Stop()

	select {
	case gate <- struct{}{}:
		return func() { <-gate }, nil
	case <-timer.C:
		c.stats.LockTimeouts.Add(1)
		return nil, errors.ErrLockTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// validatePoints rejects non-finite values and out-of-range timestamps.
// The index of the first offending point is carried in the error.
func validatePoints(points []types.Point) error {
	if len(points) == 0 {
		return errors.NewValidation("points", "empty batch")
	}

	for i, p := range points {
		if math.IsNaN(p.Value) {
			return errors.NewMalformedSample(i, "value is NaN")
		}
		if math.IsInf(p.Value, 0) {
			return errors.NewMalformedSample(i, "value is infinite")
		}
		if p.Time < types.MinTimestamp || p.Time > types.MaxTimestamp {
			return errors.NewMalformedSample(i, "timestamp out of range")
		}
	}

	return nil
}

// StatsSnapshot is a point-in-time copy of commit statistics.
type StatsSnapshot struct {
	SyncCommits   int64
	AsyncCommits  int64
	Deletes       int64
	PointsWritten int64
	Rejected      int64
	LockTimeouts  int64
	Errors        int64
}

// Stats returns a snapshot of commit statistics.
func (c *Coordinator) Stats() StatsSnapshot {
	return StatsSnapshot{
		SyncCommits:   c.stats.SyncCommits.Load(),
		AsyncCommits:  c.stats.AsyncCommits.Load(),
		Deletes:       c.stats.Deletes.Load(),
		PointsWritten: c.stats.PointsWritten.Load(),
		Rejected:      c.stats.Rejected.Load(),
		LockTimeouts:  c.stats.LockTimeouts.Load(),
		Errors:        c.stats.Errors.Load(),
	}
}
