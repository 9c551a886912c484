// Package sync provides synchronization primitives used by the client.
package sync

import (
	"sync"
	"sync/atomic"
)

// ResettableOnce is like sync.Once but can be reset so the function runs
// again. The client uses it to guard teardown across reconnects: sync.Once
// cannot be safely reused once fired, while a reconnecting client needs
// close-then-reopen cycles.
//
// ResettableOnce is safe for concurrent use. Reset blocks until any
// in-flight Do completes.
type ResettableOnce struct {
	done uint32
	m    sync.Mutex
}

// Do calls f if and only if Do has not completed since the last Reset.
// Concurrent callers block until f returns, then return without calling f.
func (o *ResettableOnce) Do(f func()) {
	if atomic.LoadUint32(&o.done) == 1 {
		return
	}

	o.m.Lock()
	defer o.m.Unlock()

	if o.done == 0 {
		defer atomic.StoreUint32(&o.done, 1)
		f()
	}
}

// DoWithError is Do for functions that can fail. If f returns an error the
// Once is not marked done, so the next call retries.
func (o *ResettableOnce) DoWithError(f func() error) error {
	if atomic.LoadUint32(&o.done) == 1 {
		return nil
	}

	o.m.Lock()
	defer o.m.Unlock()

	if o.done == 0 {
		if err := f(); err != nil {
			return err
		}
		atomic.StoreUint32(&o.done, 1)
	}

	return nil
}

// Reset allows Do to run its function again.
func (o *ResettableOnce) Reset() {
	o.m.Lock()
	defer o.m.Unlock()
	atomic.StoreUint32(&o.done, 0)
}

// Done reports whether Do has completed since the last Reset.
func (o *ResettableOnce) Done() bool {
	return atomic.LoadUint32(&o.done) == 1
}
