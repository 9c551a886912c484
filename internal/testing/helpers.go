// Package testing provides test helpers shared across the berrydb packages.
//
// t.Fatal and t.FailNow must not be called from goroutines other than the
// test goroutine: they call runtime.Goexit, which only terminates the
// calling goroutine. The helpers here collect errors from worker goroutines
// and report them from the test goroutine instead.
package testing

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// TestHelper collects errors from goroutines spawned by a test.
//
// Usage:
//
//	h := NewTestHelper(t)
//	defer h.Wait()
//
//	for i := 0; i < 10; i++ {
//	    h.Add(1)
//	    go func(id int) {
//	        defer h.Done()
//	        if err := commitBatch(id); err != nil {
//	            h.Errorf("worker %d: %v", id, err)
//	        }
//	    }(i)
//	}
type TestHelper struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
}

// NewTestHelper returns a helper tracking goroutines for one test.
func NewTestHelper(t *testing.T) *TestHelper {
	return &TestHelper{
		t:      t,
		errors: make(chan error, 100),
	}
}

// Add registers a goroutine that will report through Done or Errorf.
func (h *TestHelper) Add(delta int) {
	h.wg.Add(delta)
}

// Done marks one tracked goroutine as finished.
func (h *TestHelper) Done() {
	h.wg.Done()
}

// Errorf records a test error. Safe to call from any goroutine.
func (h *TestHelper) Errorf(format string, args ...interface{}) {
	select {
	case h.errors <- fmt.Errorf(format, args...):
	default:
		// Buffer full, error is lost but the test still fails.
	}
}

// Error records a test error. Safe to call from any goroutine.
func (h *TestHelper) Error(err error) {
	if err == nil {
		return
	}
	select {
	case h.errors <- err:
	default:
	}
}

// Wait waits for all goroutines and reports collected errors. Call it from
// the test goroutine, typically via defer.
func (h *TestHelper) Wait() {
	h.wg.Wait()
	close(h.errors)

	var failed bool
	for err := range h.errors {
		h.t.Errorf("goroutine error: %v", err)
		failed = true
	}

	if failed {
		h.t.FailNow()
	}
}

// WithTimeout runs fn and fails with a timeout error if it does not return
// within d.
func WithTimeout(d time.Duration, fn func() error) error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- fn()
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(d):
		return fmt.Errorf("timeout after %v", d)
	}
}

// Eventually polls cond every interval until it returns true or the timeout
// elapses.
func Eventually(timeout, interval time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}
