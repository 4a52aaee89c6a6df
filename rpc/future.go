package rpc

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Future is the eventual outcome of one call. It is completed exactly once.
type Future struct {
	method string
	id     atomic.Int64

	once   sync.Once
	done   chan struct{}
	result json.RawMessage
	err    error
}

func newFuture(method string) *Future {
	return &Future{method: method, done: make(chan struct{})}
}

// Failed returns a future that is already completed with err.
func Failed(method string, err error) *Future {
	f := newFuture(method)
	f.complete(nil, err)
	return f
}

func (f *Future) Method() string { return f.method }

// ID returns the correlation id, or 0 while the call is still queued.
func (f *Future) ID() int64 { return f.id.Load() }

// Done is closed once the call has completed.
func (f *Future) Done() <-chan struct{} { return f.done }

// Result returns the outcome of a completed call. It must only be called after Done is closed.
func (f *Future) Result() (json.RawMessage, error) {
	<-f.done
	return f.result, f.err
}

// Wait blocks until the call completes or ctx is done.
// Giving up on the wait does not cancel the call; its reply is still correlated and discarded.
func (f *Future) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// complete reports whether this call was the one that completed the future.
func (f *Future) complete(result json.RawMessage, err error) bool {
	completed := false
	f.once.Do(func() {
		f.result = result
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}
