// Package rpc turns a line transport into request/response calls.
//
// The Correlator numbers every request, holds calls made before the transport is ready, and matches
// replies back to their callers by id. Replies may arrive in any order.
package rpc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/guseggert/omrbridge/frame"
	"go.uber.org/zap"
)

// SendFunc transmits one request. It is called with the correlator's lock held, in id order,
// so it must not block.
type SendFunc func(req frame.Request) error

type state int

const (
	stateQueueing state = iota
	stateOpen
	stateClosed
)

type queuedCall struct {
	method string
	params json.RawMessage
	future *Future
}

// Correlator is safe for concurrent use. The id counter, pending map and queue share a single lock.
type Correlator struct {
	log *zap.SugaredLogger

	mu        sync.Mutex
	state     state
	send      SendFunc
	nextID    int64
	pending   map[int64]*Future
	queue     []queuedCall
	closedErr error
}

func New(log *zap.SugaredLogger) *Correlator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Correlator{
		log:     log.Named("correlator"),
		pending: map[int64]*Future{},
	}
}

// Call issues method with params and returns immediately.
// Before Open the call is queued; after Close it fails immediately.
func (c *Correlator) Call(method string, params any) *Future {
	raw, err := frame.EncodeParams(params)
	if err != nil {
		return Failed(method, fmt.Errorf("%s: %w", method, err))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateQueueing:
		f := newFuture(method)
		c.queue = append(c.queue, queuedCall{method: method, params: raw, future: f})
		c.log.Debugw("queued call", "Method", method, "Queued", len(c.queue))
		return f
	case stateOpen:
		f := newFuture(method)
		c.transmit(method, raw, f)
		return f
	default:
		return Failed(method, c.closedErr)
	}
}

// Open starts live transmission through send, first draining queued calls in submission order.
// Open on an open or closed correlator is a no-op.
func (c *Correlator) Open(send SendFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != stateQueueing {
		return
	}
	c.state = stateOpen
	c.send = send

	queue := c.queue
	c.queue = nil
	if len(queue) > 0 {
		c.log.Debugw("draining queued calls", "Count", len(queue))
	}
	for _, q := range queue {
		c.transmit(q.method, q.params, q.future)
	}
}

// transmit must be called with c.mu held.
func (c *Correlator) transmit(method string, params json.RawMessage, f *Future) {
	c.nextID++
	id := c.nextID
	f.id.Store(id)
	c.pending[id] = f

	err := c.send(frame.Request{ID: id, Method: method, Params: params})
	if err != nil {
		delete(c.pending, id)
		f.complete(nil, fmt.Errorf("%w: sending %s (id %d): %w", ErrBackendUnavailable, method, id, err))
		return
	}
	c.log.Debugw("sent request", "ID", id, "Method", method)
}

// Resolve completes the call matching msg.ID. Frames with no matching call are logged and dropped.
// It reports whether a call was completed.
func (c *Correlator) Resolve(msg frame.Inbound) bool {
	if msg.Kind != frame.KindResponse && msg.Kind != frame.KindFault {
		return false
	}

	c.mu.Lock()
	f, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
	}
	c.mu.Unlock()

	if !ok {
		c.log.Warnw("dropping reply with no pending call", "ID", msg.ID, "Kind", msg.Kind)
		return false
	}

	if msg.Kind == frame.KindFault {
		c.log.Debugw("call failed", "ID", msg.ID, "Method", f.method, "Message", msg.Message)
		return f.complete(nil, &RemoteError{ID: msg.ID, Method: f.method, Message: msg.Message})
	}
	c.log.Debugw("call succeeded", "ID", msg.ID, "Method", f.method)
	return f.complete(msg.Result, nil)
}

// Close fails every pending and queued call with inflight and makes later calls fail with subsequent.
// Only the first Close has any effect.
func (c *Correlator) Close(inflight, subsequent error) {
	if inflight == nil {
		inflight = ErrBackendUnavailable
	}
	if subsequent == nil {
		subsequent = ErrNotInitialized
	}

	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosed
	c.closedErr = subsequent
	pending := c.pending
	queue := c.queue
	c.pending = map[int64]*Future{}
	c.queue = nil
	c.send = nil
	c.mu.Unlock()

	if n := len(pending) + len(queue); n > 0 {
		c.log.Debugw("failing outstanding calls", "Pending", len(pending), "Queued", len(queue), "Error", inflight)
	}
	for _, q := range queue {
		q.future.complete(nil, inflight)
	}
	for _, f := range pending {
		f.complete(nil, inflight)
	}
}

// Pending returns the number of transmitted calls awaiting a reply.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Queued returns the number of calls waiting for Open.
func (c *Correlator) Queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
