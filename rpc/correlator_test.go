package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/omrbridge/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"
)

// wire records transmitted requests in order.
type wire struct {
	mu   sync.Mutex
	reqs []frame.Request
	err  error
}

func (w *wire) send(req frame.Request) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.reqs = append(w.reqs, req)
	return nil
}

func (w *wire) sent() []frame.Request {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]frame.Request(nil), w.reqs...)
}

func newCorrelator(t *testing.T) *Correlator {
	return New(zaptest.NewLogger(t).Sugar())
}

func waitResult(t *testing.T, f *Future) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := f.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "future for %s never completed", f.Method())
	return res, err
}

func TestQueuedCallIsSentOnOpen(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{}

	f := c.Call("get_exams", nil)
	assert.Equal(t, int64(0), f.ID())
	assert.Equal(t, 1, c.Queued())
	assert.Empty(t, w.sent())

	c.Open(w.send)

	sent := w.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(1), sent[0].ID)
	assert.Equal(t, "get_exams", sent[0].Method)
	assert.JSONEq(t, `{}`, string(sent[0].Params))
	assert.Equal(t, int64(1), f.ID())

	assert.True(t, c.Resolve(frame.Inbound{Kind: frame.KindResponse, ID: 1, Result: json.RawMessage(`[]`)}))
	res, err := waitResult(t, f)
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(res))
	assert.Equal(t, 0, c.Pending())
}

func TestQueueDrainsInSubmissionOrder(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{}

	const n = 50
	var futures []*Future
	for i := 0; i < n; i++ {
		futures = append(futures, c.Call(fmt.Sprintf("m%d", i), map[string]int{"i": i}))
	}
	c.Open(w.send)

	// live calls made after Open follow the drained queue
	futures = append(futures, c.Call("after", nil))

	sent := w.sent()
	require.Len(t, sent, n+1)
	for i := 0; i < n; i++ {
		assert.Equal(t, fmt.Sprintf("m%d", i), sent[i].Method)
		assert.Equal(t, int64(i+1), sent[i].ID)
		assert.Equal(t, int64(i+1), futures[i].ID())
	}
	assert.Equal(t, "after", sent[n].Method)
	assert.Equal(t, int64(n+1), sent[n].ID)
}

func TestIDsStrictlyIncreaseUnderConcurrency(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{}
	c.Open(w.send)

	var group errgroup.Group
	for g := 0; g < 8; g++ {
		group.Go(func() error {
			for i := 0; i < 100; i++ {
				c.Call("get_settings", nil)
			}
			return nil
		})
	}
	require.NoError(t, group.Wait())

	sent := w.sent()
	require.Len(t, sent, 800)
	for i, req := range sent {
		// send order is id order: ids are allocated and transmitted under one lock
		assert.Equal(t, int64(i+1), req.ID)
	}
}

func TestOutOfOrderReplies(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{}
	c.Open(w.send)

	createExam := c.Call("create_exam", map[string]string{"name": "Midterm"})
	getSettings := c.Call("get_settings", nil)
	require.Equal(t, int64(1), createExam.ID())
	require.Equal(t, int64(2), getSettings.ID())

	c.Resolve(frame.Inbound{Kind: frame.KindResponse, ID: 2, Result: json.RawMessage(`{"scanner":{}}`)})
	c.Resolve(frame.Inbound{Kind: frame.KindResponse, ID: 1, Result: json.RawMessage(`{"examId":"EXAM_1"}`)})

	res, err := waitResult(t, createExam)
	require.NoError(t, err)
	assert.JSONEq(t, `{"examId":"EXAM_1"}`, string(res))

	res, err = waitResult(t, getSettings)
	require.NoError(t, err)
	assert.JSONEq(t, `{"scanner":{}}`, string(res))
}

func TestFaultIsPassedThroughVerbatim(t *testing.T) {
	c := newCorrelator(t)
	c.Open((&wire{}).send)

	f := c.Call("get_exam", map[string]string{"examId": "missing"})
	c.Resolve(frame.Inbound{Kind: frame.KindFault, ID: f.ID(), Message: "Exam not found"})

	_, err := waitResult(t, f)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, "Exam not found", err.Error())
	assert.Equal(t, "get_exam", remote.Method)
	assert.Equal(t, f.ID(), remote.ID)
}

func TestUnmatchedReplyIsDropped(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{}
	c.Open(w.send)

	f := c.Call("get_exams", nil)

	assert.NotPanics(t, func() {
		assert.False(t, c.Resolve(frame.Inbound{Kind: frame.KindResponse, ID: 5, Result: json.RawMessage(`{}`)}))
		assert.False(t, c.Resolve(frame.Inbound{Kind: frame.KindFault, ID: 0, Message: "Unknown method"}))
	})
	assert.Equal(t, 1, c.Pending())
	select {
	case <-f.Done():
		t.Fatal("unrelated call was completed")
	default:
	}

	// the session keeps serving
	c.Resolve(frame.Inbound{Kind: frame.KindResponse, ID: 1, Result: json.RawMessage(`[]`)})
	_, err := waitResult(t, f)
	require.NoError(t, err)
}

func TestReplyCompletesExactlyOnce(t *testing.T) {
	c := newCorrelator(t)
	c.Open((&wire{}).send)

	f := c.Call("get_exams", nil)
	assert.True(t, c.Resolve(frame.Inbound{Kind: frame.KindResponse, ID: 1, Result: json.RawMessage(`[1]`)}))
	// a duplicate reply for the same id has nothing left to complete
	assert.False(t, c.Resolve(frame.Inbound{Kind: frame.KindFault, ID: 1, Message: "late"}))
	c.Close(ErrBackendUnavailable, ErrNotInitialized)

	res, err := waitResult(t, f)
	require.NoError(t, err)
	assert.JSONEq(t, `[1]`, string(res))
}

func TestCloseFailsOutstandingCalls(t *testing.T) {
	c := newCorrelator(t)
	queued := c.Call("get_exams", nil)

	c2 := newCorrelator(t)
	c2.Open((&wire{}).send)
	inflight := c2.Call("get_exams", nil)

	crash := fmt.Errorf("%w: backend exited with code 1", ErrBackendUnavailable)
	c.Close(crash, crash)
	c2.Close(crash, ErrNotInitialized)

	_, err := waitResult(t, queued)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	_, err = waitResult(t, inflight)
	assert.ErrorIs(t, err, ErrBackendUnavailable)

	// never queued after close
	late := c.Call("get_exams", nil)
	_, err = waitResult(t, late)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.Equal(t, 0, c.Queued())

	late = c2.Call("get_exams", nil)
	_, err = waitResult(t, late)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestSendFailureFailsCall(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{err: errors.New("channel closed")}
	c.Open(w.send)

	f := c.Call("get_exams", nil)
	_, err := waitResult(t, f)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
	assert.ErrorContains(t, err, "channel closed")
	assert.Equal(t, 0, c.Pending())

	// the failed id is not reused
	w.err = nil
	f = c.Call("get_exams", nil)
	assert.Equal(t, int64(2), f.ID())
}

func TestInvalidParamsFailWithoutID(t *testing.T) {
	c := newCorrelator(t)
	w := &wire{}
	c.Open(w.send)

	f := c.Call("upload_students", []string{"not", "an", "object"})
	_, err := waitResult(t, f)
	assert.ErrorIs(t, err, frame.ErrParamsNotObject)
	assert.Empty(t, w.sent())

	f = c.Call("get_exams", nil)
	assert.Equal(t, int64(1), f.ID())
}

func TestWaitHonorsContext(t *testing.T) {
	c := newCorrelator(t)
	f := c.Call("get_exams", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// still queued; giving up the wait does not cancel the call
	assert.Equal(t, 1, c.Queued())
}
