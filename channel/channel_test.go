package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) add(line []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, string(line))
}

func (r *lineRecorder) get() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func TestSendPreservesOrder(t *testing.T) {
	pr, pw := io.Pipe()
	ch := New(nil, WithLogger(zaptest.NewLogger(t).Sugar()))
	t.Cleanup(func() {
		ch.Close()
		pw.Close()
	})

	// queued before the writer exists
	require.NoError(t, ch.Send([]byte("line-0")))
	ch.Start(pw)

	const n = 200
	go func() {
		for i := 1; i < n; i++ {
			_ = ch.Send([]byte(fmt.Sprintf("line-%d\n", i)))
		}
	}()

	scanner := bufio.NewScanner(pr)
	for i := 0; i < n; i++ {
		require.True(t, scanner.Scan())
		assert.Equal(t, fmt.Sprintf("line-%d", i), scanner.Text())
	}
}

func TestWriteEmitsCompleteLines(t *testing.T) {
	rec := &lineRecorder{}
	ch := New(rec.add)

	_, _ = ch.Write([]byte("RESPONSE:{\"id\":1,\"result\":1}\nRESPONSE:{\"id\""))
	assert.Equal(t, []string{`RESPONSE:{"id":1,"result":1}`}, rec.get())
	assert.Equal(t, len(`RESPONSE:{"id"`), ch.Pending())

	_, _ = ch.Write([]byte(":2,\"result\":2}\n"))
	assert.Equal(t, []string{`RESPONSE:{"id":1,"result":1}`, `RESPONSE:{"id":2,"result":2}`}, rec.get())

	require.NoError(t, ch.Close())
	n, err := ch.Write([]byte("late\n"))
	assert.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, rec.get(), 2)
}

// slowReader returns its data a few bytes at a time to exercise reassembly across reads.
type slowReader struct {
	r     io.Reader
	chunk int
}

func (s *slowReader) Read(p []byte) (int, error) {
	if len(p) > s.chunk {
		p = p[:s.chunk]
	}
	return s.r.Read(p)
}

func TestReadFrom(t *testing.T) {
	rec := &lineRecorder{}
	ch := New(rec.add, WithLogger(zaptest.NewLogger(t).Sugar()))

	input := "READY\nRESPONSE:{\"id\":1,\"result\":[]}\nERROR:{\"id\":2,\"message\":\"nope\"}\ntrailing"
	n, err := ch.ReadFrom(&slowReader{r: strings.NewReader(input), chunk: 3})
	require.NoError(t, err)
	assert.Equal(t, int64(len(input)), n)
	assert.Equal(t, []string{
		"READY",
		`RESPONSE:{"id":1,"result":[]}`,
		`ERROR:{"id":2,"message":"nope"}`,
	}, rec.get())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errors.New("broken pipe") }

func TestWriteFailureClosesChannel(t *testing.T) {
	errCh := make(chan error, 1)
	ch := New(nil, WithErrorHandler(func(err error) { errCh <- err }))
	ch.Start(failingWriter{})

	require.NoError(t, ch.Send([]byte("hello")))

	select {
	case err := <-errCh:
		assert.ErrorContains(t, err, "broken pipe")
	case <-time.After(5 * time.Second):
		t.Fatal("error handler was not called")
	}

	<-ch.Done()
	assert.ErrorContains(t, ch.Err(), "broken pipe")

	err := ch.Send([]byte("again"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorContains(t, err, "broken pipe")
}

func TestOversizedLineFailsChannel(t *testing.T) {
	rec := &lineRecorder{}
	errCh := make(chan error, 1)
	ch := New(rec.add, WithMaxLine(16), WithErrorHandler(func(err error) { errCh <- err }))

	_, _ = ch.Write([]byte("READY\n"))
	_, _ = ch.Write([]byte(`RESPONSE:{"id":1,"result":"` + strings.Repeat("x", 32)))
	_, _ = ch.Write([]byte("\"}\n"))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrLineTooLong)
	case <-time.After(5 * time.Second):
		t.Fatal("error handler was not called")
	}
	<-ch.Done()
	assert.ErrorIs(t, ch.Err(), ErrLineTooLong)
	assert.ErrorIs(t, ch.Send([]byte("next")), ErrClosed)
	assert.Equal(t, []string{"READY"}, rec.get())
}

func TestSendAfterClose(t *testing.T) {
	ch := New(nil)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())
	assert.ErrorIs(t, ch.Send([]byte("x")), ErrClosed)
	assert.NoError(t, ch.Err())
}
