// Package channel carries newline-delimited frames between the bridge and the backend,
// over either the backend's stdio pipes or a TCP connection.
package channel

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxLine is large enough for batch OMR replies carrying base64 sheet data.
const DefaultMaxLine = 64 << 20

const readChunk = 32 * 1024

var (
	ErrClosed = errors.New("channel closed")
	// ErrLineTooLong means the peer sent a line longer than the channel's MaxLine.
	ErrLineTooLong = errors.New("inbound line too long")
)

// Channel is a duplex line transport.
//
// Outbound lines are queued by Send and written in order by a single writer goroutine, so Send never
// blocks on a slow peer. Inbound bytes arrive through Write (for example as an exec.Cmd's Stdout) or
// ReadFrom (for a net.Conn) and are handed to the line handler one complete line at a time.
type Channel struct {
	log     *zap.SugaredLogger
	onError func(error)

	inMu  sync.Mutex
	lines LineBuffer

	mu     sync.Mutex
	outbox [][]byte
	err    error

	wake      chan struct{}
	closed    chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

type Option func(c *Channel)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(c *Channel) {
		c.log = l.Named("channel")
	}
}

// WithMaxLine bounds the length of a single inbound line.
func WithMaxLine(n int) Option {
	return func(c *Channel) {
		c.lines.MaxLine = n
	}
}

// WithErrorHandler registers a function called once if the channel fails, either while writing or
// because an inbound line exceeded the line limit.
func WithErrorHandler(f func(error)) Option {
	return func(c *Channel) {
		c.onError = f
	}
}

// New constructs a channel that passes each complete inbound line to onLine.
// onLine runs on the goroutine delivering inbound bytes and must not retain the slice.
func New(onLine func(line []byte), opts ...Option) *Channel {
	c := &Channel{
		log:    zap.NewNop().Sugar(),
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	c.lines = LineBuffer{
		Emit:    onLine,
		MaxLine: DefaultMaxLine,
	}
	for _, o := range opts {
		o(c)
	}
	c.lines.Overflow = func(dropped int) {
		c.log.Warnw("discarded oversized inbound line", "Bytes", dropped, "MaxLine", c.lines.MaxLine)
		c.fail(fmt.Errorf("%w: %d bytes, limit %d", ErrLineTooLong, dropped, c.lines.MaxLine))
	}
	return c
}

// Start begins writing queued lines to w. Lines sent before Start are kept and written first.
func (c *Channel) Start(w io.Writer) {
	c.startOnce.Do(func() {
		go c.writeLoop(w)
	})
}

// Send queues one line for transmission, appending the newline if it is missing.
func (c *Channel) Send(line []byte) error {
	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line[:len(line):len(line)], '\n')
	}

	c.mu.Lock()
	select {
	case <-c.closed:
		err := c.err
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("%w: %w", ErrClosed, err)
		}
		return ErrClosed
	default:
	}
	c.outbox = append(c.outbox, line)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return nil
}

// Write feeds inbound bytes. It never fails so that a process copying its stdout into the channel
// is not cut off; bytes arriving after Close are dropped.
func (c *Channel) Write(p []byte) (int, error) {
	select {
	case <-c.closed:
		return len(p), nil
	default:
	}

	c.inMu.Lock()
	defer c.inMu.Unlock()
	return c.lines.Write(p)
}

// ReadFrom feeds inbound bytes from r until EOF, a read error, or Close.
// It returns nil on EOF.
func (c *Channel) ReadFrom(r io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, readChunk)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			_, _ = c.Write(buf[:n])
		}
		if err != nil {
			if pending := c.Pending(); pending > 0 {
				c.log.Warnw("inbound stream ended mid-line", "PendingBytes", pending)
			}
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			return total, err
		}
		select {
		case <-c.closed:
			return total, nil
		default:
		}
	}
}

// Pending returns the number of inbound bytes waiting for a newline.
func (c *Channel) Pending() int {
	c.inMu.Lock()
	defer c.inMu.Unlock()
	return c.lines.Pending()
}

// Close stops the writer and discards unsent lines. It does not close the underlying writer.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		dropped := len(c.outbox)
		c.outbox = nil
		close(c.closed)
		c.mu.Unlock()
		if dropped > 0 {
			c.log.Debugw("closed with unsent lines", "Count", dropped)
		}
	})
	return nil
}

// Done is closed when the channel has been closed, by Close or by a failure.
func (c *Channel) Done() <-chan struct{} {
	return c.closed
}

// Err returns the failure that closed the channel, if any.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Channel) writeLoop(w io.Writer) {
	for {
		c.mu.Lock()
		batch := c.outbox
		c.outbox = nil
		c.mu.Unlock()

		for _, line := range batch {
			select {
			case <-c.closed:
				return
			default:
			}
			if _, err := w.Write(line); err != nil {
				c.fail(fmt.Errorf("writing frame: %w", err))
				return
			}
		}

		select {
		case <-c.closed:
			return
		case <-c.wake:
		}
	}
}

func (c *Channel) fail(err error) {
	first := false
	c.mu.Lock()
	if c.err == nil {
		select {
		case <-c.closed:
		default:
			c.err = err
			first = true
		}
	}
	c.mu.Unlock()
	if !first {
		return
	}

	c.log.Debugw("channel failed", "Error", err)
	c.Close()
	if c.onError != nil {
		c.onError(err)
	}
}
