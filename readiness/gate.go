// Package readiness decides when a freshly started backend can accept requests.
package readiness

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultInterval    = time.Second
	DefaultTimeout     = 30 * time.Second
	DefaultDialTimeout = time.Second
)

// Gate blocks until the backend is ready, the budget is spent, or ctx is done.
type Gate interface {
	AwaitReady(ctx context.Context) error
}

// TimeoutError means the backend never became ready within the budget.
type TimeoutError struct {
	Elapsed  time.Duration
	Attempts int
	// Last is the most recent probe failure, if any.
	Last error
}

func (e *TimeoutError) Error() string {
	if e.Last != nil {
		return fmt.Sprintf("backend not ready after %dms (%d attempts): %s", e.ElapsedMS(), e.Attempts, e.Last)
	}
	return fmt.Sprintf("backend not ready after %dms", e.ElapsedMS())
}

func (e *TimeoutError) Unwrap() error { return e.Last }

func (e *TimeoutError) ElapsedMS() int64 { return e.Elapsed.Milliseconds() }

// SocketPoll is ready once a TCP connection to Addr succeeds.
// The probe connection carries no payload and is closed immediately.
type SocketPoll struct {
	Log     *zap.SugaredLogger
	Network string
	Addr    string

	// Interval is the pause between attempts. The first attempt is made immediately.
	Interval time.Duration
	// Timeout is the total budget across all attempts.
	Timeout     time.Duration
	DialTimeout time.Duration

	// Dial defaults to a net.Dialer.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (g *SocketPoll) AwaitReady(ctx context.Context) error {
	log := g.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	log = log.Named("readiness").With("Addr", g.Addr)
	network := g.Network
	if network == "" {
		network = "tcp"
	}
	interval := orDefault(g.Interval, DefaultInterval)
	budget := orDefault(g.Timeout, DefaultTimeout)
	dialTimeout := orDefault(g.DialTimeout, DefaultDialTimeout)
	dial := g.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	start := time.Now()
	deadline := time.NewTimer(budget)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var (
		attempts int
		last     error
	)
	for {
		attempts++
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		conn, err := dial(dialCtx, network, g.Addr)
		cancel()
		if err == nil {
			conn.Close()
			log.Debugw("backend accepting connections", "Attempts", attempts, "ElapsedMS", time.Since(start).Milliseconds())
			return nil
		}
		last = err
		log.Debugw("backend not accepting connections yet", "Attempt", attempts, "Error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return &TimeoutError{Elapsed: time.Since(start), Attempts: attempts, Last: last}
		case <-ticker.C:
		}
	}
}

// Handshake is ready once Ready is closed, which the bridge does when the backend prints its
// READY line.
type Handshake struct {
	Ready   <-chan struct{}
	Timeout time.Duration
}

func (g *Handshake) AwaitReady(ctx context.Context) error {
	start := time.Now()
	timer := time.NewTimer(orDefault(g.Timeout, DefaultTimeout))
	defer timer.Stop()
	select {
	case <-g.Ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &TimeoutError{Elapsed: time.Since(start), Attempts: 1}
	}
}

// Delay assumes the backend is ready after a fixed pause.
// It is the fallback for backends that print no handshake and listen on no socket.
type Delay struct {
	Delay time.Duration
}

func (g *Delay) AwaitReady(ctx context.Context) error {
	timer := time.NewTimer(g.Delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
