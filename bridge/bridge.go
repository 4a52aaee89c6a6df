package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/omrbridge/channel"
	"github.com/guseggert/omrbridge/frame"
	"github.com/guseggert/omrbridge/process"
	"github.com/guseggert/omrbridge/readiness"
	"github.com/guseggert/omrbridge/rpc"
	"go.uber.org/zap"
)

type Bridge struct {
	log     *zap.SugaredLogger
	cfg     Config
	session string
	sup     *process.Supervisor
	corr    *rpc.Correlator
	ch      *channel.Channel
	gate    readiness.Gate

	mu          sync.Mutex
	state       State
	proc        *process.Process
	conn        net.Conn
	cancelStart context.CancelCauseFunc
	err         error

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

type Option func(b *Bridge)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithGate replaces the readiness gate selected by Config.Readiness.
func WithGate(g readiness.Gate) Option {
	return func(b *Bridge) {
		b.gate = g
	}
}

func New(cfg Config, opts ...Option) (*Bridge, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bridge config: %w", err)
	}
	b := &Bridge{
		log:     zap.NewNop().Sugar(),
		cfg:     cfg.withDefaults(),
		session: uuid.NewString(),
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.Named("bridge").With("Session", b.session)
	b.sup = &process.Supervisor{Log: b.log}
	b.corr = rpc.New(b.log)

	chOpts := []channel.Option{
		channel.WithLogger(b.log),
		channel.WithErrorHandler(func(err error) {
			b.crash(fmt.Errorf("backend channel failed: %w", err))
		}),
	}
	if b.cfg.MaxLine > 0 {
		chOpts = append(chOpts, channel.WithMaxLine(b.cfg.MaxLine))
	}
	b.ch = channel.New(b.handleLine, chOpts...)

	if b.gate == nil {
		b.gate = b.defaultGate()
	}
	return b, nil
}

func (b *Bridge) defaultGate() readiness.Gate {
	switch b.cfg.Readiness {
	case ReadinessSocketPoll:
		return &readiness.SocketPoll{
			Log:         b.log,
			Addr:        b.cfg.Addr,
			Interval:    b.cfg.RetryInterval,
			Timeout:     b.cfg.ReadyTimeout,
			DialTimeout: b.cfg.DialTimeout,
		}
	case ReadinessDelay:
		return &readiness.Delay{Delay: b.cfg.HandshakeDelay}
	default:
		return &readiness.Handshake{Ready: b.ready, Timeout: b.cfg.ReadyTimeout}
	}
}

// Session identifies this bridge instance in logs.
func (b *Bridge) Session() string { return b.session }

func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Err returns why the bridge crashed, or nil.
func (b *Bridge) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Done is closed once the bridge has terminated or crashed.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Call issues method with params. Calls made before the backend is ready are sent, in order, once it is.
func (b *Bridge) Call(method string, params any) *rpc.Future {
	return b.corr.Call(method, params)
}

// Start launches the backend and waits until it is ready. Calls queued so far are sent before Start
// returns. On failure the backend is stopped, queued calls fail, and the error is a *StartError.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.state != NotStarted {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("bridge already %s", state)
	}
	b.state = Starting
	startCtx, cancel := context.WithCancelCause(ctx)
	b.cancelStart = cancel
	b.mu.Unlock()
	defer cancel(nil)

	b.log.Infow("starting backend", "Command", b.cfg.Command, "Transport", b.cfg.Transport, "Readiness", b.cfg.Readiness)
	start := time.Now()

	backendLog := b.log.Named("backend")
	req := process.StartProcRequest{
		Command:   b.cfg.Command,
		Args:      b.cfg.Args,
		Env:       b.cfg.Env,
		WD:        b.cfg.Dir,
		Stderr:    process.LogWriter(backendLog, "stderr"),
		WaitDelay: b.cfg.ShutdownGrace,
	}
	if b.cfg.Transport == TransportPipe {
		req.Stdout = b.ch
	} else {
		req.Stdout = process.LogWriter(backendLog, "stdout")
	}

	proc, err := b.sup.StartProc(req)
	if err != nil {
		return b.failStart(err)
	}

	b.mu.Lock()
	if b.state != Starting {
		b.mu.Unlock()
		b.terminate(proc)
		return b.failStart(errClosed)
	}
	b.proc = proc
	b.mu.Unlock()
	go b.watchExit(proc, cancel)

	if b.cfg.Transport == TransportPipe {
		b.ch.Start(proc.Stdin())
	}

	err = b.gate.AwaitReady(startCtx)
	if err != nil {
		if startCtx.Err() != nil {
			err = context.Cause(startCtx)
		}
		return b.failStart(err)
	}

	if b.cfg.Transport == TransportSocket {
		if err := b.connect(startCtx); err != nil {
			return b.failStart(err)
		}
	}

	b.mu.Lock()
	if b.state != Starting {
		b.mu.Unlock()
		return b.failStart(context.Cause(startCtx))
	}
	b.state = Ready
	b.corr.Open(b.send)
	b.mu.Unlock()

	b.log.Infow("backend ready", "PID", proc.PID(), "ElapsedMS", time.Since(start).Milliseconds())
	return nil
}

func (b *Bridge) connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: b.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", b.cfg.Addr)
	if err != nil {
		return fmt.Errorf("connecting to backend at %s: %w", b.cfg.Addr, err)
	}

	b.mu.Lock()
	if b.state != Starting {
		b.mu.Unlock()
		conn.Close()
		return errClosed
	}
	b.conn = conn
	b.mu.Unlock()

	b.ch.Start(conn)
	go func() {
		_, err := b.ch.ReadFrom(conn)
		if err == nil {
			err = errors.New("backend closed the connection")
		}
		b.crash(fmt.Errorf("connection to backend lost: %w", err))
	}()
	return nil
}

func (b *Bridge) send(req frame.Request) error {
	line, err := req.MarshalLine()
	if err != nil {
		return err
	}
	return b.ch.Send(line)
}

func (b *Bridge) handleLine(line []byte) {
	if len(line) == 0 {
		return
	}
	msg, err := frame.Decode(line)
	if err != nil {
		b.log.Warnw("skipping malformed frame", "Error", err)
		return
	}
	if msg.Kind == frame.KindReady {
		b.readyOnce.Do(func() {
			b.log.Debug("backend sent ready handshake")
			close(b.ready)
		})
		return
	}
	b.corr.Resolve(msg)
}

func (b *Bridge) watchExit(proc *process.Process, cancelStart context.CancelCauseFunc) {
	<-proc.Done()
	res := proc.Result()
	err := fmt.Errorf("%w: backend exited with code %d", rpc.ErrBackendUnavailable, res.ExitCode)
	if res.Err != nil {
		err = fmt.Errorf("%w: backend exited with code %d: %w", rpc.ErrBackendUnavailable, res.ExitCode, res.Err)
	}
	cancelStart(err)
	b.crash(err)
}

// crash moves a starting or ready bridge to Crashed and fails every outstanding call.
// It has no effect once the bridge has terminated or crashed.
func (b *Bridge) crash(cause error) {
	if !errors.Is(cause, rpc.ErrBackendUnavailable) {
		cause = fmt.Errorf("%w: %w", rpc.ErrBackendUnavailable, cause)
	}

	b.mu.Lock()
	if b.state.Final() {
		b.mu.Unlock()
		return
	}
	b.state = Crashed
	b.err = cause
	proc := b.proc
	conn := b.conn
	b.mu.Unlock()

	b.log.Errorw("backend crashed", "Error", cause)
	b.corr.Close(cause, cause)
	b.ch.Close()
	if conn != nil {
		conn.Close()
	}
	if proc != nil {
		go b.terminate(proc)
	}
	b.doneOnce.Do(func() { close(b.done) })
}

func (b *Bridge) failStart(err error) error {
	b.crash(err)
	b.mu.Lock()
	proc := b.proc
	b.mu.Unlock()
	if proc != nil {
		b.terminate(proc)
	}
	return &StartError{Command: b.cfg.Command, Addr: b.cfg.Addr, Err: err}
}

func (b *Bridge) terminate(proc *process.Process) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*b.cfg.ShutdownGrace)
	defer cancel()
	err := proc.Terminate(ctx, b.cfg.ShutdownGrace)
	if err != nil {
		b.log.Warnw("error stopping backend", "PID", proc.PID(), "Error", err)
	}
}

// Close stops the backend and fails outstanding calls. Calls made afterwards fail with
// rpc.ErrNotInitialized. Only the first Close does any work.
func (b *Bridge) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.closeErr = b.close(ctx)
	})
	return b.closeErr
}

func (b *Bridge) close(ctx context.Context) error {
	b.mu.Lock()
	if !b.state.Final() {
		b.state = Terminated
	}
	proc := b.proc
	conn := b.conn
	cancel := b.cancelStart
	b.mu.Unlock()

	b.log.Info("shutting down backend")
	if cancel != nil {
		cancel(errClosed)
	}
	b.corr.Close(fmt.Errorf("%w: bridge shut down", rpc.ErrBackendUnavailable), rpc.ErrNotInitialized)
	b.ch.Close()
	if conn != nil {
		conn.Close()
	}
	b.doneOnce.Do(func() { close(b.done) })

	if proc == nil {
		return nil
	}
	err := proc.Terminate(ctx, b.cfg.ShutdownGrace)
	if err != nil {
		return fmt.Errorf("stopping backend: %w", err)
	}
	return nil
}
