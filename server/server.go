package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/omrbridge/bridge"
	"github.com/guseggert/omrbridge/dispatch"
	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	DefaultListenAddr  = "127.0.0.1:7420"
	DefaultCallTimeout = 5 * time.Minute

	// DefaultMaxBody leaves room for batches of base64 encoded scans.
	DefaultMaxBody = 256 << 20
)

// StatusSource reports the health of the bridge behind the server.
type StatusSource interface {
	State() bridge.State
	Session() string
	Err() error
}

type Server struct {
	log         *zap.SugaredLogger
	dispatcher  *dispatch.Dispatcher
	status      StatusSource
	listenAddr  string
	callTimeout time.Duration
	maxBody     int64
	origins     []string

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closing    chan struct{}
	closeOnce  sync.Once
}

type Option func(s *Server)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(s *Server) {
		s.log = l
	}
}

func WithListenAddr(addr string) Option {
	return func(s *Server) {
		s.listenAddr = addr
	}
}

// WithCallTimeout bounds how long a single HTTP or WebSocket call may wait for the backend.
func WithCallTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.callTimeout = d
	}
}

// WithMaxBody bounds the size of an HTTP request body or WebSocket message.
func WithMaxBody(n int64) Option {
	return func(s *Server) {
		s.maxBody = n
	}
}

// WithOriginPatterns allows WebSocket connections from the given origins, for example the UI's dev server.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) {
		s.origins = patterns
	}
}

func New(d *dispatch.Dispatcher, status StatusSource, opts ...Option) *Server {
	s := &Server{
		log:         zap.NewNop().Sugar(),
		dispatcher:  d,
		status:      status,
		listenAddr:  DefaultListenAddr,
		callTimeout: DefaultCallTimeout,
		maxBody:     DefaultMaxBody,
		closing:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("server")
	return s
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/health", s.health)
	router.GET("/methods", s.methods)
	router.POST("/invoke/:method", s.invoke)
	router.GET("/ws", s.ws)
	return router
}

// Listen binds the listen address, so callers can learn the port before calling Run.
func (s *Server) Listen() (net.Addr, error) {
	l, err := net.Listen("tcp", s.listenAddr)
	if err != nil {
		return nil, fmt.Errorf("listening TCP: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
	return l.Addr(), nil
}

// Run serves until Shutdown is called, listening first if Listen has not been called.
func (s *Server) Run() error {
	s.mu.Lock()
	l := s.listener
	s.mu.Unlock()
	if l == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		l = s.listener
		s.mu.Unlock()
	}

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	select {
	case <-s.closing:
		s.mu.Unlock()
		return l.Close()
	default:
	}
	s.httpServer = server
	s.mu.Unlock()

	s.log.Infow("serving", "Addr", l.Addr().String())
	err := server.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, closes WebSocket conns, and waits for in-flight HTTP calls.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closeOnce.Do(func() { close(s.closing) })
	server := s.httpServer
	l := s.listener
	s.mu.Unlock()
	if server == nil {
		if l != nil {
			return l.Close()
		}
		return nil
	}
	return server.Shutdown(ctx)
}

func (s *Server) currentStatus() Status {
	st := Status{
		State:   s.status.State().String(),
		Session: s.status.Session(),
	}
	if err := s.status.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

func (s *Server) health(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	code := http.StatusOK
	if s.status.State() != bridge.Ready {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, s.currentStatus())
}

func (s *Server) methods(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	s.writeJSON(w, http.StatusOK, dispatch.Methods())
}

func (s *Server) invoke(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	method := params.ByName("method")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBody))
	if err != nil {
		code := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			code = http.StatusRequestEntityTooLarge
		}
		s.writeError(w, code, ErrorBody{Kind: KindInvalidParams, Message: err.Error()})
		return
	}
	var callParams any
	if len(body) > 0 {
		if !json.Valid(body) {
			s.writeError(w, http.StatusBadRequest, ErrorBody{Kind: KindInvalidParams, Message: "request body is not valid JSON"})
			return
		}
		callParams = json.RawMessage(body)
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.callTimeout)
	defer cancel()
	result, err := s.dispatcher.Invoke(ctx, method, callParams)
	if err != nil {
		code, errBody := classify(err)
		s.log.Debugw("call failed", "Method", method, "Status", code, "Error", err)
		s.writeError(w, code, errBody)
		return
	}
	s.writeJSON(w, http.StatusOK, InvokeResponse{Result: result})
}

func (s *Server) ws(w http.ResponseWriter, r *http.Request, params httprouter.Params) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
		OriginPatterns:  s.origins,
	})
	if err != nil {
		s.log.Debugf("error accepting WebSocket conn: %s", err)
		return
	}
	conn.SetReadLimit(s.maxBody)

	log := s.log.With("Conn", uuid.NewString())
	log.Debug("accepted WebSocket conn")

	// in-flight calls are abandoned, not awaited, once the conn goes away
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go func() {
		select {
		case <-s.closing:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
		case <-ctx.Done():
		}
	}()

	for {
		var req wsRequest
		err := wsjson.Read(ctx, conn, &req)
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure || websocket.CloseStatus(err) == websocket.StatusGoingAway {
			log.Debug("client closed WebSocket conn")
			return
		}
		if err != nil {
			log.Debugf("WebSocket read error: %s", err)
			conn.Close(websocket.StatusInternalError, "read error")
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := s.wsCall(ctx, req)
			err := wsjson.Write(ctx, conn, resp)
			if err != nil {
				log.Debugw("error writing WebSocket response", "Method", req.Method, "Error", err)
			}
		}()
	}
}

func (s *Server) wsCall(ctx context.Context, req wsRequest) wsResponse {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	var callParams any
	if len(req.Params) > 0 {
		callParams = req.Params
	}
	result, err := s.dispatcher.Invoke(ctx, req.Method, callParams)
	if err != nil {
		_, body := classify(err)
		return wsResponse{ID: req.ID, Error: &body}
	}
	return wsResponse{ID: req.ID, Result: result}
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Debugf("error marshaling response: %s", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func (s *Server) writeError(w http.ResponseWriter, code int, body ErrorBody) {
	s.writeJSON(w, code, ErrorResponse{Error: body})
}
