package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kstaniek/go-webterm/internal/hub"
	"github.com/kstaniek/go-webterm/internal/logging"
	"github.com/kstaniek/go-webterm/internal/metrics"
	"github.com/kstaniek/go-webterm/internal/power"
)

// Bridge is the part of the stream bridge the server drives.
type Bridge interface {
	RegisterClient(h *hub.Handle)
	ReleaseClient(h *hub.Handle)
	OnNetworkData(p []byte) error
}

// PowerControl toggles and senses the target's power.
type PowerControl interface {
	Request(state string) (string, error)
	State() (power.State, error)
}

// Server owns the HTTP listener, the WebSocket endpoint and the REST API.
type Server struct {
	mu        sync.RWMutex
	addr      string
	bridge    Bridge
	power     PowerControl
	staticDir string

	writeTimeout time.Duration
	readLimit    int64
	upgrader     websocket.Upgrader

	readyOnce         sync.Once
	readyCh           chan struct{}
	lastErrMu         sync.Mutex
	lastErr           error
	httpSrv           *http.Server
	connsMu           sync.Mutex
	conns             map[uint64]*websocket.Conn
	wg                sync.WaitGroup
	logger            *slog.Logger
	nextConnID        atomic.Uint64
	totalUpgraded     atomic.Uint64
	totalUpgradeFail  atomic.Uint64
	totalDisconnected atomic.Uint64
	totalSerialErrors atomic.Uint64
}

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 64 << 10
)

type ServerOption func(*Server)

func NewServer(opts ...ServerOption) *Server {
	s := &Server{
		writeTimeout: defaultWriteTimeout,
		readLimit:    defaultReadLimit,
		readyCh:      make(chan struct{}),
		conns:        make(map[uint64]*websocket.Conn),
		logger:       logging.L(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	for _, o := range opts {
		o(s)
	}
	if s.addr == "" {
		s.addr = ":0"
	}
	return s
}

func WithListenAddr(a string) ServerOption  { return func(s *Server) { s.addr = a } }
func WithBridge(b Bridge) ServerOption      { return func(s *Server) { s.bridge = b } }
func WithPower(p PowerControl) ServerOption { return func(s *Server) { s.power = p } }
func WithStaticDir(dir string) ServerOption { return func(s *Server) { s.staticDir = dir } }

func WithWriteTimeout(d time.Duration) ServerOption {
	return func(s *Server) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithReadLimit caps the size of one incoming WebSocket message.
func WithReadLimit(n int64) ServerOption {
	return func(s *Server) {
		if n > 0 {
			s.readLimit = n
		}
	}
}

func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) setAddr(a string)       { s.mu.Lock(); s.addr = a; s.mu.Unlock() }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
}
func (s *Server) LastError() error { s.lastErrMu.Lock(); defer s.lastErrMu.Unlock(); return s.lastErr }

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("POST /api/v1/pwrctrl", s.handlePowerCtrl)
	mux.HandleFunc("GET /api/v1/pwrstate", s.handlePowerState)
	mux.HandleFunc("GET /", s.handleStatic)
	return mux
}

// Serve listens and serves HTTP until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	s.setAddr(ln.Addr().String())
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          slog.NewLogLogger(s.logger.Handler(), slog.LevelWarn),
	}
	s.mu.Lock()
	s.httpSrv = hs
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("http_listen", "addr", s.Addr())
	s.logger.Info("ready")
	go func() {
		<-ctx.Done()
		_ = hs.Close()
	}()
	if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		metrics.IncError(mapErrToMetric(wrap))
		s.setError(wrap)
		return wrap
	}
	return nil
}

// Shutdown stops the listener, closes WebSocket connections and waits for
// their readers to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	hs := s.httpSrv
	s.httpSrv = nil
	s.mu.Unlock()
	if hs != nil {
		_ = hs.Shutdown(ctx)
	}
	s.connsMu.Lock()
	for id, c := range s.conns {
		_ = c.Close()
		delete(s.conns, id)
	}
	s.connsMu.Unlock()
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary", "upgraded", s.totalUpgraded.Load(), "upgrade_fail", s.totalUpgradeFail.Load(), "disconnected", s.totalDisconnected.Load(), "serial_errors", s.totalSerialErrors.Load())
		return nil
	}
}

func (s *Server) trackConn(id uint64, c *websocket.Conn) {
	s.connsMu.Lock()
	s.conns[id] = c
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(id uint64) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}
