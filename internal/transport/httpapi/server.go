// Package httpapi is the optional HTTP host: the REST command surface, a
// WebSocket event stream, an iCalendar feed and Prometheus metrics.
package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"sebastian/internal/commands"
	"sebastian/internal/eventbus"
	logx "sebastian/pkg/logx"
)

type Config struct {
	Enabled           bool
	Addr              string
	Metrics           bool
	ICS               bool
	ReadHeaderTimeout time.Duration
	PProf             PProfConfig
}

func (c Config) withDefaults() Config {
	if c.Addr == "" {
		c.Addr = "127.0.0.1:8765"
	}
	if c.ReadHeaderTimeout <= 0 {
		c.ReadHeaderTimeout = 5 * time.Second
	}
	return c
}

// Server manages the listener lifecycle. Apply starts, restarts or stops it.
type Server struct {
	mu   sync.Mutex
	log  logx.Logger
	cmds *commands.Dispatcher
	bus  eventbus.Bus

	srv  *http.Server
	ln   net.Listener
	addr string
	cfg  Config
	hub  *hub
}

func New(cmds *commands.Dispatcher, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	gin.SetMode(gin.ReleaseMode)
	return &Server{
		cmds: cmds,
		bus:  bus,
		log:  log.With(logx.String("comp", "http")),
	}
}

// Apply starts the server, restarts it when the address or route set
// changed, or stops it when disabled.
func (s *Server) Apply(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked(ctx)
		return nil
	}
	if s.srv != nil && s.cfg == cfg {
		return nil
	}
	s.stopLocked(ctx)
	return s.startLocked(cfg)
}

func (s *Server) startLocked(cfg Config) error {
	h := newHub(s.bus, s.log)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.router(cfg, h),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		s.log.Warn("http listen failed", logx.String("addr", cfg.Addr), logx.Err(err))
		return err
	}

	s.srv = srv
	s.ln = ln
	s.addr = ln.Addr().String()
	s.cfg = cfg
	s.hub = h

	addr := s.addr
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server error", logx.String("addr", addr), logx.Err(err))
		}
	}()
	s.log.Info("http enabled", logx.String("addr", addr), logx.Bool("metrics", cfg.Metrics), logx.Bool("ics", cfg.ICS), logx.Bool("pprof", cfg.PProf.Enabled))
	return nil
}

// Stop gracefully shuts down the server and closes event streams.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, h, addr := s.srv, s.ln, s.hub, s.addr
	s.srv, s.ln, s.hub, s.addr = nil, nil, nil, ""
	s.cfg = Config{}

	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}

	// Hijacked WebSocket conns are not tracked by Shutdown.
	h.closeAll()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	if ln != nil {
		_ = ln.Close()
	}
	s.log.Info("http disabled", logx.String("addr", addr))
}

// Addr reports the actual listen address if running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}
