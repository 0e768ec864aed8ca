package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/chazu/tern/compiler"
	"github.com/chazu/tern/vm"
)

// Session expiry defaults.
const (
	DefaultSessionTTL    = 30 * time.Minute
	DefaultSweepInterval = 5 * time.Minute
)

// DefaultInstructionLimit bounds one Evaluate call. A program that never
// halts would otherwise hold its session's worker forever.
const DefaultInstructionLimit = 100_000_000

// TernServer serves the evaluation service over HTTP/1.1 (Connect) and
// unencrypted HTTP/2 (gRPC) on the same port.
type TernServer struct {
	sessions *SessionStore
	mux      *http.ServeMux
	log      commonlog.Logger

	mu   sync.Mutex
	http *http.Server

	stopSweeper func()
}

// ServerOption configures a TernServer.
type ServerOption func(*serverConfig)

type serverConfig struct {
	vmOptions        []vm.Option
	instructionLimit int
	sessionTTL       time.Duration
	sweepInterval    time.Duration
	log              commonlog.Logger
}

// WithVMOptions applies opts to the VM of every new session.
func WithVMOptions(opts ...vm.Option) ServerOption {
	return func(c *serverConfig) { c.vmOptions = append(c.vmOptions, opts...) }
}

// WithInstructionLimit sets the per-evaluation instruction budget of
// session VMs. Zero removes the limit. A limit passed through WithVMOptions
// takes precedence.
func WithInstructionLimit(n int) ServerOption {
	return func(c *serverConfig) { c.instructionLimit = n }
}

// WithSessionTTL sets how long an idle session survives.
func WithSessionTTL(ttl time.Duration) ServerOption {
	return func(c *serverConfig) { c.sessionTTL = ttl }
}

// WithLogger replaces the server's logger.
func WithLogger(l commonlog.Logger) ServerOption {
	return func(c *serverConfig) { c.log = l }
}

// New creates a TernServer with the evaluation service registered.
func New(opts ...ServerOption) *TernServer {
	cfg := &serverConfig{
		instructionLimit: DefaultInstructionLimit,
		sessionTTL:       DefaultSessionTTL,
		sweepInterval:    DefaultSweepInterval,
		log:              commonlog.GetLogger("tern.server"),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	sessions := NewSessionStore(func(w *bytes.Buffer) *vm.VM {
		vmOpts := []vm.Option{vm.WithInstructionLimit(cfg.instructionLimit)}
		vmOpts = append(vmOpts, cfg.vmOptions...)
		v := vm.NewVM(append(vmOpts, vm.WithOutput(w))...)
		v.UseCompiler(compiler.Compile)
		return v
	})

	s := &TernServer{
		sessions: sessions,
		mux:      http.NewServeMux(),
		log:      cfg.log,
	}
	NewEvalService(sessions, cfg.log).Register(s.mux)

	s.stopSweeper = sessions.StartSweeper(cfg.sweepInterval, cfg.sessionTTL)
	return s
}

// Sessions returns the server's session store.
func (s *TernServer) Sessions() *SessionStore {
	return s.sessions
}

// Handler returns the HTTP handler, accepting HTTP/2 without TLS.
func (s *TernServer) Handler() http.Handler {
	return h2c.NewHandler(s.mux, &http2.Server{})
}

// ListenAndServe starts the HTTP server on the given address.
// The address should be in the form "host:port" or ":port".
func (s *TernServer) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Shutdown.
func (s *TernServer) Serve(l net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	addr := l.Addr().String()
	s.log.Noticef("tern evaluation server listening on %s", addr)
	s.log.Noticef("  Connect (HTTP/JSON): http://%s%s", addr, EvaluateProcedure)
	s.log.Noticef("  gRPC (binary):       grpc://%s", addr)

	if err := srv.Serve(l); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, waits for in-flight ones and stops
// every session.
func (s *TernServer) Shutdown(ctx context.Context) error {
	defer s.Stop()
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Stop releases sessions without touching the listener.
func (s *TernServer) Stop() {
	if s.stopSweeper != nil {
		s.stopSweeper()
		s.stopSweeper = nil
	}
	s.sessions.DestroyAll()
}
