// Package configserver implements the HTTP configuration front-end: a
// `POST /setup` listener that accepts one JSON configuration body and then
// shuts itself down, handing the parsed config to the caller.
//
// Grounded on other_examples/0b4b9454_merlos-openme__cli-internal-server
// -server.go.go's log/slog-based server Options/Server shape (a small
// net/http server with a structured logger and a single callback invoked
// on the triggering request) — adapted here from that file's generic
// "knock handler" callback to a one-shot config acceptor that stops the
// server after its first valid POST, per this protocol's config surface.
package configserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
)

// DefaultAddr is the conventional listen address for the setup endpoint.
const DefaultAddr = ":40080"

// Config is the JSON body accepted on POST /setup.
type Config struct {
	Peers        []string `json:"peers"`
	Port         uint16   `json:"port"`
	ExecutionRPC string   `json:"execution_rpc"`
}

// Options configures a Server.
type Options struct {
	// Addr is the listen address; defaults to DefaultAddr.
	Addr string
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server accepts exactly one POST /setup JSON body, delivers it on
// Configs(), and then shuts itself down.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     *slog.Logger

	once    sync.Once
	configs chan Config
}

// New builds a Server; call Listen before Serve to learn the bound address
// (useful when Addr requests an ephemeral port).
func New(opts Options) *Server {
	addr := opts.Addr
	if addr == "" {
		addr = DefaultAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "configserver")

	s := &Server{
		addr:    addr,
		logger:  logger,
		configs: make(chan Config, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/setup", s.handleSetup)
	s.httpServer = &http.Server{Handler: mux}
	return s
}

// Configs is delivered to exactly once, when a valid config is accepted.
func (s *Server) Configs() <-chan Config { return s.configs }

// Listen binds the configured address. Callers that need to know the
// bound address before serving (ephemeral ports in tests; logging in
// production) call this before Serve.
func (s *Server) Listen() (net.Listener, error) {
	return net.Listen("tcp", s.addr)
}

// Serve runs the HTTP server over ln until it is shut down (by accepting a
// config, or by the caller canceling ctx).
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = s.httpServer.Close()
	}()

	s.logger.Info("listening for setup", "addr", ln.Addr().String())
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe binds the configured address and serves until shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.logger.Warn("rejecting malformed setup request", "error", err)
		http.Error(w, "malformed config", http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusAccepted)

	s.once.Do(func() {
		s.configs <- cfg
		close(s.configs)
		go func() {
			s.logger.Info("setup accepted, shutting down config server")
			_ = s.httpServer.Close()
		}()
	})
}
