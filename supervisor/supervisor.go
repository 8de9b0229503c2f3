// Package supervisor implements the Overlay Supervisor: given a listen
// address, a list of peer addresses, a node secret key, an inbox sender
// and a broadcast bus, it starts a listener task that spawns a Connection
// Manager per accepted connection and a dialer task per configured peer
// address, each also spawning a Connection Manager.
package supervisor

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/dstack-tee/overlay/attestation"
	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/identity"
	"github.com/dstack-tee/overlay/p2p"
	"github.com/dstack-tee/overlay/transport"
	"github.com/dstack-tee/overlay/transport/tcp"
)

// Config wires a Supervisor to its collaborators and bootstrap parameters.
type Config struct {
	// ListenAddr is the local TCP address to accept connections on.
	ListenAddr string
	// Peers is the set of "host:port" addresses to dial outbound.
	Peers []string

	Local       identity.SecretKey
	Attestation attestation.Port

	Inbox     bus.Sender
	Broadcast *bus.Bus

	Logger      *slog.Logger
	IdleTimeout time.Duration

	// Redial, when set, makes the dialer retry a peer address with
	// RedialInterval backoff after a connection ends, rather than giving
	// up after one attempt.
	Redial         bool
	RedialInterval time.Duration
}

// Option customizes a Config before Start applies it.
type Option func(*Config)

// WithRedial enables outbound redial with the given backoff interval.
func WithRedial(interval time.Duration) Option {
	return func(c *Config) {
		c.Redial = true
		c.RedialInterval = interval
	}
}

// Supervisor owns the listener and dialer tasks for one overlay node.
type Supervisor struct {
	cfg      Config
	logger   *slog.Logger
	listener net.Listener
	wg       sync.WaitGroup
}

// Start begins accepting inbound connections on cfg.ListenAddr and dialing
// every address in cfg.Peers, each spawning its own p2p.Manager. Start
// returns once the listener is bound; connection handling continues in
// background goroutines until ctx is canceled.
func Start(ctx context.Context, cfg Config, opts ...Option) (*Supervisor, error) {
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RedialInterval == 0 {
		cfg.RedialInterval = time.Second
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "supervisor"),
		listener: ln,
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	for _, addr := range cfg.Peers {
		s.wg.Add(1)
		go s.dialLoop(ctx, addr)
	}

	return s, nil
}

// Addr returns the bound listen address (useful when ListenAddr requested
// an ephemeral port).
func (s *Supervisor) Addr() net.Addr { return s.listener.Addr() }

// Wait blocks until every listener/dialer/connection task this Supervisor
// owns has returned.
func (s *Supervisor) Wait() { s.wg.Wait() }

func (s *Supervisor) acceptLoop(ctx context.Context) {
	defer s.wg.Done()

	go func() {
		<-ctx.Done()
		_ = s.listener.Close()
	}()

	for {
		nc, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				s.logger.Warn("accept failed", "error", err)
				return
			}
		}
		s.spawn(ctx, tcp.New(nc))
	}
}

func (s *Supervisor) dialLoop(ctx context.Context, addr string) {
	defer s.wg.Done()

	for {
		nc, err := net.Dial("tcp", addr)
		if err != nil {
			s.logger.Warn("dial failed", "addr", addr, "error", err)
			if !s.waitOrGiveUp(ctx) {
				return
			}
			continue
		}

		mgr := s.spawn(ctx, tcp.New(nc))
		<-mgr.Done()

		if !s.cfg.Redial {
			return
		}
		if !s.waitOrGiveUp(ctx) {
			return
		}
	}
}

// waitOrGiveUp sleeps RedialInterval (or returns false immediately if
// redial is disabled, or if ctx is canceled first).
func (s *Supervisor) waitOrGiveUp(ctx context.Context) bool {
	if !s.cfg.Redial {
		return false
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.RedialInterval):
		return true
	}
}

// spawn wires a fresh p2p.Manager to conn and a new broadcast subscription,
// and runs it in its own goroutine.
func (s *Supervisor) spawn(ctx context.Context, conn transport.Conn) *p2p.Manager {
	sub := s.cfg.Broadcast.Subscribe(bus.DefaultSubscriberCapacity)

	mgr := p2p.New(p2p.Config{
		Local:       s.cfg.Local,
		Attestation: s.cfg.Attestation,
		Conn:        conn,
		Inbox:       s.cfg.Inbox,
		Broadcast:   sub,
		Logger:      s.logger,
		IdleTimeout: s.cfg.IdleTimeout,
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := mgr.Run(ctx); err != nil {
			s.logger.Info("connection ended", "error", err)
		}
	}()
	return mgr
}
