// Package p2p implements the Connection Manager: the per-connection state
// machine that performs the quote-based handshake, derives the session
// cipher, enforces session/nonce invariants on every packet, and bridges
// ciphertext wire packets to plaintext application messages.
//
// Inbound reads, broadcast delivery and connection state all run through
// one state-driver goroutine per connection: a reader goroutine pumps the
// transport into a channel, the bus delivers broadcasts into the
// connection's subscription channel, and the state driver selects over
// both, being their sole consumer and the sole mutator of connection
// state. No lock is needed because only one goroutine ever touches the
// fields.
package p2p

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dstack-tee/overlay/attestation"
	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/cipher"
	"github.com/dstack-tee/overlay/identity"
	"github.com/dstack-tee/overlay/transport"
	"github.com/dstack-tee/overlay/wire"
)

// State is the connection's handshake/session lifecycle stage.
type State int

const (
	StateInitial State = iota
	StateAwaitingOnboard
	StateEstablished
	StateClosed
)

// String renders the state for logging.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateAwaitingOnboard:
		return "awaiting_onboard"
	case StateEstablished:
		return "established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultChannelBuffer is the bounded capacity of the inbound event-queue
// channel feeding the state driver, matching the protocol's
// GLOB_CHANNEL_BUFFER = 20000. The broadcast channel's capacity is set by
// the bus subscription passed in Config.Broadcast.
const DefaultChannelBuffer = 20000

// DefaultIdleTimeout is the reference transport idle timeout.
const DefaultIdleTimeout = time.Hour

// Config wires a Manager to its collaborators.
type Config struct {
	// Local is this node's long-term secret key.
	Local identity.SecretKey
	// Attestation produces and verifies quotes.
	Attestation attestation.Port
	// Conn is the transport capability for this one peer connection.
	Conn transport.Conn
	// Inbox delivers decrypted, verified application messages.
	Inbox bus.Sender
	// Broadcast is this connection's subscription to the application
	// outbox; the manager forwards matching messages to its peer.
	Broadcast *bus.Subscription
	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
	// IdleTimeout bounds how long the manager waits for transport
	// activity before treating the connection as dead. Zero means
	// DefaultIdleTimeout.
	IdleTimeout time.Duration
	// SessionRand supplies randomness for the local session-key half.
	// Defaults to crypto/rand.Reader; overridable for deterministic
	// tests of the tie-break scenarios.
	SessionRand func() (int64, error)
}

// Manager is the per-connection Connection Manager.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	localSecret identity.SecretKey
	localPub    identity.PublicKey

	localSessionKey int64

	// The following fields are owned exclusively by the state-driver
	// goroutine once Run starts; no lock guards them.
	state      State
	peerPub    identity.PublicKey
	sessionKey int64
	cipher     *cipher.Cipher
	localNonce int64
	peerNonce  int64
	nonces     *nonceCache

	doneOnce sync.Once
	done     chan struct{}

	errMu   sync.Mutex
	lastErr error
}

// New constructs a Manager in StateInitial. Call Run to drive it.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SessionRand == nil {
		cfg.SessionRand = randomSessionKey
	}

	return &Manager{
		cfg:         cfg,
		logger:      logger.With("component", "p2p"),
		localSecret: cfg.Local,
		localPub:    cfg.Local.Public(),
		state:       StateInitial,
		nonces:      newNonceCache(),
		done:        make(chan struct{}),
	}
}

// randomSessionKey draws a uniform signed 64-bit value from crypto/rand.
func randomSessionKey() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

// Done is closed once the connection has torn down, fatally or cleanly.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Err returns the error that caused teardown, or nil for a clean close.
func (m *Manager) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErr
}

// State returns the manager's current lifecycle state. Safe to call from
// any goroutine for observability; the state driver is still the only
// mutator.
func (m *Manager) State() State { return m.state }

func (m *Manager) fail(err error) {
	m.errMu.Lock()
	if m.lastErr == nil {
		m.lastErr = err
	}
	m.errMu.Unlock()
}

func (m *Manager) close() {
	m.doneOnce.Do(func() {
		m.state = StateClosed
		_ = m.cfg.Conn.Close()
		if m.cfg.Broadcast != nil {
			m.cfg.Broadcast.Unsubscribe()
		}
		close(m.done)
	})
}

// inboundEvent is what the inbound-reader goroutine hands to the state
// driver: either a decoded packet or the error from decoding a frame. The
// end of the transport is signaled by closing the channel instead.
type inboundEvent struct {
	packet *wire.Packet
	err    error
}

// Run drives the connection to completion: sends the handshake packet,
// then processes inbound packets and outbound broadcast messages until a
// fatal error, clean transport close, or ctx cancellation. Run blocks
// until the connection is fully torn down; callers typically invoke it in
// its own goroutine (see supervisor).
func (m *Manager) Run(ctx context.Context) error {
	defer m.close()

	if err := m.sendHandshake(ctx); err != nil {
		m.fail(err)
		return err
	}
	m.state = StateAwaitingOnboard

	inboundCh := make(chan inboundEvent, DefaultChannelBuffer)
	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()
	go m.inboundReader(readerCtx, inboundCh)

	var broadcastCh <-chan bus.Message
	if m.cfg.Broadcast != nil {
		broadcastCh = m.cfg.Broadcast.C()
	}

	for {
		select {
		case <-ctx.Done():
			m.fail(ctx.Err())
			return ctx.Err()

		case ev, ok := <-inboundCh:
			if !ok {
				return m.Err()
			}
			if ev.err != nil {
				// Malformed bytes: non-fatal, drop and continue.
				m.logger.Debug("dropping malformed inbound packet", "error", ev.err)
				continue
			}
			if err := m.handleInbound(ctx, ev.packet); err != nil {
				if isFatal(err) {
					m.fail(err)
					return err
				}
				m.logger.Debug("dropping inbound packet", "error", err)
			}

		case msg, ok := <-broadcastCh:
			if !ok {
				broadcastCh = nil
				continue
			}
			if err := m.handleOutbound(ctx, msg); err != nil {
				if isFatal(err) {
					m.fail(err)
					return err
				}
				m.logger.Debug("dropping outbound message", "error", err)
			}
		}
	}
}

// isFatal distinguishes the fatal error taxonomy (quote invalid, session
// mismatch, nonce violations, transport failure) from non-fatal drops.
// Non-fatal paths in this package are signaled by returning a plain
// errDrop-wrapped error (or nil), never one of the sentinel/typed fatal
// errors, so isFatal only needs to recognize those.
func isFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, errDrop) {
		return false
	}
	var invalidSessionKey *InvalidSessionKeyError
	var invalidNonce *InvalidNonceError
	var expiredNonce *ExpiredNonceError
	switch {
	case errors.Is(err, ErrGotNoQuote), errors.Is(err, ErrInvalidQuote), errors.Is(err, ErrTransport):
		return true
	case errors.As(err, &invalidSessionKey), errors.As(err, &invalidNonce), errors.As(err, &expiredNonce):
		return true
	default:
		return false
	}
}

// errDrop marks a non-fatal, silently-droppable processing outcome
// (malformed bytes, bad signature, decrypt failure, unexpected second
// handshake, unknown inner tag).
var errDrop = errors.New("p2p: drop")
