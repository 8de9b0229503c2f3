// Package sharedsecret implements the application-layer shared-secret
// distribution protocol that rides on top of the overlay: a bootstrap
// node already holds the secret; a joiner does not, requests it on
// startup, and forwards the first reply to a local one-shot consumer.
//
// OneShotConsumer's at-most-once secret delivery uses a non-blocking
// best-effort send (`select { case c.ch <- secret: default: }`) to wake
// a single waiter without blocking the notifier.
package sharedsecret

import (
	"context"
	"sync"
	"time"

	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/wire"
)

// JoinerDelay is how long a joiner waits after startup before broadcasting
// its first RequestSharedSecret, giving connections time to reach
// Established.
const JoinerDelay = 2 * time.Second

// Consumer is the abstracted "light-client consumer" the secret is
// forwarded to once received. Kept as a narrow interface so this package
// stays a pure overlay-application protocol; the actual light-client is
// out of scope here.
type Consumer interface {
	Deliver(secret []byte)
}

// OneShotConsumer is a Consumer backed by a one-shot channel: the second
// and later calls to Deliver are no-ops.
type OneShotConsumer struct {
	ch   chan []byte
	once sync.Once
}

// NewOneShotConsumer creates a ready-to-use one-shot consumer.
func NewOneShotConsumer() *OneShotConsumer {
	return &OneShotConsumer{ch: make(chan []byte, 1)}
}

// Deliver forwards secret on the channel exactly once, non-blocking.
func (c *OneShotConsumer) Deliver(secret []byte) {
	c.once.Do(func() {
		select {
		case c.ch <- secret:
		default:
		}
	})
}

// C returns the channel the first delivered secret arrives on.
func (c *OneShotConsumer) C() <-chan []byte { return c.ch }

// Protocol is one node's participation in the shared-secret protocol:
// either a bootstrap node (already holds the secret) or a joiner (starts
// without one and requests it).
type Protocol struct {
	bus      *bus.Bus
	inbox    <-chan bus.Message
	consumer Consumer

	mu     sync.Mutex
	held   bool
	secret []byte
}

// NewBootstrap creates a Protocol that already holds secret and will
// answer RequestSharedSecret messages with it.
func NewBootstrap(b *bus.Bus, inbox *bus.Inbox, secret []byte) *Protocol {
	return &Protocol{
		bus:    b,
		inbox:  inbox.Receive(),
		held:   true,
		secret: secret,
	}
}

// NewJoiner creates a Protocol with no secret, which will request one on
// startup and forward the first reply to consumer.
func NewJoiner(b *bus.Bus, inbox *bus.Inbox, consumer Consumer) *Protocol {
	return &Protocol{
		bus:      b,
		inbox:    inbox.Receive(),
		consumer: consumer,
	}
}

// HasSecret reports whether this node currently holds the shared secret
// (true immediately for a bootstrap node; true for a joiner only after its
// first successful delivery).
func (p *Protocol) HasSecret() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.held
}

// Run drives the protocol until ctx is canceled or the inbox closes. A
// joiner waits JoinerDelay before broadcasting its first request; a
// bootstrap node (or a joiner that has already received the secret) only
// answers incoming requests.
func (p *Protocol) Run(ctx context.Context) error {
	if !p.HasSecret() {
		select {
		case <-time.After(JoinerDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		p.broadcastRequest()
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-p.inbox:
			if !ok {
				return nil
			}
			p.handle(msg)
		}
	}
}

func (p *Protocol) broadcastRequest() {
	payload, err := wire.EncodeRequestSharedSecret()
	if err != nil {
		return
	}
	p.bus.Publish(wire.Message{Payload: payload})
}

func (p *Protocol) broadcastSecret(secret []byte) {
	payload, err := wire.EncodeSharedSecret(wire.SharedSecret{Secret: secret})
	if err != nil {
		return
	}
	p.bus.Publish(wire.Message{Payload: payload})
}

func (p *Protocol) handle(msg bus.Message) {
	wm, ok := msg.(wire.Message)
	if !ok {
		return
	}
	env, err := wire.DecodeEnvelope(wm.Payload)
	if err != nil {
		return
	}

	switch env.Tag {
	case wire.TagRequestSharedSecret:
		p.mu.Lock()
		held, secret := p.held, p.secret
		p.mu.Unlock()
		if held {
			p.broadcastSecret(secret)
		}

	case wire.TagSharedSecret:
		ss, err := wire.DecodeSharedSecret(env)
		if err != nil {
			return
		}
		p.receiveSecret(ss.Secret)

	default:
		// Unknown tags are ignored, not fatal.
	}
}

// receiveSecret stores secret on first receipt and forwards it to the
// consumer; duplicate deliveries (from multiple peers replying, or the
// same peer replying twice) are idempotent no-ops.
func (p *Protocol) receiveSecret(secret []byte) {
	p.mu.Lock()
	firstTime := !p.held
	if firstTime {
		p.held = true
		p.secret = secret
	}
	p.mu.Unlock()

	if firstTime && p.consumer != nil {
		p.consumer.Deliver(secret)
	}
}
