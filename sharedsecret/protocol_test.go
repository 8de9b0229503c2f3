package sharedsecret

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/wire"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/stretchr/testify/assert"
)

// bridge simulates the overlay network for these unit tests: whatever
// `from` broadcasts is forwarded, unmodified, into `to`'s inbox, standing
// in for a p2p.Manager's decrypt-and-deliver step on a real connection.
func bridge(ctx context.Context, from *bus.Bus, to *bus.Inbox) {
	sub := from.Subscribe(16)
	go func() {
		defer sub.Unsubscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.C():
				if !ok {
					return
				}
				to.Sender().Send(msg)
			}
		}
	}()
}

// TestBootstrapJoinerRequestResponse covers scenario S1: a joiner without
// a secret requests one after the bootstrap delay, and a bootstrap node
// that holds the secret replies; the joiner's one-shot delivers exactly
// the bootstrap's secret.
func TestBootstrapJoinerRequestResponse(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busA := bus.New(nil)
	inboxA := bus.NewInbox(16)
	busB := bus.New(nil)
	inboxB := bus.NewInbox(16)

	bridge(ctx, busA, inboxB)
	bridge(ctx, busB, inboxA)

	secret := bytes.Repeat([]byte{0xAA}, 32)
	bootstrap := NewBootstrap(busA, inboxA, secret)

	consumer := NewOneShotConsumer()
	joiner := NewJoiner(busB, inboxB, consumer)

	go bootstrap.Run(ctx)
	go joiner.Run(ctx)

	select {
	case got := <-consumer.C():
		assert.Equal(t, secret, got)
	case <-time.After(4 * time.Second):
		t.Fatal("joiner never received shared secret")
	}

	assert.True(t, joiner.HasSecret())
}

func TestReceiveSecretIsIdempotent(t *testing.T) {
	busB := bus.New(nil)
	inboxB := bus.NewInbox(16)
	consumer := NewOneShotConsumer()
	joiner := NewJoiner(busB, inboxB, consumer)

	payload, err := wire.EncodeSharedSecret(wire.SharedSecret{Secret: []byte("s1")})
	assert.Nil(t, err)
	joiner.handle(wire.Message{Payload: payload})

	duplicate, err := wire.EncodeSharedSecret(wire.SharedSecret{Secret: []byte("s2")})
	assert.Nil(t, err)
	joiner.handle(wire.Message{Payload: duplicate})

	select {
	case got := <-consumer.C():
		assert.Equal(t, []byte("s1"), got)
	default:
		t.Fatal("consumer never received first secret")
	}

	// second delivery must be a no-op: the stored secret stays the first one.
	assert.Equal(t, []byte("s1"), joiner.secret)
}

func TestUnknownTagIgnored(t *testing.T) {
	busB := bus.New(nil)
	inboxB := bus.NewInbox(16)
	joiner := NewJoiner(busB, inboxB, NewOneShotConsumer())

	raw, err := wire.EncodeRequestSharedSecret()
	assert.Nil(t, err)
	// Corrupt the tag byte to something unrecognized; DecodeEnvelope still
	// succeeds (the envelope shape is tag+payload regardless of tag
	// value), and handle must silently ignore it.
	var env wire.Envelope
	assert.Nil(t, rlp.DecodeBytes(raw, &env))
	env.Tag = wire.Tag(0x99)

	reencoded, err := rlp.EncodeToBytes(env)
	assert.Nil(t, err)

	assert.NotPanics(t, func() {
		joiner.handle(wire.Message{Payload: reencoded})
	})
}
