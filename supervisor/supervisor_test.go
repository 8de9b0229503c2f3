package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/dstack-tee/overlay/attestation"
	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/identity"
	"github.com/dstack-tee/overlay/wire"
	"github.com/stretchr/testify/assert"
)

func fixedSecret(b byte) identity.SecretKey {
	var raw [32]byte
	raw[31] = b
	sk, err := identity.SecretKeyFromBytes(raw[:])
	if err != nil {
		panic(err)
	}
	return sk
}

func TestSupervisorEstablishesAndDeliversBothWays(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	busA := bus.New(nil)
	inboxA := bus.NewInbox(16)

	supA, err := Start(ctx, Config{
		ListenAddr:  "127.0.0.1:0",
		Local:       fixedSecret(1),
		Attestation: attestation.Stub{},
		Inbox:       inboxA.Sender(),
		Broadcast:   busA,
	})
	assert.Nil(t, err)

	busB := bus.New(nil)
	inboxB := bus.NewInbox(16)

	supB, err := Start(ctx, Config{
		ListenAddr:  "127.0.0.1:0",
		Peers:       []string{supA.Addr().String()},
		Local:       fixedSecret(2),
		Attestation: attestation.Stub{},
		Inbox:       inboxB.Sender(),
		Broadcast:   busB,
	})
	assert.Nil(t, err)

	// allow the handshake to complete
	time.Sleep(200 * time.Millisecond)

	busA.Publish(wire.Message{Payload: []byte("from A")})
	select {
	case m := <-inboxB.Receive():
		wm := m.(wire.Message)
		assert.Equal(t, []byte("from A"), wm.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("B never received A's broadcast")
	}

	busB.Publish(wire.Message{Payload: []byte("from B")})
	select {
	case m := <-inboxA.Receive():
		wm := m.(wire.Message)
		assert.Equal(t, []byte("from B"), wm.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("A never received B's broadcast")
	}
}
