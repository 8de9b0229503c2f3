package p2p

import (
	"context"

	"github.com/dstack-tee/overlay/bus"
	"github.com/dstack-tee/overlay/wire"
)

// handleOutbound implements the Established outbound-processing contract:
// target filtering, encryption, signing and transmission of one
// application-published message.
func (m *Manager) handleOutbound(ctx context.Context, msg bus.Message) error {
	if m.state != StateEstablished {
		// Broadcasts published before the handshake completes have
		// nowhere to go yet.
		return errDrop
	}

	wireMsg, ok := msg.(wire.Message)
	if !ok {
		return errDrop
	}

	if wireMsg.Targets != nil && !wireMsg.Targets.Contains(m.peerPub) {
		// Load-balancing hook: a publisher pinned this message to peers
		// that don't include this connection.
		return errDrop
	}

	ciphertext := m.cipher.Encrypt(wireMsg.Payload)

	sig, err := wire.Sign(m.localSecret, m.localPub, ciphertext, m.localNonce, m.sessionKey)
	if err != nil {
		return errDrop
	}

	pkt := &wire.Packet{
		Header:  wire.NewHeader(m.localNonce, m.sessionKey, sig),
		PubKey:  m.localPub,
		Message: wire.Message{Payload: ciphertext},
	}

	b, err := wire.EncodePacket(pkt)
	if err != nil {
		return errDrop
	}

	if err := m.cfg.Conn.Send(ctx, b); err != nil {
		return ErrTransport
	}
	m.localNonce++
	return nil
}
