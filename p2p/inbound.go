package p2p

import (
	"context"
	"errors"

	"github.com/dstack-tee/overlay/transport"
	"github.com/dstack-tee/overlay/wire"
)

// inboundReader pumps transport.Receive into the event queue until the
// transport closes, no frame arrives within IdleTimeout, or ctx is
// canceled. It decodes each frame but, apart from recording a transport
// failure, never mutates Manager state itself — all connection state
// mutation happens on the state-driver goroutine that reads from out.
func (m *Manager) inboundReader(ctx context.Context, out chan<- inboundEvent) {
	defer close(out)

	for {
		recvCtx, cancelRecv := context.WithTimeout(ctx, m.cfg.IdleTimeout)
		frame, err := m.cfg.Conn.Receive(recvCtx)
		cancelRecv()
		if err != nil {
			if !errors.Is(err, transport.ErrClosed) && !errors.Is(err, context.Canceled) {
				m.fail(ErrTransport)
			}
			return
		}

		pkt, decErr := wire.DecodePacket(frame)
		select {
		case out <- inboundEvent{packet: pkt, err: decErr}:
		case <-ctx.Done():
			return
		}
	}
}

// handleInbound dispatches a decoded packet to the handshake or
// established-state processing contract depending on the connection's
// current lifecycle stage.
func (m *Manager) handleInbound(ctx context.Context, pkt *wire.Packet) error {
	switch m.state {
	case StateAwaitingOnboard:
		return m.handleHandshakePacket(ctx, pkt)
	case StateEstablished:
		return m.handleEstablishedPacket(pkt)
	default:
		return errDrop
	}
}

// handleEstablishedPacket implements the Established inbound-processing
// contract from the connection manager's core state machine: signature
// verification, session-key agreement, nonce-window replay resistance,
// decryption, and delivery to the application inbox.
func (m *Manager) handleEstablishedPacket(pkt *wire.Packet) error {
	if pkt.Header == nil {
		// Replay-resistance: quotes carry no nonce, so a second
		// onboarding packet must never re-trigger the handshake.
		return errDrop
	}

	nonce := pkt.Header.Nonce()
	sessionKey := pkt.Header.SessionKey()

	if !wire.Verify(pkt.PubKey, pkt.Message.Payload, nonce, sessionKey, pkt.Header.Signature) {
		return errDrop
	}

	if sessionKey != m.sessionKey {
		return &InvalidSessionKeyError{Expected: m.sessionKey, Got: sessionKey}
	}

	peerNonce := m.peerNonce
	if abs64(nonce-peerNonce) > NonceWindow {
		return &InvalidNonceError{Expected: peerNonce, Got: nonce}
	}
	if m.nonces.contains(nonce) {
		return &ExpiredNonceError{Nonce: nonce}
	}
	m.nonces.accept(nonce)
	m.nonces.prune(peerNonce)

	plaintext, err := m.cipher.Decrypt(pkt.Message.Payload)
	if err != nil {
		return errDrop
	}

	m.cfg.Inbox.Send(wire.Message{
		Targets: wire.NewTargetSet(m.peerPub),
		Payload: plaintext,
	})
	m.peerNonce++
	return nil
}
