package p2p

import (
	"context"

	"github.com/dstack-tee/overlay/attestation"
	"github.com/dstack-tee/overlay/cipher"
	"github.com/dstack-tee/overlay/wire"
)

// sendHandshake is the Initial-state action: choose a random local
// session-key half, obtain a quote over the local public key, and emit the
// single headerless onboarding packet. Synchronous, as the reference
// behavior requires: the handshake packet goes out before the connection
// does anything else.
func (m *Manager) sendHandshake(ctx context.Context) error {
	localSessionKey, err := m.cfg.SessionRand()
	if err != nil {
		return err
	}
	m.localSessionKey = localSessionKey

	quote, err := m.cfg.Attestation.GetQuote(ctx, m.localPub.Bytes())
	if err != nil {
		return err
	}

	onboard := wire.NewOnboard([]byte(quote), localSessionKey, false)
	payload, err := wire.EncodeOnboard(onboard)
	if err != nil {
		return err
	}

	pkt := &wire.Packet{
		PubKey:  m.localPub,
		Message: wire.Message{Payload: payload},
	}
	b, err := wire.EncodePacket(pkt)
	if err != nil {
		return err
	}
	if err := m.cfg.Conn.Send(ctx, b); err != nil {
		return ErrTransport
	}
	return nil
}

// handleHandshakePacket processes inbound packets while in
// StateAwaitingOnboard. Packets with a header, and onboarding packets that
// fail to decode, are dropped and leave the connection awaiting onboard;
// the first valid onboarding packet either fails the connection or
// establishes the session. Any headerless packet received after the
// transition to Established is handled by handleEstablishedPacket instead,
// which drops it outright, so a session is established at most once per
// connection.
func (m *Manager) handleHandshakePacket(ctx context.Context, pkt *wire.Packet) error {
	if pkt.Header != nil {
		// A session packet arriving before our own handshake completed;
		// nothing to do with it yet.
		return errDrop
	}

	env, err := wire.DecodeEnvelope(pkt.Message.Payload)
	if err != nil {
		return errDrop
	}
	if env.Tag != wire.TagOnboard {
		return ErrGotNoQuote
	}

	onboard, err := wire.DecodeOnboard(env)
	if err != nil {
		return errDrop
	}

	verification, err := m.cfg.Attestation.VerifyQuote(ctx, attestation.Quote(onboard.Quote), pkt.PubKey.Bytes())
	if err != nil || !verification.Valid {
		return ErrInvalidQuote
	}

	sessionKey := m.localSessionKey
	if peerSession := onboard.Session(); peerSession > sessionKey {
		sessionKey = peerSession
	}

	sessionCipher, err := cipher.Derive(m.localSecret, pkt.PubKey)
	if err != nil {
		return errDrop
	}

	m.sessionKey = sessionKey
	m.cipher = sessionCipher
	m.peerPub = pkt.PubKey
	m.state = StateEstablished
	return nil
}
