package wire

import (
	"testing"

	"github.com/dstack-tee/overlay/identity"
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

func TestHeaderNonceSessionKeyRoundTripNegative(t *testing.T) {
	h := NewHeader(-5, -2, [SignatureSize]byte{})
	assert.Equal(t, int64(-5), h.Nonce())
	assert.Equal(t, int64(-2), h.SessionKey())
}

func TestOnboardSessionRoundTrip(t *testing.T) {
	o := NewOnboard([]byte("quote"), -7, true)
	assert.Equal(t, int64(-7), o.Session())
	assert.True(t, o.WantShared)
}

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	sk := fixedSecret(1)
	pub := sk.Public()

	header := NewHeader(3, 7, [SignatureSize]byte{0xAB})
	pkt := &Packet{
		Header: header,
		PubKey: pub,
		Message: Message{
			Targets: NewTargetSet(pub),
			Payload: []byte("ciphertext"),
		},
	}

	b, err := EncodePacket(pkt)
	assert.Nil(t, err)

	decoded, err := DecodePacket(b)
	assert.Nil(t, err)
	assert.Equal(t, pkt.PubKey, decoded.PubKey)
	assert.Equal(t, pkt.Message.Payload, decoded.Message.Payload)
	assert.Equal(t, pkt.Header.Nonce(), decoded.Header.Nonce())
	assert.Equal(t, pkt.Header.SessionKey(), decoded.Header.SessionKey())
	assert.True(t, decoded.Message.Targets.Contains(pub))
}

func TestHandshakePacketOmitsHeader(t *testing.T) {
	sk := fixedSecret(2)
	pub := sk.Public()

	pkt := &Packet{
		PubKey: pub,
		Message: Message{
			Payload: []byte("plaintext-onboard"),
		},
	}

	b, err := EncodePacket(pkt)
	assert.Nil(t, err)

	decoded, err := DecodePacket(b)
	assert.Nil(t, err)
	assert.Nil(t, decoded.Header)
}

func TestEnvelopeRoundTripOnboard(t *testing.T) {
	o := NewOnboard([]byte("quote-bytes"), 42, false)
	raw, err := EncodeOnboard(o)
	assert.Nil(t, err)

	env, err := DecodeEnvelope(raw)
	assert.Nil(t, err)
	assert.Equal(t, TagOnboard, env.Tag)

	decoded, err := DecodeOnboard(env)
	assert.Nil(t, err)
	assert.Equal(t, o.Quote, decoded.Quote)
	assert.Equal(t, o.Session(), decoded.Session())
}

func TestEnvelopeUnknownTagIgnored(t *testing.T) {
	raw, err := encodeEnvelope(Tag(0x77), RequestSharedSecret{})
	assert.Nil(t, err)

	env, err := DecodeEnvelope(raw)
	assert.Nil(t, err)
	assert.Equal(t, Tag(0x77), env.Tag)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	sk := fixedSecret(9)
	pub := sk.Public()
	ciphertext := []byte("some-ciphertext")

	sig, err := Sign(sk, pub, ciphertext, 11, 22)
	assert.Nil(t, err)
	assert.True(t, Verify(pub, ciphertext, 11, 22, sig))
	assert.False(t, Verify(pub, ciphertext, 11, 23, sig))
}
