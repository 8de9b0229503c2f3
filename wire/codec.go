package wire

import (
	"github.com/ethereum/go-ethereum/rlp"
)

// Envelope is the {tag, payload} pair RLP uses to stand in for a sum type:
// the inner plaintext tagged union (Onboard / SharedSecret /
// RequestSharedSecret / …) carried inside a packet's ciphertext once
// decrypted. Payload is itself the RLP encoding of the tag's associated
// struct; unrecognized tags decode with Payload left as the raw bytes so
// the caller can ignore them without error.
type Envelope struct {
	Tag     Tag
	Payload []byte
}

// EncodeOnboard wraps an Onboard payload in its tagged envelope.
func EncodeOnboard(o Onboard) ([]byte, error) {
	return encodeEnvelope(TagOnboard, o)
}

// EncodeSharedSecret wraps a SharedSecret payload in its tagged envelope.
func EncodeSharedSecret(s SharedSecret) ([]byte, error) {
	return encodeEnvelope(TagSharedSecret, s)
}

// EncodeRequestSharedSecret wraps the empty request in its tagged envelope.
func EncodeRequestSharedSecret() ([]byte, error) {
	return encodeEnvelope(TagRequestSharedSecret, RequestSharedSecret{})
}

func encodeEnvelope(tag Tag, payload interface{}) ([]byte, error) {
	inner, err := rlp.EncodeToBytes(payload)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(Envelope{Tag: tag, Payload: inner})
}

// DecodeEnvelope splits a decrypted plaintext back into its tag and raw
// inner bytes, without assuming which tag it is.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := rlp.DecodeBytes(b, &env)
	return env, err
}

// DecodeOnboard decodes an envelope's payload as Onboard. Caller must have
// already checked env.Tag == TagOnboard.
func DecodeOnboard(env Envelope) (Onboard, error) {
	var o Onboard
	err := rlp.DecodeBytes(env.Payload, &o)
	return o, err
}

// DecodeSharedSecret decodes an envelope's payload as SharedSecret. Caller
// must have already checked env.Tag == TagSharedSecret.
func DecodeSharedSecret(env Envelope) (SharedSecret, error) {
	var s SharedSecret
	err := rlp.DecodeBytes(env.Payload, &s)
	return s, err
}

// EncodePacket serializes a Packet to its canonical wire bytes.
func EncodePacket(p *Packet) ([]byte, error) {
	return rlp.EncodeToBytes(p)
}

// DecodePacket parses canonical wire bytes into a Packet. Malformed bytes
// are the caller's (the connection manager's) cue to silently drop the
// packet rather than treat it as a fatal error.
func DecodePacket(b []byte) (*Packet, error) {
	var p Packet
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
