// Package wire implements the overlay's binary packet format: the
// deterministic, map-free encoding of packets, headers, messages and the
// plaintext tagged union they carry once decrypted.
//
// Encoding is delegated to github.com/ethereum/go-ethereum/rlp, the same
// canonical, map-order-free codec the devp2p handshake/message envelope
// uses — chosen over hand-rolling a TLV scheme because RLP already
// guarantees byte-identical output for identical struct values. RLP has no
// native signed-integer support, so the 64-bit signed nonce and session key
// are carried as fixed 8-byte big-endian two's-complement strings rather
// than as Go int64 fields.
package wire

import (
	"encoding/binary"

	"github.com/dstack-tee/overlay/identity"
)

// Tag identifies the plaintext message type carried once a packet's
// ciphertext has been decrypted (or, for the handshake packet, carried
// directly in the clear).
type Tag byte

// The closed set of known tags. An envelope with any other byte value
// still decodes without error, keeping its raw tag and payload (it is not
// rewritten to TagUnknown), matching the rule that unrecognized tags are
// ignored, not fatal.
const (
	TagOnboard Tag = iota + 1
	TagSharedSecret
	TagRequestSharedSecret
	TagUnknown Tag = 0xff
)

// Onboard is the handshake payload: an attestation quote over the sender's
// public key, the sender's randomly chosen session key half, and a
// reserved flag that is currently unread.
type Onboard struct {
	Quote      []byte
	SessionBE  [8]byte
	WantShared bool
}

// NewOnboard builds an Onboard payload from a signed session-key half.
func NewOnboard(quote []byte, session int64, wantShared bool) Onboard {
	return Onboard{
		Quote:      quote,
		SessionBE:  int64ToBE8(session),
		WantShared: wantShared,
	}
}

// Session returns the signed 64-bit session-key half this handshake offers.
func (o Onboard) Session() int64 { return be8ToInt64(o.SessionBE) }

// SharedSecret carries the bootstrap secret to a joiner.
type SharedSecret struct {
	Secret []byte
}

// RequestSharedSecret is the empty request a joiner broadcasts while it has
// no secret of its own.
type RequestSharedSecret struct{}

// int64ToBE8 converts a signed 64-bit integer to its 8-byte big-endian
// two's-complement representation (RLP has no native signed-int support).
func int64ToBE8(v int64) [8]byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return b
}

// be8ToInt64 is the inverse of int64ToBE8.
func be8ToInt64(b [8]byte) int64 {
	return int64(binary.BigEndian.Uint64(b[:]))
}

// TargetSet restricts forwarding of a broadcast OverlayMessage to a named
// set of peer public keys. A nil *TargetSet means "broadcast, no filter";
// RLP has no native set type, so membership is a linear scan over a slice
// (target sets are small: handful of peers, not a scaling concern).
type TargetSet struct {
	Keys []identity.PublicKey
}

// NewTargetSet builds a target set from the given public keys.
func NewTargetSet(keys ...identity.PublicKey) *TargetSet {
	return &TargetSet{Keys: keys}
}

// Contains reports whether pk is one of the named targets.
func (t *TargetSet) Contains(pk identity.PublicKey) bool {
	if t == nil {
		return true
	}
	for _, k := range t.Keys {
		if k == pk {
			return true
		}
	}
	return false
}

// Message is the application-facing overlay message: an optional target
// filter and an opaque payload that is plaintext in the application's view
// (the Encrypted(...) tag from the reference protocol is historical — by
// the time a Message reaches the application it has already been
// decrypted, and by the time it reaches the wire it is about to be
// encrypted).
type Message struct {
	Targets *TargetSet `rlp:"nil"`
	Payload []byte
}
