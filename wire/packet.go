package wire

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
	"github.com/dstack-tee/overlay/identity"
)

// SignatureSize is the length of the compact (R||S, no recovery id) ECDSA
// signature every non-handshake packet carries.
const SignatureSize = 64

// Header carries the per-packet nonce, session key and signature. It is
// present on every packet except the single headerless handshake packet
// each direction sends on connection establishment.
type Header struct {
	NonceBE      [8]byte
	SessionKeyBE [8]byte
	Signature    [SignatureSize]byte
}

// NewHeader builds a Header from signed nonce/session-key values.
func NewHeader(nonce, sessionKey int64, sig [SignatureSize]byte) *Header {
	return &Header{
		NonceBE:      int64ToBE8(nonce),
		SessionKeyBE: int64ToBE8(sessionKey),
		Signature:    sig,
	}
}

// Nonce returns the signed packet nonce.
func (h *Header) Nonce() int64 { return be8ToInt64(h.NonceBE) }

// SessionKey returns the signed session key.
func (h *Header) SessionKey() int64 { return be8ToInt64(h.SessionKeyBE) }

// Packet is the unit carried by the transport: an optional header, the
// sender's public key and a message whose payload is plaintext only for
// the headerless handshake packet.
type Packet struct {
	Header  *Header `rlp:"nil"`
	PubKey  identity.PublicKey
	Message Message
}

// ErrBadSignature names a packet signature that does not match its signing
// preimage. Verify reports that case by returning false; it does not
// return this error.
var ErrBadSignature = errors.New("wire: signature verification failed")

// SigningPreimage builds the canonical byte string the packet signature
// covers: pubkey || ciphertext || nonce_be8 || session_key_be8.
func SigningPreimage(pubkey identity.PublicKey, ciphertext []byte, nonce, sessionKey int64) []byte {
	nonceBE := int64ToBE8(nonce)
	sessionBE := int64ToBE8(sessionKey)

	buf := make([]byte, 0, len(pubkey)+len(ciphertext)+16)
	buf = append(buf, pubkey[:]...)
	buf = append(buf, ciphertext...)
	buf = append(buf, nonceBE[:]...)
	buf = append(buf, sessionBE[:]...)
	return buf
}

// Sign computes the signing digest over the preimage and produces a
// 64-byte compact (R||S) ECDSA signature over btcec.S256(), using a
// non-recoverable 64-byte encoding (as opposed to a 65-byte recoverable
// signature, which carries one byte more than this wire format allows).
func Sign(sk identity.SecretKey, pubkey identity.PublicKey, ciphertext []byte, nonce, sessionKey int64) ([SignatureSize]byte, error) {
	var sig [SignatureSize]byte

	preimage := SigningPreimage(pubkey, ciphertext, nonce, sessionKey)
	digest := sha256.Sum256(preimage)

	r, s, err := ecdsa.Sign(rand.Reader, sk.ECDSA(), digest[:])
	if err != nil {
		return sig, err
	}

	rb := r.Bytes()
	sb := s.Bytes()
	copy(sig[32-len(rb):32], rb)
	copy(sig[64-len(sb):64], sb)
	return sig, nil
}

// Verify checks a 64-byte compact ECDSA signature against the packet's
// signing preimage.
func Verify(pubkey identity.PublicKey, ciphertext []byte, nonce, sessionKey int64, sig [SignatureSize]byte) bool {
	key, err := btcec.ParsePubKey(pubkey[:], identity.DefaultCurve)
	if err != nil {
		return false
	}

	preimage := SigningPreimage(pubkey, ciphertext, nonce, sessionKey)
	digest := sha256.Sum256(preimage)

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:])

	return ecdsa.Verify((*ecdsa.PublicKey)(key), digest[:], r, s)
}
