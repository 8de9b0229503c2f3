// Package cipher derives a per-connection AES-256-GCM session cipher from
// an ECDH shared secret and performs the session's encrypt/decrypt
// operations.
//
// The AES-256 key is the raw ECDH shared-secret x-coordinate over
// btcec.S256(), fed straight into crypto/cipher with no KDF step, sealed
// with AES-256-GCM under a fixed twelve-zero-byte IV.
package cipher

import (
	stdcipher "crypto/aes"
	stdgcm "crypto/cipher"
	"errors"

	"github.com/dstack-tee/overlay/identity"
)

// KeySize is the AES-256 key length: the raw ECDH shared-secret
// x-coordinate, unhashed.
const KeySize = 32

// fixedIV is the twelve-zero-byte nonce every packet on a connection
// reuses. Safe only because each connection derives its own fresh key and
// the cipher instance is never shared across connections; see the
// project's design notes for the tradeoff this accepts.
var fixedIV = [12]byte{}

// ErrDecryptFailed covers any GCM authentication or framing failure.
var ErrDecryptFailed = errors.New("cipher: decryption failed")

// Cipher is the session AEAD for one connection.
type Cipher struct {
	aead stdgcm.AEAD
}

// Derive computes the session cipher from the local secret key and the
// peer's public key via ECDH (x = local_secret * peer_point, used directly
// as the AES key with no hash step).
func Derive(local identity.SecretKey, peer identity.PublicKey) (*Cipher, error) {
	key, err := ecdh(local, peer)
	if err != nil {
		return nil, err
	}

	block, err := stdcipher.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := stdgcm.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Cipher{aead: aead}, nil
}

// ecdh computes the raw shared secret x-coordinate, left-padded to KeySize
// bytes. ECDH(sk_A, pk_B) == ECDH(sk_B, pk_A) by construction, since both
// sides compute the same scalar multiple of the same curve point.
func ecdh(local identity.SecretKey, peer identity.PublicKey) ([KeySize]byte, error) {
	var out [KeySize]byte

	x, err := identity.SharedX(local, peer)
	if err != nil {
		return out, err
	}

	xb := x.Bytes()
	copy(out[KeySize-len(xb):], xb)
	return out, nil
}

// Encrypt seals plaintext under the fixed IV, authenticating the whole
// message with no additional associated data (the packet's signature,
// covering the ciphertext, plays that role at the wire-format layer).
func (c *Cipher) Encrypt(plaintext []byte) []byte {
	return c.aead.Seal(nil, fixedIV[:], plaintext, nil)
}

// Decrypt opens ciphertext sealed by Encrypt. A non-nil error means the
// packet must be dropped, not treated as a fatal connection error.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	pt, err := c.aead.Open(nil, fixedIV[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return pt, nil
}
