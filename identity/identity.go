// Copyright (c) 2020 Sperax
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies of
// the Software, and to permit persons to whom the Software is furnished to do so,
// subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY, FITNESS
// FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE AUTHORS OR
// COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
// IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
// CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

// Package identity holds the node's long-term secp256k1 keypair: the
// compressed public key that serves as peer identity, and the ECDH/ECDSA
// primitives the overlay's handshake and packet signing build on. Keys are
// carried on the wire as a single 33-byte compressed point.
package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"io"
	"math/big"

	"github.com/btcsuite/btcd/btcec"
)

// PublicKeySize is the length of a compressed secp256k1 point.
const PublicKeySize = 33

// SecretKeySize is the length of a raw secp256k1 scalar.
const SecretKeySize = 32

// DefaultCurve is the curve used throughout the overlay: secp256k1, the
// curve the attested peers agree to identify themselves on.
var DefaultCurve = btcec.S256()

// ErrInvalidPublicKey is returned when a byte string cannot be parsed as a
// compressed secp256k1 point.
var ErrInvalidPublicKey = errors.New("identity: invalid compressed public key")

// ErrInvalidSecretKey is returned when a byte string isn't a valid scalar.
var ErrInvalidSecretKey = errors.New("identity: invalid secret key")

// PublicKey is a compressed secp256k1 point: stable peer identity.
type PublicKey [PublicKeySize]byte

// Bytes returns the compressed point bytes.
func (p PublicKey) Bytes() []byte { return p[:] }

// String renders the key as hex, mainly for logging.
func (p PublicKey) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, 2*PublicKeySize)
	for i, b := range p {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}

// ecdsa reconstructs the standard-library public key backing this compressed
// point, for use with crypto/ecdsa and elliptic curve operations.
func (p PublicKey) ecdsa() (*ecdsa.PublicKey, error) {
	key, err := btcec.ParsePubKey(p[:], DefaultCurve)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return (*ecdsa.PublicKey)(key), nil
}

// ParsePublicKey decodes a compressed secp256k1 point.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, ErrInvalidPublicKey
	}
	if _, err := btcec.ParsePubKey(b, DefaultCurve); err != nil {
		return pk, ErrInvalidPublicKey
	}
	copy(pk[:], b)
	return pk, nil
}

// SecretKey is the node's long-term secp256k1 scalar. Held only by the
// owning process; never serialized onto the wire.
type SecretKey struct {
	priv *ecdsa.PrivateKey
}

// GenerateSecretKey creates a fresh random node identity.
func GenerateSecretKey(random io.Reader) (SecretKey, error) {
	if random == nil {
		random = rand.Reader
	}
	priv, err := ecdsa.GenerateKey(DefaultCurve, random)
	if err != nil {
		return SecretKey{}, err
	}
	return SecretKey{priv: priv}, nil
}

// SecretKeyFromBytes reconstructs a node identity from a raw 32-byte scalar,
// mirroring the literal fixed-key test vectors used throughout this
// protocol's scenarios (e.g. sk_A = [1;32]).
func SecretKeyFromBytes(b []byte) (SecretKey, error) {
	if len(b) != SecretKeySize {
		return SecretKey{}, ErrInvalidSecretKey
	}
	d := new(big.Int).SetBytes(b)
	if d.Sign() == 0 || d.Cmp(DefaultCurve.Params().N) >= 0 {
		return SecretKey{}, ErrInvalidSecretKey
	}
	priv := new(ecdsa.PrivateKey)
	priv.Curve = DefaultCurve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = DefaultCurve.ScalarBaseMult(b)
	return SecretKey{priv: priv}, nil
}

// Bytes returns the raw 32-byte scalar, zero-padded on the left.
func (s SecretKey) Bytes() []byte {
	out := make([]byte, SecretKeySize)
	d := s.priv.D.Bytes()
	copy(out[SecretKeySize-len(d):], d)
	return out
}

// Public derives the compressed public key for this secret.
func (s SecretKey) Public() PublicKey {
	var pk PublicKey
	compressed := (*btcec.PublicKey)(&s.priv.PublicKey).SerializeCompressed()
	copy(pk[:], compressed)
	return pk
}

// ECDSA exposes the underlying standard-library key, for callers that need
// to drive crypto/ecdsa directly (signing, point arithmetic).
func (s SecretKey) ECDSA() *ecdsa.PrivateKey { return s.priv }

// SharedX computes the x-coordinate of local.priv.D * peer, the raw ECDH
// shared secret this protocol uses directly as an AES key with no hash
// step. SharedX(skA, pkB) == SharedX(skB, pkA): both sides compute the same
// scalar multiple of the same curve point.
func SharedX(local SecretKey, peer PublicKey) (*big.Int, error) {
	peerKey, err := peer.ecdsa()
	if err != nil {
		return nil, err
	}
	x, _ := DefaultCurve.ScalarMult(peerKey.X, peerKey.Y, local.priv.D.Bytes())
	return x, nil
}
