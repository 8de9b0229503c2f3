package identity

import (
	"crypto/ecdsa"
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretKeyFromBytesFixedVector(t *testing.T) {
	var raw [32]byte
	raw[31] = 1

	sk, err := SecretKeyFromBytes(raw[:])
	assert.Nil(t, err)
	assert.Equal(t, raw[:], sk.Bytes())

	pub := sk.Public()
	assert.Len(t, pub.Bytes(), PublicKeySize)
}

func TestSecretKeyFromBytesRejectsZeroAndOverflow(t *testing.T) {
	var zero [32]byte
	_, err := SecretKeyFromBytes(zero[:])
	assert.Equal(t, ErrInvalidSecretKey, err)

	n := DefaultCurve.Params().N.Bytes()
	_, err = SecretKeyFromBytes(n)
	assert.Equal(t, ErrInvalidSecretKey, err)

	_, err = SecretKeyFromBytes([]byte{1, 2, 3})
	assert.Equal(t, ErrInvalidSecretKey, err)
}

func TestParsePublicKeyRoundTrip(t *testing.T) {
	sk, err := GenerateSecretKey(nil)
	assert.Nil(t, err)

	pub := sk.Public()
	parsed, err := ParsePublicKey(pub.Bytes())
	assert.Nil(t, err)
	assert.Equal(t, pub, parsed)
}

func TestParsePublicKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePublicKey(make([]byte, PublicKeySize))
	assert.Equal(t, ErrInvalidPublicKey, err)

	_, err = ParsePublicKey(make([]byte, 10))
	assert.Equal(t, ErrInvalidPublicKey, err)
}

func TestECDHSymmetry(t *testing.T) {
	skA, err := GenerateSecretKey(nil)
	assert.Nil(t, err)
	skB, err := GenerateSecretKey(nil)
	assert.Nil(t, err)

	pubA := skA.Public()
	pubB := skB.Public()

	pubAkey, err := pubA.ecdsa()
	assert.Nil(t, err)
	pubBkey, err := pubB.ecdsa()
	assert.Nil(t, err)

	xA, _ := DefaultCurve.ScalarMult(pubBkey.X, pubBkey.Y, skA.ECDSA().D.Bytes())
	xB, _ := DefaultCurve.ScalarMult(pubAkey.X, pubAkey.Y, skB.ECDSA().D.Bytes())

	assert.Equal(t, 0, new(big.Int).Set(xA).Cmp(xB))
}

func TestSignVerify(t *testing.T) {
	sk, err := GenerateSecretKey(nil)
	assert.Nil(t, err)

	digest := [32]byte{}
	digest[0] = 0xde
	digest[1] = 0xad

	r, s, err := ecdsa.Sign(rand.Reader, sk.ECDSA(), digest[:])
	assert.Nil(t, err)
	assert.True(t, ecdsa.Verify(&sk.ECDSA().PublicKey, digest[:], r, s))
}
