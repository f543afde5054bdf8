package bff

import (
	"crypto/rand"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwe"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// CryptoFunc is one stage of the cookie payload pipeline: encrypt, decrypt,
// sign or verify. The codec composes two pairs of them.
type CryptoFunc func(payload []byte) ([]byte, error)

// EncryptWithDirectKeyFunc seals the payload as a compact JWE using the
// symmetric key directly (alg "dir") with A256GCM content encryption.
func EncryptWithDirectKeyFunc(key []byte) CryptoFunc {
	return func(payload []byte) ([]byte, error) {
		return jwe.Encrypt(payload, jwe.WithContentEncryption(jwa.A256GCM), jwe.WithKey(jwa.DIRECT, key))
	}
}

func DecryptWithDirectKeyFunc(key []byte) CryptoFunc {
	return func(payload []byte) ([]byte, error) {
		return jwe.Decrypt(payload, jwe.WithKey(jwa.DIRECT, key))
	}
}

// SignWithHS256KeyFunc wraps the payload in a compact JWS with an HS256 MAC.
// The signature sits inside the encryption layer, so a decrypted payload
// with a bad MAC still never reaches the CBOR decoder.
func SignWithHS256KeyFunc(key []byte) CryptoFunc {
	return func(payload []byte) ([]byte, error) {
		return jws.Sign(payload, jws.WithKey(jwa.HS256, key))
	}
}

func VerifyWithHS256KeyFunc(key []byte) CryptoFunc {
	return func(payload []byte) ([]byte, error) {
		return jws.Verify(payload, jws.WithKey(jwa.HS256, key))
	}
}

// GenerateRandomKey returns bits/8 bytes from crypto/rand. It panics when the
// system random source is unavailable; there is no key material to hand out
// in that state.
func GenerateRandomKey(bits int) []byte {
	key := make([]byte, bits/8)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	return key
}
