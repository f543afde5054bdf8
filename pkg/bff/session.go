package bff

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Session read failures. Callers must treat all three identically as
// "unauthenticated"; they are distinguished in logs only.
var (
	ErrSessionMissing = errors.New("session cookie missing")
	ErrSessionInvalid = errors.New("session cookie invalid")
	ErrSessionExpired = errors.New("session expired")
)

// SessionCodec turns a Principal into an opaque cookie value and back. The
// payload is CBOR-encoded, signed and then encrypted, so the browser can
// neither read nor forge it. Sessions have a fixed absolute expiry set at
// issuance; there is no sliding extension.
type SessionCodec struct {
	encrypt CryptoFunc
	decrypt CryptoFunc
	sign    CryptoFunc
	verify  CryptoFunc
	ttl     time.Duration
}

func NewSessionCodec(encryptKey, signKey []byte, ttl time.Duration) *SessionCodec {
	return &SessionCodec{
		encrypt: EncryptWithDirectKeyFunc(encryptKey),
		decrypt: DecryptWithDirectKeyFunc(encryptKey),
		sign:    SignWithHS256KeyFunc(signKey),
		verify:  VerifyWithHS256KeyFunc(signKey),
		ttl:     ttl,
	}
}

// Issue stamps the principal with issuance and expiry times and seals it
// into a cookie value.
func (codec *SessionCodec) Issue(principal *Principal) (string, error) {
	now := time.Now().UTC()
	principal.IssuedAt = now
	principal.ExpiresAt = now.Add(codec.ttl)

	payload, err := cbor.Marshal(principal)
	if err != nil {
		return "", fmt.Errorf("encode principal: %w", err)
	}

	signed, err := codec.sign(payload)
	if err != nil {
		return "", fmt.Errorf("sign cookie payload: %w", err)
	}

	encrypted, err := codec.encrypt(signed)
	if err != nil {
		return "", fmt.Errorf("encrypt cookie payload: %w", err)
	}

	return string(encrypted), nil
}

// Read is a pure function of the cookie bytes: it decrypts, verifies and
// decodes the principal, then checks expiry. Concurrent requests racing on
// the same cookie are benign since nothing server-side is mutated.
func (codec *SessionCodec) Read(cookieValue string) (*Principal, error) {
	if cookieValue == "" {
		return nil, ErrSessionMissing
	}

	signed, err := codec.decrypt([]byte(cookieValue))
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt: %v", ErrSessionInvalid, err)
	}

	payload, err := codec.verify(signed)
	if err != nil {
		return nil, fmt.Errorf("%w: signature: %v", ErrSessionInvalid, err)
	}

	var principal Principal
	if err := cbor.Unmarshal(payload, &principal); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSessionInvalid, err)
	}

	if time.Now().After(principal.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	return &principal, nil
}
