package bff

import (
	"time"
)

// Claim is one (type, value) pair from the verified identity. Claims keep
// their order and duplicates are permitted, e.g. one entry per role.
type Claim struct {
	Type  string `cbor:"1,keyasint" json:"type"`
	Value string `cbor:"2,keyasint" json:"value"`
}

// Tokens caches the provider tokens inside the encrypted cookie payload.
// They are never serialized into any response to the browser.
type Tokens struct {
	Access  string `cbor:"1,keyasint" json:"-"`
	Refresh string `cbor:"2,keyasint" json:"-"`
	ID      string `cbor:"3,keyasint" json:"-"`
}

// Principal is the identity bound to a valid session cookie. It lives
// exclusively inside the signed and encrypted cookie payload; the browser
// only ever holds the opaque cookie value.
type Principal struct {
	Subject   string    `cbor:"1,keyasint" json:"id"`
	Name      string    `cbor:"2,keyasint" json:"name"`
	Email     string    `cbor:"3,keyasint" json:"email"`
	Roles     []string  `cbor:"4,keyasint" json:"roles"`
	Claims    []Claim   `cbor:"5,keyasint" json:"claims"`
	IssuedAt  time.Time `cbor:"6,keyasint" json:"-"`
	ExpiresAt time.Time `cbor:"7,keyasint" json:"-"`
	Tokens    Tokens    `cbor:"8,keyasint" json:"-"`
}

// ClaimValue returns the first claim of the given type, or "".
func (p *Principal) ClaimValue(claimType string) string {
	for _, claim := range p.Claims {
		if claim.Type == claimType {
			return claim.Value
		}
	}
	return ""
}
