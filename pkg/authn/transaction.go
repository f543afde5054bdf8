// Package authn tracks the ephemeral state of one login attempt: the values
// generated when the browser is redirected to the identity provider, correlated
// with the callback that comes back. A transaction is single-use and expires if
// the callback never arrives.
package authn

import (
	"errors"
	"time"
)

// ErrTransactionNotFound is returned when no outstanding transaction matches
// the given state. This covers unknown, expired and already consumed states:
// a callback presenting such a state must be rejected.
var ErrTransactionNotFound = errors.New("login transaction not found")

type Transaction struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Nonce     string    `json:"nonce"`
	Verifier  string    `json:"verifier"`
	ReturnURL string    `json:"return_url"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists transactions keyed by state for the duration of a login
// attempt. Implementations must be safe for concurrent use.
type Store interface {
	Save(tx *Transaction) error
	// Take returns the transaction for the given state and deletes it in the
	// same step. A second Take of the same state returns ErrTransactionNotFound.
	Take(state string) (*Transaction, error)
}
