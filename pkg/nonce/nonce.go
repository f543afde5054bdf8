// Package nonce issues single-use nonces for the OIDC login flow. A nonce is
// embedded in the authorization request, echoed back inside the ID token and
// redeemed exactly once when the token is validated.
package nonce

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-secure-stdlib/nonceutil"
)

type Service interface {
	// Get returns a fresh nonce.
	Get() (string, error)
	// Redeem consumes the nonce. A second redemption of the same nonce fails.
	Redeem(nonceStr string) error
}

type hashicorpService struct {
	nonceService nonceutil.NonceService
}

// NewHashicorpService returns a Service whose nonces stay redeemable for
// validity, which should cover the longest plausible stay on the identity
// provider's login page.
func NewHashicorpService(validity time.Duration) (Service, error) {
	nonceService := nonceutil.NewNonceServiceWithValidity(validity)
	if err := nonceService.Initialize(); err != nil {
		return nil, fmt.Errorf("could not initialize nonce service: %w", err)
	}
	return &hashicorpService{nonceService}, nil
}

func (s *hashicorpService) Get() (string, error) {
	nonceStr, _, err := s.nonceService.Get()
	if err != nil {
		return "", err
	}
	return nonceStr, nil
}

func (s *hashicorpService) Redeem(nonceStr string) error {
	if ok := s.nonceService.Redeem(nonceStr); !ok {
		return fmt.Errorf("nonce %s not found or already redeemed", nonceStr)
	}
	return nil
}
