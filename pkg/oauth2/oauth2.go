// Package oauth2 holds the wire types shared by the OIDC relying party client:
// token responses, the standard OAuth2 error shape and request parameter options.
package oauth2

import (
	"fmt"
	"net/url"
)

// ParameterOption modifies the query or form parameters of an outgoing
// authorization or token request.
type ParameterOption func(params url.Values)

func WithParameter(name, value string) ParameterOption {
	return func(params url.Values) {
		params.Set(name, value)
	}
}

func WithPrompt(prompt string) ParameterOption {
	return func(params url.Values) {
		if prompt != "" {
			params.Set("prompt", prompt)
		}
	}
}

type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	Scope        string `json:"scope"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
}

type CodeChallengeMethod string

const (
	CodeChallengeMethodS256 CodeChallengeMethod = "S256"
)

// Error is the standard OAuth2 error response body.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
	URI         string `json:"error_uri,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}
