// Package oidc implements the relying-party side of the OpenID Connect
// Authorization Code flow with PKCE: building the authorization redirect,
// exchanging the code for tokens, validating the ID token against the
// provider's published keys and the optional userinfo and revocation calls.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/meetupplanner/gateway/pkg/oauth2"
	xoauth2 "golang.org/x/oauth2"
)

// requestTimeout bounds every network call to the identity provider so an
// unreachable provider cannot hang a request handler.
const requestTimeout = 10 * time.Second

const acceptableSkew = 30 * time.Second

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	// AllowedIssuers lists the accepted `iss` values of the ID token. When
	// empty, only the discovered issuer is accepted. A deployment may
	// allow-list both the http and https form of the authority here.
	AllowedIssuers []string
}

type Client struct {
	config            *Config
	discoveryDocument *DiscoveryDocument
	keyCache          *jwk.Cache
	httpClient        *http.Client
}

func NewClient(cfg *Config) (*Client, error) {
	c := &Client{
		config:     cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
	}

	var err error
	discoveryDocumentUrl := strings.TrimSuffix(cfg.Issuer, "/") + "/.well-known/openid-configuration"
	c.discoveryDocument, err = FetchDiscoveryDocument(discoveryDocumentUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch discovery document from %s: %w", discoveryDocumentUrl, err)
	}

	// prepare the auto-refreshing signing key cache
	c.keyCache = jwk.NewCache(context.Background())
	c.keyCache.Register(c.discoveryDocument.JwksURI, jwk.WithMinRefreshInterval(15*time.Minute))
	if _, err = c.keyCache.Refresh(context.Background(), c.discoveryDocument.JwksURI); err != nil {
		return nil, fmt.Errorf("failed to fetch signing keys: %w", err)
	}

	return c, nil
}

func (c *Client) Issuer() string {
	return c.discoveryDocument.Issuer
}

func (c *Client) ClientID() string {
	return c.config.ClientID
}

func (c *Client) DiscoveryDocument() *DiscoveryDocument {
	return c.discoveryDocument
}

// GenerateVerifier returns a fresh PKCE code verifier. Also used for state
// values, which need the same entropy.
func GenerateVerifier() string {
	return xoauth2.GenerateVerifier()
}

// AuthCodeURL builds the authorization redirect. PKCE with S256 is always on.
func (c *Client) AuthCodeURL(state, nonce, verifier string, opts ...oauth2.ParameterOption) string {
	query := url.Values{}
	query.Add("client_id", c.config.ClientID)
	query.Add("redirect_uri", c.config.RedirectURI)
	query.Add("response_type", "code")
	query.Add("scope", strings.Join(c.config.Scopes, " "))
	query.Add("state", state)
	query.Add("nonce", nonce)
	query.Add("code_challenge", xoauth2.S256ChallengeFromVerifier(verifier))
	query.Add("code_challenge_method", string(oauth2.CodeChallengeMethodS256))

	for _, opt := range opts {
		opt(query)
	}

	return fmt.Sprintf("%s?%s", c.discoveryDocument.AuthorizationEndpoint, query.Encode())
}

// Exchange trades the authorization code and PKCE verifier for tokens.
func (c *Client) Exchange(ctx context.Context, code, verifier string, opts ...oauth2.ParameterOption) (*oauth2.TokenResponse, error) {
	params := url.Values{}
	params.Set("client_id", c.config.ClientID)
	params.Set("client_secret", c.config.ClientSecret)
	params.Set("code", code)
	params.Set("redirect_uri", c.config.RedirectURI)
	params.Set("grant_type", "authorization_code")
	params.Set("code_verifier", verifier)

	for _, opt := range opts {
		opt(params)
	}

	body, err := c.postForm(ctx, c.discoveryDocument.TokenEndpoint, params)
	if err != nil {
		return nil, err
	}

	var tokenResponse oauth2.TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		return nil, fmt.Errorf("unable to decode token response: %w", err)
	}

	return &tokenResponse, nil
}

// ParseIDToken parses and verifies an ID token against the keys from the
// discovery document: signature, issuer allow-list, audience, exp/nbf within
// skew and the nonce claim bound to the login transaction.
func (c *Client) ParseIDToken(ctx context.Context, serialized, expectedNonce string) (jwt.Token, error) {
	keySet, err := c.keyCache.Get(ctx, c.discoveryDocument.JwksURI)
	if err != nil {
		return nil, fmt.Errorf("unable to get key set: %w", err)
	}

	token, err := jwt.ParseString(
		serialized,
		jwt.WithKeySet(keySet),
		jwt.WithAudience(c.config.ClientID),
		jwt.WithAcceptableSkew(acceptableSkew),
		jwt.WithRequiredClaim("nonce"),
		jwt.WithRequiredClaim("exp"),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to parse id token: %w", err)
	}

	if !c.issuerAllowed(token.Issuer()) {
		return nil, fmt.Errorf("id token issuer %q not in allow-list", token.Issuer())
	}

	nonceClaim, ok := token.Get("nonce")
	if !ok || nonceClaim != expectedNonce {
		return nil, fmt.Errorf("id token nonce does not match login transaction")
	}

	return token, nil
}

func (c *Client) issuerAllowed(issuer string) bool {
	if len(c.config.AllowedIssuers) == 0 {
		return issuer == c.discoveryDocument.Issuer
	}
	return slices.Contains(c.config.AllowedIssuers, issuer)
}

// Userinfo fetches additional claims from the userinfo endpoint.
func (c *Client) Userinfo(ctx context.Context, accessToken string) (map[string]any, error) {
	if c.discoveryDocument.UserinfoEndpoint == "" {
		return nil, fmt.Errorf("provider does not publish a userinfo endpoint")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.discoveryDocument.UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to get userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo request failed: status %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, fmt.Errorf("unable to decode userinfo: %w", err)
	}

	return claims, nil
}

// Revoke invalidates a refresh token at the provider's revocation endpoint.
// Callers treat failure as best-effort: local logout proceeds regardless.
func (c *Client) Revoke(ctx context.Context, refreshToken string) error {
	if c.discoveryDocument.RevocationEndpoint == "" {
		return fmt.Errorf("provider does not publish a revocation endpoint")
	}

	params := url.Values{}
	params.Set("token", refreshToken)
	params.Set("token_type_hint", "refresh_token")
	params.Set("client_id", c.config.ClientID)
	if c.config.ClientSecret != "" {
		params.Set("client_secret", c.config.ClientSecret)
	}

	_, err := c.postForm(ctx, c.discoveryDocument.RevocationEndpoint, params)
	return err
}

func (c *Client) postForm(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("unable to reach %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("unable to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var oauthErr oauth2.Error
		if err := json.Unmarshal(body, &oauthErr); err != nil || oauthErr.Code == "" {
			return nil, fmt.Errorf("%s returned status %d", endpoint, resp.StatusCode)
		}
		return nil, &oauthErr
	}

	return body, nil
}
