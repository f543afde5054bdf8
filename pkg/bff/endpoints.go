package bff

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/meetupplanner/gateway/pkg/authn"
	"github.com/meetupplanner/gateway/pkg/oauth2"
	"github.com/meetupplanner/gateway/pkg/oidc"
	"github.com/segmentio/ksuid"
)

// Login outcome labels, also used as log markers. The browser only ever sees
// the generic error flag on the error page redirect.
const (
	outcomeOK                  = "ok"
	outcomeInvalidState        = "invalid_state"
	outcomeInvalidToken        = "invalid_token"
	outcomeProviderUnreachable = "provider_unreachable"
	outcomeProviderError       = "provider_error"
	outcomeInternalError       = "internal_error"
)

// MountRoutes registers the /bff surface and the fixed OIDC callback path.
// Extra middleware (e.g. a rate limiter) applies to the login endpoint only.
func (b *BackendForFrontend) MountRoutes(root *echo.Echo, loginMiddleware ...echo.MiddlewareFunc) {
	group := root.Group("/bff")
	group.GET("/login", b.LoginEndpoint, loginMiddleware...)
	group.GET("/logout", b.LogoutEndpoint)
	group.GET("/user", b.UserEndpoint)
	group.GET("/session", b.SessionEndpoint)

	root.GET(b.callbackPath, b.CallbackEndpoint)
}

// LoginEndpoint starts a login attempt: it creates the single-use transaction
// correlating this redirect with its callback and sends the browser to the
// identity provider.
func (b *BackendForFrontend) LoginEndpoint(c echo.Context) error {
	returnURL, ok := safeReturnURL(c.QueryParam("returnUrl"))
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, oauth2.Error{
			Code:        "invalid_request",
			Description: "returnUrl must be a same-origin relative path",
		})
	}

	nonceValue, err := b.nonces.Get()
	if err != nil {
		return fmt.Errorf("get nonce: %w", err)
	}

	tx := &authn.Transaction{
		ID:        ksuid.New().String(),
		State:     oidc.GenerateVerifier(),
		Nonce:     nonceValue,
		Verifier:  oidc.GenerateVerifier(),
		ReturnURL: returnURL,
		CreatedAt: time.Now(),
	}
	if err := b.transactions.Save(tx); err != nil {
		return fmt.Errorf("save login transaction: %w", err)
	}

	authURL := b.client.AuthCodeURL(tx.State, tx.Nonce, tx.Verifier)
	slog.Info("login started", "transaction", tx.ID, "return_url", returnURL, "request_id", requestID(c))
	return c.Redirect(http.StatusFound, authURL)
}

// CallbackEndpoint completes the login. Any validation failure ends without a
// session cookie and with a generic redirect; the cause stays in the logs.
func (b *BackendForFrontend) CallbackEndpoint(c echo.Context) error {
	ctx := c.Request().Context()

	if errCode := c.QueryParam("error"); errCode != "" {
		slog.Error("identity provider returned error",
			"error", errCode,
			"description", c.QueryParam("error_description"),
			"request_id", requestID(c))
		return b.failLogin(c, outcomeProviderError)
	}

	state := c.QueryParam("state")
	code := c.QueryParam("code")
	if state == "" || code == "" {
		slog.Warn("callback missing state or code", "request_id", requestID(c))
		return b.failLogin(c, outcomeInvalidState)
	}

	// Single use: the transaction is deleted on first lookup, so a replayed
	// callback fails here regardless of how the first attempt ended.
	tx, err := b.transactions.Take(state)
	if err != nil {
		slog.Warn("callback state matches no outstanding login transaction", "request_id", requestID(c))
		return b.failLogin(c, outcomeInvalidState)
	}

	tokenResponse, err := b.client.Exchange(ctx, code, tx.Verifier)
	if err != nil {
		var oauthErr *oauth2.Error
		if errors.As(err, &oauthErr) {
			slog.Error("token exchange rejected", "error", err, "transaction", tx.ID, "request_id", requestID(c))
			return b.failLogin(c, outcomeInvalidToken)
		}
		slog.Error("token endpoint unreachable", "error", err, "transaction", tx.ID, "request_id", requestID(c))
		return b.failLogin(c, outcomeProviderUnreachable)
	}

	if tokenResponse.IDToken == "" {
		slog.Error("token response carries no id token", "transaction", tx.ID, "request_id", requestID(c))
		return b.failLogin(c, outcomeInvalidToken)
	}

	idToken, err := b.client.ParseIDToken(ctx, tokenResponse.IDToken, tx.Nonce)
	if err != nil {
		slog.Error("id token validation failed", "error", err, "transaction", tx.ID, "request_id", requestID(c))
		return b.failLogin(c, outcomeInvalidToken)
	}

	if err := b.nonces.Redeem(tx.Nonce); err != nil {
		slog.Error("nonce redemption failed", "error", err, "transaction", tx.ID, "request_id", requestID(c))
		return b.failLogin(c, outcomeInvalidToken)
	}

	var userinfo map[string]any
	if b.cfg.UserinfoClaims && tokenResponse.AccessToken != "" {
		userinfo, err = b.client.Userinfo(ctx, tokenResponse.AccessToken)
		if err != nil {
			// enrichment only; the validated id token is authoritative
			slog.Warn("userinfo enrichment failed", "error", err, "transaction", tx.ID, "request_id", requestID(c))
			userinfo = nil
		}
	}

	principal := buildPrincipal(idToken, userinfo, Tokens{
		Access:  tokenResponse.AccessToken,
		Refresh: tokenResponse.RefreshToken,
		ID:      tokenResponse.IDToken,
	})

	cookieValue, err := b.codec.Issue(principal)
	if err != nil {
		slog.Error("session cookie issuance failed", "error", err, "transaction", tx.ID, "request_id", requestID(c))
		return b.failLogin(c, outcomeInternalError)
	}

	b.setSessionCookie(c, cookieValue)
	loginsTotal.WithLabelValues(outcomeOK).Inc()
	slog.Info("login completed", "subject", principal.Subject, "transaction", tx.ID, "request_id", requestID(c))
	return c.Redirect(http.StatusFound, tx.ReturnURL)
}

// LogoutEndpoint revokes the refresh token best-effort, clears the cookie and
// redirects. It never hard-fails: the local session always ends.
func (b *BackendForFrontend) LogoutEndpoint(c echo.Context) error {
	returnURL, ok := safeReturnURL(c.QueryParam("returnUrl"))
	if !ok {
		returnURL = "/"
	}

	if principal := CurrentPrincipal(c); principal != nil && principal.Tokens.Refresh != "" {
		if err := b.client.Revoke(c.Request().Context(), principal.Tokens.Refresh); err != nil {
			slog.Warn("refresh token revocation failed", "error", err, "subject", principal.Subject, "request_id", requestID(c))
		}
	}

	b.clearSessionCookie(c)
	return c.Redirect(http.StatusFound, returnURL)
}

// UserEndpoint is the sole channel through which the browser learns who is
// signed in. Tokens are excluded by the Principal's JSON shape.
func (b *BackendForFrontend) UserEndpoint(c echo.Context) error {
	principal := CurrentPrincipal(c)
	if principal == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, oauth2.Error{
			Code:        "unauthorized",
			Description: "authentication required",
		})
	}
	return c.JSON(http.StatusOK, principal)
}

type sessionProbe struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	Name            string `json:"name,omitempty"`
}

// SessionEndpoint answers anonymous visitors with isAuthenticated=false
// instead of a hard 401; the front-end polls it to pick login or logout
// controls.
func (b *BackendForFrontend) SessionEndpoint(c echo.Context) error {
	if principal := CurrentPrincipal(c); principal != nil {
		return c.JSON(http.StatusOK, sessionProbe{IsAuthenticated: true, Name: principal.Name})
	}
	return c.JSON(http.StatusOK, sessionProbe{IsAuthenticated: false})
}

func (b *BackendForFrontend) failLogin(c echo.Context, outcome string) error {
	loginsTotal.WithLabelValues(outcome).Inc()
	target, err := url.Parse(b.errorPage)
	if err != nil {
		target = &url.URL{Path: "/"}
	}
	query := target.Query()
	query.Set("error", "login_failed")
	target.RawQuery = query.Encode()
	return c.Redirect(http.StatusFound, target.String())
}

func buildPrincipal(idToken jwt.Token, userinfo map[string]any, tokens Tokens) *Principal {
	merged := map[string]any{"sub": idToken.Subject()}
	for key, value := range idToken.PrivateClaims() {
		merged[key] = value
	}
	for key, value := range userinfo {
		merged[key] = value
	}

	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	principal := &Principal{
		Subject: idToken.Subject(),
		Tokens:  tokens,
	}

	for _, key := range keys {
		for _, value := range claimValues(merged[key]) {
			principal.Claims = append(principal.Claims, Claim{Type: key, Value: value})
		}
	}

	principal.Name = firstNonEmpty(stringClaim(merged, "name"), stringClaim(merged, "preferred_username"), principal.Subject)
	principal.Email = stringClaim(merged, "email")
	principal.Roles = distinct(append(claimValues(merged["roles"]), claimValues(merged["role"])...))

	return principal
}

// claimValues flattens a claim into its string values; array claims yield one
// value per element.
func claimValues(value any) []string {
	switch v := value.(type) {
	case nil:
		return nil
	case string:
		return []string{v}
	case []any:
		values := make([]string, 0, len(v))
		for _, item := range v {
			values = append(values, claimValues(item)...)
		}
		return values
	case []string:
		return v
	default:
		return []string{fmt.Sprintf("%v", v)}
	}
}

func stringClaim(claims map[string]any, key string) string {
	if value, ok := claims[key].(string); ok {
		return value
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if value != "" {
			return value
		}
	}
	return ""
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}
