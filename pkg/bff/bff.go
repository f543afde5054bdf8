// Package bff is the backend-for-frontend: it drives the OIDC login flow,
// binds the verified identity to a signed and encrypted session cookie and
// answers the session/identity endpoints consumed by the single-page
// front-end. Raw tokens never leave the server.
package bff

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/meetupplanner/gateway/pkg/authn"
	"github.com/meetupplanner/gateway/pkg/nonce"
	"github.com/meetupplanner/gateway/pkg/oidc"
)

const principalContextKey = "gateway.principal"

const DefaultCallbackPath = "/signin-oidc"

type Config struct {
	Client                *oidc.Client
	Transactions          authn.Store
	Nonces                nonce.Service
	EncryptKeyString      string
	SignKeyString         string
	CookieName            string
	ProductionGradeCookie bool
	SessionTTL            time.Duration
	CallbackPath          string
	// ErrorPage receives the browser after a failed callback, with a generic
	// error query flag. Validation details stay in the server logs.
	ErrorPage string
	// UserinfoClaims enriches the principal from the userinfo endpoint.
	UserinfoClaims bool
}

type BackendForFrontend struct {
	cfg            Config
	client         *oidc.Client
	transactions   authn.Store
	nonces         nonce.Service
	codec          *SessionCodec
	cookieTemplate *http.Cookie
	callbackPath   string
	errorPage      string
}

func New(cfg Config) (*BackendForFrontend, error) {
	if cfg.Client == nil {
		return nil, errors.New("oidc client is required")
	}
	if cfg.Transactions == nil {
		return nil, errors.New("transaction store is required")
	}
	if cfg.Nonces == nil {
		return nil, errors.New("nonce service is required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = time.Hour
	}

	b := &BackendForFrontend{
		cfg:          cfg,
		client:       cfg.Client,
		transactions: cfg.Transactions,
		nonces:       cfg.Nonces,
		callbackPath: cfg.CallbackPath,
		errorPage:    cfg.ErrorPage,
	}
	if b.callbackPath == "" {
		b.callbackPath = DefaultCallbackPath
	}
	if b.errorPage == "" {
		b.errorPage = "/"
	}

	if cfg.ProductionGradeCookie {
		b.cookieTemplate = &http.Cookie{
			Name:     fmt.Sprintf("__Host-%s", cfg.CookieName),
			Path:     "/",
			Secure:   true,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		}
	} else {
		b.cookieTemplate = &http.Cookie{
			Name:     cfg.CookieName,
			Path:     "/",
			Secure:   false,
			HttpOnly: true,
			SameSite: http.SameSiteStrictMode,
		}
	}

	encryptKey, err := base64.StdEncoding.DecodeString(cfg.EncryptKeyString)
	if err != nil {
		return nil, fmt.Errorf("decode encrypt key: %w", err)
	}
	signKey, err := base64.StdEncoding.DecodeString(cfg.SignKeyString)
	if err != nil {
		return nil, fmt.Errorf("decode sign key: %w", err)
	}
	b.codec = NewSessionCodec(encryptKey, signKey, cfg.SessionTTL)

	return b, nil
}

// CookieName returns the effective cookie name, including the __Host- prefix
// in production-grade mode.
func (b *BackendForFrontend) CookieName() string {
	return b.cookieTemplate.Name
}

// CallbackPath is the fixed path registered at the identity provider.
func (b *BackendForFrontend) CallbackPath() string {
	return b.callbackPath
}

// Authenticate reads and validates the session cookie on every request and
// stashes the principal in the echo context. Absent or broken cookies leave
// the request anonymous; the three failure modes differ only in the logs.
func (b *BackendForFrontend) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cookie, err := c.Cookie(b.cookieTemplate.Name)
			if err != nil {
				sessionReadsTotal.WithLabelValues("missing").Inc()
				return next(c)
			}

			principal, err := b.codec.Read(cookie.Value)
			if err != nil {
				switch {
				case errors.Is(err, ErrSessionExpired):
					sessionReadsTotal.WithLabelValues("expired").Inc()
					slog.Info("session expired", "path", c.Path(), "request_id", requestID(c))
				default:
					sessionReadsTotal.WithLabelValues("invalid").Inc()
					slog.Warn("session cookie rejected", "error", err, "request_id", requestID(c))
				}
				return next(c)
			}

			sessionReadsTotal.WithLabelValues("ok").Inc()
			c.Set(principalContextKey, principal)
			return next(c)
		}
	}
}

// CurrentPrincipal returns the authenticated principal or nil.
func CurrentPrincipal(c echo.Context) *Principal {
	if principal, ok := c.Get(principalContextKey).(*Principal); ok {
		return principal
	}
	return nil
}

func (b *BackendForFrontend) setSessionCookie(c echo.Context, value string) {
	cookie := *b.cookieTemplate
	cookie.Value = value
	c.SetCookie(&cookie)
}

func (b *BackendForFrontend) clearSessionCookie(c echo.Context) {
	cookie := *b.cookieTemplate
	cookie.Value = ""
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	c.SetCookie(&cookie)
}

// safeReturnURL accepts only same-origin-relative targets, closing the open
// redirect on login and logout. Protocol-relative URLs ("//evil.example") are
// rejected as well.
func safeReturnURL(raw string) (string, bool) {
	if raw == "" {
		return "/", true
	}
	if !strings.HasPrefix(raw, "/") {
		return "", false
	}
	if strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return "", false
	}
	return raw, true
}

func requestID(c echo.Context) string {
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		return id
	}
	return c.Request().Header.Get(echo.HeaderXRequestID)
}
