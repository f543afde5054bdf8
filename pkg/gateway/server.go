// Package gateway assembles the security gateway: the authenticated /bff
// surface, the downstream aggregation endpoints and the reverse proxy route
// table, all on one echo server.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/meetupplanner/gateway/pkg/authn"
	"github.com/meetupplanner/gateway/pkg/bff"
	"github.com/meetupplanner/gateway/pkg/meetup"
	"github.com/meetupplanner/gateway/pkg/nonce"
	"github.com/meetupplanner/gateway/pkg/oidc"
	"github.com/meetupplanner/gateway/pkg/proxy"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

const defaultTransactionTTL = 10 * time.Minute

type Server struct {
	config     *Config
	echo       *echo.Echo
	bff        *bff.BackendForFrontend
	router     *proxy.Router
	downstream *meetup.Client
}

func New(config *Config) (*Server, error) {
	client, err := oidc.NewClient(&oidc.Config{
		Issuer:         config.Authentication.Issuer,
		ClientID:       config.Authentication.ClientID,
		ClientSecret:   config.Authentication.ClientSecret,
		RedirectURI:    config.Authentication.RedirectURI,
		Scopes:         config.Authentication.Scopes,
		AllowedIssuers: config.Authentication.AllowedIssuers,
	})
	if err != nil {
		return nil, fmt.Errorf("create oidc client: %w", err)
	}

	transactionTTL := config.TransactionStore.TTL.Std()
	if transactionTTL <= 0 {
		transactionTTL = defaultTransactionTTL
	}

	transactions, err := newTransactionStore(config.TransactionStore, transactionTTL)
	if err != nil {
		return nil, err
	}

	nonces, err := nonce.NewHashicorpService(transactionTTL)
	if err != nil {
		return nil, fmt.Errorf("create nonce service: %w", err)
	}

	backendForFrontend, err := bff.New(bff.Config{
		Client:                client,
		Transactions:          transactions,
		Nonces:                nonces,
		EncryptKeyString:      config.Session.EncryptKey,
		SignKeyString:         config.Session.SignKey,
		CookieName:            config.Session.CookieName,
		ProductionGradeCookie: config.Session.ProductionGradeCookie,
		SessionTTL:            config.Session.TTL.Std(),
		CallbackPath:          config.Authentication.CallbackPath,
		ErrorPage:             config.Session.ErrorPage,
		UserinfoClaims:        config.Authentication.UserinfoClaims,
	})
	if err != nil {
		return nil, fmt.Errorf("create bff: %w", err)
	}

	router, err := proxy.NewRouter(config.Routes, config.Clusters, config.SPA)
	if err != nil {
		return nil, fmt.Errorf("build route table: %w", err)
	}

	s := &Server{
		config: config,
		bff:    backendForFrontend,
		router: router,
	}
	if config.Downstream.APIBaseURL != "" {
		s.downstream = meetup.NewClient(config.Downstream.APIBaseURL)
	}

	s.echo = s.buildEcho()
	return s, nil
}

func newTransactionStore(config TransactionStoreConfig, ttl time.Duration) (authn.Store, error) {
	switch config.Kind {
	case "", "memory":
		return authn.NewMemoryStore(ttl), nil
	case "redis":
		store, err := authn.NewRedisStore(config.RedisAddress, ttl)
		if err != nil {
			return nil, fmt.Errorf("create redis transaction store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown transaction store kind %q", config.Kind)
	}
}

func errorLogMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)
		if err != nil {
			slog.Error("request failed",
				"error", err,
				"path", c.Path(),
				"remote_addr", c.RealIP(),
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID))
		}
		return err
	}
}

func (s *Server) buildEcho() *echo.Echo {
	root := echo.New()
	root.HideBanner = true

	root.Use(
		middleware.Recover(),
		middleware.RequestID(),
		middleware.Logger(),
		errorLogMiddleware,
		s.bff.Authenticate(),
	)

	var loginMiddleware []echo.MiddlewareFunc
	if s.config.LoginRatePerSecond > 0 {
		loginMiddleware = append(loginMiddleware, middleware.RateLimiter(
			middleware.NewRateLimiterMemoryStore(rate.Limit(s.config.LoginRatePerSecond)),
		))
	}
	s.bff.MountRoutes(root, loginMiddleware...)

	if s.downstream != nil {
		root.GET("/speakers", s.SpeakersEndpoint)
		root.GET("/dashboard", s.DashboardEndpoint)
	}

	root.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// terminal handler: everything unclaimed goes to the route table
	root.Any("/*", s.proxyHandler)

	return root
}

// proxyHandler hands the request to the reverse proxy router, attaching the
// session's access token for routes that forward it.
func (s *Server) proxyHandler(c echo.Context) error {
	req := c.Request()
	if principal := bff.CurrentPrincipal(c); principal != nil && principal.Tokens.Access != "" {
		req = req.WithContext(proxy.WithAccessToken(req.Context(), principal.Tokens.Access))
	}
	s.router.ServeHTTP(c.Response(), req)
	return nil
}

// Echo exposes the assembled handler, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("starting gateway", "address", s.config.Address)
	return s.echo.Start(s.config.Address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
