// Package proxy is the terminal handler of the gateway: an ordered route
// table forwarding everything the auth endpoints did not claim to the backing
// API or the static front-end bundle. The route table is immutable after
// construction and safe for unsynchronized concurrent reads.
package proxy

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// RouteError codes surfaced to clients. Bodies stay minimal and never name
// destination addresses.
var (
	ErrNotFound            = &Error{HttpStatus: http.StatusNotFound, Code: "route_not_found", Description: "No route matches the request path"}
	ErrUpstreamUnavailable = &Error{HttpStatus: http.StatusBadGateway, Code: "upstream_unavailable", Description: "Upstream destination is unreachable"}
	ErrUpstreamTimeout     = &Error{HttpStatus: http.StatusGatewayTimeout, Code: "upstream_timeout", Description: "Upstream destination did not answer in time"}
)

type Error struct {
	HttpStatus  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *Error) Error() string {
	return e.Description
}

type accessTokenKey struct{}

// WithAccessToken attaches the session's access token to the request context
// for routes configured with forward_access_token.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

func accessTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

type compiledRoute struct {
	config       RouteConfig
	matcher      *pathMatcher
	destinations []destination
	timeout      time.Duration
	proxy        *httputil.ReverseProxy
}

// Router matches requests against the route table and forwards them.
type Router struct {
	routes   []*compiledRoute
	spa      *SPAConfig
	spaIndex string
}

// NewRouter compiles the route table. Every route's cluster id must resolve
// to exactly one cluster; a violation is a configuration error and the caller
// is expected to treat it as fatal.
func NewRouter(routes []RouteConfig, clusters []ClusterConfig, spa *SPAConfig) (*Router, error) {
	clustersByID := make(map[string]ClusterConfig, len(clusters))
	for _, cluster := range clusters {
		if _, ok := clustersByID[cluster.ClusterID]; ok {
			return nil, &configError{"duplicate cluster id " + cluster.ClusterID}
		}
		clustersByID[cluster.ClusterID] = cluster
	}

	r := &Router{spa: spa}
	if spa != nil {
		r.spaIndex = spa.Index
		if r.spaIndex == "" {
			r.spaIndex = "index.html"
		}
	}

	for _, routeConfig := range routes {
		cluster, ok := clustersByID[routeConfig.ClusterID]
		if !ok {
			return nil, &configError{"route " + routeConfig.RouteID + " references unknown cluster " + routeConfig.ClusterID}
		}

		matcher, err := compilePattern(routeConfig.Path)
		if err != nil {
			return nil, err
		}

		destinations, err := parseDestinations(cluster.Destinations)
		if err != nil {
			return nil, err
		}

		route := &compiledRoute{
			config:       routeConfig,
			matcher:      matcher,
			destinations: destinations,
			timeout:      cluster.RequestTimeout.Std(),
		}
		route.proxy = r.newReverseProxy(route)
		r.routes = append(r.routes, route)

		slog.Info("route registered", "route", routeConfig.RouteID, "path", routeConfig.Path, "cluster", routeConfig.ClusterID, "order", routeConfig.Order)
	}

	// ascending order, stable so declaration order breaks ties
	sort.SliceStable(r.routes, func(i, j int) bool {
		return r.routes[i].config.Order < r.routes[j].config.Order
	})

	return r, nil
}

type configError struct {
	reason string
}

func (e *configError) Error() string {
	return "route table: " + e.reason
}

// Match returns the first route whose pattern matches the path, or nil.
func (r *Router) Match(requestPath string) *RouteConfig {
	if route := r.matchRoute(requestPath); route != nil {
		return &route.config
	}
	return nil
}

func (r *Router) matchRoute(requestPath string) *compiledRoute {
	for _, route := range r.routes {
		if route.matcher.match(requestPath) {
			return route
		}
	}
	return nil
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	route := r.matchRoute(req.URL.Path)
	if route == nil {
		if r.spa != nil && req.Method == http.MethodGet {
			r.serveSPA(w, req)
			return
		}
		respondWithError(w, ErrNotFound)
		return
	}

	if route.timeout > 0 {
		ctx, cancel := context.WithTimeout(req.Context(), route.timeout)
		defer cancel()
		req = req.WithContext(ctx)
	}

	route.proxy.ServeHTTP(w, req)
}

func (r *Router) newReverseProxy(route *compiledRoute) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			target := route.pickDestination()

			originalHost := req.Host
			scheme := "http"
			if req.TLS != nil {
				scheme = "https"
			}

			var strippedPrefix string
			for _, transform := range route.config.Transforms {
				if transform.PathRemovePrefix != "" {
					if stripped, ok := stripPrefix(req.URL.Path, transform.PathRemovePrefix); ok {
						req.URL.Path = stripped
						strippedPrefix = transform.PathRemovePrefix
					}
				}
				if transform.RequestHeader != nil {
					req.Header.Set(transform.RequestHeader.Name, transform.RequestHeader.Value)
				}
				if transform.ForwardAccessToken {
					if token := accessTokenFrom(req.Context()); token != "" {
						req.Header.Set("Authorization", "Bearer "+token)
					}
				}
			}

			// X-Forwarded-For is appended by httputil.ReverseProxy itself.
			req.Header.Set("X-Forwarded-Proto", scheme)
			req.Header.Set("X-Forwarded-Host", originalHost)
			if strippedPrefix != "" {
				req.Header.Set("X-Forwarded-Prefix", strippedPrefix)
			}

			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			if target.Path != "" && target.Path != "/" {
				req.URL.Path = singleJoiningSlash(target.Path, req.URL.Path)
			}
		},
		ModifyResponse: func(resp *http.Response) error {
			proxiedRequestsTotal.WithLabelValues(route.config.RouteID, strconv.Itoa(resp.StatusCode)).Inc()
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			routeErr := classifyUpstreamError(req, err)
			upstreamErrorsTotal.WithLabelValues(route.config.ClusterID, routeErr.Code).Inc()
			slog.Error("upstream request failed",
				"route", route.config.RouteID,
				"cluster", route.config.ClusterID,
				"error", err,
				"request_id", req.Header.Get("X-Request-Id"))
			respondWithError(w, routeErr)
		},
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

func (route *compiledRoute) pickDestination() *url.URL {
	if len(route.destinations) == 1 {
		return route.destinations[0].url
	}

	total := 0
	for _, d := range route.destinations {
		total += d.weight
	}
	pick := rand.Intn(total)
	for _, d := range route.destinations {
		pick -= d.weight
		if pick < 0 {
			return d.url
		}
	}
	return route.destinations[len(route.destinations)-1].url
}

func classifyUpstreamError(req *http.Request, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(req.Context().Err(), context.DeadlineExceeded) {
		return ErrUpstreamTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrUpstreamTimeout
	}
	return ErrUpstreamUnavailable
}

func respondWithError(w http.ResponseWriter, err *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HttpStatus)
	w.Write([]byte(`{"error":"` + err.Code + `","error_description":"` + err.Description + `"}`))
}

// serveSPA serves a file from the bundle when it exists, and index.html
// otherwise so client-side routing keeps working on deep links.
func (r *Router) serveSPA(w http.ResponseWriter, req *http.Request) {
	requested := filepath.Join(r.spa.Root, filepath.FromSlash(path.Clean("/"+req.URL.Path)))
	if info, err := os.Stat(requested); err == nil && !info.IsDir() {
		http.ServeFile(w, req, requested)
		return
	}
	http.ServeFile(w, req, filepath.Join(r.spa.Root, r.spaIndex))
}

func stripPrefix(requestPath, prefix string) (string, bool) {
	if requestPath == prefix {
		return "/", true
	}
	if strings.HasPrefix(requestPath, prefix+"/") {
		return strings.TrimPrefix(requestPath, prefix), true
	}
	return requestPath, false
}

func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	}
	return a + b
}
