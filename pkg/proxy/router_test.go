package proxy_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meetupplanner/gateway/pkg/proxy"
	"github.com/meetupplanner/gateway/pkg/util"
)

// mirrorUpstream records what the proxy forwarded.
type mirrorUpstream struct {
	server *httptest.Server
}

type mirroredRequest struct {
	Path             string `json:"path"`
	Authorization    string `json:"authorization"`
	ForwardedProto   string `json:"forwarded_proto"`
	ForwardedHost    string `json:"forwarded_host"`
	ForwardedPrefix  string `json:"forwarded_prefix"`
	ForwardedFor     string `json:"forwarded_for"`
	CustomHeader     string `json:"custom_header"`
	ConnectionHeader string `json:"connection_header"`
}

func newMirrorUpstream(t *testing.T) *mirrorUpstream {
	t.Helper()
	u := &mirrorUpstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(mirroredRequest{
			Path:             r.URL.Path,
			Authorization:    r.Header.Get("Authorization"),
			ForwardedProto:   r.Header.Get("X-Forwarded-Proto"),
			ForwardedHost:    r.Header.Get("X-Forwarded-Host"),
			ForwardedPrefix:  r.Header.Get("X-Forwarded-Prefix"),
			ForwardedFor:     r.Header.Get("X-Forwarded-For"),
			CustomHeader:     r.Header.Get("X-Custom"),
			ConnectionHeader: r.Header.Get("Connection"),
		})
	}))
	t.Cleanup(u.server.Close)
	return u
}

func forward(t *testing.T, router *proxy.Router, req *http.Request) (*httptest.ResponseRecorder, *mirroredRequest) {
	t.Helper()
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		return rec, nil
	}
	var mirrored mirroredRequest
	if err := json.Unmarshal(rec.Body.Bytes(), &mirrored); err != nil {
		t.Fatalf("decode upstream mirror: %v (%s)", err, rec.Body.String())
	}
	return rec, &mirrored
}

func TestRouterOrderAndPrefixStripping(t *testing.T) {
	api := newMirrorUpstream(t)
	frontend := newMirrorUpstream(t)

	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			{
				RouteID:   "api",
				ClusterID: "api",
				Path:      "/api/{**catch-all}",
				Order:     0,
				Transforms: []proxy.TransformConfig{
					{PathRemovePrefix: "/api"},
					{RequestHeader: &proxy.HeaderValue{Name: "X-Custom", Value: "gateway"}},
				},
			},
			{RouteID: "frontend", ClusterID: "frontend", Path: "/{**catch-all}", Order: 100},
		},
		[]proxy.ClusterConfig{
			{ClusterID: "api", Destinations: []proxy.DestinationConfig{{Address: api.server.URL}}},
			{ClusterID: "frontend", Destinations: []proxy.DestinationConfig{{Address: frontend.server.URL}}},
		},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "http://gateway.local/api/speakers/42", nil)
	req.Header.Set("Connection", "keep-alive")
	rec, mirrored := forward(t, router, req)
	if mirrored == nil {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if mirrored.Path != "/speakers/42" {
		t.Errorf("prefix not stripped, upstream saw %s", mirrored.Path)
	}
	if mirrored.ForwardedPrefix != "/api" {
		t.Errorf("expected X-Forwarded-Prefix /api, got %q", mirrored.ForwardedPrefix)
	}
	if mirrored.ForwardedProto != "http" {
		t.Errorf("expected X-Forwarded-Proto http, got %q", mirrored.ForwardedProto)
	}
	if mirrored.ForwardedHost != "gateway.local" {
		t.Errorf("expected X-Forwarded-Host gateway.local, got %q", mirrored.ForwardedHost)
	}
	if mirrored.ForwardedFor == "" {
		t.Error("expected X-Forwarded-For to carry the client address")
	}
	if mirrored.CustomHeader != "gateway" {
		t.Errorf("request_header transform not applied, got %q", mirrored.CustomHeader)
	}
	if mirrored.ConnectionHeader != "" {
		t.Errorf("hop-by-hop Connection header must not be forwarded, got %q", mirrored.ConnectionHeader)
	}

	// everything else lands on the catch-all route, path untouched
	rec, mirrored = forward(t, router, httptest.NewRequest(http.MethodGet, "http://gateway.local/dashboard", nil))
	if mirrored == nil {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if mirrored.Path != "/dashboard" {
		t.Errorf("catch-all route must not rewrite the path, upstream saw %s", mirrored.Path)
	}
	if mirrored.ForwardedPrefix != "" {
		t.Errorf("catch-all route must not set X-Forwarded-Prefix, got %q", mirrored.ForwardedPrefix)
	}
}

func TestRouterMatchPrecedence(t *testing.T) {
	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			{RouteID: "frontend", ClusterID: "c", Path: "/{**catch-all}", Order: 100},
			{RouteID: "api", ClusterID: "c", Path: "/api/{**catch-all}", Order: 0},
			{RouteID: "health", ClusterID: "c", Path: "/healthz", Order: 0},
		},
		[]proxy.ClusterConfig{
			{ClusterID: "c", Destinations: []proxy.DestinationConfig{{Address: "http://localhost:9"}}},
		},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path  string
		route string
	}{
		{path: "/api", route: "api"},
		{path: "/api/speakers", route: "api"},
		{path: "/apiary", route: "frontend"},
		{path: "/healthz", route: "health"},
		{path: "/healthz/extra", route: "frontend"},
		{path: "/", route: "frontend"},
		{path: "/anything/else", route: "frontend"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			match := router.Match(tt.path)
			if match == nil {
				t.Fatalf("no route matched %s", tt.path)
			}
			if match.RouteID != tt.route {
				t.Errorf("expected route %s for %s, got %s", tt.route, tt.path, match.RouteID)
			}
		})
	}
}

func TestRouterForwardsAccessToken(t *testing.T) {
	upstream := newMirrorUpstream(t)

	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			{
				RouteID:    "api",
				ClusterID:  "api",
				Path:       "/api/{**catch-all}",
				Transforms: []proxy.TransformConfig{{ForwardAccessToken: true}},
			},
		},
		[]proxy.ClusterConfig{
			{ClusterID: "api", Destinations: []proxy.DestinationConfig{{Address: upstream.server.URL}}},
		},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/meetups", nil)
	req = req.WithContext(proxy.WithAccessToken(req.Context(), "the-access-token"))
	rec, mirrored := forward(t, router, req)
	if mirrored == nil {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if mirrored.Authorization != "Bearer the-access-token" {
		t.Errorf("expected bearer header upstream, got %q", mirrored.Authorization)
	}

	// anonymous request: no Authorization header is injected
	rec, mirrored = forward(t, router, httptest.NewRequest(http.MethodGet, "/api/meetups", nil))
	if mirrored == nil {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if mirrored.Authorization != "" {
		t.Errorf("expected no Authorization header, got %q", mirrored.Authorization)
	}
}

func TestRouterWeightedDestinations(t *testing.T) {
	serveName := func(name string) *httptest.Server {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(name))
		}))
		t.Cleanup(server.Close)
		return server
	}
	light := serveName("light")
	heavy := serveName("heavy")

	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			{RouteID: "api", ClusterID: "api", Path: "/api/{**catch-all}"},
		},
		[]proxy.ClusterConfig{
			{ClusterID: "api", Destinations: []proxy.DestinationConfig{
				{Address: light.URL, Weight: 1},
				{Address: heavy.URL, Weight: 3},
			}},
		},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	hits := map[string]int{}
	for i := 0; i < 200; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/x", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		hits[rec.Body.String()]++
	}

	if hits["light"] == 0 || hits["heavy"] == 0 {
		t.Fatalf("both destinations must receive traffic, got %v", hits)
	}
	if hits["heavy"] <= hits["light"] {
		t.Fatalf("weight 3 destination must receive more traffic than weight 1, got %v", hits)
	}
}

func TestRouterErrorTaxonomy(t *testing.T) {
	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			// port 9 (discard) is reliably refused
			{RouteID: "down", ClusterID: "down", Path: "/down/{**catch-all}"},
		},
		[]proxy.ClusterConfig{
			{ClusterID: "down", Destinations: []proxy.DestinationConfig{{Address: "http://127.0.0.1:9"}}},
		},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/down/x", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 for unreachable upstream, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "upstream_unavailable") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/nowhere", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unmatched path, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "route_not_found") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestRouterUpstreamTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer slow.Close()

	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			{RouteID: "slow", ClusterID: "slow", Path: "/slow/{**catch-all}"},
		},
		[]proxy.ClusterConfig{
			{
				ClusterID:      "slow",
				Destinations:   []proxy.DestinationConfig{{Address: slow.URL}},
				RequestTimeout: util.Duration(50 * time.Millisecond),
			},
		},
		nil,
	)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/slow/x", nil))
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504 for slow upstream, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "upstream_timeout") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}

func TestRouterSPAFallback(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "index.html"), []byte("<html>spa</html>"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "app.js"), []byte("console.log(1)"), 0644); err != nil {
		t.Fatal(err)
	}

	router, err := proxy.NewRouter(
		[]proxy.RouteConfig{
			{RouteID: "api", ClusterID: "api", Path: "/api/{**catch-all}"},
		},
		[]proxy.ClusterConfig{
			{ClusterID: "api", Destinations: []proxy.DestinationConfig{{Address: "http://localhost:9"}}},
		},
		&proxy.SPAConfig{Root: root},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		path string
		body string
	}{
		{name: "existing file", path: "/app.js", body: "console.log(1)"},
		{name: "deep link falls back to index", path: "/meetups/42", body: "<html>spa</html>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			body, _ := io.ReadAll(rec.Body)
			if string(body) != tt.body {
				t.Errorf("expected body %q, got %q", tt.body, string(body))
			}
		})
	}

	// non-GET requests never fall through to the bundle
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/meetups/42", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for POST outside the route table, got %d", rec.Code)
	}
}

func TestRouterConfigErrors(t *testing.T) {
	destinations := []proxy.DestinationConfig{{Address: "http://localhost:9"}}

	tests := []struct {
		name     string
		routes   []proxy.RouteConfig
		clusters []proxy.ClusterConfig
	}{
		{
			name:     "unknown cluster",
			routes:   []proxy.RouteConfig{{RouteID: "r", ClusterID: "missing", Path: "/{**catch-all}"}},
			clusters: []proxy.ClusterConfig{{ClusterID: "c", Destinations: destinations}},
		},
		{
			name:   "duplicate cluster id",
			routes: []proxy.RouteConfig{{RouteID: "r", ClusterID: "c", Path: "/{**catch-all}"}},
			clusters: []proxy.ClusterConfig{
				{ClusterID: "c", Destinations: destinations},
				{ClusterID: "c", Destinations: destinations},
			},
		},
		{
			name:     "relative destination address",
			routes:   []proxy.RouteConfig{{RouteID: "r", ClusterID: "c", Path: "/{**catch-all}"}},
			clusters: []proxy.ClusterConfig{{ClusterID: "c", Destinations: []proxy.DestinationConfig{{Address: "localhost:9"}}}},
		},
		{
			name:     "wildcard in the middle",
			routes:   []proxy.RouteConfig{{RouteID: "r", ClusterID: "c", Path: "/{**catch-all}/tail"}},
			clusters: []proxy.ClusterConfig{{ClusterID: "c", Destinations: destinations}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := proxy.NewRouter(tt.routes, tt.clusters, nil); err == nil {
				t.Fatal("expected a configuration error")
			}
		})
	}
}
