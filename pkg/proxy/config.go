package proxy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/meetupplanner/gateway/pkg/util"
)

// RouteConfig maps a path pattern to a cluster. Patterns are either literal
// paths ("/healthz") or a prefix ending in the {**catch-all} wildcard
// ("/api/{**catch-all}"). Routes are evaluated in ascending Order with
// declaration order as the tie-break; a catch-all route declared last acts as
// the default.
type RouteConfig struct {
	RouteID    string            `yaml:"route_id" json:"route_id" validate:"required"`
	ClusterID  string            `yaml:"cluster_id" json:"cluster_id" validate:"required"`
	Path       string            `yaml:"path" json:"path" validate:"required"`
	Order      int               `yaml:"order" json:"order"`
	Transforms []TransformConfig `yaml:"transforms,omitempty" json:"transforms,omitempty"`
}

// TransformConfig is one request transform, applied in declared order before
// the forwarded headers are set.
type TransformConfig struct {
	// PathRemovePrefix strips the prefix from the forwarded path; the removed
	// segments are exposed upstream via X-Forwarded-Prefix.
	PathRemovePrefix string `yaml:"path_remove_prefix,omitempty" json:"path_remove_prefix,omitempty"`
	// RequestHeader sets a fixed header on the forwarded request.
	RequestHeader *HeaderValue `yaml:"request_header,omitempty" json:"request_header,omitempty"`
	// ForwardAccessToken injects the session's access token as a bearer
	// Authorization header when a principal is attached to the request.
	ForwardAccessToken bool `yaml:"forward_access_token,omitempty" json:"forward_access_token,omitempty"`
}

type HeaderValue struct {
	Name  string `yaml:"name" json:"name" validate:"required"`
	Value string `yaml:"value" json:"value"`
}

// ClusterConfig names one upstream target with one or more weighted
// destination addresses. Destinations are resolved once at startup; failures
// surface per request, there is no active probing.
type ClusterConfig struct {
	ClusterID      string              `yaml:"cluster_id" json:"cluster_id" validate:"required"`
	Destinations   []DestinationConfig `yaml:"destinations" json:"destinations" validate:"required,min=1,dive"`
	RequestTimeout util.Duration       `yaml:"request_timeout,omitempty" json:"request_timeout,omitempty"`
}

type DestinationConfig struct {
	Address string `yaml:"address" json:"address" validate:"required"`
	Weight  int    `yaml:"weight,omitempty" json:"weight,omitempty"`
}

// SPAConfig serves a static front-end bundle for unmatched paths instead of a
// 404, falling back to index.html for client-side routes.
type SPAConfig struct {
	Root  string `yaml:"root" json:"root" validate:"required"`
	Index string `yaml:"index,omitempty" json:"index,omitempty"`
}

const catchAllSuffix = "{**catch-all}"

type pathMatcher struct {
	exact  string
	prefix string
	any    bool
}

func compilePattern(pattern string) (*pathMatcher, error) {
	if !strings.HasPrefix(pattern, "/") {
		return nil, fmt.Errorf("path pattern %q must start with /", pattern)
	}
	if !strings.HasSuffix(pattern, catchAllSuffix) {
		if strings.Contains(pattern, "{") {
			return nil, fmt.Errorf("path pattern %q: only the trailing %s wildcard is supported", pattern, catchAllSuffix)
		}
		return &pathMatcher{exact: pattern}, nil
	}

	prefix := strings.TrimSuffix(pattern, catchAllSuffix)
	if prefix == "/" {
		return &pathMatcher{any: true}, nil
	}
	if !strings.HasSuffix(prefix, "/") {
		return nil, fmt.Errorf("path pattern %q: wildcard must follow a /", pattern)
	}
	return &pathMatcher{prefix: strings.TrimSuffix(prefix, "/")}, nil
}

func (m *pathMatcher) match(path string) bool {
	switch {
	case m.any:
		return true
	case m.exact != "":
		return path == m.exact
	default:
		return path == m.prefix || strings.HasPrefix(path, m.prefix+"/")
	}
}

type destination struct {
	url    *url.URL
	weight int
}

func parseDestinations(configs []DestinationConfig) ([]destination, error) {
	destinations := make([]destination, 0, len(configs))
	for _, cfg := range configs {
		target, err := url.Parse(cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("parse destination address %q: %w", cfg.Address, err)
		}
		if target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("destination address %q must be an absolute URL", cfg.Address)
		}
		weight := cfg.Weight
		if weight <= 0 {
			weight = 1
		}
		destinations = append(destinations, destination{url: target, weight: weight})
	}
	return destinations, nil
}
