package gateway_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/meetupplanner/gateway/pkg/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validConfig = `
address: ":8090"
authentication:
  issuer: "http://localhost:8080/realms/meetupplanner"
  client_id: "meetupplanner-gateway"
  client_secret: "secret"
  redirect_uri: "http://localhost:8090/signin-oidc"
  scopes: [openid, profile, email]
  allowed_issuers:
    - "http://localhost:8080/realms/meetupplanner"
  userinfo_claims: true
session:
  cookie_name: "MeetupPlanner"
  encrypt_key: "47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU="
  sign_key: "LCa0a2j/xo/5m0U8HTBBNBNCLXBkg7+g+YpeiGJm564="
  ttl: 2h
transaction_store:
  kind: redis
  redis_address: "localhost:6379"
  ttl: 10m
login_rate_per_second: 5
downstream:
  api_base_url: "http://localhost:8091"
routes:
  - route_id: api
    cluster_id: api
    path: "/api/{**catch-all}"
    order: 0
    transforms:
      - path_remove_prefix: "/api"
      - forward_access_token: true
  - route_id: admin-frontend
    cluster_id: admin-frontend
    path: "/{**catch-all}"
    order: 100
clusters:
  - cluster_id: api
    request_timeout: 30s
    destinations:
      - address: "http://localhost:8091"
  - cluster_id: admin-frontend
    destinations:
      - address: "http://localhost:5173"
        weight: 2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := gateway.LoadConfigFile(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.Address)
	assert.Equal(t, "meetupplanner-gateway", cfg.Authentication.ClientID)
	assert.Equal(t, []string{"openid", "profile", "email"}, cfg.Authentication.Scopes)
	assert.True(t, cfg.Authentication.UserinfoClaims)

	assert.Equal(t, "MeetupPlanner", cfg.Session.CookieName)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL.Std())

	assert.Equal(t, "redis", cfg.TransactionStore.Kind)
	assert.Equal(t, 10*time.Minute, cfg.TransactionStore.TTL.Std())

	require.Len(t, cfg.Routes, 2)
	assert.Equal(t, "api", cfg.Routes[0].RouteID)
	assert.Equal(t, "/api/{**catch-all}", cfg.Routes[0].Path)
	require.Len(t, cfg.Routes[0].Transforms, 2)
	assert.Equal(t, "/api", cfg.Routes[0].Transforms[0].PathRemovePrefix)
	assert.True(t, cfg.Routes[0].Transforms[1].ForwardAccessToken)
	assert.Equal(t, 100, cfg.Routes[1].Order)

	require.Len(t, cfg.Clusters, 2)
	assert.Equal(t, 30*time.Second, cfg.Clusters[0].RequestTimeout.Std())
	assert.Equal(t, 2, cfg.Clusters[1].Destinations[0].Weight)
}

func TestLoadConfigFileValidation(t *testing.T) {
	tests := []struct {
		name string
		old  string
		new  string
	}{
		{name: "missing issuer", old: `issuer: "http://localhost:8080/realms/meetupplanner"`, new: `issuer: ""`},
		{name: "missing cookie name", old: `cookie_name: "MeetupPlanner"`, new: `cookie_name: ""`},
		{name: "missing route path", old: `path: "/api/{**catch-all}"`, new: `path: ""`},
		{name: "cluster without destinations", old: `      - address: "http://localhost:8091"`, new: ""},
		{name: "unknown store kind", old: "kind: redis", new: "kind: memcached"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broken := strings.Replace(validConfig, tt.old, tt.new, 1)
			require.NotEqual(t, validConfig, broken)
			_, err := gateway.LoadConfigFile(writeConfig(t, broken))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigFileMissing(t *testing.T) {
	_, err := gateway.LoadConfigFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
