package gateway

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/meetupplanner/gateway/pkg/proxy"
	"github.com/meetupplanner/gateway/pkg/util"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Address          string                 `yaml:"address" validate:"required"`
	Authentication   AuthenticationConfig   `yaml:"authentication" validate:"required"`
	Session          SessionConfig          `yaml:"session" validate:"required"`
	TransactionStore TransactionStoreConfig `yaml:"transaction_store"`
	Routes           []proxy.RouteConfig    `yaml:"routes" validate:"required,min=1,dive"`
	Clusters         []proxy.ClusterConfig  `yaml:"clusters" validate:"required,min=1,dive"`
	SPA              *proxy.SPAConfig       `yaml:"spa,omitempty"`
	Downstream       DownstreamConfig       `yaml:"downstream"`
	// LoginRatePerSecond throttles /bff/login per client; 0 disables.
	LoginRatePerSecond float64 `yaml:"login_rate_per_second"`
}

type AuthenticationConfig struct {
	Issuer       string   `yaml:"issuer" validate:"required"`
	ClientID     string   `yaml:"client_id" validate:"required"`
	ClientSecret string   `yaml:"client_secret"`
	RedirectURI  string   `yaml:"redirect_uri" validate:"required"`
	Scopes       []string `yaml:"scopes" validate:"required,min=1"`
	// AllowedIssuers may list both the http and https form of the authority.
	AllowedIssuers []string `yaml:"allowed_issuers,omitempty"`
	CallbackPath   string   `yaml:"callback_path,omitempty"`
	UserinfoClaims bool     `yaml:"userinfo_claims"`
}

type SessionConfig struct {
	CookieName            string        `yaml:"cookie_name" validate:"required"`
	EncryptKey            string        `yaml:"encrypt_key" validate:"required"`
	SignKey               string        `yaml:"sign_key" validate:"required"`
	TTL                   util.Duration `yaml:"ttl"`
	ProductionGradeCookie bool          `yaml:"production_grade_cookie"`
	ErrorPage             string        `yaml:"error_page,omitempty"`
}

type TransactionStoreConfig struct {
	Kind         string        `yaml:"kind" validate:"omitempty,oneof=memory redis"`
	RedisAddress string        `yaml:"redis_address,omitempty"`
	TTL          util.Duration `yaml:"ttl"`
}

type DownstreamConfig struct {
	// APIBaseURL feeds the typed client behind /speakers and /dashboard.
	// Empty disables those endpoints.
	APIBaseURL string `yaml:"api_base_url,omitempty"`
}

func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config file: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &config, nil
}
