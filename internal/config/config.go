package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "GHPROFILER"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabaseDriver   = "postgres"
	defaultDatabaseLogLevel = "warn"
	defaultMaxOpenConns     = 10
	defaultMaxIdleConns     = 5
	defaultConnMaxLifetime  = 30
	defaultLogLevel         = "info"
	defaultGitHubBaseURL    = "https://api.github.com"
	defaultGitHubAPIVersion = "2022-11-28"
	defaultGitHubTimeout    = 15
	defaultRateLimitRPS     = 10.0
	defaultRateLimitBurst   = 20
	defaultAuthIssuer       = "ghprofiler"
	defaultTokenTTLMinutes  = 60
)

// AppConfig captures runtime configuration for the CLI and the API server.
type AppConfig struct {
	DatabaseDriver                 string
	DatabaseDSN                    string
	DatabaseMaxOpenConns           int
	DatabaseMaxIdleConns           int
	DatabaseConnMaxLifetimeMinutes int
	DatabaseLogLevel               string

	LogLevel string
	LogFile  string

	GitHubBaseURL        string
	GitHubToken          string
	GitHubAPIVersion     string
	GitHubTimeoutSeconds int

	HTTPAddress    string
	RateLimitRPS   float64
	RateLimitBurst int

	AuthSigningSecret   string
	AuthIssuer          string
	AuthTokenTTLMinutes int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	configViper.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	configViper.SetDefault("database.conn_max_lifetime_minutes", defaultConnMaxLifetime)
	configViper.SetDefault("database.log_level", defaultDatabaseLogLevel)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("github.base_url", defaultGitHubBaseURL)
	configViper.SetDefault("github.api_version", defaultGitHubAPIVersion)
	configViper.SetDefault("github.timeout_seconds", defaultGitHubTimeout)
	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.rate_limit_rps", defaultRateLimitRPS)
	configViper.SetDefault("http.rate_limit_burst", defaultRateLimitBurst)
	configViper.SetDefault("auth.issuer", defaultAuthIssuer)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver:                 strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabaseDSN:                    configViper.GetString("database.dsn"),
		DatabaseMaxOpenConns:           configViper.GetInt("database.max_open_conns"),
		DatabaseMaxIdleConns:           configViper.GetInt("database.max_idle_conns"),
		DatabaseConnMaxLifetimeMinutes: configViper.GetInt("database.conn_max_lifetime_minutes"),
		DatabaseLogLevel:               configViper.GetString("database.log_level"),
		LogLevel:                       configViper.GetString("log.level"),
		LogFile:                        configViper.GetString("log.file"),
		GitHubBaseURL:                  configViper.GetString("github.base_url"),
		GitHubToken:                    configViper.GetString("github.token"),
		GitHubAPIVersion:               configViper.GetString("github.api_version"),
		GitHubTimeoutSeconds:           configViper.GetInt("github.timeout_seconds"),
		HTTPAddress:                    configViper.GetString("http.address"),
		RateLimitRPS:                   configViper.GetFloat64("http.rate_limit_rps"),
		RateLimitBurst:                 configViper.GetInt("http.rate_limit_burst"),
		AuthSigningSecret:              configViper.GetString("auth.signing_secret"),
		AuthIssuer:                     configViper.GetString("auth.issuer"),
		AuthTokenTTLMinutes:            configViper.GetInt("auth.token_ttl_minutes"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if strings.TrimSpace(c.GitHubBaseURL) == "" {
		return fmt.Errorf("github.base_url is required")
	}
	if c.GitHubTimeoutSeconds <= 0 {
		return fmt.Errorf("github.timeout_seconds must be positive")
	}
	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		return fmt.Errorf("http rate limit must not be negative")
	}
	if c.AuthTokenTTLMinutes <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

// AuthEnabled reports whether API tokens are issued and required.
func (c AppConfig) AuthEnabled() bool {
	return strings.TrimSpace(c.AuthSigningSecret) != ""
}
