package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for the gateway.
type Config struct {
	ListenAddr  string `env:"LISTEN_ADDR" envDefault:"127.0.0.1:3002"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// PublicURL is the externally reachable base URL, used to build the
	// OAuth callback. Empty lets GitHub use the app's registered callback.
	PublicURL string `env:"PUBLIC_URL"`
	// FrontendURL is where the browser lands after login.
	FrontendURL    string   `env:"FRONTEND_URL" envDefault:"/"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	GitHubAPIURL    string `env:"GITHUB_API_URL" envDefault:"https://api.github.com/"`
	GitHubUploadURL string `env:"GITHUB_UPLOAD_URL" envDefault:"https://uploads.github.com/"`
	GitHubWebURL    string `env:"GITHUB_WEB_URL" envDefault:"https://github.com"`

	// OAuth app credentials. Login is disabled when either is empty.
	OAuthClientID     string `env:"GITHUB_CLIENT_ID"`
	OAuthClientSecret string `env:"GITHUB_CLIENT_SECRET"`
	// Overrides for GitHub Enterprise; empty means github.com.
	OAuthAuthURL  string `env:"GITHUB_AUTH_URL"`
	OAuthTokenURL string `env:"GITHUB_TOKEN_URL"`

	// SessionSecret signs session cookies. When empty a random secret is
	// generated at startup and sessions do not survive a restart.
	SessionSecret       string        `env:"SESSION_SECRET"`
	SessionTTL          time.Duration `env:"SESSION_TTL" envDefault:"168h"`
	SessionCookieSecure bool          `env:"SESSION_COOKIE_SECURE" envDefault:"false"`

	RestrictOwner string `env:"RESTRICT_OWNER"`
	RestrictRepo  string `env:"RESTRICT_REPO"`

	IdentityCacheTTL time.Duration `env:"IDENTITY_CACHE_TTL" envDefault:"5m"`
	UpstreamTimeout  time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"30s"`
	MaxUploadBytes   int64         `env:"MAX_UPLOAD_BYTES" envDefault:"2147483648"`
	MaxRedirectHops  int           `env:"MAX_REDIRECT_HOPS" envDefault:"5"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"20"`
}

// Load reads configuration from environment variables. Files listed in
// envFiles are loaded first and must exist; with none given, ".env" is
// loaded if present. Variables already set in the environment win.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	} else if err := godotenv.Load(envFiles...); err != nil {
		return nil, fmt.Errorf("loading env file: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.RestrictOwner = strings.TrimSpace(cfg.RestrictOwner)
	cfg.RestrictRepo = strings.TrimSpace(cfg.RestrictRepo)
	cfg.PublicURL = strings.TrimRight(cfg.PublicURL, "/")

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("LISTEN_ADDR must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxRedirectHops < 1 || c.MaxRedirectHops > 10 {
		return fmt.Errorf("MAX_REDIRECT_HOPS must be between 1 and 10, got %d", c.MaxRedirectHops)
	}
	if c.IdentityCacheTTL <= 0 {
		return fmt.Errorf("IDENTITY_CACHE_TTL must be positive")
	}
	if c.UpstreamTimeout <= 0 {
		return fmt.Errorf("UPSTREAM_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if (c.OAuthClientID == "") != (c.OAuthClientSecret == "") {
		return fmt.Errorf("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together")
	}
	for name, raw := range map[string]string{
		"GITHUB_API_URL":    c.GitHubAPIURL,
		"GITHUB_UPLOAD_URL": c.GitHubUploadURL,
		"GITHUB_WEB_URL":    c.GitHubWebURL,
	} {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("%s must be an absolute URL, got %q", name, raw)
		}
	}
	return nil
}

// OAuthEnabled reports whether browser login is configured.
func (c *Config) OAuthEnabled() bool {
	return c.OAuthClientID != "" && c.OAuthClientSecret != ""
}

// Restricted reports whether the access policy is active.
func (c *Config) Restricted() bool {
	return c.RestrictOwner != "" && c.RestrictRepo != ""
}

// CallbackURL is the OAuth redirect_uri, or "" when PublicURL is unset.
func (c *Config) CallbackURL() string {
	if c.PublicURL == "" {
		return ""
	}
	return c.PublicURL + "/auth/callback"
}
