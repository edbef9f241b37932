package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/mscno/ghdrive/pkg/errs"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"
)

// OAuthScopes are requested at login: repo for releases, gist for settings.
var OAuthScopes = []string{"repo", "gist"}

// OAuthConfig configures the GitHub web application flow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	// RedirectURL is optional; GitHub falls back to the app's callback.
	RedirectURL string
	// AuthURL and TokenURL override github.com, for Enterprise and tests.
	AuthURL  string
	TokenURL string
	// HTTPClient is used for the code exchange.
	HTTPClient *http.Client
}

// GithubProvider drives the GitHub OAuth authorization code flow.
type GithubProvider struct {
	config     *oauth2.Config
	httpClient *http.Client
}

// NewGithubProvider creates a GithubProvider. Login is disabled when the
// client id or secret is empty.
func NewGithubProvider(cfg OAuthConfig) *GithubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
		endpoint.AuthStyle = oauth2.AuthStyleInParams
	}
	return &GithubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       OAuthScopes,
		},
		httpClient: cfg.HTTPClient,
	}
}

// Enabled reports whether client credentials are configured.
func (p *GithubProvider) Enabled() bool {
	return p.config.ClientID != "" && p.config.ClientSecret != ""
}

func (p *GithubProvider) notConfigured() error {
	return errs.New(errs.KindConfig, "GitHub OAuth is not configured: set GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET")
}

// AuthCodeURL is the GitHub authorize URL for state.
func (p *GithubProvider) AuthCodeURL(state string) (string, error) {
	if !p.Enabled() {
		return "", p.notConfigured()
	}
	return p.config.AuthCodeURL(state), nil
}

// Exchange trades an authorization code for an access token.
func (p *GithubProvider) Exchange(ctx context.Context, code string) (string, error) {
	if !p.Enabled() {
		return "", p.notConfigured()
	}
	if code == "" {
		return "", errs.New(errs.KindInvalidInput, "authorization code is missing")
	}
	if p.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	}
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return "", errs.Wrap(errs.KindAuthInvalid, "authorization code rejected", err)
		}
		return "", errs.Wrap(errs.KindTransport, "token exchange failed", err)
	}
	if token.AccessToken == "" {
		return "", errs.New(errs.KindAuthInvalid, "token endpoint returned no access token")
	}
	return token.AccessToken, nil
}

// String hides the client secret from logs.
func (p *GithubProvider) String() string {
	return fmt.Sprintf("GithubProvider{client_id=%s, enabled=%t}", p.config.ClientID, p.Enabled())
}
