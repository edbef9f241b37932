package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGithubProvider_AuthCodeURL(t *testing.T) {
	p := NewGithubProvider(OAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost:3002/auth/callback",
	})

	raw, err := p.AuthCodeURL("state-xyz")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "client-123", u.Query().Get("client_id"))
	assert.Equal(t, "repo gist", u.Query().Get("scope"))
	assert.Equal(t, "state-xyz", u.Query().Get("state"))
	assert.Equal(t, "http://localhost:3002/auth/callback", u.Query().Get("redirect_uri"))
}

func TestGithubProvider_NotConfigured(t *testing.T) {
	p := NewGithubProvider(OAuthConfig{ClientID: "only-id"})
	assert.False(t, p.Enabled())

	_, err := p.AuthCodeURL("s")
	require.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, errs.StatusOf(err))

	_, err = p.Exchange(context.Background(), "code")
	assert.Equal(t, errs.KindConfig, errs.KindOf(err))
}

func TestGithubProvider_Exchange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		w.Header().Set("Content-Type", "application/json")
		if r.Form.Get("code") != "good-code" || r.Form.Get("client_secret") != "secret" {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "bad_verification_code"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "gho_token", "token_type": "bearer", "scope": "repo,gist"})
	}))
	defer srv.Close()

	p := NewGithubProvider(OAuthConfig{
		ClientID:     "client-123",
		ClientSecret: "secret",
		TokenURL:     srv.URL,
		HTTPClient:   srv.Client(),
	})

	token, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "gho_token", token)

	_, err = p.Exchange(context.Background(), "bad-code")
	require.Error(t, err)
	assert.Equal(t, errs.KindAuthInvalid, errs.KindOf(err))

	_, err = p.Exchange(context.Background(), "")
	assert.Equal(t, errs.KindInvalidInput, errs.KindOf(err))
}
