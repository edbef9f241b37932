package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp moves into an empty directory so a developer's .env is not read.
func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:3002", cfg.ListenAddr)
	assert.Equal(t, "https://api.github.com/", cfg.GitHubAPIURL)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.IdentityCacheTTL)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, int64(2<<30), cfg.MaxUploadBytes)
	assert.Equal(t, 5, cfg.MaxRedirectHops)
	assert.False(t, cfg.OAuthEnabled())
	assert.False(t, cfg.Restricted())
	assert.Equal(t, "", cfg.CallbackURL())
}

func TestLoad_RestrictionTrimmed(t *testing.T) {
	chdirTemp(t)
	t.Setenv("RESTRICT_OWNER", "  alice ")
	t.Setenv("RESTRICT_REPO", "vault\n")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "alice", cfg.RestrictOwner)
	assert.Equal(t, "vault", cfg.RestrictRepo)
	assert.True(t, cfg.Restricted())
}

func TestLoad_BlankRestrictionIsDisabled(t *testing.T) {
	chdirTemp(t)
	t.Setenv("RESTRICT_OWNER", "alice")
	t.Setenv("RESTRICT_REPO", "   ")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Restricted())
}

func TestLoad_OAuth(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GITHUB_CLIENT_ID", "id")
	t.Setenv("GITHUB_CLIENT_SECRET", "secret")
	t.Setenv("PUBLIC_URL", "https://drive.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.OAuthEnabled())
	assert.Equal(t, "https://drive.example.com/auth/callback", cfg.CallbackURL())
}

func TestLoad_OAuthHalfConfigured(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GITHUB_CLIENT_ID", "id")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_CLIENT_SECRET")
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{"hops too low", "MAX_REDIRECT_HOPS", "0", "MAX_REDIRECT_HOPS"},
		{"hops too high", "MAX_REDIRECT_HOPS", "11", "MAX_REDIRECT_HOPS"},
		{"upload limit", "MAX_UPLOAD_BYTES", "0", "MAX_UPLOAD_BYTES"},
		{"api url", "GITHUB_API_URL", "not a url", "GITHUB_API_URL"},
		{"bad duration", "UPSTREAM_TIMEOUT", "soon", "parsing config"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chdirTemp(t)
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_EnvFile(t *testing.T) {
	chdirTemp(t)
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RATE_LIMIT_BURST=7\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("RATE_LIMIT_BURST") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.RateLimitBurst)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	chdirTemp(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_DefaultEnvFileOptional(t *testing.T) {
	chdirTemp(t)

	_, err := Load()
	require.NoError(t, err)
}
