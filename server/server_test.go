package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mscno/ghdrive/pkg/auth"
	"github.com/mscno/ghdrive/pkg/config"
	"github.com/mscno/ghdrive/pkg/session"
	"github.com/mscno/ghdrive/server/middleware"
	"github.com/mscno/ghdrive/testutl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	fake   *testutl.FakeGitHub
	ts     *httptest.Server
	client *http.Client
}

func testConfig(fake *testutl.FakeGitHub) *config.Config {
	return &config.Config{
		ListenAddr:        "127.0.0.1:0",
		Environment:       "test",
		LogLevel:          "debug",
		FrontendURL:       "/",
		AllowedOrigins:    []string{"*"},
		GitHubAPIURL:      fake.APIURL(),
		GitHubUploadURL:   fake.APIURL(),
		GitHubWebURL:      fake.WebURL(),
		OAuthClientID:     "client-123",
		OAuthClientSecret: "client-secret",
		OAuthTokenURL:     fake.TokenURL(),
		SessionSecret:     "test-secret",
		SessionTTL:        time.Hour,
		IdentityCacheTTL:  time.Minute,
		UpstreamTimeout:   5 * time.Second,
		MaxUploadBytes:    1 << 20,
		MaxRedirectHops:   5,
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
	}
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	fake := testutl.NewFakeGitHub()
	t.Cleanup(fake.Close)
	fake.AddUser("tok-alice", "alice", 1)
	fake.AddUser("tok-bob", "bob", 2)

	cfg := testConfig(fake)
	if mutate != nil {
		mutate(cfg)
	}
	srv, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client := ts.Client()
	client.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &testEnv{fake: fake, ts: ts, client: client}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, header http.Header, cookies ...*http.Cookie) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	for _, c := range cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": {"Bearer " + token}}
}

func (e *testEnv) upload(t *testing.T, token, owner, repo, tag, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("owner", owner))
	require.NoError(t, mw.WriteField("repo", repo))
	if tag != "" {
		require.NoError(t, mw.WriteField("tag", tag))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	header := http.Header{"Content-Type": {mw.FormDataContentType()}}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return e.do(t, http.MethodPost, "/api/upload", &buf, header)
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type listBody struct {
	Success  bool `json:"success"`
	Releases []struct {
		ID     int64  `json:"id"`
		Tag    string `json:"tag"`
		Name   string `json:"name"`
		Assets []struct {
			ID            int64  `json:"id"`
			Name          string `json:"name"`
			Size          int64  `json:"size"`
			DownloadCount int64  `json:"downloadCount"`
			DownloadURL   string `json:"downloadUrl"`
		} `json:"assets"`
	} `json:"releases"`
}

func TestUploadListDelete(t *testing.T) {
	env := newTestEnv(t, nil)
	content := bytes.Repeat([]byte("a"), 10240)

	resp := env.upload(t, "tok-alice", "alice", "files", "", "report.pdf", content)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	up := decode[uploadResponse](t, resp)
	assert.True(t, up.Success)
	assert.Equal(t, "report.pdf", up.Filename)
	assert.Equal(t, int64(10240), up.Size)
	assert.NotZero(t, up.AssetID)
	assert.Contains(t, up.DownloadURL, "/alice/files/releases/download/latest/report.pdf")
	assert.Equal(t, 1, env.fake.ReleaseCount("alice", "files"))

	resp = env.do(t, http.MethodGet, "/api/list/alice/files", nil, bearer("tok-alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[listBody](t, resp)
	require.True(t, list.Success)
	require.Len(t, list.Releases, 1)
	assert.Equal(t, "latest", list.Releases[0].Tag)
	assert.Equal(t, "latest", list.Releases[0].Name)
	require.Len(t, list.Releases[0].Assets, 1)
	assert.Equal(t, up.AssetID, list.Releases[0].Assets[0].ID)
	assert.Equal(t, int64(10240), list.Releases[0].Assets[0].Size)

	resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/assets/alice/files/%d", up.AssetID), nil, bearer("tok-alice"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	msg := decode[messageResponse](t, resp)
	assert.True(t, msg.Success)

	resp = env.do(t, http.MethodGet, "/api/list/alice/files", nil, bearer("tok-alice"))
	list = decode[listBody](t, resp)
	require.Len(t, list.Releases, 1)
	assert.Empty(t, list.Releases[0].Assets)
}

func TestUpload_SecondUploadReusesRelease(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.upload(t, "tok-alice", "alice", "files", "v1", "a.txt", []byte("a"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = env.upload(t, "tok-alice", "alice", "files", "v1", "b.txt", []byte("b"))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, 1, env.fake.Calls(testutl.RouteCreateRelease))
	assert.Equal(t, 1, env.fake.ReleaseCount("alice", "files"))
}

func TestUpload_Errors(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxUploadBytes = 1024 })

	t.Run("missing auth", func(t *testing.T) {
		resp := env.upload(t, "", "alice", "files", "", "a.txt", []byte("a"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[middleware.ErrorBody](t, resp)
		assert.False(t, body.Success)
		assert.Contains(t, body.Error, "Authorization: Bearer")
	})
	t.Run("too large", func(t *testing.T) {
		resp := env.upload(t, "tok-alice", "alice", "files", "", "big.bin", bytes.Repeat([]byte("x"), 2048))
		assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
		assert.Equal(t, 0, env.fake.Calls(testutl.RouteUploadAsset))
	})
	t.Run("invalid repo name", func(t *testing.T) {
		resp := env.upload(t, "tok-alice", "alice", "bad repo", "", "a.txt", []byte("a"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
	t.Run("invalid token", func(t *testing.T) {
		resp := env.upload(t, "nope", "alice", "files", "", "a.txt", []byte("a"))
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[middleware.ErrorBody](t, resp)
		assert.Equal(t, "Bad credentials", body.Error)
	})
	t.Run("no file", func(t *testing.T) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		require.NoError(t, mw.WriteField("owner", "alice"))
		require.NoError(t, mw.WriteField("repo", "files"))
		require.NoError(t, mw.Close())
		header := bearer("tok-alice")
		header.Set("Content-Type", mw.FormDataContentType())
		resp := env.do(t, http.MethodPost, "/api/upload", &buf, header)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestRestrictedRepository(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RestrictOwner = "alice"
		c.RestrictRepo = "vault"
	})

	resp := env.upload(t, "tok-bob", "alice", "vault", "", "a.txt", []byte("a"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	body := decode[middleware.ErrorBody](t, resp)
	assert.Equal(t, auth.RestrictedMessage, body.Error)

	resp = env.do(t, http.MethodGet, "/api/list/alice/vault", nil, bearer("tok-bob"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.upload(t, "tok-alice", "alice", "vault", "", "a.txt", []byte("a"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.upload(t, "tok-bob", "bob", "files", "", "a.txt", []byte("a"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Repeated checks for the same token hit the identity cache.
	resp = env.do(t, http.MethodGet, "/api/list/alice/vault", nil, bearer("tok-bob"))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 2, env.fake.Calls(testutl.RouteUser))
}

func TestRestrictedRepository_DeniedBeforeFileIsRead(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RestrictOwner = "alice"
		c.RestrictRepo = "vault"
		c.MaxUploadBytes = 1024
	})

	// The file would be rejected as too large if it were read first.
	resp := env.upload(t, "tok-bob", "alice", "vault", "", "big.bin", bytes.Repeat([]byte("x"), 2048))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, auth.RestrictedMessage, decode[middleware.ErrorBody](t, resp).Error)
	assert.Equal(t, 0, env.fake.Calls(testutl.RouteUploadAsset))
}

func TestUpload_FileBeforeFields(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RestrictOwner = "alice"
		c.RestrictRepo = "vault"
	})

	send := func(token string) *http.Response {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile("file", "notes.txt")
		require.NoError(t, err)
		_, err = fw.Write([]byte("hello"))
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("owner", "alice"))
		require.NoError(t, mw.WriteField("repo", "vault"))
		require.NoError(t, mw.Close())
		header := bearer(token)
		header.Set("Content-Type", mw.FormDataContentType())
		return env.do(t, http.MethodPost, "/api/upload", &buf, header)
	}

	resp := send("tok-bob")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, env.fake.Calls(testutl.RouteUploadAsset))

	resp = send("tok-alice")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, "notes.txt", body["filename"])
	assert.Equal(t, float64(5), body["size"])
}

func TestUpload_NotMultipart(t *testing.T) {
	env := newTestEnv(t, nil)

	header := bearer("tok-alice")
	header.Set("Content-Type", "application/json")
	resp := env.do(t, http.MethodPost, "/api/upload", strings.NewReader(`{}`), header)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteAsset_LegacyRoute(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.fake.AddAsset("alice", "files", "latest", "a.txt", []byte("a"))

	resp := env.do(t, http.MethodGet, "/api/delete-asset?owner=alice&repo=files&assetId=abc", nil, bearer("tok-alice"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/delete-asset?owner=alice&repo=files&assetId=%d", id), nil, bearer("tok-alice"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, fmt.Sprintf("/api/delete-asset?owner=alice&repo=files&assetId=%d", id), nil, bearer("tok-alice"))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDownload(t *testing.T) {
	env := newTestEnv(t, nil)
	content := []byte("quarterly numbers")
	env.fake.AddAsset("alice", "files", "latest", "résumé 1.txt", content)
	path := "/api/download/alice/files/undefined/" + url.PathEscape("résumé 1.txt")

	t.Run("anonymous redirects to public url", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, path, nil, nil)
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Equal(t, env.fake.WebURL()+"/alice/files/releases/download/latest/r%C3%A9sum%C3%A9%201.txt", resp.Header.Get("Location"))
	})
	t.Run("authenticated redirect", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, path, nil, bearer("tok-alice"))
		require.Equal(t, http.StatusFound, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Location"), "/alice/files/releases/download/latest/")
	})
	t.Run("stream with bearer", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, path+"?stream=1", nil, bearer("tok-alice"))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		got, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, content, got)
		assert.Equal(t, `attachment; filename="r_sum_ 1.txt"; filename*=UTF-8''r%C3%A9sum%C3%A9%201.txt`, resp.Header.Get("Content-Disposition"))
		assert.Equal(t, fmt.Sprint(len(content)), resp.Header.Get("Content-Length"))
	})
	t.Run("stream with query token", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, path+"?stream=1&token=tok-alice", nil, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		for _, h := range env.fake.BlobAuthorization() {
			assert.Empty(t, h)
		}
	})
	t.Run("missing file", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/api/download/alice/files/latest/nope.txt", nil, bearer("tok-alice"))
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
	t.Run("redirect loop", func(t *testing.T) {
		env.fake.SetLoopRedirects(true)
		defer env.fake.SetLoopRedirects(false)
		resp := env.do(t, http.MethodGet, path+"?stream=1", nil, bearer("tok-alice"))
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		body := decode[middleware.ErrorBody](t, resp)
		assert.Equal(t, "too many redirects", body.Error)
	})
}

func loginCookies(t *testing.T, env *testEnv, token string) []*http.Cookie {
	t.Helper()
	resp := env.do(t, http.MethodGet, "/auth/login", nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	state := loc.Query().Get("state")
	require.NotEmpty(t, state)

	var stateCookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == stateCookieName {
			stateCookie = c
		}
	}
	require.NotNil(t, stateCookie)

	code := "code-" + token
	env.fake.IssueCode(code, token)
	resp = env.do(t, http.MethodGet, "/auth/callback?code="+code+"&state="+state, nil, nil, stateCookie)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/?login=success", resp.Header.Get("Location"))

	for _, c := range resp.Cookies() {
		if c.Name == session.CookieName {
			return []*http.Cookie{c}
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func TestOAuthLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/auth/login", nil, nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "client-123", loc.Query().Get("client_id"))
	assert.Equal(t, "repo gist", loc.Query().Get("scope"))
}

func TestOAuthLogin_NotConfigured(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.OAuthClientID = ""
		c.OAuthClientSecret = ""
	})

	resp := env.do(t, http.MethodGet, "/auth/login", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOAuthCallback_Failures(t *testing.T) {
	env := newTestEnv(t, nil)
	stateCookie := &http.Cookie{Name: stateCookieName, Value: "s1"}

	tests := []struct {
		name    string
		query   string
		cookies []*http.Cookie
	}{
		{name: "missing code", query: "state=s1", cookies: []*http.Cookie{stateCookie}},
		{name: "provider error", query: "error=access_denied&state=s1", cookies: []*http.Cookie{stateCookie}},
		{name: "invalid code", query: "code=bogus&state=s1", cookies: []*http.Cookie{stateCookie}},
		{name: "state mismatch", query: "code=bogus&state=other", cookies: []*http.Cookie{stateCookie}},
		{name: "no state cookie", query: "code=bogus&state=s1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, "/auth/callback?"+tt.query, nil, nil, tt.cookies...)
			require.Equal(t, http.StatusFound, resp.StatusCode)
			assert.Equal(t, "/?error=login_failed", resp.Header.Get("Location"))
			for _, c := range resp.Cookies() {
				assert.NotEqual(t, session.CookieName, c.Name)
			}
		})
	}
}

func TestSessionFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := loginCookies(t, env, "tok-alice")

	resp := env.do(t, http.MethodGet, "/api/me", nil, nil, cookies...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	me := decode[map[string]any](t, resp)
	assert.Equal(t, "alice", me["login"])
	assert.Equal(t, float64(1), me["id"])

	resp = env.upload(t, "", "alice", "files", "", "a.txt", []byte("a"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/list/alice/files", nil, nil, cookies...)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/auth/logout", nil, nil, cookies...)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/me", nil, nil, cookies...)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/auth/logout", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSession_BearerTakesPrecedence(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.RestrictOwner = "alice"
		c.RestrictRepo = "vault"
	})
	cookies := loginCookies(t, env, "tok-alice")
	users := env.fake.Calls(testutl.RouteUser)

	resp := env.do(t, http.MethodGet, "/api/list/alice/vault", nil, nil, cookies...)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// The callback primed the identity cache.
	assert.Equal(t, users, env.fake.Calls(testutl.RouteUser))

	resp = env.do(t, http.MethodGet, "/api/list/alice/vault", nil, bearer("tok-bob"), cookies...)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMe_RequiresSession(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/me", nil, bearer("tok-alice"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	cookies := loginCookies(t, env, "tok-alice")

	resp := env.do(t, http.MethodGet, "/api/config", nil, nil, cookies...)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[configResponse](t, resp)
	assert.Equal(t, "latest", got.Tag)
	assert.Empty(t, got.Owner)

	header := http.Header{"Content-Type": {"application/json"}}
	resp = env.do(t, http.MethodPut, "/api/config", strings.NewReader(`{"owner":"alice","repo":"files","tag":"docs"}`), header, cookies...)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/config", strings.NewReader(`{"owner":"alice","repo":"photos","tag":""}`), header, cookies...)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/config", nil, nil, cookies...)
	got = decode[configResponse](t, resp)
	assert.Equal(t, "alice", got.Owner)
	assert.Equal(t, "photos", got.Repo)
	assert.Equal(t, "latest", got.Tag)
	assert.Equal(t, 1, env.fake.GistCount("alice"))

	resp = env.do(t, http.MethodPut, "/api/config", strings.NewReader(`{"owner":"a b","repo":"x"}`), header, cookies...)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/config", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealthRootMetrics(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/api/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	health := decode[map[string]string](t, resp)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, serviceName, health["service"])

	resp = env.do(t, http.MethodGet, "/", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	root := decode[map[string]any](t, resp)
	assert.Contains(t, root, "endpoints")

	resp = env.do(t, http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ghdrive_requests_total{code="200",method="get",route="health"} 1`)

	resp = env.do(t, http.MethodGet, "/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.AllowedOrigins = []string{"https://app.example.com"}
	})

	header := http.Header{
		"Origin":                         {"https://app.example.com"},
		"Access-Control-Request-Method":  {"POST"},
		"Access-Control-Request-Headers": {"authorization"},
	}
	resp := env.do(t, http.MethodOptions, "/api/upload", nil, header)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
}

func TestCORSPreflight_AnyOrigin(t *testing.T) {
	env := newTestEnv(t, nil)

	header := http.Header{
		"Origin":                         {"https://app.example.com"},
		"Access-Control-Request-Method":  {"POST"},
		"Access-Control-Request-Headers": {"authorization"},
	}
	resp := env.do(t, http.MethodOptions, "/api/upload", nil, header)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Credentials"))
}
