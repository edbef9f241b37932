package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mscno/ghdrive/pkg/auth"
	"github.com/mscno/ghdrive/pkg/bucket"
	"github.com/mscno/ghdrive/pkg/config"
	"github.com/mscno/ghdrive/pkg/download"
	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/mscno/ghdrive/pkg/identity"
	"github.com/mscno/ghdrive/pkg/model"
	"github.com/mscno/ghdrive/pkg/session"
	"github.com/mscno/ghdrive/pkg/settings"
	"github.com/mscno/ghdrive/server/middleware"
)

const (
	serviceName      = "ghdrive"
	stateCookieName  = "ghdrive_oauth_state"
	stateCookieTTL   = 10 * time.Minute
	multipartSlack   = 1 << 20
	maxFieldBytes    = 4 << 10
	configBodyLimit  = 64 << 10
	downloadTokenKey = "token"
)

// UserLookup resolves the account behind a freshly issued token.
type UserLookup interface {
	AuthenticatedUser(ctx context.Context, token string) (model.Identity, error)
}

// Handler serves the REST API.
type Handler struct {
	cfg        *config.Config
	logger     *slog.Logger
	resolver   *auth.Resolver
	guard      *auth.Guard
	identities *identity.Cache
	users      UserLookup
	oauth      *auth.GithubProvider
	sessions   *session.Manager
	buckets    *bucket.Store
	downloads  *download.Proxy
	settings   *settings.Store
	metrics    *Metrics
}

type assetJSON struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	Size          int64     `json:"size"`
	DownloadCount int64     `json:"downloadCount"`
	DownloadURL   string    `json:"downloadUrl"`
	CreatedAt     time.Time `json:"createdAt"`
}

type releaseJSON struct {
	ID          int64       `json:"id"`
	Tag         string      `json:"tag"`
	Name        string      `json:"name"`
	CreatedAt   time.Time   `json:"createdAt"`
	PublishedAt time.Time   `json:"publishedAt"`
	HTMLURL     string      `json:"htmlUrl"`
	Assets      []assetJSON `json:"assets"`
}

type uploadResponse struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"downloadUrl"`
	ReleaseURL  string `json:"releaseUrl"`
	AssetID     int64  `json:"assetId"`
	Size        int64  `json:"size"`
	Filename    string `json:"filename"`
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type configResponse struct {
	Success bool `json:"success"`
	model.UserConfig
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.StatusOf(err)
	msg := errs.MessageOf(err)
	if status == http.StatusRequestEntityTooLarge && errs.KindOf(err) == errs.KindUnknown {
		msg = "file too large"
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		h.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	middleware.WriteError(w, status, msg)
}

func credential(r *http.Request) auth.Credential {
	cred, _ := auth.CredentialFrom(r.Context())
	return cred
}

// Root describes the service.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"message": "GitHub Releases file storage gateway",
		"endpoints": map[string]string{
			"upload":      "POST /api/upload",
			"list":        "GET /api/list/{owner}/{repo}",
			"deleteAsset": "GET /api/delete-asset?owner=&repo=&assetId=",
			"delete":      "DELETE /api/assets/{owner}/{repo}/{assetId}",
			"download":    "GET /api/download/{owner}/{repo}/{tag}/{filename}",
			"login":       "GET /auth/login",
			"logout":      "POST /auth/logout",
			"me":          "GET /api/me",
			"config":      "GET|PUT /api/config",
			"health":      "GET /api/health",
		},
		"usage": map[string]any{
			"requirements": []string{
				"a GitHub token with repo scope, sent as 'Authorization: Bearer <token>', or a GitHub login session",
				"a GitHub repository to store files in",
			},
		},
	})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"service":   serviceName,
	})
}

// Upload stores the multipart "file" field in owner/repo under tag. The
// body is streamed: when owner and repo precede the file, access is checked
// before the file is read.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)

	mr, err := r.MultipartReader()
	if err != nil {
		h.fail(w, r, errs.Wrap(errs.KindInvalidInput, "invalid multipart form", err))
		return
	}

	form := uploadForm{fields: map[string]string{}}
	defer form.cleanup()
	checked := false
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.fail(w, r, uploadReadError(err))
			return
		}
		name := part.FormName()
		switch {
		case name == "file" && part.FileName() != "" && form.file == nil:
			owner, repo := form.value(r, "owner"), form.value(r, "repo")
			if owner != "" && repo != "" {
				if err := validateOwnerRepo(owner, repo); err != nil {
					part.Close()
					h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
					return
				}
				if err := h.guard.Check(r.Context(), owner, repo, cred.Token); err != nil {
					part.Close()
					h.fail(w, r, err)
					return
				}
				checked = true
			}
			if err := form.spool(part, h.cfg.MaxUploadBytes); err != nil {
				part.Close()
				h.fail(w, r, err)
				return
			}
		case name != "" && part.FileName() == "":
			value, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
			if err != nil {
				part.Close()
				h.fail(w, r, uploadReadError(err))
				return
			}
			form.fields[name] = string(value)
		}
		part.Close()
	}

	owner, repo := form.value(r, "owner"), form.value(r, "repo")
	if err := validateOwnerRepo(owner, repo); err != nil {
		h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
		return
	}
	if form.file == nil {
		h.fail(w, r, errs.New(errs.KindInvalidInput, "no file uploaded"))
		return
	}
	if !checked {
		if err := h.guard.Check(r.Context(), owner, repo, cred.Token); err != nil {
			h.fail(w, r, err)
			return
		}
	}

	ref := model.NewBucketRef(owner, repo, form.value(r, "tag"))
	rel, asset, err := h.buckets.Put(r.Context(), ref, form.filename, form.contentType, form.file, form.size, cred.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.metrics.AddTransferred("upload", asset.Size)

	middleware.WriteJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		DownloadURL: asset.BrowserDownloadURL,
		ReleaseURL:  rel.HTMLURL,
		AssetID:     asset.ID,
		Size:        asset.Size,
		Filename:    asset.Name,
	})
}

// List returns every release of owner/repo with its assets.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)
	owner, repo := r.PathValue("owner"), r.PathValue("repo")
	if err := validateOwnerRepo(owner, repo); err != nil {
		h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
		return
	}
	if err := h.guard.Check(r.Context(), owner, repo, cred.Token); err != nil {
		h.fail(w, r, err)
		return
	}

	rels, err := h.buckets.ListReleases(r.Context(), owner, repo, cred.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]releaseJSON, 0, len(rels))
	for _, rel := range rels {
		assets := make([]assetJSON, 0, len(rel.Assets))
		for _, a := range rel.Assets {
			assets = append(assets, assetJSON{
				ID:            a.ID,
				Name:          a.Name,
				Size:          a.Size,
				DownloadCount: a.DownloadCount,
				DownloadURL:   a.BrowserDownloadURL,
				CreatedAt:     a.CreatedAt,
			})
		}
		out = append(out, releaseJSON{
			ID:          rel.ID,
			Tag:         rel.TagName,
			Name:        rel.Name,
			CreatedAt:   rel.CreatedAt,
			PublishedAt: rel.PublishedAt,
			HTMLURL:     rel.HTMLURL,
			Assets:      assets,
		})
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "releases": out})
}

// DeleteAsset serves DELETE /api/assets/{owner}/{repo}/{assetId}.
func (h *Handler) DeleteAsset(w http.ResponseWriter, r *http.Request) {
	h.deleteAsset(w, r, r.PathValue("owner"), r.PathValue("repo"), r.PathValue("assetId"))
}

// DeleteAssetLegacy serves GET /api/delete-asset?owner=&repo=&assetId=.
func (h *Handler) DeleteAssetLegacy(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	h.deleteAsset(w, r, q.Get("owner"), q.Get("repo"), q.Get("assetId"))
}

func (h *Handler) deleteAsset(w http.ResponseWriter, r *http.Request, owner, repo, rawID string) {
	cred := credential(r)
	if err := validateOwnerRepo(owner, repo); err != nil {
		h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
		return
	}
	id, err := parseAssetID(rawID)
	if err != nil {
		h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
		return
	}
	if err := h.guard.Check(r.Context(), owner, repo, cred.Token); err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.buckets.DeleteAsset(r.Context(), owner, repo, id, cred.Token); err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true, Message: "asset deleted"})
}

// Download redirects to or streams a stored file. Authentication is
// optional; without it the caller is sent to the public URL.
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	owner, repo := r.PathValue("owner"), r.PathValue("repo")
	if err := validateOwnerRepo(owner, repo); err != nil {
		h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
		return
	}
	filename := r.PathValue("filename")
	if filename == "" {
		h.fail(w, r, errs.New(errs.KindInvalidInput, "filename is required"))
		return
	}

	cred, _ := h.resolver.Resolve(r, auth.WithQueryToken(downloadTokenKey))
	stream := r.URL.Query().Get("stream")
	res, err := h.downloads.Resolve(r.Context(), download.Request{
		Owner:    owner,
		Repo:     repo,
		Tag:      r.PathValue("tag"),
		Filename: filename,
		Stream:   stream == "1" || stream == "true",
	}, cred.Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	switch res.Mode {
	case download.ModePublicRedirect, download.ModeRedirect:
		http.Redirect(w, r, res.Location, http.StatusFound)
	case download.ModeStream:
		defer res.Stream.Body.Close()
		contentType := res.Stream.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", download.ContentDisposition(res.Stream.Filename))
		if res.Stream.ContentLength >= 0 {
			w.Header().Set("Content-Length", strconv.FormatInt(res.Stream.ContentLength, 10))
		}
		w.WriteHeader(http.StatusOK)
		n, err := io.Copy(w, res.Stream.Body)
		h.metrics.AddTransferred("download", n)
		if err != nil {
			h.logger.Warn("download stream interrupted", "owner", owner, "repo", repo, "file", filename, "bytes", n, "error", err)
		}
	}
}

// Login starts the GitHub OAuth flow.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	target, err := h.oauth.AuthCodeURL(state)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   int(stateCookieTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.SessionCookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback completes the OAuth flow and opens a session. Failures only
// reach the browser as error=login_failed.
func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	clearState := &http.Cookie{Name: stateCookieName, Value: "", Path: "/auth", MaxAge: -1, HttpOnly: true}
	fail := func(reason string, err error) {
		h.logger.Warn("login failed", "reason", reason, "error", err)
		http.SetCookie(w, clearState)
		http.Redirect(w, r, withQuery(h.cfg.FrontendURL, url.Values{"error": {"login_failed"}}), http.StatusFound)
	}

	if e := q.Get("error"); e != "" {
		fail("provider returned error", errors.New(e))
		return
	}
	code := q.Get("code")
	if code == "" {
		fail("missing code", nil)
		return
	}
	if c, err := r.Cookie(stateCookieName); err != nil || c.Value == "" || c.Value != q.Get("state") {
		fail("state mismatch", err)
		return
	}

	token, err := h.oauth.Exchange(r.Context(), code)
	if err != nil {
		fail("code exchange", err)
		return
	}
	id, err := h.users.AuthenticatedUser(r.Context(), token)
	if err != nil {
		fail("identity lookup", err)
		return
	}
	h.identities.Prime(token, id.Login)

	var prev string
	if c, err := r.Cookie(session.CookieName); err == nil {
		prev = c.Value
	}
	_, cookie, err := h.sessions.Create(r.Context(), token, id, prev)
	if err != nil {
		fail("session create", err)
		return
	}
	http.SetCookie(w, cookie)
	http.SetCookie(w, clearState)
	h.logger.Info("user logged in", "login", id.Login, "fingerprint", identity.Fingerprint(token))
	http.Redirect(w, r, withQuery(h.cfg.FrontendURL, url.Values{"login": {"success"}}), http.StatusFound)
}

// Logout ends the browser session. It succeeds without one.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := h.sessions.Destroy(r.Context(), r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	http.SetCookie(w, cookie)
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Success: true})
}

// Me returns the logged-in account.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	cred := credential(r)
	if cred.Session == nil {
		middleware.WriteError(w, http.StatusUnauthorized, "not logged in")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"login":   cred.Session.Login,
		"id":      cred.Session.UserID,
	})
}

// GetConfig returns the logged-in user's saved settings.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.settings.Get(r.Context(), credential(r).Token)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, configResponse{Success: true, UserConfig: cfg})
}

// SaveConfig stores the logged-in user's settings.
func (h *Handler) SaveConfig(w http.ResponseWriter, r *http.Request) {
	var in model.UserConfig
	if err := json.NewDecoder(io.LimitReader(r.Body, configBodyLimit)).Decode(&in); err != nil {
		h.fail(w, r, errs.Wrap(errs.KindInvalidInput, "invalid JSON body", err))
		return
	}
	if in.Owner != "" || in.Repo != "" {
		if err := validateOwnerRepo(in.Owner, in.Repo); err != nil {
			h.fail(w, r, errs.New(errs.KindInvalidInput, err.Error()))
			return
		}
	}
	cfg, err := h.settings.Save(r.Context(), credential(r).Token, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, configResponse{Success: true, UserConfig: cfg})
}
