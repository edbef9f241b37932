// Package upstream is the typed GitHub REST client used by the gateway.
//
// A single GitHub value is shared by all requests; every call takes the
// caller's token and runs on a copy of the go-github client authenticated
// with it. Failures are translated into *errs.Error so upstream status codes
// and messages reach the HTTP caller unchanged.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v71/github"
	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/mscno/ghdrive/pkg/model"
)

const (
	userAgent          = "ghdrive/1.0"
	defaultTimeout     = 30 * time.Second
	releaseBody        = "Created by file storage service"
	listPageSize       = 100
	maxListPages       = 50
	defaultContentType = "application/octet-stream"
)

// Config configures a GitHub client.
type Config struct {
	APIURL    string // defaults to https://api.github.com/
	UploadURL string // defaults to https://uploads.github.com/
	WebURL    string // defaults to https://github.com
	// Timeout bounds metadata calls. Uploads are bounded only by ctx.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	// MaxListPages caps paginated listings. Zero means 50 pages of 100.
	MaxListPages int
}

// GitHub talks to the GitHub REST API on behalf of callers.
type GitHub struct {
	base     *github.Client
	webURL   string
	timeout  time.Duration
	maxPages int
	logger   *slog.Logger
}

// New creates a GitHub client.
func New(cfg Config) (*GitHub, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.MaxListPages <= 0 {
		cfg.MaxListPages = maxListPages
	}
	if cfg.WebURL == "" {
		cfg.WebURL = "https://github.com"
	}

	client := github.NewClient(cfg.HTTPClient)
	client.UserAgent = userAgent
	if cfg.APIURL != "" {
		u, err := parseBaseURL(cfg.APIURL)
		if err != nil {
			return nil, fmt.Errorf("invalid API URL: %w", err)
		}
		client.BaseURL = u
	}
	if cfg.UploadURL != "" {
		u, err := parseBaseURL(cfg.UploadURL)
		if err != nil {
			return nil, fmt.Errorf("invalid upload URL: %w", err)
		}
		client.UploadURL = u
	}
	if _, err := parseBaseURL(cfg.WebURL); err != nil {
		return nil, fmt.Errorf("invalid web URL: %w", err)
	}

	return &GitHub{
		base:     client,
		webURL:   strings.TrimRight(cfg.WebURL, "/"),
		timeout:  cfg.Timeout,
		maxPages: cfg.MaxListPages,
		logger:   cfg.Logger,
	}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%q is not absolute", raw)
	}
	return u, nil
}

func (g *GitHub) client(token string) *github.Client {
	return g.base.WithAuthToken(token)
}

// metadata bounds a metadata call with the configured timeout.
func (g *GitHub) metadata(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, g.timeout)
}

// APIHost is the host of the REST API; only requests to it carry tokens.
func (g *GitHub) APIHost() string {
	return g.base.BaseURL.Host
}

// AssetURL is the REST endpoint serving an asset's bytes.
func (g *GitHub) AssetURL(owner, repo string, assetID int64) string {
	return g.base.BaseURL.String() + fmt.Sprintf("repos/%s/%s/releases/assets/%d",
		url.PathEscape(owner), url.PathEscape(repo), assetID)
}

// PublicDownloadURL is the permalink for an asset of a public repository.
func (g *GitHub) PublicDownloadURL(owner, repo, tag, filename string) string {
	return g.webURL + "/" + strings.Join([]string{
		url.PathEscape(owner), url.PathEscape(repo), "releases", "download",
		url.PathEscape(tag), url.PathEscape(filename),
	}, "/")
}

// AuthenticatedUser returns the account that owns token.
func (g *GitHub) AuthenticatedUser(ctx context.Context, token string) (model.Identity, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	user, _, err := g.client(token).Users.Get(ctx, "")
	if err != nil {
		return model.Identity{}, translate(err)
	}
	if user.GetLogin() == "" {
		return model.Identity{}, errs.New(errs.KindAuthInvalid, "GitHub user login not found in response")
	}
	return model.Identity{Login: user.GetLogin(), ID: user.GetID()}, nil
}

// GetReleaseByTag fetches the release for tag.
func (g *GitHub) GetReleaseByTag(ctx context.Context, token, owner, repo, tag string) (model.Release, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	rel, _, err := g.client(token).Repositories.GetReleaseByTag(ctx, owner, repo, tag)
	if err != nil {
		return model.Release{}, translate(err)
	}
	return toRelease(rel), nil
}

// CreateRelease creates a published release whose tag and name are tag.
func (g *GitHub) CreateRelease(ctx context.Context, token, owner, repo, tag string) (model.Release, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	rel, _, err := g.client(token).Repositories.CreateRelease(ctx, owner, repo, &github.RepositoryRelease{
		TagName: github.Ptr(tag),
		Name:    github.Ptr(tag),
		Body:    github.Ptr(releaseBody),
	})
	if err != nil {
		return model.Release{}, translate(err)
	}
	g.logger.Info("created release", "owner", owner, "repo", repo, "tag", tag, "release_id", rel.GetID())
	return toRelease(rel), nil
}

// ListReleases returns the releases of owner/repo in upstream order. At most
// maxPages pages are read; a longer list is truncated and logged.
func (g *GitHub) ListReleases(ctx context.Context, token, owner, repo string) ([]model.Release, error) {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	client := g.client(token)
	opts := &github.ListOptions{PerPage: listPageSize}
	releases := []model.Release{}
	for page := 0; ; page++ {
		rels, resp, err := client.Repositories.ListReleases(ctx, owner, repo, opts)
		if err != nil {
			return nil, translate(err)
		}
		for _, rel := range rels {
			releases = append(releases, toRelease(rel))
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		if page+1 >= g.maxPages {
			g.logger.Warn("release list truncated", "owner", owner, "repo", repo,
				"pages", g.maxPages, "releases", len(releases))
			break
		}
		opts.Page = resp.NextPage
	}
	return releases, nil
}

// UploadAsset streams body into the release as name. size must be exact.
func (g *GitHub) UploadAsset(ctx context.Context, token, owner, repo string, releaseID int64, name, contentType string, body io.Reader, size int64) (model.Asset, error) {
	if contentType == "" {
		contentType = defaultContentType
	}
	client := g.client(token)

	q := url.Values{}
	q.Set("name", name)
	u := fmt.Sprintf("repos/%s/%s/releases/%d/assets?%s",
		url.PathEscape(owner), url.PathEscape(repo), releaseID, q.Encode())

	req, err := client.NewUploadRequest(u, body, size, contentType)
	if err != nil {
		return model.Asset{}, errs.Wrap(errs.KindUnknown, "building upload request", err)
	}

	asset := new(github.ReleaseAsset)
	if _, err := client.Do(ctx, req, asset); err != nil {
		return model.Asset{}, translate(err)
	}
	return toAsset(asset), nil
}

// DeleteAsset deletes an asset by id.
func (g *GitHub) DeleteAsset(ctx context.Context, token, owner, repo string, assetID int64) error {
	ctx, cancel := g.metadata(ctx)
	defer cancel()

	if _, err := g.client(token).Repositories.DeleteReleaseAsset(ctx, owner, repo, assetID); err != nil {
		return translate(err)
	}
	return nil
}

func toRelease(r *github.RepositoryRelease) model.Release {
	rel := model.Release{
		ID:          r.GetID(),
		TagName:     r.GetTagName(),
		Name:        r.GetName(),
		CreatedAt:   r.GetCreatedAt().Time,
		PublishedAt: r.GetPublishedAt().Time,
		HTMLURL:     r.GetHTMLURL(),
		Assets:      make([]model.Asset, 0, len(r.Assets)),
	}
	for _, a := range r.Assets {
		rel.Assets = append(rel.Assets, toAsset(a))
	}
	return rel
}

func toAsset(a *github.ReleaseAsset) model.Asset {
	return model.Asset{
		ID:                 a.GetID(),
		Name:               a.GetName(),
		Size:               int64(a.GetSize()),
		DownloadCount:      int64(a.GetDownloadCount()),
		CreatedAt:          a.GetCreatedAt().Time,
		BrowserDownloadURL: a.GetBrowserDownloadURL(),
		APIURL:             a.GetURL(),
		ContentType:        a.GetContentType(),
	}
}

// translate maps go-github errors onto the gateway taxonomy.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return errs.FromStatus(statusOf(rateErr.Response, http.StatusForbidden), rateErr.Message)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return errs.FromStatus(statusOf(abuseErr.Response, http.StatusForbidden), abuseErr.Message)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) {
		return errs.FromStatus(statusOf(respErr.Response, http.StatusBadGateway), respErr.Message)
	}
	return errs.Transport(err)
}

func statusOf(resp *http.Response, fallback int) int {
	if resp == nil || resp.StatusCode == 0 {
		return fallback
	}
	return resp.StatusCode
}
