// Package download serves stored files, either by redirecting the browser
// to GitHub or by streaming the bytes through the gateway.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/mscno/ghdrive/pkg/errs"
	"github.com/mscno/ghdrive/pkg/model"
	"github.com/tidwall/gjson"
)

const (
	// DefaultMaxHops bounds how many upstream responses one stream may see.
	DefaultMaxHops = 5

	notFoundMessage = "release or file not found"
	errorBodyLimit  = 64 << 10
	userAgent       = "ghdrive/1.0"
)

// Mode is how a download is served.
type Mode int

const (
	// ModePublicRedirect sends an anonymous caller to the public release URL.
	ModePublicRedirect Mode = iota
	// ModeRedirect sends an authenticated caller to the asset's download URL.
	ModeRedirect
	// ModeStream proxies the bytes.
	ModeStream
)

func (m Mode) String() string {
	switch m {
	case ModePublicRedirect:
		return "public_redirect"
	case ModeRedirect:
		return "redirect"
	case ModeStream:
		return "stream"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Request names the file to serve.
type Request struct {
	Owner    string
	Repo     string
	Tag      string
	Filename string
	Stream   bool
}

// Result is the outcome of Resolve. Location is set for redirects and
// Stream for ModeStream; the caller must close Stream.Body.
type Result struct {
	Mode     Mode
	Location string
	Stream   *Stream
}

// Stream is an open upstream body.
type Stream struct {
	Body          io.ReadCloser
	ContentLength int64 // -1 when unknown
	ContentType   string
	Filename      string
}

// Upstream is the subset of the GitHub client the proxy needs.
type Upstream interface {
	GetReleaseByTag(ctx context.Context, token, owner, repo, tag string) (model.Release, error)
	PublicDownloadURL(owner, repo, tag, filename string) string
	APIHost() string
}

// Guard authorizes access to a repository.
type Guard interface {
	Check(ctx context.Context, owner, repo, token string) error
}

// Config configures a Proxy.
type Config struct {
	MaxHops    int
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Proxy resolves and opens downloads.
type Proxy struct {
	upstream Upstream
	guard    Guard
	client   *http.Client
	maxHops  int
	logger   *slog.Logger
}

// New creates a Proxy. Redirects are never followed by the HTTP client;
// the proxy follows them itself so it controls which hops get credentials.
func New(up Upstream, guard Guard, cfg Config) *Proxy {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = DefaultMaxHops
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	client := &http.Client{}
	if cfg.HTTPClient != nil {
		c := *cfg.HTTPClient
		client = &c
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return &Proxy{
		upstream: up,
		guard:    guard,
		client:   client,
		maxHops:  cfg.MaxHops,
		logger:   cfg.Logger,
	}
}

// Resolve decides how req is served for the caller holding token. An empty
// token yields a public redirect without contacting GitHub.
func (p *Proxy) Resolve(ctx context.Context, req Request, token string) (Result, error) {
	tag := model.NormalizeTag(req.Tag)
	if token == "" {
		return Result{
			Mode:     ModePublicRedirect,
			Location: p.upstream.PublicDownloadURL(req.Owner, req.Repo, tag, req.Filename),
		}, nil
	}

	if err := p.guard.Check(ctx, req.Owner, req.Repo, token); err != nil {
		return Result{}, err
	}

	rel, err := p.upstream.GetReleaseByTag(ctx, token, req.Owner, req.Repo, tag)
	if err != nil {
		if errs.IsNotFound(err) {
			return Result{}, errs.Wrap(errs.KindNotFound, notFoundMessage, err)
		}
		return Result{}, err
	}
	asset, ok := rel.FindAsset(req.Filename)
	if !ok {
		return Result{}, errs.New(errs.KindNotFound, notFoundMessage)
	}

	if !req.Stream {
		return Result{Mode: ModeRedirect, Location: asset.BrowserDownloadURL}, nil
	}

	stream, err := p.Open(ctx, asset, token)
	if err != nil {
		return Result{}, err
	}
	return Result{Mode: ModeStream, Stream: stream}, nil
}

type hopKind int

const (
	hopRedirect hopKind = iota
	hopSuccess
	hopError
)

type hopOutcome struct {
	kind     hopKind
	location string
	stream   *Stream
	err      error
}

// Open streams asset starting at its API URL, following at most MaxHops
// redirects. The token is sent only to the API host.
func (p *Proxy) Open(ctx context.Context, asset model.Asset, token string) (*Stream, error) {
	target := asset.APIURL
	if target == "" {
		return nil, errs.New(errs.KindNotFound, notFoundMessage)
	}

	for hop := 1; hop <= p.maxHops; hop++ {
		out, err := p.hop(ctx, target, token)
		if err != nil {
			return nil, err
		}
		switch out.kind {
		case hopRedirect:
			p.logger.Debug("following download redirect", "hop", hop, "host", hostOf(out.location))
			target = out.location
		case hopSuccess:
			out.stream.Filename = asset.Name
			if out.stream.ContentType == "" {
				out.stream.ContentType = asset.ContentType
			}
			return out.stream, nil
		case hopError:
			return nil, out.err
		}
	}
	return nil, errs.FromStatus(http.StatusBadGateway, "too many redirects")
}

func (p *Proxy) hop(ctx context.Context, target, token string) (hopOutcome, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return hopOutcome{}, errs.Wrap(errs.KindUpstream, "invalid download URL", err)
	}
	req.Header.Set("Accept", "application/octet-stream")
	req.Header.Set("User-Agent", userAgent)
	if strings.EqualFold(req.URL.Host, p.upstream.APIHost()) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return hopOutcome{}, errs.Transport(err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		ct := resp.Header.Get("Content-Type")
		return hopOutcome{kind: hopSuccess, stream: &Stream{
			Body:          resp.Body,
			ContentLength: resp.ContentLength,
			ContentType:   ct,
		}}, nil

	case isRedirect(resp.StatusCode):
		defer resp.Body.Close()
		loc, err := resp.Location()
		if err != nil {
			if errors.Is(err, http.ErrNoLocation) {
				return hopOutcome{kind: hopError, err: errs.FromStatus(http.StatusBadGateway, "upstream redirect without location")}, nil
			}
			return hopOutcome{kind: hopError, err: errs.Wrap(errs.KindUpstream, "invalid upstream redirect", err)}, nil
		}
		return hopOutcome{kind: hopRedirect, location: loc.String()}, nil

	default:
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		msg := gjson.GetBytes(body, "message").String()
		return hopOutcome{kind: hopError, err: errs.FromStatus(resp.StatusCode, msg)}, nil
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
