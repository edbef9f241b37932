// Package server exposes the gateway over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-michi/michi"
	"github.com/mscno/ghdrive/pkg/auth"
	"github.com/mscno/ghdrive/pkg/bucket"
	"github.com/mscno/ghdrive/pkg/config"
	"github.com/mscno/ghdrive/pkg/download"
	"github.com/mscno/ghdrive/pkg/identity"
	"github.com/mscno/ghdrive/pkg/session"
	"github.com/mscno/ghdrive/pkg/settings"
	"github.com/mscno/ghdrive/pkg/upstream"
	"github.com/mscno/ghdrive/server/middleware"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/time/rate"
)

const (
	maxHeaderBytes    = 1 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	shutdownTimeout   = 30 * time.Second
)

// Server is the gateway HTTP server. There are no read or write timeouts
// so multi-gigabyte transfers are not cut off.
type Server struct {
	Server *http.Server
	Router *michi.Router

	cfg        *config.Config
	logger     *slog.Logger
	handler    *Handler
	resolver   *auth.Resolver
	metrics    *Metrics
	limiter    *middleware.RateLimiter
	sessions   *session.MemoryStore
	middleware []func(http.Handler) http.Handler
}

type options struct {
	httpClient *http.Client
}

// Option configures New.
type Option func(*options)

// WithHTTPClient sets the client used for all GitHub traffic.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New wires every component from cfg.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	gh, err := upstream.New(upstream.Config{
		APIURL:     cfg.GitHubAPIURL,
		UploadURL:  cfg.GitHubUploadURL,
		WebURL:     cfg.GitHubWebURL,
		Timeout:    cfg.UpstreamTimeout,
		HTTPClient: o.httpClient,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}

	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		logger.Warn("SESSION_SECRET not set, sessions will not survive a restart")
	}
	store := session.NewMemoryStore(0, session.WithLogger(logger))
	sessions := session.NewManager(store, codec, cfg.SessionTTL, cfg.SessionCookieSecure)

	identities := identity.NewCache(gh, cfg.IdentityCacheTTL, identity.WithLogger(logger))
	guard := auth.NewGuard(auth.Policy{Owner: cfg.RestrictOwner, Repo: cfg.RestrictRepo}, identities, logger)
	resolver := auth.NewResolver(sessions)
	oauth := auth.NewGithubProvider(auth.OAuthConfig{
		ClientID:     cfg.OAuthClientID,
		ClientSecret: cfg.OAuthClientSecret,
		RedirectURL:  cfg.CallbackURL(),
		AuthURL:      cfg.OAuthAuthURL,
		TokenURL:     cfg.OAuthTokenURL,
		HTTPClient:   o.httpClient,
	})
	metrics := NewMetrics()

	s := &Server{
		Router:   michi.NewRouter(),
		cfg:      cfg,
		logger:   logger,
		resolver: resolver,
		metrics:  metrics,
		sessions: store,
		handler: &Handler{
			cfg:        cfg,
			logger:     logger,
			resolver:   resolver,
			guard:      guard,
			identities: identities,
			users:      gh,
			oauth:      oauth,
			sessions:   sessions,
			buckets:    bucket.New(gh, logger),
			downloads: download.New(gh, guard, download.Config{
				MaxHops:    cfg.MaxRedirectHops,
				HTTPClient: o.httpClient,
				Logger:     logger,
			}),
			settings: settings.New(gh, logger),
			metrics:  metrics,
		},
	}
	s.limiter = middleware.NewRateLimiter(logger, middleware.IPAddressKeyFunc,
		rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst,
		middleware.WithSkipper(func(r *http.Request) bool {
			return r.URL.Path == "/api/health" || r.URL.Path == "/metrics"
		}))

	s.Use(
		middleware.WithRecovery(logger),
		middleware.WithLogger(logger),
		middleware.WithCORS(logger, cfg.AllowedOrigins),
		s.limiter.Limit,
	)
	s.routes()

	s.Server = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           h2c.NewHandler(s.Handler(), &http2.Server{}),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	logger.Info("server configured",
		"oauth", oauth.Enabled(),
		"restricted", cfg.Restricted(),
		"max_upload_bytes", cfg.MaxUploadBytes)
	return s, nil
}

// Use adds middleware wrapped around every route, including requests that
// match none.
func (s *Server) Use(mw ...func(http.Handler) http.Handler) {
	s.middleware = append(s.middleware, mw...)
}

func (s *Server) routes() {
	h := s.handler
	authed := middleware.RequireCredential(s.resolver)
	sessionOnly := middleware.RequireSession(s.resolver)
	uploadLimit := middleware.WithBodyLimit(s.cfg.MaxUploadBytes + multipartSlack)

	s.handle("GET /{$}", "root", http.HandlerFunc(h.Root))
	s.handle("GET /api/health", "health", http.HandlerFunc(h.Health))
	s.Router.Handle("GET /metrics", s.metrics.Handler())

	s.handle("POST /api/upload", "upload", uploadLimit(authed(http.HandlerFunc(h.Upload))))
	s.handle("GET /api/list/{owner}/{repo}", "list", authed(http.HandlerFunc(h.List)))
	s.handle("GET /api/delete-asset", "delete", authed(http.HandlerFunc(h.DeleteAssetLegacy)))
	s.handle("DELETE /api/assets/{owner}/{repo}/{assetId}", "delete", authed(http.HandlerFunc(h.DeleteAsset)))
	s.handle("GET /api/download/{owner}/{repo}/{tag}/{filename}", "download", http.HandlerFunc(h.Download))

	s.handle("GET /auth/login", "login", http.HandlerFunc(h.Login))
	s.handle("GET /auth/callback", "callback", http.HandlerFunc(h.Callback))
	s.handle("POST /auth/logout", "logout", http.HandlerFunc(h.Logout))
	s.handle("GET /api/me", "me", sessionOnly(http.HandlerFunc(h.Me)))
	s.handle("GET /api/config", "config", sessionOnly(http.HandlerFunc(h.GetConfig)))
	s.handle("PUT /api/config", "config", sessionOnly(http.HandlerFunc(h.SaveConfig)))
	s.handle("POST /api/config", "config", sessionOnly(http.HandlerFunc(h.SaveConfig)))
}

func (s *Server) handle(pattern, route string, h http.Handler) {
	s.Router.Handle(pattern, s.metrics.Instrument(route, h))
}

// Handler is the router wrapped in the server middleware.
func (s *Server) Handler() http.Handler {
	return applyMiddleware(s.Router, s.middleware...)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Server.Handler.ServeHTTP(w, r)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.Server.Addr)
		errCh <- s.Server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := s.Shutdown(shutdownCtx)
		<-errCh
		return err
	}
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Debug("shutting down server")
	defer s.Close()
	if err := s.Server.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down server", "error", err)
		return err
	}
	return nil
}

// Close stops background goroutines. It does not close listeners.
func (s *Server) Close() {
	s.limiter.Stop()
	s.sessions.Stop()
}

func applyMiddleware(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	// The first middleware in the slice is the outermost.
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
