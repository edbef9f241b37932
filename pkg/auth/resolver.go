// Package auth resolves who is calling and whether they may touch a
// repository.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/mscno/ghdrive/pkg/session"
)

// Source names where a credential came from.
type Source string

const (
	SourceBearer  Source = "bearer"
	SourceQuery   Source = "query"
	SourceSession Source = "session"
)

// Credential is a GitHub token presented by a caller. It must never be
// logged or stored beyond the session.
type Credential struct {
	Token  string
	Source Source
	// Session is set when Source is SourceSession.
	Session *session.Session
}

// SessionLookup finds the live session referenced by a request.
type SessionLookup interface {
	Lookup(ctx context.Context, r *http.Request) (session.Session, error)
}

type resolveOptions struct {
	queryParam string
}

// ResolveOption adjusts a single Resolve call.
type ResolveOption func(*resolveOptions)

// WithQueryToken accepts a token from the named query parameter when no
// Authorization header is present.
func WithQueryToken(param string) ResolveOption {
	return func(o *resolveOptions) { o.queryParam = param }
}

// Resolver extracts credentials from requests.
type Resolver struct {
	sessions SessionLookup
}

// NewResolver creates a Resolver. sessions may be nil when browser login
// is disabled.
func NewResolver(sessions SessionLookup) *Resolver {
	return &Resolver{sessions: sessions}
}

// Resolve returns the request's credential. The bearer header wins over a
// query token, which wins over the session cookie. It never modifies a
// session.
func (res *Resolver) Resolve(r *http.Request, opts ...ResolveOption) (Credential, bool) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	if token, ok := bearerToken(r); ok {
		return Credential{Token: token, Source: SourceBearer}, true
	}
	if o.queryParam != "" {
		if token := strings.TrimSpace(r.URL.Query().Get(o.queryParam)); token != "" {
			return Credential{Token: token, Source: SourceQuery}, true
		}
	}
	return res.Session(r)
}

// Session resolves only the browser session, ignoring any header.
func (res *Resolver) Session(r *http.Request) (Credential, bool) {
	if res.sessions == nil {
		return Credential{}, false
	}
	s, err := res.sessions.Lookup(r.Context(), r)
	if err != nil || s.Token == "" {
		return Credential{}, false
	}
	return Credential{Token: s.Token, Source: SourceSession, Session: &s}, true
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

type contextKey int

const credentialKey contextKey = iota

// WithCredential stores cred in ctx.
func WithCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey, cred)
}

// CredentialFrom returns the credential stored by WithCredential.
func CredentialFrom(ctx context.Context) (Credential, bool) {
	cred, ok := ctx.Value(credentialKey).(Credential)
	return cred, ok
}
