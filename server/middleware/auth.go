package middleware

import (
	"net/http"

	"github.com/mscno/ghdrive/pkg/auth"
	"github.com/mscno/ghdrive/pkg/errs"
)

// RequireCredential rejects requests without a bearer token or session
// and stores the credential in the request context.
func RequireCredential(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := resolver.Resolve(r)
			if !ok {
				err := errs.AuthMissing()
				WriteError(w, err.HTTPStatus(), err.Message)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCredential(r.Context(), cred)))
		})
	}
}

// RequireSession is RequireCredential restricted to browser sessions.
func RequireSession(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, ok := resolver.Session(r)
			if !ok {
				WriteError(w, http.StatusUnauthorized, "not logged in")
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithCredential(r.Context(), cred)))
		})
	}
}
