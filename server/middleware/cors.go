package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"

	"github.com/rs/cors"
)

type corsLogger struct {
	logger *slog.Logger
}

func (c *corsLogger) Printf(format string, args ...interface{}) {
	c.logger.Debug(fmt.Sprintf("CORS: %s", fmt.Sprintf(format, args...)))
}

// WithCORS allows browser calls from origins. Listed origins may send the
// session cookie; "*" allows any origin without credentials, so only bearer
// tokens work cross-origin. Location is exposed so the frontend can read
// download redirects.
func WithCORS(logger *slog.Logger, origins []string) func(http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
		ExposedHeaders: []string{"Location", "Content-Disposition", "Content-Length"},
		Logger:         &corsLogger{logger: logger},
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		opts.AllowedOrigins = []string{"*"}
	} else {
		opts.AllowedOrigins = origins
		opts.AllowCredentials = true
	}
	c := cors.New(opts)
	return func(h http.Handler) http.Handler {
		return c.Handler(h)
	}
}
