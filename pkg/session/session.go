// Package session keeps browser login sessions.
//
// The GitHub token lives only in the server-side Store. The browser holds a
// signed cookie whose jti names the session; the store stays the source of
// truth, so deleting a session invalidates the cookie immediately.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a session does not exist or has expired.
var ErrNotFound = errors.New("session not found or expired")

// Session is an authenticated browser login.
type Session struct {
	ID        string
	Token     string
	Login     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is no longer usable at now.
func (s Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Store persists sessions for the lifetime of the process.
type Store interface {
	Get(ctx context.Context, id string) (Session, error)
	Put(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
}
