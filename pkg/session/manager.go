package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/mscno/ghdrive/pkg/model"
)

// CookieName is the name of the browser session cookie.
const CookieName = "ghdrive_session"

// Manager ties the Store and Codec together for the HTTP layer.
type Manager struct {
	store  Store
	codec  *Codec
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewManager creates a Manager. secure marks cookies Secure.
func NewManager(store Store, codec *Codec, ttl time.Duration, secure bool) *Manager {
	return &Manager{store: store, codec: codec, ttl: ttl, secure: secure, now: time.Now}
}

// Create stores a new session for token and returns it with its cookie.
// A previous session named by prevCookie is removed first.
func (m *Manager) Create(ctx context.Context, token string, id model.Identity, prevCookie string) (Session, *http.Cookie, error) {
	if prevCookie != "" {
		if prevID, err := m.codec.Decode(prevCookie); err == nil {
			_ = m.store.Delete(ctx, prevID)
		}
	}

	now := m.now()
	s := Session{
		ID:        uuid.NewString(),
		Token:     token,
		Login:     id.Login,
		UserID:    id.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.store.Put(ctx, s); err != nil {
		return Session{}, nil, fmt.Errorf("storing session: %w", err)
	}
	value, err := m.codec.Encode(s)
	if err != nil {
		_ = m.store.Delete(ctx, s.ID)
		return Session{}, nil, err
	}
	return s, m.cookie(value, s.ExpiresAt), nil
}

// Lookup returns the live session referenced by r's cookie. It never
// modifies the session.
func (m *Manager) Lookup(ctx context.Context, r *http.Request) (Session, error) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return Session{}, ErrNotFound
	}
	id, err := m.codec.Decode(c.Value)
	if err != nil {
		return Session{}, ErrNotFound
	}
	return m.store.Get(ctx, id)
}

// Destroy deletes the session referenced by r's cookie, if any, and
// returns a cookie that clears it in the browser.
func (m *Manager) Destroy(ctx context.Context, r *http.Request) (*http.Cookie, error) {
	if c, err := r.Cookie(CookieName); err == nil && c.Value != "" {
		if id, err := m.codec.Decode(c.Value); err == nil {
			if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("deleting session: %w", err)
			}
		}
	}
	return m.cookie("", time.Unix(0, 0)), nil
}

func (m *Manager) cookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	}
	return c
}
