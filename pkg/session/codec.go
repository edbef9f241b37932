package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "ghdrive"

// ErrCookieInvalid is returned when a session cookie is malformed, forged
// or expired.
var ErrCookieInvalid = errors.New("session cookie is invalid or expired")

// Codec signs and verifies session cookies. The cookie carries only the
// session id and expiry.
type Codec struct {
	secret []byte
	now    func() time.Time
}

// NewCodec creates a Codec. An empty secret is replaced with a random one,
// so cookies do not survive a restart.
func NewCodec(secret string) (*Codec, error) {
	key := []byte(secret)
	if len(key) == 0 {
		random, err := RandomHex(32)
		if err != nil {
			return nil, fmt.Errorf("generating session secret: %w", err)
		}
		key = []byte(random)
	}
	return &Codec{secret: key, now: time.Now}, nil
}

// Encode returns the signed cookie value for s.
func (c *Codec) Encode(s Session) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        s.ID,
		Subject:   s.Login,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
		ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign session cookie: %w", err)
	}
	return signed, nil
}

// Decode verifies value and returns the session id it names.
func (c *Codec) Decode(value string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(value, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !token.Valid {
		return "", ErrCookieInvalid
	}
	if claims.ID == "" {
		return "", ErrCookieInvalid
	}
	return claims.ID, nil
}

// RandomHex returns n random bytes hex encoded.
func RandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
