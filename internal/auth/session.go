package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionCookie is the cookie that carries the session token.
const SessionCookie = "pf_session"

// sessionIssuer identifies tokens minted by this backend.
const sessionIssuer = "pixfusion"

// ErrInvalidSession indicates a missing, malformed, or expired session token.
var ErrInvalidSession = errors.New("auth: invalid session")

// Sessions mints and verifies the signed session tokens stored in the
// session cookie. The token subject is the internal user ID.
type Sessions struct {
	secret []byte
	expiry time.Duration
}

// NewSessions constructs a Sessions signer. The secret must be non-trivial.
func NewSessions(secret string, expiry time.Duration) (*Sessions, error) {
	if len(strings.TrimSpace(secret)) < 16 {
		return nil, errors.New("auth: session secret must be at least 16 characters")
	}
	if expiry <= 0 {
		expiry = 7 * 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), expiry: expiry}, nil
}

// Expiry returns the configured session lifetime.
func (s *Sessions) Expiry() time.Duration { return s.expiry }

// Issue mints a signed token for the user ID.
func (s *Sessions) Issue(userID string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    sessionIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString(s.secret)
	if errSign != nil {
		return "", fmt.Errorf("auth: sign session token: %w", errSign)
	}
	return signed, nil
}

// Verify validates the token and returns the user ID it carries.
func (s *Sessions) Verify(token string) (string, error) {
	parsed, errParse := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(sessionIssuer), jwt.WithExpirationRequired())
	if errParse != nil || !parsed.Valid {
		return "", ErrInvalidSession
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", ErrInvalidSession
	}
	return claims.Subject, nil
}
