// Package session issues and verifies the signed cookie that records paid access.
package session

import (
	"crypto/rand"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	CookieName = "bizcheck_session"
	DefaultTTL = 30 * 24 * time.Hour
	issuer     = "bizcheck"
)

var ErrInvalidToken = errors.New("invalid session token")

// Claims carried by the session cookie.
type Claims struct {
	Paid          bool   `json:"paid"`
	PaymentIntent string `json:"payment_intent,omitempty"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

type Option func(*Manager)

func WithTTL(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.ttl = d
		}
	}
}

// WithSecureCookie marks issued cookies Secure.
func WithSecureCookie(secure bool) Option {
	return func(m *Manager) { m.secure = secure }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager signs tokens with secret. An empty secret gets a random one, so
// sessions do not survive a restart.
func NewManager(secret string, opts ...Option) *Manager {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	m := &Manager{secret: key, ttl: DefaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Issue returns a signed token granting paid access through intentID.
func (m *Manager) Issue(intentID string) (string, error) {
	now := m.now()
	claims := &Claims{
		Paid:          true,
		PaymentIntent: intentID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

func (m *Manager) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// FromRequest returns the claims of the request's session cookie, or nil when
// the cookie is absent or does not verify.
func (m *Manager) FromRequest(r *http.Request) *Claims {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	claims, err := m.Parse(c.Value)
	if err != nil {
		return nil
	}
	return claims
}

func (m *Manager) HasPaid(r *http.Request) bool {
	claims := m.FromRequest(r)
	return claims != nil && claims.Paid
}

// SetCookie issues a token for intentID and attaches it to w.
func (m *Manager) SetCookie(w http.ResponseWriter, intentID string) error {
	token, err := m.Issue(intentID)
	if err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  m.now().Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}
