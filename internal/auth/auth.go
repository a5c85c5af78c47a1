// Package auth issues and verifies the session token that identifies the
// authenticated principal on every protected request.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/gopikiran22001/ReWear/internal/apperr"
)

// CookieName is the http-only cookie carrying the session token.
const CookieName = "token"

const principalKey = "auth.principal"

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
}

type claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Issuer signs and parses HS256 session tokens.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	nowFn  func() time.Time
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl, nowFn: time.Now}
}

// WithClock overrides the time provider (used primarily in tests).
func (i *Issuer) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		i.nowFn = nowFn
	}
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue creates a signed token for p.
func (i *Issuer) Issue(p Principal) (string, error) {
	now := i.nowFn()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Name: p.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	})
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse validates raw and returns its principal. An empty token is
// Unauthenticated; a bad or expired one is Forbidden.
func (i *Issuer) Parse(raw string) (Principal, error) {
	if raw == "" {
		return Principal{}, apperr.Unauthenticated("access denied, please login first")
	}
	var c claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(i.nowFn))
	if err != nil {
		return Principal{}, apperr.Forbidden("invalid or expired token")
	}
	if c.Subject == "" {
		return Principal{}, apperr.Forbidden("invalid or expired token")
	}
	return Principal{UserID: c.Subject, DisplayName: c.Name}, nil
}

// SetCookie writes the session cookie.
func SetCookie(c *gin.Context, token string, ttl time.Duration, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, token, int(ttl.Seconds()), "/", "", secure, true)
}

// ClearCookie expires the session cookie.
func ClearCookie(c *gin.Context, secure bool) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(CookieName, "", -1, "/", "", secure, true)
}

// TokenFrom reads the session token from the request cookie.
func TokenFrom(c *gin.Context) string {
	token, err := c.Cookie(CookieName)
	if err != nil {
		return ""
	}
	return token
}

// Set stores p on the request context.
func Set(c *gin.Context, p Principal) {
	c.Set(principalKey, p)
}

// FromContext returns the principal stored by Require.
func FromContext(c *gin.Context) (Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return Principal{}, false
	}
	p, ok := v.(Principal)
	return p, ok
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}
