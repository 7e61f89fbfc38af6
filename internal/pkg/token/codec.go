package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"

	xerrors "jsonapi-service/internal/pkg/errors"
)

// RefreshWindow is how far ahead of issue time the advisory refresh
// deadline is set, in milliseconds.
const RefreshWindow = 600000

// DefaultTTL is the hard token validity when the caller does not ask for a
// specific one.
const DefaultTTL = 1800 * time.Second

// Codec signs and verifies session tokens. It is stateless; the session
// manager owns all lifecycle decisions.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewCodec(secret string, ttl time.Duration) *Codec {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Codec{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the codec clock. Tests only.
func (c *Codec) WithClock(now func() time.Time) *Codec {
	c.now = now
	return c
}

// TTL returns the configured hard validity window.
func (c *Codec) TTL() time.Duration {
	return c.ttl
}

// Issue signs the claims with a fresh jti, issue time, hard expiry and the
// advisory refresh deadline (rf = now + RefreshWindow, epoch ms). The input
// claims are mutated so the caller sees the stamped values.
func (c *Codec) Issue(claims *Claims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := c.now()
	expiry := now.Add(ttl)
	claims.RefreshBy = now.UnixMilli() + RefreshWindow
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(expiry)
	claims.NotBefore = jwt.NewNumericDate(now)
	claims.ID = ulid.Make().String()

	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("token: sign: %w", err)
	}
	return signed, expiry, nil
}

// Verify validates signature and hard expiry and returns the claims.
func (c *Codec) Verify(tokenString string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	}, jwt.WithTimeFunc(c.now))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidToken, err.Error())
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, xerrors.ErrInvalidToken
	}
	return claims, nil
}

// DecodeUnchecked decodes the claims without verifying the signature. Only
// best-effort attribution (audit trail) may use this; it must never feed an
// authorization decision.
func (c *Codec) DecodeUnchecked(tokenString string) (*Claims, error) {
	parser := jwt.NewParser()
	claims := &Claims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("token: decode: %w", err)
	}
	return claims, nil
}
