package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	sessdomain "jsonapi-service/internal/domain/session"
	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/pkg/token"
)

// KeyMinter issues the per-session crypto key handed back alongside a
// rotated token. Optional; without one rotations return only the token.
type KeyMinter interface {
	Mint(ctx context.Context, userID int64, tok string) (string, error)
}

// Manager orchestrates the token/session lifecycle: validation, caching,
// issuance and rotation. A token moves Unvalidated → Valid(cached) →
// Invalid; invalid tokens are evicted, never repaired.
type Manager struct {
	codec  *token.Codec
	store  *Store
	cache  *Cache
	keys   KeyMinter
	logger *zap.Logger
	now    func() time.Time
}

func NewManager(codec *token.Codec, store *Store, cache *Cache, keys KeyMinter, logger *zap.Logger) *Manager {
	return &Manager{
		codec:  codec,
		store:  store,
		cache:  cache,
		keys:   keys,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock overrides the manager clock. Tests only.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Cache exposes the process-local cache for wiring and tests.
func (m *Manager) Cache() *Cache {
	return m.cache
}

// ValidateActive reports whether the token still passes signature and
// expiry checks. A failure evicts any cache entry for it.
func (m *Manager) ValidateActive(rawToken string) bool {
	if _, err := m.codec.Verify(rawToken); err != nil {
		m.cache.Delete(rawToken)
		return false
	}
	return true
}

// CheckSession validates the presented token and resolves it to a session
// entry: cache first, then the most recent stored record matching
// (user, token). A token that verifies but has no stored record fails with
// ErrSessionNotFound.
func (m *Manager) CheckSession(ctx context.Context, rawToken string) (*Entry, error) {
	if rawToken == "" {
		return nil, xerrors.ErrMissingToken
	}
	if !m.ValidateActive(rawToken) {
		m.cache.Delete(rawToken)
		return nil, xerrors.ErrInvalidSession
	}
	if cached := m.cache.Get(rawToken); cached != nil {
		return cached, nil
	}
	decoded, err := m.codec.Verify(rawToken)
	if err != nil {
		return nil, xerrors.ErrInvalidSession
	}
	rec, err := m.store.LatestMatching(ctx, decoded.UserID, rawToken)
	if err != nil {
		m.logger.Error("session lookup failed", zap.Error(err))
		return nil, err
	}
	if rec == nil {
		return nil, xerrors.ErrSessionNotFound
	}
	entry := &Entry{Decoded: decoded, Token: rec.Token, UserID: rec.UserID}
	// The newest record for the user is the canonical session. When a newer
	// token superseded the presented one, the entry carries the canonical
	// token so callers can flag the client for relogin.
	if latest, err := m.store.LatestForUser(ctx, decoded.UserID); err == nil && latest != nil {
		entry.Token = latest.Token
	}
	m.cache.Set(rawToken, entry)
	return entry, nil
}

// Peek decodes the claims of a token without verifying it. Best-effort
// attribution only; never an authorization input.
func (m *Manager) Peek(rawToken string) (*token.Claims, error) {
	return m.codec.DecodeUnchecked(rawToken)
}

// BuildToken returns a token for the user: the stored one when it is still
// active, otherwise a freshly issued and persisted one.
func (m *Manager) BuildToken(ctx context.Context, claims *token.Claims) (string, error) {
	rec, err := m.store.LatestForUser(ctx, claims.UserID)
	if err != nil {
		return "", err
	}
	if rec != nil && m.ValidateActive(rec.Token) {
		return rec.Token, nil
	}
	return m.issue(ctx, claims)
}

// IssueToken always mints and persists a new token for the user, used when
// the account itself changed and the old token must be superseded.
func (m *Manager) IssueToken(ctx context.Context, claims *token.Claims) (string, error) {
	return m.issue(ctx, claims)
}

func (m *Manager) issue(ctx context.Context, claims *token.Claims) (string, error) {
	signed, expiry, err := m.codec.Issue(claims, 0)
	if err != nil {
		return "", err
	}
	rec := &sessdomain.Record{
		UserID:      claims.UserID,
		Token:       signed,
		TokenExpiry: expiry,
		RefreshBy:   claims.RefreshBy,
	}
	if err := m.store.Append(ctx, rec); err != nil {
		return "", err
	}
	return signed, nil
}

// RefreshSession resolves new credentials for a request whose refresh
// deadline has passed: a still-valid cached result first, then any stored
// session with rf ahead of now, and as a last resort a full rotation. The
// result is cached under the original presented token so repeated refresh
// checks inside the old token's validity window stay cheap.
func (m *Manager) RefreshSession(ctx context.Context, rawToken string, decoded *token.Claims) (*Credentials, error) {
	nowMillis := m.now().UnixMilli()
	cached := m.cache.Get(rawToken)
	if cached != nil && cached.Refresh != nil && cached.Refresh.RefreshBy > nowMillis {
		return cached.Refresh, nil
	}

	creds, err := m.activeCredentials(ctx, decoded, nowMillis)
	if err != nil {
		m.logger.Error("active session lookup failed", zap.Error(err))
	}
	if creds == nil {
		creds, err = m.rotate(ctx, decoded)
		if err != nil {
			return nil, err
		}
	}

	if cached == nil {
		cached = &Entry{Decoded: decoded, Token: rawToken, UserID: decoded.UserID}
	}
	cached.Refresh = creds
	m.cache.Set(rawToken, cached)
	return creds, nil
}

func (m *Manager) activeCredentials(ctx context.Context, decoded *token.Claims, nowMillis int64) (*Credentials, error) {
	rec, err := m.store.ActiveForUser(ctx, decoded.UserID, nowMillis)
	if err != nil || rec == nil {
		return nil, err
	}
	return &Credentials{Token: rec.Token, RefreshBy: rec.RefreshBy}, nil
}

// rotate strips the volatile claims, reissues and persists a new session
// record. The superseded record stays in place; only recency makes the new
// one canonical.
func (m *Manager) rotate(ctx context.Context, decoded *token.Claims) (*Credentials, error) {
	next := *decoded
	next.StripVolatile()
	signed, err := m.issue(ctx, &next)
	if err != nil {
		return nil, err
	}
	creds := &Credentials{Token: signed, RefreshBy: next.RefreshBy}
	if m.keys != nil {
		key, err := m.keys.Mint(ctx, next.UserID, signed)
		if err != nil {
			m.logger.Warn("crypto key mint failed on rotation", zap.Error(err))
		} else {
			creds.Key = key
		}
	}
	return creds, nil
}
