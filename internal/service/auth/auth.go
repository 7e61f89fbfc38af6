// internal/service/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"jsonapi-service/internal/domain/user"
	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/pkg/session"
	"jsonapi-service/internal/pkg/token"
	"jsonapi-service/internal/resource"
	"jsonapi-service/internal/storage"
)

const (
	maxAttempts     = 5
	lockoutDuration = 15 * time.Minute
)

// AuthService signs users in and composes the token claims that the
// permission layer scopes queries with.
type AuthService struct {
	db       storage.Adapter
	sessions *session.Manager
	logger   *zap.Logger
	now      func() time.Time
}

func NewAuthService(db storage.Adapter, sessions *session.Manager, logger *zap.Logger) *AuthService {
	return &AuthService{db: db, sessions: sessions, logger: logger, now: time.Now}
}

// WithClock overrides the time source. Tests only.
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// SignIn validates credentials and returns the user plus a session token.
// Failed attempts are counted on the user row; too many in a short window
// lock the account out until the window passes.
func (s *AuthService) SignIn(ctx context.Context, req *user.SignInRequest) (*user.SignInResponse, error) {
	if req.Email == "" || req.Password == "" {
		return nil, xerrors.New(http.StatusUnauthorized, xerrors.ErrInvalidRequest, "Missing required fields")
	}

	rows, err := s.db.Read(ctx, storage.ReadRequest{
		Table: "users",
		Query: map[string]any{"email": req.Email},
		Limit: 1,
	})
	if err != nil {
		return nil, xerrors.Internal(err)
	}
	if len(rows) == 0 {
		return nil, xerrors.New(http.StatusUnauthorized, xerrors.ErrInvalidRequest, "User Not found")
	}
	u := userFromRow(rows[0])

	if !u.Active {
		return nil, xerrors.New(http.StatusUnauthorized, xerrors.ErrInvalidRequest, "User inactive")
	}
	if s.lockedOut(u) {
		return nil, xerrors.New(http.StatusUnauthorized, xerrors.ErrInvalidRequest, "Too many attempts")
	}

	if bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(req.Password)) != nil {
		s.recordFailure(ctx, u)
		return nil, xerrors.New(http.StatusUnauthorized, xerrors.ErrInvalidRequest, "Invalid Password")
	}
	if u.Attempts > 0 {
		s.resetAttempts(ctx, u.ID)
	}

	claims, err := s.buildClaims(ctx, u)
	if err != nil {
		return nil, err
	}
	tok, err := s.sessions.BuildToken(ctx, claims)
	if err != nil {
		s.logger.Error("token build failed", zap.Int64("user", u.ID), zap.Error(err))
		return nil, xerrors.Internal(err)
	}

	u.Password = ""
	return &user.SignInResponse{User: u, Token: tok}, nil
}

// buildClaims resolves the role name and the company/project scope sets the
// constraints operate on.
func (s *AuthService) buildClaims(ctx context.Context, u *user.User) (*token.Claims, error) {
	claims := &token.Claims{UserID: u.ID}

	if u.RoleID != 0 {
		roles, err := s.db.Read(ctx, storage.ReadRequest{
			Table: "roles",
			Query: map[string]any{"id": u.RoleID},
			Limit: 1,
		})
		if err != nil {
			return nil, xerrors.Internal(err)
		}
		if len(roles) == 0 {
			return nil, xerrors.Internal(fmt.Errorf("user %d references missing role %d", u.ID, u.RoleID))
		}
		if name, ok := roles[0]["name"].(string); ok {
			claims.Roles = []string{name}
		}
	}

	if u.CompanyID != 0 {
		claims.Companies = []int64{u.CompanyID}
		projects, err := s.db.Read(ctx, storage.ReadRequest{
			Table:  "projects",
			Query:  map[string]any{"company": u.CompanyID},
			Select: []string{"id"},
		})
		if err != nil {
			return nil, xerrors.Internal(err)
		}
		ids := make([]int64, 0, len(projects))
		for _, p := range projects {
			if id, ok := p["id"].(int64); ok {
				ids = append(ids, id)
			}
		}
		claims.Projects = ids
	}
	return claims, nil
}

func (s *AuthService) lockedOut(u *user.User) bool {
	if u.Attempts < maxAttempts {
		return false
	}
	return s.now().UnixMilli()-u.LastAttempt < lockoutDuration.Milliseconds()
}

func (s *AuthService) recordFailure(ctx context.Context, u *user.User) {
	_, err := s.db.Update(ctx, storage.UpdateRequest{
		Table: "users",
		Query: map[string]any{"id": u.ID},
		Data: storage.Row{
			"attempts":    u.Attempts + 1,
			"lastattempt": s.now().UnixMilli(),
		},
	})
	if err != nil {
		s.logger.Warn("recording failed attempt", zap.Int64("user", u.ID), zap.Error(err))
	}
}

func (s *AuthService) resetAttempts(ctx context.Context, id int64) {
	_, err := s.db.Update(ctx, storage.UpdateRequest{
		Table: "users",
		Query: map[string]any{"id": id},
		Data:  storage.Row{"attempts": 0},
	})
	if err != nil {
		s.logger.Warn("resetting attempts", zap.Int64("user", id), zap.Error(err))
	}
}

func userFromRow(row storage.Row) *user.User {
	u := &user.User{}
	if v, ok := row["id"].(int64); ok {
		u.ID = v
	}
	if v, ok := row["name"].(string); ok {
		u.Name = v
	}
	if v, ok := row["email"].(string); ok {
		u.Email = v
	}
	if v, ok := row["password"].(string); ok {
		u.Password = v
	}
	if v, ok := row["role"].(int64); ok {
		u.RoleID = v
	}
	if v, ok := row["company"].(int64); ok {
		u.CompanyID = v
	}
	if v, ok := row["attempts"].(int64); ok {
		u.Attempts = int(v)
	}
	if v, ok := row["lastattempt"].(int64); ok {
		u.LastAttempt = v
	}
	switch v := row["active"].(type) {
	case bool:
		u.Active = v
	case int64:
		u.Active = v != 0
	}
	return u
}

// ReissueFor mints a fresh token for a user whose record just changed, so
// stale claims are not kept alive for the rest of the session.
func (s *AuthService) ReissueFor(ctx context.Context, userID int64) error {
	rows, err := s.db.Read(ctx, storage.ReadRequest{
		Table: "users",
		Query: map[string]any{"id": userID},
		Limit: 1,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return xerrors.ErrNotFound
	}
	claims, err := s.buildClaims(ctx, userFromRow(rows[0]))
	if err != nil {
		return err
	}
	_, err = s.sessions.IssueToken(ctx, claims)
	return err
}

// ReissueForDocument is the patch-users hook: it extracts the patched
// user's id from the router's echoed document.
func (s *AuthService) ReissueForDocument(ctx context.Context, doc *resource.Document) error {
	id, ok := doc.ID.Int64()
	if !ok {
		return xerrors.ErrInvalidID
	}
	return s.ReissueFor(ctx, id)
}
