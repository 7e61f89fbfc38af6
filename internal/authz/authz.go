package authz

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/pkg/session"
	"jsonapi-service/internal/pkg/token"
	"jsonapi-service/internal/policy"
	"jsonapi-service/internal/resource"
	"jsonapi-service/internal/schema"
	"jsonapi-service/internal/storage"
)

// Authorizer runs the per-request permission pipeline: token validation,
// access-right check, then request adaptation (read scoping or write
// ownership check). Response filtering lives in filter.go and is applied by
// the handler after the router has produced a result.
type Authorizer struct {
	policy   *policy.Table
	schema   *schema.Descriptor
	sessions *session.Manager
	db       storage.Adapter
	logger   *zap.Logger
}

func New(p *policy.Table, desc *schema.Descriptor, sessions *session.Manager, db storage.Adapter, logger *zap.Logger) *Authorizer {
	return &Authorizer{policy: p, schema: desc, sessions: sessions, db: db, logger: logger}
}

// Decision is the outcome of Validate, carried through the rest of the
// request. NeedNewToken is set when the presented token is no longer the
// canonical one for the session; the handler reports it as relogin.
type Decision struct {
	Authenticated bool
	NeedNewToken  bool
	Action        policy.Action
	Entry         *session.Entry
}

// Claims returns the decoded token claims, nil on unauthenticated routes.
func (d *Decision) Claims() *token.Claims {
	if d == nil || d.Entry == nil {
		return nil
	}
	return d.Entry.Decoded
}

// Role returns the caller's primary role, empty when unauthenticated.
func (d *Decision) Role() string {
	if c := d.Claims(); c != nil {
		return c.Role()
	}
	return ""
}

// Validate checks the token and the caller's access rights for the routed
// model and method. Unauthenticated routes pass through with an empty
// decision. Every failure maps to 403.
func (a *Authorizer) Validate(ctx context.Context, table, method, rawToken string) (*Decision, error) {
	d := &Decision{Authenticated: !a.policy.IsUnauthenticated("/" + table)}
	if !d.Authenticated {
		return d, nil
	}

	if rawToken == "" {
		return nil, xerrors.New(http.StatusForbidden, xerrors.ErrMissingToken, xerrors.ErrMissingToken.Error())
	}
	entry, err := a.sessions.CheckSession(ctx, rawToken)
	if err != nil {
		a.logger.Warn("token validation failed", zap.String("model", table), zap.Error(err))
		return nil, xerrors.New(http.StatusForbidden, err, err.Error())
	}
	d.Entry = entry
	d.NeedNewToken = rawToken != entry.Token

	action, ok := policy.ParseMethodAccess(method)
	if !ok || !a.policy.Allows(table, d.Role(), action) {
		return nil, xerrors.Forbidden()
	}
	d.Action = action
	return d, nil
}

// AdaptRequest rewrites the request according to the caller's query
// constraint: reads get their filter scoped to the allowed id sets, updates
// and deletes get an ownership check against the scoped view. Roles without
// a constraint pass through untouched.
func (a *Authorizer) AdaptRequest(ctx context.Context, d *Decision, req *resource.Request) error {
	claims := d.Claims()
	if claims == nil {
		return nil
	}
	c := a.policy.GetQueryConstraint(d.Role(), req.Table)
	if c == nil {
		return nil
	}
	switch d.Action {
	case policy.ActionRead:
		return a.scopeRead(d, c, req)
	case policy.ActionUpdate, policy.ActionDelete:
		return a.checkWriteOwnership(ctx, d, c, req)
	}
	return nil
}
