package authz

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/policy"
	"jsonapi-service/internal/resource"
	"jsonapi-service/internal/storage"
)

// resolveConstraintField maps a constraint onto an actual model attribute.
// The claim-aligned name is tried first, then the declared fallback; a miss
// on both is a configuration error, not a client error.
func (a *Authorizer) resolveConstraintField(table string, c *policy.Constraint) (string, error) {
	t := a.schema.Table(table)
	if t == nil {
		return "", xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "Invalid Table "+table)
	}
	if t.HasAttribute(c.ClaimField) {
		return c.ClaimField, nil
	}
	if t.HasAttribute(c.ModelField) {
		return c.ModelField, nil
	}
	return "", xerrors.Internal(fmt.Errorf(
		"%q has no attribute %q nor %q", table, c.ClaimField, c.ModelField))
}

// scopeRead rewrites the read filter so it can only select rows inside the
// caller's allowed id set. An absent filter gets the full allowed list; a
// present one is intersected with it; an empty intersection falls back to
// the full allowed list. The filter never becomes empty.
func (a *Authorizer) scopeRead(d *Decision, c *policy.Constraint, req *resource.Request) error {
	field, err := a.resolveConstraintField(req.Table, c)
	if err != nil {
		return err
	}
	claims := d.Claims()
	allowed, ok := claims.ScopeValues(c.ClaimField)
	if !ok {
		return xerrors.Internal(fmt.Errorf("token carries no %q claim for scoping %q", c.ClaimField, req.Table))
	}

	if req.Query == nil {
		req.Query = map[string]any{}
	}
	requested, present := req.Query[field]
	if !present {
		req.Query[field] = allowed
	} else {
		req.Query[field] = intersectOrFallback(requested, allowed)
	}

	if req.Table == "users" && !a.policy.IsPrivileged(d.Role()) {
		req.Query["role"] = a.policy.VisibleRoleIDs()
	}
	a.logger.Debug("scoped read query",
		zap.String("model", req.Table), zap.String("field", field), zap.Any("query", req.Query))
	return nil
}

// intersectOrFallback narrows the requested values to the allowed set,
// falling back to the whole allowed set rather than producing an
// all-excluding empty filter.
func intersectOrFallback(requested any, allowed []int64) any {
	switch vals := requested.(type) {
	case []any, []int64:
		kept := make([]int64, 0)
		for _, v := range resource.IntValues(vals) {
			if containsInt(allowed, v) {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			return allowed
		}
		return kept
	default:
		if n, ok := asInt64(requested); ok && containsInt(allowed, n) {
			return requested
		}
		return allowed
	}
}

// checkWriteOwnership verifies the target row is visible under the caller's
// scoped view before an update or delete may touch it. An invisible row is
// reported as a permission failure, not a missing one.
func (a *Authorizer) checkWriteOwnership(ctx context.Context, d *Decision, c *policy.Constraint, req *resource.Request) error {
	id, ok := targetID(req)
	if !ok {
		return nil
	}
	field, err := a.resolveConstraintField(req.Table, c)
	if err != nil {
		return err
	}
	allowed, okClaim := d.Claims().ScopeValues(c.ClaimField)
	if !okClaim {
		return xerrors.Internal(fmt.Errorf("token carries no %q claim for gating %q", c.ClaimField, req.Table))
	}

	// When the constraint resolves to the id column itself, both predicates
	// land on the same key; membership decides directly.
	if field == "id" {
		if !containsInt(allowed, id) {
			a.logger.Warn("write outside caller scope rejected",
				zap.String("model", req.Table), zap.Int64("id", id), zap.String("field", field))
			return xerrors.Forbidden()
		}
		return nil
	}

	rows, err := a.db.Read(ctx, storage.ReadRequest{
		Table: req.Table,
		Query: map[string]any{"id": id, field: allowed},
		Limit: 1,
	})
	if err != nil {
		return xerrors.Internal(err)
	}
	if len(rows) == 0 {
		a.logger.Warn("write outside caller scope rejected",
			zap.String("model", req.Table), zap.Int64("id", id), zap.String("field", field))
		return xerrors.Forbidden()
	}
	return nil
}

// targetID extracts the row a write aims at, from the body when present and
// from the path otherwise. Deletes carry no body.
func targetID(req *resource.Request) (int64, bool) {
	if req.Body != nil && req.Body.Data != nil && req.Body.Data.One != nil {
		if id, ok := req.Body.Data.One.ID.Int64(); ok {
			return id, true
		}
	}
	if req.ID != "" {
		if id, err := strconv.ParseInt(req.ID, 10, 64); err == nil {
			return id, true
		}
	}
	return 0, false
}

func containsInt(set []int64, v int64) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		return parsed, err == nil
	}
	return 0, false
}
