package authz

import (
	"jsonapi-service/internal/pkg/token"
	"jsonapi-service/internal/policy"
	"jsonapi-service/internal/resource"
)

// FilterResponse clamps a router result to what the caller's claims are
// allowed to see. It mutates the payload in place and is only invoked for
// roles the policy flags for filtering.
func (a *Authorizer) FilterResponse(claims *token.Claims, payload *resource.Payload) {
	if claims == nil || payload == nil || payload.Data == nil {
		return
	}
	docs := payload.Data.Documents()
	if len(docs) == 0 {
		return
	}
	for _, doc := range docs {
		filterRelationships(claims, doc)
	}
	a.filterSensitive(claims, docs)
}

// filterRelationships replaces linked id sets with the ids the token claims
// for that type. A joined read can surface ids outside the caller's scope
// (a company listing all its projects when the caller holds only one); the
// claim set is the authoritative view. The roles relationship carries role
// names in claims, not ids, and is left alone.
func filterRelationships(claims *token.Claims, doc *resource.Document) {
	for name, rel := range doc.Relationships {
		if name == "roles" || rel == nil || rel.Data == nil {
			continue
		}
		if rel.Data.IsMany {
			if len(rel.Data.Many) == 0 {
				continue
			}
			linkType := rel.Data.Many[0].Type
			allowed, ok := claims.ScopeValues(linkType)
			if !ok {
				continue
			}
			replaced := make([]*resource.Identifier, len(allowed))
			for i, id := range allowed {
				replaced[i] = &resource.Identifier{Type: linkType, ID: resource.NewFlexID(id)}
			}
			rel.Data.Many = replaced
			continue
		}
		if rel.Data.One == nil {
			continue
		}
		linkType := rel.Data.One.Type
		allowed, ok := claims.ScopeValues(linkType)
		if !ok {
			continue
		}
		if id, numeric := rel.Data.One.ID.Int64(); !numeric || !containsInt(allowed, id) {
			rel.Data.One = nil
		}
	}
}

// filterSensitive strips the credentials attribute from credentials records
// unless the caller's role holds the read_sensitive right.
func (a *Authorizer) filterSensitive(claims *token.Claims, docs []*resource.Document) {
	role := claims.Role()
	for _, doc := range docs {
		if doc.Type != "credentials" {
			continue
		}
		if !a.policy.Allows(doc.Type, role, policy.ActionReadSensitive) {
			delete(doc.Attributes, "credentials")
		}
	}
}

// NeedsResponseFilter exposes the policy's filter-role check to handlers.
func (a *Authorizer) NeedsResponseFilter(role string) bool {
	return a.policy.NeedsResponseFilter(role)
}
