package resource

import (
	"context"
)

// linkedCreator creates an embedded relationship resource and returns its
// new id. The router implements it; tests substitute fakes.
type linkedCreator interface {
	createLinked(ctx context.Context, ident *Identifier) (int64, error)
}

// flattenRelationships converts the nested relationship representation into
// the foreign-key values storage expects: a linkage with an id becomes that
// id, one without is created first and linked by the new id, and a list
// becomes a list of ids. A relationship with null data flattens to nil.
func flattenRelationships(ctx context.Context, creator linkedCreator, rels map[string]*Relationship) (map[string]any, error) {
	out := make(map[string]any, len(rels))
	for name, rel := range rels {
		if rel == nil || rel.Data == nil || (rel.Data.One == nil && !rel.Data.IsMany) {
			out[name] = nil
			continue
		}
		if rel.Data.IsMany {
			ids := make([]int64, 0, len(rel.Data.Many))
			for _, ident := range rel.Data.Many {
				id, err := resolveLinkage(ctx, creator, ident)
				if err != nil {
					return nil, err
				}
				ids = append(ids, id)
			}
			out[name] = ids
			continue
		}
		id, err := resolveLinkage(ctx, creator, rel.Data.One)
		if err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, nil
}

func resolveLinkage(ctx context.Context, creator linkedCreator, ident *Identifier) (int64, error) {
	if id, ok := ident.ID.Int64(); ok {
		return id, nil
	}
	id, err := creator.createLinked(ctx, ident)
	if err != nil {
		return 0, err
	}
	// The identifier travels back in the echoed response, so the client
	// learns the id of the resource created for it.
	ident.ID = NewFlexID(id)
	return id, nil
}
