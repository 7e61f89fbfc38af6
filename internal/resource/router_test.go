package resource

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/schema"
	"jsonapi-service/internal/storage"
	"jsonapi-service/internal/storage/storagetest"
)

func newRouter(t *testing.T) (*Router, *storagetest.Adapter) {
	t.Helper()
	desc, err := schema.Default()
	require.NoError(t, err)
	db := storagetest.New(desc)
	return NewRouter(db, desc, zap.NewNop()), db
}

func seedProjects(db *storagetest.Adapter) {
	db.Seed("companies",
		storage.Row{"id": int64(1), "name": "acme"},
		storage.Row{"id": int64(2), "name": "globex"},
	)
	db.Seed("projects",
		storage.Row{"id": int64(9), "name": "site", "company": int64(1)},
		storage.Row{"id": int64(10), "name": "app", "company": int64(2)},
		storage.Row{"id": int64(11), "name": "api", "company": int64(1)},
	)
}

func TestGetCollection(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Get(context.Background(), &Request{
		Table: "projects",
		Query: map[string]any{"company": "1"},
	})
	require.NoError(t, err)
	require.True(t, payload.Data.IsMany)
	require.Len(t, payload.Data.Many, 2)

	doc := payload.Data.Many[0]
	require.Equal(t, "projects", doc.Type)
	require.Equal(t, "site", doc.Attributes["name"])
	rel := doc.Relationships["company"]
	require.NotNil(t, rel)
	require.Equal(t, "companies", rel.Data.One.Type)
	require.True(t, rel.Data.One.ID.Equals("1"))

	require.Equal(t, int64(2), payload.Meta["totalrecords"])
	require.Equal(t, DefaultLimit, payload.Meta["limit"])
	require.Equal(t, 0, payload.Meta["skip"])
	require.Equal(t, map[string]any{"id": "ASC"}, payload.Meta["sort"])
}

func TestGetByID(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Get(context.Background(), &Request{Table: "projects", ID: "10"})
	require.NoError(t, err)
	require.False(t, payload.Data.IsMany)
	require.Equal(t, "app", payload.Data.One.Attributes["name"])
	require.True(t, payload.Data.One.ID.Equals("10"))
}

func TestGetByIDMissing(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	_, err := r.Get(context.Background(), &Request{Table: "projects", ID: "99"})
	require.Error(t, err)
	require.Equal(t, 404, xerrors.From(err).Status)
}

func TestGetByIDConflictsWithInjectedFilter(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	// A scoped filter may have already pinned the id; a differing path id
	// can never match.
	_, err := r.Get(context.Background(), &Request{
		Table: "projects",
		ID:    "10",
		Query: map[string]any{"id": int64(9)},
	})
	require.Error(t, err)
	require.Equal(t, 404, xerrors.From(err).Status)
}

func TestGetInvalidID(t *testing.T) {
	r, _ := newRouter(t)
	_, err := r.Get(context.Background(), &Request{Table: "projects", ID: "abc"})
	require.Error(t, err)
	require.Equal(t, 500, xerrors.From(err).Status)
	require.Equal(t, "invalid id", err.Error())
}

func TestGetUnknownTable(t *testing.T) {
	r, _ := newRouter(t)
	_, err := r.Get(context.Background(), &Request{Table: "widgets"})
	require.Error(t, err)
	require.Equal(t, 500, xerrors.From(err).Status)
	require.Equal(t, "Invalid Table widgets", err.Error())
}

func TestGetPagination(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Get(context.Background(), &Request{
		Table: "projects",
		Query: map[string]any{"limit": "1", "skip": "1", "sort": "id DESC"},
	})
	require.NoError(t, err)
	require.Len(t, payload.Data.Many, 1)
	require.True(t, payload.Data.Many[0].ID.Equals("10"))
	require.Equal(t, 1, payload.Meta["limit"])
	require.Equal(t, 1, payload.Meta["skip"])
	require.Equal(t, map[string]any{"id": "DESC"}, payload.Meta["sort"])
	require.Equal(t, int64(3), payload.Meta["totalrecords"])
}

func TestGetCollectionFilterRunsAfterFetch(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	// projects is not a column on companies, so the filter applies to the
	// populated linkage after the fetch.
	payload, err := r.Get(context.Background(), &Request{
		Table: "companies",
		Query: map[string]any{"projects": "9"},
	})
	require.NoError(t, err)
	require.Len(t, payload.Data.Many, 1)

	doc := payload.Data.Many[0]
	require.True(t, doc.ID.Equals("1"))
	rel := doc.Relationships["projects"]
	require.NotNil(t, rel)
	require.Len(t, rel.Data.Many, 2)
	require.Equal(t, "projects", rel.Data.Many[0].Type)

	// Pagination counts run on the storage predicate, before this filter.
	require.Equal(t, int64(2), payload.Meta["totalrecords"])
}

func TestPostCreatesAndEchoesIDs(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Post(context.Background(), &Request{
		Table: "projects",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "projects",
			Attributes: map[string]any{"name": "cli"},
			Relationships: map[string]*Relationship{
				"company": {Data: &RelationshipData{One: &Identifier{Type: "companies", ID: NewFlexID(2)}}},
			},
		}}},
	})
	require.NoError(t, err)
	require.False(t, payload.Data.IsMany)
	require.True(t, payload.Data.One.ID.Present())
	require.Equal(t, "cli", payload.Data.One.Attributes["name"])

	require.Len(t, db.Writes, 1)
	written := db.Writes[0].Data[0]
	require.Equal(t, "cli", written["name"])
	require.Equal(t, int64(2), written["company"])
}

func TestPostBatchKeepsArrayShape(t *testing.T) {
	r, _ := newRouter(t)

	payload, err := r.Post(context.Background(), &Request{
		Table: "companies",
		Body: &Envelope{Data: &PrimaryData{IsMany: true, Many: []*Document{
			{Type: "companies", Attributes: map[string]any{"name": "one"}},
			{Type: "companies", Attributes: map[string]any{"name": "two"}},
		}}},
	})
	require.NoError(t, err)
	require.True(t, payload.Data.IsMany)
	require.Len(t, payload.Data.Many, 2)
	require.True(t, payload.Data.Many[0].ID.Present())
	require.True(t, payload.Data.Many[1].ID.Present())
}

func TestPostRejectsForgedID(t *testing.T) {
	r, db := newRouter(t)

	_, err := r.Post(context.Background(), &Request{
		Table: "companies",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "companies",
			ID:         NewFlexID(5),
			Attributes: map[string]any{"name": "evil"},
		}}},
	})
	require.Error(t, err)
	require.Equal(t, "Invalid Request", err.Error())
	require.Empty(t, db.Writes)

	_, err = r.Post(context.Background(), &Request{
		Table: "companies",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "companies",
			Attributes: map[string]any{"id": 5, "name": "evil"},
		}}},
	})
	require.Error(t, err)
	require.Empty(t, db.Writes)
}

func TestPostEmptyBody(t *testing.T) {
	r, _ := newRouter(t)
	_, err := r.Post(context.Background(), &Request{Table: "companies"})
	require.Error(t, err)
	require.Equal(t, "Invalid Request", err.Error())

	_, err = r.Post(context.Background(), &Request{Table: "companies", Body: &Envelope{Data: &PrimaryData{}}})
	require.Error(t, err)
}

func TestPostCreatesEmbeddedLinkedResource(t *testing.T) {
	r, db := newRouter(t)

	payload, err := r.Post(context.Background(), &Request{
		Table: "projects",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "projects",
			Attributes: map[string]any{"name": "site"},
			Relationships: map[string]*Relationship{
				"company": {Data: &RelationshipData{One: &Identifier{
					Type:       "companies",
					Attributes: map[string]any{"name": "brand new"},
				}}},
			},
		}}},
	})
	require.NoError(t, err)
	require.True(t, payload.Data.One.ID.Present())

	companies := db.Rows("companies")
	require.Len(t, companies, 1)
	require.Equal(t, "brand new", companies[0]["name"])

	projects := db.Rows("projects")
	require.Len(t, projects, 1)
	require.Equal(t, companies[0]["id"], projects[0]["company"])
}

func TestPostLinksManyRelationship(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Post(context.Background(), &Request{
		Table: "companies",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "companies",
			Attributes: map[string]any{"name": "initech"},
			Relationships: map[string]*Relationship{
				"projects": {Data: &RelationshipData{IsMany: true, Many: []*Identifier{
					{Type: "projects", ID: NewFlexID(9)},
					{Type: "projects", ID: NewFlexID(10)},
				}}},
			},
		}}},
	})
	require.NoError(t, err)
	newID, ok := payload.Data.One.ID.Int64()
	require.True(t, ok)

	// The linked projects now belong to the created company; the one left
	// out keeps its owner. The linkage itself is not a column.
	for _, row := range db.Rows("projects") {
		switch row["id"] {
		case int64(9), int64(10):
			require.Equal(t, newID, row["company"])
		default:
			require.Equal(t, int64(1), row["company"])
		}
	}
	for _, row := range db.Rows("companies") {
		require.NotContains(t, row, "projects")
	}
}

func TestPatchLinksManyRelationship(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	_, err := r.Patch(context.Background(), &Request{
		Table: "companies",
		ID:    "1",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type: "companies",
			ID:   NewFlexID(1),
			Relationships: map[string]*Relationship{
				"projects": {Data: &RelationshipData{IsMany: true, Many: []*Identifier{
					{Type: "projects", ID: NewFlexID(10)},
				}}},
			},
		}}},
	})
	require.NoError(t, err)

	for _, row := range db.Rows("projects") {
		if row["id"] == int64(10) {
			require.Equal(t, int64(1), row["company"])
		}
	}
}

func TestPostAssignsIDToEmbeddedLinkage(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Post(context.Background(), &Request{
		Table: "companies",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "companies",
			Attributes: map[string]any{"name": "initech"},
			Relationships: map[string]*Relationship{
				"projects": {Data: &RelationshipData{IsMany: true, Many: []*Identifier{
					{Type: "projects", Attributes: map[string]any{"name": "fresh"}},
				}}},
			},
		}}},
	})
	require.NoError(t, err)

	ident := payload.Data.One.Relationships["projects"].Data.Many[0]
	createdID, ok := ident.ID.Int64()
	require.True(t, ok)

	projects := db.Rows("projects")
	require.Len(t, projects, 4)
	fresh := projects[len(projects)-1]
	require.Equal(t, createdID, fresh["id"])
	companyID, _ := payload.Data.One.ID.Int64()
	require.Equal(t, companyID, fresh["company"])
}

func TestPatchUpdatesRow(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Patch(context.Background(), &Request{
		Table: "projects",
		ID:    "9",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "projects",
			ID:         NewFlexID(9),
			Attributes: map[string]any{"name": "renamed"},
		}}},
	})
	require.NoError(t, err)
	require.True(t, payload.Data.One.ID.Equals("9"))
	require.Equal(t, "renamed", payload.Data.One.Attributes["name"])

	require.Len(t, db.Updates, 1)
	require.Equal(t, map[string]any{"id": int64(9)}, db.Updates[0].Query)
	require.Equal(t, "renamed", db.Updates[0].Data["name"])
}

func TestPatchRequiresID(t *testing.T) {
	r, _ := newRouter(t)
	_, err := r.Patch(context.Background(), &Request{Table: "projects"})
	require.Error(t, err)
	require.Equal(t, "no id specified for patch", err.Error())
}

func TestPatchBodyIDMustMatchPath(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	_, err := r.Patch(context.Background(), &Request{
		Table: "projects",
		ID:    "9",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type: "projects",
			ID:   NewFlexID(10),
		}}},
	})
	require.Error(t, err)
	require.Empty(t, db.Updates)

	_, err = r.Patch(context.Background(), &Request{
		Table: "projects",
		ID:    "9",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "projects",
			Attributes: map[string]any{"id": "10"},
		}}},
	})
	require.Error(t, err)
	require.Empty(t, db.Updates)
}

func TestPatchDropsNullPassword(t *testing.T) {
	r, db := newRouter(t)
	db.Seed("users", storage.Row{"id": int64(7), "name": "ann", "password": "hash"})

	_, err := r.Patch(context.Background(), &Request{
		Table: "users",
		ID:    "7",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "users",
			Attributes: map[string]any{"name": "anne", "password": nil},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, db.Updates, 1)
	require.NotContains(t, db.Updates[0].Data, "password")
	require.Equal(t, "anne", db.Updates[0].Data["name"])
}

func TestPatchDropsEmptiedOwnershipLink(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	_, err := r.Patch(context.Background(), &Request{
		Table: "projects",
		ID:    "9",
		Body: &Envelope{Data: &PrimaryData{One: &Document{
			Type:       "projects",
			Attributes: map[string]any{"name": "renamed"},
			Relationships: map[string]*Relationship{
				"company": {Data: nil},
			},
		}}},
	})
	require.NoError(t, err)
	require.Len(t, db.Updates, 1)
	require.NotContains(t, db.Updates[0].Data, "company")
}

func TestDelete(t *testing.T) {
	r, db := newRouter(t)
	seedProjects(db)

	payload, err := r.Delete(context.Background(), &Request{Table: "projects", ID: "9"})
	require.NoError(t, err)
	require.Nil(t, payload.Data)
	require.Equal(t, map[string]any{"success": true}, payload.Meta)

	require.Len(t, db.Destroys, 1)
	require.Len(t, db.Rows("projects"), 2)
}

func TestDeleteRequiresID(t *testing.T) {
	r, _ := newRouter(t)
	_, err := r.Delete(context.Background(), &Request{Table: "projects"})
	require.Error(t, err)
	require.Equal(t, "no id specified for deletion", err.Error())
}

func TestDeleteUnknownTable(t *testing.T) {
	r, _ := newRouter(t)
	_, err := r.Delete(context.Background(), &Request{Table: "widgets", ID: "1"})
	require.Error(t, err)
	require.Equal(t, "invalid table", err.Error())
}

func TestParseSortOrdersFields(t *testing.T) {
	terms, _ := parseSort(map[string]any{"b": "DESC", "a": "ASC", "c": "ASC"})
	require.Equal(t, []storage.Sort{
		{Field: "a"},
		{Field: "b", Desc: true},
		{Field: "c"},
	}, terms)
}
