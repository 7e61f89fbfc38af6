package resource

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/schema"
	"jsonapi-service/internal/storage"
)

// Router is the generic CRUD translator between the JSON-API wire shape and
// the tabular storage model. It owns no policy; the authorization layer has
// already rewritten the request by the time a method here runs.
type Router struct {
	db     storage.Adapter
	schema *schema.Descriptor
	logger *zap.Logger
}

func NewRouter(db storage.Adapter, desc *schema.Descriptor, logger *zap.Logger) *Router {
	return &Router{db: db, schema: desc, logger: logger}
}

// Request is one routed operation. Query holds raw query parameters; the
// router normalizes them itself. Body is nil for reads and deletes.
type Request struct {
	Table string
	ID    string
	Query map[string]any
	Body  *Envelope
}

// DefaultLimit bounds list reads that do not ask for a page size.
const DefaultLimit = 100

type postFilter struct {
	key string
	ids []int64
}

// Get reads one row by id or a filtered, paginated collection.
func (r *Router) Get(ctx context.Context, req *Request) (*Payload, error) {
	t := r.schema.Table(req.Table)
	if t == nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "Invalid Table "+req.Table)
	}
	query := NormalizeQuery(req.Query)
	if query == nil {
		query = map[string]any{}
	}

	// Indirect collections are not columns, so their filters cannot reach
	// the storage predicate; they run in memory after the fetch. Pagination
	// is computed before these filters apply, a documented limitation.
	var populations []string
	var filters []postFilter
	for _, f := range t.Collections() {
		if val, ok := query[f.Name]; ok && f.Via != "" {
			filters = append(filters, postFilter{key: f.Name, ids: IntValues(val)})
			delete(query, f.Name)
		}
		populations = append(populations, f.Name)
	}

	limit := intOrDefault(query["limit"], DefaultLimit)
	skip := intOrDefault(query["skip"], 0)
	sort, sortEcho := parseSort(query["sort"])
	delete(query, "limit")
	delete(query, "skip")
	delete(query, "sort")
	delete(query, "populate")

	filter := query
	if req.ID != "" {
		idNum, err := strconv.ParseInt(req.ID, 10, 64)
		if err != nil {
			return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidID, "invalid id")
		}
		if existing, ok := filter["id"]; !ok {
			filter["id"] = idNum
		} else if n, isInt := existing.(int64); !isInt || n != idNum {
			return nil, xerrors.NotFound()
		}
	}

	count, err := r.db.Count(ctx, storage.CountRequest{Table: t.Name, Query: filter})
	if err != nil {
		r.logger.Error("count failed", zap.String("table", t.Name), zap.Error(err))
		return nil, xerrors.Internal(err)
	}

	var rows []storage.Row
	if count > 0 {
		rows, err = r.db.ReadSort(ctx, storage.ReadSortRequest{
			Table:    t.Name,
			Query:    filter,
			Sort:     sort,
			Skip:     skip,
			Limit:    limit,
			Populate: populations,
		})
		if err != nil {
			r.logger.Error("find failed", zap.String("table", t.Name), zap.Error(err))
			return nil, xerrors.Internal(err)
		}
	}

	rows = applyPostFilters(rows, filters)

	if req.ID != "" && len(rows) == 0 {
		return nil, xerrors.NotFound()
	}

	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, r.toDocument(t, row))
	}

	data := &PrimaryData{Many: docs, IsMany: true}
	if req.ID != "" {
		data = &PrimaryData{One: docs[0]}
	}
	return &Payload{
		Status: http.StatusOK,
		Data:   data,
		Meta: map[string]any{
			"query":        filter,
			"limit":        limit,
			"skip":         skip,
			"sort":         sortEcho,
			"totalrecords": count,
		},
	}, nil
}

// applyPostFilters keeps only rows whose populated collection contains at
// least one of the requested ids, per filter.
func applyPostFilters(rows []storage.Row, filters []postFilter) []storage.Row {
	for _, f := range filters {
		var kept []storage.Row
		for _, row := range rows {
			related, _ := row[f.key].([]int64)
			if containsAny(related, f.ids) {
				kept = append(kept, row)
			}
		}
		rows = kept
	}
	return rows
}

func containsAny(haystack, needles []int64) bool {
	for _, h := range haystack {
		for _, n := range needles {
			if h == n {
				return true
			}
		}
	}
	return false
}

// toDocument splits a raw row into wire attributes and relationships.
// Scalar columns become attributes; reference columns become relationships
// with pluralized type names.
func (r *Router) toDocument(t *schema.Table, row storage.Row) *Document {
	doc := &Document{
		Type:          t.Name,
		Attributes:    map[string]any{},
		Relationships: map[string]*Relationship{},
	}
	if id, ok := row["id"].(int64); ok {
		doc.ID = NewFlexID(id)
	}
	for col, val := range row {
		if col == "id" {
			continue
		}
		f, known := t.Field(col)
		switch {
		case known && f.Kind == schema.HasMany:
			ids, _ := val.([]int64)
			if len(ids) == 0 {
				continue
			}
			relType := r.schema.TypeName(f.Ref)
			linkages := make([]*Identifier, len(ids))
			for i, id := range ids {
				linkages[i] = &Identifier{Type: relType, ID: NewFlexID(id)}
			}
			doc.Relationships[col] = &Relationship{Data: &RelationshipData{Many: linkages, IsMany: true}}
		case known && f.Kind == schema.BelongsTo:
			id, ok := val.(int64)
			if !ok {
				continue
			}
			doc.Relationships[col] = &Relationship{
				Data: &RelationshipData{One: &Identifier{Type: r.schema.TypeName(f.Ref), ID: NewFlexID(id)}},
			}
		default:
			doc.Attributes[col] = val
		}
	}
	return doc
}

// Post creates one document or a batch. Payloads carrying ids are rejected:
// creation must never forge identities. The response echoes the request
// body with the assigned ids, rather than re-reading from storage.
func (r *Router) Post(ctx context.Context, req *Request) (*Payload, error) {
	t := r.schema.Table(req.Table)
	if t == nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "Invalid Table "+req.Table)
	}
	if req.Body == nil || req.Body.Data.Empty() {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "Invalid Request")
	}
	incoming := req.Body.Data.Documents()
	for _, doc := range incoming {
		if doc.ID.Present() || doc.Attributes["id"] != nil {
			r.logger.Error("attempt to force ids inside post", zap.String("table", t.Name))
			return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "Invalid Request")
		}
	}

	echoed := make([]*Document, len(incoming))
	data := make([]storage.Row, len(incoming))
	for i, doc := range incoming {
		echoed[i] = doc.Clone()
		attrs := make(storage.Row, len(doc.Attributes))
		for k, v := range echoed[i].Attributes {
			attrs[k] = v
		}
		if len(doc.Relationships) > 0 {
			flattened, err := flattenRelationships(ctx, r, echoed[i].Relationships)
			if err != nil {
				return nil, xerrors.From(err)
			}
			for k, v := range flattened {
				attrs[k] = v
			}
		}
		data[i] = attrs
	}

	created, err := r.db.Write(ctx, storage.WriteRequest{Table: t.Name, Data: data})
	if err != nil {
		r.logger.Error("create failed", zap.String("table", t.Name), zap.Error(err))
		return nil, xerrors.Internal(err)
	}
	for i, row := range created {
		if i >= len(echoed) {
			break
		}
		if id, ok := row["id"].(int64); ok {
			echoed[i].ID = NewFlexID(id)
			if echoed[i].Type == "" {
				echoed[i].Type = t.Name
			}
		}
	}

	if req.Body.Data.IsMany {
		return &Payload{Status: http.StatusOK, Data: &PrimaryData{Many: echoed, IsMany: true}}, nil
	}
	return &Payload{Status: http.StatusOK, Data: &PrimaryData{One: echoed[0]}}, nil
}

// createLinked creates an embedded relationship resource on its own table.
func (r *Router) createLinked(ctx context.Context, ident *Identifier) (int64, error) {
	t := r.schema.ResolveTable(ident.Type)
	if t == nil {
		return 0, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "Invalid Table "+ident.Type)
	}
	attrs := make(storage.Row, len(ident.Attributes))
	for k, v := range ident.Attributes {
		attrs[k] = v
	}
	rows, err := r.db.Write(ctx, storage.WriteRequest{Table: t.Name, Data: []storage.Row{attrs}})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, xerrors.ErrStorage
	}
	id, _ := rows[0]["id"].(int64)
	return id, nil
}

// Patch updates one row by id. The body id, when declared, must match the
// path id. A password attribute explicitly set to null means "no change"
// and is dropped, not written.
func (r *Router) Patch(ctx context.Context, req *Request) (*Payload, error) {
	if req.ID == "" {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "no id specified for patch")
	}
	idNum, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidID, "invalid id")
	}
	t := r.schema.Table(req.Table)
	if t == nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "Invalid Table "+req.Table)
	}
	if req.Body == nil || req.Body.Data.Empty() || req.Body.Data.One == nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "Invalid Request")
	}

	doc := req.Body.Data.One.Clone()
	if doc.ID.Present() && !doc.ID.Equals(req.ID) {
		r.logger.Error("patch body id differs from path id",
			zap.String("table", t.Name), zap.String("path", req.ID), zap.String("body", doc.ID.String()))
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "Invalid Request")
	}
	if bodyID, ok := doc.Attributes["id"]; ok {
		if n, isInt := NormalizeQuery(map[string]any{"id": bodyID})["id"].(int64); !isInt || n != idNum {
			return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "Invalid Request")
		}
	}

	attrs := doc.Attributes
	if attrs == nil {
		attrs = map[string]any{}
	}
	if v, ok := attrs["password"]; ok && v == nil {
		delete(attrs, "password")
	}

	update := make(storage.Row, len(attrs))
	for k, v := range attrs {
		update[k] = v
	}
	if len(doc.Relationships) > 0 {
		flattened, err := flattenRelationships(ctx, r, doc.Relationships)
		if err != nil {
			return nil, xerrors.From(err)
		}
		// A patch that would null an ownership link is treated as an
		// anomaly: drop the field instead of orphaning the row.
		for _, key := range []string{"project", "company"} {
			if v, ok := flattened[key]; ok && isFalsy(v) {
				r.logger.Warn("patch with empty ownership link",
					zap.String("table", t.Name), zap.String("field", key), zap.Int64("id", idNum))
				delete(flattened, key)
			}
		}
		for k, v := range flattened {
			update[k] = v
		}
	}

	touched, err := r.db.Update(ctx, storage.UpdateRequest{
		Table: t.Name,
		Query: map[string]any{"id": idNum},
		Data:  update,
	})
	if err != nil {
		r.logger.Error("update failed", zap.String("table", t.Name), zap.Error(err))
		return nil, xerrors.Internal(err)
	}
	if touched == nil {
		r.logger.Warn("patch matched no rows", zap.String("table", t.Name), zap.Int64("id", idNum))
	}

	delete(attrs, "id")
	return &Payload{
		Status: http.StatusOK,
		Data: &PrimaryData{One: &Document{
			Type:          t.Name,
			ID:            NewFlexID(idNum),
			Attributes:    attrs,
			Relationships: doc.Relationships,
		}},
	}, nil
}

// Delete destroys one row by id and returns a success marker.
func (r *Router) Delete(ctx context.Context, req *Request) (*Payload, error) {
	if req.Table == "" {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "invalid table")
	}
	t := r.schema.Table(req.Table)
	if t == nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidTable, "invalid table")
	}
	if req.ID == "" {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidRequest, "no id specified for deletion")
	}
	idNum, err := strconv.ParseInt(req.ID, 10, 64)
	if err != nil {
		return nil, xerrors.New(http.StatusInternalServerError, xerrors.ErrInvalidID, "invalid id")
	}
	if err := r.db.Destroy(ctx, storage.DestroyRequest{Table: t.Name, Query: map[string]any{"id": idNum}}); err != nil {
		r.logger.Error("destroy failed", zap.String("table", t.Name), zap.Error(err))
		return nil, xerrors.Internal(err)
	}
	return &Payload{Status: http.StatusOK, Meta: map[string]any{"success": true}}, nil
}

func intOrDefault(v any, fallback int) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return fallback
}

// parseSort accepts {"field": "ASC"} maps or "field DIR" strings and
// returns the storage terms plus the value echoed in response meta.
func parseSort(v any) ([]storage.Sort, any) {
	switch val := v.(type) {
	case map[string]any:
		// Map iteration order is random; render multi-key sorts in field
		// order so the query stays stable between calls.
		fields := make([]string, 0, len(val))
		for field := range val {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		terms := make([]storage.Sort, 0, len(fields))
		for _, field := range fields {
			d, _ := val[field].(string)
			terms = append(terms, storage.Sort{Field: field, Desc: strings.EqualFold(d, "DESC")})
		}
		if len(terms) > 0 {
			return terms, val
		}
	case string:
		parts := strings.Fields(val)
		if len(parts) >= 1 && parts[0] != "" {
			desc := len(parts) > 1 && strings.EqualFold(parts[1], "DESC")
			dir := "ASC"
			if desc {
				dir = "DESC"
			}
			return []storage.Sort{{Field: parts[0], Desc: desc}}, map[string]any{parts[0]: dir}
		}
	}
	return []storage.Sort{{Field: "id"}}, map[string]any{"id": "ASC"}
}

func isFalsy(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case int64:
		return val == 0
	case string:
		return val == ""
	case []int64:
		return len(val) == 0
	}
	return false
}
