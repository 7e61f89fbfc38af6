// Package storagetest provides an in-memory Adapter for tests. It mirrors
// the predicate semantics of the postgres adapter closely enough for the
// pipeline packages to exercise their logic without a database.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"jsonapi-service/internal/schema"
	"jsonapi-service/internal/storage"
)

type Adapter struct {
	mu     sync.Mutex
	desc   *schema.Descriptor
	tables map[string][]storage.Row
	nextID map[string]int64

	// Spies for asserting what the code under test touched.
	Writes   []storage.WriteRequest
	Updates  []storage.UpdateRequest
	Destroys []storage.DestroyRequest

	// Err, when set, fails every call.
	Err error
}

func New(desc *schema.Descriptor) *Adapter {
	return &Adapter{
		desc:   desc,
		tables: make(map[string][]storage.Row),
		nextID: make(map[string]int64),
	}
}

// Seed inserts a row as-is, assigning an id when the row carries none.
func (a *Adapter) Seed(table string, rows ...storage.Row) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, row := range rows {
		copied := cloneRow(row)
		if _, ok := copied["id"]; !ok {
			copied["id"] = a.allocate(table)
		} else if id, ok := copied["id"].(int64); ok && id >= a.nextID[table] {
			a.nextID[table] = id
		}
		a.tables[table] = append(a.tables[table], copied)
	}
}

// Rows returns a copy of the stored rows of a table.
func (a *Adapter) Rows(table string) []storage.Row {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]storage.Row, len(a.tables[table]))
	for i, r := range a.tables[table] {
		out[i] = cloneRow(r)
	}
	return out
}

func (a *Adapter) allocate(table string) int64 {
	a.nextID[table]++
	return a.nextID[table]
}

func (a *Adapter) Read(ctx context.Context, req storage.ReadRequest) ([]storage.Row, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	matched := a.match(req.Table, req.Query)
	sortRows(matched, []storage.Sort{{Field: "id"}})
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	return cloneRows(matched), nil
}

func (a *Adapter) ReadSort(ctx context.Context, req storage.ReadSortRequest) ([]storage.Row, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	matched := a.match(req.Table, req.Query)
	terms := req.Sort
	if len(terms) == 0 {
		terms = []storage.Sort{{Field: "id"}}
	}
	sortRows(matched, terms)
	if req.Skip > 0 {
		if req.Skip >= len(matched) {
			matched = nil
		} else {
			matched = matched[req.Skip:]
		}
	}
	if req.Limit > 0 && len(matched) > req.Limit {
		matched = matched[:req.Limit]
	}
	out := cloneRows(matched)
	a.populate(req.Table, out, req.Populate)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

func (a *Adapter) Count(ctx context.Context, req storage.CountRequest) (int64, error) {
	if a.Err != nil {
		return 0, a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return int64(len(a.match(req.Table, req.Query))), nil
}

func (a *Adapter) Write(ctx context.Context, req storage.WriteRequest) ([]storage.Row, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Writes = append(a.Writes, req)
	var created []storage.Row
	for _, data := range req.Data {
		row := cloneRow(data)
		delete(row, "id")
		id := a.allocate(req.Table)
		row["id"] = id
		links := a.manyLinks(req.Table, row)
		for name := range links {
			delete(row, name)
		}
		a.tables[req.Table] = append(a.tables[req.Table], row)
		a.applyLinks(req.Table, id, links)
		echo := cloneRow(data)
		echo["id"] = id
		created = append(created, echo)
	}
	return created, nil
}

func (a *Adapter) Update(ctx context.Context, req storage.UpdateRequest) ([]storage.Row, error) {
	if a.Err != nil {
		return nil, a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Updates = append(a.Updates, req)
	links := a.manyLinks(req.Table, req.Data)
	var touched []storage.Row
	for _, row := range a.match(req.Table, req.Query) {
		for col, val := range req.Data {
			if col == "id" {
				continue
			}
			if _, isLink := links[col]; isLink {
				continue
			}
			row[col] = val
		}
		if id, ok := toInt64(row["id"]); ok {
			a.applyLinks(req.Table, id, links)
		}
		touched = append(touched, storage.Row{"id": row["id"]})
	}
	if len(touched) == 0 {
		return nil, nil
	}
	return touched, nil
}

func (a *Adapter) Destroy(ctx context.Context, req storage.DestroyRequest) error {
	if a.Err != nil {
		return a.Err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Destroys = append(a.Destroys, req)
	var kept []storage.Row
	for _, row := range a.tables[req.Table] {
		if !matches(row, req.Query) {
			kept = append(kept, row)
		}
	}
	a.tables[req.Table] = kept
	return nil
}

func (a *Adapter) match(table string, query map[string]any) []storage.Row {
	var out []storage.Row
	for _, row := range a.tables[table] {
		if matches(row, query) {
			out = append(out, row)
		}
	}
	return out
}

func matches(row storage.Row, query map[string]any) bool {
	for col, want := range query {
		got := row[col]
		switch w := want.(type) {
		case nil:
			if got != nil {
				return false
			}
		case []int64:
			if !containsValue(asInts(w), got) {
				return false
			}
		case []any:
			if !containsValue(w, got) {
				return false
			}
		case map[string]any:
			for op, operand := range w {
				if !compare(got, op, operand) {
					return false
				}
			}
		default:
			if !equal(got, want) {
				return false
			}
		}
	}
	return true
}

func asInts(vals []int64) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		out[i] = v
	}
	return out
}

func containsValue(set []any, v any) bool {
	for _, item := range set {
		if equal(v, item) {
			return true
		}
	}
	return false
}

func equal(a, b any) bool {
	ai, aok := toInt64(a)
	bi, bok := toInt64(b)
	if aok && bok {
		return ai == bi
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}

func compare(got any, op string, operand any) bool {
	g, gok := toInt64(got)
	o, ook := toInt64(operand)
	if !gok || !ook {
		return false
	}
	switch op {
	case storage.OpGT:
		return g > o
	case storage.OpGTE:
		return g >= o
	case storage.OpLT:
		return g < o
	case storage.OpLTE:
		return g <= o
	}
	return false
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func sortRows(rows []storage.Row, terms []storage.Sort) {
	sort.SliceStable(rows, func(i, j int) bool {
		for _, t := range terms {
			ai, aok := toInt64(rows[i][t.Field])
			bi, bok := toInt64(rows[j][t.Field])
			var less, diff bool
			if aok && bok {
				less, diff = ai < bi, ai != bi
			} else {
				as, bs := fmt.Sprint(rows[i][t.Field]), fmt.Sprint(rows[j][t.Field])
				less, diff = as < bs, as != bs
			}
			if !diff {
				continue
			}
			if t.Desc {
				return !less
			}
			return less
		}
		return false
	})
}

func (a *Adapter) populate(table string, rows []storage.Row, fields []string) {
	if a.desc == nil || len(fields) == 0 {
		return
	}
	t := a.desc.Table(table)
	if t == nil {
		return
	}
	for _, name := range fields {
		f, ok := t.Field(name)
		if !ok || f.Kind != schema.HasMany {
			continue
		}
		for _, row := range rows {
			id, _ := toInt64(row["id"])
			var related []int64
			for _, child := range a.tables[f.Ref] {
				if parent, ok := toInt64(child[f.Via]); ok && parent == id {
					childID, _ := toInt64(child["id"])
					related = append(related, childID)
				}
			}
			row[name] = related
		}
	}
}

// manyLinks collects the keys of data that name HasMany fields, mapped to
// their coerced child id sets. Linkage keys are never stored as columns.
func (a *Adapter) manyLinks(table string, data storage.Row) map[string][]int64 {
	if a.desc == nil {
		return nil
	}
	t := a.desc.Table(table)
	if t == nil {
		return nil
	}
	links := make(map[string][]int64)
	for col, val := range data {
		f, ok := t.Field(col)
		if !ok || f.Kind != schema.HasMany {
			continue
		}
		var ids []int64
		switch v := val.(type) {
		case []int64:
			ids = v
		case []any:
			for _, item := range v {
				if n, ok := toInt64(item); ok {
					ids = append(ids, n)
				}
			}
		}
		links[col] = ids
	}
	return links
}

// applyLinks repoints the linked child rows' foreign key at the parent, the
// same way the postgres adapter persists a via collection.
func (a *Adapter) applyLinks(table string, parent int64, links map[string][]int64) {
	if len(links) == 0 {
		return
	}
	t := a.desc.Table(table)
	for name, ids := range links {
		if len(ids) == 0 {
			continue
		}
		f, _ := t.Field(name)
		for _, child := range a.tables[f.Ref] {
			childID, ok := toInt64(child["id"])
			if !ok {
				continue
			}
			for _, want := range ids {
				if childID == want {
					child[f.Via] = parent
					break
				}
			}
		}
	}
}

func cloneRow(row storage.Row) storage.Row {
	out := make(storage.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

func cloneRows(rows []storage.Row) []storage.Row {
	out := make([]storage.Row, len(rows))
	for i, r := range rows {
		out[i] = cloneRow(r)
	}
	return out
}
