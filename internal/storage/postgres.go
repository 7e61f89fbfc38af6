package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	xerrors "jsonapi-service/internal/pkg/errors"
	"jsonapi-service/internal/schema"
)

// Postgres implements Adapter on a pgx pool. Identifiers are taken from the
// schema descriptor only; values always travel as bind parameters.
type Postgres struct {
	pool   *pgxpool.Pool
	schema *schema.Descriptor
	logger *zap.Logger
}

func NewPostgres(pool *pgxpool.Pool, desc *schema.Descriptor, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, schema: desc, logger: logger}
}

func (p *Postgres) table(name string) (*schema.Table, error) {
	t := p.schema.Table(name)
	if t == nil {
		return nil, xerrors.Wrap(xerrors.ErrInvalidTable, name)
	}
	return t, nil
}

// columns returns the selectable column names of a table: id, scalars and
// foreign keys. Collections are not columns.
func columns(t *schema.Table) []string {
	cols := t.ScalarColumns()
	for _, f := range t.ReferenceColumns() {
		cols = append(cols, f.Name)
	}
	return cols
}

func isColumn(t *schema.Table, name string) bool {
	if name == "id" {
		return true
	}
	f, ok := t.Field(name)
	return ok && f.Kind != schema.HasMany
}

// manyField returns the HasMany field a data key names, when it names one.
func manyField(t *schema.Table, name string) (schema.Field, bool) {
	f, ok := t.Field(name)
	if !ok || f.Kind != schema.HasMany {
		return schema.Field{}, false
	}
	return f, true
}

// linkIDs coerces a flattened to-many linkage value into child ids.
func linkIDs(v any) ([]int64, bool) {
	switch ids := v.(type) {
	case []int64:
		return ids, true
	case []any:
		out := make([]int64, 0, len(ids))
		for _, item := range ids {
			n, ok := item.(int64)
			if !ok {
				return nil, false
			}
			out = append(out, n)
		}
		return out, true
	}
	return nil, false
}

// where renders the predicate. Supported value shapes: scalar equality,
// slice membership, and single-operator maps ({">": v} etc).
func where(t *schema.Table, query map[string]any, args *[]any) (string, error) {
	if len(query) == 0 {
		return "", nil
	}
	terms := make([]string, 0, len(query))
	for col, val := range query {
		if !isColumn(t, col) {
			return "", xerrors.Wrap(xerrors.ErrConfiguration, fmt.Sprintf("%s has no column %q", t.Name, col))
		}
		switch v := val.(type) {
		case nil:
			terms = append(terms, fmt.Sprintf("%s IS NULL", col))
		case []any:
			*args = append(*args, v)
			terms = append(terms, fmt.Sprintf("%s = ANY($%d)", col, len(*args)))
		case []int64:
			*args = append(*args, v)
			terms = append(terms, fmt.Sprintf("%s = ANY($%d)", col, len(*args)))
		case map[string]any:
			for op, operand := range v {
				switch op {
				case OpGT, OpGTE, OpLT, OpLTE:
					*args = append(*args, operand)
					terms = append(terms, fmt.Sprintf("%s %s $%d", col, op, len(*args)))
				default:
					return "", xerrors.Wrap(xerrors.ErrConfiguration, fmt.Sprintf("unsupported operator %q", op))
				}
			}
		default:
			*args = append(*args, v)
			terms = append(terms, fmt.Sprintf("%s = $%d", col, len(*args)))
		}
	}
	return " WHERE " + strings.Join(terms, " AND "), nil
}

func scanRows(rows pgx.Rows, cols []string) ([]Row, error) {
	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		r := make(Row, len(cols))
		for i, c := range cols {
			r[c] = normalizeValue(vals[i])
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeValue widens db integers to int64 so callers compare ids without
// caring about the driver's scan type.
func normalizeValue(v any) any {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int32:
		return int64(n)
	case int16:
		return int64(n)
	default:
		return v
	}
}

func (p *Postgres) Read(ctx context.Context, req ReadRequest) ([]Row, error) {
	t, err := p.table(req.Table)
	if err != nil {
		return nil, err
	}
	cols := columns(t)
	if len(req.Select) > 0 {
		cols = append([]string{"id"}, req.Select...)
	}
	var args []any
	pred, err := where(t, req.Query, &args)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY id ASC", strings.Join(cols, ", "), t.Name, pred)
	if req.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "storage: read "+t.Name)
	}
	defer rows.Close()
	return scanRows(rows, cols)
}

func (p *Postgres) ReadSort(ctx context.Context, req ReadSortRequest) ([]Row, error) {
	t, err := p.table(req.Table)
	if err != nil {
		return nil, err
	}
	cols := columns(t)
	var args []any
	pred, err := where(t, req.Query, &args)
	if err != nil {
		return nil, err
	}
	order := "id ASC"
	if len(req.Sort) > 0 {
		terms := make([]string, 0, len(req.Sort))
		for _, s := range req.Sort {
			if !isColumn(t, s.Field) {
				return nil, xerrors.Wrap(xerrors.ErrConfiguration, fmt.Sprintf("cannot sort %s by %q", t.Name, s.Field))
			}
			dir := "ASC"
			if s.Desc {
				dir = "DESC"
			}
			terms = append(terms, s.Field+" "+dir)
		}
		order = strings.Join(terms, ", ")
	}
	q := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s", strings.Join(cols, ", "), t.Name, pred, order)
	if req.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", req.Limit)
	}
	if req.Skip > 0 {
		q += fmt.Sprintf(" OFFSET %d", req.Skip)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "storage: readSort "+t.Name)
	}
	results, err := func() ([]Row, error) {
		defer rows.Close()
		return scanRows(rows, cols)
	}()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, nil
	}
	if err := p.populate(ctx, t, results, req.Populate); err != nil {
		return nil, err
	}
	return results, nil
}

// populate attaches the related id lists for the requested collections by
// querying each referenced table's back-pointing foreign key.
func (p *Postgres) populate(ctx context.Context, t *schema.Table, results []Row, fields []string) error {
	if len(fields) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(results))
	index := make(map[int64]Row, len(results))
	for _, r := range results {
		if id, ok := r["id"].(int64); ok {
			ids = append(ids, id)
			index[id] = r
		}
	}
	for _, name := range fields {
		f, ok := t.Field(name)
		if !ok || f.Kind != schema.HasMany {
			continue
		}
		q := fmt.Sprintf("SELECT %s, id FROM %s WHERE %s = ANY($1) ORDER BY id ASC", f.Via, f.Ref, f.Via)
		rows, err := p.pool.Query(ctx, q, ids)
		if err != nil {
			return xerrors.Wrap(err, "storage: populate "+t.Name+"."+name)
		}
		grouped := make(map[int64][]int64)
		for rows.Next() {
			var parent, child int64
			if err := rows.Scan(&parent, &child); err != nil {
				rows.Close()
				return err
			}
			grouped[parent] = append(grouped[parent], child)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		for id, r := range index {
			r[name] = grouped[id]
		}
	}
	return nil
}

func (p *Postgres) Count(ctx context.Context, req CountRequest) (int64, error) {
	t, err := p.table(req.Table)
	if err != nil {
		return 0, err
	}
	var args []any
	pred, err := where(t, req.Query, &args)
	if err != nil {
		return 0, err
	}
	var count int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", t.Name, pred)
	if err := p.pool.QueryRow(ctx, q, args...).Scan(&count); err != nil {
		return 0, xerrors.Wrap(err, "storage: count "+t.Name)
	}
	return count, nil
}

func (p *Postgres) Write(ctx context.Context, req WriteRequest) ([]Row, error) {
	t, err := p.table(req.Table)
	if err != nil {
		return nil, err
	}
	if len(req.Data) == 0 {
		return nil, nil
	}
	var created []Row
	for _, data := range req.Data {
		cols := make([]string, 0, len(data))
		params := make([]string, 0, len(data))
		args := make([]any, 0, len(data))
		links := make(map[string][]int64)
		for col, val := range data {
			if col == "id" {
				continue
			}
			if f, ok := manyField(t, col); ok {
				ids, ok := linkIDs(val)
				if !ok {
					return nil, xerrors.Wrap(xerrors.ErrInvalidRequest, fmt.Sprintf("bad linkage for %s.%s", t.Name, f.Name))
				}
				if len(ids) > 0 {
					links[col] = ids
				}
				continue
			}
			if !isColumn(t, col) {
				continue
			}
			args = append(args, val)
			cols = append(cols, col)
			params = append(params, fmt.Sprintf("$%d", len(args)))
		}
		q := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
			t.Name, strings.Join(cols, ", "), strings.Join(params, ", "))
		var id int64
		if err := p.pool.QueryRow(ctx, q, args...).Scan(&id); err != nil {
			return nil, xerrors.Wrap(err, "storage: write "+t.Name)
		}
		for name, ids := range links {
			f, _ := manyField(t, name)
			if err := p.adopt(ctx, f, id, ids); err != nil {
				return nil, err
			}
		}
		row := make(Row, len(data)+1)
		for k, v := range data {
			row[k] = v
		}
		row["id"] = id
		created = append(created, row)
	}
	return created, nil
}

// adopt persists a via collection by pointing the child rows' foreign key at
// the parent.
func (p *Postgres) adopt(ctx context.Context, f schema.Field, parent int64, ids []int64) error {
	q := fmt.Sprintf("UPDATE %s SET %s = $1 WHERE id = ANY($2)", f.Ref, f.Via)
	if _, err := p.pool.Exec(ctx, q, parent, ids); err != nil {
		return xerrors.Wrap(err, "storage: link "+f.Ref+"."+f.Via)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, req UpdateRequest) ([]Row, error) {
	t, err := p.table(req.Table)
	if err != nil {
		return nil, err
	}
	var args []any
	sets := make([]string, 0, len(req.Data))
	links := make(map[string][]int64)
	for col, val := range req.Data {
		if col == "id" {
			continue
		}
		if f, ok := manyField(t, col); ok {
			ids, ok := linkIDs(val)
			if !ok {
				return nil, xerrors.Wrap(xerrors.ErrInvalidRequest, fmt.Sprintf("bad linkage for %s.%s", t.Name, f.Name))
			}
			if len(ids) > 0 {
				links[col] = ids
			}
			continue
		}
		if !isColumn(t, col) {
			continue
		}
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(sets) == 0 && len(links) == 0 {
		return nil, xerrors.ErrInvalidRequest
	}
	pred, err := where(t, req.Query, &args)
	if err != nil {
		return nil, err
	}
	// A body carrying only to-many linkage has nothing to SET; the matching
	// ids still need resolving so the linkage lands on the right parents.
	q := fmt.Sprintf("SELECT id FROM %s%s", t.Name, pred)
	if len(sets) > 0 {
		q = fmt.Sprintf("UPDATE %s SET %s%s RETURNING id", t.Name, strings.Join(sets, ", "), pred)
	}
	rows, err := p.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, xerrors.Wrap(err, "storage: update "+t.Name)
	}
	touched, err := func() ([]Row, error) {
		defer rows.Close()
		var out []Row
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			out = append(out, Row{"id": id})
		}
		return out, rows.Err()
	}()
	if err != nil {
		return nil, err
	}
	if len(touched) == 0 {
		p.logger.Debug("update matched no rows", zap.String("table", t.Name))
		return nil, nil
	}
	for name, ids := range links {
		f, _ := manyField(t, name)
		for _, row := range touched {
			parent, ok := row["id"].(int64)
			if !ok {
				continue
			}
			if err := p.adopt(ctx, f, parent, ids); err != nil {
				return nil, err
			}
		}
	}
	return touched, nil
}

func (p *Postgres) Destroy(ctx context.Context, req DestroyRequest) error {
	t, err := p.table(req.Table)
	if err != nil {
		return err
	}
	var args []any
	pred, err := where(t, req.Query, &args)
	if err != nil {
		return err
	}
	if pred == "" {
		return xerrors.Wrap(xerrors.ErrInvalidRequest, "destroy without predicate")
	}
	if _, err := p.pool.Exec(ctx, fmt.Sprintf("DELETE FROM %s%s", t.Name, pred), args...); err != nil {
		return xerrors.Wrap(err, "storage: destroy "+t.Name)
	}
	return nil
}
