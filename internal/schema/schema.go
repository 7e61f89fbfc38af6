package schema

import (
	"fmt"

	"github.com/gertd/go-pluralize"
)

// FieldKind classifies how a model field is stored and how the router must
// shape it on the wire.
type FieldKind int

const (
	// Scalar is a plain column carried in the document attributes.
	Scalar FieldKind = iota
	// BelongsTo is a foreign-key column pointing at another table, carried
	// as a singular relationship.
	BelongsTo
	// HasMany is a collection of rows on another table linked back through
	// a foreign key there (Via). It is not a column on this table, so it can
	// never be part of a storage predicate.
	HasMany
)

// Field describes one attribute of a model.
type Field struct {
	Name string
	Kind FieldKind
	// Ref is the referenced table for BelongsTo and HasMany fields.
	Ref string
	// Via is the foreign-key column on Ref that points back at this table.
	// Only meaningful for HasMany; a HasMany with Via set is an indirect
	// linkage and any filter on it becomes a post-query filter.
	Via string
	// Index marks scalar columns that carry a database index.
	Index bool
	// Unique marks scalar columns with a uniqueness constraint.
	Unique bool
}

// Table describes one model: its fields plus the permission block the model
// declares for itself, merged into the policy table at startup.
type Table struct {
	Name        string
	Fields      []Field
	Permissions map[string][]string
}

// Descriptor is the full schema, loaded once at startup and shared by
// reference between the permission layer and the resource router.
type Descriptor struct {
	tables map[string]*Table
	plural *pluralize.Client
}

// New builds a descriptor from the given tables. Duplicate table names and
// dangling references are construction-time errors.
func New(tables ...*Table) (*Descriptor, error) {
	d := &Descriptor{
		tables: make(map[string]*Table, len(tables)),
		plural: pluralize.NewClient(),
	}
	for _, t := range tables {
		if _, ok := d.tables[t.Name]; ok {
			return nil, fmt.Errorf("schema: duplicate table %q", t.Name)
		}
		d.tables[t.Name] = t
	}
	for _, t := range d.tables {
		for _, f := range t.Fields {
			if f.Kind == Scalar {
				continue
			}
			if _, ok := d.tables[f.Ref]; !ok {
				return nil, fmt.Errorf("schema: %s.%s references unknown table %q", t.Name, f.Name, f.Ref)
			}
		}
	}
	return d, nil
}

// Table returns the descriptor for a table, or nil when unknown.
func (d *Descriptor) Table(name string) *Table {
	return d.tables[name]
}

// Tables returns every table in the schema.
func (d *Descriptor) Tables() []*Table {
	out := make([]*Table, 0, len(d.tables))
	for _, t := range d.tables {
		out = append(out, t)
	}
	return out
}

// TypeName returns the pluralized wire type for a referenced table, as the
// JSON-API payloads expect.
func (d *Descriptor) TypeName(table string) string {
	return d.plural.Plural(table)
}

// ResolveTable maps a wire type name onto its table, accepting the singular
// form clients sometimes send in relationship linkages.
func (d *Descriptor) ResolveTable(typeName string) *Table {
	if t, ok := d.tables[typeName]; ok {
		return t
	}
	return d.tables[d.plural.Plural(typeName)]
}

// Field looks up a field by name on a table.
func (t *Table) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasAttribute reports whether name is a declared field of the table. The
// id column is implicit on every table.
func (t *Table) HasAttribute(name string) bool {
	if name == "id" {
		return true
	}
	_, ok := t.Field(name)
	return ok
}

// ScalarColumns returns the plain column names, id included first.
func (t *Table) ScalarColumns() []string {
	cols := []string{"id"}
	for _, f := range t.Fields {
		if f.Kind == Scalar {
			cols = append(cols, f.Name)
		}
	}
	return cols
}

// ReferenceColumns returns the BelongsTo column names.
func (t *Table) ReferenceColumns() []Field {
	var out []Field
	for _, f := range t.Fields {
		if f.Kind == BelongsTo {
			out = append(out, f)
		}
	}
	return out
}

// Collections returns the HasMany fields, which always need population.
func (t *Table) Collections() []Field {
	var out []Field
	for _, f := range t.Fields {
		if f.Kind == HasMany {
			out = append(out, f)
		}
	}
	return out
}
