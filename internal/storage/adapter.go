package storage

import (
	"context"
)

// Row is one stored record. Scalar and foreign-key columns map to their
// values; populated collections map to []int64 of related ids.
type Row map[string]any

// Sort is one ordering term.
type Sort struct {
	Field string
	Desc  bool
}

// Operators accepted inside a query value map, e.g.
// Query{"rf": map[string]any{">": now}}.
const (
	OpGT  = ">"
	OpGTE = ">="
	OpLT  = "<"
	OpLTE = "<="
)

type ReadRequest struct {
	Table  string
	Query  map[string]any
	Select []string
	Limit  int
}

type ReadSortRequest struct {
	Table    string
	Query    map[string]any
	Sort     []Sort
	Skip     int
	Limit    int
	Populate []string
}

type CountRequest struct {
	Table string
	Query map[string]any
}

type WriteRequest struct {
	Table string
	Data  []Row
}

type UpdateRequest struct {
	Table string
	Query map[string]any
	Data  Row
}

type DestroyRequest struct {
	Table string
	Query map[string]any
}

// Adapter is the narrow contract the pipeline consumes storage through.
// Every read variant returns nil (not an empty slice) when nothing matches,
// and callers treat the two uniformly. Update returns the ids it touched,
// nil on zero matches.
type Adapter interface {
	Read(ctx context.Context, req ReadRequest) ([]Row, error)
	ReadSort(ctx context.Context, req ReadSortRequest) ([]Row, error)
	Count(ctx context.Context, req CountRequest) (int64, error)
	Write(ctx context.Context, req WriteRequest) ([]Row, error)
	Update(ctx context.Context, req UpdateRequest) ([]Row, error)
	Destroy(ctx context.Context, req DestroyRequest) error
}
