package session

import (
	"context"
	"time"

	sessdomain "jsonapi-service/internal/domain/session"
	"jsonapi-service/internal/storage"
)

const table = "sessions"

// Store adapts the storage contract to the append-only sessions table. The
// newest row per user is the canonical session; older rows are superseded
// but kept.
type Store struct {
	db storage.Adapter
}

func NewStore(db storage.Adapter) *Store {
	return &Store{db: db}
}

func (s *Store) latest(ctx context.Context, query map[string]any) (*sessdomain.Record, error) {
	rows, err := s.db.ReadSort(ctx, storage.ReadSortRequest{
		Table: table,
		Query: query,
		Sort:  []storage.Sort{{Field: "id", Desc: true}},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return fromRow(rows[0]), nil
}

// LatestForUser returns the user's most recent session record, or nil.
func (s *Store) LatestForUser(ctx context.Context, userID int64) (*sessdomain.Record, error) {
	return s.latest(ctx, map[string]any{"user": userID})
}

// LatestMatching returns the most recent record pairing this user with this
// exact token, or nil when the presented token was never persisted.
func (s *Store) LatestMatching(ctx context.Context, userID int64, token string) (*sessdomain.Record, error) {
	return s.latest(ctx, map[string]any{"user": userID, "token": token})
}

// ActiveForUser returns the most recent record whose refresh deadline is
// still ahead of now, or nil.
func (s *Store) ActiveForUser(ctx context.Context, userID int64, nowMillis int64) (*sessdomain.Record, error) {
	return s.latest(ctx, map[string]any{
		"user": userID,
		"rf":   map[string]any{storage.OpGT: nowMillis},
	})
}

// Append inserts a new session record. Sessions are never updated in place;
// rotation always inserts so token history stays append-only.
func (s *Store) Append(ctx context.Context, rec *sessdomain.Record) error {
	rows, err := s.db.Write(ctx, storage.WriteRequest{
		Table: table,
		Data: []storage.Row{{
			"user":                   rec.UserID,
			"token":                  rec.Token,
			"token_expiry_date":      rec.TokenExpiry,
			"crypto_key_expiry_date": rec.TokenExpiry,
			"rf":                     rec.RefreshBy,
		}},
	})
	if err != nil {
		return err
	}
	if len(rows) == 1 {
		if id, ok := rows[0]["id"].(int64); ok {
			rec.ID = id
		}
	}
	return nil
}

func fromRow(row storage.Row) *sessdomain.Record {
	rec := &sessdomain.Record{}
	if v, ok := row["id"].(int64); ok {
		rec.ID = v
	}
	if v, ok := row["user"].(int64); ok {
		rec.UserID = v
	}
	if v, ok := row["token"].(string); ok {
		rec.Token = v
	}
	if v, ok := row["token_expiry_date"].(time.Time); ok {
		rec.TokenExpiry = v
	}
	switch v := row["rf"].(type) {
	case int64:
		rec.RefreshBy = v
	case float64:
		rec.RefreshBy = int64(v)
	}
	return rec
}
