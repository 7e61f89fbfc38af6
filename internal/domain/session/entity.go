package session

import "time"

// Record is one persisted user↔token pairing. Records are append-only: a
// rotation inserts a new row and the most recent row (highest id) is the
// canonical session for the user. Stale rows are superseded, never deleted.
type Record struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user"`
	Token       string    `json:"token"`
	TokenExpiry time.Time `json:"token_expiry_date"`
	// RefreshBy is the advisory refresh deadline in epoch milliseconds,
	// mirroring the rf claim inside the token.
	RefreshBy int64 `json:"rf"`
}
