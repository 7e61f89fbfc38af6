package token

import (
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the session token payload. Scope fields (Companies, Projects)
// carry the id sets the permission layer restricts queries to. RefreshBy is
// the advisory refresh deadline in epoch milliseconds; hard expiry lives in
// the registered claims and is enforced by the codec, not here.
type Claims struct {
	UserID    int64    `json:"id"`
	Roles     []string `json:"roles,omitempty"`
	Companies []int64  `json:"companies,omitempty"`
	Projects  []int64  `json:"projects,omitempty"`
	RefreshBy int64    `json:"rf,omitempty"`
	jwt.RegisteredClaims
}

// Role returns the primary role. The pipeline keys every policy decision off
// the first role in the list.
func (c *Claims) Role() string {
	if len(c.Roles) == 0 {
		return ""
	}
	return c.Roles[0]
}

// ScopeValues returns the allowed id set for a claim field. The users field
// is the caller's own id; unknown fields report ok=false so filtering can
// skip relationships the token says nothing about.
func (c *Claims) ScopeValues(field string) ([]int64, bool) {
	switch field {
	case "users":
		return []int64{c.UserID}, true
	case "companies":
		return c.Companies, c.Companies != nil
	case "projects":
		return c.Projects, c.Projects != nil
	}
	return nil, false
}

// StripVolatile clears the per-issue fields so the remaining claims can be
// re-signed on rotation.
func (c *Claims) StripVolatile() {
	c.RefreshBy = 0
	c.IssuedAt = nil
	c.ExpiresAt = nil
	c.NotBefore = nil
	c.ID = ""
}
