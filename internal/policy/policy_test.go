package policy

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"jsonapi-service/internal/schema"
)

func newTable(t *testing.T, opts ...Option) *Table {
	t.Helper()
	desc, err := schema.Default()
	require.NoError(t, err)
	return New(desc, opts...)
}

func TestRoleDefaults(t *testing.T) {
	p := newTable(t)

	require.True(t, p.Allows("projects", "admin", ActionDelete))
	require.True(t, p.Allows("projects", "sysadmin", ActionCreate))
	require.True(t, p.Allows("projects", "developer", ActionRead))
	require.False(t, p.Allows("projects", "developer", ActionUpdate))
	require.False(t, p.Allows("projects", "rest", ActionRead))
	require.False(t, p.Allows("projects", "nobody", ActionRead))
}

func TestModelRulesOverrideDefaults(t *testing.T) {
	p := newTable(t)

	// The users model grants the user role full CRUD, beyond its default.
	require.True(t, p.Allows("users", "user", ActionUpdate))
	require.True(t, p.Allows("users", "user", ActionDelete))
	// And the rest role read, where its default grants nothing.
	require.True(t, p.Allows("users", "rest", ActionRead))
	require.False(t, p.Allows("users", "rest", ActionCreate))

	// A role absent from the model block falls back to its default.
	require.True(t, p.Allows("users", "developer", ActionRead))
	require.False(t, p.Allows("users", "developer", ActionCreate))
}

func TestParseMethodAccess(t *testing.T) {
	for method, want := range map[string]Action{
		http.MethodGet:    ActionRead,
		http.MethodPost:   ActionCreate,
		http.MethodPatch:  ActionUpdate,
		http.MethodDelete: ActionDelete,
	} {
		got, ok := ParseMethodAccess(method)
		require.True(t, ok, method)
		require.Equal(t, want, got)
	}

	_, ok := ParseMethodAccess(http.MethodPut)
	require.False(t, ok)
	_, ok = ParseMethodAccess(http.MethodOptions)
	require.False(t, ok)
}

func TestGetQueryConstraint(t *testing.T) {
	p := newTable(t)

	c := p.GetQueryConstraint("developer", "projects")
	require.NotNil(t, c)
	require.Equal(t, "companies", c.ClaimField)
	require.Equal(t, "company", c.ModelField)

	c = p.GetQueryConstraint("user", "users")
	require.NotNil(t, c)
	require.Equal(t, "users", c.ClaimField)
	require.Equal(t, "id", c.ModelField)

	require.Nil(t, p.GetQueryConstraint("admin", "projects"))
	require.Nil(t, p.GetQueryConstraint("developer", "roles"))
}

func TestUnauthenticatedRoutes(t *testing.T) {
	p := newTable(t)
	require.True(t, p.IsUnauthenticated("/signin"))
	require.False(t, p.IsUnauthenticated("/users"))
}

func TestFilterRoles(t *testing.T) {
	p := newTable(t)
	require.True(t, p.NeedsResponseFilter("developer"))
	require.True(t, p.NeedsResponseFilter("auditor"))
	require.False(t, p.NeedsResponseFilter("admin"))

	p = newTable(t, WithFilterRoles("auditor"))
	require.False(t, p.NeedsResponseFilter("developer"))
	require.True(t, p.NeedsResponseFilter("auditor"))
}

func TestIsPrivileged(t *testing.T) {
	p := newTable(t)
	require.True(t, p.IsPrivileged("sysadmin"))
	require.True(t, p.IsPrivileged("sysauditor"))
	require.False(t, p.IsPrivileged("admin"))
	require.False(t, p.IsPrivileged("user"))
}

func TestVisibleRoleIDsReturnsCopy(t *testing.T) {
	p := newTable(t)
	ids := p.VisibleRoleIDs()
	require.Equal(t, []int64{4, 5, 6, 7}, ids)

	ids[0] = 99
	require.Equal(t, []int64{4, 5, 6, 7}, p.VisibleRoleIDs())
}
