package policy

import (
	"net/http"

	"jsonapi-service/internal/schema"
)

// Action is a permission-table verb. Using a typed constant set makes an
// invalid action a construction-time mistake instead of a runtime lookup
// miss.
type Action string

const (
	ActionRead          Action = "read"
	ActionCreate        Action = "create"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionReadSensitive Action = "read_sensitive"
)

// Constraint declares which model attribute must be restricted to the id
// set found in the caller's token for a given (role, model). ClaimField
// names the token claim holding the allowed ids; ModelField is the fallback
// attribute name when the model does not carry ClaimField directly.
type Constraint struct {
	ClaimField string
	ModelField string
}

// Table is the frozen permission policy: per-model role rules with role
// defaults, per-(role, model) query constraints, the unauthenticated route
// allow-list, and the role sets the response filter and the users-model
// clamp key off. Built once at startup; never mutated afterwards.
type Table struct {
	defaults        map[string][]Action
	rules           map[string]map[string][]Action
	constraints     map[string]map[string]Constraint
	unauthenticated map[string]struct{}
	filterRoles     map[string]struct{}
	privileged      map[string]struct{}
	visibleRoleIDs  []int64
}

// Option adjusts the policy table during construction.
type Option func(*Table)

// WithFilterRoles overrides which roles get response filtering applied.
func WithFilterRoles(roles ...string) Option {
	return func(t *Table) {
		t.filterRoles = make(map[string]struct{}, len(roles))
		for _, r := range roles {
			t.filterRoles[r] = struct{}{}
		}
	}
}

// New builds the policy table, merging in the permission blocks the schema
// models declare for themselves.
func New(desc *schema.Descriptor, opts ...Option) *Table {
	t := &Table{
		defaults: map[string][]Action{
			"admin":    {ActionRead, ActionCreate, ActionUpdate, ActionDelete},
			"sysadmin": {ActionRead, ActionCreate, ActionUpdate, ActionDelete},
			"user":     {ActionRead},
			"developer": {ActionRead},
			"auditor":   {ActionRead},
			"rest":      {},
		},
		rules: make(map[string]map[string][]Action),
		constraints: map[string]map[string]Constraint{
			"user": {
				"users":    {ClaimField: "users", ModelField: "id"},
				"posts":    {ClaimField: "users", ModelField: "user"},
				"comments": {ClaimField: "users", ModelField: "user"},
			},
			"developer": {
				"companies":   {ClaimField: "companies", ModelField: "id"},
				"projects":    {ClaimField: "companies", ModelField: "company"},
				"credentials": {ClaimField: "projects", ModelField: "project"},
				"users":       {ClaimField: "companies", ModelField: "company"},
			},
			"auditor": {
				"companies":   {ClaimField: "companies", ModelField: "id"},
				"projects":    {ClaimField: "companies", ModelField: "company"},
				"credentials": {ClaimField: "projects", ModelField: "project"},
			},
		},
		unauthenticated: map[string]struct{}{
			"/signin": {},
		},
		filterRoles: map[string]struct{}{
			"developer": {},
			"auditor":   {},
		},
		privileged: map[string]struct{}{
			"sysadmin":     {},
			"sysdeveloper": {},
			"sysauditor":   {},
		},
		// Role rows ordinary callers may see on the users model.
		visibleRoleIDs: []int64{4, 5, 6, 7},
	}
	if desc != nil {
		for _, tbl := range desc.Tables() {
			if len(tbl.Permissions) == 0 {
				continue
			}
			roleRules := make(map[string][]Action, len(tbl.Permissions))
			for role, actions := range tbl.Permissions {
				list := make([]Action, 0, len(actions))
				for _, a := range actions {
					list = append(list, Action(a))
				}
				roleRules[role] = list
			}
			t.rules[tbl.Name] = roleRules
		}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetAccessRights returns the allowed actions for (model, role): the
// model-specific entry when one exists, else the role default. Never fails;
// an unknown role simply has no rights.
func (t *Table) GetAccessRights(model, role string) []Action {
	if roleRules, ok := t.rules[model]; ok {
		if actions, ok := roleRules[role]; ok {
			return actions
		}
	}
	return t.defaults[role]
}

// Allows reports whether (model, role) permits the action.
func (t *Table) Allows(model, role string, action Action) bool {
	for _, a := range t.GetAccessRights(model, role) {
		if a == action {
			return true
		}
	}
	return false
}

// GetQueryConstraint returns the scoping constraint for (role, model), or
// nil when the role sees the model unconstrained.
func (t *Table) GetQueryConstraint(role, model string) *Constraint {
	if models, ok := t.constraints[role]; ok {
		if c, ok := models[model]; ok {
			return &c
		}
	}
	return nil
}

// ParseMethodAccess maps an HTTP method onto a permission action. Unmapped
// methods report ok=false, signalling a caller error.
func ParseMethodAccess(method string) (Action, bool) {
	switch method {
	case http.MethodGet:
		return ActionRead, true
	case http.MethodPost:
		return ActionCreate, true
	case http.MethodPatch:
		return ActionUpdate, true
	case http.MethodDelete:
		return ActionDelete, true
	}
	return "", false
}

// IsUnauthenticated reports whether the path may skip token validation.
func (t *Table) IsUnauthenticated(path string) bool {
	_, ok := t.unauthenticated[path]
	return ok
}

// NeedsResponseFilter reports whether responses for this role pass through
// relationship and sensitive-field filtering.
func (t *Table) NeedsResponseFilter(role string) bool {
	_, ok := t.filterRoles[role]
	return ok
}

// IsPrivileged reports whether the role escapes the users-model role clamp.
func (t *Table) IsPrivileged(role string) bool {
	_, ok := t.privileged[role]
	return ok
}

// VisibleRoleIDs is the fixed role-id set forced onto users-model reads for
// non-privileged callers.
func (t *Table) VisibleRoleIDs() []int64 {
	out := make([]int64, len(t.visibleRoleIDs))
	copy(out, t.visibleRoleIDs)
	return out
}
