package schema

// Default returns the built-in model set. Permission blocks declared here
// are merged into the policy table during initialization, the same way a
// model file would declare them.
func Default() (*Descriptor, error) {
	return New(
		&Table{
			Name: "users",
			Fields: []Field{
				{Name: "name", Kind: Scalar, Index: true},
				{Name: "password", Kind: Scalar},
				{Name: "email", Kind: Scalar, Unique: true, Index: true},
				{Name: "attempts", Kind: Scalar},
				{Name: "lastattempt", Kind: Scalar},
				{Name: "active", Kind: Scalar, Index: true},
				{Name: "role", Kind: BelongsTo, Ref: "roles"},
				{Name: "company", Kind: BelongsTo, Ref: "companies"},
			},
			Permissions: map[string][]string{
				"user":  {"read", "create", "update", "delete"},
				"admin": {"read", "create", "update", "delete"},
				"rest":  {"read"},
			},
		},
		&Table{
			Name: "roles",
			Fields: []Field{
				{Name: "name", Kind: Scalar, Unique: true},
			},
		},
		&Table{
			Name: "sessions",
			Fields: []Field{
				{Name: "token", Kind: Scalar, Index: true},
				{Name: "token_expiry_date", Kind: Scalar},
				{Name: "crypto_key_expiry_date", Kind: Scalar},
				{Name: "rf", Kind: Scalar},
				{Name: "user", Kind: BelongsTo, Ref: "users"},
			},
		},
		&Table{
			Name: "companies",
			Fields: []Field{
				{Name: "name", Kind: Scalar, Index: true},
				{Name: "projects", Kind: HasMany, Ref: "projects", Via: "company"},
				{Name: "users", Kind: HasMany, Ref: "users", Via: "company"},
			},
		},
		&Table{
			Name: "projects",
			Fields: []Field{
				{Name: "name", Kind: Scalar, Index: true},
				{Name: "company", Kind: BelongsTo, Ref: "companies"},
			},
		},
		&Table{
			Name: "posts",
			Fields: []Field{
				{Name: "title", Kind: Scalar},
				{Name: "content", Kind: Scalar},
				{Name: "user", Kind: BelongsTo, Ref: "users"},
				{Name: "comments", Kind: HasMany, Ref: "comments", Via: "post"},
			},
			Permissions: map[string][]string{
				"admin": {"read", "create", "update", "delete"},
				"user":  {"read", "create", "update", "delete"},
				"rest":  {"read"},
			},
		},
		&Table{
			Name: "comments",
			Fields: []Field{
				{Name: "content", Kind: Scalar},
				{Name: "post", Kind: BelongsTo, Ref: "posts"},
				{Name: "user", Kind: BelongsTo, Ref: "users"},
			},
			Permissions: map[string][]string{
				"admin": {"read", "create", "update", "delete"},
				"user":  {"read", "create", "update", "delete"},
				"rest":  {"read"},
			},
		},
		&Table{
			Name: "credentials",
			Fields: []Field{
				{Name: "name", Kind: Scalar},
				{Name: "credentials", Kind: Scalar},
				{Name: "project", Kind: BelongsTo, Ref: "projects"},
			},
		},
	)
}
