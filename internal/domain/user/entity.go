package user

// User is the stored account row. Password holds the bcrypt hash and is
// scrubbed from every outbound document. LastAttempt is epoch milliseconds,
// matching the session table's timestamps.
type User struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password,omitempty"`
	Attempts    int    `json:"attempts"`
	LastAttempt int64  `json:"lastattempt,omitempty"`
	RoleID      int64  `json:"role"`
	CompanyID   int64  `json:"company,omitempty"`
	Active      bool   `json:"active"`
}
