package user

// SignInRequest is the POST /signin payload.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInResponse pairs the authenticated user with a fresh or reused token.
// The password never leaves the service.
type SignInResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
