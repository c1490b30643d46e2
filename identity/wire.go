package identity

// Wire formats of the identity service.

// LoginRequest is sent to POST /auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenResponse is returned by POST /auth/login and POST /auth/refresh.
// Login responses also carry the user; refresh responses may omit the
// refresh token when the service does not rotate on use.
type TokenResponse struct {
	User         *Identity `json:"user,omitempty"`
	AccessToken  string    `json:"accessToken,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
}

// MeResponse is returned by GET /auth/me.
type MeResponse struct {
	User *Identity `json:"user,omitempty"`
}

// ErrorResponse is the error body of the identity service. Only the human
// readable field is ever relayed to the browser.
type ErrorResponse struct {
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (e ErrorResponse) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Error
}
