package authapi

// SignInRequest is the body of the sign-in exchange.
type SignInRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type User struct {
	ID      string `json:"id" validate:"required"`
	Name    string `json:"name"`
	Role    string `json:"role"`
	OrgUnit string `json:"org_unit,omitempty"`
}

type SignInResponse struct {
	User         User   `json:"user" validate:"required"`
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token" validate:"required"`
	IDToken      string `json:"id_token,omitempty"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// RefreshResponse carries a rotated refresh token only when the backend
// rotates.
type RefreshResponse struct {
	AccessToken  string `json:"access_token" validate:"required"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// ErrorCode is the machine readable part of an ErrorResponse.
type ErrorCode string

const (
	ErrorInvalidRequest ErrorCode = "invalid_request"
	ErrorInvalidGrant   ErrorCode = "invalid_grant"
	ErrorAccessDenied   ErrorCode = "access_denied"
	ErrorUnauthorized   ErrorCode = "unauthorized"
	ErrorInvalidToken   ErrorCode = "invalid_token"
	ErrorNotFound       ErrorCode = "not_found"
	ErrorServer         ErrorCode = "server_error"
)

// ErrorResponse is the error body the development backend writes. Clients
// must not depend on it.
type ErrorResponse struct {
	Error            ErrorCode `json:"error"`
	ErrorDescription string    `json:"error_description,omitempty"`
}
