package analysis

// ErrorResponse represents a failure to return to the client (value type).
// Code is the machine-checkable kind; Message is the human-readable reason.
// Only the boundary layer translates Status to a transport status code.
type ErrorResponse struct {
	Status  int
	Code    string
	Message string
}

// Common error responses
var (
	ErrInvalidSector = ErrorResponse{
		Status:  400,
		Code:    "invalid_sector",
		Message: "Invalid sector name. Use 2-50 characters: letters, digits, spaces, & or -",
	}
	ErrMissingToken = ErrorResponse{
		Status:  401,
		Code:    "missing_token",
		Message: "Access token is required. Use the /auth endpoint to obtain one",
	}
	ErrInvalidToken = ErrorResponse{
		Status:  401,
		Code:    "invalid_token",
		Message: "Invalid access token. Use the /auth endpoint to obtain a new one",
	}
	ErrTokenExpired = ErrorResponse{
		Status:  401,
		Code:    "token_expired",
		Message: "Access token has expired. Use the /auth endpoint to obtain a new one",
	}
	ErrTokenRevoked = ErrorResponse{
		Status:  401,
		Code:    "token_revoked",
		Message: "Access token has been revoked",
	}
	ErrRateLimited = ErrorResponse{
		Status:  429,
		Code:    "rate_limit_exceeded",
		Message: "Rate limit exceeded",
	}
	ErrUpstreamUnavailable = ErrorResponse{
		Status:  503,
		Code:    "upstream_unavailable",
		Message: "Analysis service failed after retries",
	}
	ErrUpstreamRejected = ErrorResponse{
		Status:  502,
		Code:    "upstream_rejected",
		Message: "Analysis service rejected the request",
	}
)
