package errors

import "fmt"

// OAuth2Error represents a standardized OAuth 2.0 / OIDC error. It is returned
// as a value across component boundaries; callers branch on Code.
type OAuth2Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
	URI         string `json:"error_uri,omitempty"`
	State       string `json:"state,omitempty"`
}

func (e *OAuth2Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Standard OAuth2 / OIDC error codes
const (
	InvalidRequest          = "invalid_request"
	InvalidClient           = "invalid_client"
	UnverifiedClient        = "unverified_client"
	InvalidGrant            = "invalid_grant"
	InvalidScope            = "invalid_scope"
	InvalidToken            = "invalid_token"
	UnauthorizedClient      = "unauthorized_client"
	AccessDenied            = "access_denied"
	UnsupportedGrantType    = "unsupported_grant_type"
	UnsupportedResponseType = "unsupported_response_type"
	UnsupportedTokenType    = "unsupported_token_type"
	LoginRequired           = "login_required"
	ConflictingUpdate       = "conflicting_update"
	NotFound                = "not_found"
	ServerError             = "server_error"
	TemporarilyUnavailable  = "temporarily_unavailable"
)

// Common error constructors

func NewInvalidRequest(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidRequest, Description: description}
}

func NewInvalidClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidClient, Description: description}
}

// NewUnverifiedClient is returned for clients that are registered but not yet
// approved by an administrator. Such clients may neither be authorized nor
// redeem codes or refresh tokens.
func NewUnverifiedClient(clientID string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnverifiedClient,
		Description: fmt.Sprintf("OAuth client %s is not verified", clientID),
	}
}

func NewInvalidGrant(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidGrant, Description: description}
}

func NewInvalidScope(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidScope, Description: description}
}

func NewInvalidToken(description string) *OAuth2Error {
	return &OAuth2Error{Code: InvalidToken, Description: description}
}

func NewUnauthorizedClient(description string) *OAuth2Error {
	return &OAuth2Error{Code: UnauthorizedClient, Description: description}
}

func NewAccessDenied(description string) *OAuth2Error {
	return &OAuth2Error{Code: AccessDenied, Description: description}
}

func NewUnsupportedGrantType() *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedGrantType,
		Description: "The authorization grant type is not supported",
	}
}

func NewUnsupportedResponseType(responseType string) *OAuth2Error {
	return &OAuth2Error{
		Code:        UnsupportedResponseType,
		Description: fmt.Sprintf("Unsupported response type %q", responseType),
	}
}

func NewUnsupportedTokenType(description string) *OAuth2Error {
	return &OAuth2Error{Code: UnsupportedTokenType, Description: description}
}

// NewLoginRequired is returned when an anonymous caller attempts to authorize
// a client.
func NewLoginRequired() *OAuth2Error {
	return &OAuth2Error{
		Code:        LoginRequired,
		Description: "Authentication is required to authorize a client",
	}
}

// NewConflictingUpdate signals an etag mismatch on an optimistic-concurrency
// update. Retrieve the resource again and reapply the change.
func NewConflictingUpdate(description string) *OAuth2Error {
	return &OAuth2Error{Code: ConflictingUpdate, Description: description}
}

func NewNotFound(description string) *OAuth2Error {
	return &OAuth2Error{Code: NotFound, Description: description}
}

func NewServerError(description string) *OAuth2Error {
	return &OAuth2Error{Code: ServerError, Description: description}
}

// IsCode reports whether err is an OAuth2Error with the given code.
func IsCode(err error, code string) bool {
	oe, ok := err.(*OAuth2Error)
	return ok && oe.Code == code
}
