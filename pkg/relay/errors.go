package relay

import (
	"fmt"
	"net/http"
)

// Error is rendered to the caller as {"code": ...} with HttpStatusCode.
// Description is for the log only and never leaves the process.
type Error struct {
	HttpStatusCode int    `json:"-"`
	Code           string `json:"code"`
	Description    string `json:"-"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("error: %s, description: %s", e.Code, e.Description)
}

const (
	CodeStateMismatch        = "state_mismatch"
	CodeRefreshTokenRequired = "refresh_token_required"
	CodeUpstreamExchange     = "spotify_communication_error"
	CodeInternalError        = "internal_error"
)

var errTemplateStateMismatch = Error{
	HttpStatusCode: http.StatusForbidden,
	Code:           CodeStateMismatch,
	Description:    "State mismatch",
}

var errTemplateMissingRefreshToken = Error{
	HttpStatusCode: http.StatusBadRequest,
	Code:           CodeRefreshTokenRequired,
	Description:    "Refresh token required",
}

var errTemplateUpstreamExchange = Error{
	HttpStatusCode: http.StatusInternalServerError,
	Code:           CodeUpstreamExchange,
	Description:    "Token exchange failed",
}

var errTemplateInternalError = Error{
	HttpStatusCode: http.StatusInternalServerError,
	Code:           CodeInternalError,
	Description:    "Internal error",
}

func elaborateError(template Error, description string, a ...any) *Error {
	template.Description = fmt.Sprintf(description, a...)
	return &template
}
