// Package apperr defines the error taxonomy shared by the chat subsystem.
// Handlers map these onto structured acks; anything unrecognized is reported
// as ErrInternal without leaking details to the client.
package apperr

import "errors"

var (
	// ErrAuthenticationRequired means the connection carried no valid credential.
	ErrAuthenticationRequired = errors.New("authentication required")
	// ErrAccessDenied means the user is authenticated but not allowed on the thread.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound means the question, message or user does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest means the payload was malformed or failed validation.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrRateLimited means the user exceeded the event budget and should back off.
	ErrRateLimited = errors.New("rate limited")
	// ErrInternal is the generic surface for unexpected failures.
	ErrInternal = errors.New("internal error")
)

// Code returns the wire code for an error, for use in acks and REST bodies.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return "authentication_required"
	case errors.Is(err, ErrAccessDenied):
		return "access_denied"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal_error"
	}
}
