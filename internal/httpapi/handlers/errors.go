// Package handlers – stable HTTP error codes.
//
// Codes are lowercase snake_case and supplement the HTTP status with a
// machine-readable taxonomy clients can branch on.
package handlers

const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorized = "unauthorized"
	ErrCodeNotFound     = "not_found"
	ErrCodeConflict     = "conflict"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeInternal     = "internal_error"

	// Domain-specific:
	ErrCodeLimitReached     = "limit_reached"
	ErrCodeUnsupportedURL   = "unsupported_url"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)
