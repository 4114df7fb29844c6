package auth

import "errors"

// Sentinel errors shared by the token parser, the HTTP middleware, and the
// ingest signature check.
var (
	ErrUnauthorized = errors.New("auth: unauthorized")
	ErrForbidden    = errors.New("auth: forbidden")
	ErrInvalidToken = errors.New("auth: invalid token")
)
