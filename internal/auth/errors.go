// ABOUTME: Sentinel errors for token verification, authentication and authorization
// ABOUTME: Token errors never leave the authenticator; decisions carry Unauthenticated or Forbidden

package auth

import "errors"

// Token errors returned by Codec.Verify
var (
	ErrMalformed    = errors.New("malformed token")
	ErrBadSignature = errors.New("bad token signature")
	ErrExpired      = errors.New("token expired")
)

// ErrUnknownPrincipal means a token verified but its subject is not in the directory.
var ErrUnknownPrincipal = errors.New("unknown principal")

// Authorization outcomes. Unauthenticated maps to 401, Forbidden to 403.
var (
	ErrUnauthenticated = errors.New("authentication required")
	ErrForbidden       = errors.New("access denied")
)

// Construction errors
var (
	ErrWeakSecret      = errors.New("jwt secret too short")
	ErrShadowedRule    = errors.New("authorization rule is unreachable")
	ErrInvalidRule     = errors.New("invalid authorization rule")
	ErrPasswordTooLong = errors.New("password exceeds 72 bytes")
)
