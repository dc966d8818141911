// Package auth provides stateless authentication and authorization for huerto-gateway.
//
// # Tokens
//
// Codec mints and verifies HS256 JWTs signed with the configured jwt_secret.
// The payload carries sub (the principal's email), role, the legacy
// authorities list ("ROLE_<role>"), iat and exp. Verify checks the signature
// first, then expiry, then the claims, and reports failures as ErrBadSignature,
// ErrExpired or ErrMalformed.
//
// # Authentication
//
// Authenticator runs once per request:
//
//  1. Paths on the public allowlist stay anonymous and the header is never read.
//  2. A missing or non-Bearer Authorization header stays anonymous.
//  3. A token that fails verification stays anonymous and is logged.
//  4. A subject missing from the directory stays anonymous.
//  5. Otherwise the request carries an Identity with the directory's current role.
//
// Token problems never fail the request here. Only a directory fault does,
// and it surfaces as a 500 with no detail.
//
// # Authorization
//
// Policy is an ordered rule table where the first matching rule decides.
// Requests that match no rule must be authenticated. Patterns are Ant style:
//
//	/api/productos/**          any depth below /api/productos
//	/api/usuario/*/foto-perfil exactly one segment in the middle
//
// NewPolicy refuses tables where a broad rule precedes a narrower one that it
// fully covers, since the narrower rule could never apply:
//
//	ANY  /x/**  authenticated   <- matches everything below
//	POST /x/**  role(admin)     <- unreachable, ErrShadowedRule
//
// Denials carry ErrUnauthenticated (401) or ErrForbidden (403).
//
// # gRPC
//
// UnaryInterceptor and StreamInterceptor apply the same pipeline, reading the
// "authorization" metadata key and evaluating the call as POST <full method>.
package auth
