// Package gateway orchestrates the huerto-gateway server components.
//
// # Overview
//
// The Gateway owns the principal directory, the token codec, the
// authorization policy, the recovery code store and the mail dispatcher,
// and runs them behind one HTTP server and an optional gRPC server.
//
// # HTTP Chain
//
// Every request passes through, in order:
//
//  1. request ID assignment (X-Request-Id)
//  2. access logging
//  3. CORS, which answers preflights before any authentication
//  4. authentication: the bearer token is verified and the principal's
//     current role is loaded from the directory
//  5. authorization against the ordered rule table
//  6. the account routes, or the reverse proxy to upstream.url
//
// /health and /health/ready sit outside the chain.
//
// # Account Routes
//
//	POST /api/usuario/login                   email + contrasenna -> bearer token
//	POST /api/usuario/recuperar-contrasenna   email -> recovery code by mail
//	PUT  /api/usuario/actualizar-contrasenna  email + codigo + contrasennaNueva
//	GET  /api/auth/me                         caller identity
//
// # Upstream
//
// Forwarded requests carry X-Auth-Principal-Id, X-Auth-Email and
// X-Auth-Role for authenticated callers. Copies of those headers sent by
// the client are always removed.
//
// # gRPC
//
// When server.grpc_addr is set (or Tailscale is enabled) a gRPC server runs
// the standard health service behind the same authentication and policy,
// evaluating each call as POST /package.Service/Method.
package gateway
