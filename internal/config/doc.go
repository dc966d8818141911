// Package config handles configuration loading for huerto-gateway.
//
// # Configuration File
//
// Files ending in .toml are read as TOML; anything else is YAML. The
// command line looks for the file at (in order):
//
//  1. Path from HUERTO_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/huerto/gateway.yaml
//  3. ~/.config/huerto/gateway.yaml
//
// # Environment Variables
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	auth:
//	  jwt_secret: "${HUERTO_SECRET}"
//
// After the file is decoded, HUERTO_* variables override individual
// settings: HUERTO_JWT_SECRET, HUERTO_TOKEN_TTL, HUERTO_HTTP_ADDR,
// HUERTO_GRPC_ADDR, HUERTO_DATABASE_DRIVER, HUERTO_DATABASE_DSN,
// HUERTO_DATABASE_PATH, HUERTO_UPSTREAM_URL, HUERTO_SMTP_PASSWORD,
// HUERTO_LOG_LEVEL, HUERTO_CORS_ALLOWED_ORIGINS and HUERTO_OTLP_ENDPOINT.
//
// # Authorization Rules
//
// The allowlist and rule table are evaluated in order, first match wins:
//
//	auth:
//	  public_routes:
//	    - "/api/usuario/guardar"
//	  rules:
//	    - methods: [GET]
//	      pattern: "/api/productos/**"
//	      access: public
//	    - methods: [POST, PUT, DELETE]
//	      pattern: "/api/productos/**"
//	      roles: [admin]
//
// Omitting public_routes or rules installs the storefront defaults; an
// explicit empty list disables them. Requests no rule matches require an
// authenticated caller.
//
// # Validation
//
// Load() rejects a missing or short (< 32 bytes) JWT secret, unknown
// database drivers, malformed durations, unknown access levels or roles,
// and rule tables that fail to compile.
package config
