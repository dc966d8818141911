// ABOUTME: Default values for huerto-gateway configuration
// ABOUTME: Ships the storefront's public allowlist, rule table and CORS origins

package config

import (
	"path/filepath"
	"time"
)

// Default durations and limits
const (
	DefaultHTTPAddr        = "localhost:8080"
	DefaultTokenTTL        = 24 * time.Hour
	DefaultCodeTTL         = 15 * time.Minute
	DefaultMaxAttempts     = 5
	DefaultUpstreamTimeout = 30 * time.Second
	DefaultServiceName     = "huerto-gateway"
)

// DefaultPublicRoutes are reachable without a token; the Authorization
// header is never read on them.
func DefaultPublicRoutes() []string {
	return []string{
		"/swagger-ui.html",
		"/swagger-ui/**",
		"/v3/api-docs/**",
		"/swagger-resources/**",
		"/webjars/**",
		"/api/usuario/guardar",
		"/error",
		"/health",
		"/health/ready",
		"/grpc.health.v1.Health/*",
	}
}

// DefaultRules is the storefront rule table. Order matters: the first
// matching rule decides, so narrow public routes sit above the admin-only
// wildcards that would otherwise swallow them.
func DefaultRules() []RuleConfig {
	admin := []string{"admin"}
	return []RuleConfig{
		{Methods: []string{"POST"}, Pattern: "/api/usuario/login", Access: AccessPublic},
		{Methods: []string{"POST"}, Pattern: "/api/usuario/recuperar-contrasenna", Access: AccessPublic},
		{Methods: []string{"PUT"}, Pattern: "/api/usuario/actualizar-contrasenna", Access: AccessPublic},
		{Methods: []string{"PUT"}, Pattern: "/api/usuario/*/foto-perfil", Access: AccessPublic},
		{Methods: []string{"POST"}, Pattern: "/api/contacto/crear", Access: AccessPublic},
		{Methods: []string{"GET"}, Pattern: "/api/productos/**", Access: AccessPublic},

		{Methods: []string{"POST"}, Pattern: "/api/orden/guardar", Roles: []string{"usuario", "admin"}},

		{Methods: []string{"POST", "PUT", "DELETE"}, Pattern: "/api/productos/**", Roles: admin},
		{Methods: []string{"GET", "PUT", "DELETE"}, Pattern: "/api/orden/**", Roles: admin},
		{Methods: []string{"GET", "PUT", "DELETE"}, Pattern: "/api/usuario/**", Roles: admin},
		{Methods: []string{"GET", "DELETE"}, Pattern: "/api/contacto/**", Roles: admin},
	}
}

// DefaultCORSOrigins are the local frontend dev servers.
func DefaultCORSOrigins() []string {
	return []string{"http://localhost:5173", "http://localhost:3000"}
}

// Default returns a complete configuration with the database under dataDir.
// The JWT secret is left empty and must be supplied.
func Default(dataDir string) *Config {
	cfg := &Config{
		Database: DatabaseConfig{Path: filepath.Join(dataDir, "huerto.db")},
	}
	cfg.applyDefaults()
	cfg.Auth.TokenTTL = DefaultTokenTTL
	cfg.Recovery.CodeTTL = DefaultCodeTTL
	cfg.Upstream.Timeout = DefaultUpstreamTimeout
	return cfg
}

// applyDefaults fills unset fields. A nil rule or allowlist slice gets the
// storefront defaults; an explicit empty list in the file is kept empty.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.CORS.AllowedOrigins == nil {
		c.Server.CORS.AllowedOrigins = DefaultCORSOrigins()
	}
	if c.Tailscale.Funnel {
		c.Tailscale.HTTPS = true
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Auth.TokenTTLRaw == "" {
		c.Auth.TokenTTLRaw = DefaultTokenTTL.String()
	}
	if c.Auth.PublicRoutes == nil {
		c.Auth.PublicRoutes = DefaultPublicRoutes()
	}
	if c.Auth.Rules == nil {
		c.Auth.Rules = DefaultRules()
	}

	if c.Recovery.Backend == "" {
		c.Recovery.Backend = "memory"
	}
	if c.Recovery.CodeTTLRaw == "" {
		c.Recovery.CodeTTLRaw = DefaultCodeTTL.String()
	}
	if c.Recovery.MaxAttempts == 0 {
		c.Recovery.MaxAttempts = DefaultMaxAttempts
	}

	if c.Mail.Port == 0 {
		c.Mail.Port = 587
	}

	if c.Upstream.TimeoutRaw == "" {
		c.Upstream.TimeoutRaw = DefaultUpstreamTimeout.String()
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = DefaultServiceName
	}
	if c.Tracing.SampleRatio == 0 {
		c.Tracing.SampleRatio = 1
	}
}
