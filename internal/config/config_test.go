// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, HUERTO_* overrides and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"
  cors:
    allowed_origins:
      - "https://huerto.example"

database:
  driver: "sqlite"
  path: "./test.db"

auth:
  jwt_secret: "`+testSecret+`"
  token_ttl: "10h"
  public_routes:
    - "/api/usuario/login"
  rules:
    - methods: [GET]
      pattern: "/api/productos/**"
      access: public
    - methods: [POST, PUT]
      pattern: "/api/productos/**"
      roles: [admin]

recovery:
  backend: "database"
  code_ttl: "10m"
  max_attempts: 3

upstream:
  url: "http://localhost:9000"
  timeout: "5s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 1 || cfg.Server.CORS.AllowedOrigins[0] != "https://huerto.example" {
		t.Errorf("Server.CORS.AllowedOrigins = %v", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Database.Path != "./test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./test.db")
	}
	if cfg.Auth.TokenTTL != 10*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want %v", cfg.Auth.TokenTTL, 10*time.Hour)
	}
	if len(cfg.Auth.Rules) != 2 {
		t.Errorf("Auth.Rules len = %d, want 2", len(cfg.Auth.Rules))
	}
	if cfg.Recovery.Backend != "database" {
		t.Errorf("Recovery.Backend = %q, want database", cfg.Recovery.Backend)
	}
	if cfg.Recovery.CodeTTL != 10*time.Minute {
		t.Errorf("Recovery.CodeTTL = %v, want %v", cfg.Recovery.CodeTTL, 10*time.Minute)
	}
	if cfg.Recovery.MaxAttempts != 3 {
		t.Errorf("Recovery.MaxAttempts = %d, want 3", cfg.Recovery.MaxAttempts)
	}
	if cfg.Upstream.Timeout != 5*time.Second {
		t.Errorf("Upstream.Timeout = %v, want %v", cfg.Upstream.Timeout, 5*time.Second)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != DefaultHTTPAddr {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, DefaultHTTPAddr)
	}
	if cfg.Server.GRPCAddr != "" {
		t.Errorf("Server.GRPCAddr = %q, want empty", cfg.Server.GRPCAddr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver = %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.Recovery.CodeTTL != 15*time.Minute {
		t.Errorf("Recovery.CodeTTL = %v, want 15m", cfg.Recovery.CodeTTL)
	}
	if cfg.Recovery.MaxAttempts != 5 {
		t.Errorf("Recovery.MaxAttempts = %d, want 5", cfg.Recovery.MaxAttempts)
	}
	if cfg.Recovery.Backend != "memory" {
		t.Errorf("Recovery.Backend = %q, want memory", cfg.Recovery.Backend)
	}
	if len(cfg.Auth.PublicRoutes) != len(DefaultPublicRoutes()) {
		t.Errorf("Auth.PublicRoutes = %v, want defaults", cfg.Auth.PublicRoutes)
	}
	if len(cfg.Auth.Rules) != len(DefaultRules()) {
		t.Errorf("Auth.Rules len = %d, want %d", len(cfg.Auth.Rules), len(DefaultRules()))
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 2 {
		t.Errorf("Server.CORS.AllowedOrigins = %v, want defaults", cfg.Server.CORS.AllowedOrigins)
	}
	if cfg.Tracing.ServiceName != DefaultServiceName {
		t.Errorf("Tracing.ServiceName = %q, want %q", cfg.Tracing.ServiceName, DefaultServiceName)
	}
}

func TestLoad_ExplicitEmptyRulesKept(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
  public_routes: []
  rules: []
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Auth.Rules) != 0 {
		t.Errorf("Auth.Rules = %v, want empty", cfg.Auth.Rules)
	}
	if len(cfg.Auth.PublicRoutes) != 0 {
		t.Errorf("Auth.PublicRoutes = %v, want empty", cfg.Auth.PublicRoutes)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "gateway.toml", `
[server]
http_addr = "127.0.0.1:9090"

[database]
driver = "postgres"
dsn = "postgres://huerto@localhost/huerto"

[auth]
jwt_secret = "`+testSecret+`"
token_ttl = "1h"

[[auth.rules]]
methods = ["DELETE"]
pattern = "/api/orden/**"
roles = ["admin"]
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN == "" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Auth.TokenTTL != time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 1h", cfg.Auth.TokenTTL)
	}
	if len(cfg.Auth.Rules) != 1 || cfg.Auth.Rules[0].Pattern != "/api/orden/**" {
		t.Errorf("Auth.Rules = %+v", cfg.Auth.Rules)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HUERTO_SECRET", testSecret)
	t.Setenv("TEST_HUERTO_DB", "/var/lib/huerto/huerto.db")

	configPath := writeConfig(t, "config.yaml", `
database:
  path: "${TEST_HUERTO_DB}"
auth:
  jwt_secret: "${TEST_HUERTO_SECRET}"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded value", cfg.Auth.JWTSecret)
	}
	if cfg.Database.Path != "/var/lib/huerto/huerto.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
}

func TestLoad_EnvVarExpansion_UnsetVar(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "${HUERTO_TEST_SECRET_THAT_IS_NOT_SET}"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for empty secret, got nil")
	}
	if !strings.Contains(err.Error(), "jwt_secret is required") {
		t.Errorf("error = %v, want mention of jwt_secret", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HUERTO_JWT_SECRET", testSecret+"-from-env")
	t.Setenv("HUERTO_TOKEN_TTL", "2h")
	t.Setenv("HUERTO_HTTP_ADDR", "0.0.0.0:8181")
	t.Setenv("HUERTO_CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	configPath := writeConfig(t, "config.yaml", `
server:
  http_addr: "localhost:8080"
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
  token_ttl: "24h"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret+"-from-env" {
		t.Errorf("Auth.JWTSecret not overridden")
	}
	if cfg.Auth.TokenTTL != 2*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 2h", cfg.Auth.TokenTTL)
	}
	if cfg.Server.HTTPAddr != "0.0.0.0:8181" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if len(cfg.Server.CORS.AllowedOrigins) != 2 || cfg.Server.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("Server.CORS.AllowedOrigins = %v", cfg.Server.CORS.AllowedOrigins)
	}
}

func TestFinish_InjectedEnvironment(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{Path: "./x.db"}}
	err := cfg.finish(map[string]string{
		"HUERTO_JWT_SECRET":      testSecret,
		"HUERTO_DATABASE_DRIVER": "postgres",
		"HUERTO_DATABASE_DSN":    "postgres://localhost/huerto",
		"HUERTO_UPSTREAM_URL":    "http://tienda:8081",
		"HUERTO_SMTP_PASSWORD":   "hunter2",
	})
	if err != nil {
		t.Fatalf("finish() error = %v", err)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://localhost/huerto" {
		t.Errorf("Database = %+v", cfg.Database)
	}
	if cfg.Upstream.URL != "http://tienda:8081" {
		t.Errorf("Upstream.URL = %q", cfg.Upstream.URL)
	}
	if cfg.Mail.Password != "hunter2" {
		t.Errorf("Mail.Password not overridden")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", "server:\n  http_addr: [unclosed\n")
	if _, err := Load(configPath); err == nil {
		t.Fatal("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
database:
  path: "./test.db"
auth:
  jwt_secret: "`+testSecret+`"
  token_ttl: "a day"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected error for invalid duration, got nil")
	}
	if !strings.Contains(err.Error(), "token_ttl") {
		t.Errorf("error = %v, want mention of token_ttl", err)
	}
}

func validConfig() *Config {
	cfg := Default(os.TempDir())
	cfg.Auth.JWTSecret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults are valid", func(*Config) {}, ""},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "jwt_secret is required"},
		{"zero ttl", func(c *Config) { c.Auth.TokenTTL = 0 }, "token_ttl must be positive"},
		{"no http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr is required"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite without path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"postgres without dsn", func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		{"unknown recovery backend", func(c *Config) { c.Recovery.Backend = "redis" }, "recovery.backend"},
		{"mail without host", func(c *Config) { c.Mail.Enabled = true }, "mail.host"},
		{"relative upstream", func(c *Config) { c.Upstream.URL = "/api" }, "upstream.url"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"tracing without endpoint", func(c *Config) { c.Tracing.Enabled = true }, "tracing.endpoint"},
		{
			"unknown access",
			func(c *Config) { c.Auth.Rules = []RuleConfig{{Pattern: "/x", Access: "sometimes"}} },
			"unknown access",
		},
		{
			"access with roles",
			func(c *Config) {
				c.Auth.Rules = []RuleConfig{{Pattern: "/x", Access: AccessPublic, Roles: []string{"admin"}}}
			},
			"mutually exclusive",
		},
		{
			"unknown role",
			func(c *Config) { c.Auth.Rules = []RuleConfig{{Pattern: "/x", Roles: []string{"owner"}}} },
			"auth.rules[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_TailscaleConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Server.HTTPAddr = ""
	cfg.Tailscale.Enabled = true

	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "tailscale.hostname") {
		t.Fatalf("Validate() error = %v, want hostname error", err)
	}

	cfg.Tailscale.Hostname = "huerto"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}

func TestPolicyRules_DefaultsBuildPolicy(t *testing.T) {
	cfg := validConfig()
	rules, err := cfg.Auth.PolicyRules()
	if err != nil {
		t.Fatalf("PolicyRules() error = %v", err)
	}

	policy, err := auth.NewPolicy(rules)
	if err != nil {
		t.Fatalf("NewPolicy(defaults) error = %v", err)
	}

	admin := &auth.Identity{PrincipalID: "1", Email: "admin@huerto.cl", Role: store.RoleAdmin}
	user := &auth.Identity{PrincipalID: "2", Email: "ana@huerto.cl", Role: store.RoleUser}

	tests := []struct {
		method string
		path   string
		id     *auth.Identity
		permit bool
	}{
		{"POST", "/api/usuario/login", nil, true},
		{"POST", "/api/usuario/guardar", nil, true},
		{"GET", "/swagger-ui/index.html", nil, true},
		{"GET", "/api/productos/12", nil, true},
		{"POST", "/api/productos/guardar", user, false},
		{"POST", "/api/productos/guardar", admin, true},
		{"POST", "/api/orden/guardar", user, true},
		{"POST", "/api/orden/guardar", nil, false},
		{"GET", "/api/orden/listar", user, false},
		{"GET", "/api/orden/listar", admin, true},
		{"PUT", "/api/usuario/actualizar-contrasenna", nil, true},
		{"PUT", "/api/usuario/7/foto-perfil", nil, true},
		{"PUT", "/api/usuario/7", user, false},
		{"DELETE", "/api/contacto/3", admin, true},
		{"GET", "/api/auth/me", user, true},
		{"GET", "/api/auth/me", nil, false},
	}

	for _, tt := range tests {
		d := policy.Decide(tt.method, tt.path, tt.id)
		if d.Permit != tt.permit {
			t.Errorf("Decide(%s %s, %v) permit = %v, want %v (reason %v)", tt.method, tt.path, tt.id, d.Permit, tt.permit, d.Reason)
		}
	}
}

func TestPolicyRules_ExpandsMethods(t *testing.T) {
	a := AuthConfig{
		PublicRoutes: []string{"/error"},
		Rules: []RuleConfig{
			{Methods: []string{"GET", "DELETE"}, Pattern: "/api/contacto/**", Roles: []string{"ROLE_admin"}},
			{Pattern: "/api/**"},
		},
	}

	rules, err := a.PolicyRules()
	if err != nil {
		t.Fatalf("PolicyRules() error = %v", err)
	}
	if len(rules) != 4 {
		t.Fatalf("len(rules) = %d, want 4", len(rules))
	}
	if rules[0].Method != auth.AnyMethod || rules[0].Pattern != "/error" {
		t.Errorf("rules[0] = %v, want public /error", rules[0])
	}
	if rules[1].Method != "GET" || rules[2].Method != "DELETE" {
		t.Errorf("methods = %s, %s", rules[1].Method, rules[2].Method)
	}
	if rules[3].Method != auth.AnyMethod {
		t.Errorf("rules[3].Method = %q, want any", rules[3].Method)
	}
}

func TestMarshal_RoundTrip(t *testing.T) {
	for _, name := range []string{"gateway.yaml", "gateway.toml"} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			data, err := cfg.Marshal(name)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			path := writeConfig(t, name, string(data))

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load() error = %v\n%s", err, data)
			}
			if loaded.Auth.JWTSecret != testSecret {
				t.Errorf("secret not preserved")
			}
			if len(loaded.Auth.Rules) != len(DefaultRules()) {
				t.Errorf("rules len = %d, want %d", len(loaded.Auth.Rules), len(DefaultRules()))
			}
			if loaded.Auth.TokenTTL != DefaultTokenTTL {
				t.Errorf("token ttl = %v", loaded.Auth.TokenTTL)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("HUERTO_TEST_A", "alpha")

	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"${HUERTO_TEST_A}", "alpha"},
		{"x-${HUERTO_TEST_A}-y", "x-alpha-y"},
		{"${HUERTO_TEST_UNSET_VAR}", ""},
		{"$HUERTO_TEST_A", "$HUERTO_TEST_A"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
