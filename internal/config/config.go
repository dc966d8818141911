// ABOUTME: Configuration loading and parsing for huerto-gateway
// ABOUTME: Supports YAML or TOML files with env var expansion, HUERTO_* overrides and duration parsing

package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/store"
)

// Config represents the complete huerto-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Recovery  RecoveryConfig  `yaml:"recovery" toml:"recovery"`
	Mail      MailConfig      `yaml:"mail" toml:"mail"`
	Upstream  UpstreamConfig  `yaml:"upstream" toml:"upstream"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing" toml:"tracing"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string     `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string     `yaml:"grpc_addr,omitempty" toml:"grpc_addr"` // optional; empty disables gRPC
	CORS     CORSConfig `yaml:"cors" toml:"cors"`
}

// CORSConfig lists browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname,omitempty" toml:"hostname"`
	AuthKey   string `yaml:"auth_key,omitempty" toml:"auth_key"`
	StateDir  string `yaml:"state_dir,omitempty" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral,omitempty" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https,omitempty" toml:"https"`   // serve HTTPS on :443 with tailnet certs
	Funnel    bool   `yaml:"funnel,omitempty" toml:"funnel"` // expose publicly via Funnel (implies HTTPS)
}

// DatabaseConfig selects the principal directory backend
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // sqlite or postgres
	Path   string `yaml:"path,omitempty" toml:"path"`
	DSN    string `yaml:"dsn,omitempty" toml:"dsn"`
}

// AuthConfig holds token and authorization configuration
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL     time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw  string        `yaml:"token_ttl" toml:"token_ttl"`
	PublicRoutes []string      `yaml:"public_routes" toml:"public_routes"`
	Rules        []RuleConfig  `yaml:"rules" toml:"rules"`
}

// RuleConfig is one authorization rule as written in the config file.
// Methods empty means any method. Access is "public" or "authenticated";
// when Roles is set the caller must hold one of them instead.
type RuleConfig struct {
	Methods []string `yaml:"methods,omitempty,flow" toml:"methods"`
	Pattern string   `yaml:"pattern" toml:"pattern"`
	Access  string   `yaml:"access,omitempty" toml:"access"`
	Roles   []string `yaml:"roles,omitempty,flow" toml:"roles"`
}

// Access levels for RuleConfig
const (
	AccessPublic        = "public"
	AccessAuthenticated = "authenticated"
)

// RecoveryConfig holds password recovery settings
type RecoveryConfig struct {
	Backend     string        `yaml:"backend" toml:"backend"` // memory or database
	CodeTTL     time.Duration `yaml:"-" toml:"-"`
	CodeTTLRaw  string        `yaml:"code_ttl" toml:"code_ttl"`
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
}

// MailConfig holds outbound SMTP settings for recovery e-mails
type MailConfig struct {
	Enabled            bool   `yaml:"enabled" toml:"enabled"`
	Host               string `yaml:"host,omitempty" toml:"host"`
	Port               int    `yaml:"port,omitempty" toml:"port"`
	Username           string `yaml:"username,omitempty" toml:"username"`
	Password           string `yaml:"password,omitempty" toml:"password"`
	From               string `yaml:"from,omitempty" toml:"from"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty" toml:"insecure_skip_verify"`
}

// UpstreamConfig points at the resource API requests are forwarded to
type UpstreamConfig struct {
	URL        string        `yaml:"url,omitempty" toml:"url"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout,omitempty" toml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// TracingConfig holds OpenTelemetry exporter configuration
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" toml:"enabled"`
	Endpoint    string  `yaml:"endpoint,omitempty" toml:"endpoint"` // host:port of an OTLP/HTTP collector
	Insecure    bool    `yaml:"insecure,omitempty" toml:"insecure"`
	ServiceName string  `yaml:"service_name,omitempty" toml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio,omitempty" toml:"sample_ratio"`
}

// envOverrides are HUERTO_* variables applied over the file values.
type envOverrides struct {
	JWTSecret       string   `env:"JWT_SECRET"`
	TokenTTL        string   `env:"TOKEN_TTL"`
	HTTPAddr        string   `env:"HTTP_ADDR"`
	GRPCAddr        string   `env:"GRPC_ADDR"`
	DatabaseDriver  string   `env:"DATABASE_DRIVER"`
	DatabaseDSN     string   `env:"DATABASE_DSN"`
	DatabasePath    string   `env:"DATABASE_PATH"`
	UpstreamURL     string   `env:"UPSTREAM_URL"`
	SMTPPassword    string   `env:"SMTP_PASSWORD"`
	LogLevel        string   `env:"LOG_LEVEL"`
	CORSOrigins     []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	TracingEndpoint string   `env:"OTLP_ENDPOINT"`
}

// EnvPrefix prefixes every environment override
const EnvPrefix = "HUERTO_"

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, defaults are
// filled in, HUERTO_* overrides are applied and the result is validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.finish(nil); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finish applies defaults, env overrides (environ nil means the process
// environment), parses durations and validates.
func (c *Config) finish(environ map[string]string) error {
	c.applyDefaults()

	if err := c.applyEnv(environ); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyEnv(environ map[string]string) error {
	var ov envOverrides
	if err := env.ParseWithOptions(&ov, env.Options{Prefix: EnvPrefix, Environment: environ}); err != nil {
		return err
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Auth.JWTSecret, ov.JWTSecret)
	set(&c.Auth.TokenTTLRaw, ov.TokenTTL)
	set(&c.Server.HTTPAddr, ov.HTTPAddr)
	set(&c.Server.GRPCAddr, ov.GRPCAddr)
	set(&c.Database.Driver, ov.DatabaseDriver)
	set(&c.Database.DSN, ov.DatabaseDSN)
	set(&c.Database.Path, ov.DatabasePath)
	set(&c.Upstream.URL, ov.UpstreamURL)
	set(&c.Mail.Password, ov.SMTPPassword)
	set(&c.Logging.Level, ov.LogLevel)
	set(&c.Tracing.Endpoint, ov.TracingEndpoint)
	if len(ov.CORSOrigins) > 0 {
		c.Server.CORS.AllowedOrigins = ov.CORSOrigins
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// HTTP address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	// Tailscale requires a hostname
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch store.Driver(c.Database.Driver) {
	case store.DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case store.DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < auth.MinSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if _, err := c.Auth.PolicyRules(); err != nil {
		return err
	}

	switch c.Recovery.Backend {
	case "memory", "database":
	default:
		return fmt.Errorf("recovery.backend must be memory or database, got %q", c.Recovery.Backend)
	}

	if c.Mail.Enabled && (c.Mail.Host == "" || c.Mail.From == "") {
		return fmt.Errorf("mail.host and mail.from are required when mail is enabled")
	}

	if c.Upstream.URL != "" {
		u, err := url.Parse(c.Upstream.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("upstream.url must be an absolute http(s) URL, got %q", c.Upstream.URL)
		}
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format must be json or text, got %q", c.Logging.Format)
	}

	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}

	return nil
}

// PolicyRules expands the configured allowlist and rule table into the
// ordered auth rules: allowlist first (any method), then each rule once per method.
func (a AuthConfig) PolicyRules() ([]auth.Rule, error) {
	rules := auth.PublicRules(a.PublicRoutes)

	for i, rc := range a.Rules {
		req, err := rc.requirement()
		if err != nil {
			return nil, fmt.Errorf("auth.rules[%d]: %w", i, err)
		}
		methods := rc.Methods
		if len(methods) == 0 {
			methods = []string{auth.AnyMethod}
		}
		for _, m := range methods {
			rules = append(rules, auth.Rule{Method: m, Pattern: rc.Pattern, Requirement: req})
		}
	}
	return rules, nil
}

func (rc RuleConfig) requirement() (auth.Requirement, error) {
	if len(rc.Roles) > 0 {
		if rc.Access != "" {
			return auth.Requirement{}, fmt.Errorf("access and roles are mutually exclusive")
		}
		roles := make([]store.Role, 0, len(rc.Roles))
		for _, name := range rc.Roles {
			r, err := store.ParseRole(name)
			if err != nil {
				return auth.Requirement{}, err
			}
			roles = append(roles, r)
		}
		if len(roles) == 1 {
			return auth.RoleEquals(roles[0]), nil
		}
		return auth.AnyRole(roles...), nil
	}

	switch rc.Access {
	case AccessPublic:
		return auth.Public(), nil
	case AccessAuthenticated, "":
		return auth.Authenticated(), nil
	default:
		return auth.Requirement{}, fmt.Errorf("unknown access %q", rc.Access)
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	if cfg.Recovery.CodeTTLRaw != "" {
		cfg.Recovery.CodeTTL, err = time.ParseDuration(cfg.Recovery.CodeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing code_ttl %q: %w", cfg.Recovery.CodeTTLRaw, err)
		}
	}

	if cfg.Upstream.TimeoutRaw != "" {
		cfg.Upstream.Timeout, err = time.ParseDuration(cfg.Upstream.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream timeout %q: %w", cfg.Upstream.TimeoutRaw, err)
		}
	}

	return nil
}

// Marshal renders the config as YAML, or TOML when path ends in .toml.
func (c *Config) Marshal(path string) ([]byte, error) {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return yaml.Marshal(c)
}
