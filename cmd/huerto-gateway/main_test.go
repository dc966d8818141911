// ABOUTME: Tests for CLI helpers: flag parsing, rule table checks and logger setup
// ABOUTME: Commands that need a terminal or a running server are not exercised here

package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/config"
)

func TestParseFlags(t *testing.T) {
	aliases := map[string]string{"--email": "--email", "-e": "--email", "--name": "--name"}

	tests := []struct {
		name    string
		args    []string
		want    map[string]string
		wantErr string
	}{
		{"separate value", []string{"--email", "a@b.cl"}, map[string]string{"--email": "a@b.cl"}, ""},
		{"equals form", []string{"--email=a@b.cl", "--name=Ana"}, map[string]string{"--email": "a@b.cl", "--name": "Ana"}, ""},
		{"short alias", []string{"-e", "a@b.cl"}, map[string]string{"--email": "a@b.cl"}, ""},
		{"missing value", []string{"--email"}, nil, "requires a value"},
		{"unknown flag", []string{"--role", "admin"}, nil, "unknown flag"},
		{"positional", []string{"admin"}, nil, "unexpected argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, aliases)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckRules_Defaults(t *testing.T) {
	cfg := config.Default(t.TempDir())

	var out bytes.Buffer
	require.NoError(t, checkRules(&out, cfg.Auth))

	assert.Contains(t, out.String(), "POST /api/usuario/login -> public")
	assert.Contains(t, out.String(), "DELETE /api/contacto/** -> role(admin)")
	assert.NotContains(t, out.String(), "unreachable")
}

func TestCheckRules_ReportsShadowed(t *testing.T) {
	a := config.AuthConfig{
		PublicRoutes: []string{},
		Rules: []config.RuleConfig{
			{Methods: []string{"GET"}, Pattern: "/api/**", Roles: []string{"admin"}},
			{Methods: []string{"GET"}, Pattern: "/api/productos/**", Access: config.AccessPublic},
		},
	}

	var out bytes.Buffer
	err := checkRules(&out, a)
	require.ErrorIs(t, err, auth.ErrShadowedRule)
	assert.Contains(t, out.String(), "unreachable, shadowed by rule 0")
}

func TestGenerateSecret(t *testing.T) {
	s, err := generateSecret()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(s), auth.MinSecretLength)

	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	assert.Len(t, raw, 32)

	other, err := generateSecret()
	require.NoError(t, err)
	assert.NotEqual(t, s, other)
}

func TestWriteConfig_LoadsBack(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "gateway.yaml")

	cfg := config.Default(dir)
	secret, err := generateSecret()
	require.NoError(t, err)
	cfg.Auth.JWTSecret = secret

	require.NoError(t, writeConfig(path, cfg, "# test\n"))

	loaded, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, secret, loaded.Auth.JWTSecret)
	assert.Equal(t, cfg.Database.Path, loaded.Database.Path)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "warn", Format: "json"})

	logger.Info("hidden")
	logger.Warn("shown", "reason", "expired")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "expired", rec["reason"])
}

func TestNewLogger_TextGroupsAndAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LoggingConfig{Level: "debug", Format: "text"})

	logger.With("component", "auth").WithGroup("req").Debug("hello", "path", "/api", slog.Group("peer", "addr", "10.0.0.1"))

	out := buf.String()
	assert.Contains(t, out, "hello")
	assert.Contains(t, out, "component=auth")
	assert.Contains(t, out, "req.path=/api")
	assert.Contains(t, out, "req.peer.addr=10.0.0.1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
