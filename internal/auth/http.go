// ABOUTME: Request authentication from bearer tokens against the principal directory
// ABOUTME: Resolves an Identity or leaves the request anonymous, never failing on token errors

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/huerto-gateway/internal/store"
)

const bearerPrefix = "Bearer "

var tracer = otel.Tracer("github.com/2389/huerto-gateway/internal/auth")

// PrincipalLookup is the slice of the directory authentication needs.
type PrincipalLookup interface {
	GetPrincipalByEmail(ctx context.Context, email string) (*store.Principal, error)
}

// AuthenticatorConfig holds the authenticator's collaborators.
type AuthenticatorConfig struct {
	Directory    PrincipalLookup
	Tokens       TokenVerifier
	PublicRoutes []string // Ant patterns where the Authorization header is never read
	Logger       *slog.Logger
	Now          func() time.Time
}

// Authenticator turns an Authorization header into an Identity.
// It is immutable after construction and safe for concurrent use.
type Authenticator struct {
	directory PrincipalLookup
	tokens    TokenVerifier
	public    []pathPattern
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthenticator validates the config and compiles the public allowlist.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	if cfg.Directory == nil {
		return nil, errors.New("auth: directory is required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("auth: token verifier is required")
	}
	public, err := compilePatterns(cfg.PublicRoutes)
	if err != nil {
		return nil, fmt.Errorf("public routes: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Authenticator{
		directory: cfg.Directory,
		tokens:    cfg.Tokens,
		public:    public,
		logger:    logger.With("component", "auth"),
		now:       now,
	}, nil
}

// IsPublic reports whether path is on the public allowlist.
func (a *Authenticator) IsPublic(path string) bool {
	for _, p := range a.public {
		if p.match(path) {
			return true
		}
	}
	return false
}

// extractBearerToken returns the token after "Bearer ", or "" if the header
// is absent or uses another scheme.
func extractBearerToken(header string) string {
	if !strings.HasPrefix(header, bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
}

// Authenticate resolves the caller for one request. A nil Identity with a nil
// error means anonymous. The only error returned is a directory failure other
// than ErrNotFound, which callers treat as an internal fault.
func (a *Authenticator) Authenticate(ctx context.Context, path, header string) (*Identity, error) {
	if a.IsPublic(path) {
		return nil, nil
	}

	raw := extractBearerToken(header)
	if raw == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "auth.Authenticate")
	defer span.End()

	tok, err := a.tokens.Verify(raw, a.now())
	if err != nil {
		a.logFailure(ctx, "token rejected", path, "error", err)
		span.SetAttributes(attribute.String("auth.outcome", "token_rejected"))
		return nil, nil
	}

	principal, err := a.directory.GetPrincipalByEmail(ctx, tok.Subject)
	if errors.Is(err, store.ErrNotFound) {
		a.logFailure(ctx, ErrUnknownPrincipal.Error(), path)
		span.SetAttributes(attribute.String("auth.outcome", "unknown_principal"))
		return nil, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory lookup failed")
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	span.SetAttributes(
		attribute.String("auth.outcome", "authenticated"),
		attribute.String("auth.role", string(principal.Role)),
	)
	return &Identity{
		PrincipalID: principal.ID,
		Email:       principal.Email,
		Role:        principal.Role,
	}, nil
}

// logFailure logs an authentication failure with structured context.
func (a *Authenticator) logFailure(ctx context.Context, reason, path string, attrs ...any) {
	base := []any{"reason", reason, "path", path}
	if addr, ok := ctx.Value(remoteAddrKey{}).(string); ok && addr != "" {
		base = append(base, "remote_addr", addr)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		base = append(base, "trace_id", sc.TraceID().String())
	}
	a.logger.WarnContext(ctx, "auth failure", append(base, attrs...)...)
}

type remoteAddrKey struct{}

// withRemoteAddr records the caller address for failure logs.
func withRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey{}, addr)
}

// Middleware authenticates each request and attaches the Identity to its
// context. Requests that already carry an Identity pass through untouched.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := withRemoteAddr(r.Context(), r.RemoteAddr)
		id, err := a.Authenticate(ctx, r.URL.Path, r.Header.Get("Authorization"))
		if err != nil {
			a.logger.Error("authentication failed", "path", r.URL.Path, "error", err)
			WriteFailure(w, r, http.StatusInternalServerError, "internal error")
			return
		}
		if id != nil {
			r = r.WithContext(WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}
