// ABOUTME: Login and password recovery flows built on the directory, codec and code store
// ABOUTME: Errors never reveal whether an email is registered

package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/notify"
	"github.com/2389/huerto-gateway/internal/recovery"
	"github.com/2389/huerto-gateway/internal/store"
)

// MinPasswordLength is the shortest accepted new password, in characters.
const MinPasswordLength = 8

// Account errors
var (
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrRecoveryCodeMismatch = errors.New("invalid or expired recovery code")
	ErrWeakPassword         = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
)

var tracer = otel.Tracer("github.com/2389/huerto-gateway/internal/account")

// TokenMinter issues tokens for authenticated principals
type TokenMinter interface {
	Mint(subject string, role store.Role, now time.Time) (*auth.Token, error)
}

// Notifier queues a message for background delivery
type Notifier interface {
	Dispatch(msg notify.Message)
}

// Config holds the service's collaborators
type Config struct {
	Directory store.Directory
	Tokens    TokenMinter
	Codes     recovery.CodeStore
	Notifier  Notifier
	Logger    *slog.Logger
	Now       func() time.Time
}

// Service implements login, recovery code requests and password resets.
type Service struct {
	directory store.Directory
	tokens    TokenMinter
	codes     recovery.CodeStore
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates an account service
func NewService(cfg Config) (*Service, error) {
	if cfg.Directory == nil || cfg.Tokens == nil || cfg.Codes == nil || cfg.Notifier == nil {
		return nil, errors.New("account: directory, tokens, codes and notifier are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		directory: cfg.Directory,
		tokens:    cfg.Tokens,
		codes:     cfg.Codes,
		notifier:  cfg.Notifier,
		logger:    logger.With("component", "account"),
		now:       now,
	}, nil
}

// LoginResult is a minted token and the principal it was issued for
type LoginResult struct {
	Token     *auth.Token
	Principal *store.Principal
}

var (
	dummyHashOnce sync.Once
	dummyHash     string
)

// compareDummy spends the same bcrypt work as a real check so unknown emails
// cannot be told apart by response time.
func compareDummy(password string) {
	dummyHashOnce.Do(func() {
		h, err := auth.HashPassword("huerto-gateway-timing-equalizer")
		if err == nil {
			dummyHash = h
		}
	})
	auth.VerifyPassword(password, dummyHash)
}

// Login verifies email and password and mints a token carrying the stored role.
// Unknown emails and wrong passwords both return ErrInvalidCredentials.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	ctx, span := tracer.Start(ctx, "account.Login")
	defer span.End()

	email = store.NormalizeEmail(email)
	p, err := s.directory.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		compareDummy(password)
		s.logger.Info("login rejected", "reason", "unknown email")
		span.SetAttributes(attribute.Bool("account.login.ok", false))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory lookup failed")
		return nil, fmt.Errorf("looking up principal: %w", err)
	}

	if !auth.VerifyPassword(password, p.PasswordHash) {
		s.logger.Info("login rejected", "reason", "password mismatch", "principal_id", p.ID)
		span.SetAttributes(attribute.Bool("account.login.ok", false))
		return nil, ErrInvalidCredentials
	}

	tok, err := s.tokens.Mint(p.Email, p.Role, s.now())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "minting token")
		return nil, fmt.Errorf("minting token: %w", err)
	}

	s.logger.Info("login succeeded", "principal_id", p.ID, "role", p.Role)
	span.SetAttributes(attribute.Bool("account.login.ok", true), attribute.String("account.role", string(p.Role)))
	return &LoginResult{Token: tok, Principal: p}, nil
}

// RequestRecovery issues a recovery code for email and queues its delivery.
// Unregistered emails succeed silently.
func (s *Service) RequestRecovery(ctx context.Context, email string) error {
	ctx, span := tracer.Start(ctx, "account.RequestRecovery")
	defer span.End()

	email = store.NormalizeEmail(email)
	p, err := s.directory.GetPrincipalByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Info("recovery requested for unknown email")
		return nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "directory lookup failed")
		return fmt.Errorf("looking up principal: %w", err)
	}

	code, err := s.codes.Issue(ctx, p.Email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "issuing code")
		return fmt.Errorf("issuing recovery code: %w", err)
	}

	s.notifier.Dispatch(RecoveryMessage(p, code))
	s.logger.Info("recovery code issued", "principal_id", p.ID)
	return nil
}

// ResetPassword replaces the password for email if code is the live recovery
// code. The new password is validated before the code is consumed so a
// rejected password does not burn the code.
func (s *Service) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	ctx, span := tracer.Start(ctx, "account.ResetPassword")
	defer span.End()

	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	email = store.NormalizeEmail(email)
	ok, err := s.codes.Consume(ctx, email, code)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "consuming code")
		return fmt.Errorf("consuming recovery code: %w", err)
	}
	if !ok {
		s.logger.Info("password reset rejected", "reason", "code mismatch")
		return ErrRecoveryCodeMismatch
	}

	if err := s.directory.UpdatePasswordHash(ctx, email, hash); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrRecoveryCodeMismatch
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "updating password")
		return fmt.Errorf("updating password: %w", err)
	}

	s.logger.Info("password reset")
	return nil
}

// ValidatePassword enforces the password length rules.
func ValidatePassword(password string) error {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrWeakPassword
	}
	if len(password) > 72 {
		return auth.ErrPasswordTooLong
	}
	return nil
}
