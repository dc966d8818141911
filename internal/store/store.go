// ABOUTME: Principal directory types and store interfaces for huerto-gateway
// ABOUTME: Defines Principal, the canonical Role set, recovery codes and store errors

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateEmail is returned when creating a principal whose email is already registered
var ErrDuplicateEmail = errors.New("email already registered")

// ErrUnknownRole is returned when a role string is outside the canonical set
var ErrUnknownRole = errors.New("unknown role")

// Role is the canonical role of a principal. Only the values in ValidRoles exist.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "usuario"
)

// ValidRoles lists all valid roles
var ValidRoles = []Role{
	RoleAdmin,
	RoleUser,
}

// legacyRolePrefix is the authority prefix older records and tokens carry.
const legacyRolePrefix = "ROLE_"

// ParseRole normalizes a stored or transmitted role string into a Role.
// Both "admin" and the legacy "ROLE_admin" forms are accepted.
func ParseRole(s string) (Role, error) {
	name := strings.TrimPrefix(strings.TrimSpace(s), legacyRolePrefix)
	for _, r := range ValidRoles {
		if string(r) == name {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
}

// Authority returns the legacy authority string for the role ("ROLE_admin").
// It only exists for wire compatibility with clients reading the authorities claim.
func (r Role) Authority() string {
	return legacyRolePrefix + string(r)
}

// Principal is a user known to the directory
type Principal struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	DisplayName  string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RecoveryCode is a short-lived single-use password reset code
type RecoveryCode struct {
	Email     string
	Code      string
	CreatedAt time.Time
}

// Directory is the read side of the user store that authentication depends on,
// plus the password update the recovery flow needs.
type Directory interface {
	GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error)
	PrincipalExists(ctx context.Context, email string) (bool, error)
	UpdatePasswordHash(ctx context.Context, email, passwordHash string) error
}

// RecoveryCodeStore persists recovery codes for the database-backed code store.
type RecoveryCodeStore interface {
	// PutRecoveryCode inserts or replaces the live code for rc.Email.
	PutRecoveryCode(ctx context.Context, rc *RecoveryCode) error
	// TakeRecoveryCode deletes the code for email if it matches and was created
	// at or after notBefore. Returns true only for the caller that deleted it.
	// A mismatch counts as a failed attempt; after maxAttempts the code is dropped.
	TakeRecoveryCode(ctx context.Context, email, code string, notBefore time.Time, maxAttempts int) (bool, error)
	// PurgeRecoveryCodes removes codes created before olderThan.
	PurgeRecoveryCodes(ctx context.Context, olderThan time.Time) (int64, error)
}

// Store is the full persistence interface used by the gateway
type Store interface {
	Directory
	RecoveryCodeStore

	CreatePrincipal(ctx context.Context, p *Principal) error
	ListPrincipals(ctx context.Context) ([]*Principal, error)
	Ping(ctx context.Context) error
	Close() error
}
