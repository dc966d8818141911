// ABOUTME: Principal directory operations on the SQL store
// ABOUTME: Lookup by email, existence checks, creation and password hash updates

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// NormalizeEmail trims surrounding whitespace. Lookups stay case-sensitive.
func NormalizeEmail(email string) string {
	return strings.TrimSpace(email)
}

// CreatePrincipal inserts a new principal.
// Returns ErrDuplicateEmail if the email is already registered.
func (s *SQLStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	p.Email = NormalizeEmail(p.Email)

	query := s.rebind(`
		INSERT INTO principals (principal_id, email, password_hash, role, display_name, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.Email, p.PasswordHash, string(p.Role), p.DisplayName,
		p.CreatedAt.UnixNano(), p.UpdatedAt.UnixNano(),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("inserting principal: %w", err)
	}

	s.logger.Debug("created principal", "principal_id", p.ID, "role", p.Role)
	return nil
}

// GetPrincipalByEmail retrieves a principal by email.
// Returns ErrNotFound if no principal has that email.
func (s *SQLStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	query := s.rebind(`
		SELECT principal_id, email, password_hash, role, display_name, created_at, updated_at
		FROM principals
		WHERE email = ?
	`)
	p, err := scanPrincipal(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying principal: %w", err)
	}
	return p, nil
}

// PrincipalExists reports whether a principal with the email is registered
func (s *SQLStore) PrincipalExists(ctx context.Context, email string) (bool, error) {
	query := s.rebind(`SELECT 1 FROM principals WHERE email = ?`)
	var one int
	err := s.db.QueryRowContext(ctx, query, NormalizeEmail(email)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking principal: %w", err)
	}
	return true, nil
}

// UpdatePasswordHash replaces the stored password hash for email.
// Returns ErrNotFound if no principal has that email.
func (s *SQLStore) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	query := s.rebind(`UPDATE principals SET password_hash = ?, updated_at = ? WHERE email = ?`)
	result, err := s.db.ExecContext(ctx, query, passwordHash, time.Now().UTC().UnixNano(), NormalizeEmail(email))
	if err != nil {
		return fmt.Errorf("updating password hash: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPrincipals returns every principal ordered by email
func (s *SQLStore) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT principal_id, email, password_hash, role, display_name, created_at, updated_at
		FROM principals
		ORDER BY email
	`)
	if err != nil {
		return nil, fmt.Errorf("querying principals: %w", err)
	}
	defer rows.Close()

	var principals []*Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning principal: %w", err)
		}
		principals = append(principals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating principals: %w", err)
	}
	return principals, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (*Principal, error) {
	var (
		p                    Principal
		role                 string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &role, &p.DisplayName, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	r, err := ParseRole(role)
	if err != nil {
		return nil, err
	}
	p.Role = r
	p.CreatedAt = time.Unix(0, createdAt).UTC()
	p.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return &p, nil
}
