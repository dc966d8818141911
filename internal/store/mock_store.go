// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without a database

package store

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type mockRecoveryCode struct {
	code     RecoveryCode
	attempts int
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	principals map[string]*Principal // keyed by normalized email
	codes      map[string]*mockRecoveryCode

	// LookupErr, when set, is returned by every directory read.
	LookupErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		principals: make(map[string]*Principal),
		codes:      make(map[string]*mockRecoveryCode),
	}
}

// CreatePrincipal stores a new principal.
func (m *MockStore) CreatePrincipal(ctx context.Context, p *Principal) error {
	if _, err := ParseRole(string(p.Role)); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	email := NormalizeEmail(p.Email)
	if _, exists := m.principals[email]; exists {
		return ErrDuplicateEmail
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	p.Email = email

	// Make a copy to avoid external modification
	c := *p
	m.principals[email] = &c
	return nil
}

// GetPrincipalByEmail retrieves a principal by email.
func (m *MockStore) GetPrincipalByEmail(ctx context.Context, email string) (*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LookupErr != nil {
		return nil, m.LookupErr
	}
	p, ok := m.principals[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *p
	return &c, nil
}

// PrincipalExists reports whether the email is registered.
func (m *MockStore) PrincipalExists(ctx context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.LookupErr != nil {
		return false, m.LookupErr
	}
	_, ok := m.principals[NormalizeEmail(email)]
	return ok, nil
}

// UpdatePasswordHash replaces the password hash for email.
func (m *MockStore) UpdatePasswordHash(ctx context.Context, email, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[NormalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	p.PasswordHash = passwordHash
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// SetRole changes a principal's role. Tests use it to simulate a role change
// after a token was issued.
func (m *MockStore) SetRole(email string, role Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.principals[NormalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	p.Role = role
	return nil
}

// DeletePrincipal removes a principal. Tests use it to simulate an account
// deleted after a token was issued.
func (m *MockStore) DeletePrincipal(email string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.principals, NormalizeEmail(email))
}

// ListPrincipals returns all principals ordered by email.
func (m *MockStore) ListPrincipals(ctx context.Context) ([]*Principal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Principal, 0, len(m.principals))
	for _, p := range m.principals {
		c := *p
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Email < result[j].Email
	})
	return result, nil
}

// PutRecoveryCode stores or replaces the code for rc.Email.
func (m *MockStore) PutRecoveryCode(ctx context.Context, rc *RecoveryCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now().UTC()
	}
	c := *rc
	c.Email = NormalizeEmail(rc.Email)
	m.codes[c.Email] = &mockRecoveryCode{code: c}
	return nil
}

// TakeRecoveryCode consumes the code for email if it matches and is fresh.
func (m *MockStore) TakeRecoveryCode(ctx context.Context, email, code string, notBefore time.Time, maxAttempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	email = NormalizeEmail(email)
	entry, ok := m.codes[email]
	if !ok {
		return false, nil
	}
	if entry.code.CreatedAt.Before(notBefore) {
		delete(m.codes, email)
		return false, nil
	}
	if entry.code.Code == code {
		delete(m.codes, email)
		return true, nil
	}
	entry.attempts++
	if maxAttempts > 0 && entry.attempts >= maxAttempts {
		delete(m.codes, email)
	}
	return false, nil
}

// PurgeRecoveryCodes removes codes created before olderThan.
func (m *MockStore) PurgeRecoveryCodes(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for email, entry := range m.codes {
		if entry.code.CreatedAt.Before(olderThan) {
			delete(m.codes, email)
			n++
		}
	}
	return n, nil
}

// Ping always succeeds unless LookupErr is set.
func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.LookupErr != nil {
		return errors.Join(errors.New("mock store unavailable"), m.LookupErr)
	}
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
