// ABOUTME: Tests for principal directory operations on the SQL store
// ABOUTME: Covers creation, email lookup, duplicates, existence and password updates

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalStore_Create(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	p := &Principal{
		ID:           "principal-123",
		Email:        " ana@example.com ",
		PasswordHash: "$2a$10$hash",
		Role:         RoleAdmin,
		DisplayName:  "Ana",
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, store.CreatePrincipal(ctx, p))

	retrieved, err := store.GetPrincipalByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "principal-123", retrieved.ID)
	assert.Equal(t, "ana@example.com", retrieved.Email)
	assert.Equal(t, "$2a$10$hash", retrieved.PasswordHash)
	assert.Equal(t, RoleAdmin, retrieved.Role)
	assert.Equal(t, "Ana", retrieved.DisplayName)
	assert.True(t, p.CreatedAt.Equal(retrieved.CreatedAt))
}

func TestPrincipalStore_Create_DuplicateEmail(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePrincipal(ctx, &Principal{
		ID: "principal-1", Email: "dup@example.com", PasswordHash: "h", Role: RoleUser,
	}))

	err := store.CreatePrincipal(ctx, &Principal{
		ID: "principal-2", Email: "dup@example.com", PasswordHash: "h", Role: RoleUser,
	})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestPrincipalStore_LookupIsCaseSensitive(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePrincipal(ctx, &Principal{
		ID: "principal-1", Email: "ana@example.com", PasswordHash: "h", Role: RoleUser,
	}))

	_, err := store.GetPrincipalByEmail(ctx, "ANA@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrincipalStore_Create_RejectsUnknownRole(t *testing.T) {
	store := setupTestStore(t)

	err := store.CreatePrincipal(context.Background(), &Principal{
		ID: "principal-1", Email: "x@example.com", PasswordHash: "h", Role: Role("root"),
	})
	assert.ErrorIs(t, err, ErrUnknownRole)
}

func TestPrincipalStore_GetByEmail_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetPrincipalByEmail(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrincipalStore_LegacyRoleColumn(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	// Rows written by older deployments carry the ROLE_ prefix
	_, err := store.db.ExecContext(ctx, `
		INSERT INTO principals (principal_id, email, password_hash, role, display_name, created_at, updated_at)
		VALUES ('legacy-1', 'old@example.com', 'h', 'ROLE_admin', '', 0, 0)
	`)
	require.NoError(t, err)

	p, err := store.GetPrincipalByEmail(ctx, "old@example.com")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, p.Role)
}

func TestPrincipalStore_Exists(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	exists, err := store.PrincipalExists(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.CreatePrincipal(ctx, &Principal{
		ID: "p-1", Email: "ana@example.com", PasswordHash: "h", Role: RoleUser,
	}))

	exists, err = store.PrincipalExists(ctx, " ana@example.com ")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestPrincipalStore_UpdatePasswordHash(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreatePrincipal(ctx, &Principal{
		ID: "p-1", Email: "ana@example.com", PasswordHash: "old", Role: RoleUser,
	}))

	require.NoError(t, store.UpdatePasswordHash(ctx, "ana@example.com", "new"))

	p, err := store.GetPrincipalByEmail(ctx, "ana@example.com")
	require.NoError(t, err)
	assert.Equal(t, "new", p.PasswordHash)

	err = store.UpdatePasswordHash(ctx, "nobody@example.com", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrincipalStore_List(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for i, email := range []string{"zoe@example.com", "ana@example.com"} {
		require.NoError(t, store.CreatePrincipal(ctx, &Principal{
			ID: string(rune('a' + i)), Email: email, PasswordHash: "h", Role: RoleUser,
		}))
	}

	list, err := store.ListPrincipals(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "ana@example.com", list[0].Email)
	assert.Equal(t, "zoe@example.com", list[1].Email)
}
