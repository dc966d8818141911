// Package store provides the principal directory and recovery code persistence
// for the gateway.
//
// # Architecture
//
// The package is interface-driven:
//
//   - Directory: the read side authentication needs, plus password updates
//   - RecoveryCodeStore: durable storage for password recovery codes
//   - Store: both of the above plus principal creation and lifecycle
//
// SQLStore implements Store on database/sql with two backends:
//
//   - SQLite through modernc.org/sqlite (pure Go, default)
//   - PostgreSQL through the pgx stdlib driver
//
// # Roles
//
// Role is a closed set: RoleAdmin ("admin") and RoleUser ("usuario").
// ParseRole accepts the legacy "ROLE_" prefixed form that older rows and
// tokens carry and normalizes it. Unknown values are rejected with
// ErrUnknownRole rather than passed through.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
//   - ErrNotFound: requested entity does not exist
//   - ErrDuplicateEmail: a principal with that email already exists
//   - ErrUnknownRole: role string outside the canonical set
//
// # Testing
//
// Use NewMockStore() for unit tests and NewSQLiteStore on a t.TempDir() path
// for integration tests.
//
// # Migrations
//
// Migrations are embedded and applied with goose on open.
// Migration files are in internal/store/migrations/ with numeric prefixes.
package store
