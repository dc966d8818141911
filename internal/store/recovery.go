// ABOUTME: Recovery code persistence on the SQL store
// ABOUTME: Upserts codes per email and consumes them with a single atomic delete

package store

import (
	"context"
	"fmt"
	"math"
	"time"
)

// PutRecoveryCode inserts the code for rc.Email, replacing any previous code
// and resetting its attempt counter.
func (s *SQLStore) PutRecoveryCode(ctx context.Context, rc *RecoveryCode) error {
	if rc.CreatedAt.IsZero() {
		rc.CreatedAt = time.Now().UTC()
	}
	query := s.rebind(`
		INSERT INTO recovery_codes (email, code, created_at, attempts)
		VALUES (?, ?, ?, 0)
		ON CONFLICT (email) DO UPDATE SET
			code = excluded.code,
			created_at = excluded.created_at,
			attempts = 0
	`)
	if _, err := s.db.ExecContext(ctx, query, NormalizeEmail(rc.Email), rc.Code, rc.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("storing recovery code: %w", err)
	}
	return nil
}

// TakeRecoveryCode consumes the code for email. The delete is the only
// statement that can succeed for a given code, so concurrent callers
// presenting the same code see exactly one true.
func (s *SQLStore) TakeRecoveryCode(ctx context.Context, email, code string, notBefore time.Time, maxAttempts int) (bool, error) {
	email = NormalizeEmail(email)
	if maxAttempts <= 0 {
		maxAttempts = math.MaxInt32
	}

	result, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM recovery_codes WHERE email = ? AND code = ? AND created_at >= ?`),
		email, code, notBefore.UnixNano(),
	)
	if err != nil {
		return false, fmt.Errorf("consuming recovery code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	if rows == 1 {
		return true, nil
	}

	// Miss: count the attempt, then drop the code if it is spent or stale.
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE recovery_codes SET attempts = attempts + 1 WHERE email = ?`),
		email,
	); err != nil {
		return false, fmt.Errorf("recording recovery attempt: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM recovery_codes WHERE email = ? AND (attempts >= ? OR created_at < ?)`),
		email, maxAttempts, notBefore.UnixNano(),
	); err != nil {
		return false, fmt.Errorf("expiring recovery code: %w", err)
	}
	return false, nil
}

// PurgeRecoveryCodes deletes codes created before olderThan
func (s *SQLStore) PurgeRecoveryCodes(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM recovery_codes WHERE created_at < ?`),
		olderThan.UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("purging recovery codes: %w", err)
	}
	return result.RowsAffected()
}
