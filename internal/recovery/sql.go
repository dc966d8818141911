// ABOUTME: Database-backed recovery code store for multi-instance deployments
// ABOUTME: Delegates atomic upsert and conditional delete to the store package

package recovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/huerto-gateway/internal/store"
)

// SQLStore keeps recovery codes in the recovery_codes table so every gateway
// instance sharing the database sees the same codes.
type SQLStore struct {
	codes  store.RecoveryCodeStore
	opts   Options
	logger *slog.Logger
	done   chan struct{}
	closed chan struct{}
	once   sync.Once
}

// NewSQLStore wraps codes and starts a purge loop for expired rows.
func NewSQLStore(codes store.RecoveryCodeStore, opts Options, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &SQLStore{
		codes:  codes,
		opts:   opts.withDefaults(),
		logger: logger.With("component", "recovery"),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go s.purgeLoop()
	return s
}

// Issue generates a code for email and upserts it.
func (s *SQLStore) Issue(ctx context.Context, email string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}
	if err := s.codes.PutRecoveryCode(ctx, &store.RecoveryCode{
		Email:     email,
		Code:      code,
		CreatedAt: s.opts.Now().UTC(),
	}); err != nil {
		return "", err
	}
	return code, nil
}

// Consume deletes the code for email if it matches and has not expired.
func (s *SQLStore) Consume(ctx context.Context, email, code string) (bool, error) {
	// A code created exactly TTL ago is already expired.
	notBefore := s.opts.Now().UTC().Add(-s.opts.TTL).Add(time.Nanosecond)
	return s.codes.TakeRecoveryCode(ctx, email, code, notBefore, s.opts.MaxAttempts)
}

func (s *SQLStore) purgeLoop() {
	defer close(s.closed)
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			n, err := s.codes.PurgeRecoveryCodes(ctx, s.opts.Now().UTC().Add(-s.opts.TTL))
			cancel()
			if err != nil {
				s.logger.Warn("purging expired recovery codes", "error", err)
			} else if n > 0 {
				s.logger.Debug("purged expired recovery codes", "count", n)
			}
		case <-s.done:
			return
		}
	}
}

// Close stops the purge loop and waits for it to exit.
func (s *SQLStore) Close() error {
	s.once.Do(func() { close(s.done) })
	<-s.closed
	return nil
}

// Ensure SQLStore implements CodeStore
var _ CodeStore = (*SQLStore)(nil)
