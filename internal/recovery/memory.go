// ABOUTME: In-memory recovery code store guarded by a single mutex
// ABOUTME: Evicts the oldest pending code at capacity and sweeps expired codes in the background

package recovery

import (
	"container/list"
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// memoryEntry stores a live code and its list element for eviction order.
type memoryEntry struct {
	code      string
	createdAt time.Time
	attempts  int
	element   *list.Element
}

// MemoryStore is a CodeStore for single-instance deployments.
// Codes do not survive a restart.
type MemoryStore struct {
	mu     sync.Mutex
	codes  map[string]*memoryEntry
	order  *list.List // emails in issue order (oldest at front)
	opts   Options
	done   chan struct{}
	closed bool
}

// NewMemoryStore creates a store and starts its background sweeper.
func NewMemoryStore(opts Options) *MemoryStore {
	s := &MemoryStore{
		codes: make(map[string]*memoryEntry),
		order: list.New(),
		opts:  opts.withDefaults(),
		done:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Issue generates a code for email, replacing any live one.
func (s *MemoryStore) Issue(ctx context.Context, email string) (string, error) {
	code, err := GenerateCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, exists := s.codes[email]; exists {
		s.removeLocked(email, entry)
	}
	if len(s.codes) >= s.opts.MaxPending {
		s.evictOldest()
	}

	s.codes[email] = &memoryEntry{
		code:      code,
		createdAt: s.opts.Now(),
		element:   s.order.PushBack(email),
	}
	return code, nil
}

// Consume checks code against the live code for email and deletes it on match.
func (s *MemoryStore) Consume(ctx context.Context, email, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.codes[email]
	if !ok {
		return false, nil
	}
	if !s.opts.Now().Before(entry.createdAt.Add(s.opts.TTL)) {
		s.removeLocked(email, entry)
		return false, nil
	}

	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) == 1 {
		s.removeLocked(email, entry)
		return true, nil
	}

	entry.attempts++
	if entry.attempts >= s.opts.MaxAttempts {
		s.removeLocked(email, entry)
	}
	return false, nil
}

// Len returns the number of live codes
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.codes)
}

// removeLocked deletes an entry. Must be called with mu held.
func (s *MemoryStore) removeLocked(email string, entry *memoryEntry) {
	s.order.Remove(entry.element)
	delete(s.codes, email)
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (s *MemoryStore) evictOldest() {
	front := s.order.Front()
	if front == nil {
		return
	}
	email, _ := front.Value.(string)
	s.order.Remove(front)
	delete(s.codes, email)
}

// sweep runs in a background goroutine, periodically removing expired codes.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.purgeExpired()
		case <-s.done:
			return
		}
	}
}

// purgeExpired removes every code older than the TTL.
func (s *MemoryStore) purgeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.opts.Now().Add(-s.opts.TTL)
	// Issue order is creation order, so stop at the first live code.
	for front := s.order.Front(); front != nil; front = s.order.Front() {
		email, _ := front.Value.(string)
		entry := s.codes[email]
		if entry.createdAt.After(cutoff) {
			return
		}
		s.removeLocked(email, entry)
	}
}

// Close stops the background sweeper. It is safe to call multiple times.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		close(s.done)
		s.closed = true
	}
	return nil
}

// Ensure MemoryStore implements CodeStore
var _ CodeStore = (*MemoryStore)(nil)
