// ABOUTME: Password recovery code store contract and shared options
// ABOUTME: Codes are six random digits, single use, with a TTL and an attempt cap

package recovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// Defaults applied when Options leave a field zero
const (
	DefaultTTL         = 15 * time.Minute
	DefaultMaxAttempts = 5
	DefaultMaxPending  = 10000
)

const (
	codeMin   = 100000
	codeRange = 900000 // codes are in [100000, 999999]
)

// CodeStore issues and consumes recovery codes.
// Implementations give per-email atomic upsert and check-and-delete.
type CodeStore interface {
	// Issue generates a code for email, replacing any live one.
	Issue(ctx context.Context, email string) (string, error)
	// Consume returns true exactly once for a live matching code.
	Consume(ctx context.Context, email, code string) (bool, error)
	Close() error
}

// Options configures code lifetime and guessing limits
type Options struct {
	TTL         time.Duration
	MaxAttempts int // failed consumes before the code is burned
	MaxPending  int // memory store only; oldest codes are evicted past this
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.MaxPending <= 0 {
		o.MaxPending = DefaultMaxPending
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// GenerateCode returns a uniformly random six digit code.
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeRange))
	if err != nil {
		return "", fmt.Errorf("generating recovery code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}
